package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/raid177/supportdesk/middleware"
)

// Login обрабатывает авторизацию сотрудников поддержки
func (h *Handler) Login(c *gin.Context) {
	var credentials struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&credentials); err != nil {
		log.Printf("Ошибка парсинга данных для авторизации: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	log.Printf("Попытка авторизации для пользователя: %s", credentials.Email)

	token, err := middleware.Authenticate(c.Request.Context(), h.Store, credentials.Email, credentials.Password)
	if err != nil {
		log.Printf("Ошибка аутентификации для %s: %v", credentials.Email, err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	agent, err := h.Store.GetAgentByEmail(c.Request.Context(), credentials.Email)
	if err != nil || agent == nil {
		log.Printf("Ошибка получения данных сотрудника %s: %v", credentials.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка получения данных пользователя"})
		return
	}

	agent.PasswordHash = ""

	log.Printf("Успешная авторизация сотрудника: %s (ID: %s)", agent.Email, agent.ID)
	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"agent": agent,
	})
}
