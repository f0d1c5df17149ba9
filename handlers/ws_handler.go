package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/raid177/supportdesk/middleware"
	"github.com/raid177/supportdesk/websocket"
)

// ServeWs подключает панель оператора к хабу уведомлений.
// Браузерный WebSocket не умеет заголовки, поэтому токен идёт query-параметром.
func (h *Handler) ServeWs(c *gin.Context) {
	token := c.Query("token")
	claims, err := middleware.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "неверный или устаревший токен"})
		return
	}

	if !h.ACL.IsAllowed(c.Request.Context(), claims.AgentID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "доступ запрещён"})
		return
	}

	agentID, err := uuid.Parse(claims.AgentID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "некорректный ID сотрудника"})
		return
	}

	log.Printf("WS: подключение оператора %s", agentID)
	websocket.ServeWs(h.Hub, c.Writer, c.Request, agentID)
}
