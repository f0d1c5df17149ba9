package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/raid177/supportdesk/database"
	"github.com/raid177/supportdesk/lifecycle"
)

// GetTickets возвращает все незакрытые тикеты для панели операторов
func (h *Handler) GetTickets(c *gin.Context) {
	tickets, err := h.Store.ListActiveTickets(c.Request.Context())
	if err != nil {
		log.Printf("GetTickets: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка получения тикетов: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": tickets, "total": len(tickets)})
}

// GetTicketMessages возвращает журнал сообщений тикета
func (h *Handler) GetTicketMessages(c *gin.Context) {
	ticketID, ok := h.ticketID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	messages, err := h.Store.ListMessages(c.Request.Context(), ticketID, limit)
	if err != nil {
		log.Printf("GetTicketMessages: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": messages})
}

// Reply отправляет ответ сотрудника клиенту тикета (путь панели операторов).
// Текст, начинающийся с «/», пересылке не подлежит.
func (h *Handler) Reply(c *gin.Context) {
	ticketID, ok := h.ticketID(c)
	if !ok {
		return
	}

	var body struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.HasPrefix(body.Text, "/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "команды отправляются через свои эндпоинты, а не как текст"})
		return
	}

	ticket, err := h.Store.GetTicket(c.Request.Context(), ticketID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ticket == nil || ticket.ChannelID == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "тикет не найден или не привязан к каналу"})
		return
	}

	agentID := h.currentAgentID(c)
	if _, err := h.Relay.RelayOutbound(c.Request.Context(),
		*ticket.ChannelID, body.Text, agentID, c.GetString("agentID"), ""); err != nil {
		log.Printf("Reply: RelayOutbound: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "message relayed"})
}

// Assign назначает тикет: себе, либо явно указанному сотруднику
func (h *Handler) Assign(c *gin.Context) {
	ticketID, ok := h.ticketID(c)
	if !ok {
		return
	}

	var body struct {
		AgentID string `json:"agentId"`
	}
	_ = c.ShouldBindJSON(&body)

	agentID := h.currentAgentID(c)
	if body.AgentID != "" {
		parsed, err := uuid.Parse(body.AgentID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "некорректный agentId"})
			return
		}
		agentID = &parsed
	}
	if agentID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agentId обязателен"})
		return
	}

	h.lifecycleCall(c, ticketID, func() error {
		return h.Lifecycle.Assign(c.Request.Context(), ticketID, *agentID)
	})
}

// CloseTicket закрывает тикет
func (h *Handler) CloseTicket(c *gin.Context) {
	ticketID, ok := h.ticketID(c)
	if !ok {
		return
	}
	h.lifecycleCall(c, ticketID, func() error {
		return h.Lifecycle.Close(c.Request.Context(), ticketID)
	})
}

// ReopenTicket переоткрывает закрытый тикет
func (h *Handler) ReopenTicket(c *gin.Context) {
	ticketID, ok := h.ticketID(c)
	if !ok {
		return
	}
	h.lifecycleCall(c, ticketID, func() error {
		return h.Lifecycle.Reopen(c.Request.Context(), ticketID)
	})
}

// SnoozeTicket откладывает тикет на N минут
func (h *Handler) SnoozeTicket(c *gin.Context) {
	ticketID, ok := h.ticketID(c)
	if !ok {
		return
	}

	var body struct {
		Minutes int `json:"minutes" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Minutes <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minutes должен быть положительным"})
		return
	}

	until := time.Now().Add(time.Duration(body.Minutes) * time.Minute)
	h.lifecycleCall(c, ticketID, func() error {
		return h.Lifecycle.Snooze(c.Request.Context(), ticketID, until)
	})
}

// lifecycleCall выполняет переход состояния и отвечает оператору:
// недопустимый переход — явный отказ, остальное — 500
func (h *Handler) lifecycleCall(c *gin.Context, ticketID uuid.UUID, fn func() error) {
	if err := fn(); err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, database.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "тикет не найден"})
			return
		}
		log.Printf("lifecycleCall: тикет %s: %v", ticketID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.broadcastTicket(c.Request.Context(), ticketID)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) ticketID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "некорректный ID тикета"})
		return uuid.Nil, false
	}
	return id, true
}

// currentAgentID достаёт UUID сотрудника из контекста аутентификации
func (h *Handler) currentAgentID(c *gin.Context) *uuid.UUID {
	raw := c.GetString("agentID")
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}
