package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/raid177/supportdesk/database"
	"github.com/raid177/supportdesk/models"
	"github.com/raid177/supportdesk/transport"
	"github.com/raid177/supportdesk/websocket"
)

// ChannelPost — сообщение сотрудника в привязанном канале (вебхук транспорта)
type ChannelPost struct {
	ChannelID string `json:"channelId" binding:"required"`
	UserID    string `json:"userId" binding:"required"` // ID сотрудника в мессенджере
	Text      string `json:"text"`
	MessageID string `json:"messageId,omitempty"`
}

// ChannelPostHandler обрабатывает исходящее событие: сотрудник написал
// в канале тикета. Команды (/take, /close, /reopen, /snooze) перехватываются
// до Relay Engine и уходят в Lifecycle Manager — сырой текст команды никогда
// не пересылается клиенту как сообщение.
func (h *Handler) ChannelPostHandler(c *gin.Context) {
	var post ChannelPost
	if err := c.ShouldBindJSON(&post); err != nil {
		log.Printf("ChannelPost: ошибка парсинга JSON: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Писать от имени поддержки могут только идентичности из ACL
	if !h.ACL.IsAllowed(c.Request.Context(), post.UserID) {
		log.Printf("ChannelPost: идентичность %s не входит в ACL, игнорируем", post.UserID)
		c.JSON(http.StatusForbidden, gin.H{"error": "доступ запрещён"})
		return
	}

	if strings.HasPrefix(post.Text, "/") {
		h.handleCommand(c, post)
		return
	}

	// Числовая идентичность — фолбэк происхождения, если у сотрудника
	// нет записи в базе
	var senderID *uuid.UUID
	if agent, err := h.Store.GetAgentByChatID(c.Request.Context(), post.UserID); err != nil {
		log.Printf("ChannelPost: поиск сотрудника %s: %v", post.UserID, err)
	} else if agent != nil {
		senderID = &agent.ID
	}

	ticket, err := h.Relay.RelayOutbound(c.Request.Context(),
		post.ChannelID, post.Text, senderID, post.UserID, post.MessageID)
	if err != nil {
		if errors.Is(err, database.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "канал не привязан к тикету"})
			return
		}
		log.Printf("ChannelPost: RelayOutbound: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "message relayed",
		"ticket_id": ticket.ID.String(),
	})
}

// handleCommand разбирает команду сотрудника и выполняет переход состояния.
// Неудавшийся переход получает явный отказ — и в ответе, и в канале.
func (h *Handler) handleCommand(c *gin.Context, post ChannelPost) {
	ctx := c.Request.Context()
	fields := strings.Fields(post.Text)
	cmd := fields[0]

	ticket, err := h.resolveCommandTicket(c, post, fields)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ticket == nil {
		h.ackCommand(c, post.ChannelID, "Тикет не найден")
		return
	}

	switch cmd {
	case "/take":
		agent, err := h.Store.GetAgentByChatID(ctx, post.UserID)
		if err != nil || agent == nil {
			h.ackCommand(c, post.ChannelID, "Не нашли вас среди сотрудников — назначение невозможно")
			return
		}
		if err := h.Lifecycle.Assign(ctx, ticket.ID, agent.ID); err != nil {
			h.ackCommand(c, post.ChannelID, "Не удалось взять тикет: "+err.Error())
			return
		}
		h.broadcastTicket(ctx, ticket.ID)
		h.ackCommand(c, post.ChannelID, "Тикет взят в работу: "+agent.Name())

	case "/close":
		if err := h.Lifecycle.Close(ctx, ticket.ID); err != nil {
			h.ackCommand(c, post.ChannelID, "Не удалось закрыть тикет: "+err.Error())
			return
		}
		h.broadcastTicket(ctx, ticket.ID)
		h.ackCommand(c, post.ChannelID, "Тикет закрыт")

	case "/reopen":
		if err := h.Lifecycle.Reopen(ctx, ticket.ID); err != nil {
			h.ackCommand(c, post.ChannelID, "Не удалось переоткрыть тикет: "+err.Error())
			return
		}
		h.broadcastTicket(ctx, ticket.ID)
		h.ackCommand(c, post.ChannelID, "Тикет переоткрыт")

	case "/snooze":
		minutes := 60
		if len(fields) > 1 {
			if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
				minutes = n
			}
		}
		until := time.Now().Add(time.Duration(minutes) * time.Minute)
		if err := h.Lifecycle.Snooze(ctx, ticket.ID, until); err != nil {
			h.ackCommand(c, post.ChannelID, "Не удалось отложить тикет: "+err.Error())
			return
		}
		h.ackCommand(c, post.ChannelID, "Тикет отложен на "+strconv.Itoa(minutes)+" минут")

	default:
		h.ackCommand(c, post.ChannelID, "Неизвестная команда: "+cmd)
	}
}

// resolveCommandTicket находит тикет команды: по аргументу-UUID
// (как в подсказке эскалации «/take <id>») либо по каналу, где команда дана
func (h *Handler) resolveCommandTicket(c *gin.Context, post ChannelPost, fields []string) (*models.Ticket, error) {
	ctx := c.Request.Context()
	if len(fields) > 1 {
		if id, err := uuid.Parse(fields[1]); err == nil {
			return h.Store.GetTicket(ctx, id)
		}
	}
	return h.Store.GetTicketByChannel(ctx, post.ChannelID)
}

// ackCommand подтверждает команду в канале (best-effort) и в HTTP-ответе
func (h *Handler) ackCommand(c *gin.Context, channelID, text string) {
	if _, err := h.Transport.SendMessage(c.Request.Context(), transport.ChannelTarget(channelID), text); err != nil {
		log.Printf("ChannelPost: подтверждение не доставлено: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "command processed", "ack": text})
}

// broadcastTicket рассылает панели обновлённое состояние тикета
func (h *Handler) broadcastTicket(ctx context.Context, id uuid.UUID) {
	t, err := h.Store.GetTicket(ctx, id)
	if err != nil || t == nil {
		return
	}
	if data, err := websocket.NewTicketUpdated(t); err == nil {
		h.Hub.BroadcastMessage(data)
	}
}
