package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/raid177/supportdesk/metrics"
	"github.com/raid177/supportdesk/models"
)

// Webhook обрабатывает входящее сообщение клиента из чат-транспорта.
// Транзиентные сбои доставки клиенту не показываются: транспорт повторит
// вебхук, а движок — доставку при следующем сообщении.
func (h *Handler) Webhook(c *gin.Context) {
	var in models.IncomingMessage
	if err := c.ShouldBindJSON(&in); err != nil {
		log.Printf("Webhook: ошибка парсинга JSON: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if in.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId обязателен"})
		return
	}

	// Ограничение частоты на пользователя (если настроен Redis)
	allowed, err := h.Limiter.Allow(c.Request.Context(), "webhook:"+in.UserID,
		h.Cfg.WebhookRateLimit, h.Cfg.WebhookRateWindow)
	if err != nil {
		// Redis недоступен — пропускаем, лимитер не должен ронять приём
		log.Printf("Webhook: лимитер недоступен: %v", err)
	} else if !allowed {
		metrics.RateLimitHits.WithLabelValues("webhook").Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "слишком много сообщений"})
		return
	}

	ticket, msg, err := h.Relay.RelayInbound(c.Request.Context(), in)
	if err != nil {
		log.Printf("Webhook: RelayInbound: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "message processed",
		"ticket_id":  ticket.ID.String(),
		"message_id": msg.ID.String(),
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}
