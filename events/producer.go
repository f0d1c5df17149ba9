package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/raid177/supportdesk/models"
)

// События жизненного цикла тикета
const (
	TicketCreated  = "ticket_created"
	TicketAssigned = "ticket_assigned"
	TicketClosed   = "ticket_closed"
	TicketReopened = "ticket_reopened"
)

// Producer пишет события жизненного цикла тикетов в топик Kafka
// (best-effort, никогда не блокирует основной путь).
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer создаёт продюсер. Если brokers или topic пустые — методы no-op.
func NewProducer(brokers []string, topic string) *Producer {
	if len(brokers) == 0 || topic == "" {
		return &Producer{}
	}
	return &Producer{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish отправляет событие по тикету. Ошибки логируются и проглатываются.
func (p *Producer) Publish(ctx context.Context, event string, t *models.Ticket) {
	if p.writer == nil {
		return
	}
	payload := map[string]any{
		"event":     event,
		"ticket_id": t.ID.String(),
		"client_id": t.ClientID.String(),
		"status":    t.Status,
		"at":        time.Now().Format(time.RFC3339),
	}
	if t.AssignedTo != nil {
		payload["assigned_to"] = t.AssignedTo.String()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("kafka: маршалинг события %s: %v", event, err)
		return
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(t.ID.String()),
		Value: body,
	}); err != nil {
		log.Printf("kafka: отправка события %s: %v", event, err)
	}
}

// Close закрывает writer
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
