package websocket

import (
	"encoding/json"

	"github.com/raid177/supportdesk/models"
)

// Envelope — типизированный конверт уведомления для панели операторов
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage создает конверт с указанным типом и данными
func NewMessage(messageType string, payload any) ([]byte, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: messageType, Payload: payloadJSON})
}

// NewRelayedMessage — уведомление о пересланном сообщении в тикете
func NewRelayedMessage(ticket *models.Ticket, message *models.Message) ([]byte, error) {
	payload := struct {
		Ticket  *models.Ticket  `json:"ticket"`
		Message *models.Message `json:"message"`
	}{
		Ticket:  ticket,
		Message: message,
	}
	return NewMessage("new_message", payload)
}

// NewTicketUpdated — уведомление об изменении тикета (статус, назначение)
func NewTicketUpdated(ticket *models.Ticket) ([]byte, error) {
	return NewMessage("ticket_updated", ticket)
}

// NewEscalationAlert — уведомление об эскалации неназначенного тикета
func NewEscalationAlert(ticket *models.Ticket, waitingMinutes int) ([]byte, error) {
	payload := struct {
		Ticket         *models.Ticket `json:"ticket"`
		WaitingMinutes int            `json:"waitingMinutes"`
		// Подсказка панели: команда назначения в один клик
		AssignCommand string `json:"assignCommand"`
	}{
		Ticket:         ticket,
		WaitingMinutes: waitingMinutes,
		AssignCommand:  "/take " + ticket.ID.String(),
	}
	return NewMessage("escalation_alert", payload)
}
