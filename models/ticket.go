package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы тикета
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusClosed     = "closed"
)

// Ticket представляет собой обращение клиента в поддержку.
// Для одного клиента в любой момент может существовать не более
// одного тикета со статусом open или in_progress.
type Ticket struct {
	ID         uuid.UUID  `json:"id"`
	ClientID   uuid.UUID  `json:"clientId"`
	ChannelID  *string    `json:"channelId,omitempty"`  // канал на стороне сотрудников, может отсутствовать
	Label      string     `json:"label"`                // отображаемое имя тикета (по умолчанию имя клиента)
	Status     string     `json:"status"`               // "open", "in_progress", "closed"
	AssignedTo *uuid.UUID `json:"assignedTo,omitempty"` // назначенный сотрудник
	CreatedAt  time.Time  `json:"createdAt"`
	ClosedAt   *time.Time `json:"closedAt,omitempty"` // заполнен тогда и только тогда, когда Status == closed

	// Водяные знаки для детектора простоя
	LastClientMsgAt *time.Time `json:"lastClientMsgAt,omitempty"`
	LastStaffMsgAt  *time.Time `json:"lastStaffMsgAt,omitempty"`

	// Водяные знаки для ограничения частоты уведомлений
	LastReminderAt        *time.Time `json:"lastReminderAt,omitempty"`
	LastUnassignedAlertAt *time.Time `json:"lastUnassignedAlertAt,omitempty"`

	// Пока SnoozeUntil в будущем, оба планировщика пропускают тикет
	SnoozeUntil *time.Time `json:"snoozeUntil,omitempty"`
}

// Active сообщает, находится ли тикет в работе (open или in_progress)
func (t *Ticket) Active() bool {
	return t.Status == StatusOpen || t.Status == StatusInProgress
}

// Snoozed сообщает, отложен ли тикет на момент now
func (t *Ticket) Snoozed(now time.Time) bool {
	return t.SnoozeUntil != nil && t.SnoozeUntil.After(now)
}

// ClientLastSpoke сообщает, что последнее слово за клиентом:
// клиент писал, и сотрудник ещё не ответил после этого.
func (t *Ticket) ClientLastSpoke() bool {
	if t.LastClientMsgAt == nil {
		return false
	}
	return t.LastStaffMsgAt == nil || t.LastClientMsgAt.After(*t.LastStaffMsgAt)
}
