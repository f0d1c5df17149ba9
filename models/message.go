package models

import (
	"time"

	"github.com/google/uuid"
)

// Направления сообщения
const (
	DirectionIn  = "in"  // от клиента к сотрудникам
	DirectionOut = "out" // от сотрудников к клиенту
)

// Message представляет собой запись журнала об одном пересланном сообщении.
// Записи только добавляются; подсистема никогда не изменяет и не удаляет их.
type Message struct {
	ID                uuid.UUID `json:"id"`
	TicketID          uuid.UUID `json:"ticketId"`
	Direction         string    `json:"direction"` // "in" или "out"
	ExternalMessageID string    `json:"externalMessageId,omitempty"`
	Text              string    `json:"text,omitempty"`
	MediaKind         string    `json:"mediaKind,omitempty"` // "photo", "document" и т.п., пусто для текста
	CreatedAt         time.Time `json:"createdAt"`
}

// IncomingMessage представляет собой входящее сообщение из вебхука чат-транспорта
type IncomingMessage struct {
	UserID    string `json:"userId" binding:"required"` // ID пользователя в мессенджере
	UserName  string `json:"userName"`
	Text      string `json:"text"`
	MediaKind string `json:"mediaKind,omitempty"`
	MessageID string `json:"messageId,omitempty"` // ID сообщения в мессенджере
}
