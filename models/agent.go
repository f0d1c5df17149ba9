package models

import (
	"time"

	"github.com/google/uuid"
)

// Agent представляет собой сотрудника поддержки
type Agent struct {
	ID           uuid.UUID `json:"id"`
	DisplayName  string    `json:"displayName"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash,omitempty"`
	Role         string    `json:"role"`             // "admin", "support" и т.п.
	ChatID       string    `json:"chatId,omitempty"` // ID сотрудника в мессенджере, для прямых уведомлений
	Active       bool      `json:"active"`           // только активные сотрудники участвуют в назначении и ACL
}

// Name возвращает отображаемое имя сотрудника с фолбэком на числовую идентичность
func (a *Agent) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	if a.ChatID != "" {
		return a.ChatID
	}
	return a.ID.String()
}

// Client представляет собой конечного пользователя (клиента поддержки).
// Создаётся лениво при первом входящем сообщении.
type Client struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	ExternalID string     `json:"externalId"` // ID пользователя в мессенджере, он же адрес доставки
	Phone      *string    `json:"phone,omitempty"`
	ConsentAt  *time.Time `json:"consentAt,omitempty"`
	OwnerRef   *string    `json:"ownerRef,omitempty"` // ссылка на владельца во внешней учётной системе
	CreatedAt  time.Time  `json:"createdAt"`
}
