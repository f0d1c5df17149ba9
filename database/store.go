package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/raid177/supportdesk/models"
)

// ErrTicketNotFound возвращается операциями над несуществующим тикетом
var ErrTicketNotFound = errors.New("тикет не найден")

// Store — интерфейс хранилища тикетов, сообщений и сотрудников.
// Реализуется SQLStore; в тестах подменяется in-memory фейком.
// Хранилище не содержит бизнес-правил: только чтение и запись.
type Store interface {
	Close()
	Ping(ctx context.Context) error

	// Тикеты
	GetTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error)
	GetTicketByChannel(ctx context.Context, channelID string) (*models.Ticket, error)
	GetActiveTicketByClient(ctx context.Context, clientID uuid.UUID) (*models.Ticket, error)
	GetLatestTicketByClient(ctx context.Context, clientID uuid.UUID) (*models.Ticket, error)
	// CreateTicket вставляет новый тикет. При гонке за частичный уникальный
	// индекс (один активный тикет на клиента) возвращает строку-победителя.
	CreateTicket(ctx context.Context, t *models.Ticket) (*models.Ticket, error)
	ListActiveTickets(ctx context.Context) ([]models.Ticket, error)

	// Поля статуса: пишет только Lifecycle Manager
	UpdateTicketStatus(ctx context.Context, id uuid.UUID, status string, assignedTo *uuid.UUID, closedAt *time.Time) error
	SetTicketSnooze(ctx context.Context, id uuid.UUID, until time.Time) error

	// Привязка канала: пишет только Channel Binder. BindTicketChannel
	// записывает канал, только если тикет ещё не привязан, и сообщает,
	// состоялась ли запись: при гонке двух первых сообщений канал
	// достаётся ровно одному.
	BindTicketChannel(ctx context.Context, id uuid.UUID, channelID string) (bool, error)
	SetTicketChannel(ctx context.Context, id uuid.UUID, channelID *string) error

	// Водяные знаки сообщений: пишет только Relay Engine
	TouchClientMsg(ctx context.Context, id uuid.UUID, at time.Time) error
	TouchStaffMsg(ctx context.Context, id uuid.UUID, at time.Time) error

	// Водяные знаки уведомлений: пишут только планировщики
	SetReminderAt(ctx context.Context, id uuid.UUID, at time.Time) error
	SetUnassignedAlertAt(ctx context.Context, id uuid.UUID, at time.Time) error

	// Кандидаты планировщиков: активные тикеты, где последнее слово за клиентом
	// и клиент ждёт как минимум с idleBefore. Снуз и ограничение частоты
	// проверяет сам планировщик.
	ReminderCandidates(ctx context.Context, idleBefore time.Time) ([]models.Ticket, error)
	EscalationCandidates(ctx context.Context, idleBefore time.Time) ([]models.Ticket, error)

	// Журнал сообщений: только добавление
	AppendMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, ticketID uuid.UUID, limit int) ([]models.Message, error)

	// Сотрудники
	GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error)
	GetAgentByEmail(ctx context.Context, email string) (*models.Agent, error)
	GetAgentByChatID(ctx context.Context, chatID string) (*models.Agent, error)
	ListActiveAgents(ctx context.Context) ([]models.Agent, error)

	// Клиенты
	GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error)
	EnsureClient(ctx context.Context, externalID, name string) (*models.Client, error)
}
