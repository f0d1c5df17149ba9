package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/raid177/supportdesk/database"
	"github.com/raid177/supportdesk/events"
	"github.com/raid177/supportdesk/metrics"
	"github.com/raid177/supportdesk/models"
)

// ErrInvalidTransition возвращается при недопустимом переходе состояния.
// Командный слой отвечает на неё явным отказом оператору.
var ErrInvalidTransition = errors.New("недопустимый переход состояния тикета")

// Notifier доставляет клиенту служебное уведомление (реализуется Relay Engine).
// Ошибка доставки — забота вызывающего: уведомление best-effort.
type Notifier interface {
	NotifyClient(ctx context.Context, t *models.Ticket, text string) error
}

// ChannelCloser архивирует канал тикета на стороне сотрудников
// (реализуется Channel Binder)
type ChannelCloser interface {
	Release(ctx context.Context, t *models.Ticket) error
}

// Manager владеет машиной состояний тикета: open → in_progress → closed → open.
// Только он пишет поля status, assigned_to и closed_at.
type Manager struct {
	store    database.Store
	events   *events.Producer
	notifier Notifier
	channels ChannelCloser
}

// NewManager создаёт менеджер жизненного цикла
func NewManager(store database.Store, producer *events.Producer) *Manager {
	return &Manager{store: store, events: producer}
}

// SetNotifier подключает канал уведомлений клиента (после сборки Relay Engine)
func (m *Manager) SetNotifier(n Notifier) { m.notifier = n }

// SetChannelCloser подключает архивацию каналов закрытых тикетов
func (m *Manager) SetChannelCloser(c ChannelCloser) { m.channels = c }

// EnsureTicket возвращает текущий незакрытый тикет клиента; если его нет,
// переоткрывает последний закрытый либо создаёт новый. Идемпотентна при
// конкурентных вызовах за счёт частичного уникального индекса хранилища:
// два почти одновременных первых сообщения дают один тикет и один канал.
func (m *Manager) EnsureTicket(ctx context.Context, externalUserID, displayName string) (*models.Ticket, error) {
	client, err := m.store.EnsureClient(ctx, externalUserID, displayName)
	if err != nil {
		return nil, fmt.Errorf("EnsureTicket: клиент: %w", err)
	}

	t, err := m.store.GetActiveTicketByClient(ctx, client.ID)
	if err != nil {
		return nil, fmt.Errorf("EnsureTicket: поиск активного тикета: %w", err)
	}
	if t != nil {
		return t, nil
	}

	// Последний тикет клиента закрыт — переиспользуем строку
	latest, err := m.store.GetLatestTicketByClient(ctx, client.ID)
	if err != nil {
		return nil, fmt.Errorf("EnsureTicket: поиск последнего тикета: %w", err)
	}
	if latest != nil && latest.Status == models.StatusClosed {
		if err := m.store.UpdateTicketStatus(ctx, latest.ID, models.StatusOpen, nil, nil); err != nil {
			return nil, fmt.Errorf("EnsureTicket: переоткрытие: %w", err)
		}
		latest.Status = models.StatusOpen
		latest.AssignedTo = nil
		latest.ClosedAt = nil
		log.Printf("EnsureTicket: тикет %s переоткрыт для клиента %s", latest.ID, client.ID)
		m.events.Publish(ctx, events.TicketReopened, latest)
		return latest, nil
	}

	label := client.Name
	if label == "" {
		label = "Клиент " + externalUserID
	}
	created, err := m.store.CreateTicket(ctx, &models.Ticket{
		ID:        uuid.New(),
		ClientID:  client.ID,
		Label:     label,
		Status:    models.StatusOpen,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("EnsureTicket: создание тикета: %w", err)
	}
	log.Printf("EnsureTicket: создан тикет %s для клиента %s", created.ID, client.ID)
	metrics.TicketsCreated.Inc()
	m.events.Publish(ctx, events.TicketCreated, created)
	return created, nil
}

// Assign назначает (или переназначает) тикет сотруднику и переводит его
// в in_progress. Допустим из open и in_progress; при конкурентных переводах
// побеждает последняя запись — назначение информационное, не эксклюзивное.
func (m *Manager) Assign(ctx context.Context, ticketID, agentID uuid.UUID) error {
	t, err := m.store.GetTicket(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("Assign: %w", err)
	}
	if t == nil {
		log.Printf("Assign: тикет %s не существует, пропускаем", ticketID)
		return nil
	}
	if !t.Active() {
		return fmt.Errorf("Assign: тикет %s в статусе %s: %w", ticketID, t.Status, ErrInvalidTransition)
	}

	if err := m.store.UpdateTicketStatus(ctx, ticketID, models.StatusInProgress, &agentID, nil); err != nil {
		return fmt.Errorf("Assign: %w", err)
	}
	t.Status = models.StatusInProgress
	t.AssignedTo = &agentID
	log.Printf("Assign: тикет %s назначен сотруднику %s", ticketID, agentID)
	m.events.Publish(ctx, events.TicketAssigned, t)
	return nil
}

// Close закрывает тикет из open или in_progress и отправляет клиенту
// уведомление о закрытии (best-effort, через исходящий путь Relay Engine).
func (m *Manager) Close(ctx context.Context, ticketID uuid.UUID) error {
	t, err := m.store.GetTicket(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("Close: %w", err)
	}
	if t == nil {
		log.Printf("Close: тикет %s не существует, пропускаем", ticketID)
		return nil
	}
	if !t.Active() {
		return fmt.Errorf("Close: тикет %s уже в статусе %s: %w", ticketID, t.Status, ErrInvalidTransition)
	}

	now := time.Now()
	if err := m.store.UpdateTicketStatus(ctx, ticketID, models.StatusClosed, nil, &now); err != nil {
		return fmt.Errorf("Close: %w", err)
	}
	t.Status = models.StatusClosed
	t.AssignedTo = nil
	t.ClosedAt = &now
	log.Printf("Close: тикет %s закрыт", ticketID)
	m.events.Publish(ctx, events.TicketClosed, t)

	// Канал закрытого тикета архивируем; неудача не откатывает закрытие
	if m.channels != nil {
		if err := m.channels.Release(ctx, t); err != nil {
			log.Printf("Close: канал тикета %s не архивирован: %v", ticketID, err)
		}
	}

	if m.notifier != nil {
		if err := m.notifier.NotifyClient(ctx, t, "Ваше обращение закрыто. Если вопрос остался — просто напишите нам ещё раз."); err != nil {
			log.Printf("Close: уведомление клиента не доставлено: %v", err)
		}
	}
	return nil
}

// Reopen переоткрывает закрытый тикет: статус open, назначение и время
// закрытия сбрасываются. Допустим только из closed.
func (m *Manager) Reopen(ctx context.Context, ticketID uuid.UUID) error {
	t, err := m.store.GetTicket(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("Reopen: %w", err)
	}
	if t == nil {
		log.Printf("Reopen: тикет %s не существует, пропускаем", ticketID)
		return nil
	}
	if t.Status != models.StatusClosed {
		return fmt.Errorf("Reopen: тикет %s в статусе %s: %w", ticketID, t.Status, ErrInvalidTransition)
	}

	if err := m.store.UpdateTicketStatus(ctx, ticketID, models.StatusOpen, nil, nil); err != nil {
		return fmt.Errorf("Reopen: %w", err)
	}
	t.Status = models.StatusOpen
	t.AssignedTo = nil
	t.ClosedAt = nil
	log.Printf("Reopen: тикет %s переоткрыт", ticketID)
	m.events.Publish(ctx, events.TicketReopened, t)
	return nil
}

// Snooze откладывает тикет: до until оба планировщика его не трогают
func (m *Manager) Snooze(ctx context.Context, ticketID uuid.UUID, until time.Time) error {
	t, err := m.store.GetTicket(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("Snooze: %w", err)
	}
	if t == nil {
		log.Printf("Snooze: тикет %s не существует, пропускаем", ticketID)
		return nil
	}
	if err := m.store.SetTicketSnooze(ctx, ticketID, until); err != nil {
		return fmt.Errorf("Snooze: %w", err)
	}
	log.Printf("Snooze: тикет %s отложен до %s", ticketID, until.Format(time.RFC3339))
	return nil
}
