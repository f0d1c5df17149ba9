package binder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/raid177/supportdesk/database"
	"github.com/raid177/supportdesk/metrics"
	"github.com/raid177/supportdesk/models"
	"github.com/raid177/supportdesk/transport"
)

// Binder гарантирует, что у тикета есть достижимый канал на стороне
// сотрудников, прежде чем Relay Engine начнёт в него доставлять.
type Binder struct {
	store     database.Store
	transport transport.Transport
}

// NewBinder создаёт привязчик каналов
func NewBinder(store database.Store, tr transport.Transport) *Binder {
	return &Binder{store: store, transport: tr}
}

// EnsureChannel возвращает канал тикета, лениво создавая его при первом
// обращении. Ошибка создания (например, квота транспорта) не ретраится
// здесь — её повторит следующее входящее сообщение.
func (b *Binder) EnsureChannel(ctx context.Context, t *models.Ticket) (string, error) {
	if t.ChannelID != nil && *t.ChannelID != "" {
		return *t.ChannelID, nil
	}
	return b.bind(ctx, t)
}

// Rebind сбрасывает потерянную привязку и создаёт канал заново.
// Вызывается Relay Engine'ом при ErrChannelNotFound; клиент потери
// канала не видит.
func (b *Binder) Rebind(ctx context.Context, t *models.Ticket) (string, error) {
	log.Printf("Rebind: канал тикета %s потерян, перепривязываем", t.ID)
	if err := b.store.SetTicketChannel(ctx, t.ID, nil); err != nil {
		return "", fmt.Errorf("Rebind: сброс привязки: %w", err)
	}
	t.ChannelID = nil
	ch, err := b.bind(ctx, t)
	if err != nil {
		return "", err
	}
	metrics.ChannelsRebound.Inc()
	return ch, nil
}

func (b *Binder) bind(ctx context.Context, t *models.Ticket) (string, error) {
	// Перечитываем тикет: при гонке двух первых сообщений проигравший
	// EnsureTicket держит копию, снятую до привязки победителя
	cur, err := b.store.GetTicket(ctx, t.ID)
	if err != nil {
		return "", fmt.Errorf("чтение тикета %s: %w", t.ID, err)
	}
	if cur != nil && cur.ChannelID != nil && *cur.ChannelID != "" {
		t.ChannelID = cur.ChannelID
		return *cur.ChannelID, nil
	}

	channelID, err := b.transport.CreateChannel(ctx, t.Label)
	if err != nil {
		return "", fmt.Errorf("создание канала для тикета %s: %w", t.ID, err)
	}
	won, err := b.store.BindTicketChannel(ctx, t.ID, channelID)
	if err != nil {
		return "", fmt.Errorf("сохранение канала для тикета %s: %w", t.ID, err)
	}
	if !won {
		// Привязку выиграли не мы: лишний канал закрываем,
		// доставлять будем в канал победителя
		if err := b.transport.CloseChannel(ctx, channelID); err != nil {
			log.Printf("EnsureChannel: лишний канал %s не закрыт: %v", channelID, err)
		}
		cur, err := b.store.GetTicket(ctx, t.ID)
		if err != nil {
			return "", fmt.Errorf("чтение тикета %s: %w", t.ID, err)
		}
		if cur == nil || cur.ChannelID == nil || *cur.ChannelID == "" {
			return "", fmt.Errorf("тикет %s: привязка проиграна, но канал победителя не найден", t.ID)
		}
		t.ChannelID = cur.ChannelID
		return *cur.ChannelID, nil
	}
	t.ChannelID = &channelID
	log.Printf("EnsureChannel: тикету %s привязан канал %s", t.ID, channelID)
	metrics.ChannelsCreated.Inc()

	// Стартовая сводка по тикету; её потеря не критична
	if _, err := b.transport.SendMessage(ctx, transport.ChannelTarget(channelID), b.summary(t)); err != nil {
		log.Printf("EnsureChannel: сводка тикета %s не доставлена: %v", t.ID, err)
	}
	return channelID, nil
}

// Release архивирует канал закрытого тикета (best-effort со стороны
// вызывающего). Уже потерянный канал не считается ошибкой.
func (b *Binder) Release(ctx context.Context, t *models.Ticket) error {
	if t.ChannelID == nil || *t.ChannelID == "" {
		return nil
	}
	if err := b.transport.CloseChannel(ctx, *t.ChannelID); err != nil && !errors.Is(err, transport.ErrChannelNotFound) {
		return fmt.Errorf("Release: канал тикета %s: %w", t.ID, err)
	}
	return nil
}

func (b *Binder) summary(t *models.Ticket) string {
	return fmt.Sprintf(
		"Новое обращение: %s\nТикет: %s\nСоздан: %s\nКоманды: /take — взять в работу, /close — закрыть, /snooze N — отложить на N минут",
		t.Label, t.ID, t.CreatedAt.Format(time.RFC3339),
	)
}
