package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/raid177/supportdesk/binder"
	"github.com/raid177/supportdesk/database"
	"github.com/raid177/supportdesk/lifecycle"
	"github.com/raid177/supportdesk/metrics"
	"github.com/raid177/supportdesk/models"
	"github.com/raid177/supportdesk/transport"
	"github.com/raid177/supportdesk/websocket"
)

// Relay перекладывает сообщения между клиентом и каналом сотрудников,
// помечая происхождение и ведя журнал. Только он пишет водяные знаки
// last_client_msg_at / last_staff_msg_at и добавляет строки Message.
type Relay struct {
	store     database.Store
	transport transport.Transport
	lifecycle *lifecycle.Manager
	binder    *binder.Binder
	hub       *websocket.Hub
}

// NewRelay собирает Relay Engine
func NewRelay(store database.Store, tr transport.Transport, lc *lifecycle.Manager, b *binder.Binder, hub *websocket.Hub) *Relay {
	return &Relay{store: store, transport: tr, lifecycle: lc, binder: b, hub: hub}
}

// RelayInbound обрабатывает входящее сообщение клиента: тикет → канал →
// доставка → журнал → водяной знак. Порядок строго «доставили — записали»:
// при ошибке доставки сообщение не журналируется, а клиент ошибки не видит
// (доставка best-effort, повтор случится со следующим сообщением).
func (r *Relay) RelayInbound(ctx context.Context, in models.IncomingMessage) (*models.Ticket, *models.Message, error) {
	t, err := r.lifecycle.EnsureTicket(ctx, in.UserID, in.UserName)
	if err != nil {
		return nil, nil, fmt.Errorf("RelayInbound: %w", err)
	}

	channelID, err := r.binder.EnsureChannel(ctx, t)
	if err != nil {
		return nil, nil, fmt.Errorf("RelayInbound: %w", err)
	}

	// Происхождение: входящие помечаются меткой тикета
	text := t.Label + ": " + r.renderText(in.Text, in.MediaKind)

	if _, err := r.transport.SendMessage(ctx, transport.ChannelTarget(channelID), text); err != nil {
		if errors.Is(err, transport.ErrChannelNotFound) {
			// Канал удалили извне: перепривязываем и повторяем один раз
			channelID, err = r.binder.Rebind(ctx, t)
			if err != nil {
				return nil, nil, fmt.Errorf("RelayInbound: %w", err)
			}
			if _, err = r.transport.SendMessage(ctx, transport.ChannelTarget(channelID), text); err != nil {
				return nil, nil, fmt.Errorf("RelayInbound: доставка после перепривязки: %w", err)
			}
		} else {
			return nil, nil, fmt.Errorf("RelayInbound: доставка: %w", err)
		}
	}

	now := time.Now()
	msg := &models.Message{
		ID:                uuid.New(),
		TicketID:          t.ID,
		Direction:         models.DirectionIn,
		ExternalMessageID: in.MessageID,
		Text:              in.Text,
		MediaKind:         in.MediaKind,
		CreatedAt:         now,
	}
	if err := r.store.AppendMessage(ctx, msg); err != nil {
		return nil, nil, fmt.Errorf("RelayInbound: журнал: %w", err)
	}
	if err := r.store.TouchClientMsg(ctx, t.ID, now); err != nil {
		return nil, nil, fmt.Errorf("RelayInbound: водяной знак: %w", err)
	}
	t.LastClientMsgAt = &now

	metrics.MessagesRelayed.WithLabelValues(models.DirectionIn).Inc()
	r.notifyDashboard(t, msg)
	return t, msg, nil
}

// RelayOutbound доставляет ответ сотрудника клиенту тикета, привязанного
// к каналу. Командный текст сюда не попадает: команды перехватываются
// командным слоем до Relay Engine. senderID может быть nil — тогда
// происхождение помечается senderFallback (числовой идентичностью из
// транспорта).
func (r *Relay) RelayOutbound(ctx context.Context, channelID, text string, senderID *uuid.UUID, senderFallback, externalMsgID string) (*models.Ticket, error) {
	t, err := r.store.GetTicketByChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("RelayOutbound: %w", err)
	}
	if t == nil {
		return nil, fmt.Errorf("RelayOutbound: канал %s: %w", channelID, database.ErrTicketNotFound)
	}

	client, err := r.store.GetClient(ctx, t.ClientID)
	if err != nil {
		return nil, fmt.Errorf("RelayOutbound: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("RelayOutbound: клиент тикета %s не найден", t.ID)
	}

	// Происхождение: исходящие помечаются именем отвечающего сотрудника,
	// с фолбэком на числовую идентичность
	senderName := senderFallback
	if senderName == "" {
		senderName = "поддержка"
	}
	if senderID != nil {
		if agent, err := r.store.GetAgent(ctx, *senderID); err != nil {
			log.Printf("RelayOutbound: сотрудник %s не прочитан: %v", senderID, err)
		} else if agent != nil {
			senderName = agent.Name()
		}
	}

	if _, err := r.transport.SendMessage(ctx, client.ExternalID, senderName+": "+text); err != nil {
		return nil, fmt.Errorf("RelayOutbound: доставка: %w", err)
	}

	now := time.Now()
	msg := &models.Message{
		ID:                uuid.New(),
		TicketID:          t.ID,
		Direction:         models.DirectionOut,
		ExternalMessageID: externalMsgID,
		Text:              text,
		CreatedAt:         now,
	}
	if err := r.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("RelayOutbound: журнал: %w", err)
	}
	if err := r.store.TouchStaffMsg(ctx, t.ID, now); err != nil {
		return nil, fmt.Errorf("RelayOutbound: водяной знак: %w", err)
	}
	t.LastStaffMsgAt = &now

	metrics.MessagesRelayed.WithLabelValues(models.DirectionOut).Inc()
	r.notifyDashboard(t, msg)
	return t, nil
}

// NotifyClient доставляет клиенту служебный текст (например, уведомление
// о закрытии). Журналируется только доставленное сообщение.
func (r *Relay) NotifyClient(ctx context.Context, t *models.Ticket, text string) error {
	client, err := r.store.GetClient(ctx, t.ClientID)
	if err != nil {
		return fmt.Errorf("NotifyClient: %w", err)
	}
	if client == nil {
		return fmt.Errorf("NotifyClient: клиент тикета %s не найден", t.ID)
	}

	extID, err := r.transport.SendMessage(ctx, client.ExternalID, text)
	if err != nil {
		return fmt.Errorf("NotifyClient: доставка: %w", err)
	}

	msg := &models.Message{
		ID:                uuid.New(),
		TicketID:          t.ID,
		Direction:         models.DirectionOut,
		ExternalMessageID: extID,
		Text:              text,
		CreatedAt:         time.Now(),
	}
	if err := r.store.AppendMessage(ctx, msg); err != nil {
		log.Printf("NotifyClient: доставлено, но не записано в журнал: %v", err)
	}
	return nil
}

func (r *Relay) renderText(text, mediaKind string) string {
	if text == "" && mediaKind != "" {
		return "[" + mediaKind + "]"
	}
	return text
}

func (r *Relay) notifyDashboard(t *models.Ticket, msg *models.Message) {
	if r.hub == nil {
		return
	}
	if data, err := websocket.NewRelayedMessage(t, msg); err == nil {
		r.hub.BroadcastMessage(data)
	} else {
		log.Printf("Relay: уведомление панели не собрано: %v", err)
	}
}
