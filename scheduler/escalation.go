package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/raid177/supportdesk/database"
	"github.com/raid177/supportdesk/metrics"
	"github.com/raid177/supportdesk/models"
	"github.com/raid177/supportdesk/transport"
	"github.com/raid177/supportdesk/websocket"
)

// Escalation периодически поднимает тревогу по тикетам, которые висят без
// назначенного сотрудника дольше unassignedThreshold. Тревога уходит в
// операторский чат и на панель; не чаще одного раза на тикет за interval.
type Escalation struct {
	store               database.Store
	transport           transport.Transport
	hub                 *websocket.Hub
	operatorChat        string
	interval            time.Duration
	unassignedThreshold time.Duration
}

// NewEscalation создаёт планировщик эскалаций
func NewEscalation(store database.Store, tr transport.Transport, hub *websocket.Hub, operatorChat string, interval, unassignedThreshold time.Duration) *Escalation {
	return &Escalation{
		store:               store,
		transport:           tr,
		hub:                 hub,
		operatorChat:        operatorChat,
		interval:            interval,
		unassignedThreshold: unassignedThreshold,
	}
}

// Run крутит цикл до отмены ctx; ошибка цикла логируется и петлю не роняет
func (s *Escalation) Run(ctx context.Context) {
	log.Printf("Escalation: запущен, период %s, порог без назначения %s", s.interval, s.unassignedThreshold)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Escalation: остановлен")
			return
		case <-ticker.C:
			if err := s.runCycle(ctx, time.Now()); err != nil {
				log.Printf("Escalation: цикл завершился с ошибкой: %v", err)
			}
		}
	}
}

func (s *Escalation) runCycle(ctx context.Context, now time.Time) error {
	// Тревогу некуда поднять — нечего считать и ограничивать
	if s.operatorChat == "" && s.hub == nil {
		return nil
	}

	candidates, err := s.store.EscalationCandidates(ctx, now.Add(-s.unassignedThreshold))
	if err != nil {
		return fmt.Errorf("выборка кандидатов: %w", err)
	}

	for i := range candidates {
		t := &candidates[i]
		if t.Snoozed(now) {
			continue
		}
		if t.LastUnassignedAlertAt != nil && now.Sub(*t.LastUnassignedAlertAt) < s.interval {
			continue
		}
		s.alert(ctx, t, now)
	}
	return nil
}

// alert поднимает тревогу по одному тикету. Недоставка проглатывается.
func (s *Escalation) alert(ctx context.Context, t *models.Ticket, now time.Time) {
	waiting := now.Sub(*t.LastClientMsgAt).Round(time.Minute)

	if s.operatorChat != "" {
		text := fmt.Sprintf(
			"⚠ Тикет без ответственного: «%s» ждёт уже %s.\nВзять в работу: /take %s",
			t.Label, waiting, t.ID,
		)
		if _, err := s.transport.SendMessage(ctx, s.operatorChat, text); err != nil {
			log.Printf("Escalation: тревога по тикету %s не доставлена: %v", t.ID, err)
		}
	}

	if s.hub != nil {
		if data, err := websocket.NewEscalationAlert(t, int(waiting.Minutes())); err == nil {
			s.hub.BroadcastMessage(data)
		}
	}

	metrics.EscalationsRaised.Inc()
	if err := s.store.SetUnassignedAlertAt(ctx, t.ID, now); err != nil {
		log.Printf("Escalation: водяной знак тикета %s не записан: %v", t.ID, err)
	}
}
