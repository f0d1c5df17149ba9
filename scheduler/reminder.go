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
)

// Reminder периодически напоминает назначенному сотруднику о тикетах,
// в которых клиент ждёт ответа дольше idleThreshold. Не чаще одного
// напоминания на тикет за interval.
type Reminder struct {
	store         database.Store
	transport     transport.Transport
	interval      time.Duration // период цикла и минимальный интервал между напоминаниями
	idleThreshold time.Duration
}

// NewReminder создаёт планировщик напоминаний
func NewReminder(store database.Store, tr transport.Transport, interval, idleThreshold time.Duration) *Reminder {
	return &Reminder{store: store, transport: tr, interval: interval, idleThreshold: idleThreshold}
}

// Run крутит цикл до отмены ctx; текущий цикл всегда дорабатывает до конца.
// Ошибка одного цикла логируется и не останавливает петлю.
func (s *Reminder) Run(ctx context.Context) {
	log.Printf("Reminder: запущен, период %s, порог простоя %s", s.interval, s.idleThreshold)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Reminder: остановлен")
			return
		case <-ticker.C:
			if err := s.runCycle(ctx, time.Now()); err != nil {
				log.Printf("Reminder: цикл завершился с ошибкой: %v", err)
			}
		}
	}
}

// runCycle выполняет один проход по кандидатам
func (s *Reminder) runCycle(ctx context.Context, now time.Time) error {
	candidates, err := s.store.ReminderCandidates(ctx, now.Add(-s.idleThreshold))
	if err != nil {
		return fmt.Errorf("выборка кандидатов: %w", err)
	}

	for i := range candidates {
		t := &candidates[i]
		if t.Snoozed(now) {
			continue
		}
		// Не чаще одного напоминания на тикет за период
		if t.LastReminderAt != nil && now.Sub(*t.LastReminderAt) < s.interval {
			continue
		}
		s.remind(ctx, t, now)
	}
	return nil
}

// remind уведомляет назначенного сотрудника. Недоставка проглатывается:
// одно потерянное напоминание не стоит упавшей петли.
func (s *Reminder) remind(ctx context.Context, t *models.Ticket, now time.Time) {
	agent, err := s.store.GetAgent(ctx, *t.AssignedTo)
	if err != nil {
		log.Printf("Reminder: сотрудник тикета %s не прочитан: %v", t.ID, err)
		return
	}
	if agent == nil || agent.ChatID == "" {
		log.Printf("Reminder: сотруднику тикета %s некуда писать, пропускаем", t.ID)
		return
	}

	waiting := now.Sub(*t.LastClientMsgAt).Round(time.Minute)
	text := fmt.Sprintf("Клиент «%s» ждёт ответа уже %s (тикет %s)", t.Label, waiting, t.ID)
	if _, err := s.transport.SendMessage(ctx, agent.ChatID, text); err != nil {
		log.Printf("Reminder: напоминание по тикету %s не доставлено: %v", t.ID, err)
	} else {
		metrics.RemindersSent.Inc()
	}

	// Водяной знак ставим в любом случае, чтобы не долбить недоступного
	// сотрудника каждый цикл
	if err := s.store.SetReminderAt(ctx, t.ID, now); err != nil {
		log.Printf("Reminder: водяной знак тикета %s не записан: %v", t.ID, err)
	}
}
