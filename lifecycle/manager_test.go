package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/raid177/supportdesk/database"
	"github.com/raid177/supportdesk/events"
	"github.com/raid177/supportdesk/models"
)

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (n *fakeNotifier) NotifyClient(ctx context.Context, t *models.Ticket, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.texts = append(n.texts, text)
	return nil
}

func newManager() (*Manager, *database.MemStore) {
	store := database.NewMemStore()
	return NewManager(store, events.NewProducer(nil, "")), store
}

func TestEnsureTicketIdempotent(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	first, err := m.EnsureTicket(ctx, "555", "Анна")
	if err != nil {
		t.Fatalf("EnsureTicket: %v", err)
	}
	if first.Status != models.StatusOpen {
		t.Errorf("статус нового тикета = %q, ожидали open", first.Status)
	}
	if first.Label != "Анна" {
		t.Errorf("метка тикета = %q, ожидали имя клиента", first.Label)
	}

	second, err := m.EnsureTicket(ctx, "555", "Анна")
	if err != nil {
		t.Fatalf("EnsureTicket повторно: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("повторный вызов вернул другой тикет: %s != %s", second.ID, first.ID)
	}
}

func TestEnsureTicketConcurrent(t *testing.T) {
	m, store := newManager()
	ctx := context.Background()

	const n = 10
	ids := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			tk, err := m.EnsureTicket(ctx, "777", "Борис")
			if err != nil {
				t.Errorf("EnsureTicket: %v", err)
				return
			}
			ids[i] = tk.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("конкурентные вызовы дали разные тикеты: %s и %s", ids[0], ids[i])
		}
	}
	active, _ := store.ListActiveTickets(ctx)
	if len(active) != 1 {
		t.Errorf("активных тикетов = %d, ожидали 1", len(active))
	}
}

func TestEnsureTicketReopensLatestClosed(t *testing.T) {
	m, store := newManager()
	ctx := context.Background()

	tk, err := m.EnsureTicket(ctx, "555", "Анна")
	if err != nil {
		t.Fatalf("EnsureTicket: %v", err)
	}
	if err := m.Close(ctx, tk.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Клиент пишет снова после закрытия: строка переиспользуется
	again, err := m.EnsureTicket(ctx, "555", "Анна")
	if err != nil {
		t.Fatalf("EnsureTicket после закрытия: %v", err)
	}
	if again.ID != tk.ID {
		t.Errorf("после закрытия создан новый тикет %s, ожидали переоткрытие %s", again.ID, tk.ID)
	}
	if again.Status != models.StatusOpen {
		t.Errorf("статус = %q, ожидали open", again.Status)
	}
	if again.AssignedTo != nil || again.ClosedAt != nil {
		t.Error("переоткрытие не сбросило назначение или время закрытия")
	}

	stored, _ := store.GetTicket(ctx, tk.ID)
	if stored.Status != models.StatusOpen {
		t.Errorf("в хранилище статус = %q, ожидали open", stored.Status)
	}
}

func TestAssignTransitions(t *testing.T) {
	m, store := newManager()
	ctx := context.Background()
	agent := uuid.New()

	tk, _ := m.EnsureTicket(ctx, "555", "Анна")
	if err := m.Assign(ctx, tk.ID, agent); err != nil {
		t.Fatalf("Assign из open: %v", err)
	}
	stored, _ := store.GetTicket(ctx, tk.ID)
	if stored.Status != models.StatusInProgress {
		t.Errorf("статус = %q, ожидали in_progress", stored.Status)
	}
	if stored.AssignedTo == nil || *stored.AssignedTo != agent {
		t.Error("назначение не записано")
	}

	// Переназначение: побеждает последняя запись
	other := uuid.New()
	if err := m.Assign(ctx, tk.ID, other); err != nil {
		t.Fatalf("повторный Assign: %v", err)
	}
	stored, _ = store.GetTicket(ctx, tk.ID)
	if *stored.AssignedTo != other {
		t.Errorf("назначен %s, ожидали последнего %s", stored.AssignedTo, other)
	}

	if err := m.Close(ctx, tk.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Assign(ctx, tk.ID, agent); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Assign закрытого: err = %v, ожидали ErrInvalidTransition", err)
	}
}

func TestCloseSetsClosedAtAndNotifies(t *testing.T) {
	m, store := newManager()
	notifier := &fakeNotifier{}
	m.SetNotifier(notifier)
	ctx := context.Background()

	tk, _ := m.EnsureTicket(ctx, "555", "Анна")
	if err := m.Close(ctx, tk.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}

	stored, _ := store.GetTicket(ctx, tk.ID)
	if stored.Status != models.StatusClosed {
		t.Errorf("статус = %q, ожидали closed", stored.Status)
	}
	if stored.ClosedAt == nil {
		t.Error("closed_at пуст у закрытого тикета")
	}
	if len(notifier.texts) != 1 {
		t.Fatalf("уведомлений клиенту = %d, ожидали 1", len(notifier.texts))
	}

	if err := m.Close(ctx, tk.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("повторный Close: err = %v, ожидали ErrInvalidTransition", err)
	}
}

type fakeCloser struct {
	released []string
	err      error
}

func (f *fakeCloser) Release(ctx context.Context, t *models.Ticket) error {
	if f.err != nil {
		return f.err
	}
	if t.ChannelID != nil {
		f.released = append(f.released, *t.ChannelID)
	}
	return nil
}

func TestCloseReleasesChannel(t *testing.T) {
	m, store := newManager()
	closer := &fakeCloser{}
	m.SetChannelCloser(closer)
	ctx := context.Background()

	tk, _ := m.EnsureTicket(ctx, "555", "Анна")
	ch := "ch1"
	store.SetTicketChannel(ctx, tk.ID, &ch)

	if err := m.Close(ctx, tk.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(closer.released) != 1 || closer.released[0] != ch {
		t.Errorf("канал не заархивирован: released=%v", closer.released)
	}
}

func TestCloseSurvivesReleaseFailure(t *testing.T) {
	m, store := newManager()
	m.SetChannelCloser(&fakeCloser{err: errors.New("транспорт лежит")})
	ctx := context.Background()

	tk, _ := m.EnsureTicket(ctx, "555", "Анна")
	if err := m.Close(ctx, tk.ID); err != nil {
		t.Fatalf("Close при ошибке архивации: %v", err)
	}
	stored, _ := store.GetTicket(ctx, tk.ID)
	if stored.Status != models.StatusClosed {
		t.Error("ошибка архивации откатила закрытие")
	}
}

func TestCloseSurvivesNotifierFailure(t *testing.T) {
	m, store := newManager()
	m.SetNotifier(&fakeNotifier{err: errors.New("транспорт лежит")})
	ctx := context.Background()

	tk, _ := m.EnsureTicket(ctx, "555", "Анна")
	if err := m.Close(ctx, tk.ID); err != nil {
		t.Fatalf("Close при недоставке уведомления: %v", err)
	}
	stored, _ := store.GetTicket(ctx, tk.ID)
	if stored.Status != models.StatusClosed {
		t.Error("недоставка уведомления откатила закрытие")
	}
}

func TestReopen(t *testing.T) {
	m, store := newManager()
	ctx := context.Background()

	tk, _ := m.EnsureTicket(ctx, "555", "Анна")
	if err := m.Reopen(ctx, tk.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Reopen открытого: err = %v, ожидали ErrInvalidTransition", err)
	}

	m.Close(ctx, tk.ID)
	if err := m.Reopen(ctx, tk.ID); err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	stored, _ := store.GetTicket(ctx, tk.ID)
	if stored.Status != models.StatusOpen || stored.ClosedAt != nil || stored.AssignedTo != nil {
		t.Errorf("после Reopen: статус=%q closedAt=%v assignedTo=%v", stored.Status, stored.ClosedAt, stored.AssignedTo)
	}
}

func TestSnooze(t *testing.T) {
	m, store := newManager()
	ctx := context.Background()

	tk, _ := m.EnsureTicket(ctx, "555", "Анна")
	until := time.Now().Add(30 * time.Minute)
	if err := m.Snooze(ctx, tk.ID, until); err != nil {
		t.Fatalf("Snooze: %v", err)
	}
	stored, _ := store.GetTicket(ctx, tk.ID)
	if !stored.Snoozed(time.Now()) {
		t.Error("тикет не помечен отложенным")
	}
	if stored.Snoozed(until.Add(time.Minute)) {
		t.Error("снуз не истёк после until")
	}
}

func TestOperationsOnMissingTicketAreNoop(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()
	missing := uuid.New()

	if err := m.Assign(ctx, missing, uuid.New()); err != nil {
		t.Errorf("Assign несуществующего: %v, ожидали nil", err)
	}
	if err := m.Close(ctx, missing); err != nil {
		t.Errorf("Close несуществующего: %v, ожидали nil", err)
	}
	if err := m.Reopen(ctx, missing); err != nil {
		t.Errorf("Reopen несуществующего: %v, ожидали nil", err)
	}
	if err := m.Snooze(ctx, missing, time.Now()); err != nil {
		t.Errorf("Snooze несуществующего: %v, ожидали nil", err)
	}
}
