package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/raid177/supportdesk/database"
	"github.com/raid177/supportdesk/websocket"
)

func TestEscalationAlertsOperatorChat(t *testing.T) {
	store := database.NewMemStore()
	tr := &fakeTransport{}
	s := NewEscalation(store, tr, nil, "op-chat", 10*time.Minute, 15*time.Minute)
	ctx := context.Background()
	now := time.Now()

	tk := idleTicket(store, nil, now, 20*time.Minute)

	if err := s.runCycle(ctx, now); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if tr.sentCount() != 1 {
		t.Fatalf("тревог = %d, ожидали 1", tr.sentCount())
	}
	got := tr.sent[0]
	if got.target != "op-chat" {
		t.Errorf("тревога ушла в %q, ожидали операторский чат", got.target)
	}
	// В тревоге есть готовая команда взятия в работу
	if !strings.Contains(got.text, "/take "+tk.ID.String()) {
		t.Errorf("тревога без команды /take: %q", got.text)
	}
	stored, _ := store.GetTicket(ctx, tk.ID)
	if stored.LastUnassignedAlertAt == nil {
		t.Error("водяной знак last_unassigned_alert_at не поставлен")
	}
}

func TestEscalationRateLimited(t *testing.T) {
	store := database.NewMemStore()
	tr := &fakeTransport{}
	s := NewEscalation(store, tr, nil, "op-chat", 10*time.Minute, 15*time.Minute)
	ctx := context.Background()
	now := time.Now()

	idleTicket(store, nil, now, 20*time.Minute)

	s.runCycle(ctx, now)
	s.runCycle(ctx, now.Add(5*time.Minute))
	if tr.sentCount() != 1 {
		t.Fatalf("тревог = %d, ожидали 1 (не чаще раза за интервал)", tr.sentCount())
	}
	s.runCycle(ctx, now.Add(11*time.Minute))
	if tr.sentCount() != 2 {
		t.Errorf("тревог = %d, ожидали 2", tr.sentCount())
	}
}

func TestEscalationStopsAfterAssign(t *testing.T) {
	store := database.NewMemStore()
	tr := &fakeTransport{}
	s := NewEscalation(store, tr, nil, "op-chat", 10*time.Minute, 15*time.Minute)
	ctx := context.Background()
	now := time.Now()

	tk := idleTicket(store, nil, now, 20*time.Minute)
	s.runCycle(ctx, now)
	if tr.sentCount() != 1 {
		t.Fatalf("тревог = %d, ожидали 1", tr.sentCount())
	}

	// Тикет взяли в работу: эскалация умолкает, даже когда интервал прошёл
	agent := uuid.New()
	store.UpdateTicketStatus(ctx, tk.ID, "in_progress", &agent, nil)
	s.runCycle(ctx, now.Add(20*time.Minute))
	if tr.sentCount() != 1 {
		t.Errorf("тревог = %d после назначения, ожидали 1", tr.sentCount())
	}
}

func TestEscalationSkipsSnoozed(t *testing.T) {
	store := database.NewMemStore()
	tr := &fakeTransport{}
	s := NewEscalation(store, tr, nil, "op-chat", 10*time.Minute, 15*time.Minute)
	ctx := context.Background()
	now := time.Now()

	tk := idleTicket(store, nil, now, 20*time.Minute)
	store.SetTicketSnooze(ctx, tk.ID, now.Add(time.Hour))

	s.runCycle(ctx, now)
	if tr.sentCount() != 0 {
		t.Error("отложенный тикет поднял тревогу")
	}
}

// Без единого приёмника тревога не существует: ни счётчиков,
// ни водяных знаков по несостоявшимся уведомлениям
func TestEscalationWithoutSinks(t *testing.T) {
	store := database.NewMemStore()
	tr := &fakeTransport{}
	s := NewEscalation(store, tr, nil, "", 10*time.Minute, 15*time.Minute)
	ctx := context.Background()
	now := time.Now()

	tk := idleTicket(store, nil, now, 20*time.Minute)
	if err := s.runCycle(ctx, now); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if tr.sentCount() != 0 {
		t.Error("без операторского чата доставок быть не должно")
	}
	stored, _ := store.GetTicket(ctx, tk.ID)
	if stored.LastUnassignedAlertAt != nil {
		t.Error("водяной знак поставлен, хотя тревогу некуда было поднять")
	}
}

// Панель операторов — достаточный приёмник и без операторского чата
func TestEscalationDashboardOnly(t *testing.T) {
	store := database.NewMemStore()
	tr := &fakeTransport{}
	s := NewEscalation(store, tr, websocket.NewHub(), "", 10*time.Minute, 15*time.Minute)
	ctx := context.Background()
	now := time.Now()

	tk := idleTicket(store, nil, now, 20*time.Minute)
	if err := s.runCycle(ctx, now); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if tr.sentCount() != 0 {
		t.Error("без операторского чата доставок быть не должно")
	}
	stored, _ := store.GetTicket(ctx, tk.ID)
	if stored.LastUnassignedAlertAt == nil {
		t.Error("водяной знак не поставлен при живой панели")
	}
}
