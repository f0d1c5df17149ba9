package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/raid177/supportdesk/binder"
	"github.com/raid177/supportdesk/database"
	"github.com/raid177/supportdesk/events"
	"github.com/raid177/supportdesk/lifecycle"
	"github.com/raid177/supportdesk/models"
	"github.com/raid177/supportdesk/transport"
)

type sentMessage struct {
	target string
	text   string
}

// fakeTransport записывает доставки; failOnce подкладывает одноразовую
// ошибку на конкретный адрес (имитация удалённого канала).
type fakeTransport struct {
	mu       sync.Mutex
	sent     []sentMessage
	failOnce map[string]error
	channels int
	closed   []string
}

func (f *fakeTransport) SendMessage(ctx context.Context, target, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOnce[target]; ok {
		delete(f.failOnce, target)
		return "", err
	}
	f.sent = append(f.sent, sentMessage{target, text})
	return fmt.Sprintf("ext-%d", len(f.sent)), nil
}

func (f *fakeTransport) CreateChannel(ctx context.Context, title string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels++
	return fmt.Sprintf("ch%d", f.channels), nil
}

func (f *fakeTransport) GetChannelMembers(ctx context.Context, channelID string) ([]string, error) {
	return nil, nil
}

func (f *fakeTransport) CloseChannel(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, channelID)
	return nil
}

func (f *fakeTransport) lastSent() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func newRelay() (*Relay, *database.MemStore, *fakeTransport) {
	store := database.NewMemStore()
	tr := &fakeTransport{failOnce: make(map[string]error)}
	lc := lifecycle.NewManager(store, events.NewProducer(nil, ""))
	r := NewRelay(store, tr, lc, binder.NewBinder(store, tr), nil)
	lc.SetNotifier(r)
	return r, store, tr
}

func TestRelayInboundFirstMessage(t *testing.T) {
	r, store, tr := newRelay()
	ctx := context.Background()

	tk, msg, err := r.RelayInbound(ctx, models.IncomingMessage{
		UserID:    "555",
		UserName:  "Анна",
		Text:      "не работает оплата",
		MessageID: "m1",
	})
	if err != nil {
		t.Fatalf("RelayInbound: %v", err)
	}
	if tk.Status != models.StatusOpen {
		t.Errorf("статус тикета = %q, ожидали open", tk.Status)
	}
	if tk.ChannelID == nil {
		t.Fatal("тикету не привязан канал")
	}

	// Доставка в канал помечена меткой тикета, текст сохранён дословно
	got := tr.lastSent()
	if got.target != transport.ChannelTarget(*tk.ChannelID) {
		t.Errorf("доставлено в %q, ожидали канал тикета", got.target)
	}
	if got.text != "Анна: не работает оплата" {
		t.Errorf("текст доставки = %q", got.text)
	}

	if msg.Direction != models.DirectionIn || msg.Text != "не работает оплата" {
		t.Errorf("журнал: direction=%q text=%q", msg.Direction, msg.Text)
	}
	logged, _ := store.ListMessages(ctx, tk.ID, 0)
	if len(logged) != 1 {
		t.Fatalf("в журнале %d сообщений, ожидали 1", len(logged))
	}
	if tk.LastClientMsgAt == nil {
		t.Error("водяной знак last_client_msg_at не поставлен")
	}
}

func TestRelayInboundReusesTicketAndChannel(t *testing.T) {
	r, store, tr := newRelay()
	ctx := context.Background()

	first, _, err := r.RelayInbound(ctx, models.IncomingMessage{UserID: "555", UserName: "Анна", Text: "раз"})
	if err != nil {
		t.Fatalf("RelayInbound: %v", err)
	}
	second, _, err := r.RelayInbound(ctx, models.IncomingMessage{UserID: "555", UserName: "Анна", Text: "два"})
	if err != nil {
		t.Fatalf("RelayInbound повторно: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("второе сообщение попало в другой тикет: %s != %s", second.ID, first.ID)
	}
	if tr.channels != 1 {
		t.Errorf("каналов создано %d, ожидали 1", tr.channels)
	}
	logged, _ := store.ListMessages(ctx, first.ID, 0)
	if len(logged) != 2 {
		t.Errorf("в журнале %d сообщений, ожидали 2", len(logged))
	}
}

// Два почти одновременных первых сообщения: один тикет, один привязанный
// канал, оба сообщения доставлены в него, проигравшие каналы закрыты
func TestRelayInboundConcurrentFirstContact(t *testing.T) {
	r, store, tr := newRelay()
	ctx := context.Background()

	const n = 4
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, _, err := r.RelayInbound(ctx, models.IncomingMessage{
				UserID:   "555",
				UserName: "Анна",
				Text:     fmt.Sprintf("сообщение %d", i),
			})
			if err != nil {
				t.Errorf("RelayInbound: %v", err)
			}
		}(i)
	}
	wg.Wait()

	active, _ := store.ListActiveTickets(ctx)
	if len(active) != 1 {
		t.Fatalf("активных тикетов = %d, ожидали 1", len(active))
	}
	tk := active[0]
	if tk.ChannelID == nil {
		t.Fatal("тикету не привязан канал")
	}

	// Все созданные, но проигравшие привязку каналы закрыты
	tr.mu.Lock()
	created, closed := tr.channels, len(tr.closed)
	tr.mu.Unlock()
	if created-closed != 1 {
		t.Errorf("каналов создано %d, закрыто %d: должен остаться ровно один", created, closed)
	}
	for _, c := range tr.closed {
		if c == *tk.ChannelID {
			t.Errorf("закрыт привязанный канал %s", c)
		}
	}

	// Каждое сообщение доставлено в привязанный канал и записано один раз
	want := transport.ChannelTarget(*tk.ChannelID)
	delivered := 0
	tr.mu.Lock()
	for _, m := range tr.sent {
		if m.target == want && strings.Contains(m.text, "сообщение") {
			delivered++
		}
	}
	tr.mu.Unlock()
	if delivered != n {
		t.Errorf("в канал тикета доставлено %d сообщений, ожидали %d", delivered, n)
	}
	logged, _ := store.ListMessages(ctx, tk.ID, 0)
	if len(logged) != n {
		t.Errorf("в журнале %d сообщений, ожидали %d", len(logged), n)
	}
}

func TestRelayInboundRebindsLostChannel(t *testing.T) {
	r, store, tr := newRelay()
	ctx := context.Background()

	tk, _, err := r.RelayInbound(ctx, models.IncomingMessage{UserID: "555", UserName: "Анна", Text: "раз"})
	if err != nil {
		t.Fatalf("RelayInbound: %v", err)
	}
	oldChannel := *tk.ChannelID

	// Канал удалили на стороне транспорта
	tr.failOnce[transport.ChannelTarget(oldChannel)] = transport.ErrChannelNotFound

	tk2, msg, err := r.RelayInbound(ctx, models.IncomingMessage{UserID: "555", UserName: "Анна", Text: "два"})
	if err != nil {
		t.Fatalf("RelayInbound после потери канала: %v", err)
	}
	if *tk2.ChannelID == oldChannel {
		t.Error("тикет остался привязан к потерянному каналу")
	}
	got := tr.lastSent()
	if got.target != transport.ChannelTarget(*tk2.ChannelID) || !strings.Contains(got.text, "два") {
		t.Errorf("после перепривязки доставлено %+v", got)
	}

	// Сообщение записано один раз, несмотря на повтор доставки
	logged, _ := store.ListMessages(ctx, tk2.ID, 0)
	var count int
	for _, m := range logged {
		if m.ID == msg.ID {
			count++
		}
	}
	if count != 1 {
		t.Errorf("сообщение в журнале %d раз, ожидали 1", count)
	}
}

func TestRelayInboundDeliveryFailureNotLogged(t *testing.T) {
	r, store, tr := newRelay()
	ctx := context.Background()

	tk, _, err := r.RelayInbound(ctx, models.IncomingMessage{UserID: "555", UserName: "Анна", Text: "раз"})
	if err != nil {
		t.Fatalf("RelayInbound: %v", err)
	}

	tr.failOnce[transport.ChannelTarget(*tk.ChannelID)] = errors.New("транспорт лежит")
	if _, _, err := r.RelayInbound(ctx, models.IncomingMessage{UserID: "555", UserName: "Анна", Text: "два"}); err == nil {
		t.Fatal("ожидали ошибку доставки")
	}

	// Порядок «доставили — записали»: недоставленное не журналируется
	logged, _ := store.ListMessages(ctx, tk.ID, 0)
	if len(logged) != 1 {
		t.Errorf("в журнале %d сообщений, ожидали 1 (недоставленное не пишется)", len(logged))
	}
}

func TestRelayInboundMediaPlaceholder(t *testing.T) {
	r, _, tr := newRelay()
	ctx := context.Background()

	_, msg, err := r.RelayInbound(ctx, models.IncomingMessage{UserID: "555", UserName: "Анна", MediaKind: "photo"})
	if err != nil {
		t.Fatalf("RelayInbound: %v", err)
	}
	if got := tr.lastSent().text; got != "Анна: [photo]" {
		t.Errorf("текст доставки = %q, ожидали плейсхолдер медиа", got)
	}
	if msg.Text != "" || msg.MediaKind != "photo" {
		t.Errorf("журнал: text=%q mediaKind=%q", msg.Text, msg.MediaKind)
	}
}

func TestRelayOutbound(t *testing.T) {
	r, store, tr := newRelay()
	ctx := context.Background()

	tk, _, err := r.RelayInbound(ctx, models.IncomingMessage{UserID: "555", UserName: "Анна", Text: "раз"})
	if err != nil {
		t.Fatalf("RelayInbound: %v", err)
	}
	agent := models.Agent{ID: uuid.New(), DisplayName: "Пётр", ChatID: "9001", Active: true}
	store.PutAgent(agent)

	out, err := r.RelayOutbound(ctx, *tk.ChannelID, "здравствуйте, смотрю", &agent.ID, "", "sm1")
	if err != nil {
		t.Fatalf("RelayOutbound: %v", err)
	}
	if out.ID != tk.ID {
		t.Errorf("ответ ушёл в тикет %s, ожидали %s", out.ID, tk.ID)
	}

	// Происхождение: имя сотрудника, доставка в чат клиента
	got := tr.lastSent()
	if got.target != "555" {
		t.Errorf("доставлено в %q, ожидали чат клиента", got.target)
	}
	if got.text != "Пётр: здравствуйте, смотрю" {
		t.Errorf("текст доставки = %q", got.text)
	}

	logged, _ := store.ListMessages(ctx, tk.ID, 0)
	last := logged[len(logged)-1]
	if last.Direction != models.DirectionOut || last.Text != "здравствуйте, смотрю" {
		t.Errorf("журнал: direction=%q text=%q", last.Direction, last.Text)
	}
	if out.LastStaffMsgAt == nil {
		t.Error("водяной знак last_staff_msg_at не поставлен")
	}
}

func TestRelayOutboundFallbackName(t *testing.T) {
	r, _, tr := newRelay()
	ctx := context.Background()

	tk, _, err := r.RelayInbound(ctx, models.IncomingMessage{UserID: "555", UserName: "Анна", Text: "раз"})
	if err != nil {
		t.Fatalf("RelayInbound: %v", err)
	}

	// Неизвестный сотрудник: подписываемся его транспортной идентичностью
	if _, err := r.RelayOutbound(ctx, *tk.ChannelID, "добрый день", nil, "9002", ""); err != nil {
		t.Fatalf("RelayOutbound: %v", err)
	}
	if got := tr.lastSent().text; got != "9002: добрый день" {
		t.Errorf("текст доставки = %q", got)
	}

	// Совсем без идентичности: общая подпись поддержки
	if _, err := r.RelayOutbound(ctx, *tk.ChannelID, "добрый день", nil, "", ""); err != nil {
		t.Fatalf("RelayOutbound: %v", err)
	}
	if got := tr.lastSent().text; got != "поддержка: добрый день" {
		t.Errorf("текст доставки = %q", got)
	}
}

func TestRelayOutboundUnknownChannel(t *testing.T) {
	r, _, _ := newRelay()
	if _, err := r.RelayOutbound(context.Background(), "нет-такого", "текст", nil, "", ""); !errors.Is(err, database.ErrTicketNotFound) {
		t.Errorf("err = %v, ожидали ErrTicketNotFound", err)
	}
}

func TestNotifyClientLogsOnlyDelivered(t *testing.T) {
	r, store, tr := newRelay()
	ctx := context.Background()

	tk, _, err := r.RelayInbound(ctx, models.IncomingMessage{UserID: "555", UserName: "Анна", Text: "раз"})
	if err != nil {
		t.Fatalf("RelayInbound: %v", err)
	}

	before, _ := store.ListMessages(ctx, tk.ID, 0)
	tr.failOnce["555"] = errors.New("транспорт лежит")
	if err := r.NotifyClient(ctx, tk, "Ваше обращение закрыто"); err == nil {
		t.Fatal("ожидали ошибку доставки")
	}
	after, _ := store.ListMessages(ctx, tk.ID, 0)
	if len(after) != len(before) {
		t.Error("недоставленное уведомление попало в журнал")
	}

	if err := r.NotifyClient(ctx, tk, "Ваше обращение закрыто"); err != nil {
		t.Fatalf("NotifyClient: %v", err)
	}
	after, _ = store.ListMessages(ctx, tk.ID, 0)
	if len(after) != len(before)+1 {
		t.Error("доставленное уведомление не записано в журнал")
	}
	if got := tr.lastSent(); got.target != "555" || got.text != "Ваше обращение закрыто" {
		t.Errorf("уведомление доставлено как %+v", got)
	}
}

// Закрытие тикета через Lifecycle Manager уходит клиенту исходящим путём
func TestCloseNotifiesClientThroughRelay(t *testing.T) {
	r, store, tr := newRelay()
	ctx := context.Background()

	tk, _, err := r.RelayInbound(ctx, models.IncomingMessage{UserID: "555", UserName: "Анна", Text: "раз"})
	if err != nil {
		t.Fatalf("RelayInbound: %v", err)
	}
	if err := r.lifecycle.Close(ctx, tk.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := tr.lastSent()
	if got.target != "555" || !strings.Contains(got.text, "закрыто") {
		t.Errorf("уведомление о закрытии: %+v", got)
	}
	stored, _ := store.GetTicket(ctx, tk.ID)
	if stored.Status != models.StatusClosed {
		t.Errorf("статус = %q, ожидали closed", stored.Status)
	}
}
