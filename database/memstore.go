package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raid177/supportdesk/models"
)

// MemStore — реализация Store в памяти. Повторяет поведение SQLStore,
// включая инвариант «один незакрытый тикет на клиента»; используется
// в тестах вместо PostgreSQL.
type MemStore struct {
	mu       sync.Mutex
	tickets  map[uuid.UUID]*models.Ticket
	messages []models.Message
	agents   map[uuid.UUID]*models.Agent
	clients  map[uuid.UUID]*models.Client
}

// NewMemStore создаёт пустое хранилище в памяти
func NewMemStore() *MemStore {
	return &MemStore{
		tickets: make(map[uuid.UUID]*models.Ticket),
		agents:  make(map[uuid.UUID]*models.Agent),
		clients: make(map[uuid.UUID]*models.Client),
	}
}

func (s *MemStore) Close()                         {}
func (s *MemStore) Ping(ctx context.Context) error { return nil }

func copyTicket(t *models.Ticket) *models.Ticket {
	c := *t
	return &c
}

// PutAgent добавляет сотрудника (подготовка данных теста)
func (s *MemStore) PutAgent(a models.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = &a
}

// PutTicket добавляет тикет как есть (подготовка данных теста)
func (s *MemStore) PutTicket(t models.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.ID] = &t
}

// PutClient добавляет клиента как есть (подготовка данных теста)
func (s *MemStore) PutClient(c models.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = &c
}

func (s *MemStore) GetTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tickets[id]; ok {
		return copyTicket(t), nil
	}
	return nil, nil
}

func (s *MemStore) GetTicketByChannel(ctx context.Context, channelID string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.ChannelID != nil && *t.ChannelID == channelID {
			return copyTicket(t), nil
		}
	}
	return nil, nil
}

func (s *MemStore) GetActiveTicketByClient(ctx context.Context, clientID uuid.UUID) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeByClientLocked(clientID), nil
}

func (s *MemStore) activeByClientLocked(clientID uuid.UUID) *models.Ticket {
	for _, t := range s.tickets {
		if t.ClientID == clientID && t.Status != models.StatusClosed {
			return copyTicket(t)
		}
	}
	return nil
}

func (s *MemStore) GetLatestTicketByClient(ctx context.Context, clientID uuid.UUID) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Ticket
	for _, t := range s.tickets {
		if t.ClientID != clientID {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyTicket(latest), nil
}

func (s *MemStore) CreateTicket(ctx context.Context, t *models.Ticket) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Как частичный уникальный индекс: при активном тикете клиента
	// вставка не происходит, возвращается победитель
	if winner := s.activeByClientLocked(t.ClientID); winner != nil {
		return winner, nil
	}
	s.tickets[t.ID] = copyTicket(t)
	return copyTicket(t), nil
}

func (s *MemStore) ListActiveTickets(ctx context.Context) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []models.Ticket
	for _, t := range s.tickets {
		if t.Status != models.StatusClosed {
			list = append(list, *copyTicket(t))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

func (s *MemStore) UpdateTicketStatus(ctx context.Context, id uuid.UUID, status string, assignedTo *uuid.UUID, closedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return ErrTicketNotFound
	}
	t.Status = status
	t.AssignedTo = assignedTo
	t.ClosedAt = closedAt
	return nil
}

func (s *MemStore) SetTicketSnooze(ctx context.Context, id uuid.UUID, until time.Time) error {
	return s.setField(id, func(t *models.Ticket) { t.SnoozeUntil = &until })
}

func (s *MemStore) BindTicketChannel(ctx context.Context, id uuid.UUID, channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return false, nil
	}
	if t.ChannelID != nil && *t.ChannelID != "" {
		return false, nil
	}
	t.ChannelID = &channelID
	return true, nil
}

func (s *MemStore) SetTicketChannel(ctx context.Context, id uuid.UUID, channelID *string) error {
	return s.setField(id, func(t *models.Ticket) { t.ChannelID = channelID })
}

func (s *MemStore) TouchClientMsg(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.setField(id, func(t *models.Ticket) { t.LastClientMsgAt = &at })
}

func (s *MemStore) TouchStaffMsg(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.setField(id, func(t *models.Ticket) { t.LastStaffMsgAt = &at })
}

func (s *MemStore) SetReminderAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.setField(id, func(t *models.Ticket) { t.LastReminderAt = &at })
}

func (s *MemStore) SetUnassignedAlertAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.setField(id, func(t *models.Ticket) { t.LastUnassignedAlertAt = &at })
}

func (s *MemStore) setField(id uuid.UUID, apply func(*models.Ticket)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return ErrTicketNotFound
	}
	apply(t)
	return nil
}

func (s *MemStore) ReminderCandidates(ctx context.Context, idleBefore time.Time) ([]models.Ticket, error) {
	return s.candidates(idleBefore, true)
}

func (s *MemStore) EscalationCandidates(ctx context.Context, idleBefore time.Time) ([]models.Ticket, error) {
	return s.candidates(idleBefore, false)
}

func (s *MemStore) candidates(idleBefore time.Time, assigned bool) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []models.Ticket
	for _, t := range s.tickets {
		if t.Status != models.StatusOpen && t.Status != models.StatusInProgress {
			continue
		}
		if (t.AssignedTo != nil) != assigned {
			continue
		}
		if t.LastClientMsgAt == nil {
			continue
		}
		if t.LastStaffMsgAt != nil && !t.LastClientMsgAt.After(*t.LastStaffMsgAt) {
			continue
		}
		if t.LastClientMsgAt.After(idleBefore) {
			continue
		}
		list = append(list, *copyTicket(t))
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].LastClientMsgAt.Before(*list[j].LastClientMsgAt)
	})
	return list, nil
}

func (s *MemStore) AppendMessage(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[m.TicketID]; !ok {
		return ErrTicketNotFound
	}
	s.messages = append(s.messages, *m)
	return nil
}

func (s *MemStore) ListMessages(ctx context.Context, ticketID uuid.UUID, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []models.Message
	for _, m := range s.messages {
		if m.TicketID == ticketID {
			list = append(list, m)
		}
	}
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list, nil
}

func (s *MemStore) GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.agents[id]; ok {
		c := *a
		return &c, nil
	}
	return nil, nil
}

func (s *MemStore) GetAgentByEmail(ctx context.Context, email string) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if a.Email == email {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

func (s *MemStore) GetAgentByChatID(ctx context.Context, chatID string) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if a.ChatID == chatID && chatID != "" {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

func (s *MemStore) ListActiveAgents(ctx context.Context) ([]models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []models.Agent
	for _, a := range s.agents {
		if a.Active {
			list = append(list, *a)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].DisplayName < list[j].DisplayName })
	return list, nil
}

func (s *MemStore) GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[id]; ok {
		cc := *c
		return &cc, nil
	}
	return nil, nil
}

func (s *MemStore) EnsureClient(ctx context.Context, externalID, name string) (*models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.ExternalID == externalID {
			cc := *c
			return &cc, nil
		}
	}
	if name == "" {
		name = "Клиент " + externalID
	}
	c := &models.Client{
		ID:         uuid.NewSHA1(uuid.NameSpaceOID, []byte(externalID)),
		Name:       name,
		ExternalID: externalID,
		CreatedAt:  time.Now(),
	}
	s.clients[c.ID] = c
	cc := *c
	return &cc, nil
}
