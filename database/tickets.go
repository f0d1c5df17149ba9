package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/raid177/supportdesk/models"
)

// ticketColumns — единый список колонок тикета для всех SELECT'ов
const ticketColumns = `
	id, client_id, channel_id, label, status, assigned_to,
	created_at, closed_at,
	last_client_msg_at, last_staff_msg_at,
	last_reminder_at, last_unassigned_alert_at, snooze_until`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*models.Ticket, error) {
	var (
		t           models.Ticket
		channelNull sql.NullString
		assignedStr sql.NullString
		closedAt    sql.NullTime
		lastClient  sql.NullTime
		lastStaff   sql.NullTime
		lastRemind  sql.NullTime
		lastAlert   sql.NullTime
		snooze      sql.NullTime
	)
	if err := row.Scan(
		&t.ID, &t.ClientID, &channelNull, &t.Label, &t.Status, &assignedStr,
		&t.CreatedAt, &closedAt,
		&lastClient, &lastStaff,
		&lastRemind, &lastAlert, &snooze,
	); err != nil {
		return nil, err
	}
	t.ChannelID = nullStringToPointer(channelNull)
	assigned, err := nullUUIDToPointer(assignedStr)
	if err != nil {
		return nil, fmt.Errorf("assigned_to: %w", err)
	}
	t.AssignedTo = assigned
	t.ClosedAt = nullTimeToPointer(closedAt)
	t.LastClientMsgAt = nullTimeToPointer(lastClient)
	t.LastStaffMsgAt = nullTimeToPointer(lastStaff)
	t.LastReminderAt = nullTimeToPointer(lastRemind)
	t.LastUnassignedAlertAt = nullTimeToPointer(lastAlert)
	t.SnoozeUntil = nullTimeToPointer(snooze)
	return &t, nil
}

func (s *SQLStore) getTicketWhere(ctx context.Context, where string, args ...any) (*models.Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	q := `SELECT ` + ticketColumns + ` FROM tickets WHERE ` + where
	t, err := scanTicket(s.db.QueryRowContext(ctx, q, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("чтение тикета: %w", err)
	}
	return t, nil
}

// GetTicket возвращает тикет по ID (nil, если не найден)
func (s *SQLStore) GetTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	return s.getTicketWhere(ctx, "id = $1", id)
}

// GetTicketByChannel возвращает тикет, привязанный к каналу сотрудников
func (s *SQLStore) GetTicketByChannel(ctx context.Context, channelID string) (*models.Ticket, error) {
	return s.getTicketWhere(ctx, "channel_id = $1", channelID)
}

// GetActiveTicketByClient возвращает незакрытый тикет клиента.
// По частичному уникальному индексу такой тикет не более одного.
func (s *SQLStore) GetActiveTicketByClient(ctx context.Context, clientID uuid.UUID) (*models.Ticket, error) {
	return s.getTicketWhere(ctx, "client_id = $1 AND status <> 'closed'", clientID)
}

// GetLatestTicketByClient возвращает самый свежий тикет клиента в любом статусе
func (s *SQLStore) GetLatestTicketByClient(ctx context.Context, clientID uuid.UUID) (*models.Ticket, error) {
	return s.getTicketWhere(ctx, "client_id = $1 ORDER BY created_at DESC LIMIT 1", clientID)
}

// CreateTicket вставляет новый тикет. Частичный уникальный индекс
// uniq_tickets_active_client не допускает второго активного тикета клиента:
// при конфликте вставка молча не происходит, и мы возвращаем строку-победителя.
func (s *SQLStore) CreateTicket(ctx context.Context, t *models.Ticket) (*models.Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	const q = `
		INSERT INTO tickets (id, client_id, label, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (client_id) WHERE status <> 'closed' DO NOTHING`
	res, err := s.db.ExecContext(ctx, q, t.ID, t.ClientID, t.Label, t.Status, t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("вставка тикета: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Гонка при одновременном первом обращении: возвращаем чужой тикет
		winner, err := s.GetActiveTicketByClient(ctx, t.ClientID)
		if err != nil {
			return nil, err
		}
		if winner == nil {
			return nil, fmt.Errorf("вставка тикета: конфликт без активного тикета клиента %s", t.ClientID)
		}
		return winner, nil
	}
	return t, nil
}

// ListActiveTickets возвращает все незакрытые тикеты (для панели операторов)
func (s *SQLStore) ListActiveTickets(ctx context.Context) ([]models.Ticket, error) {
	return s.listTicketsWhere(ctx, "status <> 'closed' ORDER BY created_at")
}

func (s *SQLStore) listTicketsWhere(ctx context.Context, where string, args ...any) ([]models.Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	q := `SELECT ` + ticketColumns + ` FROM tickets WHERE ` + where
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("выборка тикетов: %w", err)
	}
	defer rows.Close()

	var list []models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("сканирование тикета: %w", err)
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

// UpdateTicketStatus записывает статус, назначение и время закрытия.
// Поля принадлежат Lifecycle Manager'у; никто другой их не пишет.
func (s *SQLStore) UpdateTicketStatus(ctx context.Context, id uuid.UUID, status string, assignedTo *uuid.UUID, closedAt *time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	const q = `UPDATE tickets SET status=$1, assigned_to=$2, closed_at=$3 WHERE id=$4`
	res, err := s.db.ExecContext(ctx, q, status, uuidPointerToNullString(assignedTo), pointerToNullTime(closedAt), id)
	if err != nil {
		return fmt.Errorf("обновление статуса: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTicketNotFound
	}
	return nil
}

// SetTicketSnooze откладывает тикет: до указанного момента оба планировщика его пропускают
func (s *SQLStore) SetTicketSnooze(ctx context.Context, id uuid.UUID, until time.Time) error {
	return s.setTicketField(ctx, id, "snooze_until", until)
}

// BindTicketChannel привязывает канал, только если привязки ещё нет.
// Возвращает false, когда параллельная привязка успела раньше —
// вызывающий перечитывает тикет и доставляет в канал победителя.
func (s *SQLStore) BindTicketChannel(ctx context.Context, id uuid.UUID, channelID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET channel_id=$1 WHERE id=$2 AND channel_id IS NULL`, channelID, id)
	if err != nil {
		return false, fmt.Errorf("привязка канала: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// SetTicketChannel записывает (или сбрасывает) привязку канала
func (s *SQLStore) SetTicketChannel(ctx context.Context, id uuid.UUID, channelID *string) error {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	var val sql.NullString
	if channelID != nil {
		val = sql.NullString{String: *channelID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tickets SET channel_id=$1 WHERE id=$2`, val, id)
	if err != nil {
		return fmt.Errorf("привязка канала: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTicketNotFound
	}
	return nil
}

// TouchClientMsg обновляет водяной знак последнего сообщения клиента
func (s *SQLStore) TouchClientMsg(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.setTicketField(ctx, id, "last_client_msg_at", at)
}

// TouchStaffMsg обновляет водяной знак последнего сообщения сотрудника
func (s *SQLStore) TouchStaffMsg(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.setTicketField(ctx, id, "last_staff_msg_at", at)
}

// SetReminderAt фиксирует момент последнего напоминания (ограничение частоты)
func (s *SQLStore) SetReminderAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.setTicketField(ctx, id, "last_reminder_at", at)
}

// SetUnassignedAlertAt фиксирует момент последней эскалации
func (s *SQLStore) SetUnassignedAlertAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.setTicketField(ctx, id, "last_unassigned_alert_at", at)
}

func (s *SQLStore) setTicketField(ctx context.Context, id uuid.UUID, column string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	// column всегда константа из этого файла, не пользовательский ввод
	q := fmt.Sprintf(`UPDATE tickets SET %s=$1 WHERE id=$2`, column)
	res, err := s.db.ExecContext(ctx, q, at, id)
	if err != nil {
		return fmt.Errorf("обновление %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTicketNotFound
	}
	return nil
}

// ReminderCandidates выбирает назначенные активные тикеты, в которых клиент
// ждёт ответа как минимум с idleBefore. Снуз и ограничение частоты
// проверяет Reminder Scheduler.
func (s *SQLStore) ReminderCandidates(ctx context.Context, idleBefore time.Time) ([]models.Ticket, error) {
	return s.listTicketsWhere(ctx, `
		status IN ('open','in_progress')
		AND assigned_to IS NOT NULL
		AND last_client_msg_at IS NOT NULL
		AND (last_staff_msg_at IS NULL OR last_client_msg_at > last_staff_msg_at)
		AND last_client_msg_at <= $1
		ORDER BY last_client_msg_at`, idleBefore)
}

// EscalationCandidates выбирает неназначенные активные тикеты, в которых
// клиент ждёт как минимум с idleBefore.
func (s *SQLStore) EscalationCandidates(ctx context.Context, idleBefore time.Time) ([]models.Ticket, error) {
	return s.listTicketsWhere(ctx, `
		status IN ('open','in_progress')
		AND assigned_to IS NULL
		AND last_client_msg_at IS NOT NULL
		AND (last_staff_msg_at IS NULL OR last_client_msg_at > last_staff_msg_at)
		AND last_client_msg_at <= $1
		ORDER BY last_client_msg_at`, idleBefore)
}
