package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/raid177/supportdesk/models"
)

// AppendMessage добавляет запись в журнал пересланных сообщений.
// Журнал append-only: записи никогда не изменяются и не удаляются.
func (s *SQLStore) AppendMessage(ctx context.Context, m *models.Message) error {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Проверяем, существует ли тикет
	var ok bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM tickets WHERE id=$1)", m.TicketID,
	).Scan(&ok); err != nil {
		return fmt.Errorf("проверка тикета: %w", err)
	}
	if !ok {
		return ErrTicketNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages
		       (id, ticket_id, direction, external_message_id, text, media_kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.TicketID, m.Direction, m.ExternalMessageID, m.Text, m.MediaKind, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("вставка сообщения: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListMessages возвращает последние limit сообщений тикета в хронологическом порядке
func (s *SQLStore) ListMessages(ctx context.Context, ticketID uuid.UUID, limit int) ([]models.Message, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	const q = `
		SELECT id, ticket_id, direction, external_message_id, text, media_kind, created_at
		FROM (
			SELECT id, ticket_id, direction, external_message_id, text, media_kind, created_at
			FROM messages
			WHERE ticket_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) last
		ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, q, ticketID, limit)
	if err != nil {
		return nil, fmt.Errorf("выборка сообщений: %w", err)
	}
	defer rows.Close()

	var list []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(
			&m.ID, &m.TicketID, &m.Direction, &m.ExternalMessageID,
			&m.Text, &m.MediaKind, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("сканирование сообщения: %w", err)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}
