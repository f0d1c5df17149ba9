package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/raid177/supportdesk/models"
)

const agentColumns = `id, display_name, email, password_hash, role, chat_id, active`

func scanAgent(row rowScanner) (*models.Agent, error) {
	var (
		a        models.Agent
		chatNull sql.NullString
	)
	if err := row.Scan(
		&a.ID, &a.DisplayName, &a.Email, &a.PasswordHash, &a.Role, &chatNull, &a.Active,
	); err != nil {
		return nil, err
	}
	if chatNull.Valid {
		a.ChatID = chatNull.String
	}
	return &a, nil
}

// GetAgent возвращает сотрудника по ID (nil, если не найден)
func (s *SQLStore) GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	a, err := scanAgent(s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetAgent: %w", err)
	}
	return a, nil
}

// GetAgentByEmail возвращает сотрудника по email (nil, если не найден)
func (s *SQLStore) GetAgentByEmail(ctx context.Context, email string) (*models.Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	a, err := scanAgent(s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE email = $1`, email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetAgentByEmail: %w", err)
	}
	return a, nil
}

// GetAgentByChatID возвращает сотрудника по его ID в мессенджере (nil, если не найден)
func (s *SQLStore) GetAgentByChatID(ctx context.Context, chatID string) (*models.Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	a, err := scanAgent(s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE chat_id = $1`, chatID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetAgentByChatID: %w", err)
	}
	return a, nil
}

// ListActiveAgents возвращает всех активных сотрудников (для ACL и назначения)
func (s *SQLStore) ListActiveAgents(ctx context.Context) ([]models.Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE active = true ORDER BY display_name`)
	if err != nil {
		return nil, fmt.Errorf("ListActiveAgents: %w", err)
	}
	defer rows.Close()

	var list []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("сканирование сотрудника: %w", err)
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}

// VerifyPassword сверяет пароль с bcrypt-хешем из базы
func VerifyPassword(pw, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw))
}
