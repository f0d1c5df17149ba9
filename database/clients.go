package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/raid177/supportdesk/models"
)

const clientColumns = `id, name, external_id, phone, consent_at, owner_ref, created_at`

func scanClient(row rowScanner) (*models.Client, error) {
	var (
		c         models.Client
		phoneNull sql.NullString
		consent   sql.NullTime
		ownerNull sql.NullString
	)
	if err := row.Scan(
		&c.ID, &c.Name, &c.ExternalID, &phoneNull, &consent, &ownerNull, &c.CreatedAt,
	); err != nil {
		return nil, err
	}
	c.Phone = nullStringToPointer(phoneNull)
	c.ConsentAt = nullTimeToPointer(consent)
	c.OwnerRef = nullStringToPointer(ownerNull)
	return &c, nil
}

// GetClient возвращает клиента по ID (nil, если не найден)
func (s *SQLStore) GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	c, err := scanClient(s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetClient: %w", err)
	}
	return c, nil
}

// EnsureClient находит клиента по внешнему ID мессенджера или лениво создаёт
// его при первом входящем сообщении. ID детерминированный (SHA1 от внешнего),
// поэтому повторная вставка при гонке упирается в первичный ключ и
// безопасно откатывается к чтению.
func (s *SQLStore) EnsureClient(ctx context.Context, externalID, name string) (*models.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	c, err := scanClient(s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE external_id = $1`, externalID))
	if err == nil {
		return c, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("поиск клиента: %w", err)
	}

	if name == "" {
		name = "Клиент " + externalID
	}
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(externalID))
	now := time.Now()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, external_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		id, name, externalID, now,
	); err != nil {
		return nil, fmt.Errorf("создание клиента: %w", err)
	}

	c, err = scanClient(s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("чтение клиента: %w", err)
	}
	return c, nil
}
