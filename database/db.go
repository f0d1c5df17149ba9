package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	// pgx-драйвер в режиме database/sql
	_ "github.com/jackc/pgx/v5/stdlib"
)

const dbQueryTimeout = 5 * time.Second

// SQLStore реализует Store поверх PostgreSQL
type SQLStore struct {
	db *sql.DB
}

// Open открывает пул соединений, проверяет подключение и возвращает хранилище.
func Open(dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// Параметры пула
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверяем подключение (тайм-аут 3 с)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}

	log.Println("[database] PostgreSQL connected ✓")
	return &SQLStore{db: db}, nil
}

// Close закрывает пул (вызывайте defer store.Close()).
func (s *SQLStore) Close() { _ = s.db.Close() }

// Ping проверяет доступность базы
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
