// Программа инициализации схемы и тестовых данных.
// Запуск: go run ./scripts
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	// Загружаем переменные окружения из .env файла
	if err := godotenv.Load(); err != nil {
		log.Println("Файл .env не найден, используем переменные окружения")
	}

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		env("PG_HOST", "localhost"), env("PG_PORT", "5432"),
		env("PG_USER", "postgres"), os.Getenv("PG_PASSWORD"),
		env("PG_DATABASE", "supportdesk"), env("PG_SSL_MODE", "disable"),
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("Ошибка подключения к базе данных: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Ошибка проверки соединения с БД: %v", err)
	}
	log.Println("Успешное подключение к базе данных")

	createTables(db)

	// Создаем тестового сотрудника
	agentID := uuid.New()
	passwordHash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Ошибка хеширования пароля: %v", err)
	}

	_, err = db.Exec(`
		INSERT INTO agents (id, display_name, email, password_hash, role, chat_id, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email) DO NOTHING
	`, agentID, "Администратор", "admin@example.com", string(passwordHash), "admin", "", true)
	if err != nil {
		log.Fatalf("Ошибка создания тестового сотрудника: %v", err)
	}
	log.Printf("Создан тестовый сотрудник admin@example.com (ID: %s)", agentID)

	log.Println("Инициализация завершена")
}

func createTables(db *sql.DB) {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS clients (
			id          UUID PRIMARY KEY,
			name        TEXT NOT NULL,
			external_id TEXT NOT NULL UNIQUE,
			phone       TEXT,
			consent_at  TIMESTAMPTZ,
			owner_ref   TEXT,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id            UUID PRIMARY KEY,
			display_name  TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role          TEXT NOT NULL DEFAULT 'support',
			chat_id       TEXT,
			active        BOOLEAN NOT NULL DEFAULT true
		)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id                       UUID PRIMARY KEY,
			client_id                UUID NOT NULL REFERENCES clients(id),
			channel_id               TEXT,
			label                    TEXT NOT NULL,
			status                   TEXT NOT NULL DEFAULT 'open',
			assigned_to              UUID REFERENCES agents(id),
			created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
			closed_at                TIMESTAMPTZ,
			last_client_msg_at       TIMESTAMPTZ,
			last_staff_msg_at        TIMESTAMPTZ,
			last_reminder_at         TIMESTAMPTZ,
			last_unassigned_alert_at TIMESTAMPTZ,
			snooze_until             TIMESTAMPTZ
		)`,
		// Один незакрытый тикет на клиента: инвариант держит база, а не
		// только логика приложения
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_tickets_active_client
			ON tickets (client_id) WHERE status <> 'closed'`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_channel ON tickets (channel_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets (status)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id                  UUID PRIMARY KEY,
			ticket_id           UUID NOT NULL REFERENCES tickets(id),
			direction           TEXT NOT NULL CHECK (direction IN ('in','out')),
			external_message_id TEXT,
			text                TEXT,
			media_kind          TEXT,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_ticket ON messages (ticket_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			log.Fatalf("Ошибка создания схемы: %v\n%s", err, stmt)
		}
	}
	log.Println("Схема создана")
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
