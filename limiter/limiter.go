package limiter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Manager ограничивает частоту запросов по ключу фиксированным окном в Redis.
// При nil-клиенте (Redis не настроен) все запросы пропускаются.
type Manager struct {
	rdb *redis.Client
}

func NewManager(rdb *redis.Client) *Manager {
	return &Manager{rdb: rdb}
}

// Allow проверяет, укладывается ли ключ в limit запросов за window.
// Lua-скрипт атомарно выполняет INCR и EXPIRE.
func (m *Manager) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if m.rdb == nil {
		return true, nil
	}

	const script = `
		local key = KEYS[1]
		local limit = tonumber(ARGV[1])
		local window = tonumber(ARGV[2])

		local current = redis.call("INCR", key)
		if current == 1 then
			redis.call("EXPIRE", key, window)
		end
		if current > limit then
			return 0
		end
		return 1
	`

	result, err := m.rdb.Eval(ctx, script, []string{key}, limit, int(window.Seconds())).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}
