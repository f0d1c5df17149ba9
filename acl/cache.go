package acl

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/raid177/supportdesk/metrics"
	"github.com/raid177/supportdesk/models"
)

// AgentSource отдаёт активных сотрудников из хранилища
type AgentSource interface {
	ListActiveAgents(ctx context.Context) ([]models.Agent, error)
}

// MemberSource отдаёт участников канала из чат-транспорта
type MemberSource interface {
	GetChannelMembers(ctx context.Context, channelID string) ([]string, error)
}

// Cache хранит текущий набор идентичностей, которым разрешено действовать
// от имени поддержки. Единственный долгоживущий разделяемый объект системы;
// вся мутация идёт через Refresh, параллельные вызовы которого схлопываются
// в один запрос к источникам.
type Cache struct {
	agents       AgentSource
	members      MemberSource
	staffChannel string // служебный канал, участники которого тоже попадают в ACL
	ttl          time.Duration

	group singleflight.Group

	mu          sync.RWMutex
	allowed     map[string]struct{}
	refreshedAt time.Time
}

// NewCache создаёт кэш. staffChannel может быть пустым — тогда набор
// строится только по активным сотрудникам.
func NewCache(agents AgentSource, members MemberSource, staffChannel string, ttl time.Duration) *Cache {
	return &Cache{
		agents:       agents,
		members:      members,
		staffChannel: staffChannel,
		ttl:          ttl,
		allowed:      make(map[string]struct{}),
	}
}

// IsAllowed сообщает, входит ли идентичность в набор поддержки.
// Если кэш устарел, сначала выполняется (возможно, совмещённый) Refresh;
// при ошибке обновления отвечаем по устаревшему набору.
func (c *Cache) IsAllowed(ctx context.Context, userID string) bool {
	if c.stale() {
		if err := c.Refresh(ctx); err != nil {
			log.Printf("ACL: обновление не удалось, отвечаем по старому набору: %v", err)
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.allowed[userID]
	return ok
}

func (c *Cache) stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.refreshedAt) >= c.ttl
}

// Refresh пересчитывает набор по хранилищу сотрудников и участникам
// служебного канала. Конкурентные вызовы совмещаются: транспорт и база
// опрашиваются один раз.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		set := make(map[string]struct{})

		agents, err := c.agents.ListActiveAgents(ctx)
		if err != nil {
			return nil, err
		}
		for _, a := range agents {
			set[a.ID.String()] = struct{}{}
			if a.ChatID != "" {
				set[a.ChatID] = struct{}{}
			}
		}

		if c.staffChannel != "" && c.members != nil {
			ids, err := c.members.GetChannelMembers(ctx, c.staffChannel)
			if err != nil {
				// Транспорт недоступен — набор из базы всё равно полезен
				log.Printf("ACL: участники канала %s недоступны: %v", c.staffChannel, err)
			} else {
				for _, id := range ids {
					set[id] = struct{}{}
				}
			}
		}

		c.mu.Lock()
		c.allowed = set
		c.refreshedAt = time.Now()
		c.mu.Unlock()

		metrics.ACLRefreshes.Inc()
		log.Printf("ACL: набор обновлён, идентичностей: %d", len(set))
		return nil, nil
	})
	return err
}

// Size возвращает размер текущего набора (для /metrics и отладки)
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.allowed)
}
