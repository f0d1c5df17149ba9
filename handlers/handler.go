package handlers

import (
	"github.com/raid177/supportdesk/acl"
	"github.com/raid177/supportdesk/config"
	"github.com/raid177/supportdesk/database"
	"github.com/raid177/supportdesk/lifecycle"
	"github.com/raid177/supportdesk/limiter"
	"github.com/raid177/supportdesk/relay"
	"github.com/raid177/supportdesk/transport"
	"github.com/raid177/supportdesk/websocket"
)

// Handler — тонкий командный слой над движком маршрутизации.
// Решения о том, что видит пользователь при ошибке, принимаются здесь.
type Handler struct {
	Store     database.Store
	Relay     *relay.Relay
	Lifecycle *lifecycle.Manager
	ACL       *acl.Cache
	Hub       *websocket.Hub
	Limiter   *limiter.Manager
	Transport transport.Transport
	Cfg       *config.Config
}

// New собирает командный слой
func New(store database.Store, r *relay.Relay, lc *lifecycle.Manager, aclCache *acl.Cache, hub *websocket.Hub, lim *limiter.Manager, tr transport.Transport, cfg *config.Config) *Handler {
	return &Handler{
		Store:     store,
		Relay:     r,
		Lifecycle: lc,
		ACL:       aclCache,
		Hub:       hub,
		Limiter:   lim,
		Transport: tr,
		Cfg:       cfg,
	}
}
