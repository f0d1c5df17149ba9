package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdesk_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supportdesk_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Бизнес-метрики
	MessagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdesk_messages_relayed_total",
			Help: "Total messages relayed between clients and staff",
		},
		[]string{"direction"}, // "in" или "out"
	)

	TicketsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportdesk_tickets_created_total",
			Help: "Total tickets created",
		},
	)

	ChannelsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportdesk_channels_created_total",
			Help: "Total staff channels created",
		},
	)

	ChannelsRebound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportdesk_channels_rebound_total",
			Help: "Total lost channels transparently re-created",
		},
	)

	RemindersSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportdesk_reminders_sent_total",
			Help: "Total idle reminders sent to assigned agents",
		},
	)

	EscalationsRaised = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportdesk_escalations_raised_total",
			Help: "Total unassigned-ticket escalations raised",
		},
	)

	ACLRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportdesk_acl_refreshes_total",
			Help: "Total ACL cache refreshes",
		},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdesk_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
