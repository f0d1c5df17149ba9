package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/raid177/supportdesk/acl"
	"github.com/raid177/supportdesk/binder"
	"github.com/raid177/supportdesk/config"
	"github.com/raid177/supportdesk/database"
	"github.com/raid177/supportdesk/events"
	"github.com/raid177/supportdesk/handlers"
	"github.com/raid177/supportdesk/lifecycle"
	"github.com/raid177/supportdesk/limiter"
	"github.com/raid177/supportdesk/middleware"
	"github.com/raid177/supportdesk/relay"
	"github.com/raid177/supportdesk/scheduler"
	"github.com/raid177/supportdesk/transport"
	"github.com/raid177/supportdesk/websocket"
)

func main() {
	// Конфигурация
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Ошибка конфигурации: %v", err)
	}
	middleware.SetJWTKey(cfg.JWTSecret)

	// Контекст процесса: завершение по SIGINT/SIGTERM, текущие циклы
	// планировщиков дорабатывают до конца
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// База данных
	store, err := database.Open(cfg.DSN())
	if err != nil {
		log.Fatalf("Ошибка подключения к базе данных: %v", err)
	}
	defer store.Close()

	// Чат-транспорт
	tg := transport.NewTelegram(cfg.TelegramToken, cfg.StaffGroupID)

	// Kafka: события жизненного цикла (no-op без брокеров)
	producer := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	// Redis: ограничение частоты вебхука (no-op без REDIS_ADDR)
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}
	lim := limiter.NewManager(rdb)

	// ACL кэш и прогрев
	aclCache := acl.NewCache(store, tg, cfg.StaffGroupID, cfg.ACLTTL)
	if err := aclCache.Refresh(ctx); err != nil {
		log.Printf("Первичное обновление ACL не удалось: %v", err)
	}

	// WebSocket хаб панели операторов
	hub := websocket.NewHub()
	go hub.Run(ctx)

	// Движок маршрутизации
	lc := lifecycle.NewManager(store, producer)
	bnd := binder.NewBinder(store, tg)
	rl := relay.NewRelay(store, tg, lc, bnd, hub)
	lc.SetNotifier(rl)
	lc.SetChannelCloser(bnd)

	// Планировщики
	go scheduler.NewReminder(store, tg, cfg.PingInterval, cfg.IdleThreshold).Run(ctx)
	go scheduler.NewEscalation(store, tg, hub, cfg.OperatorChatID, cfg.PingInterval, cfg.UnassignedThreshold).Run(ctx)

	// HTTP
	h := handlers.New(store, rl, lc, aclCache, hub, lim, tg, cfg)

	r := gin.Default()
	r.Use(middleware.Logger())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	api := r.Group("/api")
	{
		api.POST("/auth/login", h.Login)

		// Вебхуки чат-транспорта
		api.POST("/webhook", h.Webhook)
		api.POST("/channel-post", h.ChannelPostHandler)

		// Защищённые маршруты панели операторов
		authorized := api.Group("/")
		authorized.Use(middleware.AuthMiddleware(aclCache))
		{
			tickets := authorized.Group("/tickets")
			{
				tickets.GET("", h.GetTickets)
				tickets.GET("/:id/messages", h.GetTicketMessages)
				tickets.POST("/:id/reply", h.Reply)
				tickets.POST("/:id/assign", h.Assign)
				tickets.POST("/:id/close", h.CloseTicket)
				tickets.POST("/:id/reopen", h.ReopenTicket)
				tickets.POST("/:id/snooze", h.SnoozeTicket)
			}
		}
	}

	r.GET("/ws", h.ServeWs)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: r,
	}

	go func() {
		log.Printf("Сервер запущен на %s", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Ошибка запуска сервера: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Получен сигнал завершения, останавливаемся...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Ошибка остановки HTTP сервера: %v", err)
	}
}
