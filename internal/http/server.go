package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/alexey-tyurin/messaging-service/internal/config"
	"github.com/alexey-tyurin/messaging-service/internal/http/middleware"
	"github.com/alexey-tyurin/messaging-service/internal/lifecycle"
	"github.com/alexey-tyurin/messaging-service/internal/metrics"
	"github.com/alexey-tyurin/messaging-service/internal/provider"
	"github.com/alexey-tyurin/messaging-service/internal/queue"
	"github.com/alexey-tyurin/messaging-service/internal/ratelimit"
	"github.com/alexey-tyurin/messaging-service/internal/repository"
	"github.com/alexey-tyurin/messaging-service/internal/service/intake"
	"github.com/alexey-tyurin/messaging-service/internal/webhook"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client, q queue.Queue, gw *provider.Gateway) *Server {
	// repos (MySQL)
	messagesRepo := repository.NewMessagesRepository(mysqlDB)
	eventsRepo := repository.NewEventsRepository(mysqlDB)
	conversationsRepo := repository.NewConversationsRepository(mysqlDB)

	// repos (ClickHouse)
	reportsRepo := repository.NewReportsRepository(clickhouseDB)

	// services
	intakeSvc := intake.NewService(mysqlDB, messagesRepo, eventsRepo, conversationsRepo, q, gw, cfg.Retry.MaxRetries)
	machine := lifecycle.NewMachine(mysqlDB, messagesRepo, eventsRepo)
	dedup := webhook.NewRedisDedup(rds, time.Hour)
	reconciler := webhook.NewReconciler(mysqlDB, messagesRepo, eventsRepo, conversationsRepo, gw, machine, dedup)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Limiter:  ratelimit.NewLimiter(rds),
		Limit:    cfg.RateLimit.Limit,
		Window:   cfg.RateLimit.Window,
		Endpoint: "messages",
	})

	// routes
	v1 := e.Group("/v1")
	v1.POST("/messages", sendMessageHandler(intakeSvc), rlMW)
	v1.GET("/messages/:id", messageStatusHandler(messagesRepo, eventsRepo))
	v1.GET("/conversations/:id/messages", conversationMessagesHandler(reportsRepo))

	// provider callbacks are authenticated by signature, not rate limited
	e.POST("/webhooks/:provider", webhookHandler(reconciler))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
