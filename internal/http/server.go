package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/haven-cms/eventcore/internal/command"
	"github.com/haven-cms/eventcore/internal/config"
	"github.com/haven-cms/eventcore/internal/http/middleware"
	"github.com/haven-cms/eventcore/internal/metrics"
	"github.com/haven-cms/eventcore/internal/projection"
	"github.com/haven-cms/eventcore/internal/repository"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, registry *command.Registry, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client) *Server {
	// repos (MySQL)
	eventsRepo := repository.NewEventStore(mysqlDB)
	snapshotsRepo := repository.NewSnapshotStore(mysqlDB)
	outboxRepo := repository.NewOutboxStore(mysqlDB)
	ledgerRepo := repository.NewCommandLedger(mysqlDB)
	sagasRepo := repository.NewSagaStore(mysqlDB)

	// repos (ClickHouse)
	activityRepo := projection.NewActivityRepository(clickhouseDB)

	// executor (ledger + rehydrate + atomic append/outbox commit)
	uow := repository.NewSQLUnitOfWork(mysqlDB, eventsRepo, outboxRepo, ledgerRepo, snapshotsRepo)
	exec := command.NewExecutor(registry, uow, ledgerRepo, eventsRepo, snapshotsRepo, command.Options{
		Staleness:          cfg.Command.StalenessTimeout,
		MaxConflictRetries: cfg.Command.MaxConflictRetries,
		SnapshotEvery:      cfg.Command.SnapshotEvery,
		OutboxMaxRetries:   cfg.Command.OutboxMaxRetries,
	})

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
		Redis:          rds,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:submit:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1")
	v1.POST("/commands", submitCommandHandler(exec), rlMW)
	v1.GET("/aggregates/:id/events", listEventsHandler(eventsRepo))
	v1.GET("/outbox/failed", listFailedOutboxHandler(outboxRepo))
	v1.POST("/outbox/:id/retry", retryOutboxHandler(outboxRepo))
	v1.GET("/sagas/stuck", listStuckSagasHandler(sagasRepo))
	v1.GET("/reports/activity", activityReportHandler(activityRepo))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
