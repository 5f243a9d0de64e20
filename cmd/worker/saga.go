package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/haven-cms/eventcore/internal/command"
	"github.com/haven-cms/eventcore/internal/config"
	"github.com/haven-cms/eventcore/internal/content"
	"github.com/haven-cms/eventcore/internal/db"
	"github.com/haven-cms/eventcore/internal/logger"
	"github.com/haven-cms/eventcore/internal/metrics"
	"github.com/haven-cms/eventcore/internal/repository"
	"github.com/haven-cms/eventcore/internal/saga"
	"github.com/haven-cms/eventcore/internal/subscription"
)

var sagaCmd = &cobra.Command{
	Use:   "saga",
	Short: "Run the saga processor",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.Log.Level)

		metrics.MustRegister(prometheus.DefaultRegisterer)

		dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer dbx.Close()

		// command side: sagas issue commands through the same executor
		registry := command.NewRegistry()
		content.RegisterHandlers(registry)

		eventsRepo := repository.NewEventStore(dbx)
		snapshotsRepo := repository.NewSnapshotStore(dbx)
		outboxRepo := repository.NewOutboxStore(dbx)
		ledgerRepo := repository.NewCommandLedger(dbx)
		uow := repository.NewSQLUnitOfWork(dbx, eventsRepo, outboxRepo, ledgerRepo, snapshotsRepo)
		exec := command.NewExecutor(registry, uow, ledgerRepo, eventsRepo, snapshotsRepo, command.Options{
			Staleness:          cfg.Command.StalenessTimeout,
			MaxConflictRetries: cfg.Command.MaxConflictRetries,
			SnapshotEvery:      cfg.Command.SnapshotEvery,
			OutboxMaxRetries:   cfg.Command.OutboxMaxRetries,
		})

		sagas := saga.NewRegistry()
		content.RegisterSagas(sagas)
		processor := saga.NewProcessor(sagas, repository.NewSagaStore(dbx), exec)

		stream := subscription.NewStream(eventsRepo)
		if cfg.Saga.BatchSize > 0 {
			stream.BatchSize = cfg.Saga.BatchSize
		}
		if cfg.Saga.PollInterval > 0 {
			stream.PollInterval = cfg.Saga.PollInterval
		}

		runner := &subscription.Runner{
			Name:        "saga-processor",
			Stream:      stream,
			Checkpoints: repository.NewCheckpointStore(dbx),
			Handle:      processor.HandleEvent,
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Printf(">> saga worker started batchSize=%d poll=%s", stream.BatchSize, stream.PollInterval)

		return runner.Run(ctx)
	},
}
