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

	"github.com/haven-cms/eventcore/internal/config"
	"github.com/haven-cms/eventcore/internal/db"
	"github.com/haven-cms/eventcore/internal/logger"
	"github.com/haven-cms/eventcore/internal/metrics"
	"github.com/haven-cms/eventcore/internal/projection"
	"github.com/haven-cms/eventcore/internal/repository"
	"github.com/haven-cms/eventcore/internal/subscription"
)

var projectorCmd = &cobra.Command{
	Use:   "projector",
	Short: "Run the activity projection",
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

		chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
			DSN:             cfg.ClickHouse.DSN,
			MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
			MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
			ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
			PingTimeout:     cfg.ClickHouse.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer chDB.Close()

		stream := subscription.NewStream(repository.NewEventStore(dbx))
		if cfg.Projection.BatchSize > 0 {
			stream.BatchSize = cfg.Projection.BatchSize
		}
		if cfg.Projection.PollInterval > 0 {
			stream.PollInterval = cfg.Projection.PollInterval
		}

		runner := &subscription.Runner{
			Name:        projection.ActivityName,
			Stream:      stream,
			Checkpoints: repository.NewCheckpointStore(dbx),
			Handle:      projection.ActivityHandler(projection.NewActivityRepository(chDB)),
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Printf(">> projector started projection=%s batchSize=%d poll=%s",
			projection.ActivityName, stream.BatchSize, stream.PollInterval)

		return runner.Run(ctx)
	},
}
