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
	"github.com/haven-cms/eventcore/internal/kafka"
	"github.com/haven-cms/eventcore/internal/logger"
	"github.com/haven-cms/eventcore/internal/metrics"
	"github.com/haven-cms/eventcore/internal/publisher"
	"github.com/haven-cms/eventcore/internal/repository"
	"github.com/haven-cms/eventcore/internal/webhook"
)

var publisherCmd = &cobra.Command{
	Use:   "publisher",
	Short: "Run the outbox publisher pool",
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

		var transport publisher.Transport
		switch cfg.Publisher.Transport {
		case "", "kafka":
			producer := kafka.NewProducerFromConfig(kafka.Config{
				Brokers:      cfg.Kafka.Brokers,
				BatchTimeout: cfg.Kafka.BatchTimeout,
				WriteTimeout: cfg.Kafka.WriteTimeout,
				RequiredAcks: cfg.Kafka.RequiredAcks,
			})
			defer producer.Close()
			transport = producer
		case "webhook":
			transport = webhook.NewTransport(cfg.Webhook.Destinations, webhook.Config{
				Timeout:       cfg.Webhook.Timeout,
				FailThreshold: cfg.Webhook.FailThreshold,
				OpenFor:       cfg.Webhook.OpenFor,
				Attempts:      cfg.Webhook.Attempts,
			})
		default:
			return fmt.Errorf("unknown publisher transport %q", cfg.Publisher.Transport)
		}

		p := publisher.New(repository.NewOutboxStore(dbx), transport)
		if cfg.Publisher.WorkerCount > 0 {
			p.Workers = cfg.Publisher.WorkerCount
		}
		if cfg.Publisher.BatchSize > 0 {
			p.BatchSize = cfg.Publisher.BatchSize
		}
		if cfg.Publisher.PollInterval > 0 {
			p.PollInterval = cfg.Publisher.PollInterval
		}
		if cfg.Publisher.ClaimLease > 0 {
			p.ClaimLease = cfg.Publisher.ClaimLease
		}
		if cfg.Publisher.DispatchTimeout > 0 {
			p.DispatchTimeout = cfg.Publisher.DispatchTimeout
		}
		if cfg.Publisher.BackoffBase > 0 {
			p.BackoffBase = cfg.Publisher.BackoffBase
		}
		if cfg.Publisher.BackoffCap > 0 {
			p.BackoffCap = cfg.Publisher.BackoffCap
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Printf(">> publisher started transport=%s workers=%d batchSize=%d poll=%s",
			cfg.Publisher.Transport, p.Workers, p.BatchSize, p.PollInterval)

		return p.Run(ctx)
	},
}
