package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haven-cms/eventcore/internal/command"
	"github.com/haven-cms/eventcore/internal/config"
	"github.com/haven-cms/eventcore/internal/content"
	"github.com/haven-cms/eventcore/internal/db"
	"github.com/haven-cms/eventcore/internal/logger"
	"github.com/haven-cms/eventcore/internal/model"
	"github.com/haven-cms/eventcore/internal/repository"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed demo articles through the command pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.Log.Level)

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		registry := command.NewRegistry()
		content.RegisterHandlers(registry)

		eventsRepo := repository.NewEventStore(sqlDB)
		snapshotsRepo := repository.NewSnapshotStore(sqlDB)
		outboxRepo := repository.NewOutboxStore(sqlDB)
		ledgerRepo := repository.NewCommandLedger(sqlDB)
		uow := repository.NewSQLUnitOfWork(sqlDB, eventsRepo, outboxRepo, ledgerRepo, snapshotsRepo)
		exec := command.NewExecutor(registry, uow, ledgerRepo, eventsRepo, snapshotsRepo, command.Options{
			Staleness:          cfg.Command.StalenessTimeout,
			MaxConflictRetries: cfg.Command.MaxConflictRetries,
			SnapshotEvery:      cfg.Command.SnapshotEvery,
			OutboxMaxRetries:   cfg.Command.OutboxMaxRetries,
		})

		log.Println(">> Seeding demo articles...")

		ctx := context.Background()
		drafts := []content.DraftArticlePayload{
			{Title: "Getting Started", Author: "alice"},
			{Title: "Release Notes", Author: "bob"},
			{Title: "Architecture Overview", Author: "carol"},
		}

		for i, d := range drafts {
			articleID := "article:" + uuid.NewString()
			payload, err := json.Marshal(d)
			if err != nil {
				return err
			}

			res, err := exec.Submit(ctx, model.Command{
				CommandID:     uuid.NewString(),
				CommandType:   content.CmdDraftArticle,
				AggregateID:   articleID,
				AggregateType: content.AggregateArticle,
				Payload:       payload,
			})
			if err != nil {
				return fmt.Errorf("draft %q: %w", d.Title, err)
			}
			log.Printf("drafted %s v%d (%s)", res.AggregateID, res.Version, d.Title)

			// submit the first one so the review saga has work to do
			if i == 0 {
				res, err = exec.Submit(ctx, model.Command{
					CommandID:     uuid.NewString(),
					CommandType:   content.CmdSubmitArticle,
					AggregateID:   articleID,
					AggregateType: content.AggregateArticle,
				})
				if err != nil {
					return fmt.Errorf("submit %q: %w", d.Title, err)
				}
				log.Printf("submitted %s v%d", res.AggregateID, res.Version)
			}
		}

		log.Println(">> Seed completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
