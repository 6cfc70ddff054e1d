package main

import (
	"github.com/spf13/cobra"

	"github.com/wildkoala/chronicle/adapters/postgres"
	"github.com/wildkoala/chronicle/config"
	"github.com/wildkoala/chronicle/conversation"
	"github.com/wildkoala/chronicle/core/es"
	"github.com/wildkoala/chronicle/readmodel"
)

func rebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Wipe and rebuild every read model from the event log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := newLogger(cfg.Log.Level)

			db, err := postgres.Open(cfg.Postgres.DSN)
			if err != nil {
				return err
			}
			if err := postgres.Migrate(log, db); err != nil {
				return err
			}

			events := es.NewEventRegistry()
			conversation.RegisterEvents(events)

			store := postgres.NewEventStore(log, db)
			projector := readmodel.NewProjector(log, postgres.NewReadModelStore(db), events)

			return projector.RebuildAll(cmd.Context(), store)
		},
	}
}
