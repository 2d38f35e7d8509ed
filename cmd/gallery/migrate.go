package main

import (
	"fmt"

	"github.com/jmerrifield20/photogallery/internal/config"
	"github.com/jmerrifield20/photogallery/internal/database"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations (postgres) or ensure indexes (mongo)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.StoreDriver == config.DriverPostgres {
			if err := database.MigratePostgres(ctx, cfg.DatabaseURL); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		}

		// newApp and photoService create the mongo indexes as they connect.
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		if _, err := a.photoService(ctx); err != nil {
			return err
		}
		fmt.Println("mongo indexes ensured")
		return nil
	},
}
