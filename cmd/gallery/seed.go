package main

import (
	"errors"
	"fmt"

	"github.com/jmerrifield20/photogallery/internal/accounts"
	"github.com/spf13/cobra"
)

// Running twice is safe: accounts that already exist are skipped.
var seedAccounts = []accounts.RegisterInput{
	{
		Email:     "admin@gallery.local",
		Password:  "gallery-admin-dev",
		FirstName: "Ada",
		LastName:  "Admin",
		Role:      string(accounts.RoleAdmin),
		StudentID: "S0000001",
	},
	{
		Email:     "photographer@gallery.local",
		Password:  "gallery-photo-dev",
		FirstName: "Pat",
		LastName:  "Lens",
		Role:      string(accounts.RolePhotographer),
	},
	{
		Email:     "viewer@gallery.local",
		Password:  "gallery-viewer-dev",
		FirstName: "Val",
		LastName:  "Viewer",
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create demo accounts for local development",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		for _, in := range seedAccounts {
			_, err := a.accounts.Register(ctx, in)
			switch {
			case errors.Is(err, accounts.ErrDuplicateEmail):
				fmt.Printf("  ~ %s (exists)\n", in.Email)
			case err != nil:
				return fmt.Errorf("seed %s: %w", in.Email, err)
			default:
				fmt.Printf("  + %s\n", in.Email)
			}
		}
		return nil
	},
}
