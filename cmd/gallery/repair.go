package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var repairCmd = &cobra.Command{
	Use:   "repair-accounts",
	Short: "Rebuild login methods for accounts stored in the legacy format",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.accounts.RepairLegacy(ctx)
		if err != nil {
			return fmt.Errorf("repair: %w", err)
		}
		fmt.Printf("repaired %d account(s)\n", n)
		return nil
	},
}
