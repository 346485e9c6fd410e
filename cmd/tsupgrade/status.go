package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soochol/tsupgrade/internal/config"
	"github.com/soochol/tsupgrade/internal/repository"
	"github.com/soochol/tsupgrade/internal/services"
)

var errNotRecorded = errors.New("run not recorded")

func newStatusCmd(load func() (*config.Config, error)) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Print the recorded status of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			ledger, closer, err := repository.OpenRunLedger(ctx, cfg.Ledger.URL, cfg.Ledger.Table)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer closer.Close()

			rec, err := services.NewStatusQuery(ledger).Get(ctx, args[0], owner)
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("%w: %s", errNotRecorded, args[0])
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner partition to search (default: any)")
	return cmd
}
