package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soochol/tsupgrade/internal/config"
	"github.com/soochol/tsupgrade/internal/tsupgrade"
)

var errTimedOut = errors.New("run did not finish before the deadline")

func newRunCmd(load func() (*config.Config, error)) *cobra.Command {
	var p tsupgrade.RunParams

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Upgrade one repository and print the pull request URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			url, err := runOnce(ctx, cfg, p)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&p.Owner, "owner", "", "owner of the repository to upgrade")
	f.StringVar(&p.Repo, "repo", "", "repository to upgrade")
	f.StringVar(&p.Branch, "branch", "", "branch to upgrade (default: runs.default_branch)")
	f.StringVar(&p.RunID, "run-id", "", "record progress in the ledger under this id")
	f.StringVar(&p.Version, "version", "", "syntax level to target (default: latest)")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("repo")
	return cmd
}

// runOnce executes a guarded run and waits for it to unwind completely, so
// the ledger write and directory cleanup happen before the process exits.
func runOnce(ctx context.Context, cfg *config.Config, p tsupgrade.RunParams) (string, error) {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer a.Close()
	defer a.guard.Wait()

	out, err := a.guard.Run(ctx, p)
	if ctx.Err() != nil {
		// Interrupted: the run is detached from ctx, so cancel it here and
		// let it record its failure before the deferred Wait.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if serr := a.guard.Shutdown(shutdownCtx); serr != nil {
			err = errors.Join(err, fmt.Errorf("stop run: %w", serr))
		}
	}
	if err != nil {
		return "", err
	}
	if out.TimedOut {
		return "", fmt.Errorf("%w (%s)", errTimedOut, a.guard.Timeout())
	}
	return out.PullRequest.URL, nil
}
