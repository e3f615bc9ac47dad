package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cronkeeper/internal/app"
	"cronkeeper/internal/config"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var stopTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the keeper (agent, HTTP API, config hot reload)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.env()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(opts.configPath, env)
			if err != nil {
				return err
			}
			return serve(ctx, a, stopTimeout)
		},
	}
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "upper bound for graceful shutdown")
	return cmd
}

type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context, reason app.StopReason) error
	Done() <-chan struct{}
	Err() error
}

// serve starts a and blocks until ctx is canceled or a fails, then stops a
// within stopTimeout. A failed Start still stops whatever already runs.
func serve(ctx context.Context, a runner, stopTimeout time.Duration) error {
	stop := func(reason app.StopReason) {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = a.Stop(stopCtx, reason)
	}
	if err := a.Start(ctx); err != nil {
		stop(app.StopFatalError)
		return err
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	// The app context derives from ctx, so after a signal both are closed.
	if ctx.Err() != nil {
		stop(app.StopSignal)
		return nil
	}
	stop(app.StopFatalError)
	return a.Err()
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.env()
			if err != nil {
				return err
			}
			cfg, err := config.NewManager(opts.configPath, env).Parse()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d job(s), agent enabled=%t, storage=%q\n",
				len(cfg.Jobs), cfg.Agent.Enabled, cfg.Storage.Driver)
			return nil
		},
	}
}
