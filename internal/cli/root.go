// Package cli is the operator command line. Every command builds the same App
// from the environment, so the CLI and the API server see one set of rules.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/digitalinkpact/cryptopiggy/pkg/config"
)

type rootOptions struct {
	dryRun bool
	lang   string
	cfg    *config.Config
	log    *zap.Logger
}

// NewRootCmd returns the cryptopiggy command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "cryptopiggy",
		Short: "Safety-gated crypto trading bot",
		Long: `CryptoPiggy trades small amounts on a spot exchange behind hard risk limits.

Paper trading is the default. Live trading needs ALLOW_LIVE=true, a configured
execution path and the typed confirmation phrase.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.dryRun {
				cfg.DryRun = true
			}
			if opts.lang != "" {
				cfg.Language = opts.lang
			}
			log, err := NewLogger(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.log = log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.log != nil {
				_ = opts.log.Sync()
			}
		},
	}
	root.PersistentFlags().BoolVar(&opts.dryRun, "dry-run", false, "log live orders instead of sending them")
	root.PersistentFlags().StringVar(&opts.lang, "lang", "", "message language (en, zh); overrides LANGUAGE")

	root.AddCommand(
		newRunCmd(opts),
		newServeCmd(opts),
		newStatusCmd(opts),
		newOrderCmd(opts),
		newLiveCmd(opts),
		newBacktestCmd(opts),
		newHyperoptCmd(opts),
		newStrategyCmd(opts),
		newCredsCmd(opts),
		newHealthCmd(opts),
		newTradesCmd(opts),
		newReconcileCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// withApp bootstraps the App for one command and closes it afterwards.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *App) error) error {
	ctx := cmd.Context()
	a, err := Bootstrap(ctx, o.cfg, o.log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
