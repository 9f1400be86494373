package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/digitalinkpact/cryptopiggy/internal/api"
	"github.com/digitalinkpact/cryptopiggy/internal/backend"
	"github.com/digitalinkpact/cryptopiggy/internal/mode"
	"github.com/digitalinkpact/cryptopiggy/pkg/i18n"
	"github.com/digitalinkpact/cryptopiggy/pkg/market"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// loopInterval is the flag value, or one bar of the configured interval.
func loopInterval(flag time.Duration, interval string) time.Duration {
	if flag > 0 {
		return flag
	}
	if d := market.IntervalDuration(interval); d > 0 {
		return d
	}
	return time.Hour
}

func newRunCmd(o *rootOptions) *cobra.Command {
	var (
		cycles   int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop",
		Long: `Run fetches bars, evaluates the active strategy and trades through the risk
gate once per interval. --cycles 0 runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *App) error {
				a.startReconciler(ctx)
				err := a.Engine.RunCycles(ctx, cycles, loopInterval(interval, a.Engine.Config().Interval))
				a.Log.Info(i18n.M().ShuttingDown)
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&cycles, "cycles", "n", 0, "number of cycles (0 = until interrupted)")
	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "time between cycles (default: one bar)")
	return cmd
}

func newServeCmd(o *rootOptions) *cobra.Command {
	var (
		addr     string
		withBot  bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, optionally with the trading loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *App) error {
				if addr == "" {
					addr = ":" + a.Cfg.Port
				}
				srv := api.NewServer(a.Engine, a.Bus, a.Metrics, api.Options{JWTSecret: a.Cfg.JWTSecret}, a.Log)
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					a.Log.Info(fmt.Sprintf(i18n.M().ServerListening, strings.TrimPrefix(addr, ":")))
					return srv.Serve(gctx, addr)
				})
				if withBot {
					a.startReconciler(gctx)
					every := loopInterval(interval, a.Engine.Config().Interval)
					g.Go(func() error { return a.Engine.RunCycles(gctx, 0, every) })
				}
				err := g.Wait()
				a.Log.Info(i18n.M().ShuttingDown)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :$PORT)")
	cmd.Flags().BoolVar(&withBot, "bot", false, "also run the trading loop")
	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "time between cycles (default: one bar)")
	return cmd
}

func newStatusCmd(o *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show mode, equity, positions and daily counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *App) error {
				st := a.Engine.Status(ctx)
				w := cmd.OutOrStdout()
				if asJSON {
					return printJSON(w, st)
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "mode\t%s\n", st.Mode.Mode)
				fmt.Fprintf(tw, "venue\t%s\n", st.Venue)
				fmt.Fprintf(tw, "strategy\t%s (%s %s)\n", st.ActiveStrategy, st.Symbol, st.Interval)
				if st.EquityError != "" {
					fmt.Fprintf(tw, "equity\tunavailable: %s\n", st.EquityError)
				} else {
					fmt.Fprintf(tw, "equity\t$%.2f\n", st.Equity)
				}
				fmt.Fprintf(tw, "trades\t%d (realized pnl $%.2f)\n", st.TradeCount, st.RealizedPnL)
				fmt.Fprintf(tw, "today\t%d/%d trades, loss %.2f%%\n", st.DailyTrades, st.DailyTradeLimit, st.DailyLossPct*100)
				fmt.Fprintf(tw, "losses in a row\t%d\n", st.Performance.ConsecLosses)
				if st.EntriesPaused {
					fmt.Fprintln(tw, "entries\tpaused")
				}
				if st.Backend != nil {
					fmt.Fprintf(tw, "backend\tok=%t %s\n", st.Backend.OK, st.Backend.Message)
				}
				for _, p := range st.Positions {
					fmt.Fprintf(tw, "position\t%s qty=%.8f entry=%.2f value=$%.2f upnl=$%.2f\n",
						p.Symbol, p.Qty, p.EntryPrice, p.Value, p.UnrealizedPnL)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newOrderCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order <buy|sell> <symbol> <amount_usd>",
		Short: "Place one order through the risk gate",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			side := strings.ToLower(args[0])
			amount, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("amount %q: %w", args[2], err)
			}
			return o.withApp(cmd, func(ctx context.Context, a *App) error {
				res, err := a.Engine.PlaceOrder(ctx, side, strings.ToUpper(args[1]), amount)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	return cmd
}

func newLiveCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Enable or disable live trading",
	}

	var confirm string
	enable := &cobra.Command{
		Use:   "enable",
		Short: "Switch to live trading",
		Long: fmt.Sprintf(`Enable needs ALLOW_LIVE=true, an execution path (exchange keys or a
healthy backend) and the confirmation phrase:

  cryptopiggy live enable --confirm %q`, mode.ConfirmPhrase),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *App) error {
				if err := a.Engine.EnableLive(ctx, confirm); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), a.Engine.Status(ctx).Mode)
			})
		},
	}
	enable.Flags().StringVar(&confirm, "confirm", "", "confirmation phrase")

	var reason string
	disable := &cobra.Command{
		Use:   "disable",
		Short: "Return to paper trading",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *App) error {
				if err := a.Engine.DisableLive(ctx, reason); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), a.Engine.Status(ctx).Mode)
			})
		},
	}
	disable.Flags().StringVar(&reason, "reason", "disabled from cli", "reason recorded with the change")

	cmd.AddCommand(enable, disable)
	return cmd
}

func newHealthCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the backend proxy health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *App) error {
				st := a.Engine.BackendHealth(ctx)
				if err := printJSON(cmd.OutOrStdout(), st); err != nil {
					return err
				}
				if !st.OK {
					return errors.New(withBackendHint(st.Message))
				}
				return nil
			})
		},
	}
}

// withBackendHint appends what the operator should check to a backend
// transport failure.
func withBackendHint(msg string) string {
	switch {
	case strings.HasPrefix(msg, backend.ErrTimeout.Error()):
		return msg + " (check if the backend is running)"
	case strings.HasPrefix(msg, backend.ErrUnreachable.Error()):
		return msg + " (verify the backend URL and that the backend is up)"
	}
	return msg
}

func newReconcileCmd(o *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare ledger positions with exchange balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *App) error {
				svc := a.Reconciler()
				if svc == nil {
					return errors.New("reconcile needs an authenticated exchange session")
				}
				if force {
					svc.Active = nil
				}
				rep, err := svc.Reconcile(ctx)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
				if rep.HasDiffs() {
					return fmt.Errorf("%d position(s) not covered by the exchange", len(rep.Diffs))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "check even when not trading live")
	return cmd
}

func newTradesCmd(o *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List recent trades, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *App) error {
				trades, err := a.Engine.RecentTrades(ctx, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tSIDE\tSYMBOL\tUSD\tQTY\tPRICE\tPATH\tPNL")
				for _, t := range trades {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.8f\t%.2f\t%s\t%.2f\n",
						t.Time.Format(time.RFC3339), t.Side, t.Symbol, t.AmountUSD, t.Qty, t.Price, t.Path, t.RealizedPnL)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of trades")
	return cmd
}

func newTokenCmd(o *rootOptions) *cobra.Command {
	var (
		user string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, exp, err := api.GenerateToken(user, o.cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			o.log.Info("token issued", zap.String("user", user), zap.Time("expires_at", exp))
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "operator", "subject of the token")
	cmd.Flags().DurationVar(&ttl, "ttl", api.DefaultTokenTTL, "token lifetime")
	return cmd
}
