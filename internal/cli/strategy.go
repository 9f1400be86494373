package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/digitalinkpact/cryptopiggy/internal/engine"
	"github.com/digitalinkpact/cryptopiggy/internal/strategy"
)

// backtestFlags are shared by backtest and hyperopt.
type backtestFlags struct {
	strategy string
	symbol   string
	interval string
	bars     int
	params   map[string]string
	ml       bool
	noML     bool
	asJSON   bool
}

func (f *backtestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.strategy, "strategy", "s", "", "strategy name (default: active)")
	cmd.Flags().StringVar(&f.symbol, "symbol", "", "symbol (default: SYMBOL)")
	cmd.Flags().StringVar(&f.interval, "interval", "", "bar interval (default: INTERVAL)")
	cmd.Flags().IntVar(&f.bars, "bars", 0, "number of bars")
	cmd.Flags().StringToStringVarP(&f.params, "param", "p", nil, "parameter override key=value")
	cmd.Flags().BoolVar(&f.ml, "ml", false, "gate entries with the predictor")
	cmd.Flags().BoolVar(&f.noML, "no-ml", false, "ignore the strategy's use_ml setting")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print JSON")
	cmd.MarkFlagsMutuallyExclusive("ml", "no-ml")
}

func (f *backtestFlags) request() engine.BacktestRequest {
	req := engine.BacktestRequest{
		Strategy: f.strategy,
		Symbol:   f.symbol,
		Interval: f.interval,
		Bars:     f.bars,
		Params:   parseParams(f.params),
	}
	switch {
	case f.ml:
		v := true
		req.UseML = &v
	case f.noML:
		v := false
		req.UseML = &v
	}
	return req
}

// parseParams turns CLI strings into numbers or bools where they parse.
func parseParams(raw map[string]string) strategy.Params {
	if len(raw) == 0 {
		return nil
	}
	p := make(strategy.Params, len(raw))
	for k, v := range raw {
		if i, err := strconv.Atoi(v); err == nil {
			p[k] = i
		} else if fl, err := strconv.ParseFloat(v, 64); err == nil {
			p[k] = fl
		} else if b, err := strconv.ParseBool(v); err == nil {
			p[k] = b
		} else {
			p[k] = v
		}
	}
	return p
}

func newBacktestCmd(o *rootOptions) *cobra.Command {
	f := &backtestFlags{}
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay a strategy over historical bars",
		Long: `Backtest runs a strategy over exchange bars (synthetic bars when the exchange
is unreachable) with the same position sizing as the bot loop.

Example:
  cryptopiggy backtest -s sma_crossover -p short_window=10 -p long_window=30 --bars 1000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *App) error {
				rep, err := a.Engine.Backtest(ctx, f.request())
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if f.asJSON {
					return printJSON(w, rep)
				}
				r := rep.Result
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "strategy\t%s %s\n", rep.Strategy, formatParams(rep.Params))
				fmt.Fprintf(tw, "market\t%s %s, %d bars\n", rep.Symbol, r.Interval, r.Bars)
				fmt.Fprintf(tw, "total return\t%.2f%%\n", r.TotalReturn*100)
				fmt.Fprintf(tw, "max drawdown\t%.2f%%\n", r.MaxDrawdown*100)
				fmt.Fprintf(tw, "sharpe\t%.3f\n", r.Sharpe)
				fmt.Fprintf(tw, "fills\t%d\n", len(r.Fills))
				fmt.Fprintf(tw, "final equity\t$%.2f\n", r.FinalEquity())
				return tw.Flush()
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newHyperoptCmd(o *rootOptions) *cobra.Command {
	var (
		f      = &backtestFlags{}
		trials int
		seed   int64
		apply  bool
	)
	cmd := &cobra.Command{
		Use:   "hyperopt",
		Short: "Random-search strategy parameters by backtest return",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *App) error {
				rep, err := a.Engine.Hyperopt(ctx, engine.HyperoptRequest{
					BacktestRequest: f.request(),
					Trials:          trials,
					Seed:            seed,
					Apply:           apply,
				})
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if f.asJSON {
					return printJSON(w, rep)
				}
				opt := rep.Optimization
				if opt.Best == nil {
					fmt.Fprintf(w, "%s: no valid trial in %d\n", rep.Strategy, len(opt.Trials))
					return nil
				}
				fmt.Fprintf(w, "%s best of %d trials: %s return %.2f%%\n",
					rep.Strategy, len(opt.Trials), formatParams(opt.Best), opt.BestScore*100)
				if rep.Applied {
					fmt.Fprintln(w, "parameters saved")
				}
				return nil
			})
		},
	}
	f.register(cmd)
	cmd.Flags().IntVar(&trials, "trials", 20, "number of samples")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().BoolVar(&apply, "apply", false, "save the best parameters")
	return cmd
}

func newStrategyCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategy",
		Short: "List or select strategies",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List strategies and their parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *App) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, info := range a.Engine.Strategies() {
					marker := " "
					if info.Active {
						marker = "*"
					}
					fmt.Fprintf(tw, "%s %s\t%s\n", marker, info.Name, formatParams(info.Params))
				}
				return tw.Flush()
			})
		},
	}
	use := &cobra.Command{
		Use:   "use <name>",
		Short: "Make a strategy active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *App) error {
				return a.Engine.SetActiveStrategy(ctx, args[0])
			})
		},
	}
	var params map[string]string
	set := &cobra.Command{
		Use:   "set <name>",
		Short: "Change strategy parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(params) == 0 {
				return fmt.Errorf("at least one --param is required")
			}
			return o.withApp(cmd, func(ctx context.Context, a *App) error {
				return a.Engine.ConfigureStrategy(ctx, args[0], parseParams(params))
			})
		},
	}
	set.Flags().StringToStringVarP(&params, "param", "p", nil, "parameter key=value")
	cmd.AddCommand(list, use, set)
	return cmd
}

func formatParams(p strategy.Params) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%v", k, p[k])
	}
	return out
}
