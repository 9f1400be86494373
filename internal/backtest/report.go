package backtest

import (
	"fmt"
	"io"
	"sort"
)

// WriteReport prints a summary of r.
func WriteReport(w io.Writer, name string, r *Result) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Backtest Result")
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintf(w, "Strategy:      %s\n", name)
	fmt.Fprintf(w, "Timeframe:     %s\n", r.Interval)
	fmt.Fprintf(w, "Bars:          %d\n", r.Bars)
	fmt.Fprintf(w, "Trades:        %d\n", r.Trades())
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Final Equity:  %.2f\n", r.FinalEquity())
	fmt.Fprintf(w, "Total Return:  %.2f%%\n", r.TotalReturn*100)
	fmt.Fprintf(w, "Max Drawdown:  %.2f%%\n", r.MaxDrawdown*100)
	fmt.Fprintf(w, "Sharpe:        %.2f\n", r.Sharpe)
	fmt.Fprintln(w, "==================================================")
}

// WriteOptimization prints the best parameter set.
func WriteOptimization(w io.Writer, name string, o *Optimization) {
	if o.Best == nil {
		fmt.Fprintf(w, "%s: no valid trial in %d attempts\n", name, len(o.Trials))
		return
	}
	keys := make([]string, 0, len(o.Best))
	for k := range o.Best {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "Best params for %s (score %.2f%%):\n", name, o.BestScore*100)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-14s %v\n", k, o.Best[k])
	}
}
