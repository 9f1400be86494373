package exchange

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// Stablecoins are valued at par.
var Stablecoins = map[string]bool{"USDT": true, "USD": true, "USDC": true, "BUSD": true, "FDUSD": true}

// Equity values the account in USD: stablecoins at par, other assets through
// their <ASSET>/USDT ticker. Assets without a price are skipped and logged.
func (a *Adapter) Equity(ctx context.Context) (float64, error) {
	bal, err := a.Balance(ctx)
	if err != nil {
		return 0, err
	}

	assets := make([]string, 0, len(bal.Total))
	for asset := range bal.Total {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	total := 0.0
	for _, asset := range assets {
		amount := bal.Total[asset]
		if amount <= 0 {
			continue
		}
		if Stablecoins[asset] {
			total += amount
			continue
		}
		price, err := a.Ticker(ctx, asset+"/USDT")
		if err != nil {
			a.log.Warn("skipping unpriced asset", zap.String("asset", asset), zap.Error(err))
			continue
		}
		total += amount * price
	}
	return total, nil
}
