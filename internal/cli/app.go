package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/digitalinkpact/cryptopiggy/internal/backend"
	"github.com/digitalinkpact/cryptopiggy/internal/credentials"
	"github.com/digitalinkpact/cryptopiggy/internal/engine"
	"github.com/digitalinkpact/cryptopiggy/internal/events"
	"github.com/digitalinkpact/cryptopiggy/internal/exchange"
	"github.com/digitalinkpact/cryptopiggy/internal/ledger"
	"github.com/digitalinkpact/cryptopiggy/internal/mode"
	"github.com/digitalinkpact/cryptopiggy/internal/monitor"
	"github.com/digitalinkpact/cryptopiggy/internal/notify"
	"github.com/digitalinkpact/cryptopiggy/internal/order"
	"github.com/digitalinkpact/cryptopiggy/internal/persistence"
	"github.com/digitalinkpact/cryptopiggy/internal/predict"
	"github.com/digitalinkpact/cryptopiggy/internal/reconciliation"
	"github.com/digitalinkpact/cryptopiggy/internal/risk"
	"github.com/digitalinkpact/cryptopiggy/internal/strategy"
	"github.com/digitalinkpact/cryptopiggy/pkg/cache"
	"github.com/digitalinkpact/cryptopiggy/pkg/config"
	"github.com/digitalinkpact/cryptopiggy/pkg/db"
	"github.com/digitalinkpact/cryptopiggy/pkg/exchanges"
	"github.com/digitalinkpact/cryptopiggy/pkg/i18n"
	"github.com/digitalinkpact/cryptopiggy/pkg/market"
)

const (
	healthCacheTTL  = 30 * time.Second
	defaultVenue    = "binanceus"
	syntheticSeed   = 42
	notifyTimeout   = 5 * time.Second
	closeSaveWindow = 10 * time.Second
	dbOpenTimeout   = 5 * time.Second
)

// App is the wired bot.
type App struct {
	Cfg     *config.Config
	Log     *zap.Logger
	Bus     *events.Bus
	Metrics *monitor.SystemMetrics
	Engine  *engine.Engine
	Creds   *credentials.Store
	Record  credentials.Record
	Backend *backend.Cached
	Adapter *exchange.Adapter

	loaded   bool
	cancel   context.CancelFunc
	notified <-chan struct{}
	closers  []func() error
}

// Bootstrap builds every component from cfg and loads saved state. Close
// must be called when done.
func Bootstrap(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	lang := i18n.ParseLanguage(cfg.Language)
	i18n.SetLanguage(lang)

	a := &App{
		Cfg:     cfg,
		Log:     log,
		Bus:     events.NewBus(),
		Metrics: monitor.NewSystemMetrics(),
	}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if err := a.loadCredentials(); err != nil {
		return nil, err
	}

	gate := risk.NewGate(riskSettings(cfg), cfg.AllowedSymbols, log)
	mc := mode.New(mode.Options{
		AllowLive:    cfg.AllowLive,
		ConfirmToken: cfg.LiveConfirmToken,
		DryRun:       cfg.DryRun,
	})
	router := order.NewRouter(order.Config{
		Venue:          a.venue(),
		PaperPrice:     cfg.PaperPrice,
		PaperEquity:    cfg.PaperStartingEquity,
		PaperLossCheck: cfg.RiskPaperLossCheck,
	}, mc, gate, ledger.New(), log)

	if err := a.openExchange(router); err != nil {
		return nil, err
	}

	client := backend.NewClient(firstNonEmpty(a.Record.BackendURL, cfg.BackendURL), cfg.BackendTimeout, log)
	a.Backend = backend.NewCached(client, healthCacheTTL)
	backendOn := cfg.BackendEnabled || a.Record.Validated
	router.SetBackend(a.Backend, a.Record.UserID, backendOn)

	store, history, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	registry := strategy.NewRegistry()
	if err := loadStrategies(registry, cfg.StrategiesPath, log); err != nil {
		return nil, err
	}

	predictor, err := a.openPredictor()
	if err != nil {
		return nil, err
	}

	var primary market.Source
	if a.Adapter != nil {
		primary = a.Adapter
	}
	bars := &market.Fallback{
		Primary:   primary,
		Secondary: market.NewSynthetic(cfg.PaperPrice, syntheticSeed),
		OnError: func(err error) {
			log.Warn("exchange bars unavailable, using synthetic data", zap.Error(err))
		},
	}

	a.Engine = engine.New(engine.Config{
		Venue:    a.venue(),
		Symbol:   cfg.DefaultSymbol,
		Interval: cfg.Interval,
	}, engine.Deps{
		Router:    router,
		Registry:  registry,
		Bars:      bars,
		Predictor: predictor,
		Store:     store,
		Trades:    history,
		Bus:       a.Bus,
		Metrics:   a.Metrics,
		Logger:    log,
	})
	if err := a.Engine.Load(ctx); err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	a.loaded = true

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	(&monitor.Monitor{Bus: a.Bus, Metrics: a.Metrics, Log: log}).Start(bg)
	out := notify.New(notify.Options{
		TelegramToken:  cfg.TelegramBotToken,
		TelegramChatID: cfg.TelegramChatID,
		WebhookURL:     cfg.NotifyWebhookURL,
		Timeout:        notifyTimeout,
	}, log)
	a.notified = notify.NewDispatcher(a.Bus, out, lang, log).Start(bg)

	snap := mc.Snapshot()
	log.Info(fmt.Sprintf(i18n.M().Starting, snap.Mode),
		zap.String("venue", a.venue()),
		zap.Bool("exchange_authenticated", a.Adapter != nil && a.Adapter.Authenticated()),
		zap.Bool("backend_enabled", snap.BackendEnabled))
	if snap.DryRun {
		log.Warn(i18n.M().DryRunMode)
	}
	ok = true
	return a, nil
}

func (a *App) loadCredentials() error {
	key, err := credentials.Key(a.Cfg.CredentialsKey)
	if err != nil {
		return fmt.Errorf("credentials key: %w", err)
	}
	store, err := credentials.NewStore(a.Cfg.CredentialsPath, key, a.Log)
	if err != nil {
		return err
	}
	a.Creds = store
	a.Record = store.Load(credentials.Defaults{
		UserID:     a.Cfg.BackendUserID,
		Exchange:   a.Cfg.Exchange,
		APIKey:     a.Cfg.ExchangeAPIKey,
		APISecret:  a.Cfg.ExchangeAPISecret,
		BackendURL: a.Cfg.BackendURL,
	})
	return nil
}

// venue is the exchange name used for sessions and backend requests.
func (a *App) venue() string {
	v := strings.ToLower(firstNonEmpty(a.Record.Exchange, a.Cfg.Exchange))
	if v == "" || v == "paper" {
		return defaultVenue
	}
	return v
}

func (a *App) openExchange(router *order.Router) error {
	name := strings.ToLower(firstNonEmpty(a.Record.Exchange, a.Cfg.Exchange))
	session, err := exchanges.Open(exchanges.Options{
		Venue:     name,
		APIKey:    a.Record.APIKey,
		APISecret: a.Record.APISecret,
		Testnet:   a.Cfg.ExchangeTestnet,
	}, a.Log)
	switch {
	case errors.Is(err, exchanges.ErrPaperVenue):
		return nil
	case err != nil:
		return err
	}
	a.Adapter = exchange.NewAdapter(session, a.Log,
		exchange.WithPriceCache(cache.NewPrices(a.Cfg.TickerCacheTTL)),
		exchange.WithObserver(func(op string, d time.Duration) {
			a.Metrics.ExchangeLatency.RecordDuration(d)
		}))
	router.SetExchange(a.Adapter)
	return nil
}

// Reconciler checks the ledger against exchange balances. It is nil without
// an authenticated exchange session and only runs while trading live.
func (a *App) Reconciler() *reconciliation.Service {
	if a.Adapter == nil || !a.Adapter.Authenticated() {
		return nil
	}
	router := a.Engine.Router()
	svc := reconciliation.NewService(a.Adapter, router.Ledger(), a.Bus, a.Log)
	svc.Active = router.IsLive
	return svc
}

// startReconciler runs the reconciler in the background until ctx is done.
func (a *App) startReconciler(ctx context.Context) {
	svc := a.Reconciler()
	if svc == nil || a.Cfg.ReconcileInterval <= 0 {
		return
	}
	svc.Start(ctx, a.Cfg.ReconcileInterval)
}

func (a *App) openStore(ctx context.Context) (persistence.Store, engine.TradeHistory, error) {
	switch a.Cfg.StateBackend {
	case "sqlite", "sql":
		database, err := db.New(a.Cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, database.Close)
		if err := database.Ping(ctx, dbOpenTimeout); err != nil {
			return nil, nil, err
		}
		store, err := persistence.NewSQLStore(database)
		if err != nil {
			return nil, nil, fmt.Errorf("migrate %s: %w", a.Cfg.DBPath, err)
		}
		return store, store, nil
	case "", "json":
		return persistence.NewJSONStore(a.Cfg.StatePath), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown STATE_BACKEND %q", a.Cfg.StateBackend)
	}
}

func (a *App) openPredictor() (predict.Predictor, error) {
	if a.Cfg.PredictorAddr == "" {
		return predict.NewDrift(0), nil
	}
	c, err := predict.NewGRPCClient(a.Cfg.PredictorAddr, a.Log)
	if err != nil {
		return nil, fmt.Errorf("predictor: %w", err)
	}
	a.closers = append(a.closers, c.Close)
	return c, nil
}

// loadStrategies applies the YAML file when present. Saved state loaded later
// takes precedence.
func loadStrategies(reg *strategy.Registry, path string, log *zap.Logger) error {
	if path == "" {
		return nil
	}
	file, err := strategy.LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Debug("no strategy file", zap.String("path", path))
		return nil
	}
	if err != nil {
		return err
	}
	if err := strategy.Apply(reg, file); err != nil {
		return fmt.Errorf("apply %s: %w", path, err)
	}
	log.Info("strategies loaded", zap.String("path", path), zap.Int("count", len(file.Strategies)))
	return nil
}

func riskSettings(cfg *config.Config) risk.Settings {
	s := risk.DefaultSettings()
	if cfg.RiskMaxPositionPct > 0 {
		s.MaxPositionPct = cfg.RiskMaxPositionPct
	}
	if cfg.RiskTrailingStopPct > 0 {
		s.TrailingStopPct = cfg.RiskTrailingStopPct
	}
	if cfg.RiskMaxDrawdownPct > 0 {
		s.MaxDrawdownPct = cfg.RiskMaxDrawdownPct
	}
	if cfg.RiskMaxConsecLosses > 0 {
		s.MaxConsecLosses = cfg.RiskMaxConsecLosses
	}
	if cfg.RiskMinTradeUSD > 0 {
		s.MinTradeUSD = cfg.RiskMinTradeUSD
	}
	if cfg.RiskMaxTradeUSD > 0 {
		s.MaxTradeUSD = cfg.RiskMaxTradeUSD
	}
	return s.Clamped()
}

// Close saves state, flushes pending notifications and releases handles.
// State that failed to load is never overwritten.
func (a *App) Close() {
	if a.loaded {
		ctx, cancel := context.WithTimeout(context.Background(), closeSaveWindow)
		if err := a.Engine.Save(ctx); err != nil {
			a.Log.Warn(fmt.Sprintf(i18n.M().StateSaveFailed, err))
		}
		cancel()
	}
	if a.cancel != nil {
		a.cancel()
		<-a.notified
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
