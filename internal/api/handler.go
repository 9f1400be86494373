package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/digitalinkpact/cryptopiggy/internal/engine"
	"github.com/digitalinkpact/cryptopiggy/internal/events"
	"github.com/digitalinkpact/cryptopiggy/internal/monitor"
)

// Server wires HTTP endpoints around the engine and the event bus.
type Server struct {
	Router    *gin.Engine
	Engine    engine.Service
	Bus       *events.Bus
	Metrics   *monitor.SystemMetrics
	JWTSecret string
	Log       *zap.Logger

	limiters *ipLimiters
}

// Options configure NewServer.
type Options struct {
	JWTSecret string
	// RatePerSecond and Burst bound requests per client IP.
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
}

func NewServer(svc engine.Service, bus *events.Bus, metrics *monitor.SystemMetrics, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 50
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	log := logger.Named("api")
	r := gin.New()

	s := &Server{
		Router:    r,
		Engine:    svc,
		Bus:       bus,
		Metrics:   metrics,
		JWTSecret: opts.JWTSecret,
		Log:       log,
		limiters:  newIPLimiters(opts.RatePerSecond, opts.Burst),
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())                   // Panic recovery (first)
	r.Use(RequestIDMiddleware())            // Request ID tracking
	r.Use(RequestLogger(log, metrics))      // Request logging (after ID is set)
	r.Use(RateLimitMiddleware(s.limiters))  // Rate limiting
	r.Use(DeadlineMiddleware(opts.Timeout)) // Request deadline
	r.Use(CORSMiddleware())                 // CORS (last before routes)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", AuthMiddleware(s.JWTSecret), s.websocket)

	api := s.Router.Group("/api")
	api.Use(AuthMiddleware(s.JWTSecret))
	{
		api.GET("/status", s.getStatus)
		api.GET("/positions", s.getPositions)
		api.GET("/trades", s.getTrades)
		api.GET("/metrics", s.getMetrics)
		api.POST("/orders", s.createOrder)

		api.POST("/live/enable", s.enableLive)
		api.POST("/live/disable", s.disableLive)
		api.GET("/backend/health", s.getBackendHealth)

		api.GET("/strategies", s.getStrategies)
		api.PUT("/strategies/active", s.setActiveStrategy)
		api.PUT("/strategies/:name/params", s.updateStrategyParams)
		api.POST("/backtest", s.runBacktest)
		api.POST("/hyperopt", s.runHyperopt)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.Log.Info("api server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.limiters.stop()
	return srv.Shutdown(shutdownCtx)
}
