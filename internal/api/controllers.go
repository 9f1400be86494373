package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/digitalinkpact/cryptopiggy/internal/engine"
	"github.com/digitalinkpact/cryptopiggy/internal/exchange"
	"github.com/digitalinkpact/cryptopiggy/internal/mode"
	"github.com/digitalinkpact/cryptopiggy/internal/order"
	"github.com/digitalinkpact/cryptopiggy/internal/risk"
	"github.com/digitalinkpact/cryptopiggy/internal/strategy"
)

type createOrderRequest struct {
	Side      string  `json:"side" binding:"required,oneof=buy sell BUY SELL"`
	Symbol    string  `json:"symbol" binding:"required,min=1"`
	AmountUSD float64 `json:"amount_usd" binding:"gt=0"`
}

type enableLiveRequest struct {
	Confirmation string `json:"confirmation" binding:"required"`
}

type disableLiveRequest struct {
	Reason string `json:"reason"`
}

type setActiveRequest struct {
	Name string `json:"name" binding:"required,min=1"`
}

type listTradesQuery struct {
	Limit int `form:"limit"`
}

func (q *listTradesQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondEngineError maps engine errors to status codes. Rejections are
// expected outcomes and carry the gate's reason.
func respondEngineError(c *gin.Context, err error) {
	var rej *risk.RejectionError
	var unknown strategy.ErrUnknown
	switch {
	case errors.As(err, &rej):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":   "ORDER_REJECTED",
			"error":  err.Error(),
			"reason": rej.Reason,
			"detail": rej.Detail,
		})
	case errors.Is(err, order.ErrNoPosition):
		respondError(c, http.StatusConflict, "NO_POSITION", err.Error())
	case errors.Is(err, mode.ErrLiveNotAllowed):
		respondError(c, http.StatusForbidden, "LIVE_NOT_ALLOWED", err.Error())
	case errors.Is(err, mode.ErrConfirmationMismatch):
		respondError(c, http.StatusBadRequest, "CONFIRMATION_MISMATCH", err.Error())
	case errors.Is(err, mode.ErrNoExecutionPath):
		respondError(c, http.StatusConflict, "NO_EXECUTION_PATH", err.Error())
	case errors.Is(err, mode.ErrBackendUnhealthy),
		errors.Is(err, order.ErrEquityUnavailable),
		errors.Is(err, order.ErrNoPrice),
		errors.Is(err, exchange.ErrUnavailable):
		respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
	case errors.As(err, &unknown):
		respondError(c, http.StatusNotFound, "UNKNOWN_STRATEGY", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Status(c.Request.Context()))
}

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.Engine.Positions()})
}

func (s *Server) getTrades(c *gin.Context) {
	var q listTradesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()
	trades, err := s.Engine.RecentTrades(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Metrics())
}

// createOrder places a manual order through the same gate as the bot loop.
func (s *Server) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}
	res, err := s.Engine.PlaceOrder(c.Request.Context(), strings.ToLower(req.Side), req.Symbol, req.AmountUSD)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	s.Log.Info("manual order",
		zap.String("user", CurrentUserID(c)),
		zap.String("side", res.Trade.Side),
		zap.String("symbol", res.Trade.Symbol),
		zap.Float64("amount_usd", res.Trade.AmountUSD),
		zap.String("path", string(res.Path)))
	c.JSON(http.StatusCreated, res)
}

func (s *Server) enableLive(c *gin.Context) {
	var req enableLiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "confirmation is required")
		return
	}
	if err := s.Engine.EnableLive(c.Request.Context(), req.Confirmation); err != nil {
		respondEngineError(c, err)
		return
	}
	s.Log.Warn("live trading enabled via api", zap.String("user", CurrentUserID(c)))
	c.JSON(http.StatusOK, s.Engine.Status(c.Request.Context()).Mode)
}

func (s *Server) disableLive(c *gin.Context) {
	var req disableLiveRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "disabled via api"
	}
	if err := s.Engine.DisableLive(c.Request.Context(), req.Reason); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Engine.Status(c.Request.Context()).Mode)
}

func (s *Server) getBackendHealth(c *gin.Context) {
	st := s.Engine.BackendHealth(c.Request.Context())
	code := http.StatusOK
	if !st.OK {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, st)
}

func (s *Server) getStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": s.Engine.Strategies()})
}

func (s *Server) setActiveStrategy(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "name is required")
		return
	}
	if err := s.Engine.SetActiveStrategy(c.Request.Context(), req.Name); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": req.Name})
}

func (s *Server) updateStrategyParams(c *gin.Context) {
	name := c.Param("name")
	var params strategy.Params
	if err := c.ShouldBindJSON(&params); err != nil || len(params) == 0 {
		respondError(c, http.StatusBadRequest, "INVALID_PARAMETERS", "params object is required")
		return
	}
	if err := s.Engine.ConfigureStrategy(c.Request.Context(), name, params); err != nil {
		var unknown strategy.ErrUnknown
		if errors.As(err, &unknown) {
			respondEngineError(c, err)
			return
		}
		respondError(c, http.StatusBadRequest, "INVALID_PARAMETERS", err.Error())
		return
	}
	for _, info := range s.Engine.Strategies() {
		if info.Name == name {
			c.JSON(http.StatusOK, info)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) runBacktest(c *gin.Context) {
	var req engine.BacktestRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
			return
		}
	}
	rep, err := s.Engine.Backtest(c.Request.Context(), req)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) runHyperopt(c *gin.Context) {
	var req engine.HyperoptRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
			return
		}
	}
	if req.Trials > 500 {
		req.Trials = 500
	}
	rep, err := s.Engine.Hyperopt(c.Request.Context(), req)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}
