package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/digitalinkpact/cryptopiggy/internal/monitor"
)

// ipLimiters holds one token bucket per client IP. The map is dropped every
// five minutes so idle clients do not accumulate.
type ipLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	done     chan struct{}
	once     sync.Once
}

func newIPLimiters(perSecond float64, burst int) *ipLimiters {
	l := &ipLimiters{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		done:     make(chan struct{}),
	}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.mu.Lock()
				l.limiters = make(map[string]*rate.Limiter)
				l.mu.Unlock()
			case <-l.done:
				return
			}
		}
	}()
	return l
}

func (l *ipLimiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = limiter
	}
	return limiter
}

func (l *ipLimiters) stop() { l.once.Do(func() { close(l.done) }) }

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware adds unique request ID for tracking
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("RequestID", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// RateLimitMiddleware prevents API abuse with per-IP rate limiting
func RateLimitMiddleware(l *ipLimiters) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.get(c.ClientIP()).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":  "RATE_LIMITED",
				"error": "too many requests, please slow down",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// DeadlineMiddleware bounds the request context. Handlers pass it to the
// engine, so a slow exchange or backend call is cut off at the deadline.
func DeadlineMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestLogger logs all API requests with timing and status; optionally records metrics.
func RequestLogger(log *zap.Logger, metrics *monitor.SystemMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		if metrics != nil {
			metrics.IncrementAPI()
			metrics.APILatency.RecordDuration(latency)
			if status >= 400 {
				metrics.IncrementAPIErrors()
			}
		}
		log.Info("api request",
			zap.String("request_id", c.GetString("RequestID")),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()))
	}
}
