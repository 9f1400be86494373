package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks bot activity and latencies.
type SystemMetrics struct {
	OrderLatency    *LatencyHistogram
	ExchangeLatency *LatencyHistogram
	CycleLatency    *LatencyHistogram
	APILatency      *LatencyHistogram

	ordersFilled   atomic.Uint64
	ordersLive     atomic.Uint64
	ordersRejected atomic.Uint64
	ordersFailed   atomic.Uint64
	signals        atomic.Uint64
	riskAlerts     atomic.Uint64
	modeChanges    atomic.Uint64
	divergences    atomic.Uint64
	cycles         atomic.Uint64
	errorsCount    atomic.Uint64
	apiRequests    atomic.Uint64
	apiErrors      atomic.Uint64

	started time.Time
}

// LatencyHistogram is a fixed-size ring of the most recent samples in
// milliseconds.
type LatencyHistogram struct {
	mu   sync.Mutex
	ring []float64
	next int
	full bool
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		OrderLatency:    NewLatencyHistogram(1000),
		ExchangeLatency: NewLatencyHistogram(1000),
		CycleLatency:    NewLatencyHistogram(500),
		APILatency:      NewLatencyHistogram(1000),
		started:         time.Now(),
	}
}

// NewLatencyHistogram keeps the last size samples (1000 when size <= 0).
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{ring: make([]float64, size)}
}

// Record adds a sample in milliseconds, overwriting the oldest once full.
func (h *LatencyHistogram) Record(ms float64) {
	h.mu.Lock()
	h.ring[h.next] = ms
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()
}

// RecordDuration records d.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d) / float64(time.Millisecond))
}

// Stats summarises the samples currently in the window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	n := h.next
	if h.full {
		n = len(h.ring)
	}
	sorted := append([]float64(nil), h.ring[:n]...)
	h.mu.Unlock()
	if n == 0 {
		return LatencyStats{}
	}

	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	at := func(q float64) float64 { return sorted[min(int(float64(n)*q), n-1)] }
	return LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   at(0.50),
		P95:   at(0.95),
		P99:   at(0.99),
		Count: n,
	}
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementCycles counts one bot loop iteration.
func (m *SystemMetrics) IncrementCycles() { m.cycles.Add(1) }

// IncrementAPI counts one API request.
func (m *SystemMetrics) IncrementAPI() { m.apiRequests.Add(1) }

// IncrementAPIErrors counts an API response with status >= 400.
func (m *SystemMetrics) IncrementAPIErrors() { m.apiErrors.Add(1) }

// IncrementErrors counts an unexpected failure.
func (m *SystemMetrics) IncrementErrors() { m.errorsCount.Add(1) }

// MetricsSnapshot is a point-in-time view of the counters.
type MetricsSnapshot struct {
	OrderLatency    LatencyStats `json:"order_latency"`
	ExchangeLatency LatencyStats `json:"exchange_latency"`
	CycleLatency    LatencyStats `json:"cycle_latency"`
	APILatency      LatencyStats `json:"api_latency"`
	OrdersFilled    uint64       `json:"orders_filled"`
	OrdersLive      uint64       `json:"orders_live"`
	OrdersRejected  uint64       `json:"orders_rejected"`
	OrdersFailed    uint64       `json:"orders_failed"`
	Signals         uint64       `json:"signals"`
	RiskAlerts      uint64       `json:"risk_alerts"`
	ModeChanges     uint64       `json:"mode_changes"`
	Divergences     uint64       `json:"divergences"`
	Cycles          uint64       `json:"cycles"`
	ErrorsCount     uint64       `json:"errors_count"`
	APIRequests     uint64       `json:"api_requests"`
	APIErrors       uint64       `json:"api_errors"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	Uptime          string       `json:"uptime"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		OrderLatency:    m.OrderLatency.Stats(),
		ExchangeLatency: m.ExchangeLatency.Stats(),
		CycleLatency:    m.CycleLatency.Stats(),
		APILatency:      m.APILatency.Stats(),
		OrdersFilled:    m.ordersFilled.Load(),
		OrdersLive:      m.ordersLive.Load(),
		OrdersRejected:  m.ordersRejected.Load(),
		OrdersFailed:    m.ordersFailed.Load(),
		Signals:         m.signals.Load(),
		RiskAlerts:      m.riskAlerts.Load(),
		ModeChanges:     m.modeChanges.Load(),
		Divergences:     m.divergences.Load(),
		Cycles:          m.cycles.Load(),
		ErrorsCount:     m.errorsCount.Load(),
		APIRequests:     m.apiRequests.Load(),
		APIErrors:       m.apiErrors.Load(),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		Uptime:          time.Since(m.started).Truncate(time.Second).String(),
		Timestamp:       time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
