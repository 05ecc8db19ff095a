// Package monitor runs the read-only integrity checks on a schedule and reports the outcome to
// prometheus and to the gRPC health service.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/bank-ledger/internal/ledger"
)

// ServiceName is the gRPC health service the monitor drives. The empty (overall) service follows
// it.
const ServiceName = "ledger.Integrity"

// Checker runs the integrity checks.
type Checker interface {
	ComprehensiveValidation(ctx context.Context) ([]*ledger.ValidationResult, error)
}

// HealthSetter is satisfied by *health.Server.
type HealthSetter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

// Status is the outcome of one monitor pass.
type Status struct {
	CheckedAt time.Time                  `json:"checked_at"`
	Healthy   bool                       `json:"healthy"`
	Results   []*ledger.ValidationResult `json:"results,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

type Monitor struct {
	checker  Checker
	health   HealthSetter
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
	runs     *prometheus.CounterVec
	duration prometheus.Histogram

	mu   sync.RWMutex
	last *Status
}

type Option func(*Monitor)

func WithHealth(h HealthSetter) Option { return func(m *Monitor) { m.health = h } }

func WithInterval(d time.Duration) Option { return func(m *Monitor) { m.interval = d } }

func WithLogger(l *zap.Logger) Option { return func(m *Monitor) { m.logger = l } }

func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

// WithRegisterer registers the monitor's own counters. Without it they are not exported.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Monitor) {
		f := promauto.With(reg)
		m.runs = f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "integrity_checks_total",
			Help:      "Integrity monitor passes by result.",
		}, []string{"result"})
		m.duration = f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "integrity_check_duration_seconds",
			Help:      "Time taken by one integrity monitor pass.",
			Buckets:   prometheus.DefBuckets,
		})
	}
}

func New(checker Checker, opts ...Option) *Monitor {
	m := &Monitor{checker: checker, interval: time.Minute, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check runs one pass, records it and updates the health status.
func (m *Monitor) Check(ctx context.Context) *Status {
	started := time.Now()
	results, err := m.checker.ComprehensiveValidation(ctx)
	st := &Status{CheckedAt: m.now().UTC(), Results: results, Healthy: err == nil}
	if err != nil {
		st.Error = err.Error()
	}
	var failed []string
	for _, r := range results {
		if !r.IsValid {
			st.Healthy = false
			failed = append(failed, r.ValidationType)
		}
	}

	result := "healthy"
	switch {
	case err != nil:
		result = "error"
		m.logger.Error("integrity check failed to run", zap.Error(err))
	case !st.Healthy:
		result = "drift"
		m.logger.Error("ledger integrity drift detected", zap.Strings("failed_checks", failed))
	default:
		m.logger.Debug("ledger integrity check passed")
	}
	if m.runs != nil {
		m.runs.WithLabelValues(result).Inc()
		m.duration.Observe(time.Since(started).Seconds())
	}

	if m.health != nil {
		status := healthpb.HealthCheckResponse_SERVING
		if !st.Healthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		m.health.SetServingStatus(ServiceName, status)
		m.health.SetServingStatus("", status)
	}

	m.mu.Lock()
	m.last = st
	m.mu.Unlock()
	return st
}

// Last returns the most recent pass, or nil before the first one.
func (m *Monitor) Last() *Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Run checks immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("integrity monitor started", zap.Duration("interval", m.interval))
	m.Check(ctx)

	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("integrity monitor stopped")
			return nil
		case <-t.C:
			m.Check(ctx)
		}
	}
}
