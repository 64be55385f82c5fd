package services

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/temcen/carmatch/internal/database"
	"github.com/temcen/carmatch/pkg/models"
)

const healthCheckTimeout = 5 * time.Second

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type HealthService struct {
	logger      *logrus.Logger
	pool        *pgxpool.Pool
	critical    map[string]HealthCheck
	nonCritical map[string]HealthCheck
	engine      interface{ Status() models.EngineStatus }

	// Prometheus metrics
	healthCheckStatus   *prometheus.GaugeVec
	lastHealthCheck     *prometheus.GaugeVec
	systemMetrics       *prometheus.GaugeVec
	dbConnectionMetrics *prometheus.GaugeVec
}

type HealthStatus struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Services    map[string]string      `json:"services"`
	Critical    []string               `json:"critical_failures,omitempty"`
	NonCritical []string               `json:"non_critical_failures,omitempty"`
	Latency     time.Duration          `json:"latency,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// NewHealthService registers health collectors with reg. db may be nil when
// the engine runs on in-memory stores.
func NewHealthService(logger *logrus.Logger, db *database.Database, reg prometheus.Registerer) *HealthService {
	factory := promauto.With(reg)

	hs := &HealthService{
		logger:      logger,
		critical:    make(map[string]HealthCheck),
		nonCritical: make(map[string]HealthCheck),

		healthCheckStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "health_check_status",
			Help: "Health check status (1 = healthy, 0 = unhealthy)",
		}, []string{"service"}),

		lastHealthCheck: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "health_check_timestamp",
			Help: "Timestamp of last health check",
		}, []string{"service"}),

		systemMetrics: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "system_info",
			Help: "System information metrics",
		}, []string{"metric_type"}),

		dbConnectionMetrics: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "database_connection_pool_usage",
			Help: "Database connection pool usage percentage",
		}, []string{"database", "state"}),
	}

	if db != nil {
		if db.PG != nil {
			hs.pool = db.PG
			hs.AddCheck("postgresql", true, db.PG.Ping)
		}
		if db.Redis != nil {
			// The vector cache is write-through; memory keeps serving without it.
			hs.AddCheck("redis", false, func(ctx context.Context) error {
				return db.Redis.Ping(ctx).Err()
			})
		}
	}

	return hs
}

// AddCheck registers a dependency probe. A failing critical check makes the
// service unhealthy; a failing non-critical one only degrades it.
func (s *HealthService) AddCheck(name string, critical bool, check HealthCheck) {
	if critical {
		s.critical[name] = check
	} else {
		s.nonCritical[name] = check
	}
}

// WatchTextGenerator reports the generator as unhealthy while its breaker is open.
func (s *HealthService) WatchTextGenerator(generator *LLMTextGenerator) {
	s.AddCheck("text_generator", false, func(context.Context) error {
		if generator.BreakerState() == "open" {
			return errors.New("circuit breaker is open")
		}
		return nil
	})
}

// WatchEngine adds the engine status to health details.
func (s *HealthService) WatchEngine(engine interface{ Status() models.EngineStatus }) {
	s.engine = engine
}

// EngineStatus reports the watched engine's status; ok is false when no
// engine is watched.
func (s *HealthService) EngineStatus() (status models.EngineStatus, ok bool) {
	if s.engine == nil {
		return models.EngineStatus{}, false
	}
	return s.engine.Status(), true
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{
		Timestamp: start,
		Services:  make(map[string]string),
	}

	allCriticalHealthy := true
	for _, name := range sortedNames(s.critical) {
		if err := s.run(ctx, s.critical[name]); err != nil {
			status.Services[name] = "unhealthy"
			status.Critical = append(status.Critical, name)
			allCriticalHealthy = false
			s.logger.WithError(err).Errorf("Critical service %s is unhealthy", name)
			s.UpdateHealthMetrics(name, false)
		} else {
			status.Services[name] = "healthy"
			s.UpdateHealthMetrics(name, true)
		}
	}

	for _, name := range sortedNames(s.nonCritical) {
		if err := s.run(ctx, s.nonCritical[name]); err != nil {
			status.Services[name] = "unhealthy"
			status.NonCritical = append(status.NonCritical, name)
			s.logger.WithError(err).Warnf("Non-critical service %s is unhealthy", name)
			s.UpdateHealthMetrics(name, false)
		} else {
			status.Services[name] = "healthy"
			s.UpdateHealthMetrics(name, true)
		}
	}

	switch {
	case !allCriticalHealthy:
		status.Status = "unhealthy"
	case len(status.NonCritical) > 0:
		status.Status = "degraded"
	default:
		status.Status = "healthy"
	}

	if s.engine != nil {
		status.Details = map[string]interface{}{"engine": s.engine.Status()}
	}
	status.Latency = time.Since(start)

	return status
}

func (s *HealthService) run(ctx context.Context, check HealthCheck) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return check(ctx)
}

// Start collects runtime and connection pool gauges until ctx ends.
func (s *HealthService) Start(ctx context.Context) {
	go s.collectSystemMetrics(ctx)
	if s.pool != nil {
		go s.collectDatabaseMetrics(ctx)
	}
}

// collectSystemMetrics collects system-level metrics
func (s *HealthService) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var memStats runtime.MemStats

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		runtime.ReadMemStats(&memStats)

		s.systemMetrics.WithLabelValues("memory_alloc_bytes").Set(float64(memStats.Alloc))
		s.systemMetrics.WithLabelValues("memory_sys_bytes").Set(float64(memStats.Sys))
		s.systemMetrics.WithLabelValues("goroutines_count").Set(float64(runtime.NumGoroutine()))
		s.systemMetrics.WithLabelValues("gc_runs_total").Set(float64(memStats.NumGC))

		if len(memStats.PauseNs) > 0 {
			lastPause := memStats.PauseNs[(memStats.NumGC+255)%256]
			s.systemMetrics.WithLabelValues("gc_pause_ns").Set(float64(lastPause))
		}
	}
}

// collectDatabaseMetrics collects database connection metrics
func (s *HealthService) collectDatabaseMetrics(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats := s.pool.Stat()

		s.dbConnectionMetrics.WithLabelValues("postgresql", "acquired_conns").Set(float64(stats.AcquiredConns()))
		s.dbConnectionMetrics.WithLabelValues("postgresql", "idle_conns").Set(float64(stats.IdleConns()))
		s.dbConnectionMetrics.WithLabelValues("postgresql", "max_conns").Set(float64(stats.MaxConns()))
		s.dbConnectionMetrics.WithLabelValues("postgresql", "total_conns").Set(float64(stats.TotalConns()))

		if stats.MaxConns() > 0 {
			usage := float64(stats.AcquiredConns()) / float64(stats.MaxConns()) * 100
			s.dbConnectionMetrics.WithLabelValues("postgresql", "usage_percent").Set(usage)
		}
	}
}

// UpdateHealthMetrics updates health check metrics
func (s *HealthService) UpdateHealthMetrics(serviceName string, healthy bool) {
	if healthy {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(1)
	} else {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(0)
	}
	s.lastHealthCheck.WithLabelValues(serviceName).Set(float64(time.Now().Unix()))
}

func sortedNames(checks map[string]HealthCheck) []string {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
