package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/temcen/carmatch/internal/config"
	"github.com/temcen/carmatch/internal/database"
	"github.com/temcen/carmatch/internal/handlers"
	"github.com/temcen/carmatch/internal/messaging"
	"github.com/temcen/carmatch/internal/middleware"
	"github.com/temcen/carmatch/internal/services"
	"github.com/temcen/carmatch/internal/validation"
)

type App struct {
	config    *config.Config
	logger    *logrus.Logger
	db        *database.Database
	services  *services.Services
	handlers  *handlers.Handlers
	validator *validation.SchemaValidator
	bus       *messaging.MessageBus
	router    *gin.Engine
	cancel    context.CancelFunc
	consumer  chan struct{}
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: setupLogger(cfg),
	}

	// Initialize database connections
	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	validator, err := validation.Default()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load JSON schemas: %w", err)
	}
	app.validator = validator

	app.services = services.New(cfg, app.logger, db, prometheus.DefaultRegisterer)
	app.handlers = handlers.New(app.logger, app.services)

	if cfg.Kafka.Enabled {
		bus, err := messaging.NewMessageBus(cfg, validator, app.logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize message bus: %w", err)
		}
		bus.SetEventRecorder(app.services.Metrics)
		app.services.RecommendationOrchestrator.SetEventPublisher(bus)
		app.bus = bus
	}

	app.setupRouter()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// Start vectorizes the catalog and known users, then starts background
// collectors and the inventory consumer. A failed warm-up is logged and
// retried lazily on the first request.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.services.RecommendationOrchestrator.Warm(ctx); err != nil {
		a.logger.WithError(err).Warn("Engine warm-up failed, initializing on first request")
	}

	a.services.Health.Start(ctx)

	if a.bus != nil {
		a.consumer = make(chan struct{})
		go func() {
			defer close(a.consumer)
			err := a.bus.ConsumeInventory(ctx, a.services.RecommendationOrchestrator)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.WithError(err).Error("Inventory consumer stopped")
			}
		}()
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	if a.cancel != nil {
		a.cancel()
	}

	if a.consumer != nil {
		select {
		case <-a.consumer:
		case <-ctx.Done():
			a.logger.Warn("Inventory consumer did not stop before shutdown deadline")
		}
	}

	var errs []error
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.logger.WithError(err).Error("Error closing message bus")
			errs = append(errs, err)
		}
	}

	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	a.router = NewRouter(a.config, a.logger, a.handlers, a.services.RateLimit, a.validator)
}

// NewRouter builds the HTTP surface. rateLimit may be nil.
func NewRouter(
	cfg *config.Config,
	logger *logrus.Logger,
	h *handlers.Handlers,
	rateLimit *services.RateLimitService,
	validator *validation.SchemaValidator,
) *gin.Engine {
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg))

	router.GET("/health", h.Health.Check)
	router.GET("/ready", h.Health.Ready)

	if cfg.Monitoring.Enabled {
		path := cfg.Monitoring.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(promhttp.Handler()))
	}

	schemas := middleware.NewValidationMiddleware(validator)

	api := router.Group("/api/v1")
	{
		api.Use(middleware.RateLimit(rateLimit, logger))

		users := api.Group("/users")
		{
			users.GET("/:userId/recommendations", h.Recommendation.Get)
			users.GET("/:userId/vehicles/:vehicleId/breakdown", h.Recommendation.GetBreakdown)
		}

		recommendations := api.Group("/recommendations")
		{
			recommendations.GET("/by-name", h.Recommendation.GetByName)
			recommendations.POST("/custom", schemas.ValidateCustomCriteria(), h.Recommendation.GetCustom)
			recommendations.GET("/all", h.Recommendation.GetAll)
			recommendations.GET("/status", h.Recommendation.Status)
		}
	}

	return router
}
