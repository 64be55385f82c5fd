package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/temcen/carmatch/pkg/models"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	LLM            LLMConfig            `mapstructure:"llm"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Recommendation RecommendationConfig `mapstructure:"recommendation"`
	Monitoring     MonitoringConfig     `mapstructure:"monitoring"`
	Security       SecurityConfig       `mapstructure:"security"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" validate:"required,numeric"`
	Mode string `mapstructure:"mode" validate:"oneof=development production test"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections" validate:"min=1"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	AutoMigrate    bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	DB           int           `mapstructure:"db" validate:"min=0"`
	MaxRetries   int           `mapstructure:"max_retries"`
	PoolSize     int           `mapstructure:"pool_size"`
	Timeout      time.Duration `mapstructure:"timeout"`
	VectorPrefix string        `mapstructure:"vector_prefix"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	GroupID string   `mapstructure:"group_id"`
	Topics  struct {
		Inventory       string `mapstructure:"inventory"`
		Recommendations string `mapstructure:"recommendations"`
	} `mapstructure:"topics"`
}

// LLMConfig configures the text-generation collaborator. An empty API key
// disables it and every explanation uses the deterministic fallback.
type LLMConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries" validate:"min=0,max=10"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold" validate:"min=1"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	HalfOpenRequests uint32        `mapstructure:"half_open_requests"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// RecommendationConfig carries the engine's tunables.
type RecommendationConfig struct {
	Strategy       string            `mapstructure:"strategy" validate:"oneof=rag simple strict"`
	Weights        WeightConfig      `mapstructure:"weights"`
	Filters        FilterConfig      `mapstructure:"filters"`
	DefaultLimit   int               `mapstructure:"default_limit" validate:"min=1"`
	MaxLimit       int               `mapstructure:"max_limit" validate:"gtefield=DefaultLimit"`
	Explanation    ExplanationConfig `mapstructure:"explanation"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	VectorCacheTTL time.Duration     `mapstructure:"vector_cache_ttl"`
	CatalogLimit   int               `mapstructure:"catalog_limit" validate:"min=0"`
}

// WeightConfig holds the four blending weights. UserPreferences and
// VehicleFeatures both multiply the same cosine similarity, so they are
// folded into a single semantic weight.
type WeightConfig struct {
	UserPreferences   float64 `mapstructure:"user_preferences" validate:"gte=0"`
	VehicleFeatures   float64 `mapstructure:"vehicle_features" validate:"gte=0"`
	BudgetFit         float64 `mapstructure:"budget_fit" validate:"gte=0"`
	LocationProximity float64 `mapstructure:"location_proximity" validate:"gte=0"`
}

// ScoringWeights folds the configured weights into the scorer's three terms.
func (w WeightConfig) ScoringWeights() models.ScoringWeights {
	return models.ScoringWeights{
		Semantic: w.UserPreferences + w.VehicleFeatures,
		Budget:   w.BudgetFit,
		Location: w.LocationProximity,
	}
}

type FilterConfig struct {
	BodyStyleMatch     bool    `mapstructure:"body_style_match"`
	MSRPTolerance      float64 `mapstructure:"msrp_tolerance" validate:"gte=0,lte=1"`
	MinSimilarityScore float64 `mapstructure:"min_similarity_score" validate:"gte=0,lte=1"`
	ExcludeDegraded    bool    `mapstructure:"exclude_degraded"`
}

type ExplanationConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Concurrency int           `mapstructure:"concurrency" validate:"min=1,max=32"`
	MaxReasons  int           `mapstructure:"max_reasons" validate:"min=3"`
}

type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type SecurityConfig struct {
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds API requests per client IP over a sliding window.
// It needs Redis and is skipped when running on in-memory stores.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests" validate:"gte=0"`
	Window   time.Duration `mapstructure:"window"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	setDefaults(v)

	// Environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Recommendation = config.Recommendation.WithStrategy()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks struct constraints on the loaded configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// WithStrategy applies the named preset on top of the configured values.
// "rag" keeps everything as configured, "simple" disables generated
// explanations and "strict" turns on the body style and price filters.
func (r RecommendationConfig) WithStrategy() RecommendationConfig {
	switch r.Strategy {
	case "simple":
		r.Explanation.Enabled = false
	case "strict":
		r.Filters.BodyStyleMatch = true
		if r.Filters.MSRPTolerance == 0 {
			r.Filters.MSRPTolerance = 0.1
		}
		if r.Filters.MinSimilarityScore == 0 {
			r.Filters.MinSimilarityScore = 0.3
		}
	}
	return r
}

// DefaultRecommendationConfig returns the engine defaults without touching viper.
func DefaultRecommendationConfig() RecommendationConfig {
	return RecommendationConfig{
		Strategy: "rag",
		Weights: WeightConfig{
			UserPreferences:   0.3,
			VehicleFeatures:   0.3,
			BudgetFit:         0.3,
			LocationProximity: 0.1,
		},
		DefaultLimit: 5,
		MaxLimit:     50,
		Explanation: ExplanationConfig{
			Enabled:     true,
			Timeout:     5 * time.Second,
			Concurrency: 4,
			MaxReasons:  5,
		},
		RequestTimeout: 10 * time.Second,
		VectorCacheTTL: 24 * time.Hour,
		CatalogLimit:   1000,
	}
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "development")

	// Database defaults
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_time", "15m")
	v.SetDefault("database.max_lifetime", "1h")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.auto_migrate", true)

	// Redis defaults
	v.SetDefault("redis.url", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.timeout", "5s")
	v.SetDefault("redis.vector_prefix", "carmatch:vector")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "carmatch-vectorizers")
	v.SetDefault("kafka.topics.inventory", "vehicle-inventory")
	v.SetDefault("kafka.topics.recommendations", "recommendations-generated")

	// Text generation defaults
	v.SetDefault("llm.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.model", "google/gemini-2.5-flash")
	v.SetDefault("llm.timeout", "5s")
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.initial_backoff", "250ms")
	v.SetDefault("llm.max_backoff", "2s")
	v.SetDefault("llm.breaker.failure_threshold", 5)
	v.SetDefault("llm.breaker.open_timeout", "30s")
	v.SetDefault("llm.breaker.half_open_requests", 1)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Recommendation defaults
	d := DefaultRecommendationConfig()
	v.SetDefault("recommendation.strategy", d.Strategy)
	v.SetDefault("recommendation.weights.user_preferences", d.Weights.UserPreferences)
	v.SetDefault("recommendation.weights.vehicle_features", d.Weights.VehicleFeatures)
	v.SetDefault("recommendation.weights.budget_fit", d.Weights.BudgetFit)
	v.SetDefault("recommendation.weights.location_proximity", d.Weights.LocationProximity)
	v.SetDefault("recommendation.filters.body_style_match", false)
	v.SetDefault("recommendation.filters.msrp_tolerance", 0.0)
	v.SetDefault("recommendation.filters.min_similarity_score", 0.0)
	v.SetDefault("recommendation.filters.exclude_degraded", false)
	v.SetDefault("recommendation.default_limit", d.DefaultLimit)
	v.SetDefault("recommendation.max_limit", d.MaxLimit)
	v.SetDefault("recommendation.explanation.enabled", d.Explanation.Enabled)
	v.SetDefault("recommendation.explanation.timeout", d.Explanation.Timeout.String())
	v.SetDefault("recommendation.explanation.concurrency", d.Explanation.Concurrency)
	v.SetDefault("recommendation.explanation.max_reasons", d.Explanation.MaxReasons)
	v.SetDefault("recommendation.request_timeout", d.RequestTimeout.String())
	v.SetDefault("recommendation.vector_cache_ttl", d.VectorCacheTTL.String())
	v.SetDefault("recommendation.catalog_limit", d.CatalogLimit)

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("security.cors.allowed_headers", []string{"*"})
	v.SetDefault("security.rate_limit.enabled", true)
	v.SetDefault("security.rate_limit.requests", 120)
	v.SetDefault("security.rate_limit.window", "1m")
}
