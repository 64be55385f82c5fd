package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/carmatch/internal/config"
	"github.com/temcen/carmatch/internal/database"
)

type Services struct {
	Health                     *HealthService
	RateLimit                  *RateLimitService
	Metrics                    *Metrics
	Catalog                    CatalogStore
	Users                      UserStore
	Vectorizer                 *Vectorizer
	Vectors                    *VectorStore
	Scorer                     *SimilarityScorer
	Filter                     *CandidateFilter
	TextGenerator              *LLMTextGenerator
	ExplanationService         *ExplanationService
	RecommendationOrchestrator *RecommendationOrchestrator
}

// New wires the engine on top of Postgres and Redis.
func New(cfg *config.Config, logger *logrus.Logger, db *database.Database, reg prometheus.Registerer) *Services {
	return NewWithStores(cfg, logger, db,
		NewPostgresCatalogStore(db.PG, logger),
		NewPostgresUserStore(db.PG, logger),
		reg,
	)
}

// NewWithStores wires the engine on top of the given stores. db may be nil,
// in which case vectors are cached in memory only.
func NewWithStores(cfg *config.Config, logger *logrus.Logger, db *database.Database, catalog CatalogStore, users UserStore, reg prometheus.Registerer) *Services {
	metrics := NewMetrics(reg)
	recCfg := cfg.Recommendation

	vectorizer := NewVectorizer(logger)
	scorer := NewSimilarityScorer(recCfg.Weights.ScoringWeights(), logger, metrics)
	filter := NewCandidateFilter(recCfg.Filters, logger)

	var generator *LLMTextGenerator
	var textGenerator TextGenerator
	if cfg.LLM.APIKey != "" && recCfg.Explanation.Enabled {
		generator = NewLLMTextGenerator(cfg.LLM, logger, metrics)
		textGenerator = generator
	} else {
		logger.Info("Text generation disabled, explanations use templates")
	}
	explainer := NewExplanationService(textGenerator, recCfg.Explanation, logger, metrics)

	var cache *redis.Client
	if db != nil {
		cache = db.Redis
	}
	vectors := NewVectorStore(cache, cfg.Redis.VectorPrefix, recCfg.VectorCacheTTL, logger, metrics)

	orchestrator := NewRecommendationOrchestrator(
		catalog, users, vectorizer, scorer, filter, explainer, vectors,
		recCfg, logger, metrics,
	)

	var rateLimit *RateLimitService
	if limits := cfg.Security.RateLimit; cache != nil && limits.Enabled && limits.Requests > 0 {
		rateLimit = NewRateLimitService(limits, logger, cache)
	}

	health := NewHealthService(logger, db, reg)
	health.WatchEngine(orchestrator)
	if generator != nil {
		health.WatchTextGenerator(generator)
	}

	return &Services{
		Health:                     health,
		RateLimit:                  rateLimit,
		Metrics:                    metrics,
		Catalog:                    catalog,
		Users:                      users,
		Vectorizer:                 vectorizer,
		Vectors:                    vectors,
		Scorer:                     scorer,
		Filter:                     filter,
		TextGenerator:              generator,
		ExplanationService:         explainer,
		RecommendationOrchestrator: orchestrator,
	}
}
