package services

import (
	"context"

	"github.com/temcen/carmatch/pkg/models"
)

// CatalogStore provides read access to vehicle inventory.
type CatalogStore interface {
	ListVehicles(ctx context.Context, filter models.VehicleFilter) ([]models.VehicleRecord, error)
	// GetVehicle returns nil, nil when the vehicle does not exist.
	GetVehicle(ctx context.Context, id string) (*models.VehicleRecord, error)
}

// UserStore provides read access to shopper profiles.
type UserStore interface {
	// GetUser returns nil, nil when the user does not exist.
	GetUser(ctx context.Context, id string) (*models.UserProfile, error)
	ListUsers(ctx context.Context) ([]models.UserProfile, error)
}

// TextGenerator turns a prompt into free text. Implementations may be slow or fail.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EventPublisher announces served recommendation lists.
type EventPublisher interface {
	PublishRecommendations(ctx context.Context, result *models.RecommendationResult) error
}

// ExplanationServiceInterface defines the interface for explanation generation
type ExplanationServiceInterface interface {
	Explain(ctx context.Context, profile *models.UserProfile, candidate models.ScoredCandidate) Explanation
	ExplainAll(ctx context.Context, profile *models.UserProfile, candidates []models.ScoredCandidate) []models.Recommendation
}

// RecommendationOrchestratorInterface defines the interface for recommendation orchestration
type RecommendationOrchestratorInterface interface {
	GetRecommendations(ctx context.Context, userID string, limit int) (*models.RecommendationResult, error)
	GetRecommendationsByName(ctx context.Context, name string, limit int) (*models.RecommendationResult, error)
	GetRecommendationsForProfile(ctx context.Context, criteria models.CustomCriteria, limit int) (*models.RecommendationResult, error)
	GetSimilarityBreakdown(ctx context.Context, userID, vehicleID string) (*models.SimilarityBreakdown, error)
	GetAllUserRecommendations(ctx context.Context, limit int) ([]*models.RecommendationResult, error)
	Status() models.EngineStatus
}
