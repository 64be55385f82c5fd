package services

import (
	"math"
	"strings"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/temcen/carmatch/pkg/models"
)

// Budget fit floors. A vehicle under budget is still a reasonable match, one
// over budget is penalised harder.
const (
	BudgetUnderFloor = 0.7
	BudgetOverFloor  = 0.3
)

// Location fit levels.
const (
	LocationSameCity  = 1.0
	LocationSameState = 0.7
	LocationElsewhere = 0.3
	neutralFit        = 0.5
)

const weightTolerance = 1e-9

// DefaultScoringWeights folds the user-preference and vehicle-feature
// weights (0.3 each) into the semantic term.
func DefaultScoringWeights() models.ScoringWeights {
	return models.ScoringWeights{Semantic: 0.6, Budget: 0.3, Location: 0.1}
}

// SimilarityScorer blends semantic, budget and location fit into a composite.
type SimilarityScorer struct {
	weights models.ScoringWeights
	logger  *logrus.Logger
	metrics *Metrics
}

// NewSimilarityScorer normalises weights once; metrics may be nil.
func NewSimilarityScorer(weights models.ScoringWeights, logger *logrus.Logger, metrics *Metrics) *SimilarityScorer {
	s := &SimilarityScorer{logger: logger, metrics: metrics}
	s.weights = s.NormalizeWeights(weights)
	return s
}

// Weights returns the normalised weights in use.
func (s *SimilarityScorer) Weights() models.ScoringWeights {
	return s.weights
}

// NormalizeWeights rescales weights to sum to 1. Negative or all-zero
// weights cannot be rescaled and fall back to the defaults.
func (s *SimilarityScorer) NormalizeWeights(w models.ScoringWeights) models.ScoringWeights {
	if w.Semantic < 0 || w.Budget < 0 || w.Location < 0 || w.Sum() <= 0 {
		s.logger.WithFields(logrus.Fields{
			"semantic": w.Semantic,
			"budget":   w.Budget,
			"location": w.Location,
		}).Warn("Invalid scoring weights, using defaults")
		s.metrics.recordWeightNormalization("defaulted")
		return DefaultScoringWeights()
	}

	sum := w.Sum()
	if math.Abs(sum-1) <= weightTolerance {
		return w
	}

	s.logger.WithFields(logrus.Fields{
		"semantic": w.Semantic,
		"budget":   w.Budget,
		"location": w.Location,
		"sum":      sum,
	}).Warn("Scoring weights do not sum to 1, normalizing")
	s.metrics.recordWeightNormalization("rescaled")

	return models.ScoringWeights{
		Semantic: w.Semantic / sum,
		Budget:   w.Budget / sum,
		Location: w.Location / sum,
	}
}

// Score computes every sub-score and the weighted composite for one pair.
func (s *SimilarityScorer) Score(userVec []float64, profile *models.UserProfile, vehicleVec []float64, vehicle *models.VehicleRecord) models.SubScores {
	return ScoreWith(s.weights, userVec, profile, vehicleVec, vehicle)
}

// ScoreWith scores a pair under weights that are assumed normalised.
func ScoreWith(w models.ScoringWeights, userVec []float64, profile *models.UserProfile, vehicleVec []float64, vehicle *models.VehicleRecord) models.SubScores {
	semantic := CosineSimilarity(userVec, vehicleVec)
	budget := BudgetFit(vehicle.Price(), profile.Budget)
	location := LocationFit(profile.Location, vehicle.Location)

	breakdown := models.ScoreBreakdown{
		Semantic: semantic * w.Semantic,
		Budget:   budget * w.Budget,
		Location: location * w.Location,
	}

	return models.SubScores{
		Composite:   clamp01(breakdown.Semantic + breakdown.Budget + breakdown.Location),
		Semantic:    semantic,
		BudgetFit:   budget,
		LocationFit: location,
		Breakdown:   breakdown,
	}
}

// CosineSimilarity compares the common prefix of a and b and clamps the
// result to [0, 1]. A zero-norm side yields 0.
func CosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	a, b = a[:n], b[:n]

	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}

	return clamp01(floats.Dot(a, b) / (normA * normB))
}

// BudgetFit scores price against the budget window. Prices inside the window
// score 1; below it the score decays towards BudgetUnderFloor, above it
// towards BudgetOverFloor. Unknown prices or budgets are neutral.
func BudgetFit(price float64, budget models.Budget) float64 {
	if price <= 0 || !budget.IsSet() {
		return neutralFit
	}

	switch {
	case price < budget.Min:
		return math.Max(BudgetUnderFloor, price/budget.Min)
	case price > budget.Max:
		return math.Max(BudgetOverFloor, budget.Max/price)
	default:
		return 1.0
	}
}

// LocationFit compares user and vehicle locations case-insensitively.
func LocationFit(user, vehicle models.Location) float64 {
	userState := strings.TrimSpace(user.State)
	vehicleState := strings.TrimSpace(vehicle.State)
	if userState == "" || vehicleState == "" {
		return neutralFit
	}
	if !strings.EqualFold(userState, vehicleState) {
		return LocationElsewhere
	}

	userCity := strings.TrimSpace(user.City)
	if userCity != "" && strings.EqualFold(userCity, strings.TrimSpace(vehicle.City)) {
		return LocationSameCity
	}
	return LocationSameState
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
