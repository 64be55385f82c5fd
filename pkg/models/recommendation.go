package models

import (
	"time"

	"github.com/google/uuid"
)

// FeatureVectorLength is the schema-aligned length of every user and vehicle vector.
const FeatureVectorLength = 32

type OwnerKind string

const (
	OwnerUser    OwnerKind = "user"
	OwnerVehicle OwnerKind = "vehicle"
)

type FeatureVector struct {
	OwnerID     string    `json:"owner_id"`
	OwnerKind   OwnerKind `json:"owner_kind"`
	Values      []float64 `json:"values"`
	SourceText  string    `json:"source_text"`
	GeneratedAt time.Time `json:"generated_at"`
	Degraded    bool      `json:"degraded"`
}

type ScoringWeights struct {
	Semantic float64 `json:"semantic"`
	Budget   float64 `json:"budget"`
	Location float64 `json:"location"`
}

// Sum returns the total of all weights.
func (w ScoringWeights) Sum() float64 {
	return w.Semantic + w.Budget + w.Location
}

// ScoreBreakdown holds each sub-score multiplied by its weight.
type ScoreBreakdown struct {
	Semantic float64 `json:"semantic"`
	Budget   float64 `json:"budget"`
	Location float64 `json:"location"`
}

type SubScores struct {
	Composite   float64        `json:"composite"`
	Semantic    float64        `json:"semantic"`
	BudgetFit   float64        `json:"budget_fit"`
	LocationFit float64        `json:"location_fit"`
	Breakdown   ScoreBreakdown `json:"breakdown"`
}

type ScoredCandidate struct {
	Vehicle      VehicleRecord `json:"vehicle"`
	Scores       SubScores     `json:"scores"`
	Degraded     bool          `json:"degraded"`
	CatalogIndex int           `json:"-"`
	Position     int           `json:"position"`
}

const (
	ExplanationGenerated = "generated"
	ExplanationFallback  = "fallback"
)

type Recommendation struct {
	Position          int            `json:"position"`
	Car               string         `json:"car"`
	Vehicle           VehicleRecord  `json:"vehicle"`
	SimilarityScore   float64        `json:"similarity_score"`
	SemanticScore     float64        `json:"semantic_similarity"`
	BudgetFit         float64        `json:"budget_fit"`
	LocationFit       float64        `json:"location_proximity"`
	Breakdown         ScoreBreakdown `json:"breakdown"`
	Degraded          bool           `json:"degraded,omitempty"`
	Explanation       string         `json:"explanation"`
	Reasons           []string       `json:"reasons"`
	ExplanationSource string         `json:"explanation_source"`
}

type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type RecommendationResult struct {
	RequestID         uuid.UUID        `json:"request_id"`
	User              UserRef          `json:"user"`
	Recommendations   []Recommendation `json:"recommendations"`
	TotalCarsAnalyzed int              `json:"total_cars_analyzed"`
	// FilteredCars counts matches above the threshold before the limit applies.
	FilteredCars      int              `json:"filtered_cars"`
	Method            string           `json:"method"`
	GeneratedAt       time.Time        `json:"generated_at"`
}

type SimilarityBreakdown struct {
	UserID          string         `json:"user_id"`
	VehicleID       string         `json:"vehicle_id"`
	Car             string         `json:"car"`
	Scores          SubScores      `json:"scores"`
	Weights         ScoringWeights `json:"weights"`
	UserDegraded    bool           `json:"user_vector_degraded"`
	VehicleDegraded bool           `json:"vehicle_vector_degraded"`
}

type EngineStatus struct {
	Initialized    bool   `json:"initialized"`
	UserVectors    int    `json:"user_vectors"`
	VehicleVectors int    `json:"vehicle_vectors"`
	TotalCars      int    `json:"total_cars"`
	Method         string `json:"method"`
}
