package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	InventoryVehicleUpserted = "vehicle_upserted"
	InventoryVehicleRemoved  = "vehicle_removed"
	InventoryProfileUpdated  = "profile_updated"
)

// InventoryEvent is published by the catalog and profile owners whenever a
// vehicle or a shopper profile changes.
type InventoryEvent struct {
	EventID   uuid.UUID      `json:"event_id"`
	EventType string         `json:"event_type"`
	VehicleID string         `json:"vehicle_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Vehicle   *VehicleRecord `json:"vehicle,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type RecommendedVehicle struct {
	VehicleID string  `json:"vehicle_id"`
	Position  int     `json:"position"`
	Score     float64 `json:"score"`
	Source    string  `json:"explanation_source"`
}

// RecommendationEvent summarises a served recommendation list.
type RecommendationEvent struct {
	EventID           uuid.UUID            `json:"event_id"`
	RequestID         uuid.UUID            `json:"request_id"`
	UserID            string               `json:"user_id"`
	Method            string               `json:"method"`
	TotalCarsAnalyzed int                  `json:"total_cars_analyzed"`
	FilteredCars      int                  `json:"filtered_cars"`
	Vehicles          []RecommendedVehicle `json:"vehicles"`
	Timestamp         time.Time            `json:"timestamp"`
}

// NewRecommendationEvent builds the bus payload for a result.
func NewRecommendationEvent(result *RecommendationResult) RecommendationEvent {
	vehicles := make([]RecommendedVehicle, 0, len(result.Recommendations))
	for _, rec := range result.Recommendations {
		vehicles = append(vehicles, RecommendedVehicle{
			VehicleID: rec.Vehicle.ID,
			Position:  rec.Position,
			Score:     rec.SimilarityScore,
			Source:    rec.ExplanationSource,
		})
	}
	return RecommendationEvent{
		EventID:           uuid.New(),
		RequestID:         result.RequestID,
		UserID:            result.User.ID,
		Method:            result.Method,
		TotalCarsAnalyzed: result.TotalCarsAnalyzed,
		FilteredCars:      result.FilteredCars,
		Vehicles:          vehicles,
		Timestamp:         result.GeneratedAt,
	}
}
