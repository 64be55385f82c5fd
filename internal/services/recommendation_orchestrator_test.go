package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/carmatch/internal/config"
	"github.com/temcen/carmatch/pkg/models"
)

func newTestOrchestrator(cfg config.RecommendationConfig, generator TextGenerator, catalog []models.VehicleRecord, users ...models.UserProfile) (*RecommendationOrchestrator, *MemoryCatalogStore, *MemoryUserStore) {
	logger := newTestLogger()
	catalogStore := NewMemoryCatalogStore(catalog...)
	userStore := NewMemoryUserStore(users...)

	o := NewRecommendationOrchestrator(
		catalogStore,
		userStore,
		NewVectorizer(logger).WithClock(fixedClock),
		NewSimilarityScorer(cfg.Weights.ScoringWeights(), logger, nil),
		NewCandidateFilter(cfg.Filters, logger),
		NewExplanationService(generator, cfg.Explanation, logger, nil),
		NewVectorStore(nil, "", time.Hour, logger, nil),
		cfg,
		logger,
		nil,
	).WithClock(fixedClock)

	return o, catalogStore, userStore
}

func inventory() []models.VehicleRecord {
	austin := models.Location{City: "Austin", State: "TX"}
	return []models.VehicleRecord{
		{ID: "civic", Year: 2024, Make: "Honda", Model: "Civic", BodyStyle: "Sedan", Drivetrain: "FWD", FuelType: "Gasoline", MPGCity: 31, MPGHighway: 40, MSRP: 26000, Location: austin, Status: models.VehicleStatusInStock},
		{ID: "rav4", Year: 2024, Make: "Toyota", Model: "RAV4", Trim: "Hybrid XLE", BodyStyle: "SUV", Drivetrain: "AWD", FuelType: "Hybrid", MPGCity: 41, MPGHighway: 38, Features: []string{"Adaptive Cruise", "Lane Keep Assist"}, MSRP: 34000, Location: austin, Status: models.VehicleStatusInStock},
		{ID: "f150", Year: 2023, Make: "Ford", Model: "F-150", BodyStyle: "Truck", Drivetrain: "4WD", FuelType: "Gasoline", MSRP: 52000, Location: models.Location{City: "Denver", State: "CO"}, Status: models.VehicleStatusInStock},
		{ID: "ioniq5", Year: 2024, Make: "Hyundai", Model: "Ioniq 5", BodyStyle: "SUV", Drivetrain: "AWD", FuelType: "Electric", MSRP: 44000, Location: models.Location{City: "Dallas", State: "TX"}, Status: models.VehicleStatusInStock},
		{ID: "sold", Year: 2022, Make: "Mazda", Model: "CX-5", BodyStyle: "SUV", MSRP: 29000, Status: "Sold"},
	}
}

func TestOrchestrator_BudgetFitOrdersIdenticalVehicles(t *testing.T) {
	loc := models.Location{City: "Austin", State: "TX"}
	catalog := []models.VehicleRecord{
		{ID: "expensive", Year: 2024, Make: "Acme", Model: "Roadster", MSRP: 55000, Location: loc, Status: models.VehicleStatusInStock},
		{ID: "affordable", Year: 2024, Make: "Acme", Model: "Roadster", MSRP: 32000, Location: loc, Status: models.VehicleStatusInStock},
	}
	user := models.UserProfile{ID: "u1", FirstName: "Sam", Location: loc, Budget: models.Budget{Min: 30000, Max: 40000}}

	o, _, _ := newTestOrchestrator(config.DefaultRecommendationConfig(), nil, catalog, user)

	result, err := o.GetRecommendations(context.Background(), "u1", 5)
	require.NoError(t, err)
	require.Len(t, result.Recommendations, 2)

	first, second := result.Recommendations[0], result.Recommendations[1]
	assert.Equal(t, "affordable", first.Vehicle.ID)
	assert.Equal(t, 1, first.Position)
	assert.Equal(t, 1.0, first.BudgetFit)
	assert.InDelta(t, 40000.0/55000.0, second.BudgetFit, 1e-9)
	assert.InDelta(t, first.SemanticScore, second.SemanticScore, 1e-9)
	assert.Greater(t, first.SimilarityScore, second.SimilarityScore)
}

func TestOrchestrator_LocationFit(t *testing.T) {
	user := models.UserProfile{ID: "u1", Location: models.Location{City: "Austin", State: "TX"}}
	o, _, _ := newTestOrchestrator(config.DefaultRecommendationConfig(), nil, inventory(), user)

	result, err := o.GetRecommendations(context.Background(), "u1", 10)
	require.NoError(t, err)

	fits := map[string]float64{}
	for _, rec := range result.Recommendations {
		fits[rec.Vehicle.ID] = rec.LocationFit
	}
	assert.Equal(t, 1.0, fits["rav4"])
	assert.Equal(t, 0.7, fits["ioniq5"])
	assert.Equal(t, 0.3, fits["f150"])
}

func TestOrchestrator_EmptyAfterFiltering(t *testing.T) {
	cfg := config.DefaultRecommendationConfig()
	cfg.Filters.BodyStyleMatch = true
	user := models.UserProfile{ID: "u1", Preferences: models.Preferences{BodyStyles: []string{"Minivan"}}}

	o, _, _ := newTestOrchestrator(cfg, nil, inventory(), user)

	result, err := o.GetRecommendations(context.Background(), "u1", 5)
	require.NoError(t, err)
	require.NotNil(t, result.Recommendations)
	assert.Empty(t, result.Recommendations)
	assert.Equal(t, 0, result.FilteredCars)
	assert.Equal(t, 4, result.TotalCarsAnalyzed)
}

func TestOrchestrator_EmptyCatalog(t *testing.T) {
	o, _, _ := newTestOrchestrator(config.DefaultRecommendationConfig(), nil, nil, models.UserProfile{ID: "u1"})

	result, err := o.GetRecommendations(context.Background(), "u1", 5)
	require.NoError(t, err)
	assert.NotNil(t, result.Recommendations)
	assert.Empty(t, result.Recommendations)
}

func TestOrchestrator_GeneratorFailureStillExplains(t *testing.T) {
	generator := new(MockTextGenerator)
	generator.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("provider down"))

	o, _, _ := newTestOrchestrator(config.DefaultRecommendationConfig(), generator, inventory(), *sampleUser())

	result, err := o.GetRecommendations(context.Background(), "user-1", 3)
	require.NoError(t, err)
	require.Len(t, result.Recommendations, 3)

	for _, rec := range result.Recommendations {
		assert.NotEmpty(t, rec.Explanation)
		assert.GreaterOrEqual(t, len(rec.Reasons), 3)
		assert.Equal(t, models.ExplanationFallback, rec.ExplanationSource)
	}
	// Only the ranked top-N are explained.
	generator.AssertNumberOfCalls(t, "Generate", 3)
}

func TestOrchestrator_Deterministic(t *testing.T) {
	o, _, _ := newTestOrchestrator(config.DefaultRecommendationConfig(), nil, inventory(), *sampleUser())

	first, err := o.GetRecommendations(context.Background(), "user-1", 5)
	require.NoError(t, err)
	second, err := o.GetRecommendations(context.Background(), "user-1", 5)
	require.NoError(t, err)

	require.Equal(t, len(first.Recommendations), len(second.Recommendations))
	for i := range first.Recommendations {
		assert.Equal(t, first.Recommendations[i].Vehicle.ID, second.Recommendations[i].Vehicle.ID)
		assert.Equal(t, first.Recommendations[i].SimilarityScore, second.Recommendations[i].SimilarityScore)
	}
	assert.NotEqual(t, first.RequestID, second.RequestID)
}

func TestOrchestrator_RankingAndCounts(t *testing.T) {
	o, _, _ := newTestOrchestrator(config.DefaultRecommendationConfig(), nil, inventory(), *sampleUser())

	result, err := o.GetRecommendations(context.Background(), "user-1", 2)
	require.NoError(t, err)

	require.Len(t, result.Recommendations, 2)
	assert.Equal(t, 4, result.TotalCarsAnalyzed, "sold vehicles are not loaded")
	assert.Equal(t, 4, result.FilteredCars, "counted before truncation")
	assert.Equal(t, "rag", result.Method)
	assert.Equal(t, models.UserRef{ID: "user-1", Name: "Dana Reyes"}, result.User)
	assert.Equal(t, fixedClock(), result.GeneratedAt)
	assert.Equal(t, "rav4", result.Recommendations[0].Vehicle.ID)
	assert.GreaterOrEqual(t, result.Recommendations[0].SimilarityScore, result.Recommendations[1].SimilarityScore)
}

func TestOrchestrator_ThresholdAndLimits(t *testing.T) {
	cfg := config.DefaultRecommendationConfig()
	cfg.Filters.MinSimilarityScore = 1
	o, _, _ := newTestOrchestrator(cfg, nil, inventory(), *sampleUser())

	result, err := o.GetRecommendations(context.Background(), "user-1", 0)
	require.NoError(t, err)
	assert.Empty(t, result.Recommendations)
	assert.Equal(t, 0, result.FilteredCars)

	cfg = config.DefaultRecommendationConfig()
	cfg.MaxLimit = 2
	o, _, _ = newTestOrchestrator(cfg, nil, inventory(), *sampleUser())

	result, err = o.GetRecommendations(context.Background(), "user-1", 100)
	require.NoError(t, err)
	assert.Len(t, result.Recommendations, 2)
}

func TestOrchestrator_UnknownUser(t *testing.T) {
	o, _, _ := newTestOrchestrator(config.DefaultRecommendationConfig(), nil, inventory())

	_, err := o.GetRecommendations(context.Background(), "ghost", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "user", nf.Kind)
	assert.Equal(t, "ghost", nf.ID)
}

func TestOrchestrator_InitializeIsIdempotent(t *testing.T) {
	o, _, _ := newTestOrchestrator(config.DefaultRecommendationConfig(), nil, nil)
	ctx := context.Background()

	require.NoError(t, o.Initialize(ctx, inventory()[:2], []models.UserProfile{*sampleUser()}))
	status := o.Status()
	assert.True(t, status.Initialized)
	assert.Equal(t, 2, status.TotalCars)
	assert.Equal(t, 2, status.VehicleVectors)
	assert.Equal(t, 1, status.UserVectors)

	require.NoError(t, o.Initialize(ctx, inventory(), nil))
	assert.Equal(t, status, o.Status())
}

func TestOrchestrator_LazyWarmFromStores(t *testing.T) {
	o, _, _ := newTestOrchestrator(config.DefaultRecommendationConfig(), nil, inventory(), *sampleUser())

	assert.False(t, o.Status().Initialized)

	_, err := o.GetRecommendations(context.Background(), "user-1", 5)
	require.NoError(t, err)

	status := o.Status()
	assert.True(t, status.Initialized)
	assert.Equal(t, 4, status.TotalCars)
	assert.Equal(t, "rag", status.Method)
}

func TestOrchestrator_UserAddedAfterWarm(t *testing.T) {
	o, _, users := newTestOrchestrator(config.DefaultRecommendationConfig(), nil, inventory())
	require.NoError(t, o.Warm(context.Background()))

	users.Upsert(models.UserProfile{ID: "late", FirstName: "Lee", Financial: models.Financial{AnnualIncome: 60000}})

	result, err := o.GetRecommendations(context.Background(), "late", 5)
	require.NoError(t, err)
	assert.Equal(t, "Lee", result.User.Name)
	assert.Equal(t, 1, o.Status().UserVectors)
}

func TestOrchestrator_GetRecommendationsByName(t *testing.T) {
	other := models.UserProfile{ID: "user-2", FirstName: "Alex", LastName: "Danavan"}
	o, _, users := newTestOrchestrator(config.DefaultRecommendationConfig(), nil, inventory(), *sampleUser(), other)
	ctx := context.Background()

	result, err := o.GetRecommendationsByName(ctx, "  DANA ", 5)
	require.NoError(t, err)
	assert.Equal(t, "user-1", result.User.ID, "first match in known-user order wins")

	_, err = o.GetRecommendationsByName(ctx, "nobody", 5)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = o.GetRecommendationsByName(ctx, "", 5)
	assert.ErrorIs(t, err, ErrNotFound)

	users.Upsert(models.UserProfile{ID: "user-3", FirstName: "Priya", LastName: "Nair"})
	result, err = o.GetRecommendationsByName(ctx, "priya", 5)
	require.NoError(t, err)
	assert.Equal(t, "user-3", result.User.ID)
}

func TestOrchestrator_GetRecommendationsForProfile(t *testing.T) {
	o, _, _ := newTestOrchestrator(config.DefaultRecommendationConfig(), nil, inventory())

	result, err := o.GetRecommendationsForProfile(context.Background(), models.CustomCriteria{
		HouseholdSize: 2,
		Location:      models.Location{City: "Austin", State: "TX"},
		Preferences:   models.Preferences{BodyStyles: []string{"Sedan"}},
		Budget:        models.Budget{Min: 20000, Max: 30000},
	}, 3)
	require.NoError(t, err)

	assert.Equal(t, models.CustomProfileName, result.User.Name)
	assert.Empty(t, result.User.ID)
	require.NotEmpty(t, result.Recommendations)
	assert.Equal(t, "civic", result.Recommendations[0].Vehicle.ID)
	assert.Zero(t, o.Status().UserVectors, "ad-hoc vectors are not cached")
}

func TestOrchestrator_GetSimilarityBreakdown(t *testing.T) {
	o, _, _ := newTestOrchestrator(config.DefaultRecommendationConfig(), nil, inventory(), *sampleUser())
	ctx := context.Background()

	breakdown, err := o.GetSimilarityBreakdown(ctx, "user-1", "rav4")
	require.NoError(t, err)

	assert.Equal(t, "2024 Toyota RAV4 Hybrid XLE", breakdown.Car)
	assert.Equal(t, DefaultScoringWeights(), breakdown.Weights)
	assert.Equal(t, 1.0, breakdown.Scores.LocationFit)
	assert.Equal(t, 1.0, breakdown.Scores.BudgetFit)
	assert.InDelta(t,
		breakdown.Scores.Breakdown.Semantic+breakdown.Scores.Breakdown.Budget+breakdown.Scores.Breakdown.Location,
		breakdown.Scores.Composite, 1e-9)

	// Matches the score used for ranking.
	result, err := o.GetRecommendations(ctx, "user-1", 10)
	require.NoError(t, err)
	for _, rec := range result.Recommendations {
		if rec.Vehicle.ID == "rav4" {
			assert.InDelta(t, rec.SimilarityScore, breakdown.Scores.Composite, 1e-9)
		}
	}

	_, err = o.GetSimilarityBreakdown(ctx, "user-1", "missing")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "vehicle", nf.Kind)

	// Vehicles outside the live catalog are resolved through the store.
	breakdown, err = o.GetSimilarityBreakdown(ctx, "user-1", "sold")
	require.NoError(t, err)
	assert.Equal(t, "sold", breakdown.VehicleID)
}

func TestOrchestrator_GetAllUserRecommendations(t *testing.T) {
	other := models.UserProfile{ID: "user-2", FirstName: "Alex"}
	o, _, _ := newTestOrchestrator(config.DefaultRecommendationConfig(), nil, inventory(), *sampleUser(), other)

	results, err := o.GetAllUserRecommendations(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "user-1", results[0].User.ID)
	assert.Equal(t, "user-2", results[1].User.ID)
	for _, result := range results {
		assert.Len(t, result.Recommendations, 2)
	}
}

func TestOrchestrator_InventoryUpdates(t *testing.T) {
	o, _, _ := newTestOrchestrator(config.DefaultRecommendationConfig(), nil, inventory(), *sampleUser())
	ctx := context.Background()
	require.NoError(t, o.Warm(ctx))

	require.NoError(t, o.RefreshVehicle(ctx, models.VehicleRecord{
		ID: "prius", Year: 2024, Make: "Toyota", Model: "Prius", BodyStyle: "Hatchback", FuelType: "Hybrid",
		MSRP: 29000, Status: models.VehicleStatusInStock,
	}))
	assert.Equal(t, 5, o.Status().TotalCars)
	assert.Equal(t, 5, o.Status().VehicleVectors)

	// Updating an existing vehicle keeps its catalog position.
	require.NoError(t, o.RefreshVehicle(ctx, models.VehicleRecord{ID: "civic", Make: "Honda", Model: "Civic", MSRP: 27000}))
	assert.Equal(t, 5, o.Status().TotalCars)

	require.NoError(t, o.RefreshVehicle(ctx, models.VehicleRecord{ID: "f150", Status: "Sold"}))
	require.NoError(t, o.RemoveVehicle(ctx, "ioniq5"))
	assert.Equal(t, 3, o.Status().TotalCars)
	assert.Equal(t, 3, o.Status().VehicleVectors)

	result, err := o.GetRecommendations(ctx, "user-1", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"civic", "rav4", "prius"}, recommendationIDs(result))

	require.Error(t, o.RefreshVehicle(ctx, models.VehicleRecord{}))
}

func TestOrchestrator_InvalidateUser(t *testing.T) {
	o, _, users := newTestOrchestrator(config.DefaultRecommendationConfig(), nil, inventory(), *sampleUser())
	ctx := context.Background()

	_, err := o.GetRecommendations(ctx, "user-1", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, o.Status().UserVectors)

	updated := *sampleUser()
	updated.FirstName = "Danielle"
	users.Upsert(updated)

	require.NoError(t, o.InvalidateUser(ctx, "user-1"))
	assert.Zero(t, o.Status().UserVectors)

	result, err := o.GetRecommendations(ctx, "user-1", 5)
	require.NoError(t, err)
	assert.Equal(t, "Danielle Reyes", result.User.Name)
}

func TestOrchestrator_PublishesEvents(t *testing.T) {
	publisher := new(MockEventPublisher)
	publisher.On("PublishRecommendations", mock.Anything, mock.MatchedBy(func(r *models.RecommendationResult) bool {
		return r.User.ID == "user-1"
	})).Return(errors.New("broker unavailable")).Once()

	o, _, _ := newTestOrchestrator(config.DefaultRecommendationConfig(), nil, inventory(), *sampleUser())
	o.SetEventPublisher(publisher)

	result, err := o.GetRecommendations(context.Background(), "user-1", 5)
	require.NoError(t, err, "publish failures do not fail the request")
	assert.NotEmpty(t, result.Recommendations)
	publisher.AssertExpectations(t)
}

func TestOrchestrator_StrictStrategy(t *testing.T) {
	cfg := config.DefaultRecommendationConfig()
	cfg.Strategy = "strict"
	cfg = cfg.WithStrategy()

	o, _, _ := newTestOrchestrator(cfg, nil, inventory(), *sampleUser())

	result, err := o.GetRecommendations(context.Background(), "user-1", 5)
	require.NoError(t, err)

	assert.Equal(t, "strict", result.Method)
	// SUV only, within 10% of the 35,000 budget midpoint.
	assert.Equal(t, []string{"rav4"}, recommendationIDs(result))
}

func recommendationIDs(result *models.RecommendationResult) []string {
	ids := make([]string, 0, len(result.Recommendations))
	for _, rec := range result.Recommendations {
		ids = append(ids, rec.Vehicle.ID)
	}
	return ids
}
