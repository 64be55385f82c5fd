package services

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/carmatch/internal/config"
	"github.com/temcen/carmatch/pkg/models"
)

func testExplanationConfig() config.ExplanationConfig {
	return config.ExplanationConfig{
		Enabled:     true,
		Timeout:     time.Second,
		Concurrency: 2,
		MaxReasons:  5,
	}
}

func rankedCandidate(position int, vehicle *models.VehicleRecord) models.ScoredCandidate {
	return models.ScoredCandidate{
		Vehicle: *vehicle,
		Scores: models.SubScores{
			Composite:   0.82,
			Semantic:    0.75,
			BudgetFit:   1.0,
			LocationFit: 1.0,
		},
		Position: position,
	}
}

func TestExplanationService_GeneratorAlwaysFails(t *testing.T) {
	generator := new(MockTextGenerator)
	generator.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("quota exceeded"))

	es := NewExplanationService(generator, testExplanationConfig(), newTestLogger(), nil)

	candidates := []models.ScoredCandidate{
		rankedCandidate(1, sampleVehicle()),
		rankedCandidate(2, &models.VehicleRecord{ID: "bare", Make: "Ford", Model: "Focus"}),
		rankedCandidate(3, &models.VehicleRecord{ID: "empty"}),
	}

	recs := es.ExplainAll(context.Background(), sampleUser(), candidates)

	require.Len(t, recs, 3)
	for _, rec := range recs {
		assert.NotEmpty(t, rec.Explanation)
		assert.GreaterOrEqual(t, len(rec.Reasons), 3)
		assert.LessOrEqual(t, len(rec.Reasons), 5)
		assert.Equal(t, models.ExplanationFallback, rec.ExplanationSource)
	}
	generator.AssertNumberOfCalls(t, "Generate", 3)
}

func TestExplanationService_NilGenerator(t *testing.T) {
	es := NewExplanationService(nil, testExplanationConfig(), newTestLogger(), nil)

	explanation := es.Explain(context.Background(), sampleUser(), rankedCandidate(1, sampleVehicle()))

	assert.Equal(t, models.ExplanationFallback, explanation.Source)
	assert.Contains(t, explanation.Text, "2024 Toyota RAV4 Hybrid XLE")
	assert.Contains(t, explanation.Text, "Dana Reyes")
	assert.Contains(t, explanation.Reasons, "Fits within your $25,000 - $45,000 budget range")
	assert.Contains(t, explanation.Reasons, "Matches your preferred SUV body style")
}

func TestExplanationService_DisabledSkipsGenerator(t *testing.T) {
	generator := new(MockTextGenerator)
	cfg := testExplanationConfig()
	cfg.Enabled = false

	es := NewExplanationService(generator, cfg, newTestLogger(), nil)
	explanation := es.Explain(context.Background(), sampleUser(), rankedCandidate(1, sampleVehicle()))

	assert.Equal(t, models.ExplanationFallback, explanation.Source)
	generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestExplanationService_ParsesStructuredOutput(t *testing.T) {
	generator := new(MockTextGenerator)
	generator.On("Generate", mock.Anything, mock.MatchedBy(func(prompt string) bool {
		return strings.Contains(prompt, "EXPLANATION:") && strings.Contains(prompt, "RAV4")
	})).Return(`EXPLANATION: The RAV4 Hybrid suits a family of four.
It stays inside your budget.
REASONS:
- Efficient hybrid powertrain
* Seats five comfortably
• Sold in Austin
1. Strong safety scores
2) Low running costs
- One too many`, nil)

	es := NewExplanationService(generator, testExplanationConfig(), newTestLogger(), nil)
	explanation := es.Explain(context.Background(), sampleUser(), rankedCandidate(1, sampleVehicle()))

	assert.Equal(t, models.ExplanationGenerated, explanation.Source)
	assert.Equal(t, "The RAV4 Hybrid suits a family of four. It stays inside your budget.", explanation.Text)
	assert.Equal(t, []string{
		"Efficient hybrid powertrain",
		"Seats five comfortably",
		"Sold in Austin",
		"Strong safety scores",
		"Low running costs",
	}, explanation.Reasons)
}

func TestExplanationService_SalvagesUnstructuredOutput(t *testing.T) {
	generator := new(MockTextGenerator)
	generator.On("Generate", mock.Anything, mock.Anything).
		Return("This RAV4 is a sensible, efficient pick for your family.\n- Great mileage", nil)

	es := NewExplanationService(generator, testExplanationConfig(), newTestLogger(), nil)
	explanation := es.Explain(context.Background(), sampleUser(), rankedCandidate(1, sampleVehicle()))

	assert.Equal(t, models.ExplanationGenerated, explanation.Source)
	assert.Equal(t, "This RAV4 is a sensible, efficient pick for your family.", explanation.Text)
	require.Len(t, explanation.Reasons, 3)
	assert.Equal(t, "Great mileage", explanation.Reasons[0])
}

func TestExplanationService_EmptyOutputUsesFallbackText(t *testing.T) {
	generator := new(MockTextGenerator)
	generator.On("Generate", mock.Anything, mock.Anything).Return("REASONS:\n- Roomy", nil)

	es := NewExplanationService(generator, testExplanationConfig(), newTestLogger(), nil)
	explanation := es.Explain(context.Background(), sampleUser(), rankedCandidate(1, sampleVehicle()))

	assert.NotEmpty(t, explanation.Text)
	assert.Equal(t, "Roomy", explanation.Reasons[0])
	assert.GreaterOrEqual(t, len(explanation.Reasons), 3)
}

func TestExplanationService_TimeoutFallsBack(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	slow := generatorFunc(func(ctx context.Context, prompt string) (string, error) {
		<-release // ignores ctx
		return "EXPLANATION: too late", nil
	})

	cfg := testExplanationConfig()
	cfg.Timeout = 20 * time.Millisecond
	es := NewExplanationService(slow, cfg, newTestLogger(), nil)

	start := time.Now()
	explanation := es.Explain(context.Background(), sampleUser(), rankedCandidate(1, sampleVehicle()))

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, models.ExplanationFallback, explanation.Source)
}

func TestExplanationService_CancelledContext(t *testing.T) {
	generator := new(MockTextGenerator)
	es := NewExplanationService(generator, testExplanationConfig(), newTestLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	recs := es.ExplainAll(ctx, sampleUser(), []models.ScoredCandidate{
		rankedCandidate(1, sampleVehicle()),
		rankedCandidate(2, sampleVehicle()),
	})

	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, models.ExplanationFallback, rec.ExplanationSource)
	}
	generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestExplanationService_ExplainAllKeepsOrderAndBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	generator := generatorFunc(func(ctx context.Context, prompt string) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return "EXPLANATION: ok\nREASONS:\n- a\n- b\n- c", nil
	})

	es := NewExplanationService(generator, testExplanationConfig(), newTestLogger(), nil)

	candidates := make([]models.ScoredCandidate, 0, 6)
	for i := 1; i <= 6; i++ {
		v := sampleVehicle()
		v.ID = string(rune('a' + i))
		candidates = append(candidates, rankedCandidate(i, v))
	}

	recs := es.ExplainAll(context.Background(), sampleUser(), candidates)

	require.Len(t, recs, 6)
	for i, rec := range recs {
		assert.Equal(t, candidates[i].Vehicle.ID, rec.Vehicle.ID)
		assert.Equal(t, i+1, rec.Position)
		assert.Equal(t, models.ExplanationGenerated, rec.ExplanationSource)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestNewRecommendation(t *testing.T) {
	candidate := rankedCandidate(2, sampleVehicle())
	candidate.Degraded = true

	rec := NewRecommendation(candidate, Explanation{Text: "why", Reasons: []string{"a"}, Source: models.ExplanationGenerated})

	assert.Equal(t, 2, rec.Position)
	assert.Equal(t, "2024 Toyota RAV4 Hybrid XLE", rec.Car)
	assert.Equal(t, 0.82, rec.SimilarityScore)
	assert.Equal(t, 1.0, rec.BudgetFit)
	assert.True(t, rec.Degraded)
	assert.Equal(t, "why", rec.Explanation)
}

func TestExplanationService_FallbackBudgetReasonMatchesWindow(t *testing.T) {
	es := NewExplanationService(nil, testExplanationConfig(), newTestLogger(), nil)
	profile := sampleUser()
	profile.Budget = models.Budget{Min: 30000, Max: 40000}

	tests := []struct {
		name       string
		price      float64
		wantReason string
	}{
		{"inside window", 35000, "Fits within your $30,000 - $40,000 budget range"},
		{"over budget", 46000, "Good value relative to your budget"},
		{"under minimum", 25000, "Good value relative to your budget"},
		{"far over budget", 60000, "Good value close to your budget"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vehicle := sampleVehicle()
			vehicle.MSRP = tt.price
			vehicle.DealerPrice = 0

			candidate := rankedCandidate(1, vehicle)
			candidate.Scores.BudgetFit = BudgetFit(vehicle.Price(), profile.Budget)

			explanation := es.Explain(context.Background(), profile, candidate)

			require.NotEmpty(t, explanation.Reasons)
			assert.Equal(t, tt.wantReason, explanation.Reasons[0])
			if candidate.Scores.BudgetFit < 1 {
				for _, reason := range explanation.Reasons {
					assert.NotContains(t, reason, "Fits within your")
				}
			}
		})
	}
}
