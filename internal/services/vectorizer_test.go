package services

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/carmatch/pkg/models"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func sampleUser() *models.UserProfile {
	return &models.UserProfile{
		ID:            "user-1",
		FirstName:     "Dana",
		LastName:      "Reyes",
		Age:           34,
		HouseholdSize: 4,
		Location:      models.Location{City: "Austin", State: "TX"},
		Preferences: models.Preferences{
			BodyStyles:  []string{"SUV"},
			Drivetrains: []string{"AWD"},
			FuelTypes:   []string{"Hybrid"},
		},
		Budget:    models.Budget{Min: 25000, Max: 45000},
		Financial: models.Financial{AnnualIncome: 90000, CreditScore: 720},
	}
}

func sampleVehicle() *models.VehicleRecord {
	return &models.VehicleRecord{
		ID:         "veh-1",
		Year:       2024,
		Make:       "Toyota",
		Model:      "RAV4",
		Trim:       "Hybrid XLE",
		BodyStyle:  "SUV",
		Drivetrain: "AWD",
		FuelType:   "Hybrid",
		MPGCity:    41,
		MPGHighway: 38,
		Features:   []string{"Adaptive Cruise", "Lane Keep Assist"},
		MSRP:       34000,
		Location:   models.Location{City: "Austin", State: "TX"},
	}
}

func TestVectorizer_Deterministic(t *testing.T) {
	v := NewVectorizer(newTestLogger()).WithClock(fixedClock)

	first := v.VectorizeUser(sampleUser())
	second := v.VectorizeUser(sampleUser())

	assert.Equal(t, first, second)
	assert.Equal(t, fixedClock(), first.GeneratedAt)
	assert.Equal(t, models.OwnerUser, first.OwnerKind)
	assert.False(t, first.Degraded)
}

func TestVectorizer_VectorShape(t *testing.T) {
	v := NewVectorizer(newTestLogger())

	for _, fv := range []models.FeatureVector{
		v.VectorizeUser(sampleUser()),
		v.VectorizeVehicle(sampleVehicle()),
		v.VectorizeUser(&models.UserProfile{ID: "empty"}),
	} {
		require.Len(t, fv.Values, models.FeatureVectorLength)
		for i, value := range fv.Values {
			assert.GreaterOrEqual(t, value, 0.0, "dimension %d", i)
			assert.LessOrEqual(t, value, 1.0, "dimension %d", i)
		}
	}
}

func TestVectorizer_DegradedOnInvalidText(t *testing.T) {
	v := NewVectorizer(newTestLogger())

	fv := v.Vectorize("veh-bad", models.OwnerVehicle, "sedan \xff\xfe")

	assert.True(t, fv.Degraded)
	assert.Len(t, fv.Values, models.FeatureVectorLength)
	assert.Equal(t, HashVector("sedan \xff\xfe"), fv.Values)
}

func TestExtractFeatures_TermGroups(t *testing.T) {
	values, err := ExtractFeatures("A reliable SUV with AWD")
	require.NoError(t, err)

	assert.Equal(t, 0.0, values[0], "sedan")
	assert.Equal(t, 1.0, values[1], "suv")
	assert.Equal(t, 1.0, values[5], "awd")
	assert.InDelta(t, 0.9, values[28], 1e-9, "reliability")
}

func TestExtractFeatures_WordBoundaries(t *testing.T) {
	values, err := ExtractFeatures("every gasket leveraged")
	require.NoError(t, err)

	assert.Equal(t, 0.0, values[10], "ev must not match inside words")
	assert.Equal(t, 0.0, values[11], "gas must not match inside words")
}

func TestExtractFeatures_RepeatedOccurrences(t *testing.T) {
	values, err := ExtractFeatures("family family family")
	require.NoError(t, err)

	// 0.8 for the term plus 0.1 for each extra occurrence, capped at 1.
	assert.InDelta(t, 1.0, values[12], 1e-9)

	values, err = ExtractFeatures("young")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, values[18], 1e-9)
}

func TestExtractFeatures_Scalars(t *testing.T) {
	values, err := ExtractFeatures("$10 $20 $30")
	require.NoError(t, err)

	n := len(values)
	assert.InDelta(t, 11.0/500, values[n-3], 1e-9)
	assert.InDelta(t, 0.3, values[n-2], 1e-9)
	assert.InDelta(t, 3.0/20, values[n-1], 1e-9)
}

func TestHashVector(t *testing.T) {
	a := HashVector("2024 Honda Civic")
	b := HashVector("2024 Honda Civic")
	c := HashVector("2024 Honda Accord")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	for _, value := range a {
		assert.Contains(t, []float64{0, 1}, value)
	}
}

func TestDescribeUser(t *testing.T) {
	text := DescribeUser(sampleUser())

	assert.Contains(t, text, "User: Dana Reyes, Age: 34, Family Size: 4")
	assert.Contains(t, text, "Location: Austin, TX")
	assert.Contains(t, text, "Body Style: SUV")
	assert.Contains(t, text, "Budget: $25,000 - $45,000")
	assert.Contains(t, text, "Credit Score: 720 (good credit)")
	assert.Contains(t, text, "family with children")
	assert.Contains(t, text, "middle-income")
}

func TestDescribeUser_OmitsUnknownFields(t *testing.T) {
	text := DescribeUser(&models.UserProfile{ID: "anon"})

	assert.Equal(t, "User: User", text)
}

func TestDescribeVehicle(t *testing.T) {
	text := DescribeVehicle(sampleVehicle())

	assert.Contains(t, text, "2024 Toyota RAV4 Hybrid XLE")
	assert.Contains(t, text, "Fuel Economy: 41/38 MPG city/highway")
	assert.Contains(t, text, "Key Features: Adaptive Cruise, Lane Keep Assist")
	assert.Contains(t, text, "MSRP: $34,000")
	assert.Contains(t, text, "family transportation")
	assert.Contains(t, text, "all-weather driving")
}
