package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_LoadsEmbeddedSchemas(t *testing.T) {
	sv, err := Default()
	require.NoError(t, err)
	assert.Equal(t, []string{CustomCriteriaSchema, InventoryEventSchema}, sv.GetAvailableSchemas())
}

func TestValidateCustomCriteria(t *testing.T) {
	sv, err := Default()
	require.NoError(t, err)

	tests := []struct {
		name  string
		body  string
		valid bool
	}{
		{
			name:  "full criteria",
			body:  `{"age":34,"household_size":4,"location":{"city":"Austin","state":"TX"},"preferences":{"body_styles":["SUV"]},"budget":{"min":25000,"max":45000},"financial":{"annual_income":90000,"credit_score":720}}`,
			valid: true,
		},
		{name: "empty object", body: `{}`, valid: true},
		{name: "credit score out of range", body: `{"financial":{"credit_score":900}}`, valid: false},
		{name: "negative budget", body: `{"budget":{"min":-1,"max":1000}}`, valid: false},
		{name: "unknown field", body: `{"favourite_colour":"red"}`, valid: false},
		{name: "wrong type", body: `{"preferences":{"body_styles":"SUV"}}`, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := sv.ValidateCustomCriteria(tt.body)
			assert.Equal(t, tt.valid, result.Valid, "%+v", result.Errors)
			if tt.valid {
				assert.NoError(t, result.Err())
			} else {
				assert.Error(t, result.Err())
				assert.NotEmpty(t, result.Errors)
			}
		})
	}
}

func TestValidateInventoryEvent(t *testing.T) {
	sv, err := Default()
	require.NoError(t, err)

	tests := []struct {
		name  string
		body  string
		valid bool
	}{
		{
			name:  "upsert with vehicle",
			body:  `{"event_type":"vehicle_upserted","vehicle":{"id":"v1","make":"Toyota","model":"RAV4","msrp":34000}}`,
			valid: true,
		},
		{name: "upsert without vehicle", body: `{"event_type":"vehicle_upserted"}`, valid: false},
		{name: "removal", body: `{"event_type":"vehicle_removed","vehicle_id":"v1"}`, valid: true},
		{name: "removal without id", body: `{"event_type":"vehicle_removed","vehicle_id":""}`, valid: false},
		{name: "profile update", body: `{"event_type":"profile_updated","user_id":"u1"}`, valid: true},
		{name: "unknown type", body: `{"event_type":"vehicle_painted"}`, valid: false},
		{name: "missing type", body: `{"vehicle_id":"v1"}`, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := sv.ValidateInventoryEvent([]byte(tt.body))
			assert.Equal(t, tt.valid, result.Valid, "%+v", result.Errors)
		})
	}
}

func TestValidate_UnknownSchema(t *testing.T) {
	result := NewSchemaValidator().ValidateJSONString("missing", `{}`)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "SCHEMA_NOT_FOUND", result.Errors[0].Code)
}

func TestValidationResult_ToAPIError(t *testing.T) {
	valid := &ValidationResult{Valid: true}
	assert.Nil(t, valid.ToAPIError())

	invalid := &ValidationResult{Errors: []ValidationError{{Field: "budget.min", Message: "must be >= 0"}}}
	apiErr := invalid.ToAPIError()
	body, ok := apiErr["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}
