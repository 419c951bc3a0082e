package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type modelPath struct {
	ProjectID string `path:"projectID" validate:"required,max=36,printascii"`
	ModelID   string `path:"modelID" validate:"required,uuid"`
}

const validModelID = "0b9a7c6e-1f2d-4e3c-8b7a-6d5c4b3a2f10"

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name       string
		input      modelPath
		wantFields []string
	}{
		{
			name:  "valid",
			input: modelPath{ProjectID: "a5b1c2d3", ModelID: validModelID},
		},
		{
			name:       "missing project",
			input:      modelPath{ModelID: validModelID},
			wantFields: []string{"projectID"},
		},
		{
			name:       "model id is not a uuid",
			input:      modelPath{ProjectID: "p1", ModelID: "pets_123"},
			wantFields: []string{"modelID"},
		},
		{
			name:       "project id too long",
			input:      modelPath{ProjectID: "0123456789012345678901234567890123456789", ModelID: validModelID},
			wantFields: []string{"projectID"},
		},
		{
			name:       "everything wrong",
			input:      modelPath{ProjectID: "café", ModelID: ""},
			wantFields: []string{"projectID", "modelID"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.input)
			if len(tt.wantFields) == 0 {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			fields := GetValidationFields(err)
			assert.Len(t, fields, len(tt.wantFields))
			for _, f := range tt.wantFields {
				assert.Contains(t, fields, f)
			}
		})
	}
}

func TestValidationMessages(t *testing.T) {
	err := ValidateStruct(&modelPath{ProjectID: "0123456789012345678901234567890123456789", ModelID: "nope"})
	require.Error(t, err)

	validationErr, ok := err.(*ValidationError)
	require.True(t, ok)

	assert.Equal(t, "Validation failed", validationErr.Message)
	assert.Equal(t, "projectID must be at most 36 characters", validationErr.Fields["projectID"])
	assert.Equal(t, "modelID must be a valid UUID", validationErr.Fields["modelID"])

	err = ValidateStruct(&modelPath{ModelID: validModelID})
	assert.Equal(t, "projectID is required", GetValidationFields(err)["projectID"])
}

func TestFieldNames(t *testing.T) {
	type body struct {
		Name   string   `json:"name,omitempty" validate:"required"`
		Labels []string `validate:"required"`
	}

	fields := GetValidationFields(ValidateStruct(&body{}))
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "Labels")
}

func TestUnknownTagMessage(t *testing.T) {
	type limits struct {
		Count int `json:"count" validate:"gte=10"`
	}

	fields := GetValidationFields(ValidateStruct(&limits{Count: 9}))
	assert.Equal(t, "count is invalid (gte)", fields["count"])
}

func TestValidationErrorHelpers(t *testing.T) {
	fields := map[string]string{"projectID": "projectID is required"}
	err := &ValidationError{Message: "Validation failed", Fields: fields}

	assert.Equal(t, "Validation failed", err.Error())
	assert.True(t, IsValidationError(err))
	assert.False(t, IsValidationError(assert.AnError))
	assert.Equal(t, fields, GetValidationFields(err))
	assert.Nil(t, GetValidationFields(assert.AnError))
}
