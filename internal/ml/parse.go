package ml

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/franckalain/nutriscan/internal/models"
	"github.com/go-playground/validator"
)

var validate = validator.New()

// ParseEstimate parses a model reply into a NutritionEstimate. The reply must
// be a JSON object carrying every field of NutritionSchema. Values are
// returned as sent: no rounding, no clamping.
func ParseEstimate(text string) (*models.NutritionEstimate, error) {
	textContent := stripCodeFence(strings.TrimSpace(text))
	if textContent == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrSchemaViolation)
	}

	// First unmarshal into a map to check for missing fields
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal([]byte(textContent), &rawMap); err != nil {
		return nil, fmt.Errorf("%w: reply is not a JSON object: %w", ErrSchemaViolation, err)
	}
	if rawMap == nil {
		return nil, fmt.Errorf("%w: reply is null", ErrSchemaViolation)
	}

	for _, field := range NutritionSchema.Required {
		value, exists := rawMap[field]
		if !exists || bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			return nil, fmt.Errorf("%w: missing required field '%s'", ErrSchemaViolation, field)
		}
	}

	// Now unmarshal into our struct
	var estimate models.NutritionEstimate
	if err := json.Unmarshal([]byte(textContent), &estimate); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaViolation, err)
	}

	if err := validate.Struct(&estimate); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaViolation, err)
	}

	if estimate.NotFound() && estimate.HasNutrients() {
		return nil, fmt.Errorf("%w: '%s' reported with non-zero nutrients", ErrSchemaViolation, models.FoodNotFound)
	}

	return &estimate, nil
}

// stripCodeFence removes a ```json ... ``` wrapper some models add even in JSON mode
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
