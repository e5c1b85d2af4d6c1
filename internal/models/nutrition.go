package models

// FoodNotFound is the food name the model reports when the photo shows no food.
const FoodNotFound = "Еда не найдена"

// NutritionEstimate is the nutrition estimate for the portion shown in a photo
type NutritionEstimate struct {
	FoodName    string `json:"foodName" validate:"required"`
	ServingSize string `json:"servingSize" validate:"required"` // e.g. "около 250г"

	// Values for the depicted portion, not per 100g
	Calories      float64 `json:"calories" validate:"gte=0"`      // kcal
	Protein       float64 `json:"protein" validate:"gte=0"`       // grams
	Fat           float64 `json:"fat" validate:"gte=0"`           // grams
	Carbohydrates float64 `json:"carbohydrates" validate:"gte=0"` // grams
}

// NotFound reports whether the estimate is the negative-detection result
func (n *NutritionEstimate) NotFound() bool {
	return n.FoodName == FoodNotFound
}

// HasNutrients reports whether any nutrient value is non-zero
func (n *NutritionEstimate) HasNutrients() bool {
	return n.Calories != 0 || n.Protein != 0 || n.Fat != 0 || n.Carbohydrates != 0
}
