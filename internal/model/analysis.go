package model

// Ingredient is one line of the analysis service's breakdown.
// The JSON names match the service's wire format, hence snake_case.
type Ingredient struct {
	Name     string  `json:"name"`
	Amount   float64 `json:"amount"`
	Carbs    float64 `json:"carbs"`
	Proteins float64 `json:"proteins"`
	Fats     float64 `json:"fats"`
}

// MealAnalysis is the structured payload attached to a row once the analysis
// service reports success. Stored as JSON in the last_analysis column.
type MealAnalysis struct {
	MealID      string       `json:"meal_id"`
	MealName    string       `json:"meal_name"`
	Ingredients []Ingredient `json:"ingredients"`
	Timestamp   string       `json:"timestamp"`
}

// Totals sums the macros over all ingredients.
func (a *MealAnalysis) Totals() Macros {
	var m Macros
	if a == nil {
		return m
	}
	for _, in := range a.Ingredients {
		m.Carbs += in.Carbs
		m.Proteins += in.Proteins
		m.Fats += in.Fats
	}
	return m
}

// Macros holds grams of each macronutrient.
type Macros struct {
	Carbs    float64 `json:"carbs"`
	Proteins float64 `json:"proteins"`
	Fats     float64 `json:"fats"`
}

// Calories uses the Atwater factors: 4 kcal/g for carbs and protein, 9 for fat.
func (m Macros) Calories() float64 {
	return 4*m.Carbs + 4*m.Proteins + 9*m.Fats
}

// Add returns the element-wise sum of m and o.
func (m Macros) Add(o Macros) Macros {
	return Macros{
		Carbs:    m.Carbs + o.Carbs,
		Proteins: m.Proteins + o.Proteins,
		Fats:     m.Fats + o.Fats,
	}
}
