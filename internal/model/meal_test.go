package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMealStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to MealStatus
		want     bool
	}{
		{StatusAnalyzing, StatusComplete, true},
		{StatusAnalyzing, StatusFailed, true},
		{StatusAnalyzing, StatusAnalyzing, true},
		{StatusComplete, StatusComplete, true},
		{StatusComplete, StatusAnalyzing, false},
		{StatusComplete, StatusFailed, false},
		{StatusFailed, StatusAnalyzing, false},
		{StatusFailed, StatusComplete, true},
		{StatusError, StatusAnalyzing, true},
		{StatusAnalyzing, StatusUploading, false},
		{StatusAnalyzing, MealStatus("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestMacros_Calories(t *testing.T) {
	m := Macros{Carbs: 10, Proteins: 20, Fats: 5}
	assert.Equal(t, 165.0, m.Calories())
}

func TestMealAnalysis_Totals(t *testing.T) {
	a := &MealAnalysis{
		Ingredients: []Ingredient{
			{Name: "rice", Carbs: 40, Proteins: 4, Fats: 1},
			{Name: "chicken", Carbs: 0, Proteins: 30, Fats: 6},
		},
	}
	assert.Equal(t, Macros{Carbs: 40, Proteins: 34, Fats: 7}, a.Totals())

	var nilAnalysis *MealAnalysis
	assert.Equal(t, Macros{}, nilAnalysis.Totals())
}

func TestMeal_MacrosTreatsNilAsZero(t *testing.T) {
	m := &Meal{Carbs: Ptr(12.5)}
	assert.Equal(t, Macros{Carbs: 12.5}, m.Macros())
	assert.Equal(t, 50.0, m.Calories())
}

func TestMealPatch(t *testing.T) {
	assert.True(t, MealPatch{}.IsEmpty())
	assert.False(t, MealPatch{Favorite: Ptr(true)}.IsEmpty())

	assert.False(t, MealPatch{Favorite: Ptr(true)}.TouchesAnalysis())
	assert.True(t, MealPatch{Carbs: Ptr(1.0)}.TouchesAnalysis())
}
