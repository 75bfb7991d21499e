package models

import (
	"errors"
	"fmt"
	"strings"
)

// Meal types a recommendation can target.
const (
	MealBreakfast = "BREAKFAST"
	MealLunch     = "LUNCH"
	MealDinner    = "DINNER"
	MealSnacks    = "SNACKS"
)

// MealTypes lists the meal types in daily order.
var MealTypes = []string{MealBreakfast, MealLunch, MealDinner, MealSnacks}

// DietaryPreferences is the accepted vocabulary for UserProfile.DietaryPreferences.
var DietaryPreferences = []string{
	"Vegetarian", "Vegan", "Pescatarian", "Keto", "Paleo",
	"Gluten-Free", "Dairy-Free", "Nut-Free", "Halal", "Kosher",
	"Low-Carb", "Low-Fat", "High-Protein", "Mediterranean", "FODMAP", "Sugar-Free",
}

// UserProfile describes the person meals are recommended for.
type UserProfile struct {
	Name               string   `json:"name,omitempty"`
	Age                int      `json:"age"`
	Gender             string   `json:"gender"`
	HeightCM           int      `json:"height_cm"`
	WeightKG           float64  `json:"weight_kg"`
	ActivityLevel      string   `json:"activity_level"`
	DietaryPreferences []string `json:"dietary_preferences"`
	Allergies          []string `json:"allergies"`
	HealthConditions   []string `json:"health_conditions"`
	WeightGoal         string   `json:"weight_goal"`
	PastMeals          []string `json:"past_meals"`
}

// Validate checks required fields and physical ranges.
func (p *UserProfile) Validate() error {
	var errs []error
	if p.Age < 0 || p.Age > 120 {
		errs = append(errs, fmt.Errorf("age must be between 0 and 120, got %d", p.Age))
	}
	if p.HeightCM <= 50 || p.HeightCM >= 250 {
		errs = append(errs, fmt.Errorf("height_cm must be between 50 and 250, got %d", p.HeightCM))
	}
	if p.WeightKG <= 20 || p.WeightKG >= 300 {
		errs = append(errs, fmt.Errorf("weight_kg must be between 20 and 300, got %g", p.WeightKG))
	}
	if strings.TrimSpace(p.Gender) == "" {
		errs = append(errs, errors.New("gender is required"))
	}
	if strings.TrimSpace(p.ActivityLevel) == "" {
		errs = append(errs, errors.New("activity_level is required"))
	}
	if strings.TrimSpace(p.WeightGoal) == "" {
		errs = append(errs, errors.New("weight_goal is required"))
	}
	for _, pref := range p.DietaryPreferences {
		if !knownPreference(pref) {
			errs = append(errs, fmt.Errorf("unknown dietary preference %q", pref))
		}
	}
	return errors.Join(errs...)
}

func knownPreference(pref string) bool {
	for _, p := range DietaryPreferences {
		if p == pref {
			return true
		}
	}
	return false
}

// RecommendedMeal is one structured meal suggestion.
type RecommendedMeal struct {
	MealName         string   `json:"meal_name"`
	MealType         string   `json:"meal_type"`
	Ingredients      []string `json:"ingredients"`
	PreparationSteps []string `json:"preparation_steps"`
	PreparedSteps    []string `json:"prepared_steps"`
	PrepTimeMinutes  int      `json:"prep_time_minutes"`
	Portion          string   `json:"portion"`
	GoalSupport      string   `json:"goal_support"`
}

// Recommendation is the outcome of an interview run for one profile.
type Recommendation struct {
	UserProfile UserProfile       `json:"user_profile"`
	Meals       []RecommendedMeal `json:"recommended_meals"`
}
