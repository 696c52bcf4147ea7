package model

import "time"

// MealType は食事区分を表す。
type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealSnack     MealType = "snack"
)

// ValidMealType は食事区分が定義済みの値かどうかを判定する。
func ValidMealType(m MealType) bool {
	switch m {
	case MealBreakfast, MealLunch, MealDinner, MealSnack:
		return true
	default:
		return false
	}
}

// FoodLog は1回の食事記録を表す。
// NotesはサニタイズされたHTMLとして保存される。
type FoodLog struct {
	ID        string
	UserID    string
	Name      string
	MealType  MealType
	Calories  float64
	ProteinG  float64
	FatG      float64
	CarbsG    float64
	Notes     string
	EatenAt   time.Time
	SyncedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
