package models

import (
	"errors"
	"strings"
	"time"
)

// ErrValidation is returned when a submission is missing required fields
// or names an unrecognized category. Nothing is persisted in that case.
var ErrValidation = errors.New("invalid submission")

type Category string

const (
	CategoryTired   Category = "tired"
	CategorySpace   Category = "space"
	CategoryCompany Category = "company"
	CategoryPain    Category = "pain"
	CategoryMusic   Category = "music"
)

// ParseCategory maps a wire string to a recognized category.
// The empty Category means unrecognized.
func ParseCategory(s string) Category {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryTired:
		return CategoryTired
	case CategorySpace:
		return CategorySpace
	case CategoryCompany:
		return CategoryCompany
	case CategoryPain:
		return CategoryPain
	case CategoryMusic:
		return CategoryMusic
	default:
		return ""
	}
}

// Event is a single need report from a device. The id is assigned by the
// store and the record is never mutated afterwards; observer-side notes
// and acknowledgements live in the client overlay, not here.
type Event struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	Category   Category  `json:"category"`
	OccurredAt time.Time `json:"occurred_at"`
}
