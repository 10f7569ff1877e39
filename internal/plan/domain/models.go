// Package domain contains the plan catalog models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
)

// DurationType is the unit a plan period is measured in.
type DurationType string

const (
	DurationDay   DurationType = "day"
	DurationMonth DurationType = "month"
	DurationYear  DurationType = "year"
)

// Plan is immutable reference data describing a subscribable offering.
// Prices are minor units.
type Plan struct {
	ID           snowflake.ID   `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"type:text;not null" json:"name"`
	Code         string         `gorm:"type:text;not null;uniqueIndex" json:"code"`
	Description  string         `gorm:"type:text;not null" json:"description"`
	Price        int64          `gorm:"not null" json:"price"`
	Currency     string         `gorm:"type:text;not null" json:"currency"`
	DurationType DurationType   `gorm:"type:text;not null" json:"duration_type"`
	Duration     int            `gorm:"not null" json:"duration"`
	TrialEnabled bool           `gorm:"not null;default:false" json:"trial_enabled"`
	TrialDays    int            `gorm:"not null;default:0" json:"trial_days"`
	Features     pq.StringArray `gorm:"type:text[]" json:"features"`
	MaxEmployees int            `gorm:"not null;default:0" json:"max_employees"`
	IsActive     bool           `gorm:"not null;default:true" json:"is_active"`
	SortOrder    int            `gorm:"not null;default:0" json:"sort_order"`
	CreatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// PeriodEnd returns the end of one plan period starting at from.
func (p Plan) PeriodEnd(from time.Time) time.Time {
	switch p.DurationType {
	case DurationDay:
		return from.AddDate(0, 0, p.Duration)
	case DurationYear:
		return from.AddDate(p.Duration, 0, 0)
	default:
		return from.AddDate(0, p.Duration, 0)
	}
}

// PeriodDays returns the number of whole days in one plan period
// anchored at from.
func (p Plan) PeriodDays(from time.Time) int {
	days := int(p.PeriodEnd(from).Sub(from).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

// PerDayPrice returns the plan price spread across one period anchored
// at from, in minor units.
func (p Plan) PerDayPrice(from time.Time) int64 {
	return p.Price / int64(p.PeriodDays(from))
}
