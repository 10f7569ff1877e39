package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrPlanNotFound = errors.New("plan_not_found")
	ErrInvalidPlan  = errors.New("invalid_plan")
	ErrPlanInactive = errors.New("plan_inactive")
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Plan, error)
	List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]Plan, error)
	Insert(ctx context.Context, db *gorm.DB, plan *Plan) error
}

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (Plan, error)
	GetActive(ctx context.Context, id snowflake.ID) (Plan, error)
	GetByCode(ctx context.Context, code string) (Plan, error)
	List(ctx context.Context, activeOnly bool) ([]Plan, error)
}
