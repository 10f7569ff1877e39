package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/opencorehq/tenantcore/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	repo plandomain.Repository
}

type ServiceParam struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo plandomain.Repository
}

func NewService(p ServiceParam) plandomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("plan.service"),

		repo: p.Repo,
	}
}

// Get implements domain.Service.
func (s *Service) Get(ctx context.Context, id snowflake.ID) (plandomain.Plan, error) {
	plan, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return plandomain.Plan{}, err
	}
	if plan == nil {
		return plandomain.Plan{}, plandomain.ErrPlanNotFound
	}
	return *plan, nil
}

// GetActive implements domain.Service.
func (s *Service) GetActive(ctx context.Context, id snowflake.ID) (plandomain.Plan, error) {
	plan, err := s.Get(ctx, id)
	if err != nil {
		return plandomain.Plan{}, err
	}
	if !plan.IsActive {
		return plandomain.Plan{}, plandomain.ErrPlanInactive
	}
	return plan, nil
}

// GetByCode implements domain.Service.
func (s *Service) GetByCode(ctx context.Context, code string) (plandomain.Plan, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return plandomain.Plan{}, plandomain.ErrInvalidPlan
	}
	plan, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return plandomain.Plan{}, err
	}
	if plan == nil {
		return plandomain.Plan{}, plandomain.ErrPlanNotFound
	}
	return *plan, nil
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]plandomain.Plan, error) {
	return s.repo.List(ctx, s.db, activeOnly)
}
