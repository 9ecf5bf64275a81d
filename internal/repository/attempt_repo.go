package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/wali-dispatch/internal/domain"
	"gorm.io/gorm"
)

// AttemptRepository is the append-only log of transport calls per dispatch
// job. Rows are never updated.
type AttemptRepository interface {
	Create(ctx context.Context, a *domain.NotificationAttempt) error
	GetByJobID(ctx context.Context, jobID string) ([]domain.NotificationAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.NotificationAttempt) error {
	if a == nil || strings.TrimSpace(a.JobID) == "" {
		return fmt.Errorf("%w: attempt job id is required", domain.ErrValidation)
	}
	if a.AttemptNumber < 1 {
		return fmt.Errorf("%w: attempt number must be positive", domain.ErrValidation)
	}

	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: attempt %d already recorded for job %s", domain.ErrConflict, a.AttemptNumber, a.JobID)
		}
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	*a = *attemptModelToDomain(model)
	return nil
}

// GetByJobID returns attempts in the order they were made.
func (r *GormAttemptRepo) GetByJobID(ctx context.Context, jobID string) ([]domain.NotificationAttempt, error) {
	var rows []NotificationAttemptModel
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("attempt_number ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load attempts for job %s: %w", jobID, err)
	}

	out := make([]domain.NotificationAttempt, len(rows))
	for i := range rows {
		out[i] = *attemptModelToDomain(&rows[i])
	}
	return out, nil
}
