package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/wali-dispatch/internal/domain"
	"github.com/kursadbilgin/wali-dispatch/internal/repository"
)

// NotificationQueries reads the notification log for operators.
type NotificationQueries struct {
	jobs     repository.NotificationRepository
	attempts repository.AttemptRepository
}

func NewNotificationQueries(jobs repository.NotificationRepository, attempts repository.AttemptRepository) (*NotificationQueries, error) {
	if jobs == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	return &NotificationQueries{jobs: jobs, attempts: attempts}, nil
}

func (q *NotificationQueries) GetByID(ctx context.Context, id string) (*domain.NotificationJob, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	return q.jobs.GetByID(ctx, id)
}

func (q *NotificationQueries) List(ctx context.Context, params repository.ListParams) ([]domain.NotificationJob, int64, error) {
	params.Page, params.PageSize = repository.NormalizePage(params.Page, params.PageSize)
	return q.jobs.List(ctx, params)
}

// Attempts returns the delivery attempts of a job in attempt order. Log rows
// have none.
func (q *NotificationQueries) Attempts(ctx context.Context, jobID string) ([]domain.NotificationAttempt, error) {
	job, err := q.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return q.attempts.GetByJobID(ctx, job.ID)
}
