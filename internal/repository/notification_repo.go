package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kursadbilgin/wali-dispatch/internal/domain"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

type ListParams struct {
	Status      *domain.Status
	Event       *domain.Event
	Mode        *domain.Mode
	TargetPhone string
	Page        int
	PageSize    int
}

type NotificationRepository interface {
	Create(ctx context.Context, job *domain.NotificationJob) error
	MarkSent(ctx context.Context, id string, sentAt time.Time, retryCount int) error
	MarkFailed(ctx context.Context, id string, errMsg string, retryCount int) error
	MarkInterrupted(ctx context.Context, id string, errMsg string) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.NotificationJob, error)
	List(ctx context.Context, params ListParams) ([]domain.NotificationJob, int64, error)
	GetStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.NotificationJob, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, job *domain.NotificationJob) error {
	model, err := jobModelFromDomain(job)
	if err != nil {
		return err
	}
	if model == nil {
		return errors.New("notification job is nil")
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*job = *jobModelToDomain(model)
	return nil
}

// MarkSent clears any error left by an earlier failed attempt.
func (r *GormNotificationRepo) MarkSent(ctx context.Context, id string, sentAt time.Time, retryCount int) error {
	return r.update(ctx, id, map[string]any{
		"status":      domain.StatusSent,
		"sent_at":     sentAt,
		"retry_count": retryCount,
		"error":       nil,
	})
}

func (r *GormNotificationRepo) MarkFailed(ctx context.Context, id string, errMsg string, retryCount int) error {
	return r.update(ctx, id, map[string]any{
		"status":      domain.StatusFailed,
		"error":       errMsg,
		"retry_count": retryCount,
	})
}

// MarkInterrupted fails a dispatch row only if it is still queued. It reports
// false when another writer already moved the row on.
func (r *GormNotificationRepo) MarkInterrupted(ctx context.Context, id string, errMsg string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationJobModel{}).
		Where("id = ? AND status = ? AND mode = ?", id, domain.StatusQueued, domain.ModeDispatch).
		Updates(map[string]any{
			"status": domain.StatusFailed,
			"error":  errMsg,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.NotificationJob, error) {
	var model NotificationJobModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobModelToDomain(&model), nil
}

func (r *GormNotificationRepo) List(ctx context.Context, params ListParams) ([]domain.NotificationJob, int64, error) {
	query := r.db.WithContext(ctx).Model(&NotificationJobModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Event != nil {
		query = query.Where("event = ?", *params.Event)
	}
	if params.Mode != nil {
		query = query.Where("mode = ?", *params.Mode)
	}
	if phone := strings.TrimSpace(params.TargetPhone); phone != "" {
		query = query.Where("target_phone = ?", phone)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := NormalizePage(params.Page, params.PageSize)

	var models []NotificationJobModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	jobs := make([]domain.NotificationJob, 0, len(models))
	for i := range models {
		jobs = append(jobs, *jobModelToDomain(&models[i]))
	}

	return jobs, total, nil
}

// GetStale returns dispatch rows that never left queued before olderThan.
// Log-mode rows are excluded.
func (r *GormNotificationRepo) GetStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.NotificationJob, error) {
	if limit < 1 {
		limit = defaultPageSize
	}

	var models []NotificationJobModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND mode = ? AND created_at < ?", domain.StatusQueued, domain.ModeDispatch, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.NotificationJob, 0, len(models))
	for i := range models {
		jobs = append(jobs, *jobModelToDomain(&models[i]))
	}

	return jobs, nil
}

func (r *GormNotificationRepo) update(ctx context.Context, id string, values map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationJobModel{}).
		Where("id = ?", id).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// NormalizePage clamps paging input to page >= 1 and 1..100 rows per page.
func NormalizePage(page, pageSize int) (int, int) {
	page = max(page, 1)
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	return page, min(pageSize, maxPageSize)
}
