package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kursadbilgin/wali-dispatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SetoranReview is the reviewer's decision on a setoran.
type SetoranReview struct {
	Status     domain.SetoranStatus
	Grade      *string
	Notes      *string
	ReviewedBy *string
	ReviewedAt time.Time
}

type TahfidzRepository interface {
	GetSantri(ctx context.Context, id string) (*domain.Santri, error)
	// WaliContact returns the guardian's phone. ok is false when the santri
	// has no usable contact.
	WaliContact(ctx context.Context, santriID string) (phone string, ok bool, err error)

	CreateSetoran(ctx context.Context, s *domain.Setoran) error
	ReviewSetoran(ctx context.Context, id string, review SetoranReview) (*domain.Setoran, error)
	FinalizeUjian(ctx context.Context, id string, score float64, at time.Time) (*domain.Ujian, error)
	UpdatePerizinanStatus(ctx context.Context, id string, status domain.PerizinanStatus, decidedBy *string, at time.Time) (*domain.Perizinan, error)
	CreatePelanggaran(ctx context.Context, p *domain.Pelanggaran) error
	CreatePrestasi(ctx context.Context, p *domain.Prestasi) error
	WeeklyProgress(ctx context.Context, santriID string, weekStart time.Time) (*domain.WeeklyProgress, error)
}

type GormTahfidzRepo struct {
	db *gorm.DB
}

func NewGormTahfidzRepo(db *gorm.DB) *GormTahfidzRepo {
	return &GormTahfidzRepo{db: db}
}

func (r *GormTahfidzRepo) GetSantri(ctx context.Context, id string) (*domain.Santri, error) {
	var model SantriModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return santriModelToDomain(&model), nil
}

func (r *GormTahfidzRepo) WaliContact(ctx context.Context, santriID string) (string, bool, error) {
	var model SantriModel
	err := r.db.WithContext(ctx).
		Select("id", "wali_phone").
		First(&model, "id = ?", santriID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if model.WaliPhone == nil || strings.TrimSpace(*model.WaliPhone) == "" {
		return "", false, nil
	}
	return strings.TrimSpace(*model.WaliPhone), true, nil
}

func (r *GormTahfidzRepo) CreateSetoran(ctx context.Context, s *domain.Setoran) error {
	model := setoranModelFromDomain(s)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*s = *setoranModelToDomain(model)
	return nil
}

func (r *GormTahfidzRepo) ReviewSetoran(ctx context.Context, id string, review SetoranReview) (*domain.Setoran, error) {
	var updated *domain.Setoran

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model SetoranModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		reviewedAt := review.ReviewedAt
		model.Status = review.Status
		model.Grade = review.Grade
		model.Notes = review.Notes
		model.ReviewedBy = review.ReviewedBy
		model.ReviewedAt = &reviewedAt

		if err := tx.Model(&model).Updates(map[string]any{
			"status":      model.Status,
			"grade":       model.Grade,
			"notes":       model.Notes,
			"reviewed_by": model.ReviewedBy,
			"reviewed_at": model.ReviewedAt,
		}).Error; err != nil {
			return err
		}

		updated = setoranModelToDomain(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// FinalizeUjian records the final score. A finalized ujian cannot be finalized again.
func (r *GormTahfidzRepo) FinalizeUjian(ctx context.Context, id string, score float64, at time.Time) (*domain.Ujian, error) {
	var updated *domain.Ujian

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model UjianModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if model.Finalized {
			return domain.ErrConflict
		}

		passed := score >= domain.PassingScore
		model.Score = &score
		model.Passed = &passed
		model.Finalized = true
		model.FinalizedAt = &at

		if err := tx.Model(&model).Updates(map[string]any{
			"score":        model.Score,
			"passed":       model.Passed,
			"finalized":    true,
			"finalized_at": model.FinalizedAt,
		}).Error; err != nil {
			return err
		}

		updated = ujianModelToDomain(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *GormTahfidzRepo) UpdatePerizinanStatus(
	ctx context.Context,
	id string,
	status domain.PerizinanStatus,
	decidedBy *string,
	at time.Time,
) (*domain.Perizinan, error) {
	var updated *domain.Perizinan

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model PerizinanModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		model.Status = status
		model.DecidedBy = decidedBy
		model.DecidedAt = &at

		if err := tx.Model(&model).Updates(map[string]any{
			"status":     model.Status,
			"decided_by": model.DecidedBy,
			"decided_at": model.DecidedAt,
		}).Error; err != nil {
			return err
		}

		updated = perizinanModelToDomain(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *GormTahfidzRepo) CreatePelanggaran(ctx context.Context, p *domain.Pelanggaran) error {
	return r.db.WithContext(ctx).Create(pelanggaranModelFromDomain(p)).Error
}

func (r *GormTahfidzRepo) CreatePrestasi(ctx context.Context, p *domain.Prestasi) error {
	return r.db.WithContext(ctx).Create(prestasiModelFromDomain(p)).Error
}

type weeklyRow struct {
	ValidatedCount int `gorm:"column:validated_count"`
	RejectedCount  int `gorm:"column:rejected_count"`
	AyatMemorized  int `gorm:"column:ayat_memorized"`
}

// WeeklyProgress aggregates setoran reviewed in [weekStart, weekStart+7d).
func (r *GormTahfidzRepo) WeeklyProgress(ctx context.Context, santriID string, weekStart time.Time) (*domain.WeeklyProgress, error) {
	weekEnd := weekStart.AddDate(0, 0, 7)

	var row weeklyRow
	err := r.db.WithContext(ctx).
		Model(&SetoranModel{}).
		Select(`
			COUNT(*) FILTER (WHERE status = ?) AS validated_count,
			COUNT(*) FILTER (WHERE status = ?) AS rejected_count,
			COALESCE(SUM(ayat_end - ayat_start + 1) FILTER (WHERE status = ?), 0) AS ayat_memorized`,
			domain.SetoranValidated, domain.SetoranRejected, domain.SetoranValidated).
		Where("santri_id = ? AND reviewed_at >= ? AND reviewed_at < ?", santriID, weekStart, weekEnd).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}

	return &domain.WeeklyProgress{
		SantriID:       santriID,
		WeekStart:      weekStart,
		ValidatedCount: row.ValidatedCount,
		RejectedCount:  row.RejectedCount,
		AyatMemorized:  row.AyatMemorized,
	}, nil
}
