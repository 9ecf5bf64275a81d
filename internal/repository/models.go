package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/wali-dispatch/internal/domain"
	"gorm.io/datatypes"
)

// NotificationJobModel is the persistence model for the notification_jobs table.
type NotificationJobModel struct {
	ID          string         `gorm:"type:uuid;primaryKey"`
	TargetPhone string         `gorm:"type:varchar(32);not null"`
	Event       domain.Event   `gorm:"type:varchar(64);not null"`
	Payload     datatypes.JSON `gorm:"type:jsonb;not null"`
	Status      domain.Status  `gorm:"type:varchar(10);not null"`
	Mode        domain.Mode    `gorm:"type:varchar(10);not null;default:dispatch"`
	RetryCount  int            `gorm:"not null;default:0"`
	Error       *string        `gorm:"type:text"`
	SentAt      *time.Time     `gorm:"type:timestamptz"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (NotificationJobModel) TableName() string {
	return "notification_jobs"
}

// NotificationAttemptModel is the persistence model for notification_attempts.
type NotificationAttemptModel struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	JobID         string  `gorm:"type:uuid;not null;uniqueIndex:uq_attempts_job_number,priority:1"`
	AttemptNumber int     `gorm:"not null;uniqueIndex:uq_attempts_job_number,priority:2"`
	Outcome       string  `gorm:"type:varchar(32);not null;default:sent"`
	Error         *string `gorm:"type:text"`
	LatencyMs     int64   `gorm:"not null;default:0"`
	CreatedAt     time.Time
}

func (NotificationAttemptModel) TableName() string {
	return "notification_attempts"
}

type SantriModel struct {
	ID        string  `gorm:"type:uuid;primaryKey"`
	Name      string  `gorm:"type:varchar(255);not null"`
	HalaqohID *string `gorm:"type:uuid"`
	WaliName  string  `gorm:"type:varchar(255)"`
	WaliPhone *string `gorm:"type:varchar(32)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SantriModel) TableName() string {
	return "santri"
}

type SetoranModel struct {
	ID          string               `gorm:"type:uuid;primaryKey"`
	SantriID    string               `gorm:"type:uuid;not null"`
	Surah       string               `gorm:"type:varchar(64);not null"`
	AyatStart   int                  `gorm:"not null"`
	AyatEnd     int                  `gorm:"not null"`
	Status      domain.SetoranStatus `gorm:"type:varchar(16);not null"`
	Grade       *string              `gorm:"type:varchar(16)"`
	Notes       *string              `gorm:"type:text"`
	ReviewedBy  *string              `gorm:"type:varchar(255)"`
	ReviewedAt  *time.Time           `gorm:"type:timestamptz"`
	SubmittedAt time.Time            `gorm:"type:timestamptz;not null"`
	UpdatedAt   time.Time
}

func (SetoranModel) TableName() string {
	return "setoran"
}

type UjianModel struct {
	ID          string     `gorm:"type:uuid;primaryKey"`
	SantriID    string     `gorm:"type:uuid;not null"`
	Title       string     `gorm:"type:varchar(255);not null"`
	Score       *float64   `gorm:"type:numeric(5,2)"`
	Passed      *bool
	Finalized   bool       `gorm:"not null;default:false"`
	FinalizedAt *time.Time `gorm:"type:timestamptz"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (UjianModel) TableName() string {
	return "ujian"
}

type PerizinanModel struct {
	ID        string                 `gorm:"type:uuid;primaryKey"`
	SantriID  string                 `gorm:"type:uuid;not null"`
	Reason    string                 `gorm:"type:text;not null"`
	StartDate time.Time              `gorm:"type:date;not null"`
	EndDate   time.Time              `gorm:"type:date;not null"`
	Status    domain.PerizinanStatus `gorm:"type:varchar(16);not null"`
	DecidedBy *string                `gorm:"type:varchar(255)"`
	DecidedAt *time.Time             `gorm:"type:timestamptz"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PerizinanModel) TableName() string {
	return "perizinan"
}

type PelanggaranModel struct {
	ID          string    `gorm:"type:uuid;primaryKey"`
	SantriID    string    `gorm:"type:uuid;not null"`
	Category    string    `gorm:"type:varchar(64);not null"`
	Points      int       `gorm:"not null;default:0"`
	Description string    `gorm:"type:text"`
	RecordedBy  string    `gorm:"type:varchar(255)"`
	OccurredAt  time.Time `gorm:"type:timestamptz;not null"`
	CreatedAt   time.Time
}

func (PelanggaranModel) TableName() string {
	return "pelanggaran"
}

type PrestasiModel struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	SantriID   string    `gorm:"type:uuid;not null"`
	Title      string    `gorm:"type:varchar(255);not null"`
	Level      string    `gorm:"type:varchar(64)"`
	RecordedBy string    `gorm:"type:varchar(255)"`
	AchievedAt time.Time `gorm:"type:timestamptz;not null"`
	CreatedAt  time.Time
}

func (PrestasiModel) TableName() string {
	return "prestasi"
}

func jobModelFromDomain(j *domain.NotificationJob) (*NotificationJobModel, error) {
	if j == nil {
		return nil, nil
	}

	payload := j.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not serializable: %v", domain.ErrValidation, err)
	}

	return &NotificationJobModel{
		ID:          j.ID,
		TargetPhone: j.TargetPhone,
		Event:       j.Event,
		Payload:     datatypes.JSON(raw),
		Status:      j.Status,
		Mode:        j.Mode,
		RetryCount:  j.RetryCount,
		Error:       j.Error,
		SentAt:      j.SentAt,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}, nil
}

func jobModelToDomain(m *NotificationJobModel) *domain.NotificationJob {
	if m == nil {
		return nil
	}

	payload := map[string]any{}
	if len(m.Payload) > 0 {
		// A row written by another tool may hold a non-object payload; keep it readable.
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			payload = map[string]any{"raw": string(m.Payload)}
		}
	}

	return &domain.NotificationJob{
		ID:          m.ID,
		TargetPhone: m.TargetPhone,
		Event:       m.Event,
		Payload:     payload,
		Status:      m.Status,
		Mode:        m.Mode,
		RetryCount:  m.RetryCount,
		Error:       m.Error,
		SentAt:      m.SentAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.NotificationAttempt) *NotificationAttemptModel {
	if a == nil {
		return nil
	}

	return &NotificationAttemptModel{
		ID:            a.ID,
		JobID:         a.JobID,
		AttemptNumber: a.AttemptNumber,
		Outcome:       a.Outcome,
		Error:         a.Error,
		LatencyMs:     a.Latency.Milliseconds(),
		CreatedAt:     a.CreatedAt,
	}
}

func attemptModelToDomain(m *NotificationAttemptModel) *domain.NotificationAttempt {
	if m == nil {
		return nil
	}

	return &domain.NotificationAttempt{
		ID:            m.ID,
		JobID:         m.JobID,
		AttemptNumber: m.AttemptNumber,
		Outcome:       m.Outcome,
		Error:         m.Error,
		Latency:       time.Duration(m.LatencyMs) * time.Millisecond,
		CreatedAt:     m.CreatedAt,
	}
}

func santriModelToDomain(m *SantriModel) *domain.Santri {
	return &domain.Santri{
		ID:        m.ID,
		Name:      m.Name,
		HalaqohID: m.HalaqohID,
		WaliName:  m.WaliName,
		WaliPhone: m.WaliPhone,
	}
}

func setoranModelFromDomain(s *domain.Setoran) *SetoranModel {
	return &SetoranModel{
		ID:          s.ID,
		SantriID:    s.SantriID,
		Surah:       s.Surah,
		AyatStart:   s.AyatStart,
		AyatEnd:     s.AyatEnd,
		Status:      s.Status,
		Grade:       s.Grade,
		Notes:       s.Notes,
		ReviewedBy:  s.ReviewedBy,
		ReviewedAt:  s.ReviewedAt,
		SubmittedAt: s.SubmittedAt,
	}
}

func setoranModelToDomain(m *SetoranModel) *domain.Setoran {
	return &domain.Setoran{
		ID:          m.ID,
		SantriID:    m.SantriID,
		Surah:       m.Surah,
		AyatStart:   m.AyatStart,
		AyatEnd:     m.AyatEnd,
		Status:      m.Status,
		Grade:       m.Grade,
		Notes:       m.Notes,
		ReviewedBy:  m.ReviewedBy,
		ReviewedAt:  m.ReviewedAt,
		SubmittedAt: m.SubmittedAt,
	}
}

func ujianModelToDomain(m *UjianModel) *domain.Ujian {
	return &domain.Ujian{
		ID:          m.ID,
		SantriID:    m.SantriID,
		Title:       m.Title,
		Score:       m.Score,
		Passed:      m.Passed,
		Finalized:   m.Finalized,
		FinalizedAt: m.FinalizedAt,
	}
}

func perizinanModelToDomain(m *PerizinanModel) *domain.Perizinan {
	return &domain.Perizinan{
		ID:        m.ID,
		SantriID:  m.SantriID,
		Reason:    m.Reason,
		StartDate: m.StartDate,
		EndDate:   m.EndDate,
		Status:    m.Status,
		DecidedBy: m.DecidedBy,
		DecidedAt: m.DecidedAt,
	}
}

func pelanggaranModelFromDomain(p *domain.Pelanggaran) *PelanggaranModel {
	return &PelanggaranModel{
		ID:          p.ID,
		SantriID:    p.SantriID,
		Category:    p.Category,
		Points:      p.Points,
		Description: p.Description,
		RecordedBy:  p.RecordedBy,
		OccurredAt:  p.OccurredAt,
	}
}

func prestasiModelFromDomain(p *domain.Prestasi) *PrestasiModel {
	return &PrestasiModel{
		ID:         p.ID,
		SantriID:   p.SantriID,
		Title:      p.Title,
		Level:      p.Level,
		RecordedBy: p.RecordedBy,
		AchievedAt: p.AchievedAt,
	}
}
