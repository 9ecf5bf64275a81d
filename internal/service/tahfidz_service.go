package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/wali-dispatch/internal/domain"
	"github.com/kursadbilgin/wali-dispatch/internal/observability"
	"github.com/kursadbilgin/wali-dispatch/internal/provider"
	"github.com/kursadbilgin/wali-dispatch/internal/queue"
	"github.com/kursadbilgin/wali-dispatch/internal/repository"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// SetoranReviewInput is a musyrif's decision on a submitted setoran.
type SetoranReviewInput struct {
	Status     domain.SetoranStatus
	Grade      *string
	Notes      *string
	ReviewedBy *string
}

// TahfidzService owns the tahfidz business operations that notify a wali.
//
// Every operation commits its own mutation first. Notification problems are
// logged and handed to background redispatch; they never fail the operation.
type TahfidzService struct {
	records   repository.TahfidzRepository
	notifier  Notifier
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	newID     func() string
}

func NewTahfidzService(
	records repository.TahfidzRepository,
	notifier Notifier,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*TahfidzService, error) {
	if records == nil {
		return nil, fmt.Errorf("tahfidz repository is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TahfidzService{
		records:   records,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

func (s *TahfidzService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *TahfidzService) SubmitSetoran(ctx context.Context, setoran *domain.Setoran) (*domain.Setoran, error) {
	if setoran == nil {
		return nil, fmt.Errorf("%w: setoran is required", domain.ErrValidation)
	}
	if err := setoran.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.records.GetSantri(ctx, setoran.SantriID); err != nil {
		return nil, err
	}

	setoran.ID = s.newID()
	setoran.Status = domain.SetoranSubmitted
	setoran.SubmittedAt = s.now().UTC()
	setoran.ReviewedBy = nil
	setoran.ReviewedAt = nil

	if err := s.records.CreateSetoran(ctx, setoran); err != nil {
		return nil, fmt.Errorf("failed to create setoran: %w", err)
	}

	s.notify(ctx, setoran.SantriID, domain.EventSetoranSubmitted, map[string]any{
		"setoranId": setoran.ID,
		"surah":     setoran.Surah,
		"ayatStart": setoran.AyatStart,
		"ayatEnd":   setoran.AyatEnd,
	})

	return setoran, nil
}

func (s *TahfidzService) UpdateSetoranStatus(ctx context.Context, id string, input SetoranReviewInput) (*domain.Setoran, error) {
	var event domain.Event
	switch input.Status {
	case domain.SetoranValidated:
		event = domain.EventSetoranValidated
	case domain.SetoranRejected:
		event = domain.EventSetoranRejected
	default:
		return nil, fmt.Errorf("%w: setoran can only be validated or rejected, got %q", domain.ErrValidation, input.Status)
	}

	setoran, err := s.records.ReviewSetoran(ctx, id, repository.SetoranReview{
		Status:     input.Status,
		Grade:      input.Grade,
		Notes:      input.Notes,
		ReviewedBy: input.ReviewedBy,
		ReviewedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"setoranId": setoran.ID,
		"surah":     setoran.Surah,
		"ayatStart": setoran.AyatStart,
		"ayatEnd":   setoran.AyatEnd,
		"status":    setoran.Status.String(),
	}
	if setoran.Grade != nil {
		payload["grade"] = *setoran.Grade
	}
	if setoran.Notes != nil {
		payload["notes"] = *setoran.Notes
	}
	s.notify(ctx, setoran.SantriID, event, payload)

	return setoran, nil
}

func (s *TahfidzService) FinalizeUjian(ctx context.Context, id string, score float64) (*domain.Ujian, error) {
	if score < 0 || score > 100 {
		return nil, fmt.Errorf("%w: score must be between 0 and 100", domain.ErrValidation)
	}

	ujian, err := s.records.FinalizeUjian(ctx, id, score, s.now().UTC())
	if err != nil {
		return nil, err
	}

	passed := ujian.Passed != nil && *ujian.Passed
	s.notify(ctx, ujian.SantriID, domain.EventUjianResult, map[string]any{
		"ujianId": ujian.ID,
		"title":   ujian.Title,
		"score":   score,
		"passed":  passed,
	})

	return ujian, nil
}

func (s *TahfidzService) UpdatePerizinanStatus(
	ctx context.Context,
	id string,
	status domain.PerizinanStatus,
	decidedBy *string,
) (*domain.Perizinan, error) {
	if status == domain.PerizinanPending {
		return nil, fmt.Errorf("%w: perizinan cannot be moved back to pending", domain.ErrValidation)
	}
	if _, err := domain.ParsePerizinanStatusFromString(status.String()); err != nil {
		return nil, err
	}

	perizinan, err := s.records.UpdatePerizinanStatus(ctx, id, status, decidedBy, s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.notify(ctx, perizinan.SantriID, domain.EventPerizinanStatus, map[string]any{
		"perizinanId": perizinan.ID,
		"status":      perizinan.Status.String(),
		"reason":      perizinan.Reason,
		"startDate":   perizinan.StartDate.Format(dateLayout),
		"endDate":     perizinan.EndDate.Format(dateLayout),
	})

	return perizinan, nil
}

func (s *TahfidzService) RecordPelanggaran(ctx context.Context, p *domain.Pelanggaran) (*domain.Pelanggaran, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: pelanggaran is required", domain.ErrValidation)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.records.GetSantri(ctx, p.SantriID); err != nil {
		return nil, err
	}

	p.ID = s.newID()
	if p.OccurredAt.IsZero() {
		p.OccurredAt = s.now().UTC()
	}

	if err := s.records.CreatePelanggaran(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to record pelanggaran: %w", err)
	}

	s.notify(ctx, p.SantriID, domain.EventPelanggaranIssued, map[string]any{
		"pelanggaranId": p.ID,
		"category":      p.Category,
		"points":        p.Points,
		"description":   p.Description,
	})

	return p, nil
}

func (s *TahfidzService) RecordPrestasi(ctx context.Context, p *domain.Prestasi) (*domain.Prestasi, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: prestasi is required", domain.ErrValidation)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.records.GetSantri(ctx, p.SantriID); err != nil {
		return nil, err
	}

	p.ID = s.newID()
	if p.AchievedAt.IsZero() {
		p.AchievedAt = s.now().UTC()
	}

	if err := s.records.CreatePrestasi(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to record prestasi: %w", err)
	}

	s.notify(ctx, p.SantriID, domain.EventPrestasiIssued, map[string]any{
		"prestasiId": p.ID,
		"title":      p.Title,
		"level":      p.Level,
	})

	return p, nil
}

// SendWeeklyProgress summarizes the week starting at weekStart (the current
// week when zero) and records the digest through the fire-and-forget logger.
func (s *TahfidzService) SendWeeklyProgress(ctx context.Context, santriID string, weekStart time.Time) (*domain.WeeklyProgress, error) {
	if strings.TrimSpace(santriID) == "" {
		return nil, fmt.Errorf("%w: santriId is required", domain.ErrValidation)
	}
	if _, err := s.records.GetSantri(ctx, santriID); err != nil {
		return nil, err
	}

	if weekStart.IsZero() {
		weekStart = StartOfWeek(s.now())
	}

	progress, err := s.records.WeeklyProgress(ctx, santriID, weekStart)
	if err != nil {
		return nil, fmt.Errorf("failed to compute weekly progress: %w", err)
	}

	logger := observability.WithContextLogger(s.logger, ctx)
	phone, ok := s.waliContact(ctx, logger, santriID, domain.EventWeeklyProgress)
	if !ok {
		return progress, nil
	}

	if _, err := s.notifier.Log(ctx, domain.NotificationRequest{
		TargetPhone: phone,
		Event:       domain.EventWeeklyProgress,
		Payload: map[string]any{
			"weekStart":      progress.WeekStart.Format(dateLayout),
			"validatedCount": progress.ValidatedCount,
			"rejectedCount":  progress.RejectedCount,
			"ayatMemorized":  progress.AyatMemorized,
		},
	}); err != nil {
		logger.Error("failed to log weekly progress notification",
			zap.String("santriId", santriID),
			zap.Error(err),
		)
	}

	return progress, nil
}

// StartOfWeek returns Monday 00:00 UTC of the week containing t.
func StartOfWeek(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	day := t.AddDate(0, 0, -offset)
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *TahfidzService) notify(ctx context.Context, santriID string, event domain.Event, payload map[string]any) {
	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("santriId", santriID),
		zap.String("event", event.String()),
	)

	phone, ok := s.waliContact(ctx, logger, santriID, event)
	if !ok {
		return
	}

	req := domain.NotificationRequest{TargetPhone: phone, Event: event, Payload: payload}
	jobID, err := s.notifier.Dispatch(ctx, req)
	if err == nil {
		return
	}

	logger.Warn("wali notification failed",
		zap.String("jobId", jobID),
		zap.String("kind", string(provider.Classify(err))),
		zap.Error(err),
	)

	if !provider.IsRetryable(err) {
		return
	}
	s.redispatch(ctx, logger, jobID, req)
}

func (s *TahfidzService) waliContact(ctx context.Context, logger *zap.Logger, santriID string, event domain.Event) (string, bool) {
	phone, ok, err := s.records.WaliContact(ctx, santriID)
	if err != nil {
		logger.Error("failed to look up wali contact", zap.Error(err))
		return "", false
	}
	if !ok {
		s.metrics.IncProducerSkipped(event.String())
		logger.Debug("santri has no wali contact, skipping notification")
		return "", false
	}
	return phone, true
}

func (s *TahfidzService) redispatch(ctx context.Context, logger *zap.Logger, jobID string, req domain.NotificationRequest) {
	if s.publisher == nil {
		return
	}

	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	msg := queue.RedispatchMessage{
		SourceJobID:   jobID,
		CorrelationID: correlationID,
		TargetPhone:   req.TargetPhone,
		Event:         req.Event,
		Payload:       req.Payload,
		Reason:        queue.ReasonProducerFailure,
	}

	if err := s.publisher.Publish(context.WithoutCancel(ctx), queue.RedispatchQueue, msg); err != nil {
		logger.Error("failed to publish redispatch message", zap.String("jobId", jobID), zap.Error(err))
		return
	}
	s.metrics.IncRedispatchPublished(queue.ReasonProducerFailure)
	logger.Info("notification queued for redispatch",
		zap.String("jobId", jobID),
		observability.Phone("targetPhone", req.TargetPhone),
	)
}
