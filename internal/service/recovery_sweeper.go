package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/wali-dispatch/internal/observability"
	"github.com/kursadbilgin/wali-dispatch/internal/queue"
	"github.com/kursadbilgin/wali-dispatch/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval   = time.Minute
	defaultSweepStaleAfter = 10 * time.Minute
	defaultSweepLimit      = 100

	// ErrMsgDispatchInterrupted is stored on rows whose dispatch never finished.
	ErrMsgDispatchInterrupted = "dispatch interrupted"
)

// RecoverySweeper fails dispatch rows left queued by a crashed process and,
// when a publisher is configured, schedules them for redispatch.
type RecoverySweeper struct {
	jobs       repository.NotificationRepository
	publisher  queue.Publisher
	logger     *zap.Logger
	metrics    *observability.Metrics
	interval   time.Duration
	staleAfter time.Duration
	limit      int
	now        func() time.Time
}

func NewRecoverySweeper(
	jobs repository.NotificationRepository,
	publisher queue.Publisher,
	interval time.Duration,
	staleAfter time.Duration,
	limit int,
	logger *zap.Logger,
) (*RecoverySweeper, error) {
	if jobs == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if staleAfter <= 0 {
		staleAfter = defaultSweepStaleAfter
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RecoverySweeper{
		jobs:       jobs,
		publisher:  publisher,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
		limit:      limit,
		now:        time.Now,
	}, nil
}

func (s *RecoverySweeper) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *RecoverySweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("recovery sweeper initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("recovery sweeper sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *RecoverySweeper) sweep(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-s.staleAfter)
	stale, err := s.jobs.GetStale(ctx, cutoff, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch stale jobs: %w", err)
	}

	for i := range stale {
		job := stale[i]

		marked, err := s.jobs.MarkInterrupted(ctx, job.ID, ErrMsgDispatchInterrupted)
		if err != nil {
			s.logger.Error("failed to mark stale job interrupted",
				zap.String("jobId", job.ID),
				zap.Error(err),
			)
			continue
		}
		if !marked {
			continue
		}

		s.metrics.IncNotificationFailed(job.Event.String(), "interrupted")
		s.logger.Warn("stale dispatch job marked failed",
			zap.String("jobId", job.ID),
			zap.String("event", job.Event.String()),
			zap.Time("createdAt", job.CreatedAt),
		)

		if s.publisher == nil {
			continue
		}

		msg := queue.RedispatchMessage{
			SourceJobID: job.ID,
			TargetPhone: job.TargetPhone,
			Event:       job.Event,
			Payload:     job.Payload,
			Reason:      queue.ReasonInterrupted,
		}
		if err := s.publisher.Publish(ctx, queue.RedispatchQueue, msg); err != nil {
			s.logger.Error("failed to publish redispatch for stale job",
				zap.String("jobId", job.ID),
				zap.Error(err),
			)
			continue
		}
		s.metrics.IncRedispatchPublished(queue.ReasonInterrupted)
	}

	return nil
}
