package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/wali-dispatch/internal/domain"
	"github.com/kursadbilgin/wali-dispatch/internal/observability"
	"github.com/kursadbilgin/wali-dispatch/internal/provider"
	"github.com/kursadbilgin/wali-dispatch/internal/repository"
	"github.com/kursadbilgin/wali-dispatch/internal/throttle"
	"go.uber.org/zap"
)

const (
	DefaultMaxRetry       = 3
	DefaultThrottleWindow = 5 * time.Second

	failureRetryExhausted = "retry_exhausted"
)

// Notifier is what domain producers use to reach a wali.
type Notifier interface {
	Dispatch(ctx context.Context, req domain.NotificationRequest) (string, error)
	Log(ctx context.Context, req domain.NotificationRequest) (string, error)
}

// Dispatcher delivers notifications with per-recipient throttling and bounded
// retries, recording every job in the notification log.
type Dispatcher struct {
	jobs      repository.NotificationRepository
	attempts  repository.AttemptRepository
	transport provider.Transport
	throttle  throttle.Registry
	window    time.Duration
	maxRetry  int
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	newID     func() string
}

var _ Notifier = (*Dispatcher)(nil)

func NewDispatcher(
	jobs repository.NotificationRepository,
	attempts repository.AttemptRepository,
	transport provider.Transport,
	registry throttle.Registry,
	window time.Duration,
	maxRetry int,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if jobs == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("throttle registry is required")
	}
	if window < 0 {
		window = DefaultThrottleWindow
	}
	if maxRetry < 1 {
		maxRetry = DefaultMaxRetry
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		jobs:      jobs,
		attempts:  attempts,
		transport: transport,
		throttle:  registry,
		window:    window,
		maxRetry:  maxRetry,
		logger:    logger,
		now:       time.Now,
		sleep:     throttle.Sleep,
		newID:     uuid.NewString,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Dispatch records a queued job and tries to deliver it up to maxRetry times.
// The returned job id is set whenever the job row was written, including on
// delivery failure.
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.NotificationRequest) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	job, err := d.enqueue(ctx, req, domain.ModeDispatch)
	if err != nil {
		return "", err
	}

	event := job.Event.String()
	logger := observability.WithContextLogger(d.logger, ctx).With(
		zap.String("jobId", job.ID),
		zap.String("event", event),
		observability.Phone("targetPhone", job.TargetPhone),
	)

	// Row transitions must land even if the caller goes away mid-delivery.
	writeCtx := context.WithoutCancel(ctx)

	var lastErr error
	for attempt := 1; attempt <= d.maxRetry; attempt++ {
		sentAt, latency, sendErr := d.deliver(ctx, job)
		d.recordAttempt(writeCtx, logger, job.ID, attempt, latency, sendErr)

		if sendErr == nil {
			d.metrics.IncDeliveryAttempt(event, "sent")
			if err := d.jobs.MarkSent(writeCtx, job.ID, sentAt, attempt-1); err != nil {
				logger.Error("delivered but failed to mark job sent", zap.Int("attempt", attempt), zap.Error(err))
			}
			d.metrics.IncNotificationSent(event)
			logger.Info("notification sent", zap.Int("attempt", attempt))
			return job.ID, nil
		}

		lastErr = sendErr
		kind := provider.Classify(sendErr)
		d.metrics.IncDeliveryAttempt(event, string(kind))

		if err := d.jobs.MarkFailed(writeCtx, job.ID, sendErr.Error(), attempt); err != nil {
			logger.Error("failed to mark job failed", zap.Int("attempt", attempt), zap.Error(err))
		}

		logger.Warn("delivery attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("maxRetry", d.maxRetry),
			zap.String("kind", string(kind)),
			zap.Error(sendErr),
		)

		if !provider.IsRetryable(sendErr) {
			d.metrics.IncNotificationFailed(event, string(kind))
			return job.ID, sendErr
		}

		if attempt < d.maxRetry {
			if err := d.sleep(ctx, d.window); err != nil {
				d.metrics.IncNotificationFailed(event, string(provider.Classify(err)))
				return job.ID, fmt.Errorf("retry wait interrupted: %w (last error: %v)", err, sendErr)
			}
		}
	}

	d.metrics.IncNotificationFailed(event, failureRetryExhausted)
	logger.Error("notification failed after retries", zap.Error(lastErr))

	return job.ID, lastErr
}

// Log records a queued job without attempting delivery. The row stays queued.
func (d *Dispatcher) Log(ctx context.Context, req domain.NotificationRequest) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	job, err := d.enqueue(ctx, req, domain.ModeLog)
	if err != nil {
		return "", err
	}

	d.metrics.IncNotificationLogged(job.Event.String())
	observability.WithContextLogger(d.logger, ctx).Debug("notification logged",
		zap.String("jobId", job.ID),
		zap.String("event", job.Event.String()),
	)

	return job.ID, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, req domain.NotificationRequest, mode domain.Mode) (*domain.NotificationJob, error) {
	now := d.now().UTC()
	job := &domain.NotificationJob{
		ID:          d.newID(),
		TargetPhone: req.TargetPhone,
		Event:       req.Event,
		Payload:     req.Payload,
		Status:      domain.StatusQueued,
		Mode:        mode,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := d.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create notification job: %w", err)
	}

	return job, nil
}

// deliver runs one throttled send. The window check, the send and the
// last-sent update all happen under a single lease. The returned latency
// covers the transport call only.
func (d *Dispatcher) deliver(ctx context.Context, job *domain.NotificationJob) (time.Time, time.Duration, error) {
	lease, err := d.throttle.Acquire(ctx, job.TargetPhone)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("throttle acquire failed: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			d.logger.Warn("failed to release throttle lease", zap.String("jobId", job.ID), zap.Error(err))
		}
	}()

	d.metrics.ObserveThrottleWait(lease.Waited())

	started := d.now()
	err = d.transport.Send(ctx, provider.Message{
		TargetPhone: job.TargetPhone,
		Event:       job.Event,
		Payload:     job.Payload,
	})
	latency := d.now().Sub(started)
	if err != nil {
		d.metrics.ObserveSendDuration(string(provider.Classify(err)), latency)
		return time.Time{}, latency, err
	}
	d.metrics.ObserveSendDuration(domain.OutcomeSent, latency)

	sentAt := d.now().UTC()
	if err := lease.MarkSent(context.WithoutCancel(ctx), sentAt); err != nil {
		d.logger.Warn("failed to record last send time", zap.String("jobId", job.ID), zap.Error(err))
	}

	return sentAt, latency, nil
}

func (d *Dispatcher) recordAttempt(ctx context.Context, logger *zap.Logger, jobID string, attemptNumber int, latency time.Duration, sendErr error) {
	if d.attempts == nil {
		return
	}

	attempt := &domain.NotificationAttempt{
		ID:            d.newID(),
		JobID:         jobID,
		AttemptNumber: attemptNumber,
		Outcome:       domain.OutcomeSent,
		Latency:       latency,
		CreatedAt:     d.now().UTC(),
	}
	if sendErr != nil {
		msg := sendErr.Error()
		attempt.Outcome = string(provider.Classify(sendErr))
		attempt.Error = &msg
	}

	if err := d.attempts.Create(ctx, attempt); err != nil {
		logger.Warn("failed to record delivery attempt", zap.Int("attempt", attemptNumber), zap.Error(err))
	}
}
