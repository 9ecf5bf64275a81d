package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/wali-dispatch/internal/domain"
	"github.com/kursadbilgin/wali-dispatch/internal/observability"
	"github.com/kursadbilgin/wali-dispatch/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// Sender is the part of the dispatcher the redispatch worker needs.
type Sender interface {
	Dispatch(ctx context.Context, req domain.NotificationRequest) (string, error)
}

// RedispatchWorker feeds messages from the redispatch queue back through the
// dispatcher. A message that fails again is dead-lettered, not requeued.
type RedispatchWorker struct {
	consumer    queue.Consumer
	sender      Sender
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewRedispatchWorker(
	consumer queue.Consumer,
	sender Sender,
	concurrency int,
	logger *zap.Logger,
) (*RedispatchWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedispatchWorker{
		consumer:    consumer,
		sender:      sender,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (w *RedispatchWorker) SetMetrics(metrics *observability.Metrics) {
	w.metrics = metrics
}

// Start consumes the redispatch queue until context cancellation.
func (w *RedispatchWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("redispatch worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.RedispatchQueue),
			)

			err := w.consumer.Consume(groupCtx, queue.RedispatchQueue, w.processMessage)
			if err != nil {
				w.logger.Error("redispatch worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("redispatch worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *RedispatchWorker) processMessage(ctx context.Context, msg queue.RedispatchMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	logger := observability.WithContextLogger(w.logger, ctx).With(
		zap.String("sourceJobId", msg.SourceJobID),
		zap.String("event", msg.Event.String()),
		zap.String("reason", msg.Reason),
	)

	jobID, err := w.sender.Dispatch(ctx, msg.Request())
	if err != nil {
		w.metrics.IncRedispatchHandled("failed")
		return fmt.Errorf("redispatch of job %q failed (new job %q): %w", msg.SourceJobID, jobID, err)
	}

	w.metrics.IncRedispatchHandled("sent")
	logger.Info("notification redispatched", zap.String("jobId", jobID))
	return nil
}
