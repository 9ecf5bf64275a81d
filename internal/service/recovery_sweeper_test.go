package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/wali-dispatch/internal/domain"
	"github.com/kursadbilgin/wali-dispatch/internal/queue"
	"go.uber.org/zap"
)

func TestNewRecoverySweeperValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewRecoverySweeper(nil, &fakePublisher{}, 0, 0, 0, zap.NewNop()); err == nil {
		t.Fatal("expected error when notification repository is nil")
	}

	sweeper, err := NewRecoverySweeper(newFakeNotificationRepo(), nil, 0, 0, 0, nil)
	if err != nil {
		t.Fatalf("NewRecoverySweeper() error = %v", err)
	}
	if sweeper.interval != defaultSweepInterval || sweeper.staleAfter != defaultSweepStaleAfter || sweeper.limit != defaultSweepLimit {
		t.Fatalf("defaults not applied: %+v", sweeper)
	}
}

func TestRecoverySweeperSweepFailsStaleDispatchJobs(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	repo := newFakeNotificationRepo()
	seed := []domain.NotificationJob{
		{ID: "stale-dispatch", TargetPhone: testPhone, Event: domain.EventUjianResult, Status: domain.StatusQueued, Mode: domain.ModeDispatch, CreatedAt: now.Add(-time.Hour)},
		{ID: "stale-log", TargetPhone: testPhone, Event: domain.EventWeeklyProgress, Status: domain.StatusQueued, Mode: domain.ModeLog, CreatedAt: now.Add(-time.Hour)},
		{ID: "fresh-dispatch", TargetPhone: testPhone, Event: domain.EventUjianResult, Status: domain.StatusQueued, Mode: domain.ModeDispatch, CreatedAt: now.Add(-time.Minute)},
		{ID: "sent", TargetPhone: testPhone, Event: domain.EventUjianResult, Status: domain.StatusSent, Mode: domain.ModeDispatch, CreatedAt: now.Add(-time.Hour)},
	}
	for i := range seed {
		if err := repo.Create(context.Background(), &seed[i]); err != nil {
			t.Fatalf("seed Create() error = %v", err)
		}
	}

	publisher := &fakePublisher{}
	sweeper, err := NewRecoverySweeper(repo, publisher, time.Minute, 10*time.Minute, 50, nil)
	if err != nil {
		t.Fatalf("NewRecoverySweeper() error = %v", err)
	}
	sweeper.now = func() time.Time { return now }

	if err := sweeper.sweep(context.Background()); err != nil {
		t.Fatalf("sweep() error = %v", err)
	}

	stale := repo.Job("stale-dispatch")
	if stale.Status != domain.StatusFailed {
		t.Fatalf("stale dispatch status = %s, want failed", stale.Status)
	}
	if stale.Error == nil || *stale.Error != ErrMsgDispatchInterrupted {
		t.Fatalf("stale dispatch error = %v, want %q", stale.Error, ErrMsgDispatchInterrupted)
	}

	for _, id := range []string{"stale-log", "fresh-dispatch"} {
		if got := repo.Job(id).Status; got != domain.StatusQueued {
			t.Fatalf("%s status = %s, want queued", id, got)
		}
	}

	published := publisher.Published()
	if len(published) != 1 {
		t.Fatalf("published = %d, want 1", len(published))
	}
	if published[0].SourceJobID != "stale-dispatch" || published[0].Reason != queue.ReasonInterrupted {
		t.Fatalf("unexpected message: %+v", published[0])
	}
}

func TestRecoverySweeperSkipsRowsClaimedElsewhere(t *testing.T) {
	t.Parallel()

	repo := newFakeNotificationRepo()
	repo.getStaleFn = func(ctx context.Context, olderThan time.Time, limit int) ([]domain.NotificationJob, error) {
		return []domain.NotificationJob{{ID: "raced", Event: domain.EventUjianResult, Mode: domain.ModeDispatch}}, nil
	}
	repo.markInterruptedFn = func(ctx context.Context, id string, errMsg string) (bool, error) {
		return false, nil
	}

	publisher := &fakePublisher{}
	sweeper, err := NewRecoverySweeper(repo, publisher, time.Minute, time.Minute, 10, nil)
	if err != nil {
		t.Fatalf("NewRecoverySweeper() error = %v", err)
	}

	if err := sweeper.sweep(context.Background()); err != nil {
		t.Fatalf("sweep() error = %v", err)
	}
	if len(publisher.Published()) != 0 {
		t.Fatal("rows moved on by another writer must not be redispatched")
	}
}

func TestRecoverySweeperFetchError(t *testing.T) {
	t.Parallel()

	repo := newFakeNotificationRepo()
	repo.getStaleFn = func(ctx context.Context, olderThan time.Time, limit int) ([]domain.NotificationJob, error) {
		return nil, errors.New("db down")
	}

	sweeper, err := NewRecoverySweeper(repo, nil, time.Minute, time.Minute, 10, nil)
	if err != nil {
		t.Fatalf("NewRecoverySweeper() error = %v", err)
	}

	if err := sweeper.sweep(context.Background()); err == nil {
		t.Fatal("sweep() expected error")
	}
}

func TestRecoverySweeperWithoutPublisherOnlyMarks(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	repo := newFakeNotificationRepo()
	job := domain.NotificationJob{ID: "stale", Event: domain.EventUjianResult, Status: domain.StatusQueued, Mode: domain.ModeDispatch, CreatedAt: now.Add(-time.Hour)}
	_ = repo.Create(context.Background(), &job)

	sweeper, err := NewRecoverySweeper(repo, nil, time.Minute, time.Minute, 10, nil)
	if err != nil {
		t.Fatalf("NewRecoverySweeper() error = %v", err)
	}
	sweeper.now = func() time.Time { return now }

	if err := sweeper.sweep(context.Background()); err != nil {
		t.Fatalf("sweep() error = %v", err)
	}
	if repo.Job("stale").Status != domain.StatusFailed {
		t.Fatal("stale job should be failed even without a publisher")
	}
}

func TestRecoverySweeperStartStopsOnCancel(t *testing.T) {
	t.Parallel()

	sweeper, err := NewRecoverySweeper(newFakeNotificationRepo(), nil, 10*time.Millisecond, time.Minute, 10, nil)
	if err != nil {
		t.Fatalf("NewRecoverySweeper() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()

	if err := sweeper.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}
