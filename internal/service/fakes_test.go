package service

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/wali-dispatch/internal/domain"
	"github.com/kursadbilgin/wali-dispatch/internal/provider"
	"github.com/kursadbilgin/wali-dispatch/internal/queue"
	"github.com/kursadbilgin/wali-dispatch/internal/repository"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// fakeNotificationRepo keeps jobs in memory. Function fields override the
// default behavior when set.
type fakeNotificationRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.NotificationJob

	createFn          func(ctx context.Context, job *domain.NotificationJob) error
	getStaleFn        func(ctx context.Context, olderThan time.Time, limit int) ([]domain.NotificationJob, error)
	markInterruptedFn func(ctx context.Context, id string, errMsg string) (bool, error)
	listFn            func(ctx context.Context, params repository.ListParams) ([]domain.NotificationJob, int64, error)
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{jobs: make(map[string]*domain.NotificationJob)}
}

func (f *fakeNotificationRepo) Create(ctx context.Context, job *domain.NotificationJob) error {
	if f.createFn != nil {
		return f.createFn(ctx, job)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *job
	f.jobs[job.ID] = &stored
	return nil
}

func (f *fakeNotificationRepo) MarkSent(_ context.Context, id string, sentAt time.Time, retryCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	job.Status = domain.StatusSent
	job.SentAt = &sentAt
	job.RetryCount = retryCount
	job.Error = nil
	return nil
}

func (f *fakeNotificationRepo) MarkFailed(_ context.Context, id string, errMsg string, retryCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	job.Status = domain.StatusFailed
	job.Error = &errMsg
	job.RetryCount = retryCount
	return nil
}

func (f *fakeNotificationRepo) MarkInterrupted(ctx context.Context, id string, errMsg string) (bool, error) {
	if f.markInterruptedFn != nil {
		return f.markInterruptedFn(ctx, id, errMsg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.Status != domain.StatusQueued || job.Mode != domain.ModeDispatch {
		return false, nil
	}
	job.Status = domain.StatusFailed
	job.Error = &errMsg
	return true, nil
}

func (f *fakeNotificationRepo) GetByID(_ context.Context, id string) (*domain.NotificationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (f *fakeNotificationRepo) List(ctx context.Context, params repository.ListParams) ([]domain.NotificationJob, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.NotificationJob, 0, len(f.jobs))
	for _, job := range f.jobs {
		out = append(out, *job)
	}
	return out, int64(len(out)), nil
}

func (f *fakeNotificationRepo) GetStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.NotificationJob, error) {
	if f.getStaleFn != nil {
		return f.getStaleFn(ctx, olderThan, limit)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.NotificationJob, 0)
	for _, job := range f.jobs {
		if job.Status == domain.StatusQueued && job.Mode == domain.ModeDispatch && job.CreatedAt.Before(olderThan) {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (f *fakeNotificationRepo) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func (f *fakeNotificationRepo) Job(id string) domain.NotificationJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		return *job
	}
	return domain.NotificationJob{}
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts []domain.NotificationAttempt
	createFn func(ctx context.Context, a *domain.NotificationAttempt) error
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.NotificationAttempt) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakeAttemptRepo) GetByJobID(_ context.Context, jobID string) ([]domain.NotificationAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.NotificationAttempt, 0)
	for _, a := range f.attempts {
		if a.JobID == jobID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeTransport struct {
	mu     sync.Mutex
	calls  []provider.Message
	sendFn func(ctx context.Context, msg provider.Message) error
}

func (f *fakeTransport) Send(ctx context.Context, msg provider.Message) error {
	f.mu.Lock()
	f.calls = append(f.calls, msg)
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return nil
}

func (f *fakeTransport) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePublisher struct {
	mu        sync.Mutex
	published []queue.RedispatchMessage
	queues    []string
	publishFn func(ctx context.Context, queueName string, msg queue.RedispatchMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.RedispatchMessage) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, queueName, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	f.queues = append(f.queues, queueName)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) Published() []queue.RedispatchMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]queue.RedispatchMessage, len(f.published))
	copy(out, f.published)
	return out
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeNotifier struct {
	mu         sync.Mutex
	dispatched []domain.NotificationRequest
	logged     []domain.NotificationRequest
	dispatchFn func(ctx context.Context, req domain.NotificationRequest) (string, error)
	logFn      func(ctx context.Context, req domain.NotificationRequest) (string, error)
}

func (f *fakeNotifier) Dispatch(ctx context.Context, req domain.NotificationRequest) (string, error) {
	f.mu.Lock()
	f.dispatched = append(f.dispatched, req)
	f.mu.Unlock()
	if f.dispatchFn != nil {
		return f.dispatchFn(ctx, req)
	}
	return "job-1", nil
}

func (f *fakeNotifier) Log(ctx context.Context, req domain.NotificationRequest) (string, error) {
	f.mu.Lock()
	f.logged = append(f.logged, req)
	f.mu.Unlock()
	if f.logFn != nil {
		return f.logFn(ctx, req)
	}
	return "log-1", nil
}

type fakeTahfidzRepo struct {
	santri map[string]domain.Santri

	setoran     map[string]*domain.Setoran
	ujian       map[string]*domain.Ujian
	perizinan   map[string]*domain.Perizinan
	pelanggaran []domain.Pelanggaran
	prestasi    []domain.Prestasi
	progress    *domain.WeeklyProgress

	contactErr error
	createErr  error
}

func newFakeTahfidzRepo() *fakeTahfidzRepo {
	return &fakeTahfidzRepo{
		santri:    make(map[string]domain.Santri),
		setoran:   make(map[string]*domain.Setoran),
		ujian:     make(map[string]*domain.Ujian),
		perizinan: make(map[string]*domain.Perizinan),
	}
}

func (f *fakeTahfidzRepo) GetSantri(_ context.Context, id string) (*domain.Santri, error) {
	s, ok := f.santri[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (f *fakeTahfidzRepo) WaliContact(_ context.Context, santriID string) (string, bool, error) {
	if f.contactErr != nil {
		return "", false, f.contactErr
	}
	s, ok := f.santri[santriID]
	if !ok || s.WaliPhone == nil || *s.WaliPhone == "" {
		return "", false, nil
	}
	return *s.WaliPhone, true, nil
}

func (f *fakeTahfidzRepo) CreateSetoran(_ context.Context, s *domain.Setoran) error {
	if f.createErr != nil {
		return f.createErr
	}
	copied := *s
	f.setoran[s.ID] = &copied
	return nil
}

func (f *fakeTahfidzRepo) ReviewSetoran(_ context.Context, id string, review repository.SetoranReview) (*domain.Setoran, error) {
	s, ok := f.setoran[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	at := review.ReviewedAt
	s.Status = review.Status
	s.Grade = review.Grade
	s.Notes = review.Notes
	s.ReviewedBy = review.ReviewedBy
	s.ReviewedAt = &at
	copied := *s
	return &copied, nil
}

func (f *fakeTahfidzRepo) FinalizeUjian(_ context.Context, id string, score float64, at time.Time) (*domain.Ujian, error) {
	u, ok := f.ujian[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if u.Finalized {
		return nil, domain.ErrConflict
	}
	passed := score >= domain.PassingScore
	u.Score = &score
	u.Passed = &passed
	u.Finalized = true
	u.FinalizedAt = &at
	copied := *u
	return &copied, nil
}

func (f *fakeTahfidzRepo) UpdatePerizinanStatus(_ context.Context, id string, status domain.PerizinanStatus, decidedBy *string, at time.Time) (*domain.Perizinan, error) {
	p, ok := f.perizinan[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	p.Status = status
	p.DecidedBy = decidedBy
	p.DecidedAt = &at
	copied := *p
	return &copied, nil
}

func (f *fakeTahfidzRepo) CreatePelanggaran(_ context.Context, p *domain.Pelanggaran) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.pelanggaran = append(f.pelanggaran, *p)
	return nil
}

func (f *fakeTahfidzRepo) CreatePrestasi(_ context.Context, p *domain.Prestasi) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.prestasi = append(f.prestasi, *p)
	return nil
}

func (f *fakeTahfidzRepo) WeeklyProgress(_ context.Context, santriID string, weekStart time.Time) (*domain.WeeklyProgress, error) {
	if f.progress != nil {
		p := *f.progress
		p.SantriID = santriID
		p.WeekStart = weekStart
		return &p, nil
	}
	return &domain.WeeklyProgress{SantriID: santriID, WeekStart: weekStart}, nil
}

func strPtr(s string) *string { return &s }
