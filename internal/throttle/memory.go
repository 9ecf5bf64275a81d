package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var _ Registry = (*MemoryRegistry)(nil)

// MemoryRegistry is a process-local Registry. Throttling is only guaranteed
// among dispatchers sharing the same instance.
type MemoryRegistry struct {
	window time.Duration
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	lastSent map[string]time.Time
	slots    map[string]*slot
}

type slot struct {
	token chan struct{}
	refs  int
}

func NewMemoryRegistry(window time.Duration) *MemoryRegistry {
	return NewMemoryRegistryWithClock(window, time.Now, Sleep)
}

// NewMemoryRegistryWithClock builds a registry with an injected clock and
// sleep function.
func NewMemoryRegistryWithClock(
	window time.Duration,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) *MemoryRegistry {
	if window < 0 {
		window = 0
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = Sleep
	}

	return &MemoryRegistry{
		window:   window,
		now:      nowFn,
		sleep:    sleepFn,
		lastSent: make(map[string]time.Time),
		slots:    make(map[string]*slot),
	}
}

func (r *MemoryRegistry) Acquire(ctx context.Context, recipient string) (Lease, error) {
	if r == nil {
		return nil, fmt.Errorf("throttle registry is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := Key(recipient)
	s := r.retain(key)

	select {
	case s.token <- struct{}{}:
	case <-ctx.Done():
		r.drop(key)
		return nil, ctx.Err()
	}

	lease := &memoryLease{registry: r, key: key, slot: s}

	r.mu.Lock()
	last := r.lastSent[key]
	r.mu.Unlock()

	wait := RemainingWait(r.now(), last, r.window)
	if wait > 0 {
		if err := r.sleep(ctx, wait); err != nil {
			_ = lease.Release(ctx)
			return nil, err
		}
	}
	lease.waited = wait

	return lease, nil
}

// LastSent reports the last successful send recorded for recipient.
func (r *MemoryRegistry) LastSent(recipient string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.lastSent[Key(recipient)]
	return t, ok
}

func (r *MemoryRegistry) retain(key string) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[key]
	if !ok {
		s = &slot{token: make(chan struct{}, 1)}
		r.slots[key] = s
	}
	s.refs++
	return s
}

func (r *MemoryRegistry) drop(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[key]
	if !ok {
		return
	}
	s.refs--
	if s.refs <= 0 {
		delete(r.slots, key)
	}
}

type memoryLease struct {
	registry *MemoryRegistry
	key      string
	slot     *slot
	waited   time.Duration

	once sync.Once
}

func (l *memoryLease) Waited() time.Duration { return l.waited }

func (l *memoryLease) MarkSent(_ context.Context, at time.Time) error {
	l.registry.mu.Lock()
	l.registry.lastSent[l.key] = at
	l.registry.mu.Unlock()
	return nil
}

func (l *memoryLease) Release(_ context.Context) error {
	l.once.Do(func() {
		<-l.slot.token
		l.registry.drop(l.key)
	})
	return nil
}
