package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification job.
type Status string

const (
	StatusQueued Status = "queued"
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusSent, StatusFailed:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Event is the closed set of guardian notification kinds.
type Event string

const (
	EventSetoranValidated  Event = "setoran.validated"
	EventSetoranRejected   Event = "setoran.rejected"
	EventSetoranSubmitted  Event = "setoran.submitted"
	EventWeeklyProgress    Event = "progress.weekly"
	EventUjianResult       Event = "ujian.result"
	EventPerizinanStatus   Event = "perizinan.status"
	EventPelanggaranIssued Event = "pelanggaran.issued"
	EventPrestasiIssued    Event = "prestasi.issued"
)

var supportedEvents = []Event{
	EventSetoranValidated,
	EventSetoranRejected,
	EventSetoranSubmitted,
	EventWeeklyProgress,
	EventUjianResult,
	EventPerizinanStatus,
	EventPelanggaranIssued,
	EventPrestasiIssued,
}

func (e Event) String() string { return string(e) }

func (e Event) IsValid() bool {
	for _, candidate := range supportedEvents {
		if e == candidate {
			return true
		}
	}
	return false
}

// Events returns every supported event kind.
func Events() []Event {
	out := make([]Event, len(supportedEvents))
	copy(out, supportedEvents)
	return out
}

func ParseEventFromString(s string) (Event, error) {
	ev := Event(strings.ToLower(strings.TrimSpace(s)))
	if !ev.IsValid() {
		return "", fmt.Errorf("%w: invalid event %q", ErrValidation, s)
	}
	return ev, nil
}

// Mode tells how a job row was produced.
type Mode string

const (
	// ModeDispatch rows are owned by the throttled dispatcher and always
	// transition to a terminal status.
	ModeDispatch Mode = "dispatch"
	// ModeLog rows are written by the fire-and-forget logger and stay queued.
	ModeLog Mode = "log"
)

func (m Mode) String() string { return string(m) }

// NotificationJob is the audit record of one notification request.
type NotificationJob struct {
	ID          string
	TargetPhone string
	Event       Event
	Payload     map[string]any
	Status      Status
	Mode        Mode
	RetryCount  int
	Error       *string
	SentAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NotificationRequest is what producers hand to the dispatcher.
type NotificationRequest struct {
	TargetPhone string
	Event       Event
	Payload     map[string]any
}

// Validate checks the event kind only. The target phone is enforced by the
// delivery transport, not here.
func (r NotificationRequest) Validate() error {
	if !r.Event.IsValid() {
		return fmt.Errorf("%w: invalid event %q", ErrValidation, r.Event)
	}
	return nil
}
