package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/wali-dispatch/internal/domain"
)

// Redispatch reasons.
const (
	ReasonProducerFailure = "producer_failure"
	ReasonInterrupted     = "dispatch_interrupted"
)

// RedispatchMessage asks a worker to run a notification through the
// dispatcher again. SourceJobID is empty when the original job row was never
// written.
type RedispatchMessage struct {
	SourceJobID   string         `json:"sourceJobId,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	TargetPhone   string         `json:"targetPhone"`
	Event         domain.Event   `json:"event"`
	Payload       map[string]any `json:"payload,omitempty"`
	Reason        string         `json:"reason"`
}

func (m RedispatchMessage) Validate() error {
	if !m.Event.IsValid() {
		return fmt.Errorf("invalid event %q", m.Event)
	}
	if strings.TrimSpace(m.Reason) == "" {
		return fmt.Errorf("reason is required")
	}
	return nil
}

// Request converts the message back into a dispatcher request.
func (m RedispatchMessage) Request() domain.NotificationRequest {
	return domain.NotificationRequest{
		TargetPhone: m.TargetPhone,
		Event:       m.Event,
		Payload:     m.Payload,
	}
}
