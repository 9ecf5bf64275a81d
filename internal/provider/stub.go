package provider

import (
	"context"
	"strings"
	"time"
)

// StubTransport simulates a provider round-trip. It only checks that the
// recipient is present.
type StubTransport struct {
	latency time.Duration
}

func NewStubTransport(latency time.Duration) *StubTransport {
	if latency < 0 {
		latency = 0
	}
	return &StubTransport{latency: latency}
}

func (s *StubTransport) Send(ctx context.Context, msg Message) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return &ProviderError{
				Kind:    Classify(ctx.Err()),
				Message: "stub send interrupted",
				Cause:   ctx.Err(),
			}
		case <-timer.C:
		}
	}

	if strings.TrimSpace(msg.TargetPhone) == "" {
		return &ProviderError{
			Kind:    KindInvalidRecipient,
			Message: "target phone is empty",
		}
	}

	return nil
}
