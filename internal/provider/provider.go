package provider

import (
	"context"

	"github.com/kursadbilgin/wali-dispatch/internal/domain"
)

// Transport is the outbound WhatsApp delivery port. Implementations return a
// *ProviderError on failure.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Message is the delivery request handed to a transport.
type Message struct {
	TargetPhone string
	Event       domain.Event
	Payload     map[string]any
}
