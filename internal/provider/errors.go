package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies transport failures so the dispatcher only spends its
// retry budget on conditions that can clear up.
type ErrorKind string

const (
	KindInvalidRecipient ErrorKind = "invalid_recipient"
	KindTransient        ErrorKind = "transient_network"
	KindProviderRejected ErrorKind = "provider_rejected"
)

func (k ErrorKind) String() string { return string(k) }

// ProviderError is returned by transports for every failed delivery.
type ProviderError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "provider error")

	if e.Kind != "" {
		parts = append(parts, string(e.Kind))
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Classify maps any error to an ErrorKind. Unknown errors are treated as
// transient; context cancellation is reported as provider_rejected because it
// must not be retried.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.Canceled) {
		return KindProviderRejected
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.Kind != "" {
		return providerErr.Kind
	}

	return KindTransient
}

// IsRetryable reports whether a failed delivery should be attempted again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err) == KindTransient
}
