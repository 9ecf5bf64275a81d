package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kursadbilgin/wali-dispatch/internal/domain"
)

func TestStubTransportSend(t *testing.T) {
	t.Parallel()

	stub := NewStubTransport(0)

	if err := stub.Send(context.Background(), Message{TargetPhone: "+6281111111111", Event: domain.EventSetoranValidated}); err != nil {
		t.Fatalf("Send() unexpected error = %v", err)
	}

	err := stub.Send(context.Background(), Message{TargetPhone: "", Event: domain.EventSetoranValidated})
	if err == nil {
		t.Fatal("Send() expected error for empty recipient")
	}
	if Classify(err) != KindInvalidRecipient {
		t.Fatalf("Classify() = %s, want invalid_recipient", Classify(err))
	}
	if IsRetryable(err) {
		t.Fatal("invalid recipient must not be retryable")
	}
}

func TestStubTransportHonorsContext(t *testing.T) {
	t.Parallel()

	stub := NewStubTransport(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := stub.Send(ctx, Message{TargetPhone: "+6281111111111", Event: domain.EventSetoranValidated})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Send() error = %v, want context.Canceled", err)
	}
	if IsRetryable(err) {
		t.Fatal("canceled send must not be retryable")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "deadline", err: fmt.Errorf("send: %w", context.DeadlineExceeded), want: KindTransient},
		{name: "canceled", err: context.Canceled, want: KindProviderRejected},
		{name: "typed", err: &ProviderError{Kind: KindProviderRejected}, want: KindProviderRejected},
		{name: "wrapped typed", err: fmt.Errorf("x: %w", &ProviderError{Kind: KindInvalidRecipient}), want: KindInvalidRecipient},
		{name: "unknown", err: errors.New("boom"), want: KindTransient},
	}

	for _, tc := range testCases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("%s: Classify() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestProviderErrorMessage(t *testing.T) {
	t.Parallel()

	err := &ProviderError{Kind: KindTransient, StatusCode: 503, Message: "unavailable", Cause: errors.New("eof")}
	want := "provider error: transient_network: status=503: unavailable: eof"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
