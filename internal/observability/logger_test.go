package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		level     string
		wantDebug bool
		wantErr   bool
	}{
		{name: "debug", level: "debug", wantDebug: true},
		{name: "upper case warn", level: " WARN "},
		{name: "blank defaults to info", level: ""},
		{name: "unknown level", level: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tt.level, "api")
			if tt.wantErr {
				if err == nil || logger != nil {
					t.Fatalf("NewLogger(%q) = (%v, %v), want error", tt.level, logger, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLogger(%q) error = %v", tt.level, err)
			}
			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tt.wantDebug {
				t.Fatalf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	lvl, err := parseLevel("error")
	if err != nil || lvl != zapcore.ErrorLevel {
		t.Fatalf("parseLevel(error) = (%v, %v), want error level", lvl, err)
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := WithCorrelationID(context.Background(), "cid-123")
	if id, ok := CorrelationIDFromContext(ctx); !ok || id != "cid-123" {
		t.Fatalf("CorrelationIDFromContext() = (%q, %v), want (cid-123, true)", id, ok)
	}

	if _, ok := CorrelationIDFromContext(context.Background()); ok {
		t.Fatal("expected no correlation id on a bare context")
	}
	if _, ok := CorrelationIDFromContext(WithCorrelationID(context.Background(), "")); ok {
		t.Fatal("expected blank correlation id to be treated as missing")
	}
}

func TestWithContextLogger(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	WithContextLogger(base, WithCorrelationID(context.Background(), "cid-789")).Info("tagged")
	WithContextLogger(base, context.Background()).Info("untagged")

	entries := recorded.All()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if got := entries[0].ContextMap()["correlationId"]; got != "cid-789" {
		t.Fatalf("correlationId = %v, want cid-789", got)
	}
	if _, ok := entries[1].ContextMap()["correlationId"]; ok {
		t.Fatal("untagged entry should not carry correlationId")
	}

	if WithContextLogger(nil, context.Background()) != nil {
		t.Fatal("expected nil logger to stay nil")
	}
}

func TestMaskPhone(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"+6281111111111": "+62********111",
		" +628123 ":      "+62*123",
		"12345":          "*****",
		"":               "",
	}
	for in, want := range cases {
		if got := MaskPhone(in); got != want {
			t.Fatalf("MaskPhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPhoneField(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	zap.New(core).Info("sent", Phone("targetPhone", "+6281234567890"))

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["targetPhone"]; got != "+62********890" {
		t.Fatalf("targetPhone = %v, want masked", got)
	}
}
