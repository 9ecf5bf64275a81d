package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/wali-dispatch/internal/domain"
)

func TestWhatsAppCloudTransportSendSuccess(t *testing.T) {
	t.Parallel()

	var gotBody cloudMessageRequest
	var gotPath, gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer server.Close()

	p, err := NewWhatsAppCloudTransport(server.URL+"/v19.0/", "10001", "secret-token")
	if err != nil {
		t.Fatalf("NewWhatsAppCloudTransport() error = %v", err)
	}

	err = p.Send(context.Background(), Message{
		TargetPhone: "+62 811-1111-1111",
		Event:       domain.EventSetoranValidated,
		Payload:     map[string]any{"surah": "Al-Mulk", "status": "validated"},
	})
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if gotPath != "/v19.0/10001/messages" {
		t.Fatalf("path = %q, want /v19.0/10001/messages", gotPath)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("authorization = %q, want bearer token", gotAuth)
	}
	if gotBody.To != "6281111111111" {
		t.Fatalf("request.to = %q, want 6281111111111", gotBody.To)
	}
	if gotBody.MessagingProduct != "whatsapp" || gotBody.Type != "template" {
		t.Fatalf("unexpected envelope: %+v", gotBody)
	}
	if gotBody.Template.Name != "setoran_validated" {
		t.Fatalf("template = %q, want setoran_validated", gotBody.Template.Name)
	}
	if len(gotBody.Template.Components) != 1 || len(gotBody.Template.Components[0].Parameters) != 2 {
		t.Fatalf("unexpected components: %+v", gotBody.Template.Components)
	}
	// Parameters are ordered by payload key: status, surah.
	if got := gotBody.Template.Components[0].Parameters[0].Text; got != "validated" {
		t.Fatalf("first parameter = %q, want validated", got)
	}
}

func TestWhatsAppCloudTransportSendStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		body          string
		wantKind      ErrorKind
		wantRetryable bool
	}{
		{
			name:          "too many requests is transient",
			statusCode:    http.StatusTooManyRequests,
			body:          `{"error":{"message":"rate limited","code":130429}}`,
			wantKind:      KindTransient,
			wantRetryable: true,
		},
		{
			name:          "server error is transient",
			statusCode:    http.StatusBadGateway,
			body:          `{"error":{"message":"upstream","code":2}}`,
			wantKind:      KindTransient,
			wantRetryable: true,
		},
		{
			name:       "undeliverable recipient",
			statusCode: http.StatusBadRequest,
			body:       `{"error":{"message":"Message undeliverable","code":131026}}`,
			wantKind:   KindInvalidRecipient,
		},
		{
			name:       "other bad request is rejected",
			statusCode: http.StatusBadRequest,
			body:       `{"error":{"message":"Template name does not exist","code":132001}}`,
			wantKind:   KindProviderRejected,
		},
		{
			name:       "unauthorized is rejected",
			statusCode: http.StatusUnauthorized,
			body:       `not json`,
			wantKind:   KindProviderRejected,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if strings.HasPrefix(tc.body, "{") {
					w.Header().Set("Content-Type", "application/json")
				}
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			p, err := NewWhatsAppCloudTransport(server.URL, "10001", "token")
			if err != nil {
				t.Fatalf("NewWhatsAppCloudTransport() error = %v", err)
			}

			err = p.Send(context.Background(), Message{
				TargetPhone: "+6281111111111",
				Event:       domain.EventUjianResult,
			})
			if err == nil {
				t.Fatal("expected error")
			}

			if got := Classify(err); got != tc.wantKind {
				t.Fatalf("Classify() = %s, want %s", got, tc.wantKind)
			}
			if got := IsRetryable(err); got != tc.wantRetryable {
				t.Fatalf("IsRetryable() = %v, want %v", got, tc.wantRetryable)
			}

			var providerErr *ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("expected ProviderError, got %T", err)
			}
			if providerErr.StatusCode != tc.statusCode {
				t.Fatalf("ProviderError.StatusCode = %d, want %d", providerErr.StatusCode, tc.statusCode)
			}
		})
	}
}

func TestWhatsAppCloudTransportEmptyRecipient(t *testing.T) {
	t.Parallel()

	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p, err := NewWhatsAppCloudTransport(server.URL, "10001", "token")
	if err != nil {
		t.Fatalf("NewWhatsAppCloudTransport() error = %v", err)
	}

	err = p.Send(context.Background(), Message{TargetPhone: "  ", Event: domain.EventPrestasiIssued})
	if Classify(err) != KindInvalidRecipient {
		t.Fatalf("Classify() = %s, want invalid_recipient (err=%v)", Classify(err), err)
	}
	if called {
		t.Fatal("provider should not be called for an empty recipient")
	}
}

func TestWhatsAppCloudTransportTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(30 * time.Millisecond)

	p, err := NewWhatsAppCloudTransportWithClient(server.URL, "10001", "token", client)
	if err != nil {
		t.Fatalf("NewWhatsAppCloudTransportWithClient() error = %v", err)
	}

	err = p.Send(context.Background(), Message{TargetPhone: "+6281111111111", Event: domain.EventPerizinanStatus})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsRetryable(err) {
		t.Fatalf("IsRetryable() = false, want true (err=%v)", err)
	}
}

func TestNewWhatsAppCloudTransportValidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		baseURL string
		phoneID string
		token   string
	}{
		{name: "empty url", baseURL: "", phoneID: "1", token: "t"},
		{name: "relative url", baseURL: "graph.facebook.com", phoneID: "1", token: "t"},
		{name: "missing phone id", baseURL: "https://graph.facebook.com/v19.0", phoneID: " ", token: "t"},
		{name: "missing token", baseURL: "https://graph.facebook.com/v19.0", phoneID: "1", token: ""},
	}

	for _, tc := range testCases {
		if _, err := NewWhatsAppCloudTransport(tc.baseURL, tc.phoneID, tc.token); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestTemplateName(t *testing.T) {
	t.Parallel()

	if got := TemplateName(" Progress.Weekly "); got != "progress_weekly" {
		t.Fatalf("TemplateName() = %q, want progress_weekly", got)
	}
}
