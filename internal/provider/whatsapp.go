package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultCloudTimeout  = 10 * time.Second
	defaultTemplateLang  = "id"
	messagingProductName = "whatsapp"
)

// Graph API error codes that mean the recipient itself is unusable.
var invalidRecipientCodes = map[int]struct{}{
	131026: {}, // message undeliverable
	131030: {}, // recipient not in allowed list
	131021: {}, // recipient cannot be sender
	1013:    {}, // invalid user
}

type cloudTemplateLanguage struct {
	Code string `json:"code"`
}

type cloudTemplateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type cloudTemplateComponent struct {
	Type       string                   `json:"type"`
	Parameters []cloudTemplateParameter `json:"parameters"`
}

type cloudTemplate struct {
	Name       string                   `json:"name"`
	Language   cloudTemplateLanguage    `json:"language"`
	Components []cloudTemplateComponent `json:"components,omitempty"`
}

type cloudMessageRequest struct {
	MessagingProduct string        `json:"messaging_product"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Template         cloudTemplate `json:"template"`
}

type cloudErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// WhatsAppCloudTransport delivers template messages through a WhatsApp
// Business Cloud API compatible endpoint.
type WhatsAppCloudTransport struct {
	client       *resty.Client
	endpoint     string
	token        string
	templateLang string
}

func NewWhatsAppCloudTransport(baseURL, phoneNumberID, token string) (*WhatsAppCloudTransport, error) {
	client := resty.New()
	client.SetTimeout(defaultCloudTimeout)
	client.SetRetryCount(0)

	return NewWhatsAppCloudTransportWithClient(baseURL, phoneNumberID, token, client)
}

func NewWhatsAppCloudTransportWithClient(baseURL, phoneNumberID, token string, client *resty.Client) (*WhatsAppCloudTransport, error) {
	trimmedBase := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedBase == "" {
		return nil, fmt.Errorf("whatsapp api url is required")
	}
	if _, err := url.ParseRequestURI(trimmedBase); err != nil {
		return nil, fmt.Errorf("invalid whatsapp api url: %w", err)
	}
	phoneNumberID = strings.TrimSpace(phoneNumberID)
	if phoneNumberID == "" {
		return nil, fmt.Errorf("whatsapp phone number id is required")
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("whatsapp token is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultCloudTimeout)
	}
	client.SetRetryCount(0)

	return &WhatsAppCloudTransport{
		client:       client,
		endpoint:     fmt.Sprintf("%s/%s/messages", trimmedBase, url.PathEscape(phoneNumberID)),
		token:        strings.TrimSpace(token),
		templateLang: defaultTemplateLang,
	}, nil
}

func (p *WhatsAppCloudTransport) Send(ctx context.Context, msg Message) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("transport is not initialized")
	}

	to := normalizeRecipient(msg.TargetPhone)
	if to == "" {
		return &ProviderError{
			Kind:    KindInvalidRecipient,
			Message: "target phone is empty",
		}
	}

	reqBody := cloudMessageRequest{
		MessagingProduct: messagingProductName,
		To:               to,
		Type:             "template",
		Template: cloudTemplate{
			Name:       TemplateName(msg.Event.String()),
			Language:   cloudTemplateLanguage{Code: p.templateLang},
			Components: templateComponents(msg.Payload),
		},
	}

	var apiErr cloudErrorResponse
	response, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(p.token).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetError(&apiErr).
		Post(p.endpoint)
	if err != nil {
		kind := KindTransient
		if errors.Is(err, context.Canceled) {
			kind = KindProviderRejected
		}
		return &ProviderError{
			Kind:    kind,
			Message: "provider request failed",
			Cause:   err,
		}
	}
	if response == nil {
		return &ProviderError{
			Kind:    KindTransient,
			Message: "provider returned empty response",
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	message := strings.TrimSpace(apiErr.Error.Message)
	if message == "" {
		message = strings.TrimSpace(response.String())
	}

	return &ProviderError{
		Kind:       classifyHTTPStatus(statusCode, apiErr.Error.Code),
		StatusCode: statusCode,
		Message:    providerErrorMessage(statusCode, message),
	}
}

// TemplateName maps an event such as "setoran.validated" to the approved
// template name "setoran_validated".
func TemplateName(event string) string {
	name := strings.ToLower(strings.TrimSpace(event))
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

func classifyHTTPStatus(statusCode int, apiCode int) ErrorKind {
	if statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599) {
		return KindTransient
	}
	if _, ok := invalidRecipientCodes[apiCode]; ok {
		return KindInvalidRecipient
	}
	return KindProviderRejected
}

func templateComponents(payload map[string]any) []cloudTemplateComponent {
	if len(payload) == 0 {
		return nil
	}

	keys := make([]string, 0, len(payload))
	for key := range payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	params := make([]cloudTemplateParameter, 0, len(keys))
	for _, key := range keys {
		params = append(params, cloudTemplateParameter{
			Type: "text",
			Text: fmt.Sprint(payload[key]),
		})
	}

	return []cloudTemplateComponent{{Type: "body", Parameters: params}}
}

// normalizeRecipient strips formatting; the Cloud API expects digits only.
func normalizeRecipient(phone string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(phone) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
