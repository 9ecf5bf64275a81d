package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/wali-dispatch/internal/domain"
	"github.com/kursadbilgin/wali-dispatch/internal/observability"
	"github.com/kursadbilgin/wali-dispatch/internal/repository"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type NotificationSender interface {
	Dispatch(ctx context.Context, req domain.NotificationRequest) (string, error)
	Log(ctx context.Context, req domain.NotificationRequest) (string, error)
}

type NotificationReader interface {
	GetByID(ctx context.Context, id string) (*domain.NotificationJob, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.NotificationJob, int64, error)
	Attempts(ctx context.Context, jobID string) ([]domain.NotificationAttempt, error)
}

type NotificationHandler struct {
	sender NotificationSender
	reader NotificationReader
}

func NewNotificationHandler(sender NotificationSender, reader NotificationReader) (*NotificationHandler, error) {
	if sender == nil {
		return nil, fmt.Errorf("notification sender is required")
	}
	if reader == nil {
		return nil, fmt.Errorf("notification reader is required")
	}
	return &NotificationHandler{sender: sender, reader: reader}, nil
}

func RegisterNotificationRoutes(router fiber.Router, sender NotificationSender, reader NotificationReader) error {
	h, err := NewNotificationHandler(sender, reader)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.DispatchNotification)
	v1.Post("/notifications/log", h.LogNotification)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Get("/notifications/:id/attempts", h.ListAttempts)
	v1.Get("/notifications", h.ListNotifications)

	return nil
}

type notificationRequest struct {
	TargetPhone string         `json:"targetPhone"`
	Event       string         `json:"event"`
	Payload     map[string]any `json:"payload"`
}

type notificationResponse struct {
	ID          string         `json:"id"`
	TargetPhone string         `json:"targetPhone"`
	Event       string         `json:"event"`
	Payload     map[string]any `json:"payload"`
	Status      string         `json:"status"`
	Mode        string         `json:"mode"`
	RetryCount  int            `json:"retryCount"`
	Error       *string        `json:"error,omitempty"`
	SentAt      *time.Time     `json:"sentAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt,omitempty"`
	UpdatedAt   time.Time      `json:"updatedAt,omitempty"`
}

type attemptResponse struct {
	ID            string    `json:"id"`
	AttemptNumber int       `json:"attemptNumber"`
	Outcome       string    `json:"outcome"`
	Error         *string   `json:"error,omitempty"`
	LatencyMs     int64     `json:"latencyMs"`
	CreatedAt     time.Time `json:"createdAt"`
}

type listNotificationsResponse struct {
	Data []notificationResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

// DispatchNotification delivers synchronously. A delivery failure still
// answers with the job id so the caller can inspect the attempts.
func (h *NotificationHandler) DispatchNotification(c *fiber.Ctx) error {
	req, err := parseNotificationRequest(c)
	if err != nil {
		return err
	}

	id, err := h.sender.Dispatch(requestContext(c), req)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) || id == "" {
			return toHTTPError(err)
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"id":     id,
			"status": domain.StatusFailed.String(),
			"error":  err.Error(),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id":     id,
		"status": domain.StatusSent.String(),
	})
}

func (h *NotificationHandler) LogNotification(c *fiber.Ctx) error {
	req, err := parseNotificationRequest(c)
	if err != nil {
		return err
	}

	id, err := h.sender.Log(requestContext(c), req)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":     id,
		"status": domain.StatusQueued.String(),
	})
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	job, err := h.reader.GetByID(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(job))
}

func (h *NotificationHandler) ListAttempts(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	attempts, err := h.reader.Attempts(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		data = append(data, attemptResponse{
			ID:            a.ID,
			AttemptNumber: a.AttemptNumber,
			Outcome:       a.Outcome,
			Error:         a.Error,
			LatencyMs:     a.Latency.Milliseconds(),
			CreatedAt:     a.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	jobs, total, err := h.reader.List(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: toNotificationResponses(jobs),
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func parseNotificationRequest(c *fiber.Ctx) (domain.NotificationRequest, error) {
	var body notificationRequest
	if err := c.BodyParser(&body); err != nil {
		return domain.NotificationRequest{}, fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	event, err := domain.ParseEventFromString(body.Event)
	if err != nil {
		return domain.NotificationRequest{}, toHTTPError(err)
	}

	return domain.NotificationRequest{
		TargetPhone: strings.TrimSpace(body.TargetPhone),
		Event:       event,
		Payload:     body.Payload,
	}, nil
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:        c.QueryInt("page", defaultPage),
		PageSize:    c.QueryInt("pageSize", defaultPageSize),
		TargetPhone: strings.TrimSpace(c.Query("targetPhone")),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawEvent := strings.TrimSpace(c.Query("event")); rawEvent != "" {
		event, err := domain.ParseEventFromString(rawEvent)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Event = &event
	}

	switch mode := domain.Mode(strings.ToLower(strings.TrimSpace(c.Query("mode")))); mode {
	case "":
	case domain.ModeDispatch, domain.ModeLog:
		params.Mode = &mode
	default:
		return repository.ListParams{}, fmt.Errorf("%w: invalid mode %q", domain.ErrValidation, mode)
	}

	return params, nil
}

// requestContext carries the request's correlation id into the service layer.
func requestContext(c *fiber.Ctx) context.Context {
	return observability.WithCorrelationID(c.UserContext(), requestCorrelationID(c))
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toNotificationResponses(jobs []domain.NotificationJob) []notificationResponse {
	responses := make([]notificationResponse, 0, len(jobs))
	for _, job := range jobs {
		j := job
		responses = append(responses, toNotificationResponse(&j))
	}
	return responses
}

func toNotificationResponse(j *domain.NotificationJob) notificationResponse {
	if j == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:          j.ID,
		TargetPhone: j.TargetPhone,
		Event:       j.Event.String(),
		Payload:     j.Payload,
		Status:      j.Status.String(),
		Mode:        j.Mode.String(),
		RetryCount:  j.RetryCount,
		Error:       j.Error,
		SentAt:      j.SentAt,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
