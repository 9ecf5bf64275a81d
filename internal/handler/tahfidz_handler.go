package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/wali-dispatch/internal/domain"
	"github.com/kursadbilgin/wali-dispatch/internal/service"
)

const dateLayout = "2006-01-02"

type TahfidzService interface {
	SubmitSetoran(ctx context.Context, setoran *domain.Setoran) (*domain.Setoran, error)
	UpdateSetoranStatus(ctx context.Context, id string, input service.SetoranReviewInput) (*domain.Setoran, error)
	FinalizeUjian(ctx context.Context, id string, score float64) (*domain.Ujian, error)
	UpdatePerizinanStatus(ctx context.Context, id string, status domain.PerizinanStatus, decidedBy *string) (*domain.Perizinan, error)
	RecordPelanggaran(ctx context.Context, p *domain.Pelanggaran) (*domain.Pelanggaran, error)
	RecordPrestasi(ctx context.Context, p *domain.Prestasi) (*domain.Prestasi, error)
	SendWeeklyProgress(ctx context.Context, santriID string, weekStart time.Time) (*domain.WeeklyProgress, error)
}

type TahfidzHandler struct {
	service TahfidzService
}

func NewTahfidzHandler(service TahfidzService) (*TahfidzHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("tahfidz service is required")
	}
	return &TahfidzHandler{service: service}, nil
}

func RegisterTahfidzRoutes(router fiber.Router, service TahfidzService) error {
	h, err := NewTahfidzHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/setoran", h.SubmitSetoran)
	v1.Patch("/setoran/:id/status", h.UpdateSetoranStatus)
	v1.Post("/ujian/:id/finalize", h.FinalizeUjian)
	v1.Patch("/perizinan/:id/status", h.UpdatePerizinanStatus)
	v1.Post("/pelanggaran", h.RecordPelanggaran)
	v1.Post("/prestasi", h.RecordPrestasi)
	v1.Post("/santri/:id/weekly-progress", h.SendWeeklyProgress)

	return nil
}

type submitSetoranRequest struct {
	SantriID  string  `json:"santriId"`
	Surah     string  `json:"surah"`
	AyatStart int     `json:"ayatStart"`
	AyatEnd   int     `json:"ayatEnd"`
	Notes     *string `json:"notes"`
}

type setoranStatusRequest struct {
	Status     string  `json:"status"`
	Grade      *string `json:"grade"`
	Notes      *string `json:"notes"`
	ReviewedBy *string `json:"reviewedBy"`
}

type finalizeUjianRequest struct {
	Score *float64 `json:"score"`
}

type perizinanStatusRequest struct {
	Status    string  `json:"status"`
	DecidedBy *string `json:"decidedBy"`
}

type pelanggaranRequest struct {
	SantriID    string     `json:"santriId"`
	Category    string     `json:"category"`
	Points      int        `json:"points"`
	Description string     `json:"description"`
	RecordedBy  string     `json:"recordedBy"`
	OccurredAt  *time.Time `json:"occurredAt"`
}

type prestasiRequest struct {
	SantriID   string     `json:"santriId"`
	Title      string     `json:"title"`
	Level      string     `json:"level"`
	RecordedBy string     `json:"recordedBy"`
	AchievedAt *time.Time `json:"achievedAt"`
}

type setoranResponse struct {
	ID          string     `json:"id"`
	SantriID    string     `json:"santriId"`
	Surah       string     `json:"surah"`
	AyatStart   int        `json:"ayatStart"`
	AyatEnd     int        `json:"ayatEnd"`
	Status      string     `json:"status"`
	Grade       *string    `json:"grade,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
	ReviewedBy  *string    `json:"reviewedBy,omitempty"`
	ReviewedAt  *time.Time `json:"reviewedAt,omitempty"`
	SubmittedAt time.Time  `json:"submittedAt"`
}

type ujianResponse struct {
	ID          string     `json:"id"`
	SantriID    string     `json:"santriId"`
	Title       string     `json:"title"`
	Score       *float64   `json:"score,omitempty"`
	Passed      *bool      `json:"passed,omitempty"`
	Finalized   bool       `json:"finalized"`
	FinalizedAt *time.Time `json:"finalizedAt,omitempty"`
}

type perizinanResponse struct {
	ID        string     `json:"id"`
	SantriID  string     `json:"santriId"`
	Reason    string     `json:"reason"`
	StartDate string     `json:"startDate"`
	EndDate   string     `json:"endDate"`
	Status    string     `json:"status"`
	DecidedBy *string    `json:"decidedBy,omitempty"`
	DecidedAt *time.Time `json:"decidedAt,omitempty"`
}

type pelanggaranResponse struct {
	ID          string    `json:"id"`
	SantriID    string    `json:"santriId"`
	Category    string    `json:"category"`
	Points      int       `json:"points"`
	Description string    `json:"description"`
	RecordedBy  string    `json:"recordedBy"`
	OccurredAt  time.Time `json:"occurredAt"`
}

type prestasiResponse struct {
	ID         string    `json:"id"`
	SantriID   string    `json:"santriId"`
	Title      string    `json:"title"`
	Level      string    `json:"level"`
	RecordedBy string    `json:"recordedBy"`
	AchievedAt time.Time `json:"achievedAt"`
}

type weeklyProgressResponse struct {
	SantriID       string `json:"santriId"`
	WeekStart      string `json:"weekStart"`
	ValidatedCount int    `json:"validatedCount"`
	RejectedCount  int    `json:"rejectedCount"`
	AyatMemorized  int    `json:"ayatMemorized"`
}

func (h *TahfidzHandler) SubmitSetoran(c *fiber.Ctx) error {
	var req submitSetoranRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	setoran, err := h.service.SubmitSetoran(requestContext(c), &domain.Setoran{
		SantriID:  strings.TrimSpace(req.SantriID),
		Surah:     strings.TrimSpace(req.Surah),
		AyatStart: req.AyatStart,
		AyatEnd:   req.AyatEnd,
		Notes:     req.Notes,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toSetoranResponse(setoran))
}

func (h *TahfidzHandler) UpdateSetoranStatus(c *fiber.Ctx) error {
	var req setoranStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	status, err := domain.ParseSetoranStatusFromString(req.Status)
	if err != nil {
		return toHTTPError(err)
	}

	setoran, err := h.service.UpdateSetoranStatus(requestContext(c), strings.TrimSpace(c.Params("id")), service.SetoranReviewInput{
		Status:     status,
		Grade:      req.Grade,
		Notes:      req.Notes,
		ReviewedBy: req.ReviewedBy,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toSetoranResponse(setoran))
}

func (h *TahfidzHandler) FinalizeUjian(c *fiber.Ctx) error {
	var req finalizeUjianRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Score == nil {
		return toHTTPError(fmt.Errorf("%w: score is required", domain.ErrValidation))
	}

	ujian, err := h.service.FinalizeUjian(requestContext(c), strings.TrimSpace(c.Params("id")), *req.Score)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(ujianResponse{
		ID:          ujian.ID,
		SantriID:    ujian.SantriID,
		Title:       ujian.Title,
		Score:       ujian.Score,
		Passed:      ujian.Passed,
		Finalized:   ujian.Finalized,
		FinalizedAt: ujian.FinalizedAt,
	})
}

func (h *TahfidzHandler) UpdatePerizinanStatus(c *fiber.Ctx) error {
	var req perizinanStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	status, err := domain.ParsePerizinanStatusFromString(req.Status)
	if err != nil {
		return toHTTPError(err)
	}

	perizinan, err := h.service.UpdatePerizinanStatus(requestContext(c), strings.TrimSpace(c.Params("id")), status, req.DecidedBy)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(perizinanResponse{
		ID:        perizinan.ID,
		SantriID:  perizinan.SantriID,
		Reason:    perizinan.Reason,
		StartDate: perizinan.StartDate.Format(dateLayout),
		EndDate:   perizinan.EndDate.Format(dateLayout),
		Status:    perizinan.Status.String(),
		DecidedBy: perizinan.DecidedBy,
		DecidedAt: perizinan.DecidedAt,
	})
}

func (h *TahfidzHandler) RecordPelanggaran(c *fiber.Ctx) error {
	var req pelanggaranRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	p := &domain.Pelanggaran{
		SantriID:    strings.TrimSpace(req.SantriID),
		Category:    strings.TrimSpace(req.Category),
		Points:      req.Points,
		Description: req.Description,
		RecordedBy:  req.RecordedBy,
	}
	if req.OccurredAt != nil {
		p.OccurredAt = req.OccurredAt.UTC()
	}

	recorded, err := h.service.RecordPelanggaran(requestContext(c), p)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(pelanggaranResponse{
		ID:          recorded.ID,
		SantriID:    recorded.SantriID,
		Category:    recorded.Category,
		Points:      recorded.Points,
		Description: recorded.Description,
		RecordedBy:  recorded.RecordedBy,
		OccurredAt:  recorded.OccurredAt,
	})
}

func (h *TahfidzHandler) RecordPrestasi(c *fiber.Ctx) error {
	var req prestasiRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	p := &domain.Prestasi{
		SantriID:   strings.TrimSpace(req.SantriID),
		Title:      strings.TrimSpace(req.Title),
		Level:      strings.TrimSpace(req.Level),
		RecordedBy: req.RecordedBy,
	}
	if req.AchievedAt != nil {
		p.AchievedAt = req.AchievedAt.UTC()
	}

	recorded, err := h.service.RecordPrestasi(requestContext(c), p)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(prestasiResponse{
		ID:         recorded.ID,
		SantriID:   recorded.SantriID,
		Title:      recorded.Title,
		Level:      recorded.Level,
		RecordedBy: recorded.RecordedBy,
		AchievedAt: recorded.AchievedAt,
	})
}

// SendWeeklyProgress accepts an optional weekStart query in YYYY-MM-DD form.
// Without it the current week is summarized.
func (h *TahfidzHandler) SendWeeklyProgress(c *fiber.Ctx) error {
	var weekStart time.Time
	if raw := strings.TrimSpace(c.Query("weekStart")); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			return toHTTPError(fmt.Errorf("%w: weekStart must be YYYY-MM-DD", domain.ErrValidation))
		}
		weekStart = parsed
	}

	progress, err := h.service.SendWeeklyProgress(requestContext(c), strings.TrimSpace(c.Params("id")), weekStart)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(weeklyProgressResponse{
		SantriID:       progress.SantriID,
		WeekStart:      progress.WeekStart.Format(dateLayout),
		ValidatedCount: progress.ValidatedCount,
		RejectedCount:  progress.RejectedCount,
		AyatMemorized:  progress.AyatMemorized,
	})
}

func toSetoranResponse(s *domain.Setoran) setoranResponse {
	return setoranResponse{
		ID:          s.ID,
		SantriID:    s.SantriID,
		Surah:       s.Surah,
		AyatStart:   s.AyatStart,
		AyatEnd:     s.AyatEnd,
		Status:      s.Status.String(),
		Grade:       s.Grade,
		Notes:       s.Notes,
		ReviewedBy:  s.ReviewedBy,
		ReviewedAt:  s.ReviewedAt,
		SubmittedAt: s.SubmittedAt,
	}
}
