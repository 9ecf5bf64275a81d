package domain

import (
	"fmt"
	"strings"
	"time"
)

// SetoranStatus is the review state of a memorization submission.
type SetoranStatus string

const (
	SetoranSubmitted SetoranStatus = "submitted"
	SetoranValidated SetoranStatus = "validated"
	SetoranRejected  SetoranStatus = "rejected"
)

func (s SetoranStatus) String() string { return string(s) }

func ParseSetoranStatusFromString(s string) (SetoranStatus, error) {
	st := SetoranStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case SetoranSubmitted, SetoranValidated, SetoranRejected:
		return st, nil
	}
	return "", fmt.Errorf("%w: invalid setoran status %q", ErrValidation, s)
}

// PerizinanStatus is the state of a leave permission request.
type PerizinanStatus string

const (
	PerizinanPending  PerizinanStatus = "pending"
	PerizinanApproved PerizinanStatus = "approved"
	PerizinanRejected PerizinanStatus = "rejected"
	PerizinanReturned PerizinanStatus = "returned"
)

func (s PerizinanStatus) String() string { return string(s) }

func ParsePerizinanStatusFromString(s string) (PerizinanStatus, error) {
	st := PerizinanStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case PerizinanPending, PerizinanApproved, PerizinanRejected, PerizinanReturned:
		return st, nil
	}
	return "", fmt.Errorf("%w: invalid perizinan status %q", ErrValidation, s)
}

// Santri is a student enrolled in a halaqoh.
type Santri struct {
	ID        string
	Name      string
	HalaqohID *string
	WaliName  string
	WaliPhone *string
}

// Setoran is a memorization submission reviewed by a musyrif.
type Setoran struct {
	ID          string
	SantriID    string
	Surah       string
	AyatStart   int
	AyatEnd     int
	Status      SetoranStatus
	Grade       *string
	Notes       *string
	ReviewedBy  *string
	ReviewedAt  *time.Time
	SubmittedAt time.Time
}

func (s *Setoran) Validate() error {
	if strings.TrimSpace(s.SantriID) == "" {
		return fmt.Errorf("%w: santriId is required", ErrValidation)
	}
	if strings.TrimSpace(s.Surah) == "" {
		return fmt.Errorf("%w: surah is required", ErrValidation)
	}
	if s.AyatStart < 1 || s.AyatEnd < s.AyatStart {
		return fmt.Errorf("%w: invalid ayat range %d-%d", ErrValidation, s.AyatStart, s.AyatEnd)
	}
	return nil
}

// Ujian is a tahfidz exam. Finalized exams are immutable.
type Ujian struct {
	ID          string
	SantriID    string
	Title       string
	Score       *float64
	Passed      *bool
	Finalized   bool
	FinalizedAt *time.Time
}

// PassingScore is the minimum final score for an ujian to count as passed.
const PassingScore = 70.0

// Perizinan is a request for leave from the pondok.
type Perizinan struct {
	ID        string
	SantriID  string
	Reason    string
	StartDate time.Time
	EndDate   time.Time
	Status    PerizinanStatus
	DecidedBy *string
	DecidedAt *time.Time
}

// Pelanggaran is a recorded rule violation.
type Pelanggaran struct {
	ID          string
	SantriID    string
	Category    string
	Points      int
	Description string
	RecordedBy  string
	OccurredAt  time.Time
}

func (p *Pelanggaran) Validate() error {
	if strings.TrimSpace(p.SantriID) == "" {
		return fmt.Errorf("%w: santriId is required", ErrValidation)
	}
	if strings.TrimSpace(p.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrValidation)
	}
	if p.Points < 0 {
		return fmt.Errorf("%w: points must be >= 0", ErrValidation)
	}
	return nil
}

// Prestasi is a recorded achievement.
type Prestasi struct {
	ID         string
	SantriID   string
	Title      string
	Level      string
	RecordedBy string
	AchievedAt time.Time
}

func (p *Prestasi) Validate() error {
	if strings.TrimSpace(p.SantriID) == "" {
		return fmt.Errorf("%w: santriId is required", ErrValidation)
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	return nil
}

// WeeklyProgress summarizes one santri's week of setoran.
type WeeklyProgress struct {
	SantriID       string
	WeekStart      time.Time
	ValidatedCount int
	RejectedCount  int
	AyatMemorized  int
}
