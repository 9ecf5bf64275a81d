package domain

import "time"

// OutcomeSent marks a delivery attempt the transport accepted. Failed
// attempts carry the provider error kind instead.
const OutcomeSent = "sent"

// NotificationAttempt is one transport call made for a dispatch job.
type NotificationAttempt struct {
	ID            string
	JobID         string
	AttemptNumber int
	Outcome       string
	Error         *string
	Latency       time.Duration
	CreatedAt     time.Time
}

func (a NotificationAttempt) Succeeded() bool {
	return a.Outcome == OutcomeSent && a.Error == nil
}
