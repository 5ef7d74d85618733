package runtime

import (
	"fmt"
	"strings"
)

// Status is a node's execution status as reported by the host. It is used
// only to classify nodes for display.
type Status string

const (
	StatusStarted   Status = "started"
	StatusQueued    Status = "queued"
	StatusDeferred  Status = "deferred"
	StatusFinished  Status = "finished"
	StatusCanceled  Status = "canceled"
	StatusStopped   Status = "stopped"
	StatusScheduled Status = "scheduled"
	StatusFailed    Status = "failed"
)

// Statuses returns every status in display order.
func Statuses() []Status {
	return []Status{
		StatusStarted, StatusQueued, StatusDeferred, StatusFinished,
		StatusCanceled, StatusStopped, StatusScheduled, StatusFailed,
	}
}

// ParseStatus validates a status string. The empty string clears a status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if st == "" {
		return "", nil
	}
	for _, known := range Statuses() {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown node status %q", s)
}

// Class returns the display class for the status. A node carries at most
// one status class at a time.
func (s Status) Class() string {
	return string(s)
}
