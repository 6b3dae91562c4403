package store

import "fmt"

// Followup lifecycle statuses.
const (
	StatusDraft     = "draft"
	StatusPending   = "pending"
	StatusScheduled = "scheduled"
	StatusRunning   = "running"
	StatusSent      = "sent"
	StatusPassed    = "passed"
	StatusFailed    = "failed"
	StatusDone      = "done"
	StatusReplied   = "replied"
	StatusDeleted   = "deleted"
)

// IsFinalized reports whether status is one of the finalized set. Finalized
// items never accept a new schedule rule.
func IsFinalized(status string) bool {
	switch status {
	case StatusSent, StatusDone, StatusDeleted:
		return true
	}
	return false
}

// EverSent reports whether the item has been delivered at least once.
// Either signal alone counts: older rows may carry last_sent_at without a
// sent_count and vice versa.
func EverSent(sentCount int, lastSentAt string) bool {
	return sentCount > 0 || lastSentAt != ""
}

// CanInstallRule checks whether a schedule rule may be written to an item in
// the given state. Returns false with a reason when the write must be
// rejected.
func CanInstallRule(status string, sentCount int, lastSentAt string) (bool, string) {
	if IsFinalized(status) {
		return false, fmt.Sprintf("status is %s", status)
	}
	if EverSent(sentCount, lastSentAt) {
		return false, "already sent at least once"
	}
	return true, ""
}

// CanMarkReplied checks whether the reply transition is legal from status.
func CanMarkReplied(status string) (bool, string) {
	switch status {
	case StatusPending, StatusFailed, StatusSent:
		return true, ""
	}
	return false, fmt.Sprintf("cannot mark replied from status %s", status)
}
