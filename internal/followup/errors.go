package followup

import (
	"errors"

	"github.com/chasehq/followup/internal/schedule"
	"github.com/chasehq/followup/internal/store"
)

// Error kinds surfaced by the write API. The store and compiler own the
// sentinels whose checks run inside their transactions; they are re-exported
// here so callers depend on one package.
var (
	// ErrInvalidRule marks a malformed schedule rule.
	ErrInvalidRule = schedule.ErrInvalidRule

	// ErrAlreadyFinalized marks a rule install on a finalized or ever-sent
	// followup.
	ErrAlreadyFinalized = store.ErrAlreadyFinalized

	// ErrNotFound marks a missing or foreign-owned row.
	ErrNotFound = store.ErrNotFound

	// ErrContactMissing marks a followup whose delivery channel has no
	// usable contact field.
	ErrContactMissing = errors.New("contact missing")
)
