package agent

import (
	"time"

	"github.com/lnagent/lnagent/internal/core/engine"
	errwrap "github.com/lnagent/lnagent/internal/errors"
)

// Policy translates an observed outcome into backoff state changes.
type Policy struct {
	// PermanentCooldown is the minimum block after a permanent or auth failure.
	PermanentCooldown time.Duration
	// ToolErrorsTrip makes tool-reported failures advance the backoff
	// instead of counting as a healthy round trip.
	ToolErrorsTrip bool
}

// Apply updates b for the request identified by key. A nil err is a success.
// It returns the block duration that was applied, zero when none.
func (p Policy) Apply(b *engine.Backoff, key uint64, err error) time.Duration {
	if b == nil {
		return 0
	}
	if err == nil {
		b.NoteSuccess()
		return 0
	}

	hint := errwrap.RetryAfterOf(err)
	switch errwrap.KindOf(err) {
	case errwrap.KindInvalidRequest:
		return 0
	case errwrap.KindRateLimited, errwrap.KindTransientInfra, errwrap.KindWorkerUnavailable:
		return b.NoteFailure(key, hint)
	case errwrap.KindPermanentInfra, errwrap.KindAuthFailure:
		return b.NoteFailure(key, max(p.PermanentCooldown, hint))
	case errwrap.KindToolError:
		if p.ToolErrorsTrip {
			return b.NoteFailure(key, hint)
		}
		b.NoteSuccess()
		return 0
	default:
		return b.NoteFailure(key, 0)
	}
}
