// Package occupancy reconstructs who is inside a monitored zone from the
// trigger history of the current billing period.
package occupancy

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/septivank/occupancy-billing-worker/internal/db"
)

// ErrUnexpectedCount means the ledger holds an ENTER/LEAVE imbalance that
// alternation cannot produce.
var ErrUnexpectedCount = errors.New("unexpected trigger count")

// Count holds the number of ENTER and LEAVE entries of one user
type Count struct {
	Enter int
	Leave int
}

// Inside reports whether the user has entered more often than left
func (c Count) Inside() bool {
	return c.Enter > c.Leave
}

// Tally is the per-user ENTER/LEAVE count of one billing period
type Tally struct {
	counts map[uuid.UUID]Count
}

// NewTally counts rows in a single pass
func NewTally(rows []db.UserTrigger) Tally {
	counts := make(map[uuid.UUID]Count)
	for _, row := range rows {
		c := counts[row.UserID]
		switch row.Type {
		case db.TriggerEnter:
			c.Enter++
		case db.TriggerLeave:
			c.Leave++
		}
		counts[row.UserID] = c
	}
	return Tally{counts: counts}
}

// Count returns the tally of a single user
func (t Tally) Count(userID uuid.UUID) Count {
	return t.counts[userID]
}

// Direction infers the next transition of a user: ENTER when the user has no
// entries or is balanced, LEAVE otherwise.
func (t Tally) Direction(userID uuid.UUID) db.TriggerType {
	c, ok := t.counts[userID]
	if !ok || c.Enter == c.Leave {
		return db.TriggerEnter
	}
	return db.TriggerLeave
}

// Occupants returns how many users are currently inside
func (t Tally) Occupants() int {
	n := 0
	for _, c := range t.counts {
		if c.Inside() {
			n++
		}
	}
	return n
}

// IsLastOccupant reports whether userID leaving empties the zone.
// It is evaluated before the LEAVE entry is recorded: every user must be
// balanced or inside by exactly one, and userID must be the only one inside.
func (t Tally) IsLastOccupant(userID uuid.UUID) (bool, error) {
	inside := 0
	leaverInside := false

	for id, c := range t.counts {
		switch c.Enter - c.Leave {
		case 0:
		case 1:
			inside++
			if id == userID {
				leaverInside = true
			}
		default:
			return false, fmt.Errorf("%w: user %s has %d ENTER and %d LEAVE", ErrUnexpectedCount, id, c.Enter, c.Leave)
		}
	}

	if !leaverInside {
		return false, fmt.Errorf("%w: user %s is not inside", ErrUnexpectedCount, userID)
	}

	return inside == 1, nil
}
