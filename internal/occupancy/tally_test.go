package occupancy_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/septivank/occupancy-billing-worker/internal/db"
	"github.com/septivank/occupancy-billing-worker/internal/occupancy"
)

type entry struct {
	user uuid.UUID
	typ  db.TriggerType
}

func rows(entries ...entry) []db.UserTrigger {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	out := make([]db.UserTrigger, 0, len(entries))
	for i, e := range entries {
		out = append(out, db.UserTrigger{
			ID:        uuid.New(),
			UserID:    e.user,
			Type:      e.typ,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func TestDirection(t *testing.T) {
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()

	tally := occupancy.NewTally(rows(
		entry{alice, db.TriggerEnter},
		entry{bob, db.TriggerEnter},
		entry{bob, db.TriggerLeave},
	))

	if got := tally.Direction(alice); got != db.TriggerLeave {
		t.Errorf("alice: expected LEAVE, got %s", got)
	}
	if got := tally.Direction(bob); got != db.TriggerEnter {
		t.Errorf("bob: expected ENTER (re-entering), got %s", got)
	}
	if got := tally.Direction(carol); got != db.TriggerEnter {
		t.Errorf("carol: expected ENTER (no rows), got %s", got)
	}
	if got := tally.Occupants(); got != 1 {
		t.Errorf("expected 1 occupant, got %d", got)
	}
	if c := tally.Count(bob); c.Enter != 1 || c.Leave != 1 {
		t.Errorf("bob: unexpected count %+v", c)
	}
}

func TestIsLastOccupant(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()

	tests := []struct {
		name    string
		rows    []db.UserTrigger
		leaver  uuid.UUID
		want    bool
		wantErr error
	}{
		{
			name:   "single occupant",
			rows:   rows(entry{alice, db.TriggerEnter}),
			leaver: alice,
			want:   true,
		},
		{
			name:   "other occupant remains",
			rows:   rows(entry{alice, db.TriggerEnter}, entry{bob, db.TriggerEnter}),
			leaver: bob,
			want:   false,
		},
		{
			name: "other occupant already left",
			rows: rows(
				entry{alice, db.TriggerEnter},
				entry{bob, db.TriggerEnter},
				entry{bob, db.TriggerLeave},
			),
			leaver: alice,
			want:   true,
		},
		{
			name:    "double enter",
			rows:    rows(entry{alice, db.TriggerEnter}, entry{alice, db.TriggerEnter}),
			leaver:  alice,
			wantErr: occupancy.ErrUnexpectedCount,
		},
		{
			name:    "leave without enter",
			rows:    rows(entry{alice, db.TriggerEnter}, entry{bob, db.TriggerLeave}),
			leaver:  alice,
			wantErr: occupancy.ErrUnexpectedCount,
		},
		{
			name:    "leaver not inside",
			rows:    rows(entry{alice, db.TriggerEnter}),
			leaver:  bob,
			wantErr: occupancy.ErrUnexpectedCount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := occupancy.NewTally(tt.rows).IsLastOccupant(tt.leaver)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
