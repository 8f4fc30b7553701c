package moderation

import (
	"context"
	"time"

	"groupwarden/internal/storage"
)

// Tracker is the per-(user, group) strike ledger. The message id is the
// idempotency key: replaying a violation for a message already recorded
// changes nothing.
type Tracker struct {
	store  *storage.Store
	window time.Duration
}

func NewTracker(store *storage.Store, window time.Duration) *Tracker {
	return &Tracker{store: store, window: window}
}

// Record appends a violation at now and returns the strike count within
// the active window. duplicate is true when the message id was seen
// before. now comes from the triggering event so counts are reproducible.
func (t *Tracker) Record(ctx context.Context, groupID, userID int64, messageID int, kind string, severity int, now time.Time) (int, bool, error) {
	return t.store.RecordViolation(ctx, groupID, userID, messageID, kind, severity, t.window, now)
}

func (t *Tracker) State(ctx context.Context, groupID, userID int64) (storage.ModerationState, error) {
	return t.store.GetModerationState(ctx, groupID, userID)
}

// Advance moves the stored punishment state to target if and only if
// target is more severe. The machine never downgrades; admin commands
// use Reset or SetState directly.
func (t *Tracker) Advance(ctx context.Context, groupID, userID int64, target string) error {
	current, err := t.store.GetModerationState(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if stateRank[target] <= stateRank[current.State] {
		return nil
	}
	return t.store.SetModerationStateName(ctx, groupID, userID, target)
}

// Reset is the explicit admin transition back to Clean from any state.
func (t *Tracker) Reset(ctx context.Context, groupID, userID int64) error {
	return t.store.ResetModerationState(ctx, groupID, userID)
}

func (t *Tracker) SetState(ctx context.Context, groupID, userID int64, state string) error {
	return t.store.SetModerationStateName(ctx, groupID, userID, state)
}
