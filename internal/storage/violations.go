package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type ModerationState struct {
	GroupID     int64
	UserID      int64
	State       string
	StrikeCount int
	LastAt      time.Time
	ResetAt     *time.Time
}

// RecordViolation appends one violation and bumps the per-(group,user)
// strike count. The window is anchored at the first strike: reset_at is
// set once per window and a violation at or past it restarts the count
// at one. Replays of a message id are discarded: the stored count is
// returned with duplicate=true and no state change.
func (s *Store) RecordViolation(ctx context.Context, groupID, userID int64, messageID int, kind string, severity int, window time.Duration, now time.Time) (count int, duplicate bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO violations (group_id, user_id, message_id, kind, severity, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, groupID, userID, messageID, kind, severity, now.Unix())
	if err != nil {
		return 0, false, err
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if inserted == 0 {
		var current int
		row := tx.QueryRowContext(ctx, `
			SELECT strike_count FROM moderation_state WHERE group_id = ? AND user_id = ?
		`, groupID, userID)
		if scanErr := row.Scan(&current); scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
			err = scanErr
			return 0, false, err
		}
		if err = tx.Commit(); err != nil {
			return 0, false, err
		}
		return current, true, nil
	}

	var resetAt sql.NullInt64
	row := tx.QueryRowContext(ctx, `
		SELECT strike_count, reset_at FROM moderation_state WHERE group_id = ? AND user_id = ?
	`, groupID, userID)
	scanErr := row.Scan(&count, &resetAt)
	if scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
		err = scanErr
		return 0, false, err
	}
	if scanErr == nil && resetAt.Valid && now.Unix() >= resetAt.Int64 {
		count = 0
	}

	count++
	var nextReset any
	if count > 1 && resetAt.Valid {
		nextReset = resetAt.Int64
	} else if window > 0 {
		nextReset = now.Add(window).Unix()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO moderation_state (group_id, user_id, state, strike_count, last_at, reset_at)
		VALUES (?, ?, 'clean', ?, ?, ?)
		ON CONFLICT(group_id, user_id) DO UPDATE SET
			strike_count = excluded.strike_count,
			last_at = excluded.last_at,
			reset_at = excluded.reset_at
	`, groupID, userID, count, now.Unix(), nextReset)
	if err != nil {
		return 0, false, err
	}
	if err = tx.Commit(); err != nil {
		return 0, false, err
	}
	return count, false, nil
}

func (s *Store) GetModerationState(ctx context.Context, groupID, userID int64) (ModerationState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT group_id, user_id, state, strike_count, last_at, reset_at
		FROM moderation_state
		WHERE group_id = ? AND user_id = ?
	`, groupID, userID)

	var state ModerationState
	var lastAt int64
	var resetAt sql.NullInt64
	err := row.Scan(&state.GroupID, &state.UserID, &state.State, &state.StrikeCount, &lastAt, &resetAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ModerationState{GroupID: groupID, UserID: userID, State: "clean"}, nil
		}
		return ModerationState{}, err
	}
	state.LastAt = time.Unix(lastAt, 0)
	if resetAt.Valid {
		value := time.Unix(resetAt.Int64, 0)
		state.ResetAt = &value
	}
	return state, nil
}

func (s *Store) SetModerationStateName(ctx context.Context, groupID, userID int64, state string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO moderation_state (group_id, user_id, state, strike_count, last_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(group_id, user_id) DO UPDATE SET state = excluded.state
	`, groupID, userID, state, time.Now().Unix())
	return err
}

// ResetModerationState is the admin strike reset: back to clean with a
// zero count. The violation log is kept for auditing.
func (s *Store) ResetModerationState(ctx context.Context, groupID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE moderation_state
		SET state = 'clean', strike_count = 0, reset_at = NULL
		WHERE group_id = ? AND user_id = ?
	`, groupID, userID)
	return err
}
