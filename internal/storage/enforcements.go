package storage

import (
	"context"
	"database/sql"
	"time"
)

type Enforcement struct {
	ID        int64
	GroupID   int64
	UserID    int64
	Kind      string
	Reason    string
	IssuedAt  time.Time
	ExpiresAt *time.Time
	Active    bool
}

func (s *Store) AddEnforcement(ctx context.Context, e Enforcement) error {
	var expires any
	if e.ExpiresAt != nil {
		expires = e.ExpiresAt.Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enforcements (group_id, user_id, kind, reason, issued_at, expires_at, active)
		VALUES (?, ?, ?, ?, ?, ?, 1)
	`, e.GroupID, e.UserID, e.Kind, e.Reason, e.IssuedAt.Unix(), expires)
	return err
}

// DeactivateEnforcement clears active records of one kind for a user and
// reports whether any existed.
func (s *Store) DeactivateEnforcement(ctx context.Context, groupID, userID int64, kind string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE enforcements SET active = 0
		WHERE group_id = ? AND user_id = ? AND kind = ? AND active = 1
	`, groupID, userID, kind)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListActiveEnforcements returns the active records of one kind for a
// group. Timed records past their expiry are deactivated on the way so
// mute lists never show stale entries.
func (s *Store) ListActiveEnforcements(ctx context.Context, groupID int64, kind string, now time.Time) ([]Enforcement, error) {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE enforcements SET active = 0
		WHERE group_id = ? AND kind = ? AND active = 1 AND expires_at IS NOT NULL AND expires_at <= ?
	`, groupID, kind, now.Unix()); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, user_id, kind, reason, issued_at, expires_at, active
		FROM enforcements
		WHERE group_id = ? AND kind = ? AND active = 1
		ORDER BY issued_at DESC
	`, groupID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Enforcement
	for rows.Next() {
		var e Enforcement
		var issuedAt int64
		var expiresAt sql.NullInt64
		var active int
		if err := rows.Scan(&e.ID, &e.GroupID, &e.UserID, &e.Kind, &e.Reason, &issuedAt, &expiresAt, &active); err != nil {
			return nil, err
		}
		e.IssuedAt = time.Unix(issuedAt, 0)
		if expiresAt.Valid {
			value := time.Unix(expiresAt.Int64, 0)
			e.ExpiresAt = &value
		}
		e.Active = active == 1
		list = append(list, e)
	}
	return list, rows.Err()
}

// HasActiveEnforcement re-checks expiry against now instead of trusting
// the active flag.
func (s *Store) HasActiveEnforcement(ctx context.Context, groupID, userID int64, kind string, now time.Time) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM enforcements
		WHERE group_id = ? AND user_id = ? AND kind = ? AND active = 1
		AND (expires_at IS NULL OR expires_at > ?)
	`, groupID, userID, kind, now.Unix())

	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
