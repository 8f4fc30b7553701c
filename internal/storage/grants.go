package storage

import (
	"context"
	"database/sql"
	"time"
)

const (
	GrantKindLevel   = "level"
	GrantKindFeature = "feature"
)

type AccessGrant struct {
	ID        int64
	UserID    int64
	Kind      string
	Value     string
	GrantedBy int64
	GrantedAt time.Time
	ExpiresAt *time.Time
}

func (s *Store) AddGrant(ctx context.Context, grant AccessGrant) error {
	var expires any
	if grant.ExpiresAt != nil {
		expires = grant.ExpiresAt.Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_grants (user_id, kind, value, granted_by, granted_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, grant.UserID, grant.Kind, grant.Value, grant.GrantedBy, grant.GrantedAt.Unix(), expires)
	return err
}

// ListGrants returns the user's non-expired grants and lazily deletes
// expired ones on the way.
func (s *Store) ListGrants(ctx context.Context, userID int64, now time.Time) ([]AccessGrant, error) {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM access_grants WHERE user_id = ? AND expires_at IS NOT NULL AND expires_at <= ?
	`, userID, now.Unix()); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, value, granted_by, granted_at, expires_at
		FROM access_grants
		WHERE user_id = ?
		ORDER BY granted_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows, now)
}

func (s *Store) ListAllGrants(ctx context.Context, now time.Time) ([]AccessGrant, error) {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM access_grants WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, now.Unix()); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, value, granted_by, granted_at, expires_at
		FROM access_grants
		ORDER BY user_id, granted_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows, now)
}

func (s *Store) RevokeGrants(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM access_grants WHERE user_id = ?`, userID)
	return err
}

func (s *Store) DeleteExpiredGrants(ctx context.Context, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM access_grants WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, now.Unix())
	return err
}

func scanGrants(rows *sql.Rows, now time.Time) ([]AccessGrant, error) {
	var grants []AccessGrant
	for rows.Next() {
		var grant AccessGrant
		var grantedAt int64
		var expiresAt sql.NullInt64
		if err := rows.Scan(&grant.ID, &grant.UserID, &grant.Kind, &grant.Value, &grant.GrantedBy, &grantedAt, &expiresAt); err != nil {
			return nil, err
		}
		grant.GrantedAt = time.Unix(grantedAt, 0)
		if expiresAt.Valid {
			value := time.Unix(expiresAt.Int64, 0)
			grant.ExpiresAt = &value
			// expiry re-checked on every read, the delete above is
			// best-effort hygiene
			if !now.Before(value) {
				continue
			}
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}
