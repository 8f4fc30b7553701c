package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

type AuditLog struct {
	ID        int64
	GroupID   int64
	UserID    int64
	Level     string
	Event     string
	Details   string
	CreatedAt time.Time
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; a single connection avoids busy errors
	// under concurrent moderation checks.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Migrate() error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}
	return nil
}

// GetUserLevel returns the stored base level, or "" when the user has no
// record yet.
func (s *Store) GetUserLevel(ctx context.Context, userID int64) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT level FROM users WHERE user_id = ?`, userID)

	var level string
	if err := row.Scan(&level); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return level, nil
}

func (s *Store) SetUserLevel(ctx context.Context, userID int64, level string) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, level, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			level = excluded.level,
			updated_at = excluded.updated_at
	`, userID, level, now, now)
	return err
}

func (s *Store) DeleteUserLevel(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE user_id = ?`, userID)
	return err
}

// GetGroupFeatures loads the persisted flag rows for a group. Missing
// features are absent from the map; the settings layer fills defaults.
func (s *Store) GetGroupFeatures(ctx context.Context, groupID int64) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT feature, enabled FROM group_settings WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	features := make(map[string]bool)
	for rows.Next() {
		var feature string
		var enabled int
		if err := rows.Scan(&feature, &enabled); err != nil {
			return nil, err
		}
		features[feature] = enabled == 1
	}
	return features, rows.Err()
}

func (s *Store) SetGroupFeature(ctx context.Context, groupID int64, feature string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_settings (group_id, feature, enabled, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(group_id, feature) DO UPDATE SET
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, groupID, feature, boolToInt(enabled), time.Now().Unix())
	return err
}

// SeedGroupFeatures writes the default flag rows for a group without
// overwriting flags an admin already toggled.
func (s *Store) SeedGroupFeatures(ctx context.Context, groupID int64, defaults map[string]bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().Unix()
	for feature, enabled := range defaults {
		if _, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO group_settings (group_id, feature, enabled, updated_at)
			VALUES (?, ?, ?, ?)
		`, groupID, feature, boolToInt(enabled), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListGroupIDs returns every group the bot has materialized settings
// for, which is every group it has ever seen.
func (s *Store) ListGroupIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT group_id FROM group_settings ORDER BY group_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) AddAuditLog(ctx context.Context, log AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (group_id, user_id, level, event, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, log.GroupID, log.UserID, log.Level, log.Event, log.Details, log.CreatedAt.Unix())
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, groupID int64, since time.Time) ([]AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, user_id, level, event, details, created_at
		FROM audit_logs
		WHERE group_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`, groupID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var log AuditLog
		var created int64
		if err := rows.Scan(&log.ID, &log.GroupID, &log.UserID, &log.Level, &log.Event, &log.Details, &created); err != nil {
			return nil, err
		}
		log.CreatedAt = time.Unix(created, 0)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *Store) CleanupAuditLogs(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	_, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < ?`, cutoff.Unix())
	return err
}

func (s *Store) AddBannedWord(ctx context.Context, groupID int64, word string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO banned_words (group_id, word) VALUES (?, ?)`, groupID, strings.ToLower(word))
	return err
}

// RemoveBannedWord reports whether the word was present.
func (s *Store) RemoveBannedWord(ctx context.Context, groupID int64, word string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM banned_words WHERE group_id = ? AND word = ?`, groupID, strings.ToLower(word))
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) ListBannedWords(ctx context.Context, groupID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT word FROM banned_words WHERE group_id = ? ORDER BY word`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var words []string
	for rows.Next() {
		var word string
		if err := rows.Scan(&word); err != nil {
			return nil, err
		}
		words = append(words, word)
	}
	return words, rows.Err()
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}
