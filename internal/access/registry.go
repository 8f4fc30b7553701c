// Package access implements the tiered permission model: a base level
// per user plus grantable, auto-expiring temporary feature grants.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"groupwarden/internal/modules/audit"
	"groupwarden/internal/storage"

	"go.uber.org/zap"
)

var ErrDenied = errors.New("access: permission denied")

type Level string

const (
	LevelBasic   Level = "basic"
	LevelPremium Level = "premium"
	LevelVIP     Level = "vip"
	LevelAdmin   Level = "admin"
)

var levelRank = map[Level]int{
	LevelBasic:   0,
	LevelPremium: 1,
	LevelVIP:     2,
	LevelAdmin:   3,
}

var levelFeatures = map[Level][]string{
	LevelBasic:   {"chat", "wiki", "translate", "download", "crypto", "accessibility", "voice", "advanced_features"},
	LevelPremium: {"chat", "wiki", "translate", "download", "crypto", "accessibility", "voice", "advanced_features", "free_sms"},
	LevelVIP:     {"chat", "wiki", "translate", "download", "crypto", "accessibility", "voice", "advanced_features", "free_sms", "premium_tools"},
}

func ParseLevel(value string) (Level, error) {
	level := Level(value)
	if _, ok := levelRank[level]; !ok {
		return "", fmt.Errorf("unknown access level %q", value)
	}
	return level, nil
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Registry struct {
	store     *storage.Store
	audit     *audit.Logger
	logger    *zap.Logger
	clock     Clock
	rootAdmin int64
}

func NewRegistry(store *storage.Store, auditLogger *audit.Logger, logger *zap.Logger, rootAdmin int64) *Registry {
	return &Registry{
		store:     store,
		audit:     auditLogger,
		logger:    logger,
		clock:     realClock{},
		rootAdmin: rootAdmin,
	}
}

func (r *Registry) WithClock(clock Clock) {
	r.clock = clock
}

// Grant raises a user's permission level, permanently when duration is
// zero or as a time-boxed level grant otherwise. Admin-only. A grant
// below the user's current level never demotes; the maximum ever granted
// is kept until an explicit Revoke.
func (r *Registry) Grant(ctx context.Context, adminID, userID int64, level Level, duration time.Duration) error {
	if _, ok := levelRank[level]; !ok {
		return fmt.Errorf("unknown access level %q", level)
	}
	if !r.isAdmin(ctx, adminID) {
		return ErrDenied
	}

	now := r.clock.Now()
	if duration > 0 {
		expires := now.Add(duration)
		if err := r.store.AddGrant(ctx, storage.AccessGrant{
			UserID:    userID,
			Kind:      storage.GrantKindLevel,
			Value:     string(level),
			GrantedBy: adminID,
			GrantedAt: now,
			ExpiresAt: &expires,
		}); err != nil {
			return err
		}
	} else {
		current, err := r.baseLevel(ctx, userID)
		if err != nil {
			return err
		}
		if levelRank[level] > levelRank[current] {
			if err := r.store.SetUserLevel(ctx, userID, string(level)); err != nil {
				return err
			}
		}
	}

	r.audit.Log(ctx, audit.LevelInfo, 0, userID, "grant_access", fmt.Sprintf("level=%s by=%d", level, adminID))
	return nil
}

// GrantTemporary creates a time-boxed feature grant independent of the
// user's base level. Admin-only.
func (r *Registry) GrantTemporary(ctx context.Context, adminID, userID int64, feature string, duration time.Duration) error {
	if !r.isAdmin(ctx, adminID) {
		return ErrDenied
	}
	if duration <= 0 {
		return fmt.Errorf("grant duration must be positive")
	}

	now := r.clock.Now()
	expires := now.Add(duration)
	err := r.store.AddGrant(ctx, storage.AccessGrant{
		UserID:    userID,
		Kind:      storage.GrantKindFeature,
		Value:     feature,
		GrantedBy: adminID,
		GrantedAt: now,
		ExpiresAt: &expires,
	})
	if err != nil {
		return err
	}

	r.audit.Log(ctx, audit.LevelInfo, 0, userID, "temp_access", fmt.Sprintf("feature=%s until=%s by=%d", feature, expires.Format(time.RFC3339), adminID))
	return nil
}

// Revoke clears all grants and the base level, returning the user to
// basic. Admin-only.
func (r *Registry) Revoke(ctx context.Context, adminID, userID int64) error {
	if !r.isAdmin(ctx, adminID) {
		return ErrDenied
	}
	if err := r.store.RevokeGrants(ctx, userID); err != nil {
		return err
	}
	if err := r.store.DeleteUserLevel(ctx, userID); err != nil {
		return err
	}

	r.audit.Log(ctx, audit.LevelInfo, 0, userID, "revoke_access", fmt.Sprintf("by=%d", adminID))
	return nil
}

// EffectiveLevel is the highest non-expired level applicable right now.
// Reading drops expired grants as a side effect.
func (r *Registry) EffectiveLevel(ctx context.Context, userID int64) (Level, error) {
	if userID == r.rootAdmin && r.rootAdmin != 0 {
		return LevelAdmin, nil
	}

	level, err := r.baseLevel(ctx, userID)
	if err != nil {
		return LevelBasic, err
	}

	grants, err := r.store.ListGrants(ctx, userID, r.clock.Now())
	if err != nil {
		return LevelBasic, err
	}
	for _, grant := range grants {
		if grant.Kind != storage.GrantKindLevel {
			continue
		}
		if granted, err := ParseLevel(grant.Value); err == nil && levelRank[granted] > levelRank[level] {
			level = granted
		}
	}
	return level, nil
}

// Check reports whether the user may use a feature. It fails closed:
// any registry read error denies.
func (r *Registry) Check(ctx context.Context, userID int64, feature string) bool {
	level, err := r.EffectiveLevel(ctx, userID)
	if err != nil {
		r.logger.Warn("access check failed closed", zap.Int64("user_id", userID), zap.String("feature", feature), zap.Error(err))
		return false
	}
	if level == LevelAdmin {
		return true
	}
	for _, allowed := range levelFeatures[level] {
		if allowed == feature {
			return true
		}
	}

	grants, err := r.store.ListGrants(ctx, userID, r.clock.Now())
	if err != nil {
		r.logger.Warn("access check failed closed", zap.Int64("user_id", userID), zap.String("feature", feature), zap.Error(err))
		return false
	}
	for _, grant := range grants {
		if grant.Kind == storage.GrantKindFeature && grant.Value == feature {
			return true
		}
	}
	return false
}

// Describe returns the user's level and active temporary grants for the
// check_access command.
func (r *Registry) Describe(ctx context.Context, userID int64) (Level, []storage.AccessGrant, error) {
	level, err := r.EffectiveLevel(ctx, userID)
	if err != nil {
		return LevelBasic, nil, err
	}
	grants, err := r.store.ListGrants(ctx, userID, r.clock.Now())
	if err != nil {
		return level, nil, err
	}
	return level, grants, nil
}

func (r *Registry) ListAll(ctx context.Context) ([]storage.AccessGrant, error) {
	return r.store.ListAllGrants(ctx, r.clock.Now())
}

// Sweep deletes expired grants. Reads already ignore expired grants;
// this is periodic hygiene only.
func (r *Registry) Sweep(ctx context.Context) error {
	return r.store.DeleteExpiredGrants(ctx, r.clock.Now())
}

func (r *Registry) isAdmin(ctx context.Context, userID int64) bool {
	level, err := r.EffectiveLevel(ctx, userID)
	if err != nil {
		return false
	}
	return level == LevelAdmin
}

func (r *Registry) baseLevel(ctx context.Context, userID int64) (Level, error) {
	stored, err := r.store.GetUserLevel(ctx, userID)
	if err != nil {
		return LevelBasic, err
	}
	if stored == "" {
		return LevelBasic, nil
	}
	level, err := ParseLevel(stored)
	if err != nil {
		return LevelBasic, nil
	}
	return level, nil
}
