package moderation

import (
	"context"
	"strconv"
	"strings"
	"time"

	"groupwarden/internal/metrics"
	"groupwarden/internal/modules/audit"
	"groupwarden/internal/settings"
	"groupwarden/internal/storage"
)

// Admin operations. Every method takes the caller's resolved group role
// and refuses non-operators before touching state.

func (e *Engine) Ban(ctx context.Context, role settings.Role, adminID, groupID, userID int64, reason string) (*EnforcementAction, error) {
	if !role.Operator() {
		return nil, ErrPermissionDenied
	}
	if reason == "" {
		reason = "manual"
	}

	action := &EnforcementAction{
		Kind:     ActionBan,
		UserID:   userID,
		GroupID:  groupID,
		Reason:   reason,
		IssuedAt: e.clock.Now(),
	}
	if err := e.store.AddEnforcement(ctx, storage.Enforcement{
		GroupID:  groupID,
		UserID:   userID,
		Kind:     string(ActionBan),
		Reason:   reason,
		IssuedAt: action.IssuedAt,
	}); err != nil {
		return nil, err
	}
	if err := e.tracker.Advance(ctx, groupID, userID, StateBanned); err != nil {
		return nil, err
	}

	metrics.EnforcementsTotal.WithLabelValues(string(ActionBan)).Inc()
	e.audit.Log(ctx, audit.LevelCrit, groupID, adminID, "admin_ban", banDetail(userID, reason))
	return action, nil
}

func (e *Engine) Unban(ctx context.Context, role settings.Role, adminID, groupID, userID int64) error {
	if !role.Operator() {
		return ErrPermissionDenied
	}
	found, err := e.store.DeactivateEnforcement(ctx, groupID, userID, string(ActionBan))
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if err := e.demote(ctx, groupID, userID, StateBanned); err != nil {
		return err
	}
	e.audit.Log(ctx, audit.LevelInfo, groupID, adminID, "admin_unban", banDetail(userID, ""))
	return nil
}

func (e *Engine) Mute(ctx context.Context, role settings.Role, adminID, groupID, userID int64, duration time.Duration, reason string) (*EnforcementAction, error) {
	if !role.Operator() {
		return nil, ErrPermissionDenied
	}
	if duration <= 0 {
		return nil, validationf("mute duration must be positive")
	}
	if reason == "" {
		reason = "manual"
	}

	action := &EnforcementAction{
		Kind:     ActionMute,
		UserID:   userID,
		GroupID:  groupID,
		Reason:   reason,
		IssuedAt: e.clock.Now(),
		Duration: duration,
	}
	expires := action.IssuedAt.Add(duration)
	if err := e.store.AddEnforcement(ctx, storage.Enforcement{
		GroupID:   groupID,
		UserID:    userID,
		Kind:      string(ActionMute),
		Reason:    reason,
		IssuedAt:  action.IssuedAt,
		ExpiresAt: &expires,
	}); err != nil {
		return nil, err
	}
	if err := e.tracker.Advance(ctx, groupID, userID, StateMuted); err != nil {
		return nil, err
	}

	metrics.EnforcementsTotal.WithLabelValues(string(ActionMute)).Inc()
	e.audit.Log(ctx, audit.LevelWarn, groupID, adminID, "admin_mute", banDetail(userID, reason))
	return action, nil
}

func (e *Engine) Unmute(ctx context.Context, role settings.Role, adminID, groupID, userID int64) error {
	if !role.Operator() {
		return ErrPermissionDenied
	}
	found, err := e.store.DeactivateEnforcement(ctx, groupID, userID, string(ActionMute))
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if err := e.demote(ctx, groupID, userID, StateMuted); err != nil {
		return err
	}
	e.audit.Log(ctx, audit.LevelInfo, groupID, adminID, "admin_unmute", banDetail(userID, ""))
	return nil
}

// ResetStrikes clears a user's strike count and returns the machine to
// the clean state. Past enforcement records stay on file.
func (e *Engine) ResetStrikes(ctx context.Context, role settings.Role, adminID, groupID, userID int64) error {
	if !role.Operator() {
		return ErrPermissionDenied
	}
	if err := e.tracker.Reset(ctx, groupID, userID); err != nil {
		return err
	}
	e.audit.Log(ctx, audit.LevelInfo, groupID, adminID, "admin_reset_strikes", banDetail(userID, ""))
	return nil
}

func (e *Engine) AddWord(ctx context.Context, role settings.Role, adminID, groupID int64, word string) error {
	if !role.Operator() {
		return ErrPermissionDenied
	}
	if strings.TrimSpace(word) == "" {
		return validationf("word must not be empty")
	}
	if err := e.words.AddWord(ctx, groupID, word); err != nil {
		return err
	}
	e.audit.Log(ctx, audit.LevelInfo, groupID, adminID, "admin_add_word", word)
	return nil
}

func (e *Engine) RemoveWord(ctx context.Context, role settings.Role, adminID, groupID int64, word string) error {
	if !role.Operator() {
		return ErrPermissionDenied
	}
	removed, err := e.words.RemoveWord(ctx, groupID, word)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFound
	}
	e.audit.Log(ctx, audit.LevelInfo, groupID, adminID, "admin_remove_word", word)
	return nil
}

func (e *Engine) WordList(ctx context.Context, role settings.Role, groupID int64) ([]string, error) {
	if !role.Operator() {
		return nil, ErrPermissionDenied
	}
	return e.words.Words(ctx, groupID)
}

func (e *Engine) BanList(ctx context.Context, role settings.Role, groupID int64) ([]storage.Enforcement, error) {
	if !role.Operator() {
		return nil, ErrPermissionDenied
	}
	return e.store.ListActiveEnforcements(ctx, groupID, string(ActionBan), e.clock.Now())
}

func (e *Engine) MuteList(ctx context.Context, role settings.Role, groupID int64) ([]storage.Enforcement, error) {
	if !role.Operator() {
		return nil, ErrPermissionDenied
	}
	return e.store.ListActiveEnforcements(ctx, groupID, string(ActionMute), e.clock.Now())
}

// demote steps the machine back after a manual lift. Strikes are kept:
// lifting a mute is not forgiveness, only /clearwarnings is.
func (e *Engine) demote(ctx context.Context, groupID, userID int64, from string) error {
	state, err := e.tracker.State(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if state.State != from {
		return nil
	}
	return e.tracker.SetState(ctx, groupID, userID, StateWarned)
}

func banDetail(userID int64, reason string) string {
	detail := "target=" + strconv.FormatInt(userID, 10)
	if reason != "" {
		detail += " reason=" + reason
	}
	return detail
}
