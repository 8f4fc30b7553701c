package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	"groupwarden/internal/config"
	"groupwarden/internal/modules/audit"
	"groupwarden/internal/modules/screening"
	"groupwarden/internal/modules/spam"
	"groupwarden/internal/modules/wordfilter"
	"groupwarden/internal/ratelimit"
	"groupwarden/internal/settings"
	"groupwarden/internal/storage"

	"go.uber.org/zap"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestEngine(t *testing.T, cfg config.Config) (*Engine, *settings.Store, *fakeClock) {
	t.Helper()

	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := zap.NewNop()
	settingsStore := settings.NewStore(store)
	machine := NewMachine(cfg.Punishment)
	engine := NewEngine(
		settingsStore,
		ratelimit.NewMemoryLimiter(ratelimit.CeilingsFromConfig(cfg.RateLimits)),
		spam.New(cfg.Spam),
		wordfilter.New(store),
		screening.New(cfg.Screening),
		NewTracker(store, machine.Window()),
		machine,
		store,
		audit.NewLogger(store, logger),
		logger,
	)
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	engine.WithClock(clock)
	return engine, settingsStore, clock
}

func enableModeration(t *testing.T, store *settings.Store, groupID int64) {
	t.Helper()
	ctx := context.Background()
	for _, feature := range []string{
		settings.FeatureSpamProtection,
		settings.FeatureWordFiltering,
		settings.FeatureAutoModeration,
		settings.FeatureMemberScreening,
	} {
		if err := store.Set(ctx, groupID, feature, true, settings.RoleAdmin); err != nil {
			t.Fatalf("enable %s: %v", feature, err)
		}
	}
}

func memberEvent(groupID, userID int64, messageID int, text string, at time.Time) Event {
	return Event{
		UserID:    userID,
		GroupID:   groupID,
		Role:      settings.RoleMember,
		Username:  "carol",
		Text:      text,
		MessageID: messageID,
		Timestamp: at,
	}
}

func TestEscalationPath(t *testing.T) {
	engine, settingsStore, clock := newTestEngine(t, config.DefaultConfig())
	enableModeration(t, settingsStore, 10)
	ctx := context.Background()

	// first two identical messages are below the repeat threshold
	for id := 1; id <= 2; id++ {
		action, err := engine.CheckMessage(ctx, memberEvent(10, 7, id, "buy cheap coins now", clock.now))
		if err != nil {
			t.Fatalf("message %d: %v", id, err)
		}
		if action != nil {
			t.Fatalf("message %d: unexpected action %s", id, action.Kind)
		}
	}

	action, err := engine.CheckMessage(ctx, memberEvent(10, 7, 3, "buy cheap coins now", clock.now))
	if err != nil {
		t.Fatalf("strike 1: %v", err)
	}
	if action == nil || action.Kind != ActionWarn {
		t.Fatalf("strike 1: got %+v, want warn", action)
	}
	if action.Reason != spam.ReasonRepeatedContent {
		t.Fatalf("strike 1 reason = %q", action.Reason)
	}

	action, err = engine.CheckMessage(ctx, memberEvent(10, 7, 4, "buy cheap coins now", clock.now))
	if err != nil {
		t.Fatalf("strike 2: %v", err)
	}
	if action == nil || action.Kind != ActionMute {
		t.Fatalf("strike 2: got %+v, want mute", action)
	}
	if action.Duration != time.Hour {
		t.Fatalf("mute duration = %s, want 1h", action.Duration)
	}

	muted, err := engine.IsMuted(ctx, 10, 7)
	if err != nil || !muted {
		t.Fatalf("IsMuted = %v, %v, want true", muted, err)
	}

	action, err = engine.CheckMessage(ctx, memberEvent(10, 7, 5, "buy cheap coins now", clock.now))
	if err != nil {
		t.Fatalf("strike 3: %v", err)
	}
	if action == nil || action.Kind != ActionBan {
		t.Fatalf("strike 3: got %+v, want ban", action)
	}
}

func TestDuplicateMessageIsNoOp(t *testing.T) {
	engine, settingsStore, clock := newTestEngine(t, config.DefaultConfig())
	enableModeration(t, settingsStore, 10)
	ctx := context.Background()

	for id := 1; id <= 3; id++ {
		if _, err := engine.CheckMessage(ctx, memberEvent(10, 7, id, "same text", clock.now)); err != nil {
			t.Fatalf("message %d: %v", id, err)
		}
	}

	// replaying the flagged message must not add a strike or escalate
	action, err := engine.CheckMessage(ctx, memberEvent(10, 7, 3, "same text", clock.now))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if action != nil {
		t.Fatalf("replay produced action %s", action.Kind)
	}

	state, err := NewTracker(mustStore(t, engine), 24*time.Hour).State(ctx, 10, 7)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.StrikeCount != 1 {
		t.Fatalf("strike count = %d, want 1", state.StrikeCount)
	}
}

func TestDisabledFeaturesShortCircuit(t *testing.T) {
	engine, _, clock := newTestEngine(t, config.DefaultConfig())
	ctx := context.Background()

	// defaults leave spam_protection and word_filtering off
	for id := 1; id <= 5; id++ {
		action, err := engine.CheckMessage(ctx, memberEvent(10, 7, id, "same text", clock.now))
		if err != nil {
			t.Fatalf("message %d: %v", id, err)
		}
		if action != nil {
			t.Fatalf("message %d: unexpected action %s", id, action.Kind)
		}
	}
}

func TestOperatorsAreExempt(t *testing.T) {
	engine, settingsStore, clock := newTestEngine(t, config.DefaultConfig())
	enableModeration(t, settingsStore, 10)
	ctx := context.Background()

	for id := 1; id <= 5; id++ {
		event := memberEvent(10, 7, id, "same text", clock.now)
		event.Role = settings.RoleAdmin
		action, err := engine.CheckMessage(ctx, event)
		if err != nil {
			t.Fatalf("message %d: %v", id, err)
		}
		if action != nil {
			t.Fatalf("admin message %d triggered %s", id, action.Kind)
		}
	}
}

func TestAutoModerationOffCapsAtWarn(t *testing.T) {
	engine, settingsStore, clock := newTestEngine(t, config.DefaultConfig())
	ctx := context.Background()
	if err := settingsStore.Set(ctx, 10, settings.FeatureSpamProtection, true, settings.RoleAdmin); err != nil {
		t.Fatal(err)
	}

	var last *EnforcementAction
	for id := 1; id <= 5; id++ {
		action, err := engine.CheckMessage(ctx, memberEvent(10, 7, id, "same text", clock.now))
		if err != nil {
			t.Fatalf("message %d: %v", id, err)
		}
		if action != nil {
			last = action
		}
	}
	if last == nil || last.Kind != ActionWarn {
		t.Fatalf("got %+v, want repeated warns only", last)
	}
	if muted, _ := engine.IsMuted(ctx, 10, 7); muted {
		t.Fatal("user muted with auto_moderation off")
	}
}

func TestRateLimitedMessage(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimits.Message = config.Ceiling{Limit: 2, WindowSeconds: 60}
	engine, settingsStore, clock := newTestEngine(t, cfg)
	ctx := context.Background()
	if err := settingsStore.Set(ctx, 10, settings.FeatureSpamProtection, true, settings.RoleAdmin); err != nil {
		t.Fatal(err)
	}

	for id := 1; id <= 2; id++ {
		if _, err := engine.CheckMessage(ctx, memberEvent(10, 7, id, "hello", clock.now)); err != nil {
			t.Fatalf("message %d: %v", id, err)
		}
	}

	_, err := engine.CheckMessage(ctx, memberEvent(10, 7, 3, "hello", clock.now))
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("got %v, want RateLimitedError", err)
	}
	if limited.RetryAfter <= 0 || limited.RetryAfter > time.Minute {
		t.Fatalf("retry after = %s", limited.RetryAfter)
	}
}

func TestBannedWordWarns(t *testing.T) {
	engine, settingsStore, clock := newTestEngine(t, config.DefaultConfig())
	enableModeration(t, settingsStore, 10)
	ctx := context.Background()

	if err := engine.AddWord(ctx, settings.RoleAdmin, 1, 10, "casino"); err != nil {
		t.Fatalf("add word: %v", err)
	}

	action, err := engine.CheckMessage(ctx, memberEvent(10, 7, 1, "visit my CASINO tonight", clock.now))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if action == nil || action.Kind != ActionWarn {
		t.Fatalf("got %+v, want warn", action)
	}
	if action.Reason != "banned_word:casino" {
		t.Fatalf("reason = %q", action.Reason)
	}
}

func TestStrikesLapseAfterWindow(t *testing.T) {
	engine, settingsStore, clock := newTestEngine(t, config.DefaultConfig())
	enableModeration(t, settingsStore, 10)
	ctx := context.Background()

	if err := engine.AddWord(ctx, settings.RoleAdmin, 1, 10, "casino"); err != nil {
		t.Fatalf("add word: %v", err)
	}

	action, err := engine.CheckMessage(ctx, memberEvent(10, 7, 1, "visit the casino tonight", clock.now))
	if err != nil {
		t.Fatalf("first strike: %v", err)
	}
	if action == nil || action.Kind != ActionWarn {
		t.Fatalf("first strike: got %+v, want warn", action)
	}

	// a day of silence lets the strike window lapse, so the next
	// violation warns again instead of escalating to a mute
	clock.now = clock.now.Add(25 * time.Hour)
	action, err = engine.CheckMessage(ctx, memberEvent(10, 7, 2, "free casino chips", clock.now))
	if err != nil {
		t.Fatalf("strike after lapse: %v", err)
	}
	if action == nil || action.Kind != ActionWarn {
		t.Fatalf("strike after lapse: got %+v, want warn", action)
	}

	state, err := NewTracker(mustStore(t, engine), engine.machine.Window()).State(ctx, 10, 7)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.StrikeCount != 1 {
		t.Fatalf("strike count after lapse = %d, want 1", state.StrikeCount)
	}
}

func TestManualBanAndUnban(t *testing.T) {
	engine, _, _ := newTestEngine(t, config.DefaultConfig())
	ctx := context.Background()

	if _, err := engine.Ban(ctx, settings.RoleMember, 1, 10, 7, "spam"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("member ban: got %v, want permission denied", err)
	}
	if err := engine.Unban(ctx, settings.RoleAdmin, 1, 10, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unban before ban: got %v, want not found", err)
	}

	action, err := engine.Ban(ctx, settings.RoleAdmin, 1, 10, 7, "spam")
	if err != nil {
		t.Fatalf("ban: %v", err)
	}
	if action.Kind != ActionBan {
		t.Fatalf("kind = %s", action.Kind)
	}

	list, err := engine.BanList(ctx, settings.RoleAdmin, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("ban list = %v, %v", list, err)
	}

	if err := engine.Unban(ctx, settings.RoleAdmin, 1, 10, 7); err != nil {
		t.Fatalf("unban: %v", err)
	}
	list, err = engine.BanList(ctx, settings.RoleAdmin, 10)
	if err != nil || len(list) != 0 {
		t.Fatalf("ban list after unban = %v, %v", list, err)
	}
}

func TestMuteExpiresAndUnmuteKeepsStrikes(t *testing.T) {
	engine, _, clock := newTestEngine(t, config.DefaultConfig())
	ctx := context.Background()

	if _, err := engine.Mute(ctx, settings.RoleAdmin, 1, 10, 7, time.Hour, "noisy"); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if muted, _ := engine.IsMuted(ctx, 10, 7); !muted {
		t.Fatal("user should be muted")
	}

	clock.now = clock.now.Add(2 * time.Hour)
	if muted, _ := engine.IsMuted(ctx, 10, 7); muted {
		t.Fatal("mute should have expired")
	}

	if err := engine.Unmute(ctx, settings.RoleAdmin, 1, 10, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unmute expired mute: got %v, want not found", err)
	}
}

func TestResetStrikes(t *testing.T) {
	engine, settingsStore, clock := newTestEngine(t, config.DefaultConfig())
	enableModeration(t, settingsStore, 10)
	ctx := context.Background()

	for id := 1; id <= 3; id++ {
		if _, err := engine.CheckMessage(ctx, memberEvent(10, 7, id, "same text", clock.now)); err != nil {
			t.Fatalf("message %d: %v", id, err)
		}
	}
	if err := engine.ResetStrikes(ctx, settings.RoleAdmin, 1, 10, 7); err != nil {
		t.Fatalf("reset: %v", err)
	}

	state, err := NewTracker(mustStore(t, engine), 24*time.Hour).State(ctx, 10, 7)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.State != StateClean || state.StrikeCount != 0 {
		t.Fatalf("state after reset = %+v", state)
	}
}

func TestCheckJoinScreening(t *testing.T) {
	engine, settingsStore, clock := newTestEngine(t, config.DefaultConfig())
	enableModeration(t, settingsStore, 10)
	ctx := context.Background()

	event := Event{
		UserID:    7,
		GroupID:   10,
		Role:      settings.RoleMember,
		Username:  "crypto_admin_99",
		MessageID: 1,
		Timestamp: clock.now,
	}
	action, err := engine.CheckJoin(ctx, event)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if action == nil || action.Kind != ActionWarn {
		t.Fatalf("got %+v, want warn for suspicious username", action)
	}
}

func mustStore(t *testing.T, engine *Engine) *storage.Store {
	t.Helper()
	return engine.store
}
