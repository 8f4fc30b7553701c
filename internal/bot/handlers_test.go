package bot

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"groupwarden/internal/access"
	"groupwarden/internal/analytics"
	"groupwarden/internal/config"
	"groupwarden/internal/moderation"
	"groupwarden/internal/modules/audit"
	"groupwarden/internal/modules/screening"
	"groupwarden/internal/modules/spam"
	"groupwarden/internal/modules/wordfilter"
	"groupwarden/internal/ratelimit"
	"groupwarden/internal/settings"
	"groupwarden/internal/storage"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// offlineClient fails every API call so transport tests exercise only
// the dispatch logic. Send and delete failures are logged, not fatal.
type offlineClient struct{}

func (offlineClient) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("offline")
}

type recordingChat struct {
	calls int
}

func (r *recordingChat) Reply(ctx context.Context, userID int64, prompt string) (string, error) {
	r.calls++
	return "sure", nil
}

func newTestBot(t *testing.T) (*Bot, *recordingChat) {
	t.Helper()

	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.DefaultConfig()
	logger := zap.NewNop()
	settingsStore := settings.NewStore(store)
	auditLogger := audit.NewLogger(store, logger)
	limiter := ratelimit.NewMemoryLimiter(ratelimit.CeilingsFromConfig(cfg.RateLimits))
	machine := moderation.NewMachine(cfg.Punishment)
	engine := moderation.NewEngine(
		settingsStore,
		limiter,
		spam.New(cfg.Spam),
		wordfilter.New(store),
		screening.New(cfg.Screening),
		moderation.NewTracker(store, machine.Window()),
		machine,
		store,
		auditLogger,
		logger,
	)

	chat := &recordingChat{}
	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		api:       &tgbotapi.BotAPI{Client: offlineClient{}},
		engine:    engine,
		settings:  settingsStore,
		access:    access.NewRegistry(store, auditLogger, logger, cfg.AdminUserID),
		analytics: analytics.New(store),
		audit:     auditLogger,
		limiter:   limiter,
		store:     store,
		providers: Providers{Chat: chat},
		roleCache: make(map[roleKey]cachedRole),
	}
	return b, chat
}

func groupCommand(messageID int, userID int64, text string, commandLen int) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: messageID,
		From:      &tgbotapi.User{ID: userID, UserName: "carol"},
		Chat:      &tgbotapi.Chat{ID: 10, Type: "supergroup"},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: commandLen}},
		Date:      int(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Unix()),
	}
}

func TestMutedUserCommandsAreDropped(t *testing.T) {
	b, chat := newTestBot(t)
	ctx := context.Background()

	b.onMessage(ctx, groupCommand(1, 7, "/chat hello there", 5))
	if chat.calls != 1 {
		t.Fatalf("chat provider calls = %d, want 1", chat.calls)
	}

	if _, err := b.engine.Mute(ctx, settings.RoleAdmin, 1, 10, 7, time.Hour, "flood"); err != nil {
		t.Fatalf("mute: %v", err)
	}

	b.onMessage(ctx, groupCommand(2, 7, "/chat hello again", 5))
	if chat.calls != 1 {
		t.Fatalf("muted user's command reached the provider, calls = %d", chat.calls)
	}

	// an unrelated user is unaffected
	b.onMessage(ctx, groupCommand(3, 8, "/chat hi", 5))
	if chat.calls != 2 {
		t.Fatalf("chat provider calls = %d, want 2", chat.calls)
	}
}
