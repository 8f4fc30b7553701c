// Package bot is the Telegram transport. It normalizes updates into
// engine events, resolves chat roles, applies enforcement actions via
// the Bot API and exposes the command surface. All moderation decisions
// live in internal/moderation; this package only moves messages.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"groupwarden/internal/access"
	"groupwarden/internal/analytics"
	"groupwarden/internal/config"
	"groupwarden/internal/moderation"
	"groupwarden/internal/modules/audit"
	"groupwarden/internal/ratelimit"
	"groupwarden/internal/settings"
	"groupwarden/internal/storage"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	pollTimeoutSeconds = 30
	roleCacheTTL       = 5 * time.Minute
)

// Providers are the optional external collaborators behind the gated
// pass-through commands. A nil provider makes its command report
// unavailable; the moderation core never calls any of these.
type Providers struct {
	Chat      ChatProvider
	Translate TranslateProvider
	Media     MediaProvider
}

type ChatProvider interface {
	Reply(ctx context.Context, userID int64, prompt string) (string, error)
}

type TranslateProvider interface {
	Translate(ctx context.Context, text string) (string, error)
}

type MediaProvider interface {
	Download(ctx context.Context, url string) (string, error)
}

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	api       *tgbotapi.BotAPI
	engine    *moderation.Engine
	settings  *settings.Store
	access    *access.Registry
	analytics *analytics.Service
	audit     *audit.Logger
	limiter   ratelimit.Limiter
	store     *storage.Store
	providers Providers

	roleMu    sync.Mutex
	roleCache map[roleKey]cachedRole
}

type roleKey struct {
	chatID int64
	userID int64
}

type cachedRole struct {
	role    settings.Role
	fetched time.Time
}

func New(
	cfg config.Config,
	logger *zap.Logger,
	engine *moderation.Engine,
	settingsStore *settings.Store,
	accessRegistry *access.Registry,
	analyticsService *analytics.Service,
	auditLogger *audit.Logger,
	limiter ratelimit.Limiter,
	store *storage.Store,
	providers Providers,
) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		api:       api,
		engine:    engine,
		settings:  settingsStore,
		access:    accessRegistry,
		analytics: analyticsService,
		audit:     auditLogger,
		limiter:   limiter,
		store:     store,
		providers: providers,
		roleCache: make(map[roleKey]cachedRole),
	}

	if auditLogger != nil && cfg.AdminUserID != 0 {
		auditLogger.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
			if entry.Level != audit.LevelCrit {
				return
			}
			b.send(tgbotapi.NewMessage(cfg.AdminUserID, fmt.Sprintf("[%s] %s: %s", entry.Level, entry.Event, entry.Details)))
		})
	}

	return b, nil
}

// Run long-polls updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("telegram connected", zap.String("username", b.api.Self.UserName))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSeconds
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) send(msg tgbotapi.Chattable) {
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("send failed", zap.Error(err))
	}
}

func (b *Bot) reply(chatID int64, messageID int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = messageID
	b.send(msg)
}

// resolveRole maps Telegram chat member status onto the engine's role
// model. Lookups are cached briefly; on API failure we fall back to
// member so a transport hiccup never grants operator powers.
func (b *Bot) resolveRole(chatID, userID int64) settings.Role {
	key := roleKey{chatID: chatID, userID: userID}

	b.roleMu.Lock()
	cached, ok := b.roleCache[key]
	b.roleMu.Unlock()
	if ok && time.Since(cached.fetched) < roleCacheTTL {
		return cached.role
	}

	role := settings.RoleMember
	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		b.logger.Warn("chat member lookup failed", zap.Int64("chat_id", chatID), zap.Int64("user_id", userID), zap.Error(err))
		return role
	}
	switch member.Status {
	case "creator":
		role = settings.RoleCreator
	case "administrator":
		role = settings.RoleAdmin
	}

	b.roleMu.Lock()
	b.roleCache[key] = cachedRole{role: role, fetched: time.Now()}
	b.roleMu.Unlock()
	return role
}

// apply performs the Telegram side of an enforcement action. The engine
// has already committed the state transition; failures here are logged
// and reported, never rolled back.
func (b *Bot) apply(action *moderation.EnforcementAction, messageID int) {
	if action == nil {
		return
	}

	if messageID != 0 {
		if _, err := b.api.Request(tgbotapi.NewDeleteMessage(action.GroupID, messageID)); err != nil {
			b.logger.Warn("delete message failed", zap.Int64("chat_id", action.GroupID), zap.Error(err))
		}
	}

	switch action.Kind {
	case moderation.ActionWarn:
		b.send(tgbotapi.NewMessage(action.GroupID, fmt.Sprintf("Warning issued to user %d: %s", action.UserID, action.Reason)))
	case moderation.ActionMute:
		until := time.Now().Add(action.Duration).Unix()
		restrict := tgbotapi.RestrictChatMemberConfig{
			ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: action.GroupID, UserID: action.UserID},
			UntilDate:        until,
			Permissions:      &tgbotapi.ChatPermissions{CanSendMessages: false},
		}
		if _, err := b.api.Request(restrict); err != nil {
			b.logger.Warn("restrict failed", zap.Int64("user_id", action.UserID), zap.Error(err))
		}
		b.send(tgbotapi.NewMessage(action.GroupID, fmt.Sprintf("User %d muted for %s: %s", action.UserID, action.Duration, action.Reason)))
	case moderation.ActionBan:
		ban := tgbotapi.BanChatMemberConfig{
			ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: action.GroupID, UserID: action.UserID},
		}
		if _, err := b.api.Request(ban); err != nil {
			b.logger.Warn("ban failed", zap.Int64("user_id", action.UserID), zap.Error(err))
		}
		b.send(tgbotapi.NewMessage(action.GroupID, fmt.Sprintf("User %d banned: %s", action.UserID, action.Reason)))
	}
}
