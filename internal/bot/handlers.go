package bot

import (
	"context"
	"errors"
	"fmt"

	"groupwarden/internal/moderation"
	"groupwarden/internal/settings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if msg.From.ID == b.api.Self.ID {
		return
	}

	if len(msg.NewChatMembers) > 0 {
		b.onNewMembers(ctx, msg)
		return
	}
	b.onMessage(ctx, msg)
}

func (b *Bot) onMessage(ctx context.Context, msg *tgbotapi.Message) {
	groupChat := msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()

	// muted users get everything removed until the mute lapses,
	// commands included
	if groupChat {
		muted, err := b.engine.IsMuted(ctx, msg.Chat.ID, msg.From.ID)
		if err != nil {
			b.logger.Warn("mute lookup failed", zap.Error(err))
		} else if muted {
			if _, err := b.api.Request(tgbotapi.NewDeleteMessage(msg.Chat.ID, msg.MessageID)); err != nil {
				b.logger.Warn("delete muted message failed", zap.Error(err))
			}
			return
		}
	}

	if msg.IsCommand() {
		b.dispatchCommand(ctx, msg)
		return
	}
	if !groupChat {
		return
	}

	event := b.eventFromMessage(msg)
	action, err := b.engine.CheckMessage(ctx, event)
	if err != nil {
		var limited *moderation.RateLimitedError
		if errors.As(err, &limited) {
			if _, err := b.api.Request(tgbotapi.NewDeleteMessage(event.GroupID, msg.MessageID)); err != nil {
				b.logger.Warn("delete rate-limited message failed", zap.Error(err))
			}
			return
		}
		b.logger.Error("moderation check failed", zap.Int64("group_id", event.GroupID), zap.Error(err))
		return
	}
	if action != nil {
		b.apply(action, msg.MessageID)
	}
}

func (b *Bot) onNewMembers(ctx context.Context, msg *tgbotapi.Message) {
	groupID := msg.Chat.ID

	welcome, err := b.settings.Get(ctx, groupID, settings.FeatureWelcomeMessages)
	if err != nil {
		b.logger.Warn("settings lookup failed", zap.Error(err))
		welcome = false
	}

	for _, member := range msg.NewChatMembers {
		if member.ID == b.api.Self.ID {
			continue
		}
		if welcome {
			name := member.UserName
			if name == "" {
				name = member.FirstName
			}
			b.send(tgbotapi.NewMessage(groupID, fmt.Sprintf("Welcome, %s!", name)))
		}

		action, err := b.engine.CheckJoin(ctx, moderation.Event{
			UserID:    member.ID,
			GroupID:   groupID,
			Role:      b.resolveRole(groupID, member.ID),
			Username:  member.UserName,
			MessageID: msg.MessageID,
			Timestamp: msg.Time(),
		})
		if err != nil {
			b.logger.Error("join screening failed", zap.Int64("group_id", groupID), zap.Error(err))
			continue
		}
		if action != nil {
			// keep the join service message; only the member is acted on
			b.apply(action, 0)
		}
	}
}

func (b *Bot) eventFromMessage(msg *tgbotapi.Message) moderation.Event {
	var attachments []string
	if msg.Document != nil {
		attachments = append(attachments, msg.Document.FileID)
	}
	if len(msg.Photo) > 0 {
		attachments = append(attachments, msg.Photo[len(msg.Photo)-1].FileID)
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	return moderation.Event{
		UserID:      msg.From.ID,
		GroupID:     msg.Chat.ID,
		Role:        b.resolveRole(msg.Chat.ID, msg.From.ID),
		Username:    msg.From.UserName,
		Text:        text,
		MessageID:   msg.MessageID,
		Attachments: attachments,
		Timestamp:   msg.Time(),
	}
}
