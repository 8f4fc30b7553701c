package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"groupwarden/internal/access"
	"groupwarden/internal/metrics"
	"groupwarden/internal/moderation"
	"groupwarden/internal/ratelimit"
	"groupwarden/internal/settings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const helpText = `Moderation:
/settings [feature on|off] - view or toggle group features
/ban /unban /mute /unmute - manage members (reply or user id)
/banlist /mutelist - active enforcements
/addword /removeword /wordlist - banned words
/clearwarnings - reset a member's strikes
/modstats [hours] - moderation report

Access:
/grant_access <user_id> <level> [hours]
/temp_access <user_id> <feature> <hours>
/revoke_access <user_id>
/check_access [user_id]
/list_access

Tools:
/chat <prompt>  /translate <text>  /download <url>`

func (b *Bot) dispatchCommand(ctx context.Context, msg *tgbotapi.Message) {
	command := msg.Command()
	args := strings.Fields(msg.CommandArguments())

	groupChat := msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()
	role := settings.RoleMember
	if groupChat {
		role = b.resolveRole(msg.Chat.ID, msg.From.ID)
	}

	var err error
	switch command {
	case "start":
		b.reply(msg.Chat.ID, msg.MessageID, "GroupWarden is active. Use /help for commands.")
	case "help":
		b.reply(msg.Chat.ID, msg.MessageID, helpText)

	case "settings":
		err = b.cmdSettings(ctx, msg, role, args)
	case "ban":
		err = b.cmdBan(ctx, msg, role, args)
	case "unban":
		err = b.cmdUnban(ctx, msg, role, args)
	case "mute":
		err = b.cmdMute(ctx, msg, role, args)
	case "unmute":
		err = b.cmdUnmute(ctx, msg, role, args)
	case "banlist":
		err = b.cmdEnforcementList(ctx, msg, role, moderation.ActionBan)
	case "mutelist":
		err = b.cmdEnforcementList(ctx, msg, role, moderation.ActionMute)
	case "addword":
		err = b.cmdAddWord(ctx, msg, role, args)
	case "removeword":
		err = b.cmdRemoveWord(ctx, msg, role, args)
	case "wordlist":
		err = b.cmdWordList(ctx, msg, role)
	case "clearwarnings":
		err = b.cmdClearWarnings(ctx, msg, role, args)
	case "modstats":
		err = b.cmdModStats(ctx, msg, args)

	case "grant_access":
		err = b.cmdGrantAccess(ctx, msg, args)
	case "temp_access":
		err = b.cmdTempAccess(ctx, msg, args)
	case "revoke_access":
		err = b.cmdRevokeAccess(ctx, msg, args)
	case "check_access":
		err = b.cmdCheckAccess(ctx, msg, args)
	case "list_access":
		err = b.cmdListAccess(ctx, msg)

	case "chat":
		err = b.cmdChat(ctx, msg, args)
	case "translate":
		err = b.cmdTranslate(ctx, msg, args)
	case "download":
		err = b.cmdDownload(ctx, msg, args)
	case "broadcast":
		err = b.cmdBroadcast(ctx, msg, args)
	default:
		return
	}

	if err != nil {
		b.replyError(msg, command, err)
	}
}

// replyError maps the error taxonomy onto user-facing replies. Nothing
// here is fatal; every failure is reported per command.
func (b *Bot) replyError(msg *tgbotapi.Message, command string, err error) {
	var kind string
	var text string

	var validation *moderation.ValidationError
	var limited *moderation.RateLimitedError
	switch {
	case errors.As(err, &validation):
		kind, text = "validation", validation.Msg
	case errors.As(err, &limited):
		kind, text = "rate_limited", fmt.Sprintf("Rate limit reached, retry in %s.", limited.RetryAfter.Round(time.Second))
	case errors.Is(err, moderation.ErrPermissionDenied),
		errors.Is(err, settings.ErrDenied),
		errors.Is(err, access.ErrDenied):
		kind, text = "permission_denied", "You don't have permission to do that."
	case errors.Is(err, moderation.ErrNotFound):
		kind, text = "not_found", "No matching record found."
	default:
		kind, text = "internal", "Something went wrong, try again later."
		b.logger.Error("command failed", zap.String("command", command), zap.Error(err))
	}

	metrics.CommandErrorsTotal.WithLabelValues(kind).Inc()
	b.reply(msg.Chat.ID, msg.MessageID, text)
}

// target resolves the subject of an admin command: the replied-to user
// first, else the first numeric argument. Remaining args pass through.
func target(msg *tgbotapi.Message, args []string) (int64, []string, error) {
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		return msg.ReplyToMessage.From.ID, args, nil
	}
	if len(args) == 0 {
		return 0, nil, validationErr("reply to a message or pass a user id")
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, nil, validationErr("invalid user id %q", args[0])
	}
	return userID, args[1:], nil
}

func validationErr(format string, args ...any) error {
	return &moderation.ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func (b *Bot) cmdSettings(ctx context.Context, msg *tgbotapi.Message, role settings.Role, args []string) error {
	groupID := msg.Chat.ID
	if !msg.Chat.IsGroup() && !msg.Chat.IsSuperGroup() {
		return validationErr("settings are per group, run this inside one")
	}

	if len(args) == 0 || (len(args) == 1 && args[0] == "show") {
		snapshot, err := b.settings.Snapshot(ctx, groupID)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(snapshot))
		for name := range snapshot {
			names = append(names, name)
		}
		sort.Strings(names)

		var sb strings.Builder
		sb.WriteString("Group features:\n")
		for _, name := range names {
			state := "off"
			if snapshot[name] {
				state = "on"
			}
			fmt.Fprintf(&sb, "  %s: %s\n", name, state)
		}
		b.reply(groupID, msg.MessageID, sb.String())
		return nil
	}

	if len(args) != 2 {
		return validationErr("usage: /settings <feature> on|off")
	}
	feature := args[0]
	var enabled bool
	switch strings.ToLower(args[1]) {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		return validationErr("usage: /settings <feature> on|off")
	}

	if err := b.settings.Set(ctx, groupID, feature, enabled, role); err != nil {
		if errors.Is(err, settings.ErrDenied) {
			return err
		}
		return validationErr("%v", err)
	}
	b.reply(groupID, msg.MessageID, fmt.Sprintf("%s is now %s.", feature, args[1]))
	return nil
}

func (b *Bot) cmdBan(ctx context.Context, msg *tgbotapi.Message, role settings.Role, args []string) error {
	userID, rest, err := target(msg, args)
	if err != nil {
		return err
	}
	action, err := b.engine.Ban(ctx, role, msg.From.ID, msg.Chat.ID, userID, strings.Join(rest, " "))
	if err != nil {
		return err
	}
	b.apply(action, 0)
	return nil
}

func (b *Bot) cmdUnban(ctx context.Context, msg *tgbotapi.Message, role settings.Role, args []string) error {
	userID, _, err := target(msg, args)
	if err != nil {
		return err
	}
	if err := b.engine.Unban(ctx, role, msg.From.ID, msg.Chat.ID, userID); err != nil {
		return err
	}
	unban := tgbotapi.UnbanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: msg.Chat.ID, UserID: userID},
		OnlyIfBanned:     true,
	}
	if _, err := b.api.Request(unban); err != nil {
		b.logger.Warn("telegram unban failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	b.reply(msg.Chat.ID, msg.MessageID, fmt.Sprintf("User %d unbanned.", userID))
	return nil
}

func (b *Bot) cmdMute(ctx context.Context, msg *tgbotapi.Message, role settings.Role, args []string) error {
	userID, rest, err := target(msg, args)
	if err != nil {
		return err
	}

	duration := time.Duration(b.cfg.Punishment.MuteMinutes) * time.Minute
	if len(rest) > 0 {
		if hours, err := strconv.Atoi(rest[0]); err == nil {
			if hours < 1 {
				return validationErr("mute hours must be a positive integer")
			}
			duration = time.Duration(hours) * time.Hour
			rest = rest[1:]
		}
	}

	action, err := b.engine.Mute(ctx, role, msg.From.ID, msg.Chat.ID, userID, duration, strings.Join(rest, " "))
	if err != nil {
		return err
	}
	b.apply(action, 0)
	return nil
}

func (b *Bot) cmdUnmute(ctx context.Context, msg *tgbotapi.Message, role settings.Role, args []string) error {
	userID, _, err := target(msg, args)
	if err != nil {
		return err
	}
	if err := b.engine.Unmute(ctx, role, msg.From.ID, msg.Chat.ID, userID); err != nil {
		return err
	}
	restore := tgbotapi.RestrictChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: msg.Chat.ID, UserID: userID},
		Permissions: &tgbotapi.ChatPermissions{
			CanSendMessages:       true,
			CanSendMediaMessages:  true,
			CanSendOtherMessages:  true,
			CanAddWebPagePreviews: true,
		},
	}
	if _, err := b.api.Request(restore); err != nil {
		b.logger.Warn("telegram unmute failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	b.reply(msg.Chat.ID, msg.MessageID, fmt.Sprintf("User %d unmuted.", userID))
	return nil
}

func (b *Bot) cmdEnforcementList(ctx context.Context, msg *tgbotapi.Message, role settings.Role, kind moderation.ActionKind) error {
	var list []string
	var err error

	switch kind {
	case moderation.ActionBan:
		entries, lerr := b.engine.BanList(ctx, role, msg.Chat.ID)
		err = lerr
		for _, e := range entries {
			list = append(list, fmt.Sprintf("%d - %s (%s)", e.UserID, e.Reason, e.IssuedAt.Format(time.RFC3339)))
		}
	case moderation.ActionMute:
		entries, lerr := b.engine.MuteList(ctx, role, msg.Chat.ID)
		err = lerr
		for _, e := range entries {
			until := "indefinite"
			if e.ExpiresAt != nil {
				until = e.ExpiresAt.Format(time.RFC3339)
			}
			list = append(list, fmt.Sprintf("%d - %s (until %s)", e.UserID, e.Reason, until))
		}
	}
	if err != nil {
		return err
	}

	if len(list) == 0 {
		b.reply(msg.Chat.ID, msg.MessageID, "No active entries.")
		return nil
	}
	b.reply(msg.Chat.ID, msg.MessageID, strings.Join(list, "\n"))
	return nil
}

func (b *Bot) cmdAddWord(ctx context.Context, msg *tgbotapi.Message, role settings.Role, args []string) error {
	if len(args) != 1 {
		return validationErr("usage: /addword <word>")
	}
	if err := b.engine.AddWord(ctx, role, msg.From.ID, msg.Chat.ID, args[0]); err != nil {
		return err
	}
	b.reply(msg.Chat.ID, msg.MessageID, "Word added to the filter.")
	return nil
}

func (b *Bot) cmdRemoveWord(ctx context.Context, msg *tgbotapi.Message, role settings.Role, args []string) error {
	if len(args) != 1 {
		return validationErr("usage: /removeword <word>")
	}
	if err := b.engine.RemoveWord(ctx, role, msg.From.ID, msg.Chat.ID, args[0]); err != nil {
		return err
	}
	b.reply(msg.Chat.ID, msg.MessageID, "Word removed from the filter.")
	return nil
}

func (b *Bot) cmdWordList(ctx context.Context, msg *tgbotapi.Message, role settings.Role) error {
	words, err := b.engine.WordList(ctx, role, msg.Chat.ID)
	if err != nil {
		return err
	}
	if len(words) == 0 {
		b.reply(msg.Chat.ID, msg.MessageID, "The word filter is empty.")
		return nil
	}
	b.reply(msg.Chat.ID, msg.MessageID, "Filtered words: "+strings.Join(words, ", "))
	return nil
}

func (b *Bot) cmdClearWarnings(ctx context.Context, msg *tgbotapi.Message, role settings.Role, args []string) error {
	userID, _, err := target(msg, args)
	if err != nil {
		return err
	}
	if err := b.engine.ResetStrikes(ctx, role, msg.From.ID, msg.Chat.ID, userID); err != nil {
		return err
	}
	b.reply(msg.Chat.ID, msg.MessageID, fmt.Sprintf("Strikes cleared for user %d.", userID))
	return nil
}

func (b *Bot) cmdModStats(ctx context.Context, msg *tgbotapi.Message, args []string) error {
	hours := 24
	if len(args) > 0 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed < 1 {
			return validationErr("usage: /modstats [hours]")
		}
		hours = parsed
	}

	report, err := b.analytics.Report(ctx, msg.Chat.ID, time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Moderation report, last %dh:\n", hours)
	fmt.Fprintf(&sb, "  events: %d", report.Total)
	levels := make([]string, 0, len(report.ByLevel))
	for level := range report.ByLevel {
		levels = append(levels, level)
	}
	sort.Strings(levels)
	for _, level := range levels {
		fmt.Fprintf(&sb, " %s=%d", level, report.ByLevel[level])
	}
	sb.WriteString("\n")
	events := make([]string, 0, len(report.ByEvent))
	for event := range report.ByEvent {
		events = append(events, event)
	}
	sort.Strings(events)
	for _, event := range events {
		fmt.Fprintf(&sb, "  %s: %d\n", event, report.ByEvent[event])
	}
	if offenders := report.TopOffenders(5); len(offenders) > 0 {
		sb.WriteString("Top offenders:\n")
		for _, offender := range offenders {
			fmt.Fprintf(&sb, "  %d: %d\n", offender.UserID, offender.Count)
		}
	}
	b.reply(msg.Chat.ID, msg.MessageID, sb.String())
	return nil
}

func (b *Bot) cmdGrantAccess(ctx context.Context, msg *tgbotapi.Message, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return validationErr("usage: /grant_access <user_id> <level> [hours]")
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return validationErr("invalid user id %q", args[0])
	}
	level, err := access.ParseLevel(args[1])
	if err != nil {
		return validationErr("%v", err)
	}
	var duration time.Duration
	if len(args) == 3 {
		hours, err := strconv.Atoi(args[2])
		if err != nil || hours < 1 {
			return validationErr("hours must be a positive integer")
		}
		duration = time.Duration(hours) * time.Hour
	}

	if err := b.access.Grant(ctx, msg.From.ID, userID, level, duration); err != nil {
		return err
	}
	b.reply(msg.Chat.ID, msg.MessageID, fmt.Sprintf("Granted %s to user %d.", level, userID))
	return nil
}

func (b *Bot) cmdTempAccess(ctx context.Context, msg *tgbotapi.Message, args []string) error {
	if len(args) != 3 {
		return validationErr("usage: /temp_access <user_id> <feature> <hours>")
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return validationErr("invalid user id %q", args[0])
	}
	hours, err := strconv.Atoi(args[2])
	if err != nil || hours < 1 {
		return validationErr("hours must be a positive integer")
	}

	if err := b.access.GrantTemporary(ctx, msg.From.ID, userID, args[1], time.Duration(hours)*time.Hour); err != nil {
		return err
	}
	b.reply(msg.Chat.ID, msg.MessageID, fmt.Sprintf("Granted %s to user %d for %dh.", args[1], userID, hours))
	return nil
}

func (b *Bot) cmdRevokeAccess(ctx context.Context, msg *tgbotapi.Message, args []string) error {
	if len(args) != 1 {
		return validationErr("usage: /revoke_access <user_id>")
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return validationErr("invalid user id %q", args[0])
	}
	if err := b.access.Revoke(ctx, msg.From.ID, userID); err != nil {
		return err
	}
	b.reply(msg.Chat.ID, msg.MessageID, fmt.Sprintf("Revoked all grants for user %d.", userID))
	return nil
}

func (b *Bot) cmdCheckAccess(ctx context.Context, msg *tgbotapi.Message, args []string) error {
	userID := msg.From.ID
	if len(args) == 1 {
		parsed, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return validationErr("invalid user id %q", args[0])
		}
		userID = parsed
	}

	// anyone may check themselves; checking others is admin-only
	if userID != msg.From.ID {
		level, err := b.access.EffectiveLevel(ctx, msg.From.ID)
		if err != nil {
			return err
		}
		if level != access.LevelAdmin {
			return access.ErrDenied
		}
	}

	level, grants, err := b.access.Describe(ctx, userID)
	if err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "User %d: level %s\n", userID, level)
	for _, grant := range grants {
		expiry := "permanent"
		if grant.ExpiresAt != nil {
			expiry = "until " + grant.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Fprintf(&sb, "  %s %s (%s)\n", grant.Kind, grant.Value, expiry)
	}
	b.reply(msg.Chat.ID, msg.MessageID, sb.String())
	return nil
}

func (b *Bot) cmdListAccess(ctx context.Context, msg *tgbotapi.Message) error {
	level, err := b.access.EffectiveLevel(ctx, msg.From.ID)
	if err != nil {
		return err
	}
	if level != access.LevelAdmin {
		return access.ErrDenied
	}

	grants, err := b.access.ListAll(ctx)
	if err != nil {
		return err
	}
	if len(grants) == 0 {
		b.reply(msg.Chat.ID, msg.MessageID, "No active grants.")
		return nil
	}

	var sb strings.Builder
	sb.WriteString("Active grants:\n")
	for _, grant := range grants {
		expiry := "permanent"
		if grant.ExpiresAt != nil {
			expiry = "until " + grant.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Fprintf(&sb, "  user %d: %s %s (%s)\n", grant.UserID, grant.Kind, grant.Value, expiry)
	}
	b.reply(msg.Chat.ID, msg.MessageID, sb.String())
	return nil
}

// gate checks the group feature flag (in groups) and the caller's access
// level before a pass-through command may run.
func (b *Bot) gate(ctx context.Context, msg *tgbotapi.Message, feature, accessFeature string) error {
	if msg.Chat.IsGroup() || msg.Chat.IsSuperGroup() {
		enabled, err := b.settings.Get(ctx, msg.Chat.ID, feature)
		if err != nil {
			return err
		}
		if !enabled {
			return validationErr("%s is disabled in this group", feature)
		}
	}
	if !b.access.Check(ctx, msg.From.ID, accessFeature) {
		return access.ErrDenied
	}
	return nil
}

func (b *Bot) cmdChat(ctx context.Context, msg *tgbotapi.Message, args []string) error {
	if err := b.gate(ctx, msg, settings.FeatureAutoResponses, "chat"); err != nil {
		return err
	}
	if b.providers.Chat == nil {
		b.reply(msg.Chat.ID, msg.MessageID, "Chat is not available on this deployment.")
		return nil
	}
	if len(args) == 0 {
		return validationErr("usage: /chat <prompt>")
	}

	response, err := b.providers.Chat.Reply(ctx, msg.From.ID, strings.Join(args, " "))
	if err != nil {
		return err
	}
	b.reply(msg.Chat.ID, msg.MessageID, response)
	return nil
}

func (b *Bot) cmdTranslate(ctx context.Context, msg *tgbotapi.Message, args []string) error {
	if err := b.gate(ctx, msg, settings.FeatureTranslation, "translate"); err != nil {
		return err
	}
	if b.providers.Translate == nil {
		b.reply(msg.Chat.ID, msg.MessageID, "Translation is not available on this deployment.")
		return nil
	}

	text := strings.Join(args, " ")
	if text == "" && msg.ReplyToMessage != nil {
		text = msg.ReplyToMessage.Text
	}
	if text == "" {
		return validationErr("usage: /translate <text> or reply to a message")
	}

	translated, err := b.providers.Translate.Translate(ctx, text)
	if err != nil {
		return err
	}
	b.reply(msg.Chat.ID, msg.MessageID, translated)
	return nil
}

func (b *Bot) cmdDownload(ctx context.Context, msg *tgbotapi.Message, args []string) error {
	if err := b.gate(ctx, msg, settings.FeatureMediaDownloads, "download"); err != nil {
		return err
	}
	if b.providers.Media == nil {
		b.reply(msg.Chat.ID, msg.MessageID, "Downloads are not available on this deployment.")
		return nil
	}
	if len(args) != 1 {
		return validationErr("usage: /download <url>")
	}

	decision, err := b.limiter.Admit(ctx, msg.From.ID, ratelimit.ClassDownload, time.Now())
	if err != nil {
		b.logger.Warn("rate limiter unavailable", zap.Error(err))
	} else if !decision.Allowed {
		metrics.RateLimitedTotal.WithLabelValues(string(ratelimit.ClassDownload)).Inc()
		return &moderation.RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	result, err := b.providers.Media.Download(ctx, args[0])
	if err != nil {
		return err
	}
	b.reply(msg.Chat.ID, msg.MessageID, result)
	return nil
}

// cmdBroadcast sends a message to every known group. Reserved for the
// deployment's root admin since it crosses group boundaries.
func (b *Bot) cmdBroadcast(ctx context.Context, msg *tgbotapi.Message, args []string) error {
	if b.cfg.AdminUserID == 0 || msg.From.ID != b.cfg.AdminUserID {
		return moderation.ErrPermissionDenied
	}
	if len(args) == 0 {
		return validationErr("usage: /broadcast <text>")
	}

	decision, err := b.limiter.Admit(ctx, msg.From.ID, ratelimit.ClassBroadcast, time.Now())
	if err != nil {
		b.logger.Warn("rate limiter unavailable", zap.Error(err))
	} else if !decision.Allowed {
		metrics.RateLimitedTotal.WithLabelValues(string(ratelimit.ClassBroadcast)).Inc()
		return &moderation.RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	groups, err := b.store.ListGroupIDs(ctx)
	if err != nil {
		return err
	}
	text := strings.Join(args, " ")
	for _, groupID := range groups {
		b.send(tgbotapi.NewMessage(groupID, text))
	}
	b.reply(msg.Chat.ID, msg.MessageID, fmt.Sprintf("Broadcast sent to %d groups.", len(groups)))
	return nil
}
