package moderation

import (
	"context"
	"time"

	"groupwarden/internal/metrics"
	"groupwarden/internal/modules/audit"
	"groupwarden/internal/modules/screening"
	"groupwarden/internal/modules/spam"
	"groupwarden/internal/modules/wordfilter"
	"groupwarden/internal/ratelimit"
	"groupwarden/internal/settings"
	"groupwarden/internal/storage"

	"go.uber.org/zap"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Engine struct {
	settings *settings.Store
	limiter  ratelimit.Limiter
	spam     *spam.Detector
	words    *wordfilter.Filter
	screener *screening.Screener
	tracker  *Tracker
	machine  *Machine
	store    *storage.Store
	audit    *audit.Logger
	logger   *zap.Logger
	clock    Clock
}

func NewEngine(
	settingsStore *settings.Store,
	limiter ratelimit.Limiter,
	spamDetector *spam.Detector,
	wordFilter *wordfilter.Filter,
	screener *screening.Screener,
	tracker *Tracker,
	machine *Machine,
	store *storage.Store,
	auditLogger *audit.Logger,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		settings: settingsStore,
		limiter:  limiter,
		spam:     spamDetector,
		words:    wordFilter,
		screener: screener,
		tracker:  tracker,
		machine:  machine,
		store:    store,
		audit:    auditLogger,
		logger:   logger,
		clock:    realClock{},
	}
}

func (e *Engine) WithClock(clock Clock) {
	e.clock = clock
}

// CheckMessage runs the moderation pipeline for one inbound group
// message: admission, content verdict, strike update, punishment
// decision. The returned action (nil when clean) is applied by the
// transport; state here is final regardless of whether that call later
// fails.
func (e *Engine) CheckMessage(ctx context.Context, event Event) (*EnforcementAction, error) {
	if event.GroupID == 0 {
		return nil, nil
	}
	// operators and the bot itself are never moderated
	if event.Role.Operator() {
		return nil, nil
	}

	spamOn, err := e.settings.Get(ctx, event.GroupID, settings.FeatureSpamProtection)
	if err != nil {
		return nil, err
	}
	wordsOn, err := e.settings.Get(ctx, event.GroupID, settings.FeatureWordFiltering)
	if err != nil {
		return nil, err
	}
	if !spamOn && !wordsOn {
		return nil, nil
	}

	if spamOn {
		decision, err := e.limiter.Admit(ctx, event.UserID, ratelimit.ClassMessage, event.Timestamp)
		if err != nil {
			// admission must not block the room on a limiter backend
			// outage; moderation detectors below still run
			e.logger.Warn("rate limiter unavailable", zap.Error(err))
		} else if !decision.Allowed {
			metrics.RateLimitedTotal.WithLabelValues(string(ratelimit.ClassMessage)).Inc()
			return nil, &RateLimitedError{RetryAfter: decision.RetryAfter}
		}
	}

	verdict, err := e.classify(ctx, event, spamOn, wordsOn)
	if err != nil {
		return nil, err
	}
	metrics.VerdictsTotal.WithLabelValues(string(verdict.Kind)).Inc()
	if verdict.Kind == VerdictClean {
		return nil, nil
	}

	return e.applyVerdict(ctx, event, verdict)
}

// CheckJoin screens a new member when the group has screening enabled.
// The join's service message id is the idempotency key.
func (e *Engine) CheckJoin(ctx context.Context, event Event) (*EnforcementAction, error) {
	if event.GroupID == 0 || event.Role.Operator() {
		return nil, nil
	}
	enabled, err := e.settings.Get(ctx, event.GroupID, settings.FeatureMemberScreening)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, nil
	}

	reason, flagged := e.screener.CheckJoin(event.GroupID, event.Username, event.Timestamp)
	if !flagged {
		return nil, nil
	}
	verdict := Verdict{Kind: VerdictSuspicious, Reason: reason}
	metrics.VerdictsTotal.WithLabelValues(string(verdict.Kind)).Inc()
	return e.applyVerdict(ctx, event, verdict)
}

// IsMuted lets the transport drop messages from users the machine muted,
// re-checking expiry rather than trusting stale flags.
func (e *Engine) IsMuted(ctx context.Context, groupID, userID int64) (bool, error) {
	return e.store.HasActiveEnforcement(ctx, groupID, userID, string(ActionMute), e.clock.Now())
}

func (e *Engine) classify(ctx context.Context, event Event, spamOn, wordsOn bool) (Verdict, error) {
	if spamOn {
		if reason, flagged := e.spam.Classify(event.GroupID, event.UserID, event.Text, event.Timestamp); flagged {
			return Verdict{Kind: VerdictSpam, Reason: reason}, nil
		}
	}

	if wordsOn {
		word, matched, err := e.words.Match(ctx, event.GroupID, event.Text)
		if err != nil {
			return clean(), err
		}
		if matched {
			return Verdict{Kind: VerdictBannedWord, Reason: "banned_word", Word: word}, nil
		}
	}
	return clean(), nil
}

func (e *Engine) applyVerdict(ctx context.Context, event Event, verdict Verdict) (*EnforcementAction, error) {
	reason := verdict.Reason
	if verdict.Kind == VerdictBannedWord {
		reason = "banned_word:" + verdict.Word
	}

	strikes, duplicate, err := e.tracker.Record(ctx, event.GroupID, event.UserID, event.MessageID, reason, 1, event.Timestamp)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return nil, nil
	}

	escalate, err := e.settings.Get(ctx, event.GroupID, settings.FeatureAutoModeration)
	if err != nil {
		return nil, err
	}
	kind, duration, ok := e.machine.Decide(strikes, escalate)
	if !ok {
		return nil, nil
	}

	if err := e.tracker.Advance(ctx, event.GroupID, event.UserID, stateForAction(kind)); err != nil {
		return nil, err
	}

	action := &EnforcementAction{
		Kind:     kind,
		UserID:   event.UserID,
		GroupID:  event.GroupID,
		Reason:   reason,
		IssuedAt: event.Timestamp,
		Duration: duration,
	}
	if kind == ActionMute || kind == ActionBan {
		record := storage.Enforcement{
			GroupID:  event.GroupID,
			UserID:   event.UserID,
			Kind:     string(kind),
			Reason:   reason,
			IssuedAt: action.IssuedAt,
		}
		if duration > 0 {
			expires := action.IssuedAt.Add(duration)
			record.ExpiresAt = &expires
		}
		if err := e.store.AddEnforcement(ctx, record); err != nil {
			return nil, err
		}
	}

	metrics.EnforcementsTotal.WithLabelValues(string(kind)).Inc()
	e.audit.Log(ctx, audit.LevelWarn, event.GroupID, event.UserID, "moderation_"+string(kind), reason)
	return action, nil
}
