// Package moderation composes the detectors, the violation ledger and
// the punishment state machine into one engine the transport calls per
// inbound event and per admin command.
package moderation

import (
	"time"

	"groupwarden/internal/settings"
)

// Event is the normalized inbound message the transport hands to the
// engine. The engine never touches the wire format.
type Event struct {
	UserID      int64
	GroupID     int64
	Role        settings.Role
	Username    string
	Text        string
	MessageID   int
	Attachments []string
	Timestamp   time.Time
}

type VerdictKind string

const (
	VerdictClean      VerdictKind = "clean"
	VerdictSpam       VerdictKind = "spam"
	VerdictBannedWord VerdictKind = "banned_word"
	VerdictSuspicious VerdictKind = "suspicious"
)

// Verdict is the classification of one message against the group's
// rules, independent of any accumulated state.
type Verdict struct {
	Kind   VerdictKind
	Reason string
	Word   string
}

func clean() Verdict { return Verdict{Kind: VerdictClean} }

type ActionKind string

const (
	ActionWarn ActionKind = "warn"
	ActionMute ActionKind = "mute"
	ActionBan  ActionKind = "ban"
)

// EnforcementAction is the immutable decision the caller applies via the
// messaging transport. The engine's state transition is final once the
// action is returned; a failed downstream mute/ban is retried by the
// caller without re-running classification.
type EnforcementAction struct {
	Kind     ActionKind
	UserID   int64
	GroupID  int64
	Reason   string
	IssuedAt time.Time
	Duration time.Duration // zero means indefinite
}

// Punishment states per (user, group), ordered by severity. The machine
// never moves a user backward; only admin commands do.
const (
	StateClean  = "clean"
	StateWarned = "warned"
	StateMuted  = "muted"
	StateBanned = "banned"
)

var stateRank = map[string]int{
	StateClean:  0,
	StateWarned: 1,
	StateMuted:  2,
	StateBanned: 3,
}

func stateForAction(kind ActionKind) string {
	switch kind {
	case ActionWarn:
		return StateWarned
	case ActionMute:
		return StateMuted
	case ActionBan:
		return StateBanned
	default:
		return StateClean
	}
}
