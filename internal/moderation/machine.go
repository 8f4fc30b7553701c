package moderation

import (
	"time"

	"groupwarden/internal/config"
)

// Machine maps a strike count to a target punishment through the
// configured threshold table. The table is validated monotonic at config
// load, so a higher count can never map to a milder action.
type Machine struct {
	cfg config.PunishmentConfig
}

func NewMachine(cfg config.PunishmentConfig) *Machine {
	return &Machine{cfg: cfg}
}

// Decide returns the action for a strike count. With escalation disabled
// (auto_moderation off) the machine caps at a warning: strikes still
// accumulate but nobody is muted or banned automatically.
func (m *Machine) Decide(strikes int, escalate bool) (ActionKind, time.Duration, bool) {
	if strikes < m.cfg.WarnAt {
		return "", 0, false
	}
	if !escalate {
		return ActionWarn, 0, true
	}
	switch {
	case strikes >= m.cfg.BanAt:
		return ActionBan, 0, true
	case strikes >= m.cfg.MuteAt:
		return ActionMute, time.Duration(m.cfg.MuteMinutes) * time.Minute, true
	default:
		return ActionWarn, 0, true
	}
}

// Window is the rolling interval violations count toward escalation.
func (m *Machine) Window() time.Duration {
	return time.Duration(m.cfg.WindowHours) * time.Hour
}
