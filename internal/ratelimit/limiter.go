// Package ratelimit provides sliding-window admission control per user
// and action class. Every (user, class) pair is an independent shard, so
// admission checks for unrelated users never contend.
package ratelimit

import (
	"context"
	"time"

	"groupwarden/internal/config"
)

type Class string

const (
	ClassMessage   Class = "message"
	ClassDownload  Class = "download"
	ClassBroadcast Class = "broadcast"
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type Limiter interface {
	// Admit records the action and allows it while the (user, class)
	// window holds fewer entries than the configured ceiling. Refusals
	// carry the time until the oldest entry rolls out. A missing or
	// zero ceiling admits unconditionally.
	Admit(ctx context.Context, userID int64, class Class, now time.Time) (Decision, error)
}

type Ceiling struct {
	Limit  int
	Window time.Duration
}

func CeilingsFromConfig(cfg config.RateLimitConfig) map[Class]Ceiling {
	return map[Class]Ceiling{
		ClassMessage:   {Limit: cfg.Message.Limit, Window: time.Duration(cfg.Message.WindowSeconds) * time.Second},
		ClassDownload:  {Limit: cfg.Download.Limit, Window: time.Duration(cfg.Download.WindowSeconds) * time.Second},
		ClassBroadcast: {Limit: cfg.Broadcast.Limit, Window: time.Duration(cfg.Broadcast.WindowSeconds) * time.Second},
	}
}
