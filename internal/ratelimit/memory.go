package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"groupwarden/internal/utils"
)

type MemoryLimiter struct {
	mu       sync.Mutex
	ceilings map[Class]Ceiling
	windows  map[string]*utils.SlidingWindow
}

func NewMemoryLimiter(ceilings map[Class]Ceiling) *MemoryLimiter {
	return &MemoryLimiter{
		ceilings: ceilings,
		windows:  make(map[string]*utils.SlidingWindow),
	}
}

func (l *MemoryLimiter) Admit(_ context.Context, userID int64, class Class, now time.Time) (Decision, error) {
	ceiling, ok := l.ceilings[class]
	if !ok || ceiling.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	window := l.getWindow(userID, class, ceiling.Window)
	ok, retry := window.TryAdd(now, ceiling.Limit)
	if !ok {
		return Decision{Allowed: false, RetryAfter: retry}, nil
	}
	return Decision{Allowed: true}, nil
}

func (l *MemoryLimiter) getWindow(userID int64, class Class, window time.Duration) *utils.SlidingWindow {
	key := fmt.Sprintf("%d:%s", userID, class)
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.windows[key]
	if w == nil {
		w = utils.NewSlidingWindow(window)
		l.windows[key] = w
	}
	return w
}
