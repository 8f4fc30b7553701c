// Package screening checks new group members: join bursts within a short
// window and impersonation-style usernames.
package screening

import (
	"strings"
	"sync"
	"time"

	"groupwarden/internal/config"
	"groupwarden/internal/utils"
)

const (
	ReasonJoinBurst          = "join_burst"
	ReasonSuspiciousUsername = "suspicious_username"
)

var suspiciousFragments = []string{"bot", "admin", "official", "support", "help"}

type Screener struct {
	mu       sync.Mutex
	cfg      config.ScreeningConfig
	counters map[int64]*utils.SlidingWindow
}

func New(cfg config.ScreeningConfig) *Screener {
	return &Screener{cfg: cfg, counters: make(map[int64]*utils.SlidingWindow)}
}

// CheckJoin records the join in the group's counter and reports a
// screening reason when the member looks suspicious.
func (s *Screener) CheckJoin(groupID int64, username string, now time.Time) (string, bool) {
	if fragment := suspiciousUsername(username); fragment != "" {
		return ReasonSuspiciousUsername, true
	}
	if s.cfg.Joins > 0 {
		count := s.getCounter(groupID).Add(now)
		if count >= s.cfg.Joins {
			return ReasonJoinBurst, true
		}
	}
	return "", false
}

func (s *Screener) getCounter(groupID int64) *utils.SlidingWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter := s.counters[groupID]
	if counter == nil {
		counter = utils.NewSlidingWindow(time.Duration(s.cfg.WindowSeconds) * time.Second)
		s.counters[groupID] = counter
	}
	return counter
}

func suspiciousUsername(username string) string {
	lower := strings.ToLower(username)
	if lower == "" {
		return ""
	}
	for _, fragment := range suspiciousFragments {
		if strings.Contains(lower, fragment) {
			return fragment
		}
	}
	return ""
}
