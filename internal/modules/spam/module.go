// Package spam classifies messages against the group's spam heuristics:
// repeated content, excessive links, and message frequency. The module is
// stateless with respect to punishment; it only produces reasons.
package spam

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"groupwarden/internal/config"
	"groupwarden/internal/utils"
)

const (
	ReasonRepeatedContent  = "repeated_content"
	ReasonExcessiveLinks   = "excessive_links"
	ReasonMessageFrequency = "message_frequency"
)

type recentMessage struct {
	text string
	at   time.Time
}

type history struct {
	mu      sync.Mutex
	entries []recentMessage
}

type Detector struct {
	mu        sync.Mutex
	cfg       config.SpamConfig
	windows   map[string]*utils.SlidingWindow
	histories map[string]*history
}

func New(cfg config.SpamConfig) *Detector {
	return &Detector{
		cfg:       cfg,
		windows:   make(map[string]*utils.SlidingWindow),
		histories: make(map[string]*history),
	}
}

// Classify records the message in the sender's windows and reports the
// first matching spam reason. The frequency ceiling here is the
// moderation-specific one, independent of the general rate limiter.
func (d *Detector) Classify(groupID, userID int64, text string, now time.Time) (string, bool) {
	key := fmt.Sprintf("%d:%d", groupID, userID)

	if reason, flagged := d.checkRepeated(key, text, now); flagged {
		return reason, true
	}
	if d.cfg.MaxLinks > 0 {
		if links := len(utils.ExtractURLs(text)); links > d.cfg.MaxLinks {
			return ReasonExcessiveLinks, true
		}
	}
	if d.cfg.MessagesPerMinute > 0 {
		count := d.getWindow(key).Add(now)
		if count > d.cfg.MessagesPerMinute {
			return ReasonMessageFrequency, true
		}
	}
	return "", false
}

func (d *Detector) checkRepeated(key, text string, now time.Time) (string, bool) {
	if d.cfg.RepeatCount <= 0 {
		return "", false
	}
	normalized := normalize(text)
	if normalized == "" {
		return "", false
	}

	h := d.getHistory(key)
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := now.Add(-time.Duration(d.cfg.RepeatWindowSeconds) * time.Second)
	idx := 0
	for _, entry := range h.entries {
		if entry.at.After(cutoff) {
			break
		}
		idx++
	}
	h.entries = h.entries[idx:]
	h.entries = append(h.entries, recentMessage{text: normalized, at: now})

	identical := 0
	for _, entry := range h.entries {
		if entry.text == normalized {
			identical++
		}
	}
	if identical >= d.cfg.RepeatCount {
		return ReasonRepeatedContent, true
	}
	return "", false
}

func (d *Detector) getWindow(key string) *utils.SlidingWindow {
	d.mu.Lock()
	defer d.mu.Unlock()
	window := d.windows[key]
	if window == nil {
		window = utils.NewSlidingWindow(time.Minute)
		d.windows[key] = window
	}
	return window
}

func (d *Detector) getHistory(key string) *history {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.histories[key]
	if h == nil {
		h = &history{}
		d.histories[key] = h
	}
	return h
}

func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
