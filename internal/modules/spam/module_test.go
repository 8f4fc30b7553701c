package spam

import (
	"testing"
	"time"

	"groupwarden/internal/config"
)

func testConfig() config.SpamConfig {
	return config.SpamConfig{
		RepeatCount:         3,
		RepeatWindowSeconds: 60,
		MaxLinks:            2,
		MessagesPerMinute:   10,
	}
}

func TestRepeatedContent(t *testing.T) {
	detector := New(testConfig())
	now := time.Now()

	for i := 0; i < 2; i++ {
		if _, flagged := detector.Classify(1, 2, "buy cheap coins", now.Add(time.Duration(i)*time.Second)); flagged {
			t.Fatalf("message %d flagged early", i)
		}
	}
	reason, flagged := detector.Classify(1, 2, "Buy  CHEAP coins", now.Add(10*time.Second))
	if !flagged || reason != ReasonRepeatedContent {
		t.Fatalf("expected repeated_content on 3rd identical message, got %q flagged=%t", reason, flagged)
	}
}

func TestRepeatedContentWindowRollover(t *testing.T) {
	detector := New(testConfig())
	now := time.Now()

	detector.Classify(1, 2, "hello", now)
	detector.Classify(1, 2, "hello", now.Add(time.Second))
	if _, flagged := detector.Classify(1, 2, "hello", now.Add(2*time.Minute)); flagged {
		t.Fatalf("repeats outside the window must not flag")
	}
}

func TestExcessiveLinks(t *testing.T) {
	detector := New(testConfig())

	reason, flagged := detector.Classify(1, 2, "https://a.com https://b.com https://c.com", time.Now())
	if !flagged || reason != ReasonExcessiveLinks {
		t.Fatalf("expected excessive_links, got %q flagged=%t", reason, flagged)
	}
	if _, flagged := detector.Classify(1, 3, "see https://a.com and https://b.com", time.Now()); flagged {
		t.Fatalf("two links is within the ceiling")
	}
}

func TestMessageFrequency(t *testing.T) {
	cfg := testConfig()
	cfg.MessagesPerMinute = 3
	detector := New(cfg)
	now := time.Now()

	var reason string
	var flagged bool
	for i := 0; i < 4; i++ {
		reason, flagged = detector.Classify(1, 2, "different message each time number "+string(rune('a'+i)), now.Add(time.Duration(i)*time.Second))
	}
	if !flagged || reason != ReasonMessageFrequency {
		t.Fatalf("expected message_frequency on 4th message, got %q flagged=%t", reason, flagged)
	}
}

func TestUsersDoNotShareWindows(t *testing.T) {
	cfg := testConfig()
	cfg.MessagesPerMinute = 2
	detector := New(cfg)
	now := time.Now()

	detector.Classify(1, 2, "one", now)
	detector.Classify(1, 2, "two", now)
	if _, flagged := detector.Classify(1, 3, "three", now); flagged {
		t.Fatalf("another user's count must start fresh")
	}
}
