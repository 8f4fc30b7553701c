package screening

import (
	"testing"
	"time"

	"groupwarden/internal/config"
)

func TestJoinBurst(t *testing.T) {
	screener := New(config.ScreeningConfig{Joins: 3, WindowSeconds: 10})
	now := time.Now()

	for i := 0; i < 2; i++ {
		if _, flagged := screener.CheckJoin(1, "alice", now.Add(time.Duration(i)*time.Second)); flagged {
			t.Fatalf("join %d flagged early", i)
		}
	}
	reason, flagged := screener.CheckJoin(1, "carol", now.Add(2*time.Second))
	if !flagged || reason != ReasonJoinBurst {
		t.Fatalf("expected join_burst on 3rd join, got %q flagged=%t", reason, flagged)
	}

	if _, flagged := screener.CheckJoin(2, "dave", now); flagged {
		t.Fatalf("counters are per group")
	}
}

func TestSuspiciousUsername(t *testing.T) {
	screener := New(config.ScreeningConfig{Joins: 100, WindowSeconds: 10})

	reason, flagged := screener.CheckJoin(1, "Official_Support_77", time.Now())
	if !flagged || reason != ReasonSuspiciousUsername {
		t.Fatalf("expected suspicious_username, got %q flagged=%t", reason, flagged)
	}
	if _, flagged := screener.CheckJoin(1, "regular_person", time.Now()); flagged {
		t.Fatalf("plain username must pass")
	}
}
