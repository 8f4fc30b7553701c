package analytics

import (
	"context"
	"testing"
	"time"

	"groupwarden/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestReportAggregates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []storage.AuditLog{
		{GroupID: 10, UserID: 7, Level: "warn", Event: "moderation_warn", CreatedAt: base},
		{GroupID: 10, UserID: 7, Level: "warn", Event: "moderation_mute", CreatedAt: base.Add(time.Minute)},
		{GroupID: 10, UserID: 8, Level: "warn", Event: "moderation_warn", CreatedAt: base.Add(2 * time.Minute)},
		{GroupID: 10, UserID: 9, Level: "info", Event: "admin_unban", CreatedAt: base.Add(3 * time.Minute)},
		// outside the report window
		{GroupID: 10, UserID: 7, Level: "warn", Event: "moderation_warn", CreatedAt: base.Add(-2 * time.Hour)},
		// another group
		{GroupID: 11, UserID: 7, Level: "crit", Event: "admin_ban", CreatedAt: base},
	}
	for _, entry := range entries {
		if err := store.AddAuditLog(ctx, entry); err != nil {
			t.Fatalf("add audit log: %v", err)
		}
	}

	report, err := New(store).Report(ctx, 10, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	if report.Total != 4 {
		t.Fatalf("total = %d, want 4", report.Total)
	}
	if report.ByLevel["warn"] != 3 || report.ByLevel["info"] != 1 {
		t.Fatalf("by level = %v", report.ByLevel)
	}
	if report.ByEvent["moderation_warn"] != 2 || report.ByEvent["moderation_mute"] != 1 {
		t.Fatalf("by event = %v", report.ByEvent)
	}
	// admin actions never count toward offenders
	if report.TopUsers[9] != 0 {
		t.Fatalf("admin_unban must not count toward offenders: %v", report.TopUsers)
	}
	if report.TopUsers[7] != 2 || report.TopUsers[8] != 1 {
		t.Fatalf("top users = %v", report.TopUsers)
	}
}

func TestTopOffendersOrderAndLimit(t *testing.T) {
	report := Report{TopUsers: map[int64]int{7: 2, 8: 5, 9: 2, 11: 1}}

	offenders := report.TopOffenders(3)
	if len(offenders) != 3 {
		t.Fatalf("len = %d, want 3", len(offenders))
	}
	want := []OffenderCount{{UserID: 8, Count: 5}, {UserID: 7, Count: 2}, {UserID: 9, Count: 2}}
	for i, offender := range offenders {
		if offender != want[i] {
			t.Fatalf("offender %d = %+v, want %+v", i, offender, want[i])
		}
	}
}
