// Package analytics summarizes a group's audit trail for the /modstats
// command.
package analytics

import (
	"context"
	"sort"
	"strings"
	"time"

	"groupwarden/internal/storage"
)

type Service struct {
	store *storage.Store
}

func New(store *storage.Store) *Service {
	return &Service{store: store}
}

type Report struct {
	Total    int
	ByLevel  map[string]int
	ByEvent  map[string]int
	TopUsers map[int64]int
}

// Report aggregates audit entries for one group since the given time.
// Admin actions are grouped separately from automatic moderation by the
// event name prefix; TopUsers counts only automatic enforcements.
func (s *Service) Report(ctx context.Context, groupID int64, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, groupID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		ByLevel:  make(map[string]int),
		ByEvent:  make(map[string]int),
		TopUsers: make(map[int64]int),
	}
	for _, entry := range logs {
		report.Total++
		report.ByLevel[entry.Level]++
		report.ByEvent[entry.Event]++
		if strings.HasPrefix(entry.Event, "moderation_") && entry.UserID != 0 {
			report.TopUsers[entry.UserID]++
		}
	}
	return report, nil
}

type OffenderCount struct {
	UserID int64
	Count  int
}

// TopOffenders returns up to limit users ordered by enforcement count,
// ties broken by user id so the output is stable.
func (r Report) TopOffenders(limit int) []OffenderCount {
	offenders := make([]OffenderCount, 0, len(r.TopUsers))
	for userID, count := range r.TopUsers {
		offenders = append(offenders, OffenderCount{UserID: userID, Count: count})
	}
	sort.Slice(offenders, func(i, j int) bool {
		if offenders[i].Count != offenders[j].Count {
			return offenders[i].Count > offenders[j].Count
		}
		return offenders[i].UserID < offenders[j].UserID
	})
	if limit > 0 && len(offenders) > limit {
		offenders = offenders[:limit]
	}
	return offenders
}
