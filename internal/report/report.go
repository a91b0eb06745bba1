// Package report builds the weekly ingestion health summary from failure
// tracker statistics.
package report

import (
	"context"
	"sort"
	"time"

	"github.com/mkaneko/worksync/internal/repository"
	"github.com/mkaneko/worksync/internal/tracker"
)

// TopReasonLimit caps how many failure reasons the report lists.
const TopReasonLimit = 5

type ReasonCount struct {
	Reason repository.FailureReason `json:"reason"`
	Count  int                      `json:"count"`
}

// HealthReport is the weekly aggregate. TotalWorks counts items ever flagged
// by the tracker plus those recovered, not the catalog size.
type HealthReport struct {
	TotalWorks        int           `json:"totalWorks"`
	SuccessRate       float64       `json:"successRate"`
	RecoveredThisWeek int           `json:"recoveredThisWeek"`
	StillFailingCount int           `json:"stillFailingCount"`
	TopFailureReasons []ReasonCount `json:"topFailureReasons"`
	GeneratedAt       time.Time     `json:"generatedAt"`
}

// Build derives a HealthReport from the given statistics.
// SuccessRate is the share of TotalWorks not currently failing, in percent.
// A system with nothing ever flagged is fully healthy, so the empty case
// reports 100.
func Build(stats repository.FailureStats, recoveredThisWeek int, generatedAt time.Time) HealthReport {
	totalWorks := stats.TotalFailedWorks + stats.RecoveredWorks

	successRate := 100.0
	if totalWorks > 0 {
		successRate = float64(totalWorks-stats.UnrecoveredWorks) / float64(totalWorks) * 100
	}

	return HealthReport{
		TotalWorks:        totalWorks,
		SuccessRate:       successRate,
		RecoveredThisWeek: recoveredThisWeek,
		StillFailingCount: stats.UnrecoveredWorks,
		TopFailureReasons: topReasons(stats.FailureReasons, TopReasonLimit),
		GeneratedAt:       generatedAt,
	}
}

// Builder fetches tracker state and assembles the weekly report.
type Builder struct {
	tracker *tracker.Tracker
	now     func() time.Time
}

func NewBuilder(tr *tracker.Tracker) *Builder {
	return &Builder{
		tracker: tr,
		now:     time.Now,
	}
}

func (b *Builder) Weekly(ctx context.Context) (HealthReport, error) {
	stats, err := b.tracker.Statistics(ctx)
	if err != nil {
		return HealthReport{}, err
	}

	generatedAt := b.now()
	recovered, err := b.tracker.RecoveredSince(ctx, generatedAt.AddDate(0, 0, -7))
	if err != nil {
		return HealthReport{}, err
	}

	return Build(stats, recovered, generatedAt), nil
}

func topReasons(reasons map[repository.FailureReason]int, limit int) []ReasonCount {
	counts := make([]ReasonCount, 0, len(reasons))
	for reason, count := range reasons {
		counts = append(counts, ReasonCount{Reason: reason, Count: count})
	}

	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Reason < counts[j].Reason
	})

	if len(counts) > limit {
		counts = counts[:limit]
	}
	return counts
}
