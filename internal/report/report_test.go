package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkaneko/worksync/internal/repository"
	"github.com/mkaneko/worksync/internal/tracker"
)

func TestBuild(t *testing.T) {
	stats := repository.FailureStats{
		TotalFailedWorks: 100,
		RecoveredWorks:   75,
		UnrecoveredWorks: 25,
		FailureReasons: map[repository.FailureReason]int{
			repository.ReasonTimeout:      15,
			repository.ReasonAPIError:     8,
			repository.ReasonNetworkError: 2,
		},
	}

	now := time.Now()
	rep := Build(stats, 12, now)

	assert.Equal(t, 175, rep.TotalWorks)
	assert.InDelta(t, 85.714, rep.SuccessRate, 0.001)
	assert.Equal(t, 12, rep.RecoveredThisWeek)
	assert.Equal(t, 25, rep.StillFailingCount)
	assert.Equal(t, now, rep.GeneratedAt)

	require.Len(t, rep.TopFailureReasons, 3)
	assert.Equal(t, ReasonCount{Reason: repository.ReasonTimeout, Count: 15}, rep.TopFailureReasons[0])
	assert.Equal(t, ReasonCount{Reason: repository.ReasonAPIError, Count: 8}, rep.TopFailureReasons[1])
	assert.Equal(t, ReasonCount{Reason: repository.ReasonNetworkError, Count: 2}, rep.TopFailureReasons[2])
}

func TestBuild_EmptyStats(t *testing.T) {
	rep := Build(repository.FailureStats{}, 0, time.Now())

	// Nothing ever flagged means nothing is failing.
	assert.Equal(t, 0, rep.TotalWorks)
	assert.Equal(t, 100.0, rep.SuccessRate)
	assert.Empty(t, rep.TopFailureReasons)
}

func TestBuild_TruncatesReasonList(t *testing.T) {
	stats := repository.FailureStats{
		TotalFailedWorks: 21,
		UnrecoveredWorks: 21,
		FailureReasons: map[repository.FailureReason]int{
			repository.ReasonTimeout:      6,
			repository.ReasonAPIError:     5,
			repository.ReasonNetworkError: 4,
			repository.ReasonNotFound:     3,
			repository.ReasonParseError:   2,
			"other":                       1,
		},
	}

	rep := Build(stats, 0, time.Now())

	require.Len(t, rep.TopFailureReasons, TopReasonLimit)
	for i := 1; i < len(rep.TopFailureReasons); i++ {
		assert.GreaterOrEqual(t,
			rep.TopFailureReasons[i-1].Count,
			rep.TopFailureReasons[i].Count,
			"reasons must be sorted by count descending",
		)
	}
}

func TestWeekly(t *testing.T) {
	failures := repository.NewMockFailureRepository()
	ctx := context.Background()

	require.NoError(t, failures.RecordFailure(ctx, "RJ1", repository.ReasonTimeout, ""))
	require.NoError(t, failures.RecordFailure(ctx, "RJ2", repository.ReasonTimeout, ""))
	require.NoError(t, failures.RecordFailure(ctx, "RJ3", repository.ReasonNetworkError, ""))
	require.NoError(t, failures.MarkRecovered(ctx, "RJ1"))

	builder := NewBuilder(tracker.New(failures))
	rep, err := builder.Weekly(ctx)
	require.NoError(t, err)

	assert.Equal(t, 4, rep.TotalWorks)
	assert.Equal(t, 2, rep.StillFailingCount)
	assert.Equal(t, 1, rep.RecoveredThisWeek)
	assert.InDelta(t, 50.0, rep.SuccessRate, 0.001)
	assert.Equal(t, repository.ReasonTimeout, rep.TopFailureReasons[0].Reason)
}
