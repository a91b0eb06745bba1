package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mkaneko/worksync/internal/work"
)

// MockWorkRepository is an in-memory WorkRepository that records calls and
// lets tests inject errors.
type MockWorkRepository struct {
	mu sync.Mutex

	Works     map[string]*work.Record
	Snapshots map[string]*work.PriceSnapshot // keyed workID|date

	UpsertWorkCalls     []string
	UpsertSnapshotCalls []string

	UpsertWorkError     error
	UpsertSnapshotError error
	GetWorkError        error
}

func NewMockWorkRepository() *MockWorkRepository {
	return &MockWorkRepository{
		Works:     make(map[string]*work.Record),
		Snapshots: make(map[string]*work.PriceSnapshot),
	}
}

func snapshotKey(workID, date string) string {
	return workID + "|" + date
}

func (m *MockWorkRepository) UpsertWork(ctx context.Context, rec *work.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpsertWorkCalls = append(m.UpsertWorkCalls, rec.ID)
	if m.UpsertWorkError != nil {
		return m.UpsertWorkError
	}

	recCopy := *rec
	m.Works[rec.ID] = &recCopy
	return nil
}

func (m *MockWorkRepository) GetWork(ctx context.Context, workID string) (*work.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetWorkError != nil {
		return nil, m.GetWorkError
	}

	rec, exists := m.Works[workID]
	if !exists {
		return nil, fmt.Errorf("work %s: %w", workID, ErrNotFound)
	}

	recCopy := *rec
	return &recCopy, nil
}

func (m *MockWorkRepository) UpsertSnapshot(ctx context.Context, snap *work.PriceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpsertSnapshotCalls = append(m.UpsertSnapshotCalls, snapshotKey(snap.WorkID, snap.Date))
	if m.UpsertSnapshotError != nil {
		return m.UpsertSnapshotError
	}

	snapCopy := *snap
	m.Snapshots[snapshotKey(snap.WorkID, snap.Date)] = &snapCopy
	return nil
}

func (m *MockWorkRepository) GetSnapshot(ctx context.Context, workID, date string) (*work.PriceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, exists := m.Snapshots[snapshotKey(workID, date)]
	if !exists {
		return nil, fmt.Errorf("snapshot not found: %s %s", workID, date)
	}

	snapCopy := *snap
	return &snapCopy, nil
}

func (m *MockWorkRepository) ListSnapshots(ctx context.Context, workID string, limit int) ([]work.PriceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var snaps []work.PriceSnapshot
	for _, snap := range m.Snapshots {
		if snap.WorkID == workID {
			snaps = append(snaps, *snap)
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Date > snaps[j].Date })
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps, nil
}

func (m *MockWorkRepository) CountWorks(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Works), nil
}

func (m *MockWorkRepository) SnapshotCount(workID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, snap := range m.Snapshots {
		if snap.WorkID == workID {
			count++
		}
	}
	return count
}

func (m *MockWorkRepository) Close() error {
	return nil
}

// MockFailureRepository is an in-memory FailureRepository with call records
// and injectable errors, mirroring MockWorkRepository.
type MockFailureRepository struct {
	mu sync.Mutex

	Records map[string]*FailureRecord

	RecordFailureCalls []string
	MarkRecoveredCalls []string

	RecordFailureError error
	MarkRecoveredError error
	StatsError         error
	UnrecoveredError   error
}

func NewMockFailureRepository() *MockFailureRepository {
	return &MockFailureRepository{
		Records: make(map[string]*FailureRecord),
	}
}

func (m *MockFailureRepository) RecordFailure(ctx context.Context, workID string, reason FailureReason, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RecordFailureCalls = append(m.RecordFailureCalls, workID)
	if m.RecordFailureError != nil {
		return m.RecordFailureError
	}

	now := time.Now()
	if rec, exists := m.Records[workID]; exists {
		rec.AttemptCount++
		rec.Reason = reason
		rec.ErrorDetail = detail
		rec.LastFailedAt = now
		rec.Recovered = false
		rec.RecoveredAt = nil
		return nil
	}

	m.Records[workID] = &FailureRecord{
		WorkID:        workID,
		Reason:        reason,
		AttemptCount:  1,
		ErrorDetail:   detail,
		FirstFailedAt: now,
		LastFailedAt:  now,
	}
	return nil
}

func (m *MockFailureRepository) MarkRecovered(ctx context.Context, workID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.MarkRecoveredCalls = append(m.MarkRecoveredCalls, workID)
	if m.MarkRecoveredError != nil {
		return m.MarkRecoveredError
	}

	if rec, exists := m.Records[workID]; exists && !rec.Recovered {
		now := time.Now()
		rec.Recovered = true
		rec.RecoveredAt = &now
	}
	return nil
}

func (m *MockFailureRepository) GetFailure(ctx context.Context, workID string) (*FailureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.Records[workID]
	if !exists {
		return nil, fmt.Errorf("failure record not found: %s", workID)
	}

	recCopy := *rec
	return &recCopy, nil
}

func (m *MockFailureRepository) Stats(ctx context.Context) (FailureStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.StatsError != nil {
		return FailureStats{}, m.StatsError
	}

	stats := FailureStats{FailureReasons: make(map[FailureReason]int)}
	for _, rec := range m.Records {
		stats.TotalFailedWorks++
		if rec.Recovered {
			stats.RecoveredWorks++
		} else {
			stats.UnrecoveredWorks++
		}
		stats.FailureReasons[rec.Reason]++
	}
	return stats, nil
}

func (m *MockFailureRepository) Unrecovered(ctx context.Context, minAttempts, limit int) ([]FailureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UnrecoveredError != nil {
		return nil, m.UnrecoveredError
	}

	var records []FailureRecord
	for _, rec := range m.Records {
		if rec.Recovered || rec.AttemptCount < minAttempts {
			continue
		}
		records = append(records, *rec)
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records, nil
}

func (m *MockFailureRepository) RecoveredSince(ctx context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, rec := range m.Records {
		if rec.Recovered && rec.RecoveredAt != nil && !rec.RecoveredAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MockFailureRepository) DeleteRecoveredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for id, rec := range m.Records {
		if rec.Recovered && rec.RecoveredAt != nil && rec.RecoveredAt.Before(cutoff) {
			delete(m.Records, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MockFailureRepository) Close() error {
	return nil
}
