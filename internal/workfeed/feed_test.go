package workfeed

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestFeed(t *testing.T) (*Feed, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	f, err := NewFeed(mr.Addr())
	require.NoError(t, err)

	return f, mr
}

func TestNewFeed(t *testing.T) {
	f, mr := setupTestFeed(t)
	defer mr.Close()
	defer func() { _ = f.Close() }()

	assert.NotNil(t, f)
	assert.NotNil(t, f.client)
}

func TestNewFeed_InvalidAddress(t *testing.T) {
	_, err := NewFeed("invalid:99999")
	assert.Error(t, err)
}

func TestPushAndDrain(t *testing.T) {
	f, mr := setupTestFeed(t)
	defer mr.Close()
	defer func() { _ = f.Close() }()

	added, err := f.Push("RJ00000001")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = f.Push("RJ00000002")
	require.NoError(t, err)
	assert.True(t, added)

	ids, err := f.Drain(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"RJ00000001", "RJ00000002"}, ids)
}

func TestPushDeduplicates(t *testing.T) {
	f, mr := setupTestFeed(t)
	defer mr.Close()
	defer func() { _ = f.Close() }()

	added, err := f.Push("RJ00000001")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = f.Push("RJ00000001")
	require.NoError(t, err)
	assert.False(t, added)

	n, err := f.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPushMany(t *testing.T) {
	f, mr := setupTestFeed(t)
	defer mr.Close()
	defer func() { _ = f.Close() }()

	queued, err := f.PushMany([]string{"RJ1", "RJ2", "RJ1", "RJ3"})
	require.NoError(t, err)
	assert.Equal(t, 3, queued)
}

func TestDrainEmptyFeed(t *testing.T) {
	f, mr := setupTestFeed(t)
	defer mr.Close()
	defer func() { _ = f.Close() }()

	ids, err := f.Drain(5)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDrainRespectsMax(t *testing.T) {
	f, mr := setupTestFeed(t)
	defer mr.Close()
	defer func() { _ = f.Close() }()

	_, err := f.PushMany([]string{"RJ1", "RJ2", "RJ3"})
	require.NoError(t, err)

	ids, err := f.Drain(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"RJ1", "RJ2"}, ids)

	n, err := f.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDrainedIDCanBePushedAgain(t *testing.T) {
	f, mr := setupTestFeed(t)
	defer mr.Close()
	defer func() { _ = f.Close() }()

	_, err := f.Push("RJ00000001")
	require.NoError(t, err)

	_, err = f.Drain(1)
	require.NoError(t, err)

	added, err := f.Push("RJ00000001")
	require.NoError(t, err)
	assert.True(t, added)
}

func TestRequeue(t *testing.T) {
	f, mr := setupTestFeed(t)
	defer mr.Close()
	defer func() { _ = f.Close() }()

	_, err := f.PushMany([]string{"RJ1", "RJ2"})
	require.NoError(t, err)

	ids, err := f.Drain(1)
	require.NoError(t, err)
	require.Equal(t, []string{"RJ1"}, ids)

	require.NoError(t, f.Requeue("RJ1"))

	ids, err = f.Drain(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"RJ1", "RJ2"}, ids)
}

func TestRequeueAlreadyQueued(t *testing.T) {
	f, mr := setupTestFeed(t)
	defer mr.Close()
	defer func() { _ = f.Close() }()

	_, err := f.Push("RJ1")
	require.NoError(t, err)

	require.NoError(t, f.Requeue("RJ1"))

	n, err := f.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
