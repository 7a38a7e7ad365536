package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptNumbering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first, err := m.RecordStart(ctx, "f1", "pay", "h1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Attempt)

	second, err := m.RecordStart(ctx, "f1", "pay", "h1")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Attempt)

	other, err := m.RecordStart(ctx, "f1", "ship", "h1")
	require.NoError(t, err)
	assert.Equal(t, 1, other.Attempt, "attempts count per step")
}

func TestAttemptNumberingConcurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := m.RecordStart(ctx, "f1", "pay", "h1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	records, err := m.Records(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, records, n)
	seen := map[int]bool{}
	for _, record := range records {
		assert.False(t, seen[record.Attempt], "attempt %d duplicated", record.Attempt)
		seen[record.Attempt] = true
	}
}

func TestHasExecutedSuccessfully(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	record, err := m.RecordStart(ctx, "f1", "pay", "h1")
	require.NoError(t, err)

	_, ok, err := m.HasExecutedSuccessfully(ctx, "f1", "pay", "h1")
	require.NoError(t, err)
	assert.False(t, ok, "a started record is not a success")

	require.NoError(t, m.RecordCompletion(ctx, record, "out1", map[string]interface{}{"receipt": "r-1"}))

	cached, ok, err := m.HasExecutedSuccessfully(ctx, "f1", "pay", "h1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RecordCompleted, cached.Status)
	assert.Equal(t, "out1", cached.OutputHash)

	_, ok, err = m.HasExecutedSuccessfully(ctx, "f1", "pay", "different-inputs")
	require.NoError(t, err)
	assert.False(t, ok, "only the exact input hash reuses a result")
}

func TestRecordFailure(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	record, err := m.RecordStart(ctx, "f1", "pay", "h1")
	require.NoError(t, err)
	require.NoError(t, m.RecordFailure(ctx, record, errors.New("card declined")))

	assert.Equal(t, RecordFailed, record.Status)
	assert.Equal(t, "card declined", record.Error)
	require.NotNil(t, record.CompletedAt)

	_, ok, err := m.HasExecutedSuccessfully(ctx, "f1", "pay", "h1")
	require.NoError(t, err)
	assert.False(t, ok)
}
