package limiter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireNonBlocking(t *testing.T) {
	s := New(2)

	releaseA, err := s.Acquire("a")
	require.NoError(t, err)
	_, err = s.Acquire("b")
	require.NoError(t, err)

	_, err = s.Acquire("c")
	assert.ErrorIs(t, err, ErrNoSlot, "a full limiter fails immediately")

	releaseA()
	releaseC, err := s.Acquire("c")
	require.NoError(t, err)
	releaseC()
}

func TestReleaseIdempotent(t *testing.T) {
	s := New(1)

	release, err := s.Acquire("a")
	require.NoError(t, err)
	release()
	release()
	release()

	// A single slot must be claimable exactly once after the repeated
	// releases.
	_, err = s.Acquire("b")
	require.NoError(t, err)
	_, err = s.Acquire("c")
	assert.ErrorIs(t, err, ErrNoSlot)
}

func TestStatus(t *testing.T) {
	s := New(3)
	release, err := s.Acquire("a")
	require.NoError(t, err)

	status := s.Status()
	assert.Equal(t, 3, status.MaxSlots)
	assert.Equal(t, 1, status.Active)
	assert.Contains(t, status.AcquiredAt, "a")

	release()
	assert.Equal(t, 0, s.Status().Active)
}
