package sidpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseReuse(t *testing.T) {
	p := New(2)
	a, err := p.Acquire()
	require.NoError(t, err)
	b, err := p.Acquire()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = p.Acquire()
	assert.ErrorIs(t, err, ErrHubFull)

	p.Release(a)
	c, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestNeverIssuesReserved(t *testing.T) {
	p := New(4)
	for i := 0; i < 4; i++ {
		sid, err := p.Acquire()
		require.NoError(t, err)
		assert.False(t, sid.IsZero())
		assert.NotEqual(t, [2]byte{0, 1}, [2]byte(sid))
	}
}

func TestLenTracksCapacity(t *testing.T) {
	p := New(3)
	assert.Equal(t, 3, p.Cap())
	assert.Equal(t, 0, p.Len())
	_, _ = p.Acquire()
	assert.Equal(t, 1, p.Len())
}
