package metrics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingKeepsNewest(t *testing.T) {
	r := NewRing(2)
	t1 := time.Unix(1, 0)
	t2 := time.Unix(2, 0)
	t3 := time.Unix(3, 0)
	r.Add(Snapshot{Time: t1})
	r.Add(Snapshot{Time: t2})
	r.Add(Snapshot{Time: t3})

	got := r.History()
	require.Len(t, got, 2)
	assert.Equal(t, t2, got[0].Time)
	assert.Equal(t, t3, got[1].Time)
}

func TestRingClear(t *testing.T) {
	r := NewRing(4)
	r.Add(Snapshot{})
	r.Add(Snapshot{})
	assert.Equal(t, 2, r.Len())

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.History())
}

func TestCollectorSamplesSelf(t *testing.T) {
	r := NewRing(8)
	c, err := NewCollector(r)
	require.NoError(t, err)

	require.NoError(t, c.Collect(context.Background()))

	got := r.History()
	require.Len(t, got, 1)
	assert.NotZero(t, got[0].APIMemoryBytes, "own RSS should be measurable")
	assert.Nil(t, got[0].GameCPUPercent)
	assert.Nil(t, got[0].GameMemoryBytes)
}

func TestCollectorTracksGameProcess(t *testing.T) {
	r := NewRing(8)
	c, err := NewCollector(r)
	require.NoError(t, err)

	// Use our own pid as a stand-in for the game process.
	c.TrackGame(os.Getpid())
	require.NoError(t, c.Collect(context.Background()))

	got := r.History()
	require.Len(t, got, 1)
	require.NotNil(t, got[0].GameMemoryBytes)
	assert.NotZero(t, *got[0].GameMemoryBytes)

	c.UntrackGame()
	require.NoError(t, c.Collect(context.Background()))
	assert.Nil(t, r.History()[1].GameMemoryBytes)
}
