package retention

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJob_RecordResult_TracksCounts(t *testing.T) {
	j := newJob()
	j.setTotal(3)
	j.recordResult(true)
	j.recordResult(true)
	j.recordResult(false)
	j.finish("done")

	snap := j.Snapshot()
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 3, snap.Current)
	assert.Equal(t, 2, snap.Succeeded)
	assert.Equal(t, 1, snap.Failed)
	assert.True(t, snap.Done)
	assert.Equal(t, "done", snap.StatusMessage)
}

func TestRegistry_GetReturnsStartedJob(t *testing.T) {
	r := NewRegistry()
	j := r.start()

	got := r.Get(j.ID())
	assert.Same(t, j, got)
}

func TestRegistry_GetUnknownIDReturnsNil(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Get(newJob().ID()))
}

func TestRegistry_EvictsOldestPastCapacity(t *testing.T) {
	r := NewRegistry()
	first := r.start()
	for i := 0; i < maxKeptJobs; i++ {
		r.start()
	}
	assert.Nil(t, r.Get(first.ID()))
}
