package epoch

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindConsistentPoint_IdenticalHistory(t *testing.T) {
	// spec.md §8 scenario 3: slave is a clean prefix of the master, no divergence.
	master := New(nil)
	require.NoError(t, master.Append(Entry{Epoch: 1, StartOffset: 0}))
	require.NoError(t, master.Append(Entry{Epoch: 2, StartOffset: 1570}))
	master.SetLastEntryEndOffset(3140)

	slave := New(nil)
	require.NoError(t, slave.Append(Entry{Epoch: 1, StartOffset: 0}))
	slave.SetLastEntryEndOffset(1570)

	point := slave.FindConsistentPoint(master)
	assert.EqualValues(t, 1570, point)
}

func TestFindConsistentPoint_DivergentSlave(t *testing.T) {
	// spec.md §8 scenario 4: new master B has epoch 3 where the old master had epoch 2.
	slave := New(nil)
	require.NoError(t, slave.Append(Entry{Epoch: 1, StartOffset: 0}))
	require.NoError(t, slave.Append(Entry{Epoch: 2, StartOffset: 1570}))
	slave.SetLastEntryEndOffset(3000)

	newMaster := New(nil)
	require.NoError(t, newMaster.Append(Entry{Epoch: 1, StartOffset: 0}))
	require.NoError(t, newMaster.Append(Entry{Epoch: 3, StartOffset: 1570}))
	newMaster.SetLastEntryEndOffset(4000)

	point := slave.FindConsistentPoint(newMaster)
	assert.EqualValues(t, 1570, point)

	require.NoError(t, slave.TruncateSuffixFromOffset(point))
	last, ok := slave.LastEntry()
	require.True(t, ok)
	assert.EqualValues(t, 1, last.Epoch)
	assert.EqualValues(t, 1570, slave.LastEntryEndOffset())
}

func TestFindConsistentPoint_NoCommonEpoch(t *testing.T) {
	a := New(nil)
	require.NoError(t, a.Append(Entry{Epoch: 5, StartOffset: 100}))
	b := New(nil)
	require.NoError(t, b.Append(Entry{Epoch: 7, StartOffset: 200}))

	assert.EqualValues(t, -1, a.FindConsistentPoint(b))
}

func TestFindConsistentPoint_SameEpochDifferentStart(t *testing.T) {
	// same epoch id but different history: not the same term, must not match.
	a := New(nil)
	require.NoError(t, a.Append(Entry{Epoch: 2, StartOffset: 100}))
	b := New(nil)
	require.NoError(t, b.Append(Entry{Epoch: 2, StartOffset: 500}))

	assert.EqualValues(t, -1, a.FindConsistentPoint(b))
}

func TestTruncateSuffixFromOffset_Idempotent(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Append(Entry{Epoch: 1, StartOffset: 0}))
	require.NoError(t, c.Append(Entry{Epoch: 2, StartOffset: 100}))
	c.SetLastEntryEndOffset(300)

	require.NoError(t, c.TruncateSuffixFromOffset(150))
	first := c.AllEntries()
	require.NoError(t, c.TruncateSuffixFromOffset(150))
	second := c.AllEntries()
	assert.Equal(t, first, second)
	assert.EqualValues(t, 150, c.LastEntryEndOffset())
}

func TestAppend_RejectsNonMonotonicEpoch(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Append(Entry{Epoch: 3, StartOffset: 0}))
	err := c.Append(Entry{Epoch: 3, StartOffset: 50})
	assert.Error(t, err)
	err = c.Append(Entry{Epoch: 2, StartOffset: 50})
	assert.Error(t, err)
}

func TestAppend_RejectsRegressingOffset(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Append(Entry{Epoch: 1, StartOffset: 100}))
	c.SetLastEntryEndOffset(500)
	err := c.Append(Entry{Epoch: 2, StartOffset: 200})
	assert.Error(t, err)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "epoch.checkpoint")

	c, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, c.Append(Entry{Epoch: 1, StartOffset: 0}))
	require.NoError(t, c.Append(Entry{Epoch: 2, StartOffset: 1000}))
	require.NoError(t, c.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	entries := reopened.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Epoch: 1, StartOffset: 0}, entries[0])
	assert.Equal(t, Entry{Epoch: 2, StartOffset: 1000}, entries[1])
}

func TestTruncatePrefixBeforeOffset(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Append(Entry{Epoch: 1, StartOffset: 0}))
	require.NoError(t, c.Append(Entry{Epoch: 2, StartOffset: 100}))
	require.NoError(t, c.Append(Entry{Epoch: 3, StartOffset: 200}))
	c.SetLastEntryEndOffset(400)

	require.NoError(t, c.TruncatePrefixBeforeOffset(150))
	entries := c.AllEntries()
	require.Len(t, entries, 2)
	assert.EqualValues(t, 150, entries[0].StartOffset)
	assert.EqualValues(t, 2, entries[0].Epoch)
}
