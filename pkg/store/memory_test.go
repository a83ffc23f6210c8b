package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_AppendAndRead(t *testing.T) {
	s := NewMemoryStore(0)
	assert.EqualValues(t, 0, s.MaxPhyOffset())

	require.True(t, s.AppendToCommitLog(0, []byte("hello")))
	require.True(t, s.AppendToCommitLog(5, []byte("world")))
	assert.EqualValues(t, 10, s.MaxPhyOffset())

	got, ok := s.Read(0, 5)
	require.True(t, ok)
	assert.Equal(t, "hello", string(got))

	got, ok = s.Read(5, 5)
	require.True(t, ok)
	assert.Equal(t, "world", string(got))
}

func TestMemoryStore_AppendRejectsOffsetMismatch(t *testing.T) {
	s := NewMemoryStore(0)
	require.True(t, s.AppendToCommitLog(0, []byte("ab")))
	assert.False(t, s.AppendToCommitLog(5, []byte("cd")))
}

func TestMemoryStore_TruncateFiles(t *testing.T) {
	s := NewMemoryStore(0)
	require.True(t, s.AppendToCommitLog(0, []byte("0123456789")))
	require.True(t, s.TruncateFiles(5))
	assert.EqualValues(t, 5, s.MaxPhyOffset())

	_, ok := s.Read(6, 1)
	assert.False(t, ok)

	got, ok := s.Read(0, 5)
	require.True(t, ok)
	assert.Equal(t, "01234", string(got))
}
