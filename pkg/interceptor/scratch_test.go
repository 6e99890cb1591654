package interceptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchScratchPutTakeRoundTrip(t *testing.T) {
	s := NewBatchScratch(500 * 1024)
	images := []RowImage{{"id": "1", "quantity": "10"}}

	require := assert.New(t)
	require.NoError(s.Put("xid-1", 0, 0, images))

	got, ok := s.Take("xid-1", 0, 0)
	require.True(ok)
	require.Equal(images, got)
}

func TestBatchScratchTakeRemovesEntry(t *testing.T) {
	s := NewBatchScratch(500 * 1024)
	assert.NoError(t, s.Put("xid-1", 0, 0, []RowImage{{"id": "1"}}))

	_, ok := s.Take("xid-1", 0, 0)
	assert.True(t, ok)

	_, ok = s.Take("xid-1", 0, 0)
	assert.False(t, ok)
}

func TestBatchScratchTakeMissOnUnknownKey(t *testing.T) {
	s := NewBatchScratch(500 * 1024)
	_, ok := s.Take("xid-absent", 0, 0)
	assert.False(t, ok)
}

func TestBatchScratchResetClearsAllEntries(t *testing.T) {
	s := NewBatchScratch(500 * 1024)
	assert.NoError(t, s.Put("xid-1", 0, 0, []RowImage{{"id": "1"}}))
	assert.NoError(t, s.Put("xid-2", 1, 3, []RowImage{{"id": "2"}}))

	s.Reset()

	_, ok := s.Take("xid-1", 0, 0)
	assert.False(t, ok)
	_, ok = s.Take("xid-2", 1, 3)
	assert.False(t, ok)
}
