package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlotLatestEmptyInitially(t *testing.T) {
	s := NewSlot()
	_, version, ok := s.Latest()
	assert.False(t, ok)
	assert.Equal(t, uint64(0), version)
}

func TestSlotKeepsLatestOnOverwrite(t *testing.T) {
	s := NewSlot()
	s.Put(Frame{Sequence: 1})
	s.Put(Frame{Sequence: 2})
	s.Put(Frame{Sequence: 3})

	frame, version, ok := s.Latest()
	assert.True(t, ok)
	assert.Equal(t, uint64(3), frame.Sequence)
	assert.Equal(t, uint64(3), version)
}

func TestSlotVersionStableBetweenReads(t *testing.T) {
	s := NewSlot()
	s.Put(Frame{Sequence: 1})

	_, v1, _ := s.Latest()
	_, v2, _ := s.Latest()
	assert.Equal(t, v1, v2)
}
