package fec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeReconstructNoLoss(t *testing.T) {
	codec, err := New(4, 2)
	require.NoError(t, err)

	shards := [][]byte{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
		{9, 10, 11, 12},
		{13, 14, 15, 16},
		make([]byte, 4),
		make([]byte, 4),
	}
	require.NoError(t, codec.Encode(shards))

	present := []bool{true, true, true, true, true, true}
	assert.NoError(t, codec.Reconstruct(shards, present))
}

func TestReconstructRecoversFromParityLoss(t *testing.T) {
	codec, err := New(4, 2)
	require.NoError(t, err)

	original := [][]byte{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
		{9, 10, 11, 12},
		{13, 14, 15, 16},
		make([]byte, 4),
		make([]byte, 4),
	}
	require.NoError(t, codec.Encode(original))

	damaged := make([][]byte, len(original))
	for i, s := range original {
		damaged[i] = append([]byte(nil), s...)
	}
	present := []bool{true, false, true, false, true, true}
	damaged[1] = nil
	damaged[3] = nil

	require.NoError(t, codec.Reconstruct(damaged, present))
	assert.Equal(t, original[1], damaged[1])
	assert.Equal(t, original[3], damaged[3])
}

func TestNewRejectsTooManyShards(t *testing.T) {
	_, err := New(200, 100)
	assert.ErrorIs(t, err, ErrTooManyShards)
}

func TestNewRejectsZeroDataShards(t *testing.T) {
	_, err := New(0, 1)
	assert.Error(t, err)
}
