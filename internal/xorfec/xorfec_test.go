package xorfec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParityRecoversSingleMissingShard(t *testing.T) {
	data := [][]byte{
		{1, 2, 3},
		{4, 5, 6},
		{7, 8, 9},
		{10, 11, 12},
	}
	parity, err := Parity(data)
	require.NoError(t, err)

	shards := [][]byte{data[0], data[1], data[2], data[3], parity}
	present := []bool{true, true, false, true, true}

	recovered, err := Recover(shards, present, 2)
	require.NoError(t, err)
	assert.Equal(t, data[2], recovered)
}

func TestParityRecoversFromParityItself(t *testing.T) {
	data := [][]byte{
		{1, 1},
		{2, 2},
		{3, 3},
		{4, 4},
	}
	parity, err := Parity(data)
	require.NoError(t, err)

	shards := [][]byte{data[0], data[1], data[2], data[3], nil}
	present := []bool{true, true, true, true, false}

	recovered, err := Recover(shards, present, BlockSize)
	require.NoError(t, err)
	assert.Equal(t, parity, recovered)
}
