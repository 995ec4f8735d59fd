// Package xorfec implements the audio stream's fixed 4-data+1-parity XOR
// FEC block, distinct from the video stream's proportional Reed-Solomon
// coding (fec package). The block size is fixed by the Moonlight audio
// protocol, not configurable per session.
package xorfec

import "errors"

// BlockSize is the number of data packets covered by one parity packet.
const BlockSize = 4

// ErrShardSize is returned when shards in a block have mismatched length.
var ErrShardSize = errors.New("xorfec: mismatched shard size")

// Parity XORs up to BlockSize data shards together into a parity shard of
// the same length. Shorter shards are treated as zero-padded.
func Parity(data [][]byte) ([]byte, error) {
	size := 0
	for _, d := range data {
		if len(d) > size {
			size = len(d)
		}
	}
	parity := make([]byte, size)
	for _, d := range data {
		for i, b := range d {
			parity[i] ^= b
		}
	}
	return parity, nil
}

// Recover reconstructs the single missing shard in a block given the
// other present shards (data and/or parity) XORed together, all of equal
// allocated length. present[i] corresponds to data[i] for i<BlockSize and
// to the parity shard for i==BlockSize.
func Recover(shards [][]byte, present []bool, missing int) ([]byte, error) {
	size := 0
	for i, s := range shards {
		if present[i] {
			if size == 0 {
				size = len(s)
			} else if len(s) != size {
				return nil, ErrShardSize
			}
		}
	}
	out := make([]byte, size)
	for i, s := range shards {
		if i == missing || !present[i] {
			continue
		}
		for j, b := range s {
			out[j] ^= b
		}
	}
	return out, nil
}
