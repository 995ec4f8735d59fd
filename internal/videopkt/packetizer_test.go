package videopkt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftcast/moonshine/internal/cryptox"
	"github.com/riftcast/moonshine/internal/protocol"
	"github.com/riftcast/moonshine/internal/types"
)

func testCrypto(t *testing.T) *cryptox.Context {
	t.Helper()
	ctx, err := cryptox.New([16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	require.NoError(t, err)
	return ctx
}

func TestPacketizeDropsEmptyPacket(t *testing.T) {
	p := New(1024, 20, testCrypto(t), [8]byte{})
	shards, err := p.Packetize(types.EncodedPacket{})
	require.NoError(t, err)
	assert.Nil(t, shards)
}

func TestPacketizeShardCountAndFlags(t *testing.T) {
	p := New(64, 20, testCrypto(t), [8]byte{})
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}

	shards, err := p.Packetize(types.EncodedPacket{Data: data, FrameIndex: 5, IsIDR: true})
	require.NoError(t, err)
	require.NotEmpty(t, shards)

	shardSize := p.dataShardSize()
	wantData := ceilDiv(len(data), shardSize)
	wantParity := parityCount(wantData, 20)
	assert.Equal(t, wantData+wantParity, len(shards))

	for i, s := range shards {
		assert.Equal(t, uint32(5), s.FrameIndex)
		assert.Equal(t, uint16(i), s.ShardIndex)
		assert.NotZero(t, s.Flags&types.ShardFlagIDR)
		if i == 0 {
			assert.NotZero(t, s.Flags&types.ShardFlagSOF)
		}
		if i == wantData-1 {
			assert.NotZero(t, s.Flags&types.ShardFlagEOF)
		}
	}
}

func TestPacketizeErrorsPastShardCeiling(t *testing.T) {
	p := New(16, 100, testCrypto(t), [8]byte{})
	data := make([]byte, 100000)

	_, err := p.Packetize(types.EncodedPacket{Data: data})
	assert.Error(t, err)
}

func TestMarshalRoundTripsHeader(t *testing.T) {
	p := New(1024, 20, testCrypto(t), [8]byte{})
	shards, err := p.Packetize(types.EncodedPacket{Data: []byte("hello"), FrameIndex: 1})
	require.NoError(t, err)
	require.Len(t, shards, 2) // 1 data + 1 parity at 20% (max(1, ceil(1*0.2)))

	wire := Marshal(shards[0])
	hdr, err := protocol.UnmarshalVideoHeader(wire)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), hdr.FrameIndex)
	assert.Equal(t, uint8(0), hdr.ShardIndex)
}
