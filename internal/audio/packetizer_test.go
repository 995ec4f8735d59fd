package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftcast/moonshine/internal/cryptox"
	"github.com/riftcast/moonshine/internal/protocol"
	"github.com/riftcast/moonshine/internal/types"
	"github.com/riftcast/moonshine/internal/xorfec"
)

func testPacketizerCrypto(t *testing.T) *cryptox.Context {
	t.Helper()
	ctx, err := cryptox.New([16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	require.NoError(t, err)
	return ctx
}

func TestPacketizeEmitsOneDatagramPerFrame(t *testing.T) {
	p := NewPacketizer(testPacketizerCrypto(t), [8]byte{}, 0x1234)

	out := p.Packetize(types.AudioFrame{Data: []byte("abc")})
	assert.Len(t, out, 1)
}

func TestPacketizeEmitsParityOnBlockBoundary(t *testing.T) {
	p := NewPacketizer(testPacketizerCrypto(t), [8]byte{}, 0x1234)

	var total int
	for i := 0; i < xorfec.BlockSize; i++ {
		out := p.Packetize(types.AudioFrame{Data: []byte{byte(i), byte(i + 1)}})
		total += len(out)
	}
	assert.Equal(t, xorfec.BlockSize+1, total)
}

func TestPacketizeSequenceIncrementsAndHeaderRoundTrips(t *testing.T) {
	p := NewPacketizer(testPacketizerCrypto(t), [8]byte{}, 0xAABBCCDD)

	first := p.Packetize(types.AudioFrame{Data: []byte("x")})
	second := p.Packetize(types.AudioFrame{Data: []byte("y")})

	hdr1, err := protocol.UnmarshalRTPHeader(first[0])
	require.NoError(t, err)
	hdr2, err := protocol.UnmarshalRTPHeader(second[0])
	require.NoError(t, err)

	assert.Equal(t, uint16(0), hdr1.Sequence)
	assert.Equal(t, uint16(1), hdr2.Sequence)
	assert.Equal(t, uint32(0xAABBCCDD), hdr1.SSRC)
	assert.Equal(t, uint8(protocol.AudioPayloadType), hdr1.PayloadType)
}
