package audio

import (
	"sync"

	"github.com/riftcast/moonshine/internal/cryptox"
	"github.com/riftcast/moonshine/internal/protocol"
	"github.com/riftcast/moonshine/internal/types"
	"github.com/riftcast/moonshine/internal/xorfec"
)

// Packetizer wraps encoded Opus frames in RTP-like datagrams, interleaves
// one XOR parity packet per block of 4 data packets, and AES-GCM-seals
// each payload (C5, spec §4.4).
type Packetizer struct {
	ssrc uint32

	keyMu    sync.RWMutex
	crypto   *cryptox.Context
	ivPrefix [8]byte

	seq   uint16
	block [][]byte // data shard payloads (plaintext) accumulated for the current FEC block
}

// NewPacketizer builds a Packetizer. ssrc is the fixed SSRC carried by
// every audio RTP header for this session.
func NewPacketizer(crypto *cryptox.Context, ivPrefix [8]byte, ssrc uint32) *Packetizer {
	return &Packetizer{
		crypto:   crypto,
		ivPrefix: ivPrefix,
		ssrc:     ssrc,
		block:    make([][]byte, 0, xorfec.BlockSize),
	}
}

// UpdateKey rotates the AES-GCM key and IV prefix used to seal every
// subsequent datagram (spec §5, Session.UpdateKeys).
func (p *Packetizer) UpdateKey(crypto *cryptox.Context, ivPrefix [8]byte) {
	p.keyMu.Lock()
	defer p.keyMu.Unlock()
	p.crypto = crypto
	p.ivPrefix = ivPrefix
}

func (p *Packetizer) keyState() (*cryptox.Context, [8]byte) {
	p.keyMu.RLock()
	defer p.keyMu.RUnlock()
	return p.crypto, p.ivPrefix
}

// Packetize seals one AudioFrame into its RTP-like datagram, returning it
// together with a trailing parity datagram whenever the frame completes a
// block of xorfec.BlockSize data packets.
func (p *Packetizer) Packetize(frame types.AudioFrame) [][]byte {
	out := make([][]byte, 0, 2)

	dataSeq := p.seq
	p.seq++
	out = append(out, p.seal(dataSeq, frame.Data))

	p.block = append(p.block, frame.Data)
	if len(p.block) == xorfec.BlockSize {
		parity, _ := xorfec.Parity(p.block)
		paritySeq := p.seq
		p.seq++
		out = append(out, p.seal(paritySeq, parity))
		p.block = p.block[:0]
	}

	return out
}

// seal builds the RTP header and AES-GCM-seals the payload, nonce =
// iv_prefix || sequence (widened to 32 bits, per spec §4.4/§6).
func (p *Packetizer) seal(sequence uint16, payload []byte) []byte {
	crypto, ivPrefix := p.keyState()
	nonce := cryptox.SequenceNonce(ivPrefix, uint32(sequence))
	sealed := crypto.Seal(nil, nonce[:], payload, nil)

	buf := make([]byte, protocol.RTPHeaderSize+len(sealed))
	protocol.RTPHeader{
		VersionFlags: 0x80, // RTP version 2, no padding/extension/CSRC
		PayloadType:  protocol.AudioPayloadType,
		Sequence:     sequence,
		Timestamp:    uint32(sequence) * uint32(ticksPerPacket),
		SSRC:         p.ssrc,
	}.Marshal(buf)
	copy(buf[protocol.RTPHeaderSize:], sealed)
	return buf
}

// ticksPerPacket is a nominal RTP timestamp increment; the client derives
// real playout timing from arrival order and sequence continuity, not
// from this clock, so an approximate monotonic value is sufficient.
const ticksPerPacket = 240 // 5ms @ 48kHz
