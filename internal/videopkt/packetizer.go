// Package videopkt implements the video packetizer (C3): shard
// fragmentation, Reed-Solomon FEC, and AES-128-GCM sealing of each
// encoded video frame into wire-ready datagrams.
package videopkt

import (
	"fmt"
	"sync"

	"github.com/riftcast/moonshine/internal/cryptox"
	"github.com/riftcast/moonshine/internal/fec"
	"github.com/riftcast/moonshine/internal/protocol"
	"github.com/riftcast/moonshine/internal/types"
)

// Packetizer turns one EncodedPacket into its wire shards.
type Packetizer struct {
	packetSize int
	fecPercent int

	mu       sync.RWMutex
	crypto   *cryptox.Context
	ivPrefix [8]byte
}

// New builds a Packetizer. packetSize is the UDP payload budget per
// shard including the plaintext header (typ. 1024); fecPercent is the
// parity ratio (typ. 20).
func New(packetSize, fecPercent int, crypto *cryptox.Context, ivPrefix [8]byte) *Packetizer {
	return &Packetizer{
		packetSize: packetSize,
		fecPercent: fecPercent,
		crypto:     crypto,
		ivPrefix:   ivPrefix,
	}
}

// UpdateKey rotates the AES-GCM key and IV prefix used to seal every
// subsequent shard (spec §5, Session.UpdateKeys).
func (p *Packetizer) UpdateKey(crypto *cryptox.Context, ivPrefix [8]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.crypto = crypto
	p.ivPrefix = ivPrefix
}

// keyState returns the crypto context and IV prefix currently in effect.
func (p *Packetizer) keyState() (*cryptox.Context, [8]byte) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.crypto, p.ivPrefix
}

// dataShardSize is the plaintext payload capacity of each data shard.
func (p *Packetizer) dataShardSize() int {
	return p.packetSize - protocol.VideoHeaderSize - cryptox.TagSize
}

// Packetize fragments pkt into data+parity shards and seals each
// payload, per spec §4.3. An empty pkt.Data is dropped (returns nil, nil).
//
// The wire header (§6) carries shard_index in a single byte, so one
// frame maps to exactly one FEC block of up to fec.DataShardsMax shards
// total; at the configured packet size and typical bitrates this ceiling
// is far above any real frame's shard count, so exceeding it is treated
// as an encoder misconfiguration rather than split across blocks.
func (p *Packetizer) Packetize(pkt types.EncodedPacket) ([]types.VideoShard, error) {
	if len(pkt.Data) == 0 {
		return nil, nil
	}

	shardSize := p.dataShardSize()
	if shardSize <= 0 {
		return nil, fmt.Errorf("videopkt: packet size %d leaves no shard payload after the %d-byte header and %d-byte tag, so no shard count fits the %d-shard ceiling", p.packetSize, protocol.VideoHeaderSize, cryptox.TagSize, fec.DataShardsMax)
	}
	n := ceilDiv(len(pkt.Data), shardSize)
	parity := parityCount(n, p.fecPercent)
	if n+parity > fec.DataShardsMax {
		return nil, fmt.Errorf("videopkt: frame of %d bytes needs %d+%d shards, exceeds %d-shard ceiling (reduce bitrate or increase packet size)", len(pkt.Data), n, parity, fec.DataShardsMax)
	}

	dataShards := make([][]byte, n)
	for i := 0; i < n; i++ {
		start := i * shardSize
		end := start + shardSize
		shard := make([]byte, shardSize)
		if end > len(pkt.Data) {
			end = len(pkt.Data)
		}
		copy(shard, pkt.Data[start:end])
		dataShards[i] = shard
	}

	allShards := make([][]byte, n+parity)
	copy(allShards, dataShards)
	for i := n; i < n+parity; i++ {
		allShards[i] = make([]byte, shardSize)
	}

	codec, err := fec.New(n, parity)
	if err != nil {
		return nil, err
	}
	if err := codec.Encode(allShards); err != nil {
		return nil, err
	}

	crypto, ivPrefix := p.keyState()

	out := make([]types.VideoShard, 0, n+parity)
	for i, payload := range allShards {
		flags := uint8(0)
		if pkt.IsIDR {
			flags |= types.ShardFlagIDR
		}
		if i == 0 {
			flags |= types.ShardFlagSOF
		}
		if i == n-1 {
			flags |= types.ShardFlagEOF
		}

		nonce := cryptox.FrameShardNonce(ivPrefix, pkt.FrameIndex, uint16(i))
		sealed := crypto.Seal(nil, nonce[:], payload, nil)

		out = append(out, types.VideoShard{
			FrameIndex: pkt.FrameIndex,
			ShardIndex: uint16(i),
			NumData:    uint16(n),
			NumParity:  uint16(parity),
			Flags:      flags,
			Payload:    sealed,
		})
	}

	return out, nil
}

// Marshal serializes a shard into its on-the-wire datagram form.
func Marshal(s types.VideoShard) []byte {
	buf := make([]byte, protocol.VideoHeaderSize+len(s.Payload))
	protocol.VideoHeader{
		FrameIndex: s.FrameIndex,
		ShardIndex: uint8(s.ShardIndex),
		Flags:      s.Flags,
		NumData:    s.NumData,
		NumParity:  s.NumParity,
	}.Marshal(buf)
	copy(buf[protocol.VideoHeaderSize:], s.Payload)
	return buf
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 1
	}
	return (a + b - 1) / b
}

// parityCount computes P = max(1, ceil(N*fecPercent/100)) per spec §4.3.
func parityCount(n, fecPercent int) int {
	p := ceilDiv(n*fecPercent, 100)
	if p < 1 {
		p = 1
	}
	return p
}
