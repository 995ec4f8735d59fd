// Package protocol implements the on-the-wire layouts for the video,
// audio, and control datagrams, bit-exact with the Moonlight protocol.
package protocol

import "encoding/binary"

// Video datagram header, little-endian throughout (spec §6):
//
//	[frame_index u32 LE][shard_index u8][flags u8][N u16 LE][P u16 LE][reserved u16][ciphertext+tag]
const VideoHeaderSize = 4 + 1 + 1 + 2 + 2 + 2

// Video shard flag bits (bit0 SOF, bit1 EOF, bit2 IDR).
const (
	VideoFlagSOF = 1 << 0
	VideoFlagEOF = 1 << 1
	VideoFlagIDR = 1 << 2
)

// VideoHeader is the plaintext prefix of every video datagram.
type VideoHeader struct {
	FrameIndex uint32
	ShardIndex uint8
	Flags      uint8
	NumData    uint16
	NumParity  uint16
}

// Marshal encodes the header into the first VideoHeaderSize bytes of dst.
func (h VideoHeader) Marshal(dst []byte) {
	_ = dst[VideoHeaderSize-1]
	binary.LittleEndian.PutUint32(dst[0:4], h.FrameIndex)
	dst[4] = h.ShardIndex
	dst[5] = h.Flags
	binary.LittleEndian.PutUint16(dst[6:8], h.NumData)
	binary.LittleEndian.PutUint16(dst[8:10], h.NumParity)
	dst[10] = 0
	dst[11] = 0
}

// UnmarshalVideoHeader parses a video datagram header from src.
func UnmarshalVideoHeader(src []byte) (VideoHeader, error) {
	if len(src) < VideoHeaderSize {
		return VideoHeader{}, ErrShortPacket
	}
	return VideoHeader{
		FrameIndex: binary.LittleEndian.Uint32(src[0:4]),
		ShardIndex: src[4],
		Flags:      src[5],
		NumData:    binary.LittleEndian.Uint16(src[6:8]),
		NumParity:  binary.LittleEndian.Uint16(src[8:10]),
	}, nil
}

// Audio datagram: standard 12-byte RTP header + ciphertext+tag.
const (
	RTPHeaderSize     = 12
	AudioPayloadType  = 97
	AESGCMTagSize     = 16
	AudioFECBlockSize = 4 // data packets per parity packet
	AudioFECParity    = 1
)

// RTPHeader is the standard 12-byte RTP header used for audio datagrams.
type RTPHeader struct {
	VersionFlags uint8 // version/padding/extension/CSRC-count
	PayloadType  uint8 // marker bit + payload type
	Sequence     uint16
	Timestamp    uint32
	SSRC         uint32
}

// Marshal writes the RTP header into the first RTPHeaderSize bytes of dst.
func (h RTPHeader) Marshal(dst []byte) {
	_ = dst[RTPHeaderSize-1]
	dst[0] = h.VersionFlags
	dst[1] = h.PayloadType
	binary.BigEndian.PutUint16(dst[2:4], h.Sequence)
	binary.BigEndian.PutUint32(dst[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(dst[8:12], h.SSRC)
}

// UnmarshalRTPHeader parses an RTP header from src.
func UnmarshalRTPHeader(src []byte) (RTPHeader, error) {
	if len(src) < RTPHeaderSize {
		return RTPHeader{}, ErrShortPacket
	}
	return RTPHeader{
		VersionFlags: src[0],
		PayloadType:  src[1],
		Sequence:     binary.BigEndian.Uint16(src[2:4]),
		Timestamp:    binary.BigEndian.Uint32(src[4:8]),
		SSRC:         binary.BigEndian.Uint32(src[8:12]),
	}, nil
}

// Control datagram framing (spec §6):
//
//	[u16 LE ciphertext_length][u32 BE sequence][ciphertext][16-byte tag]
const ControlHeaderSize = 2 + 4

// ControlHeader is the plaintext prefix of every control datagram.
type ControlHeader struct {
	CiphertextLength uint16
	Sequence         uint32
}

// Marshal writes the control header into the first ControlHeaderSize
// bytes of dst.
func (h ControlHeader) Marshal(dst []byte) {
	_ = dst[ControlHeaderSize-1]
	binary.LittleEndian.PutUint16(dst[0:2], h.CiphertextLength)
	binary.BigEndian.PutUint32(dst[2:6], h.Sequence)
}

// UnmarshalControlHeader parses a control datagram header from src.
func UnmarshalControlHeader(src []byte) (ControlHeader, error) {
	if len(src) < ControlHeaderSize {
		return ControlHeader{}, ErrShortPacket
	}
	return ControlHeader{
		CiphertextLength: binary.LittleEndian.Uint16(src[0:2]),
		Sequence:         binary.BigEndian.Uint32(src[2:6]),
	}, nil
}

// Control message type tags (bit-exact with the Gen 7 encrypted wire).
const (
	MsgTypeRequestIDR          uint16 = 0x0302
	MsgTypeStartB              uint16 = 0x0307
	MsgTypeInvalidateRefFrames uint16 = 0x0301
	MsgTypeLossStats           uint16 = 0x0201
	MsgTypeFrameStats          uint16 = 0x0204
	MsgTypeInputData           uint16 = 0x0206
	MsgTypeRumbleData          uint16 = 0x010b
	MsgTypeTermination         uint16 = 0x0109
	MsgTypeHDRMode             uint16 = 0x010e
	MsgTypeRumbleTriggers      uint16 = 0x5500
	MsgTypeSetMotionEvent      uint16 = 0x5501
	MsgTypeSetRGBLED           uint16 = 0x5502
	MsgTypeTriggerEffect       uint16 = 0x5503
	MsgTypePing                uint16 = 0x0200
)

// Input sub-packet magic numbers (inside InputData payloads), bit-exact
// with Moonlight.
const (
	KeyboardMagicDown = 0x03
	KeyboardMagicUp   = 0x04

	MouseMoveRelMagic    = 0x07
	MouseMoveAbsMagic    = 0x05
	MouseButtonDownMagic = 0x08
	MouseButtonUpMagic   = 0x09

	ScrollMagic  = 0x0A
	HScrollMagic = 0x57

	MultiControllerMagic = 0x1e

	TouchMagic             = 0x58
	PenMagic               = 0x59
	ControllerArrivalMagic = 0x5a
	ControllerTouchMagic   = 0x5b
	ControllerMotionMagic  = 0x5c
	ControllerBatteryMagic = 0x5d
	UTF8TextMagic          = 0x56
)

// ErrShortPacket is returned when a datagram is too small to contain the
// expected header.
var ErrShortPacket = shortPacketError{}

type shortPacketError struct{}

func (shortPacketError) Error() string { return "protocol: short packet" }
