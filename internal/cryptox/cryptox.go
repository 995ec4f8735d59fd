// Package cryptox wraps AES-128-GCM sealing/opening with the nonce
// discipline the streaming wire protocol requires: nonces are always
// derived deterministically from a per-stream IV prefix plus a sequence
// or frame/shard index, never drawn from an RNG, so uniqueness per
// (key, message) falls out of the stream's own monotonicity guarantees.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// NonceSize is the AES-GCM nonce length used throughout this protocol.
const NonceSize = 12

// TagSize is the AES-GCM authentication tag length appended to every
// sealed payload.
const TagSize = 16

// Context seals and opens payloads under a single fixed 128-bit key.
type Context struct {
	aead cipher.AEAD
}

// New builds a Context from a 16-byte AES-128 key.
func New(key [16]byte) (*Context, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptox: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: new gcm: %w", err)
	}
	return &Context{aead: aead}, nil
}

// Seal encrypts plaintext into dst[:0], appending the authentication
// tag, and returns the ciphertext+tag. dst may be nil or a buffer with spare
// capacity of len(plaintext)+TagSize to avoid an allocation.
func (c *Context) Seal(dst, nonce, plaintext, additionalData []byte) []byte {
	return c.aead.Seal(dst[:0], nonce, plaintext, additionalData)
}

// Open authenticates and decrypts ciphertext (which must include the
// trailing tag), returning the plaintext.
func (c *Context) Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	out, err := c.aead.Open(dst[:0], nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("cryptox: open: %w", err)
	}
	return out, nil
}

// SequenceNonce derives a 12-byte nonce from an 8-byte IV prefix and a
// 32-bit big-endian sequence number, as used by the audio and control
// streams (spec invariant 2).
func SequenceNonce(ivPrefix [8]byte, sequence uint32) [NonceSize]byte {
	var n [NonceSize]byte
	copy(n[:8], ivPrefix[:])
	binary.BigEndian.PutUint32(n[8:12], sequence)
	return n
}

// FrameShardNonce derives a 12-byte nonce from a 4-byte IV prefix, a
// 32-bit frame index, and a 16-bit shard index, as used by the video
// stream (spec §4.3 step 4).
func FrameShardNonce(ivPrefix [8]byte, frameIndex uint32, shardIndex uint16) [NonceSize]byte {
	var n [NonceSize]byte
	copy(n[:4], ivPrefix[:4])
	binary.LittleEndian.PutUint32(n[4:8], frameIndex)
	binary.LittleEndian.PutUint16(n[8:10], shardIndex)
	// bytes 10:12 stay zero; the (frame_index, shard_index) pair is
	// already unique within a session, so no further entropy is needed.
	return n
}
