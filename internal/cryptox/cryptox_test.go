package cryptox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() [16]byte {
	var k [16]byte
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestSealOpenRoundTrip(t *testing.T) {
	ctx, err := New(testKey())
	require.NoError(t, err)

	nonce := SequenceNonce([8]byte{1, 2, 3, 4, 5, 6, 7, 8}, 42)
	plaintext := []byte("hello moonshine")

	sealed := ctx.Seal(nil, nonce[:], plaintext, nil)
	opened, err := ctx.Open(nil, nonce[:], sealed, nil)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	ctx, err := New(testKey())
	require.NoError(t, err)

	nonce := SequenceNonce([8]byte{}, 1)
	sealed := ctx.Seal(nil, nonce[:], []byte("payload"), nil)
	sealed[0] ^= 0xFF

	_, err = ctx.Open(nil, nonce[:], sealed, nil)
	assert.Error(t, err)
}

func TestSequenceNonceUniquePerSequence(t *testing.T) {
	prefix := [8]byte{9, 9, 9, 9, 9, 9, 9, 9}
	a := SequenceNonce(prefix, 1)
	b := SequenceNonce(prefix, 2)
	assert.NotEqual(t, a, b)
}

func TestFrameShardNonceUniquePerShard(t *testing.T) {
	prefix := [8]byte{}
	a := FrameShardNonce(prefix, 7, 0)
	b := FrameShardNonce(prefix, 7, 1)
	assert.NotEqual(t, a, b)
}
