package control

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftcast/moonshine/internal/cryptox"
)

func TestRecordAuthFailureEscalatesPastThreshold(t *testing.T) {
	h := &Host{log: zerolog.Nop()}
	var calls int32
	h.onFailure = func(err error) { atomic.AddInt32(&calls, 1) }

	for i := 0; i < authFailureThreshold; i++ {
		h.recordAuthFailure()
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "must not escalate before exceeding the threshold")

	h.recordAuthFailure()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "must escalate exactly once on first exceedance")

	h.recordAuthFailure()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "must not escalate again within the same window")
}

func TestRecordAuthFailureResetsAfterWindow(t *testing.T) {
	h := &Host{log: zerolog.Nop()}
	var calls int32
	h.onFailure = func(err error) { atomic.AddInt32(&calls, 1) }

	for i := 0; i < authFailureThreshold+1; i++ {
		h.recordAuthFailure()
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	h.authFailWindowStart = time.Now().Add(-2 * authFailureWindow)
	h.authFailCount = 0

	for i := 0; i < authFailureThreshold; i++ {
		h.recordAuthFailure()
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a fresh window must not immediately re-escalate")
}

func TestUpdateKeyRotatesSealAndOpen(t *testing.T) {
	oldCrypto, err := cryptox.New([16]byte{1})
	require.NoError(t, err)
	h := &Host{log: zerolog.Nop(), crypto: oldCrypto, ivPrefix: [8]byte{1}}

	plaintext := []byte("feedback payload")
	nonce := cryptox.SequenceNonce([8]byte{1}, 0)
	sealedOld := oldCrypto.Seal(nil, nonce[:], plaintext, nil)

	newCrypto, err := cryptox.New([16]byte{2})
	require.NoError(t, err)
	h.UpdateKey(newCrypto, [8]byte{2})

	crypto, ivPrefix := h.keyState()
	assert.Equal(t, [8]byte{2}, ivPrefix)

	newNonce := cryptox.SequenceNonce(ivPrefix, 0)
	sealedNew := crypto.Seal(nil, newNonce[:], plaintext, nil)

	_, err = crypto.Open(nil, newNonce[:], sealedOld, nil)
	assert.Error(t, err, "a payload sealed under the old key must not open under the rotated key")

	opened, err := crypto.Open(nil, newNonce[:], sealedNew, nil)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}
