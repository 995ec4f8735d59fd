package shutdown

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftcast/moonshine/internal/types"
)

func TestSetReasonFirstWriterWins(t *testing.T) {
	m := New(zerolog.Nop())

	m.SetReason(types.ShutdownClientRequested)
	m.SetReason(types.ShutdownClientTimeout)

	reason, isSet := m.Reason()
	require.True(t, isSet)
	assert.Equal(t, types.ShutdownClientRequested, reason)
}

func TestSubscribeClosesOnSetReason(t *testing.T) {
	m := New(zerolog.Nop())
	sig := m.Subscribe()

	select {
	case <-sig:
		t.Fatal("signal closed before SetReason")
	default:
	}

	m.SetReason(types.ShutdownHostRequested)

	select {
	case <-sig:
	case <-time.After(time.Second):
		t.Fatal("signal not closed after SetReason")
	}
}

func TestWaitQuiescentResolvesAfterAllReleased(t *testing.T) {
	m := New(zerolog.Nop())
	release1 := m.Track()
	release2 := m.Track()

	done := make(chan struct{})
	go func() {
		m.WaitQuiescent()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("resolved before workers released")
	case <-time.After(50 * time.Millisecond):
	}

	release1()
	release2()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("did not resolve after all released")
	}
}

func TestTrackReleaseIsIdempotent(t *testing.T) {
	m := New(zerolog.Nop())
	release := m.Track()
	release()
	assert.NotPanics(t, release)
}
