package session

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftcast/moonshine/internal/audio"
	"github.com/riftcast/moonshine/internal/control"
	"github.com/riftcast/moonshine/internal/cryptox"
	"github.com/riftcast/moonshine/internal/types"
	"github.com/riftcast/moonshine/internal/videopkt"
)

func TestUpdateKeysRotatesVideoAudioAndControl(t *testing.T) {
	oldVideoCrypto, err := cryptox.New([16]byte{1})
	require.NoError(t, err)
	videoPacker := videopkt.New(1024, 20, oldVideoCrypto, [8]byte{1})

	oldAudioCrypto, err := cryptox.New([16]byte{2})
	require.NoError(t, err)
	audioPacker := audio.NewPacketizer(oldAudioCrypto, [8]byte{2}, 0x4D534841)

	oldControlCrypto, err := cryptox.New([16]byte{3})
	require.NoError(t, err)
	controlHost, err := control.New(zerolog.Nop(), control.Config{Port: 0}, oldControlCrypto, [8]byte{3})
	require.NoError(t, err)

	s := &Session{
		log:         zerolog.Nop(),
		videoPacker: videoPacker,
		audioPacker: audioPacker,
		controlHost: controlHost,
	}

	newKeys := types.SessionKeys{
		VideoAESKey:     [16]byte{9},
		VideoIVPrefix:   [8]byte{9},
		AudioAESKey:     [16]byte{8},
		AudioIVPrefix:   [8]byte{8},
		ControlAESKey:   [16]byte{7},
		ControlIVPrefix: [8]byte{7},
	}
	require.NoError(t, s.UpdateKeys(newKeys))

	shards, err := videoPacker.Packetize(types.EncodedPacket{Data: []byte("a video frame"), FrameIndex: 1})
	require.NoError(t, err)
	require.NotEmpty(t, shards)

	newVideoCrypto, err := cryptox.New(newKeys.VideoAESKey)
	require.NoError(t, err)
	nonce := cryptox.FrameShardNonce(newKeys.VideoIVPrefix, 1, 0)
	_, err = newVideoCrypto.Open(nil, nonce[:], shards[0].Payload, nil)
	assert.NoError(t, err, "video shard must decrypt under the rotated key")
	_, err = oldVideoCrypto.Open(nil, nonce[:], shards[0].Payload, nil)
	assert.Error(t, err, "video shard must not decrypt under the old key")

	datagrams := audioPacker.Packetize(types.AudioFrame{Data: []byte("opus frame"), Sequence: 0})
	require.NotEmpty(t, datagrams)

	newAudioCrypto, err := cryptox.New(newKeys.AudioAESKey)
	require.NoError(t, err)
	audioNonce := cryptox.SequenceNonce(newKeys.AudioIVPrefix, 0)
	_, err = newAudioCrypto.Open(nil, audioNonce[:], datagrams[0][12:], nil) // skip the RTP header
	assert.NoError(t, err, "audio datagram must decrypt under the rotated key")
}

func TestUpdateKeysSkipsAudioWhenDisabled(t *testing.T) {
	videoCrypto, err := cryptox.New([16]byte{1})
	require.NoError(t, err)
	videoPacker := videopkt.New(1024, 20, videoCrypto, [8]byte{1})

	controlCrypto, err := cryptox.New([16]byte{3})
	require.NoError(t, err)
	controlHost, err := control.New(zerolog.Nop(), control.Config{Port: 0}, controlCrypto, [8]byte{3})
	require.NoError(t, err)

	s := &Session{
		log:         zerolog.Nop(),
		videoPacker: videoPacker,
		audioPacker: nil, // audio disabled for this session
		controlHost: controlHost,
	}

	err = s.UpdateKeys(types.SessionKeys{VideoAESKey: [16]byte{9}, ControlAESKey: [16]byte{7}})
	require.NoError(t, err, "UpdateKeys must not dereference a nil audioPacker")
}
