package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/riftcast/moonshine/internal/session"
	"github.com/riftcast/moonshine/internal/types"
)

func main() {
	width := flag.Int("width", 1920, "capture/encode width")
	height := flag.Int("height", 1080, "capture/encode height")
	fps := flag.Int("fps", 60, "target frame rate")
	bitrateKbps := flag.Int("bitrate", 20000, "video bitrate in kbps")
	codec := flag.String("codec", "h264", "video codec: h264 or hevc")
	packetSize := flag.Int("packet-size", 1024, "video shard payload budget in bytes")
	fecPercent := flag.Int("fec-percent", 20, "video FEC parity percentage")

	audioEnabled := flag.Bool("audio", true, "enable the audio pipeline")
	opusBitrateKbps := flag.Int("opus-bitrate", 512, "opus encoder bitrate in kbps")

	videoAESKeyHex := flag.String("video-key", "", "32 hex chars: AES-128 key for the video stream")
	videoIVHex := flag.String("video-iv", "", "16 hex chars: IV prefix for the video stream")
	audioAESKeyHex := flag.String("audio-key", "", "32 hex chars: AES-128 key for the audio stream")
	audioIVHex := flag.String("audio-iv", "", "16 hex chars: IV prefix for the audio stream")
	controlAESKeyHex := flag.String("control-key", "", "32 hex chars: AES-128 key for the control channel")
	controlIVHex := flag.String("control-iv", "", "16 hex chars: IV prefix for the control channel")

	clientVideoPort := flag.Int("client-video-port", 47998, "client video RTP port")
	clientAudioPort := flag.Int("client-audio-port", 48000, "client audio RTP port")
	clientControlPort := flag.Int("client-control-port", 47999, "client control port")
	clientTimeout := flag.Duration("client-timeout", 10*time.Second, "control channel liveness timeout")

	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	var codecValue types.Codec
	switch *codec {
	case "h264":
		codecValue = types.CodecH264
	case "hevc":
		codecValue = types.CodecHEVC
	default:
		log.Fatal().Str("codec", *codec).Msg("unknown codec")
	}

	videoKey, err := decodeKey(*videoAESKeyHex)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -video-key")
	}
	videoIV, err := decodeIV(*videoIVHex)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -video-iv")
	}
	audioKey, err := decodeKey(*audioAESKeyHex)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -audio-key")
	}
	audioIV, err := decodeIV(*audioIVHex)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -audio-iv")
	}
	controlKey, err := decodeKey(*controlAESKeyHex)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -control-key")
	}
	controlIV, err := decodeIV(*controlIVHex)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -control-iv")
	}

	params := types.SessionParameters{
		SessionID:       uuid.New().String(),
		Width:           *width,
		Height:          *height,
		FPS:             *fps,
		BitrateKbps:     *bitrateKbps,
		Codec:           codecValue,
		PacketSize:      *packetSize,
		FECPercentage:   *fecPercent,
		VideoAESKey:     videoKey,
		VideoIVPrefix:   videoIV,
		AudioEnabled:    *audioEnabled,
		ChannelCount:    2,
		OpusBitrateKbps: *opusBitrateKbps,
		AudioAESKey:     audioKey,
		AudioIVPrefix:   audioIV,
		ControlAESKey:   controlKey,
		ControlIVPrefix: controlIV,
		ClientVideoPort:   *clientVideoPort,
		ClientAudioPort:   *clientAudioPort,
		ClientControlPort: *clientControlPort,
		ClientTimeout:     *clientTimeout,
		OnSessionEnded: func(reason types.ShutdownReason) {
			log.Info().Stringer("reason", reason).Msg("session ended")
		},
	}

	manager := session.NewManager(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("session", params.SessionID).Msg("starting session")
	sess, err := manager.Start(ctx, params)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start session")
	}

	// The session can end on its own (client timeout/terminate, a
	// pipeline failure) without external SIGINT/SIGTERM, so wait on
	// whichever comes first rather than only on ctx.Done().
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		manager.Stop(types.ShutdownHostRequested)
	case <-sess.Done():
	}
}

func decodeKey(s string) ([16]byte, error) {
	var out [16]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 16 {
		return out, fmt.Errorf("expected 32 hex chars (16 bytes), got %d bytes", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func decodeIV(s string) ([8]byte, error) {
	var out [8]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 8 {
		return out, fmt.Errorf("expected 16 hex chars (8 bytes), got %d bytes", len(b))
	}
	copy(out[:], b)
	return out, nil
}
