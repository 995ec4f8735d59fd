// Package audio implements the audio capturer/encoder (C4): PulseAudio
// monitor capture decoded to PCM and re-encoded to Opus, emitted in
// frame-size-exact AudioFrames for the audio packetizer (C5).
package audio

import (
	"context"
	"fmt"
	"math"

	"github.com/asticode/go-astiav"
	"github.com/rs/zerolog"

	"github.com/riftcast/moonshine/internal/types"
)

// Config configures the capture/encode pipeline. FrameMS must be 5 or 10,
// per the Moonlight audio framing (spec §4.4).
type Config struct {
	Device      string // pulse source name; "" for the default monitor
	SampleRate  int    // 48000
	Channels    int    // 2
	FrameMS     int    // 5 or 10
	BitrateKbps int    // opus_bitrate, default 512
}

// frameSamples returns the number of samples per channel per Opus frame.
func (c Config) frameSamples() int {
	return c.SampleRate * c.FrameMS / 1000
}

// Encoder owns the pulse capture input and the libopus codec context.
type Encoder struct {
	log zerolog.Logger
	cfg Config

	formatCtx *astiav.FormatContext
	decCtx    *astiav.CodecContext
	streamIdx int

	opusCtx *astiav.CodecContext

	seq     uint32
	pending []float32 // accumulated PCM samples, interleaved, awaiting a full opus frame
}

// New opens the configured monitor source and the libopus encoder.
func New(log zerolog.Logger, cfg Config) (*Encoder, error) {
	inputFmt := astiav.FindInputFormat("pulse")
	if inputFmt == nil {
		return nil, fmt.Errorf("audio: pulse input format unavailable")
	}

	formatCtx := astiav.AllocFormatContext()
	if formatCtx == nil {
		return nil, fmt.Errorf("audio: failed to allocate format context")
	}

	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("sample_rate", fmt.Sprintf("%d", cfg.SampleRate), 0)
	_ = opts.Set("channels", fmt.Sprintf("%d", cfg.Channels), 0)

	device := cfg.Device
	if device == "" {
		device = "default"
	}
	if err := formatCtx.OpenInput(device, inputFmt, opts); err != nil {
		formatCtx.Free()
		return nil, fmt.Errorf("audio: open input %s: %w", device, err)
	}

	if err := formatCtx.FindStreamInfo(nil); err != nil {
		formatCtx.CloseInput()
		formatCtx.Free()
		return nil, fmt.Errorf("audio: find stream info: %w", err)
	}

	streamIdx := -1
	for i, st := range formatCtx.Streams() {
		if st.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			streamIdx = i
			break
		}
	}
	if streamIdx < 0 {
		formatCtx.CloseInput()
		formatCtx.Free()
		return nil, fmt.Errorf("audio: no audio stream on %s", device)
	}

	stream := formatCtx.Streams()[streamIdx]
	decoder := astiav.FindDecoder(stream.CodecParameters().CodecID())
	if decoder == nil {
		formatCtx.CloseInput()
		formatCtx.Free()
		return nil, fmt.Errorf("audio: no decoder for captured stream")
	}
	decCtx := astiav.AllocCodecContext(decoder)
	if decCtx == nil {
		formatCtx.CloseInput()
		formatCtx.Free()
		return nil, fmt.Errorf("audio: allocate decoder context")
	}
	if err := stream.CodecParameters().ToCodecContext(decCtx); err != nil {
		decCtx.Free()
		formatCtx.CloseInput()
		formatCtx.Free()
		return nil, fmt.Errorf("audio: codec parameters to context: %w", err)
	}
	if err := decCtx.Open(decoder, nil); err != nil {
		decCtx.Free()
		formatCtx.CloseInput()
		formatCtx.Free()
		return nil, fmt.Errorf("audio: open decoder: %w", err)
	}

	opusEnc := astiav.FindEncoderByName("libopus")
	if opusEnc == nil {
		decCtx.Free()
		formatCtx.CloseInput()
		formatCtx.Free()
		return nil, fmt.Errorf("audio: libopus encoder unavailable")
	}
	opusCtx := astiav.AllocCodecContext(opusEnc)
	if opusCtx == nil {
		decCtx.Free()
		formatCtx.CloseInput()
		formatCtx.Free()
		return nil, fmt.Errorf("audio: allocate opus context")
	}
	opusCtx.SetSampleRate(cfg.SampleRate)
	opusCtx.SetSampleFormat(astiav.SampleFormatFlt)
	opusCtx.SetChannelLayout(astiav.ChannelLayoutStereo)
	opusCtx.SetBitRate(int64(cfg.BitrateKbps) * 1000)
	opusCtx.SetTimeBase(astiav.NewRational(1, cfg.SampleRate))

	opusOpts := astiav.NewDictionary()
	defer opusOpts.Free()
	_ = opusOpts.Set("application", "lowdelay", 0)
	_ = opusOpts.Set("vbr", "off", 0) // CBR per spec §4.4

	if err := opusCtx.Open(opusEnc, opusOpts); err != nil {
		opusCtx.Free()
		decCtx.Free()
		formatCtx.CloseInput()
		formatCtx.Free()
		return nil, fmt.Errorf("audio: open opus encoder: %w", err)
	}

	return &Encoder{
		log:       log.With().Str("component", "audio").Logger(),
		cfg:       cfg,
		formatCtx: formatCtx,
		decCtx:    decCtx,
		streamIdx: streamIdx,
		opusCtx:   opusCtx,
		pending:   make([]float32, 0, cfg.frameSamples()*cfg.Channels*2),
	}, nil
}

// Close releases the capture and codec contexts.
func (e *Encoder) Close() {
	if e.opusCtx != nil {
		e.opusCtx.Free()
	}
	if e.decCtx != nil {
		e.decCtx.Free()
	}
	if e.formatCtx != nil {
		e.formatCtx.CloseInput()
		e.formatCtx.Free()
	}
}

// Run decodes captured PCM, accumulates exactly one Opus frame's worth of
// samples per emission (never a partial frame), and feeds emit with
// AudioFrames in sequence order until ctx is done or capture fails.
func (e *Encoder) Run(ctx context.Context, emit func(types.AudioFrame), onFailure func(error)) error {
	packet := astiav.AllocPacket()
	defer packet.Free()
	pcmFrame := astiav.AllocFrame()
	defer pcmFrame.Free()

	frameSamples := e.cfg.frameSamples()
	wantFloats := frameSamples * e.cfg.Channels

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := e.formatCtx.ReadFrame(packet); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			onFailure(fmt.Errorf("audio: read frame: %w", err))
			return err
		}
		if packet.StreamIndex() != e.streamIdx {
			packet.Unref()
			continue
		}

		if err := e.decCtx.SendPacket(packet); err != nil {
			packet.Unref()
			continue
		}
		packet.Unref()

		for {
			if err := e.decCtx.ReceiveFrame(pcmFrame); err != nil {
				break
			}

			e.pending = append(e.pending, interleavedSamples(pcmFrame)...)
			pcmFrame.Unref()

			for len(e.pending) >= wantFloats {
				chunk := e.pending[:wantFloats]
				e.pending = append([]float32(nil), e.pending[wantFloats:]...)

				encoded, err := e.encodeOpusFrame(chunk)
				if err != nil {
					onFailure(fmt.Errorf("audio: encode opus frame: %w", err))
					return err
				}
				if encoded == nil {
					continue
				}

				e.seq++
				emit(types.AudioFrame{Data: encoded, Sequence: e.seq})
			}
		}
	}
}

// encodeOpusFrame sends exactly one Opus-frame-size chunk of interleaved
// float samples through the libopus codec context and returns the
// encoded bytes, or nil if the encoder buffered without emitting.
func (e *Encoder) encodeOpusFrame(samples []float32) ([]byte, error) {
	swFrame := astiav.AllocFrame()
	defer swFrame.Free()

	swFrame.SetSampleFormat(astiav.SampleFormatFlt)
	swFrame.SetChannelLayout(astiav.ChannelLayoutStereo)
	swFrame.SetSampleRate(e.cfg.SampleRate)
	swFrame.SetNbSamples(e.cfg.frameSamples())
	if err := swFrame.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("allocate pcm buffer: %w", err)
	}
	if err := fillPlanarFloat(swFrame, samples); err != nil {
		return nil, err
	}

	if err := e.opusCtx.SendFrame(swFrame); err != nil {
		return nil, fmt.Errorf("send pcm to opus: %w", err)
	}

	pkt := astiav.AllocPacket()
	defer pkt.Free()
	if err := e.opusCtx.ReceivePacket(pkt); err != nil {
		return nil, nil
	}

	out := make([]byte, pkt.Size())
	copy(out, pkt.Data())
	return out, nil
}

// interleavedSamples extracts the decoded frame's samples as interleaved
// float32, resampling/format-conversion is assumed to be performed by the
// pulse input already matching the session's negotiated rate/channels.
func interleavedSamples(f *astiav.Frame) []float32 {
	data := f.Data().Bytes(0)
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = float32FromLE(data[i*4 : i*4+4])
	}
	return out
}

func float32FromLE(b []byte) float32 {
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits)
}

func float32ToLE(v float32, dst []byte) {
	bits := math.Float32bits(v)
	dst[0] = byte(bits)
	dst[1] = byte(bits >> 8)
	dst[2] = byte(bits >> 16)
	dst[3] = byte(bits >> 24)
}

// fillPlanarFloat writes interleaved float samples into the frame's
// packed data buffer as little-endian bytes.
func fillPlanarFloat(f *astiav.Frame, samples []float32) error {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		float32ToLE(s, buf[i*4:i*4+4])
	}
	return f.Data().SetBytes(buf, 0)
}
