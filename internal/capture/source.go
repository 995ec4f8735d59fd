package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/rs/zerolog"
)

// Source produces frames into a Slot at roughly the configured frame
// rate until ctx is canceled. The session calls Run on its own
// goroutine; implementations may block in driver calls there.
type Source interface {
	Run(ctx context.Context, slot *Slot, onFailure func(error)) error
}

// AstiavSource captures the desktop via an FFmpeg/libav x11grab input and
// decodes it to a software BGRA frame per capture. No portable Go
// binding for NvFBC exists anywhere in the retrieved corpus, so
// go-astiav's generic screen-grab input is the grounded substitute; the
// video encoder (which, per the shared-resource policy, exclusively owns
// the CUDA context and NVENC session) is responsible for uploading the
// frame into GPU memory, so capture itself stays hardware-agnostic.
type AstiavSource struct {
	Log     zerolog.Logger
	Display string // e.g. ":0" for x11grab
	Width   int
	Height  int
	FPS     int
}

// Run opens the capture device, decodes it, and copies frames into slot
// until ctx is done or a fatal capture error occurs.
func (a *AstiavSource) Run(ctx context.Context, slot *Slot, onFailure func(error)) error {
	inputFmt := astiav.FindInputFormat("x11grab")
	if inputFmt == nil {
		err := fmt.Errorf("capture: x11grab input format unavailable")
		onFailure(err)
		return err
	}

	formatCtx := astiav.AllocFormatContext()
	if formatCtx == nil {
		err := fmt.Errorf("capture: failed to allocate format context")
		onFailure(err)
		return err
	}
	defer formatCtx.Free()

	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("video_size", fmt.Sprintf("%dx%d", a.Width, a.Height), 0)
	_ = opts.Set("framerate", fmt.Sprintf("%d", a.FPS), 0)
	_ = opts.Set("draw_mouse", "1", 0)

	if err := formatCtx.OpenInput(a.Display, inputFmt, opts); err != nil {
		err = fmt.Errorf("capture: open input %s: %w", a.Display, err)
		onFailure(err)
		return err
	}
	defer formatCtx.CloseInput()

	if err := formatCtx.FindStreamInfo(nil); err != nil {
		err = fmt.Errorf("capture: find stream info: %w", err)
		onFailure(err)
		return err
	}

	streamIdx := -1
	for i, st := range formatCtx.Streams() {
		if st.CodecParameters().MediaType() == astiav.MediaTypeVideo {
			streamIdx = i
			break
		}
	}
	if streamIdx < 0 {
		err := fmt.Errorf("capture: no video stream in %s", a.Display)
		onFailure(err)
		return err
	}

	stream := formatCtx.Streams()[streamIdx]
	decoder := astiav.FindDecoder(stream.CodecParameters().CodecID())
	if decoder == nil {
		err := fmt.Errorf("capture: no decoder for %s", a.Display)
		onFailure(err)
		return err
	}
	decCtx := astiav.AllocCodecContext(decoder)
	if decCtx == nil {
		err := fmt.Errorf("capture: failed to allocate codec context")
		onFailure(err)
		return err
	}
	defer decCtx.Free()

	if err := stream.CodecParameters().ToCodecContext(decCtx); err != nil {
		err = fmt.Errorf("capture: codec parameters to context: %w", err)
		onFailure(err)
		return err
	}
	if err := decCtx.Open(decoder, nil); err != nil {
		err = fmt.Errorf("capture: open decoder: %w", err)
		onFailure(err)
		return err
	}

	packet := astiav.AllocPacket()
	defer packet.Free()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := formatCtx.ReadFrame(packet); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			onFailure(fmt.Errorf("capture: read frame: %w", err))
			return err
		}
		if packet.StreamIndex() != streamIdx {
			packet.Unref()
			continue
		}

		if err := decCtx.SendPacket(packet); err != nil {
			packet.Unref()
			continue
		}
		packet.Unref()

		for {
			frame := astiav.AllocFrame()
			err := decCtx.ReceiveFrame(frame)
			if err != nil {
				frame.Free()
				break
			}

			seq++
			slot.Put(Frame{
				Handle:     frame,
				Sequence:   seq,
				TimestampN: time.Now().UnixNano(),
			})
		}
	}
}

// SyntheticSource emits deterministic placeholder frames (dimensions and
// a sequence number, no pixel data) at its own FPS rate, independent of
// FPS arguments passed elsewhere, for exercising the keep-latest contract
// without a GPU.
type SyntheticSource struct {
	Width, Height int
	FPS           int
}

// Run emits one synthetic frame per 1/FPS tick until ctx is done.
func (s *SyntheticSource) Run(ctx context.Context, slot *Slot, onFailure func(error)) error {
	_ = onFailure
	interval := time.Second / time.Duration(max(s.FPS, 1))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			seq++
			slot.Put(Frame{
				Handle:     synthFrame{width: s.Width, height: s.Height, seq: seq},
				Sequence:   seq,
				TimestampN: time.Now().UnixNano(),
			})
		}
	}
}

type synthFrame struct {
	width, height int
	seq           uint64
}
