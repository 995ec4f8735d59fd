// Package videnc implements the video encoder (C2): a ticker-paced loop
// that uploads the capturer's latest frame into a CUDA hardware frame and
// feeds it to NVENC, emitting encoded access units for the packetizer.
package videnc

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/rs/zerolog"

	"github.com/riftcast/moonshine/internal/capture"
	"github.com/riftcast/moonshine/internal/types"
)

// Config configures the NVENC session.
type Config struct {
	Width, Height, FPS int
	BitrateKbps        int
	Codec              types.Codec
	CUDADevice         int
}

// Encoder owns the CUDA context and NVENC codec context exclusively; the
// capturer hands over software frames and holds neither the CUDA device
// nor the codec handle. Run uploads each frame into GPU memory itself.
type Encoder struct {
	log zerolog.Logger
	cfg Config

	hwDeviceCtx *astiav.HardwareDeviceContext
	hwFramesCtx *astiav.HardwareFramesContext
	codecCtx    *astiav.CodecContext

	forceIDR atomic.Bool
	frameIdx atomic.Uint32
}

// New allocates the CUDA device/frames contexts and opens the NVENC
// codec context per Config. Settings (tune=ull, refs=1, forced-IDR
// support, a GOP of FPS*2 frames, so an automatic keyframe every two
// seconds) mirror the reference encoder's codec-context construction.
func New(log zerolog.Logger, cfg Config) (*Encoder, error) {
	codecName := "h264_nvenc"
	if cfg.Codec == types.CodecHEVC {
		codecName = "hevc_nvenc"
	}

	enc := astiav.FindEncoderByName(codecName)
	if enc == nil {
		return nil, fmt.Errorf("videnc: encoder %s unavailable", codecName)
	}

	hwDeviceCtx, err := astiav.CreateHardwareDeviceContext(astiav.HardwareDeviceTypeCUDA, fmt.Sprintf("%d", cfg.CUDADevice), nil, 0)
	if err != nil {
		return nil, fmt.Errorf("videnc: create cuda device context: %w", err)
	}

	codecCtx := astiav.AllocCodecContext(enc)
	if codecCtx == nil {
		hwDeviceCtx.Free()
		return nil, fmt.Errorf("videnc: allocate codec context")
	}

	codecCtx.SetWidth(cfg.Width)
	codecCtx.SetHeight(cfg.Height)
	codecCtx.SetTimeBase(astiav.NewRational(1, cfg.FPS))
	codecCtx.SetFramerate(astiav.NewRational(cfg.FPS, 1))
	codecCtx.SetBitRate(int64(cfg.BitrateKbps) * 1000)
	codecCtx.SetGopSize(cfg.FPS * 2)
	codecCtx.SetMaxBFrames(0)
	codecCtx.SetPixelFormat(astiav.PixelFormatCuda)

	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("preset", "p1", 0)
	_ = opts.Set("tune", "ull", 0)
	_ = opts.Set("rc", "cbr", 0)
	_ = opts.Set("zerolatency", "1", 0)
	_ = opts.Set("refs", "1", 0)
	_ = opts.Set("forced-idr", "1", 0)

	hwFramesCtx, err := hwDeviceCtx.CreateHardwareFramesContext()
	if err != nil {
		codecCtx.Free()
		hwDeviceCtx.Free()
		return nil, fmt.Errorf("videnc: create hw frames context: %w", err)
	}
	hwFramesCtx.SetWidth(cfg.Width)
	hwFramesCtx.SetHeight(cfg.Height)
	hwFramesCtx.SetSoftwarePixelFormat(astiav.PixelFormatNv12)
	hwFramesCtx.SetPixelFormat(astiav.PixelFormatCuda)
	if err := hwFramesCtx.Initialize(); err != nil {
		codecCtx.Free()
		hwDeviceCtx.Free()
		return nil, fmt.Errorf("videnc: initialize hw frames context: %w", err)
	}
	codecCtx.SetHardwareFramesContext(hwFramesCtx)

	if err := codecCtx.Open(enc, opts); err != nil {
		codecCtx.Free()
		hwDeviceCtx.Free()
		return nil, fmt.Errorf("videnc: open codec: %w", err)
	}

	return &Encoder{
		log:         log.With().Str("component", "videnc").Logger(),
		cfg:         cfg,
		hwDeviceCtx: hwDeviceCtx,
		hwFramesCtx: hwFramesCtx,
		codecCtx:    codecCtx,
	}, nil
}

// Close releases the CUDA and codec contexts.
func (e *Encoder) Close() {
	if e.codecCtx != nil {
		e.codecCtx.Free()
	}
	if e.hwFramesCtx != nil {
		e.hwFramesCtx.Free()
	}
	if e.hwDeviceCtx != nil {
		e.hwDeviceCtx.Free()
	}
}

// RequestIDR forces the next emitted packet to be an IDR frame, per a
// client RequestIdrFrame/InvalidateReferenceFrames control message.
func (e *Encoder) RequestIDR() {
	e.forceIDR.Store(true)
}

// Run paces encoding at 1/FPS, consuming the capturer's latest frame each
// tick (observing the same frame twice in a row is expected), and emits
// EncodedPacket values via emit. emit must not block for long; it runs
// on the encode loop (the session packetizes there and enqueues onto the
// transport's bounded send queue).
func (e *Encoder) Run(ctx context.Context, slot *capture.Slot, emit func(types.EncodedPacket), onFailure func(error)) error {
	ticker := time.NewTicker(time.Second / time.Duration(e.cfg.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		frame, _, ok := slot.Latest()
		if !ok {
			continue
		}

		swFrame, ok := frame.Handle.(*astiav.Frame)
		if !ok || swFrame == nil {
			continue
		}

		hwFrame := astiav.AllocFrame()
		if err := e.hwFramesCtx.GetBuffer(hwFrame, 0); err != nil {
			hwFrame.Free()
			onFailure(fmt.Errorf("videnc: get hw buffer: %w", err))
			return err
		}
		if err := hwFrame.TransferFrameFrom(swFrame); err != nil {
			hwFrame.Free()
			onFailure(fmt.Errorf("videnc: upload frame: %w", err))
			return err
		}

		idx := e.frameIdx.Add(1) - 1
		forceIDR := e.forceIDR.Swap(false)
		if forceIDR {
			hwFrame.SetPictureType(astiav.PictureTypeI)
			hwFrame.SetKeyFrame(true)
		}
		hwFrame.SetPts(int64(idx))

		if err := e.codecCtx.SendFrame(hwFrame); err != nil {
			hwFrame.Free()
			onFailure(fmt.Errorf("videnc: send frame: %w", err))
			return err
		}
		hwFrame.Free()

		for {
			pkt := astiav.AllocPacket()
			err := e.codecCtx.ReceivePacket(pkt)
			if err != nil {
				pkt.Free()
				break
			}

			data := make([]byte, pkt.Size())
			copy(data, pkt.Data())

			emit(types.EncodedPacket{
				Data:       data,
				PTS:        pkt.Pts(),
				IsIDR:      pkt.Flags()&astiav.PacketFlagKey != 0,
				FrameIndex: idx,
			})
			pkt.Free()
		}
	}
}
