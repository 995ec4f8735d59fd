// Package session implements the session manager (C9) and owns the
// shutdown manager (C10): building, supervising, and tearing down one
// streaming session's pipelines in dependency order.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/riftcast/moonshine/internal/audio"
	"github.com/riftcast/moonshine/internal/capture"
	"github.com/riftcast/moonshine/internal/control"
	"github.com/riftcast/moonshine/internal/cryptox"
	"github.com/riftcast/moonshine/internal/input"
	"github.com/riftcast/moonshine/internal/shutdown"
	"github.com/riftcast/moonshine/internal/transport"
	"github.com/riftcast/moonshine/internal/types"
	"github.com/riftcast/moonshine/internal/videnc"
	"github.com/riftcast/moonshine/internal/videopkt"
)

// State is the session's total-order lifecycle (spec Invariant 5):
// Init -> Running -> Stopping -> Stopped, no reverse edge.
type State int

const (
	StateInit State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StartDeadline is the 3-second start bound. Start does not apply it:
// Start returns without waiting for any pipeline to report readiness.
const StartDeadline = 3 * time.Second

// StopDeadline bounds Stop's total wait before detaching stragglers.
const StopDeadline = 5 * time.Second

// audioSSRC is the fixed SSRC this host uses for its single audio
// stream; Moonlight clients do not rely on SSRC for demultiplexing
// since each stream has its own UDP port.
const audioSSRC = 0x4D534841 // "MSHA"

// Session owns one streaming session's components for its entire life.
type Session struct {
	log    zerolog.Logger
	params types.SessionParameters

	mu    sync.Mutex
	state State

	shutdown *shutdown.Manager

	captureSlot  *capture.Slot
	videoEncoder *videnc.Encoder
	videoPacker  *videopkt.Packetizer
	videoXport   *transport.Transport

	audioEncoder *audio.Encoder
	audioPacker  *audio.Packetizer
	audioXport   *transport.Transport

	controlHost *control.Host
	inputPool   *input.Pool

	cancel context.CancelFunc
	group  *errgroup.Group

	stopOnce  sync.Once
	stoppedCh chan struct{} // closed once Stop's teardown has fully run
}

// Build constructs every component in dependency order (capture before
// encoder, encoder before packetizer, control before input) without
// starting any of them.
func Build(log zerolog.Logger, params types.SessionParameters) (*Session, error) {
	s := &Session{
		log:       log.With().Str("session", params.SessionID).Logger(),
		params:    params,
		state:     StateInit,
		stoppedCh: make(chan struct{}),
	}

	s.shutdown = shutdown.New(s.log)

	s.captureSlot = capture.NewSlot()

	videoEnc, err := videnc.New(s.log, videnc.Config{
		Width: params.Width, Height: params.Height, FPS: params.FPS,
		BitrateKbps: params.BitrateKbps, Codec: params.Codec,
	})
	if err != nil {
		return nil, fmt.Errorf("session: build video encoder: %w", err)
	}
	s.videoEncoder = videoEnc

	videoCrypto, err := cryptox.New(params.VideoAESKey)
	if err != nil {
		return nil, fmt.Errorf("session: build video crypto: %w", err)
	}
	s.videoPacker = videopkt.New(params.PacketSize, params.FECPercentage, videoCrypto, params.VideoIVPrefix)

	videoXport, err := transport.New(s.log, transport.KindVideo, params.ClientVideoPort)
	if err != nil {
		return nil, fmt.Errorf("session: build video transport: %w", err)
	}
	s.videoXport = videoXport

	if params.AudioEnabled {
		audioEnc, err := audio.New(s.log, audio.Config{
			SampleRate: 48000, Channels: params.ChannelCount,
			FrameMS: 5, BitrateKbps: params.OpusBitrateKbps,
		})
		if err != nil {
			return nil, fmt.Errorf("session: build audio encoder: %w", err)
		}
		s.audioEncoder = audioEnc

		audioCrypto, err := cryptox.New(params.AudioAESKey)
		if err != nil {
			return nil, fmt.Errorf("session: build audio crypto: %w", err)
		}
		s.audioPacker = audio.NewPacketizer(audioCrypto, params.AudioIVPrefix, audioSSRC)

		audioXport, err := transport.New(s.log, transport.KindAudio, params.ClientAudioPort)
		if err != nil {
			return nil, fmt.Errorf("session: build audio transport: %w", err)
		}
		s.audioXport = audioXport
	}

	controlCrypto, err := cryptox.New(params.ControlAESKey)
	if err != nil {
		return nil, fmt.Errorf("session: build control crypto: %w", err)
	}
	controlHost, err := control.New(s.log, control.Config{
		Port:          uint16(params.ClientControlPort),
		ClientTimeout: params.ClientTimeout,
	}, controlCrypto, params.ControlIVPrefix)
	if err != nil {
		return nil, fmt.Errorf("session: build control host: %w", err)
	}
	s.controlHost = controlHost

	inputPool, err := input.New(s.log, params.Width, params.Height)
	if err != nil {
		return nil, fmt.Errorf("session: build input pool: %w", err)
	}
	s.inputPool = inputPool

	s.wireControl()

	return s, nil
}

// wireControl connects control-channel callbacks to the other pipelines:
// input dispatch, IDR requests to the encoder, and termination. No
// LossStats handler is registered, so loss reports are dropped.
func (s *Session) wireControl() {
	s.controlHost.OnInput(s.inputPool.Dispatch)
	s.controlHost.OnRequestIDR(s.videoEncoder.RequestIDR)
	s.controlHost.OnTerminate(func() {
		s.shutdown.SetReason(types.ShutdownClientRequested)
	})
}

// Start launches every pipeline goroutine and the shutdown supervisor,
// then returns at once. It does not wait for any pipeline to reach a
// running state and does not apply StartDeadline; a pipeline that fails
// while starting ends the session through the shutdown supervisor.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateInit {
		s.mu.Unlock()
		return fmt.Errorf("session: Start called in state %s", s.state)
	}
	s.state = StateRunning
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	group, groupCtx := errgroup.WithContext(runCtx)
	s.group = group

	var captureSource capture.Source = &capture.AstiavSource{
		Log: s.log, Display: ":0", Width: s.params.Width, Height: s.params.Height, FPS: s.params.FPS,
	}

	release := s.shutdown.Track()
	group.Go(func() error {
		defer release()
		return captureSource.Run(groupCtx, s.captureSlot, func(err error) {
			s.log.Error().Err(err).Msg("capture failed")
			s.shutdown.SetReason(types.ShutdownVideoPipelineFailed)
		})
	})

	releaseEnc := s.shutdown.Track()
	group.Go(func() error {
		defer releaseEnc()
		return s.videoEncoder.Run(groupCtx, s.captureSlot, s.emitVideo, func(err error) {
			s.log.Error().Err(err).Msg("video encoder failed")
			s.shutdown.SetReason(types.ShutdownVideoPipelineFailed)
		})
	})

	releaseVX := s.shutdown.Track()
	group.Go(func() error {
		defer releaseVX()
		return s.videoXport.Run(groupCtx, 500*time.Millisecond)
	})

	if s.params.AudioEnabled {
		releaseAE := s.shutdown.Track()
		group.Go(func() error {
			defer releaseAE()
			return s.audioEncoder.Run(groupCtx, s.emitAudio, func(err error) {
				s.log.Error().Err(err).Msg("audio encoder failed")
				s.shutdown.SetReason(types.ShutdownAudioPipelineFailed)
			})
		})

		releaseAX := s.shutdown.Track()
		group.Go(func() error {
			defer releaseAX()
			return s.audioXport.Run(groupCtx, 500*time.Millisecond)
		})
	}

	releaseCtl := s.shutdown.Track()
	group.Go(func() error {
		defer releaseCtl()
		return s.controlHost.Run(groupCtx, func() {
			s.shutdown.SetReason(types.ShutdownClientTimeout)
		}, func(err error) {
			s.log.Error().Err(err).Msg("control channel failed")
			s.shutdown.SetReason(types.ShutdownControlPipelineFailed)
		})
	})

	go s.superviseShutdown()

	return nil
}

// superviseShutdown is the one piece of code that turns a set shutdown
// reason into an actual teardown: every pipeline only ever calls
// shutdown.SetReason, never Stop directly, so without this the signal
// would close and nothing would act on it (spec §4.8). It deliberately
// is not tracked via shutdown.Track, since it is what drives Stop's
// WaitQuiescent rather than something Stop should wait for.
func (s *Session) superviseShutdown() {
	<-s.shutdown.Subscribe()
	reason, _ := s.shutdown.Reason()
	s.Stop(reason)
}

// emitVideo packetizes and enqueues one encoded video access unit.
func (s *Session) emitVideo(pkt types.EncodedPacket) {
	shards, err := s.videoPacker.Packetize(pkt)
	if err != nil {
		s.log.Error().Err(err).Msg("video packetize failed")
		return
	}
	for _, shard := range shards {
		s.videoXport.Send(videopkt.Marshal(shard))
	}
}

// emitAudio packetizes and enqueues one encoded Opus frame.
func (s *Session) emitAudio(frame types.AudioFrame) {
	for _, datagram := range s.audioPacker.Packetize(frame) {
		s.audioXport.Send(datagram)
	}
}

// RequestIDR forwards an out-of-band IDR request to the video encoder.
func (s *Session) RequestIDR() {
	s.videoEncoder.RequestIDR()
}

// Stop idempotently signals shutdown, awaits every pipeline's
// quiescence (bounded by StopDeadline), and returns the final reason.
// It is safe to call concurrently (the shutdown supervisor and an
// external caller may race here; sync.Once serializes them onto a
// single teardown and every caller observes the same final reason).
// Pipeline failure callbacks do not call Stop; they set a reason and
// the supervisor calls Stop.
func (s *Session) Stop(reason types.ShutdownReason) types.ShutdownReason {
	s.mu.Lock()
	if s.state != StateStopped {
		s.state = StateStopping
	}
	s.mu.Unlock()

	s.stopOnce.Do(func() {
		s.shutdown.SetReason(reason)
		if s.cancel != nil {
			s.cancel()
		}

		done := make(chan struct{})
		go func() {
			s.shutdown.WaitQuiescent()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(StopDeadline):
			s.log.Warn().Msg("stop deadline exceeded, detaching stragglers")
		}

		if s.group != nil {
			_ = s.group.Wait()
		}

		s.videoEncoder.Close()
		if s.audioEncoder != nil {
			s.audioEncoder.Close()
		}
		s.inputPool.Close()

		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()

		final, _ := s.shutdown.Reason()
		if s.params.OnSessionEnded != nil {
			s.params.OnSessionEnded(final)
		}

		close(s.stoppedCh)
	})

	final, _ := s.shutdown.Reason()
	return final
}

// Done returns a channel closed once Stop's teardown has fully run,
// regardless of who triggered it (an external caller, a pipeline
// failure, or a client timeout/terminate via the shutdown supervisor).
func (s *Session) Done() <-chan struct{} {
	return s.stoppedCh
}

// UpdateKeys rotates the AES-128-GCM keys and IV prefixes for the
// video, audio, and control pipelines in place, without interrupting
// capture, encode, or transport (spec §5 re-key edge, C6 -> C5/C3).
func (s *Session) UpdateKeys(keys types.SessionKeys) error {
	videoCrypto, err := cryptox.New(keys.VideoAESKey)
	if err != nil {
		return fmt.Errorf("session: rekey video: %w", err)
	}
	s.videoPacker.UpdateKey(videoCrypto, keys.VideoIVPrefix)

	if s.audioPacker != nil {
		audioCrypto, err := cryptox.New(keys.AudioAESKey)
		if err != nil {
			return fmt.Errorf("session: rekey audio: %w", err)
		}
		s.audioPacker.UpdateKey(audioCrypto, keys.AudioIVPrefix)
	}

	controlCrypto, err := cryptox.New(keys.ControlAESKey)
	if err != nil {
		return fmt.Errorf("session: rekey control: %w", err)
	}
	s.controlHost.UpdateKey(controlCrypto, keys.ControlIVPrefix)

	s.log.Info().Msg("session keys rotated")
	return nil
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
