// Package control implements the control channel (C6): a reliable-UDP
// (ENet-style) peer that decrypts and dispatches inbound Moonlight
// control messages and encodes outbound feedback, all AES-128-GCM
// sealed per spec §4.5.
package control

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codecat/go-enet"
	"github.com/rs/zerolog"

	"github.com/riftcast/moonshine/internal/cryptox"
	"github.com/riftcast/moonshine/internal/protocol"
	"github.com/riftcast/moonshine/internal/types"
)

// State is the control peer's connection lifecycle, per spec §4.5.
type State int

const (
	StateWaitingForPeer State = iota
	StateConnected
	StateDraining
	StateClosed
)

// Config configures the control host.
type Config struct {
	BindAddress    string
	Port           uint16
	ClientTimeout  time.Duration // liveness timeout, default 10s
	DrainTimeout   time.Duration // bounded grace period before forced close, default 2s
}

// Host owns the ENet peer, decrypt/dispatch of inbound messages, and
// encode/send of outbound feedback.
type Host struct {
	log zerolog.Logger
	cfg Config

	enetHost enet.Host
	peer     enet.Peer

	mu       sync.Mutex
	crypto   *cryptox.Context
	ivPrefix [8]byte
	state    State
	lastSeen time.Time
	outSeq   uint32

	onInput     func(types.ControlMessage)
	onTerminate func()
	onRequestIDR func()
	onInvalidateRef func()
	onLossStats func(types.ControlMessage)

	onFailure func(error) // set for the duration of Run

	authFailCount       int
	authFailWindowStart time.Time
}

// authFailureWindow/authFailureThreshold bound the rate of AES-GCM
// authentication failures tolerated before escalating to
// ControlPipelineFailed, per spec §7 (a flood of forged/corrupt
// datagrams is a pipeline-level defect, not routine packet loss).
const (
	authFailureWindow    = time.Second
	authFailureThreshold = 16
)

// New allocates the ENet host bound to cfg.Port. The host does not begin
// servicing events until Run is called.
func New(log zerolog.Logger, cfg Config, crypto *cryptox.Context, ivPrefix [8]byte) (*Host, error) {
	if cfg.ClientTimeout == 0 {
		cfg.ClientTimeout = 10 * time.Second
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = 2 * time.Second
	}

	addr := enet.NewListenAddress(cfg.Port)
	host, err := enet.NewHost(addr, 1, int(protocol.CtrlChannelCount), 0, 0)
	if err != nil {
		return nil, fmt.Errorf("control: create enet host: %w", err)
	}

	return &Host{
		log:      log.With().Str("component", "control").Logger(),
		cfg:      cfg,
		crypto:   crypto,
		ivPrefix: ivPrefix,
		enetHost: host,
		state:    StateWaitingForPeer,
	}, nil
}

// OnInput registers the callback invoked for every decoded Input* message.
func (h *Host) OnInput(fn func(types.ControlMessage)) { h.onInput = fn }

// OnTerminate registers the callback invoked when the client sends Terminate.
func (h *Host) OnTerminate(fn func()) { h.onTerminate = fn }

// OnRequestIDR registers the callback for RequestIdrFrame/InvalidateReferenceFrames.
func (h *Host) OnRequestIDR(fn func()) { h.onRequestIDR = fn }

// OnLossStats registers the callback invoked for LossStats reports.
func (h *Host) OnLossStats(fn func(types.ControlMessage)) { h.onLossStats = fn }

// UpdateKey rotates the AES-GCM key and IV prefix used for every
// subsequent inbound/outbound control datagram (spec §5, Session.UpdateKeys).
func (h *Host) UpdateKey(crypto *cryptox.Context, ivPrefix [8]byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.crypto = crypto
	h.ivPrefix = ivPrefix
}

func (h *Host) keyState() (*cryptox.Context, [8]byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.crypto, h.ivPrefix
}

// State returns the current connection state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Run services the ENet host until ctx is done, dispatching inbound
// messages and enforcing the liveness timeout. onFailure is called with
// ControlPipelineFailed-worthy errors (ENet service errors and a flood
// of authentication failures, see recordAuthFailure); client timeout is
// reported via onTimeout, not onFailure, since it is an expected
// end-of-session condition rather than a pipeline defect.
func (h *Host) Run(ctx context.Context, onTimeout func(), onFailure func(error)) error {
	defer h.enetHost.Destroy()

	h.mu.Lock()
	h.onFailure = onFailure
	h.mu.Unlock()

	livenessTick := time.NewTicker(time.Second)
	defer livenessTick.Stop()

	for {
		select {
		case <-ctx.Done():
			h.drain()
			return nil
		case <-livenessTick.C:
			h.mu.Lock()
			connected := h.state == StateConnected
			stale := connected && time.Since(h.lastSeen) > h.cfg.ClientTimeout
			h.mu.Unlock()
			if stale {
				onTimeout()
				return nil
			}
		default:
		}

		event, err := h.enetHost.Service(50 * time.Millisecond)
		if err != nil {
			onFailure(fmt.Errorf("control: service: %w", err))
			return err
		}

		switch event.GetType() {
		case enet.EventConnect:
			h.mu.Lock()
			h.peer = event.GetPeer()
			h.state = StateConnected
			h.lastSeen = time.Now()
			h.mu.Unlock()
			h.log.Info().Msg("control peer connected")

		case enet.EventDisconnect:
			h.mu.Lock()
			h.state = StateWaitingForPeer
			h.mu.Unlock()

		case enet.EventReceive:
			packet := event.GetPacket()
			h.handleInbound(packet.GetData())
			packet.Destroy()
		}
	}
}

// handleInbound authenticates, decrypts, and dispatches one inbound
// control datagram per the framing in spec §6.
func (h *Host) handleInbound(raw []byte) {
	hdr, err := protocol.UnmarshalControlHeader(raw)
	if err != nil {
		h.log.Debug().Err(err).Msg("short control datagram")
		return
	}
	rest := raw[protocol.ControlHeaderSize:]
	if len(rest) < int(hdr.CiphertextLength) {
		h.log.Debug().Msg("truncated control datagram")
		return
	}
	ciphertext := rest[:hdr.CiphertextLength]

	crypto, ivPrefix := h.keyState()
	nonce := cryptox.SequenceNonce(ivPrefix, hdr.Sequence)
	plaintext, err := crypto.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("control datagram failed authentication")
		h.recordAuthFailure()
		return
	}

	h.mu.Lock()
	h.lastSeen = time.Now()
	h.mu.Unlock()

	if len(plaintext) < 2 {
		return
	}
	msgType := binary.LittleEndian.Uint16(plaintext[0:2])
	body := plaintext[2:]
	h.dispatch(msgType, body)
}

// recordAuthFailure counts one AES-GCM auth failure in a fixed
// one-second window (a new window starts with the first failure after
// the previous one expired) and escalates to onFailure the first time
// the count within a window exceeds authFailureThreshold.
func (h *Host) recordAuthFailure() {
	h.mu.Lock()
	now := time.Now()
	if now.Sub(h.authFailWindowStart) > authFailureWindow {
		h.authFailWindowStart = now
		h.authFailCount = 0
	}
	h.authFailCount++
	count := h.authFailCount
	onFailure := h.onFailure
	h.mu.Unlock()

	if count == authFailureThreshold+1 && onFailure != nil {
		onFailure(fmt.Errorf("control: %d AES-GCM authentication failures within %s", count, authFailureWindow))
	}
}

func (h *Host) dispatch(msgType uint16, body []byte) {
	switch msgType {
	case protocol.MsgTypePing:
		// no response payload required; liveness already refreshed above

	case protocol.MsgTypeRequestIDR, protocol.MsgTypeInvalidateRefFrames:
		if h.onRequestIDR != nil {
			h.onRequestIDR()
		}

	case protocol.MsgTypeTermination:
		if h.onTerminate != nil {
			h.onTerminate()
		}

	case protocol.MsgTypeLossStats:
		if h.onLossStats != nil {
			h.onLossStats(types.ControlMessage{Type: types.MsgLossStats})
		}

	case protocol.MsgTypeInputData:
		if msg, ok := decodeInput(body); ok && h.onInput != nil {
			h.onInput(msg)
		}

	default:
		h.log.Debug().Uint16("type", msgType).Msg("unhandled control message type")
	}
}

// Send encodes, encrypts, and enqueues one outbound feedback message with
// a monotonically increasing sequence number used as the AES-GCM nonce.
func (h *Host) Send(msgType uint16, body []byte) error {
	h.mu.Lock()
	peer := h.peer
	connected := h.state == StateConnected
	h.mu.Unlock()
	if !connected || peer == nil {
		return fmt.Errorf("control: no connected peer")
	}

	seq := atomic.AddUint32(&h.outSeq, 1) - 1

	plaintext := make([]byte, 2+len(body))
	binary.LittleEndian.PutUint16(plaintext[0:2], msgType)
	copy(plaintext[2:], body)

	crypto, ivPrefix := h.keyState()
	nonce := cryptox.SequenceNonce(ivPrefix, seq)
	ciphertext := crypto.Seal(nil, nonce[:], plaintext, nil)

	datagram := make([]byte, protocol.ControlHeaderSize+len(ciphertext))
	protocol.ControlHeader{
		CiphertextLength: uint16(len(ciphertext)),
		Sequence:         seq,
	}.Marshal(datagram)
	copy(datagram[protocol.ControlHeaderSize:], ciphertext)

	packet := enet.NewPacket(datagram, enet.PacketFlagReliable)
	return peer.Send(protocol.CtrlChannelGeneric, packet)
}

// drain transitions to Draining, flushes the peer, and waits up to the
// configured DrainTimeout before returning so Run can close cleanly.
func (h *Host) drain() {
	h.mu.Lock()
	h.state = StateDraining
	peer := h.peer
	h.mu.Unlock()

	if peer != nil {
		peer.Disconnect(0)
		h.enetHost.Flush()
	}

	time.Sleep(minDuration(h.cfg.DrainTimeout, 2*time.Second))

	h.mu.Lock()
	h.state = StateClosed
	h.mu.Unlock()
}

func minDuration(a, b time.Duration) time.Duration {
	if a <= 0 || a > b {
		return b
	}
	return a
}
