// Package transport implements the per-stream UDP transports (C8):
// send/receive tasks bound to the session's negotiated ports, QoS
// marking, and client-address discovery via the PING datagram.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// DSCP markings, per spec §4.7 (EF for audio, AF41 for video).
const (
	dscpEF   = 0x2E << 2 // Expedited Forwarding
	dscpAF41 = 0x22 << 2 // Assured Forwarding 41
)

// Kind distinguishes the stream a Transport carries, selecting its QoS mark.
type Kind int

const (
	KindVideo Kind = iota
	KindAudio
)

// Transport owns one UDP socket bound to a session-negotiated port. The
// receive side learns the client's address from the first valid
// PING-discovery datagram and only accepts datagrams from that address
// afterward.
type Transport struct {
	log  zerolog.Logger
	kind Kind
	conn *net.UDPConn

	addrMu     sync.RWMutex
	clientAddr *net.UDPAddr

	sendQueue chan []byte
}

// New binds a UDP socket on port and applies the QoS marking for kind.
func New(log zerolog.Logger, kind Kind, port int) (*Transport, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp :%d: %w", port, err)
	}

	t := &Transport{
		log:       log.With().Str("component", "transport").Int("port", port).Logger(),
		kind:      kind,
		conn:      conn,
		sendQueue: make(chan []byte, 256),
	}
	t.setQoS()
	return t, nil
}

// setQoS best-effort sets the IP_TOS DSCP marking; failures are logged,
// not fatal, since not every OS/network path honors or permits it.
func (t *Transport) setQoS() {
	dscp := dscpAF41
	if t.kind == KindAudio {
		dscp = dscpEF
	}

	rawConn, err := t.conn.SyscallConn()
	if err != nil {
		t.log.Debug().Err(err).Msg("could not obtain raw conn for QoS marking")
		return
	}
	ctrlErr := rawConn.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, dscp)
	})
	if ctrlErr != nil {
		t.log.Debug().Err(ctrlErr).Msg("QoS marking failed")
	}
}

// getClientAddr returns the client address learned via PING discovery,
// or nil if none has been observed yet.
func (t *Transport) getClientAddr() *net.UDPAddr {
	t.addrMu.RLock()
	defer t.addrMu.RUnlock()
	return t.clientAddr
}

// setClientAddr records the client address learned via PING discovery.
func (t *Transport) setClientAddr(addr *net.UDPAddr) {
	t.addrMu.Lock()
	defer t.addrMu.Unlock()
	t.clientAddr = addr
}

// Send enqueues a datagram for the client address learned via PING
// discovery, or drops it if the client address is not yet known. Per the
// keep-latest backpressure policy, a full queue drops its oldest
// undelivered datagram to make room for the newest one rather than the
// reverse.
func (t *Transport) Send(payload []byte) {
	if t.getClientAddr() == nil {
		return
	}
	for {
		select {
		case t.sendQueue <- payload:
			return
		default:
		}
		select {
		case <-t.sendQueue:
			t.log.Warn().Msg("send queue full, dropping oldest datagram")
		default:
		}
	}
}

// pingMagic is the client's fixed 4-byte discovery PING datagram.
const pingMagic = "PING"

// pingMagicSize is the fixed length of the client's discovery PING.
const pingMagicSize = len(pingMagic)

// Run drives the send and receive loops until ctx is done, then drains
// the send queue for up to drainTimeout before closing the socket.
func (t *Transport) Run(ctx context.Context, drainTimeout time.Duration) error {
	errCh := make(chan error, 2)
	go t.sendLoop(ctx, errCh)
	go t.receiveLoop(ctx, errCh)

	<-ctx.Done()

	deadline := time.After(drainTimeout)
drain:
	for {
		select {
		case payload := <-t.sendQueue:
			t.writeTo(payload)
		case <-deadline:
			break drain
		default:
			break drain
		}
	}

	return t.conn.Close()
}

func (t *Transport) sendLoop(ctx context.Context, errCh chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-t.sendQueue:
			t.writeTo(payload)
		}
	}
}

func (t *Transport) writeTo(payload []byte) {
	addr := t.getClientAddr()
	if addr == nil {
		return
	}
	if _, err := t.conn.WriteToUDP(payload, addr); err != nil {
		t.log.Debug().Err(err).Msg("write failed")
	}
}

func (t *Transport) receiveLoop(ctx context.Context, errCh chan<- error) {
	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = t.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}

		known := t.getClientAddr()
		if known == nil {
			if n == pingMagicSize && string(buf[:n]) == pingMagic {
				t.setClientAddr(addr)
				t.log.Info().Str("client", addr.String()).Msg("client discovered via PING")
			}
			continue
		}
		if !addr.IP.Equal(known.IP) || addr.Port != known.Port {
			continue // ignore datagrams from any address but the discovered client
		}
		// Inbound video/audio datagrams have no host-side consumer; only
		// the discovery PING is meaningful on these sockets.
	}
}
