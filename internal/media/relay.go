// Package media implements the best-effort datagram relays for live audio
// and video. Each relay owns one UDP socket and an endpoint table mapping
// identity to its most recently registered address. Payloads are opaque:
// never inspected, reassembled, or reordered.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
)

// Tags are the classifier bytes for a relay's private and group datagrams.
type Tags struct {
	Private byte
	Group   byte
}

var (
	// AudioTags classify audio datagrams: A private, G group.
	AudioTags = Tags{Private: 'A', Group: 'G'}
	// VideoTags classify video datagrams: V private, H group.
	VideoTags = Tags{Private: 'V', Group: 'H'}
)

const (
	// AudioBufferSize bounds a single audio datagram.
	AudioBufferSize = 4096
	// VideoBufferSize bounds a single video datagram (max UDP payload).
	VideoBufferSize = 65507
)

var registrationPrefix = []byte("REG:")

// RosterSource exposes the group-call rosters a relay fans group traffic out
// to.
type RosterSource interface {
	Active(room string) bool
	Participants(room string) []string
}

// Relay is one datagram forwarding service over a single shared socket.
type Relay struct {
	name    string
	tags    Tags
	bufSize int
	rosters RosterSource
	log     *zap.Logger
	metrics *Metrics

	mu        sync.RWMutex
	endpoints map[string]*net.UDPAddr
	conn      *net.UDPConn
}

// NewAudioRelay builds the audio relay.
func NewAudioRelay(rosters RosterSource, log *zap.Logger, metrics *Metrics) *Relay {
	return newRelay("audio", AudioTags, AudioBufferSize, rosters, log, metrics)
}

// NewVideoRelay builds the video relay.
func NewVideoRelay(rosters RosterSource, log *zap.Logger, metrics *Metrics) *Relay {
	return newRelay("video", VideoTags, VideoBufferSize, rosters, log, metrics)
}

func newRelay(name string, tags Tags, bufSize int, rosters RosterSource, log *zap.Logger, metrics *Metrics) *Relay {
	return &Relay{
		name:      name,
		tags:      tags,
		bufSize:   bufSize,
		rosters:   rosters,
		log:       log.Named(name),
		metrics:   metrics,
		endpoints: make(map[string]*net.UDPAddr),
	}
}

// Listen binds the relay socket.
func (r *Relay) Listen(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve %s relay address %s: %w", r.name, addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen %s relay on %s: %w", r.name, addr, err)
	}
	r.conn = conn
	r.log.Info("relay listening", zap.String("address", conn.LocalAddr().String()))
	return nil
}

// LocalAddr returns the bound socket address.
func (r *Relay) LocalAddr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Run drives the receive loop until ctx is canceled. The loop is unbounded:
// one read, one classification, zero or more forwards, repeat.
func (r *Relay) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		r.conn.Close()
	}()

	buf := make([]byte, r.bufSize)
	for {
		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				r.log.Info("relay stopped")
				return
			}
			r.log.Warn("relay read failed", zap.Error(err))
			continue
		}
		r.handlePacket(buf[:n], src)
	}
}

func (r *Relay) handlePacket(data []byte, src *net.UDPAddr) {
	if len(data) == 0 {
		return
	}

	if bytes.HasPrefix(data, registrationPrefix) {
		identity := string(data[len(registrationPrefix):])
		if identity == "" {
			r.metrics.recordDrop(r.name, "empty_registration")
			return
		}
		r.Register(identity, src)
		return
	}

	switch data[0] {
	case r.tags.Private:
		r.forwardPrivate(data[1:])
	case r.tags.Group:
		r.forwardGroup(data[1:], src)
	default:
		r.metrics.recordDrop(r.name, "unknown_tag")
	}
}

// forwardPrivate routes <target>\0<payload> byte-for-byte to the target's
// registered endpoint, or drops it silently.
func (r *Relay) forwardPrivate(data []byte) {
	sep := bytes.IndexByte(data, 0)
	if sep < 0 {
		r.metrics.recordDrop(r.name, "malformed")
		return
	}
	target, payload := string(data[:sep]), data[sep+1:]

	endpoint, ok := r.Endpoint(target)
	if !ok {
		r.metrics.recordDrop(r.name, "unregistered_target")
		return
	}
	if _, err := r.conn.WriteToUDP(payload, endpoint); err != nil {
		r.metrics.recordDrop(r.name, "send_failed")
		return
	}
	r.metrics.recordForward(r.name, "private")
}

// forwardGroup resolves the sender by reverse lookup of the source address,
// then fans <room>\0<payload> out to every other roster participant with a
// registered endpoint.
func (r *Relay) forwardGroup(data []byte, src *net.UDPAddr) {
	sep := bytes.IndexByte(data, 0)
	if sep < 0 {
		r.metrics.recordDrop(r.name, "malformed")
		return
	}
	room, payload := string(data[:sep]), data[sep+1:]

	if !r.rosters.Active(room) {
		r.metrics.recordDrop(r.name, "no_roster")
		return
	}
	sender, ok := r.identityFor(src)
	if !ok {
		r.metrics.recordDrop(r.name, "unknown_sender")
		return
	}

	for _, participant := range r.rosters.Participants(room) {
		if participant == sender {
			continue
		}
		endpoint, ok := r.Endpoint(participant)
		if !ok {
			continue
		}
		if _, err := r.conn.WriteToUDP(payload, endpoint); err != nil {
			r.metrics.recordDrop(r.name, "send_failed")
			continue
		}
		r.metrics.recordForward(r.name, "group")
	}
}

// Register stores or overwrites the identity's endpoint. No authentication
// beyond the identity string, no expiry beyond disconnect cleanup.
func (r *Relay) Register(identity string, addr *net.UDPAddr) {
	r.mu.Lock()
	r.endpoints[identity] = addr
	r.mu.Unlock()
	r.metrics.recordRegistration(r.name)
	r.log.Debug("endpoint registered", zap.String("identity", identity), zap.String("endpoint", addr.String()))
}

// Endpoint fetches the most recently registered address for identity.
func (r *Relay) Endpoint(identity string) (*net.UDPAddr, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.endpoints[identity]
	return addr, ok
}

// Drop removes the identity's endpoint binding (connection teardown).
func (r *Relay) Drop(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, identity)
}

func (r *Relay) identityFor(addr *net.UDPAddr) (string, bool) {
	want := addr.String()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for identity, endpoint := range r.endpoints {
		if endpoint.String() == want {
			return identity, true
		}
	}
	return "", false
}
