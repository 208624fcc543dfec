// Per-flow relay workers between a local network stack and a remote
// SOCKS5 proxy. Each worker owns one proxied channel and one reader
// goroutine; inbound payloads go to a shared Sink, outbound bytes are
// pushed synchronously by the owner.
package relay

import (
	"net"
	"sync"
	"time"
)

// Forwarder hands payloads read off the proxy back to the local
// network stack.
type Forwarder interface {
	ForwardStream(dst *net.TCPAddr, srcPort uint16, payload []byte) error
	ForwardDatagram(dst *net.UDPAddr, srcPort uint16, payload []byte) error
}

// Sink serializes a Forwarder shared by every worker goroutine. Calls
// from one worker arrive in read order; each call owns the forwarder
// for its full duration.
type Sink struct {
	l   sync.Mutex
	fwd Forwarder
}

func NewSink(f Forwarder) *Sink {
	return &Sink{fwd: f}
}

func (s *Sink) ForwardStream(dst *net.TCPAddr, srcPort uint16, payload []byte) error {
	s.l.Lock()
	defer s.l.Unlock()
	return s.fwd.ForwardStream(dst, srcPort, payload)
}

func (s *Sink) ForwardDatagram(dst *net.UDPAddr, srcPort uint16, payload []byte) error {
	s.l.Lock()
	defer s.l.Unlock()
	return s.fwd.ForwardDatagram(dst, srcPort, payload)
}

const (
	// wait after a timed out read before retrying
	timedOutWait = 20 * time.Millisecond

	// consecutive zero length reads before a stream treats the
	// connection as gone. A single zero read shows up spuriously
	// with some proxies and proves nothing on its own.
	zeroesBeforeClose = 3

	// largest payload a 16 bit length field can describe
	bufferSize = 1<<16 - 1
)
