package relay

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"sockstun/component/socks"
	"sockstun/log"

	"go.uber.org/zap"
)

// datagramConn is what a DatagramWorker needs from its channel;
// satisfied by *socks.DatagramConn.
type datagramConn interface {
	ReadFrom(b []byte) (int, *net.UDPAddr, error)
	WriteTo(b []byte, dst *net.UDPAddr) (int, error)
	Close() error
}

// DatagramWorker relays a UDP-like association through a SOCKS5
// relay. The peer varies per datagram; the logical source port can be
// rebound at any time without touching the socket.
type DatagramWorker struct {
	srcPort   atomic.Uint32
	localPort uint16
	conn      datagramConn
	closed    atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// Bind opens a datagram worker on localPort (0 for ephemeral) relayed
// through the proxy. On error no worker exists.
func Bind(sink *Sink, srcPort, localPort uint16, proxy *net.TCPAddr, opts ...socks.Option) (*DatagramWorker, error) {
	c, err := socks.Bind(localPort, proxy, opts...)
	if err != nil {
		return nil, err
	}
	return newDatagramWorker(sink, srcPort, localPort, c), nil
}

func newDatagramWorker(sink *Sink, srcPort, localPort uint16, c datagramConn) *DatagramWorker {
	w := &DatagramWorker{
		localPort: localPort,
		conn:      c,
		done:      make(chan struct{}),
	}
	w.srcPort.Store(uint32(srcPort))
	go w.readLoop(sink)
	log.Debug("[Relay] datagram opened",
		zap.Uint16("src", srcPort),
		zap.Uint16("local", localPort))
	return w
}

func (w *DatagramWorker) readLoop(sink *Sink) {
	defer close(w.done)
	buffer := make([]byte, bufferSize)
	for {
		if w.closed.Load() {
			return
		}
		n, peer, err := w.conn.ReadFrom(buffer)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				time.Sleep(timedOutWait)
				continue
			}
			if !w.closed.Load() {
				log.Warn("[Relay] datagram receive failed",
					zap.Uint16("src", w.SrcPort()),
					zap.Uint16("local", w.localPort),
					zap.Error(err))
			}
			w.closed.Store(true)
			return
		}
		if w.closed.Load() {
			return
		}
		// the source port is read fresh per packet so a rebind
		// takes effect on the next forward
		if err := sink.ForwardDatagram(peer, w.SrcPort(), buffer[:n]); err != nil {
			log.Warn("[Relay] datagram forward failed",
				zap.Uint16("src", w.SrcPort()),
				zap.String("peer", peer.String()),
				zap.Error(err))
		}
	}
}

// SendTo relays one datagram to dst. No retry.
func (w *DatagramWorker) SendTo(b []byte, dst *net.UDPAddr) (int, error) {
	return w.conn.WriteTo(b, dst)
}

// SetSrcPort rebinds the logical source port of the flow. Visible to
// the reader on its next forwarded packet.
func (w *DatagramWorker) SetSrcPort(port uint16) {
	w.srcPort.Store(uint32(port))
	log.Debug("[Relay] datagram rebound",
		zap.Uint16("src", port),
		zap.Uint16("local", w.localPort))
}

func (w *DatagramWorker) SrcPort() uint16 {
	return uint16(w.srcPort.Load())
}

func (w *DatagramWorker) IsClosed() bool {
	return w.closed.Load()
}

// Close tears the worker down with the same contract as the stream
// worker: mark closed, close the channel to wake the reader, wait for
// the reader goroutine to exit.
func (w *DatagramWorker) Close() error {
	w.once.Do(func() {
		w.closed.Store(true)
		if err := w.conn.Close(); err != nil {
			log.Warn("[Relay] datagram shutdown failed",
				zap.Uint16("src", w.SrcPort()),
				zap.Uint16("local", w.localPort),
				zap.Error(err))
		}
	})
	<-w.done
	log.Debug("[Relay] datagram closed",
		zap.Uint16("src", w.SrcPort()),
		zap.Uint16("local", w.localPort))
	return nil
}
