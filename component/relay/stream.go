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

// StreamWorker relays one TCP-like flow through a SOCKS5 CONNECT
// session. One reader goroutine pushes inbound bytes to the sink;
// Send writes outbound bytes from the owner's goroutine. The two
// directions share the connection without further locking.
type StreamWorker struct {
	dst     *net.TCPAddr
	srcPort uint16
	conn    net.Conn
	closed  atomic.Bool
	once    sync.Once
	done    chan struct{}
}

// Connect opens a stream worker for dst through the proxy. The worker
// is usable for Send as soon as Connect returns; on error no worker
// exists.
func Connect(sink *Sink, srcPort uint16, dst, proxy *net.TCPAddr, opts ...socks.Option) (*StreamWorker, error) {
	c, err := socks.Connect(proxy, dst, opts...)
	if err != nil {
		return nil, err
	}
	return newStreamWorker(sink, srcPort, dst, c), nil
}

func newStreamWorker(sink *Sink, srcPort uint16, dst *net.TCPAddr, c net.Conn) *StreamWorker {
	w := &StreamWorker{
		dst:     dst,
		srcPort: srcPort,
		conn:    c,
		done:    make(chan struct{}),
	}
	go w.readLoop(sink)
	log.Debug("[Relay] stream opened",
		zap.Uint16("src", srcPort),
		zap.String("dst", dst.String()))
	return w
}

func (w *StreamWorker) readLoop(sink *Sink) {
	defer close(w.done)
	buffer := make([]byte, bufferSize)
	zeroes := 0
	for {
		if w.closed.Load() {
			return
		}
		n, err := w.conn.Read(buffer)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				time.Sleep(timedOutWait)
				continue
			}
			if !w.closed.Load() {
				log.Warn("[Relay] stream read failed",
					zap.Uint16("src", w.srcPort),
					zap.String("dst", w.dst.String()),
					zap.Error(err))
			}
			w.closed.Store(true)
			return
		}
		if w.closed.Load() {
			return
		}
		if n == 0 {
			zeroes++
			if zeroes >= zeroesBeforeClose {
				w.closed.Store(true)
				return
			}
			continue
		}
		zeroes = 0
		if err := sink.ForwardStream(w.dst, w.srcPort, buffer[:n]); err != nil {
			log.Warn("[Relay] stream forward failed",
				zap.Uint16("src", w.srcPort),
				zap.String("dst", w.dst.String()),
				zap.Error(err))
		}
	}
}

// Send writes the whole buffer to the proxied stream. No retry, the
// caller decides what a failure means for the flow.
func (w *StreamWorker) Send(b []byte) error {
	_, err := w.conn.Write(b)
	return err
}

func (w *StreamWorker) IsClosed() bool {
	return w.closed.Load()
}

// Close tears the worker down: marks it closed, closes the proxied
// connection so a reader parked in Read wakes up with an error, then
// waits for the reader goroutine to exit. Idempotent; never returns
// while the reader is still able to forward.
func (w *StreamWorker) Close() error {
	w.once.Do(func() {
		w.closed.Store(true)
		if err := w.conn.Close(); err != nil {
			log.Warn("[Relay] stream shutdown failed",
				zap.Uint16("src", w.srcPort),
				zap.String("dst", w.dst.String()),
				zap.Error(err))
		}
	})
	<-w.done
	log.Debug("[Relay] stream closed",
		zap.Uint16("src", w.srcPort),
		zap.String("dst", w.dst.String()))
	return nil
}
