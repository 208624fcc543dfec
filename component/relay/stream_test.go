package relay

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"sockstun/component/socks/sockstest"
)

type readResult struct {
	data []byte
	err  error
}

// scriptConn feeds the reader scripted results and records writes.
type scriptConn struct {
	reads  chan readResult
	closed chan struct{}
	once   sync.Once
	mu     sync.Mutex
	wrote  []byte
}

func newScriptConn() *scriptConn {
	return &scriptConn{
		reads:  make(chan readResult, 16),
		closed: make(chan struct{}),
	}
}

func (c *scriptConn) Read(b []byte) (int, error) {
	select {
	case r := <-c.reads:
		if r.err != nil {
			return 0, r.err
		}
		return copy(b, r.data), nil
	case <-c.closed:
		return 0, net.ErrClosed
	}
}

func (c *scriptConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wrote = append(c.wrote, b...)
	return len(b), nil
}

func (c *scriptConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *scriptConn) written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.wrote...)
}

func (c *scriptConn) LocalAddr() net.Addr                { return &net.TCPAddr{} }
func (c *scriptConn) RemoteAddr() net.Addr               { return &net.TCPAddr{} }
func (c *scriptConn) SetDeadline(t time.Time) error      { return nil }
func (c *scriptConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *scriptConn) SetWriteDeadline(t time.Time) error { return nil }

var testDst = &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 443}

func TestStreamWorkerStartsOpen(t *testing.T) {
	conn := newScriptConn()
	w := newStreamWorker(NewSink(&recordForwarder{}), 4000, testDst, conn)
	if w.IsClosed() {
		t.Fatal("worker closed right after construction")
	}
	w.Close()
	if !w.IsClosed() {
		t.Fatal("worker open after Close")
	}
}

func TestStreamWorkerZeroReadThreshold(t *testing.T) {
	fwd := &recordForwarder{}
	conn := newScriptConn()
	w := newStreamWorker(NewSink(fwd), 4000, testDst, conn)
	defer w.Close()

	// two zero reads then data must not close and must reset the count
	conn.reads <- readResult{data: []byte{}}
	conn.reads <- readResult{data: []byte{}}
	conn.reads <- readResult{data: []byte("hello")}
	waitFor(t, "first forward", func() bool { return len(fwd.streamCalls()) == 1 })
	if w.IsClosed() {
		t.Fatal("worker closed below the zero read threshold")
	}

	// counter was reset, so two more zero reads still do not close
	conn.reads <- readResult{data: []byte{}}
	conn.reads <- readResult{data: []byte{}}
	conn.reads <- readResult{data: []byte("again")}
	waitFor(t, "second forward", func() bool { return len(fwd.streamCalls()) == 2 })
	if w.IsClosed() {
		t.Fatal("zero read counter not reset by a non-zero read")
	}

	// three in a row is terminal, with no error involved
	conn.reads <- readResult{data: []byte{}}
	conn.reads <- readResult{data: []byte{}}
	conn.reads <- readResult{data: []byte{}}
	waitFor(t, "close", func() bool { return w.IsClosed() })

	calls := fwd.streamCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 forwards, got %v", len(calls))
	}
	if !bytes.Equal(calls[0].payload, []byte("hello")) || calls[0].srcPort != 4000 {
		t.Fatalf("unexpected forward %+v", calls[0])
	}
}

func TestStreamWorkerTimeoutRetries(t *testing.T) {
	fwd := &recordForwarder{}
	conn := newScriptConn()
	w := newStreamWorker(NewSink(fwd), 4000, testDst, conn)
	defer w.Close()

	conn.reads <- readResult{err: timeoutError{}}
	conn.reads <- readResult{err: timeoutError{}}
	conn.reads <- readResult{data: []byte("after timeout")}

	waitFor(t, "forward after retries", func() bool { return len(fwd.streamCalls()) == 1 })
	if w.IsClosed() {
		t.Fatal("timed out read closed the worker")
	}
}

func TestStreamWorkerForwardFailureNonFatal(t *testing.T) {
	fwd := &recordForwarder{err: errors.New("sink full")}
	conn := newScriptConn()
	w := newStreamWorker(NewSink(fwd), 4000, testDst, conn)
	defer w.Close()

	conn.reads <- readResult{data: []byte("one")}
	conn.reads <- readResult{data: []byte("two")}

	waitFor(t, "both forwards", func() bool { return len(fwd.streamCalls()) == 2 })
	if w.IsClosed() {
		t.Fatal("forward failure closed the worker")
	}
}

func TestStreamWorkerTerminalReadError(t *testing.T) {
	fwd := &recordForwarder{}
	conn := newScriptConn()
	w := newStreamWorker(NewSink(fwd), 4000, testDst, conn)

	conn.reads <- readResult{err: errors.New("connection reset")}
	waitFor(t, "close", func() bool { return w.IsClosed() })
	w.Close()
}

func TestStreamWorkerSend(t *testing.T) {
	conn := newScriptConn()
	w := newStreamWorker(NewSink(&recordForwarder{}), 4000, testDst, conn)
	defer w.Close()

	if err := w.Send([]byte("outbound")); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(conn.written(), []byte("outbound")) {
		t.Fatalf("got %q on the wire", conn.written())
	}
}

func TestStreamWorkerCloseUnblocksReader(t *testing.T) {
	fwd := &recordForwarder{}
	conn := newScriptConn()
	w := newStreamWorker(NewSink(fwd), 4000, testDst, conn)

	// reader is parked in Read with nothing scripted
	done := make(chan struct{})
	go func() {
		w.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close deadlocked on a blocked reader")
	}

	before := len(fwd.streamCalls())
	time.Sleep(20 * time.Millisecond)
	if len(fwd.streamCalls()) != before {
		t.Fatal("forward happened after Close returned")
	}
}

func TestStreamWorkerEndToEnd(t *testing.T) {
	payload := []byte("0123456789")
	srv := sockstest.Start(t, func(dst *net.TCPAddr, c net.Conn) {
		c.Write(payload)
		c.Close()
	})

	fwd := &recordForwarder{}
	w, err := Connect(NewSink(fwd), 4000, testDst, srv.Addr)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	waitFor(t, "echo forward", func() bool { return len(fwd.streamCalls()) == 1 })
	waitFor(t, "close on remote shutdown", func() bool { return w.IsClosed() })

	call := fwd.streamCalls()[0]
	if !bytes.Equal(call.payload, payload) {
		t.Fatalf("forwarded %q, want %q", call.payload, payload)
	}
	if call.srcPort != 4000 || call.dst.String() != testDst.String() {
		t.Fatalf("unexpected tagging %+v", call)
	}
}
