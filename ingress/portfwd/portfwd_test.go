package portfwd

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"sockstun/component/socks/sockstest"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %v", what)
}

func startForward(t *testing.T, proto string, proxy *net.TCPAddr) *PortForward {
	t.Helper()
	p, err := New("test", proto, 0, "192.0.2.5:80", proxy)
	if err != nil {
		t.Fatal(err)
	}
	go p.Run()
	t.Cleanup(func() { <-p.Close() })
	waitFor(t, "listener", func() bool { return p.ListenAddr() != nil })
	return p
}

func TestStreamForward(t *testing.T) {
	gotDst := make(chan *net.TCPAddr, 1)
	srv := sockstest.Start(t, func(dst *net.TCPAddr, c net.Conn) {
		gotDst <- dst
		io.Copy(c, c)
	})
	p := startForward(t, "tcp", srv.Addr)

	c, err := net.Dial("tcp", p.ListenAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	msg := []byte("forward me")
	if _, err := c.Write(msg); err != nil {
		t.Fatal(err)
	}
	buffer := make([]byte, len(msg))
	if _, err := io.ReadFull(c, buffer); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buffer, msg) {
		t.Fatalf("read %q, want %q", buffer, msg)
	}

	dst := <-gotDst
	if dst.String() != "192.0.2.5:80" {
		t.Fatalf("proxy saw destination %v, want 192.0.2.5:80", dst)
	}
}

func TestPacketForward(t *testing.T) {
	srv := sockstest.Start(t, nil)
	p := startForward(t, "udp", srv.Addr)

	c, err := net.Dial("udp", p.ListenAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := c.Write([]byte("query")); err != nil {
		t.Fatal(err)
	}

	// the stub relay echoes, so the forward answers with the same bytes
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	buffer := make([]byte, 64)
	n, err := c.Read(buffer)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buffer[:n], []byte("query")) {
		t.Fatalf("read %q, want %q", buffer[:n], "query")
	}
}

func TestForwardWithoutFlow(t *testing.T) {
	p, err := New("test", "tcp", 0, "192.0.2.5:80", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.ForwardStream(nil, 4000, []byte("x")); !errors.Is(err, errNoFlow) {
		t.Fatalf("expected errNoFlow, got %v", err)
	}
}

func TestNewRejectsProtocol(t *testing.T) {
	if _, err := New("test", "icmp", 0, "192.0.2.5:80", nil); err == nil {
		t.Fatal("accepted invalid protocol")
	}
}
