// Package sockstest runs a scriptable in-process SOCKS5 server for
// tests: CONNECT hands the negotiated stream to a caller-provided
// handler, UDP ASSOCIATE spins up a relay that echoes every datagram
// back to its sender unchanged.
package sockstest

import (
	"io"
	"net"
	"testing"
)

const ver = 0x05

// StreamHandler runs after a successful CONNECT, on the server side of
// the proxied stream. dst is the address the client asked for.
type StreamHandler func(dst *net.TCPAddr, c net.Conn)

type Server struct {
	Addr   *net.TCPAddr
	ln     net.Listener
	stream StreamHandler
}

func Start(t *testing.T, stream StreamHandler) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &Server{
		Addr:   ln.Addr().(*net.TCPAddr),
		ln:     ln,
		stream: stream,
	}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *Server) serve() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(c)
	}
}

func (s *Server) handle(c net.Conn) {
	defer c.Close()

	buffer := make([]byte, 300)
	// greeting
	if _, err := io.ReadFull(c, buffer[:2]); err != nil || buffer[0] != ver {
		return
	}
	if _, err := io.ReadFull(c, buffer[:int(buffer[1])]); err != nil {
		return
	}
	if _, err := c.Write([]byte{ver, 0x00}); err != nil {
		return
	}

	// request
	if _, err := io.ReadFull(c, buffer[:4]); err != nil {
		return
	}
	cmd := buffer[1]
	dst, ok := s.readAddr(c, buffer[3], buffer)
	if !ok {
		return
	}

	switch cmd {
	case 0x01: // CONNECT
		if _, err := c.Write([]byte{ver, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}); err != nil {
			return
		}
		if s.stream != nil {
			s.stream(dst, c)
		}
	case 0x03: // UDP ASSOCIATE
		pc, err := net.ListenPacket("udp", "127.0.0.1:0")
		if err != nil {
			return
		}
		defer pc.Close()
		bnd := pc.LocalAddr().(*net.UDPAddr)
		rep := append([]byte{ver, 0x00, 0x00, 0x01}, bnd.IP.To4()...)
		rep = append(rep, byte(bnd.Port>>8), byte(bnd.Port))
		if _, err := c.Write(rep); err != nil {
			return
		}
		go echoRelay(pc)
		// association lives as long as the control connection
		io.Copy(io.Discard, c)
	}
}

func (s *Server) readAddr(c net.Conn, atyp byte, buffer []byte) (*net.TCPAddr, bool) {
	var ip net.IP
	switch atyp {
	case 0x01:
		if _, err := io.ReadFull(c, buffer[:4]); err != nil {
			return nil, false
		}
		ip = append(net.IP(nil), buffer[:4]...)
	case 0x04:
		if _, err := io.ReadFull(c, buffer[:16]); err != nil {
			return nil, false
		}
		ip = append(net.IP(nil), buffer[:16]...)
	default:
		return nil, false
	}
	if _, err := io.ReadFull(c, buffer[:2]); err != nil {
		return nil, false
	}
	return &net.TCPAddr{IP: ip, Port: int(buffer[0])<<8 + int(buffer[1])}, true
}

// echo each relay packet, header included, straight back
func echoRelay(pc net.PacketConn) {
	buffer := make([]byte, 1<<16)
	for {
		n, from, err := pc.ReadFrom(buffer)
		if err != nil {
			return
		}
		if _, err := pc.WriteTo(buffer[:n], from); err != nil {
			return
		}
	}
}
