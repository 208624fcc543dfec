package socks

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

var ErrBadRelayHeader = errors.New("malformed udp relay header")

// DatagramConn is a datagram channel associated with a SOCKS5 relay.
// The control connection keeps the association alive; every datagram
// travels through the relay with the per-packet header added and
// stripped here, so callers only see plain peer addresses and payloads.
type DatagramConn struct {
	control net.Conn
	pc      net.PacketConn
	relay   *net.UDPAddr
	rbuf    []byte
}

const readBufferSize = 1<<16 - 1 + MaxUdpHeaderSize

// Bind opens a local datagram endpoint on localPort (0 for ephemeral)
// and associates it with the SOCKS5 relay at proxy.
func Bind(localPort uint16, proxy *net.TCPAddr, opts ...Option) (*DatagramConn, error) {
	o := applyOptions(opts)

	ctl, err := net.DialTCP("tcp", nil, proxy)
	if err != nil {
		return nil, err
	}
	control := net.Conn(ctl)
	if o.cipher != nil {
		control = o.cipher.StreamConn(control)
	}
	if err := handshake(control); err != nil {
		control.Close()
		return nil, err
	}

	pc, err := listenPacket(localPort)
	if err != nil {
		control.Close()
		return nil, err
	}

	lPort := pc.LocalAddr().(*net.UDPAddr).Port
	relay, err := request(control, CmdUdpAssociate, net.IPv4zero, lPort)
	if err != nil {
		pc.Close()
		control.Close()
		return nil, err
	}
	// a wildcard bound address means the relay lives on the proxy host
	if relay.IP.IsUnspecified() {
		relay.IP = proxy.IP
	}

	if o.cipher != nil {
		pc = o.cipher.PacketConn(pc)
	}

	return &DatagramConn{
		control: control,
		pc:      pc,
		relay:   relay,
		rbuf:    make([]byte, readBufferSize),
	}, nil
}

// relay sockets get rebound across flows, let the port be reused
func listenPacket(port uint16) (net.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var serr error
			if err := c.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return serr
		},
	}
	return lc.ListenPacket(context.Background(), "udp", fmt.Sprintf(":%v", port))
}

// ReadFrom receives one datagram off the relay, strips the relay
// header and returns the payload together with the real peer address.
// Only called from one goroutine at a time.
func (c *DatagramConn) ReadFrom(b []byte) (int, *net.UDPAddr, error) {
	n, _, err := c.pc.ReadFrom(c.rbuf)
	if err != nil {
		return 0, nil, err
	}
	peer, payload, err := stripHeader(c.rbuf[:n])
	if err != nil {
		return 0, nil, err
	}
	return copy(b, payload), peer, nil
}

// WriteTo sends one datagram to dst through the relay.
func (c *DatagramConn) WriteTo(b []byte, dst *net.UDPAddr) (int, error) {
	data := make([]byte, 0, len(b)+MaxUdpHeaderSize)
	data = append(data, Rsv, Rsv, 0x00)
	if ip4 := dst.IP.To4(); ip4 != nil {
		data = append(data, AtypIPv4)
		data = append(data, ip4...)
	} else if ip16 := dst.IP.To16(); ip16 != nil {
		data = append(data, AtypIPv6)
		data = append(data, ip16...)
	} else {
		return 0, ErrAtypNotSupported
	}
	data = append(data, byte(dst.Port>>8), byte(dst.Port))
	data = append(data, b...)
	if _, err := c.pc.WriteTo(data, c.relay); err != nil {
		return 0, err
	}
	return len(b), nil
}

func stripHeader(b []byte) (*net.UDPAddr, []byte, error) {
	if len(b) < 4 {
		return nil, nil, ErrBadRelayHeader
	}
	if b[0] != Rsv || b[1] != Rsv || b[2] != 0x00 {
		// fragments not supported
		return nil, nil, ErrBadRelayHeader
	}
	var (
		ip      net.IP
		payload []byte
		port    int
	)
	switch b[AtypPos] {
	case AtypIPv4:
		if len(b) < 4+Ipv4Size+PortSize {
			return nil, nil, ErrBadRelayHeader
		}
		ip = append(net.IP(nil), b[4:4+Ipv4Size]...)
		port = int(b[8])<<8 + int(b[9])
		payload = b[10:]
	case AtypIPv6:
		if len(b) < 4+Ipv6Size+PortSize {
			return nil, nil, ErrBadRelayHeader
		}
		ip = append(net.IP(nil), b[4:4+Ipv6Size]...)
		port = int(b[20])<<8 + int(b[21])
		payload = b[22:]
	default:
		return nil, nil, ErrAtypNotSupported
	}
	return &net.UDPAddr{IP: ip, Port: port}, payload, nil
}

func (c *DatagramConn) LocalAddr() net.Addr {
	return c.pc.LocalAddr()
}

// Close releases the datagram socket and the control connection that
// holds the association.
func (c *DatagramConn) Close() error {
	err := c.pc.Close()
	if cerr := c.control.Close(); err == nil {
		err = cerr
	}
	return err
}
