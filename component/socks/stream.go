package socks

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/shadowsocks/go-shadowsocks2/core"
)

var (
	ErrVerNotSupported    = errors.New("need socks version 5")
	ErrMethodNotSupported = errors.New("no acceptable auth method")
	ErrAtypNotSupported   = errors.New("address type not supported")
)

type options struct {
	cipher core.Cipher
}

type Option func(o *options)

// WithCipher shadows the transport to the proxy with a shadowsocks
// AEAD cipher, for proxies reachable only through an ss tunnel.
func WithCipher(c core.Cipher) Option {
	return func(o *options) {
		o.cipher = c
	}
}

func applyOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Connect negotiates a SOCKS5 CONNECT session to dst through proxy and
// returns the resulting duplex stream. Reading and writing the stream
// are independent directions, safe from two goroutines at once.
func Connect(proxy, dst *net.TCPAddr, opts ...Option) (net.Conn, error) {
	o := applyOptions(opts)

	c, err := net.DialTCP("tcp", nil, proxy)
	if err != nil {
		return nil, err
	}
	conn := net.Conn(c)
	if o.cipher != nil {
		conn = o.cipher.StreamConn(conn)
	}

	if err := handshake(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := request(conn, CmdConnect, dst.IP, dst.Port); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func handshake(c net.Conn) error {
	if _, err := c.Write([]byte{Ver, 0x01, MethodNoAuth}); err != nil {
		return err
	}
	buffer := make([]byte, 2)
	if _, err := io.ReadFull(c, buffer); err != nil {
		return err
	}
	if buffer[VerPos] != Ver {
		return ErrVerNotSupported
	}
	if buffer[1] != MethodNoAuth {
		return ErrMethodNotSupported
	}
	return nil
}

// request sends one SOCKS5 request and consumes the reply, returning
// the bound address the server reported.
func request(c net.Conn, cmd byte, ip net.IP, port int) (*net.UDPAddr, error) {
	var req []byte
	if ip4 := ip.To4(); ip4 != nil {
		req = append([]byte{Ver, cmd, Rsv, AtypIPv4}, ip4...)
	} else if ip16 := ip.To16(); ip16 != nil {
		req = append([]byte{Ver, cmd, Rsv, AtypIPv6}, ip16...)
	} else {
		return nil, ErrAtypNotSupported
	}
	req = append(req, byte(port>>8), byte(port))
	if _, err := c.Write(req); err != nil {
		return nil, err
	}

	buffer := make([]byte, Ipv6Size+PortSize)
	if _, err := io.ReadFull(c, buffer[:4]); err != nil {
		return nil, err
	}
	if buffer[ReplyPos] != ReplySucceeded {
		return nil, fmt.Errorf("socks: request rejected with reply %#02x", buffer[ReplyPos])
	}

	var bndIP net.IP
	switch buffer[AtypPos] {
	case AtypIPv4:
		if _, err := io.ReadFull(c, buffer[:Ipv4Size+PortSize]); err != nil {
			return nil, err
		}
		bndIP = net.IP(buffer[:Ipv4Size]).To16()
		port = int(buffer[Ipv4Size])<<8 + int(buffer[Ipv4Size+1])
	case AtypIPv6:
		if _, err := io.ReadFull(c, buffer[:Ipv6Size+PortSize]); err != nil {
			return nil, err
		}
		bndIP = net.IP(buffer[:Ipv6Size])
		port = int(buffer[Ipv6Size])<<8 + int(buffer[Ipv6Size+1])
	default:
		return nil, ErrAtypNotSupported
	}
	// To16 aliases buffer, detach before reuse
	bndIP = append(net.IP(nil), bndIP...)

	return &net.UDPAddr{IP: bndIP, Port: port}, nil
}
