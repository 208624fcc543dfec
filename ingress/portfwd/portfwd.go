// Package portfwd forwards one local listen port to one remote
// address through the SOCKS5 relay workers. It doubles as the
// forwarding sink for its own flows: inbound stream payloads are
// written back to the local connection registered under the flow's
// source port, inbound datagrams to the recorded client address.
package portfwd

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"sockstun/component/nat"
	"sockstun/component/relay"
	"sockstun/component/socks"
	"sockstun/ingress"
	"sockstun/log"

	"go.uber.org/zap"
)

var _ ingress.Ingress = (*PortForward)(nil)
var _ relay.Forwarder = (*PortForward)(nil)

var errNoFlow = errors.New("no local flow for source port")

type PortForward struct {
	name      string
	proto     string
	listen    uint16
	remoteTCP *net.TCPAddr
	remoteUDP *net.UDPAddr
	proxy     *net.TCPAddr
	opts      []socks.Option
	sink      *relay.Sink
	links     *nat.Table
	workers   sync.Map
	status    atomic.Int32
	mu        sync.Mutex
	ln        net.Listener
	pc        net.PacketConn
}

func New(name, proto string, listen uint16, remote string, proxy *net.TCPAddr, opts ...socks.Option) (*PortForward, error) {
	p := &PortForward{
		name:   name,
		proto:  proto,
		listen: listen,
		proxy:  proxy,
		opts:   opts,
		links:  nat.New(),
	}
	var err error
	switch proto {
	case "tcp":
		p.remoteTCP, err = net.ResolveTCPAddr("tcp", remote)
	case "udp":
		p.remoteUDP, err = net.ResolveUDPAddr("udp", remote)
	default:
		err = fmt.Errorf("invalid protocol %v", proto)
	}
	if err != nil {
		return nil, err
	}
	p.sink = relay.NewSink(p)
	p.status.Store(ingress.Ready)
	return p, nil
}

func (p *PortForward) logString(s string) string {
	return fmt.Sprintf("[PortForward] %v: %v", p.name, s)
}

func (p *PortForward) Name() string {
	return p.name
}

func (p *PortForward) Type() ingress.IngressType {
	return ingress.TypePortForward
}

// ListenAddr reports the bound local address, nil until Run got that
// far.
func (p *PortForward) ListenAddr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ln != nil {
		return p.ln.Addr()
	}
	if p.pc != nil {
		return p.pc.LocalAddr()
	}
	return nil
}

func (p *PortForward) Run() error {
	p.status.Store(ingress.Running)
	if p.proto == "tcp" {
		return p.runStream()
	}
	return p.runPacket()
}

func (p *PortForward) runStream() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%v", p.listen))
	if err != nil {
		log.Error(p.logString("failed to listen"), zap.Error(err))
		return err
	}
	p.mu.Lock()
	p.ln = ln
	p.mu.Unlock()
	log.Info(p.logString("tcp forward started"),
		zap.Uint16("listen", p.listen),
		zap.String("remote", p.remoteTCP.String()))

	for {
		c, err := ln.Accept()
		if err != nil {
			if p.status.Load() == ingress.Closed {
				return nil
			}
			log.Error(p.logString("failed to accept connection"), zap.Error(err))
			continue
		}
		if p.status.Load() == ingress.Closed {
			c.Close()
			return nil
		}
		go p.handleStream(c)
	}
}

func (p *PortForward) handleStream(c net.Conn) {
	cAddr := c.RemoteAddr().(*net.TCPAddr)
	srcPort := uint16(cAddr.Port)

	w, err := relay.Connect(p.sink, srcPort, p.remoteTCP, p.proxy, p.opts...)
	if err != nil {
		log.Error(p.logString("failed to open relay stream"),
			zap.String("client", cAddr.String()),
			zap.Error(err))
		c.Close()
		return
	}
	p.links.Set(srcPort, nat.Link{Conn: c})
	p.workers.Store(srcPort, w)
	log.Info(p.logString("accept connection"),
		zap.String("client", cAddr.String()),
		zap.String("remote", p.remoteTCP.String()))

	defer func() {
		p.workers.Delete(srcPort)
		p.links.Delete(srcPort)
		w.Close()
		c.Close()
		log.Info(p.logString("connection closed"),
			zap.String("client", cAddr.String()))
	}()

	buffer := make([]byte, 1<<16-1)
	for {
		n, err := c.Read(buffer)
		if err != nil {
			return
		}
		if w.IsClosed() {
			return
		}
		if err := w.Send(buffer[:n]); err != nil {
			log.Warn(p.logString("failed to send"),
				zap.String("client", cAddr.String()),
				zap.Error(err))
			return
		}
	}
}

func (p *PortForward) runPacket() error {
	pc, err := net.ListenPacket("udp", fmt.Sprintf(":%v", p.listen))
	if err != nil {
		log.Error(p.logString("failed to listen"), zap.Error(err))
		return err
	}
	p.mu.Lock()
	p.pc = pc
	p.mu.Unlock()
	log.Info(p.logString("udp forward started"),
		zap.Uint16("listen", p.listen),
		zap.String("remote", p.remoteUDP.String()))

	buffer := make([]byte, 1<<16-1)
	for {
		n, cAddr, err := pc.ReadFrom(buffer)
		if err != nil {
			if p.status.Load() == ingress.Closed {
				return nil
			}
			log.Error(p.logString("failed to read datagram"), zap.Error(err))
			continue
		}
		w, err := p.datagramWorker(cAddr)
		if err != nil {
			log.Error(p.logString("failed to open relay datagram"),
				zap.String("client", cAddr.String()),
				zap.Error(err))
			continue
		}
		if _, err := w.SendTo(buffer[:n], p.remoteUDP); err != nil {
			log.Warn(p.logString("failed to send datagram"),
				zap.String("client", cAddr.String()),
				zap.Error(err))
		}
	}
}

// one datagram worker per local client, keyed by the client port
func (p *PortForward) datagramWorker(cAddr net.Addr) (*relay.DatagramWorker, error) {
	srcPort := uint16(cAddr.(*net.UDPAddr).Port)
	if v, ok := p.workers.Load(srcPort); ok {
		w := v.(*relay.DatagramWorker)
		if !w.IsClosed() {
			return w, nil
		}
		w.Close()
		p.workers.Delete(srcPort)
		p.links.Delete(srcPort)
	}

	w, err := relay.Bind(p.sink, srcPort, 0, p.proxy, p.opts...)
	if err != nil {
		return nil, err
	}
	p.links.Set(srcPort, nat.Link{Addr: cAddr})
	p.workers.Store(srcPort, w)
	return w, nil
}

func (p *PortForward) ForwardStream(dst *net.TCPAddr, srcPort uint16, payload []byte) error {
	link, ok := p.links.Get(srcPort)
	if !ok || link.Conn == nil {
		return errNoFlow
	}
	_, err := link.Conn.Write(payload)
	return err
}

func (p *PortForward) ForwardDatagram(dst *net.UDPAddr, srcPort uint16, payload []byte) error {
	link, ok := p.links.Get(srcPort)
	if !ok || link.Addr == nil {
		return errNoFlow
	}
	_, err := p.pc.WriteTo(payload, link.Addr)
	return err
}

func (p *PortForward) Close() <-chan struct{} {
	defer func() {
		log.Info(p.logString("closed"))
	}()
	ch := make(chan struct{}, 1)
	if p.status.Load() == ingress.Closed || p.status.Load() == ingress.Ready {
		ch <- struct{}{}
		return ch
	}

	p.status.Store(ingress.Closed)
	p.mu.Lock()
	if p.ln != nil {
		p.ln.Close()
	}
	if p.pc != nil {
		p.pc.Close()
	}
	p.mu.Unlock()
	p.workers.Range(func(_, value any) bool {
		value.(io.Closer).Close()
		return true
	})

	ch <- struct{}{}
	return ch
}
