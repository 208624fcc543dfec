// Resolves the proxy server address against the configured upstreams
// directly. Once the default route points at a tunnel, the system
// resolver cannot be trusted to reach the proxy without looping.
package dns

import (
	"errors"
	"net"
	"time"

	"github.com/miekg/dns"
)

var ErrNoAnswer = errors.New("dns: no answer")

const queryTimeout = 1 * time.Second

type Resolver struct {
	Upstream []string
}

func NewResolver(upstream []string) *Resolver {
	return &Resolver{Upstream: upstream}
}

func (r *Resolver) ResolveIPv4(domain string) ([]net.IP, error) {
	out := make([]net.IP, 0)
	if len(r.Upstream) == 0 {
		ips, err := net.LookupIP(domain)
		if err != nil {
			return nil, err
		}
		for _, v := range ips {
			if v.To4() != nil {
				out = append(out, v.To4())
			}
		}
		if len(out) == 0 {
			return nil, ErrNoAnswer
		}
		return out, nil
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeA)
	reply, err := asyncQuery(msg, r.Upstream)
	if err != nil {
		return nil, err
	}
	for _, v := range reply.Answer {
		if a, ok := v.(*dns.A); ok {
			out = append(out, a.A)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoAnswer
	}
	return out, nil
}

// query every upstream at once, first answer wins
func asyncQuery(m *dns.Msg, upstream []string) (*dns.Msg, error) {
	type response struct {
		m *dns.Msg
		e error
	}

	var (
		l  = len(upstream)
		rs response
	)
	res := make(chan response, l)

	for i := 0; i < l; i++ {
		go func(i int) {
			rAddr, err := net.ResolveUDPAddr("udp", upstream[i])
			if err != nil {
				res <- response{nil, err}
				return
			}
			conn, err := net.DialUDP("udp", nil, rAddr)
			if err != nil {
				res <- response{nil, err}
				return
			}
			defer conn.Close()
			dnsConn := &dns.Conn{Conn: conn}
			dnsConn.SetWriteDeadline(time.Now().Add(queryTimeout))
			if err = dnsConn.WriteMsg(m); err != nil {
				res <- response{nil, err}
				return
			}
			dnsConn.SetReadDeadline(time.Now().Add(queryTimeout))
			reply, err := dnsConn.ReadMsg()
			if err != nil {
				res <- response{nil, err}
				return
			}
			res <- response{reply, nil}
		}(i)
	}

	for i := 0; i < l; i++ {
		rs = <-res
		if rs.e == nil {
			return rs.m, rs.e
		}
	}
	return rs.m, rs.e
}
