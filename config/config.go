package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"sockstun/component/socks"
	"sockstun/dns"
	"sockstun/ingress"
	"sockstun/ingress/portfwd"
	"sockstun/log"
	"sockstun/util"

	"github.com/shadowsocks/go-shadowsocks2/core"
	"gopkg.in/yaml.v3"
)

type ErrDup struct {
	Name string
	Zone string
}

func (e ErrDup) Error() string {
	return fmt.Sprintf("duplicate %v in %v group", e.Name, e.Zone)
}

func (e ErrDup) Is(err error) bool {
	t, ok := err.(ErrDup)
	if !ok {
		return false
	}
	return t.Zone == e.Zone && t.Name == e.Name
}

// parse raw config to get binary marshaled structure
func ParseRawConfig(path string) (*Config, error) {
	config := Config{}
	path, err := util.GetAbsPath(path)
	if err != nil {
		return nil, err
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(buf, &config)
	if err != nil {
		return nil, err
	}
	if config.Log.Path != "" {
		config.Log.Path, _ = util.GetAbsPath(config.Log.Path)
	}
	config.Path = path
	config.Dir = filepath.Dir(path)

	return &config, nil
}

// ProxyAddr resolves the configured proxy address. Hostnames go
// through the bootstrap resolver, never the system one.
func (c *Config) ProxyAddr() (*net.TCPAddr, error) {
	host, portStr, err := net.SplitHostPort(c.Proxy.Address)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	if ip := net.ParseIP(host); ip != nil {
		return &net.TCPAddr{IP: ip, Port: port}, nil
	}

	r := dns.NewResolver(c.DNS.Upstream)
	ips, err := r.ResolveIPv4(host)
	if err != nil {
		return nil, err
	}
	return &net.TCPAddr{IP: ips[0], Port: port}, nil
}

// SocksOptions builds the collaborator options from the proxy section.
func (c *Config) SocksOptions() ([]socks.Option, error) {
	if !c.Proxy.Shadow.Enable {
		return nil, nil
	}
	ciph, err := core.PickCipher(c.Proxy.Shadow.Cipher, nil, c.Proxy.Shadow.Password)
	if err != nil {
		return nil, err
	}
	return []socks.Option{socks.WithCipher(ciph)}, nil
}

// parse ingress
func (c *Config) ParseIngress(proxy *net.TCPAddr, opts []socks.Option) (map[string]ingress.Ingress, error) {
	ingresses := make(map[string]ingress.Ingress)
	for i := 0; i < len(c.Forward); i++ {
		f := c.Forward[i]
		if _, exist := ingresses[f.Name]; exist {
			return nil, ErrDup{Zone: "forward", Name: f.Name}
		}
		p, err := portfwd.New(f.Name, f.Protocol, f.Listen, f.Remote, proxy, opts...)
		if err != nil {
			return nil, err
		}
		ingresses[f.Name] = p
	}
	return ingresses, nil
}

// parse log
func (c *Config) ParseLog() *log.Log {
	return &c.Log
}
