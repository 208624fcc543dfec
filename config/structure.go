package config

import (
	"strings"

	"sockstun/log"
	"sockstun/util"

	"gopkg.in/yaml.v3"
)

// config structure to unmarshal yaml
type Config struct {
	Proxy   Proxy    `yaml:"proxy"`
	DNS     DNS      `yaml:"dns"`
	Forward Forwards `yaml:"forward"`
	Log     log.Log  `yaml:"log"`
	Path    string
	Dir     string
}

type Proxy struct {
	Address string `yaml:"address"`
	Shadow  Shadow `yaml:"shadow"`
}

// Shadow layers a shadowsocks AEAD cipher under the SOCKS5 session,
// for proxies published behind an ss tunnel.
type Shadow struct {
	Enable   bool   `yaml:"enable"`
	Cipher   string `yaml:"cipher"`
	Password string `yaml:"password"`
}

type DNS struct {
	Upstream []string `yaml:"upstream"`
}

type Forward struct {
	Name     string
	Protocol string
	Listen   uint16
	Remote   string
}

type Forwards []Forward

func (f *Forwards) UnmarshalYAML(value *yaml.Node) error {
	for i := 0; i < len(value.Content); i++ {
		temp := make(map[string]any)
		if err := value.Content[i].Decode(&temp); err != nil {
			return err
		}

		var (
			name     string
			protocol string
			remote   string
			listen   int
			attrMust = map[string]any{
				"name":     &name,
				"protocol": &protocol,
				"listen":   &listen,
				"remote":   &remote,
			}
		)
		if err := util.MustHave(temp, attrMust); err != nil {
			return err
		}

		*f = append(*f, Forward{
			Name:     name,
			Protocol: strings.ToLower(protocol),
			Listen:   uint16(listen),
			Remote:   remote,
		})
	}
	return nil
}
