package config

import (
	"errors"
	"testing"

	"sockstun/util"

	"gopkg.in/yaml.v3"
)

func TestUnmarshal(t *testing.T) {
	conf, err := ParseRawConfig("../config.yaml")
	if err != nil {
		t.Fatalf("%v\n", err)
	}

	if conf.Proxy.Address != "127.0.0.1:1080" {
		t.Fatalf("proxy address %v", conf.Proxy.Address)
	}
	if len(conf.Forward) != 2 {
		t.Fatalf("expected 2 forwards, got %v", len(conf.Forward))
	}
	if conf.Forward[0].Protocol != "tcp" || conf.Forward[0].Listen != 8080 {
		t.Fatalf("unexpected forward %+v", conf.Forward[0])
	}
	if conf.Forward[1].Protocol != "udp" || conf.Forward[1].Remote != "8.8.8.8:53" {
		t.Fatalf("unexpected forward %+v", conf.Forward[1])
	}
}

func TestForwardMissingAttr(t *testing.T) {
	raw := `
forward:
  - name: broken
    protocol: tcp
    listen: 8080
`
	var conf Config
	err := yaml.Unmarshal([]byte(raw), &conf)
	if !errors.Is(err, util.ErrLost{Attr: "remote"}) {
		t.Fatalf("expected lost attribute error, got %v", err)
	}
}
