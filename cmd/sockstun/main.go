package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os/signal"
	"syscall"
	"time"

	"sockstun/config"
	"sockstun/log"

	"go.uber.org/zap"
)

const (
	_version = 0.1
)

var (
	path    string
	version bool
	test    bool
)

func init() {
	flag.StringVar(&path, "c", "./config.yaml", "path of yaml configuration file")
	flag.BoolVar(&version, "v", false, "version")
	flag.BoolVar(&test, "t", false, "test config file")
	flag.Parse()
}

func main() {
	go func() {
		http.ListenAndServe(":6060", nil)
	}()

	if version {
		fmt.Printf("sockstun: %v\n", _version)
	}

	// parse config
	conf, err := config.ParseRawConfig(path)
	if err != nil {
		log.Fatal("[Config] failed to unmarshal config", zap.Error(err))
	}
	log.UpdateLogger(conf.ParseLog())
	if test {
		return
	}

	Run(conf)
}

func Run(conf *config.Config) {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	opts, err := conf.SocksOptions()
	if err != nil {
		log.Fatal("[Config] failed to build shadow cipher", zap.Error(err))
	}
	proxy, err := conf.ProxyAddr()
	if err != nil {
		log.Fatal("[Config] failed to resolve proxy address", zap.Error(err))
	}
	log.Info("[Proxy] using", zap.String("address", proxy.String()))

	ingresses, err := conf.ParseIngress(proxy, opts)
	if err != nil {
		log.Fatal("[Config] failed to build forwards", zap.Error(err))
	}

	for _, v := range ingresses {
		go v.Run()
	}

	<-ctx.Done()
	log.Info("[EXIT] Closing")
	closeall := func() <-chan struct{} {
		ch := make(chan struct{}, 1)
		for _, v := range ingresses {
			<-v.Close()
		}
		ch <- struct{}{}
		return ch
	}

	select {
	case <-time.After(time.Second * 5):
		log.Error("[EXIT] timeout, force closing")
	case <-closeall():
	}
	log.Info("[EXIT] Bye")
	log.CloseLogger()
}
