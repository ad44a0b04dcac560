package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/TheWatchtower0/thewatchtower-webmaster-socket/internal/backend"
	"github.com/TheWatchtower0/thewatchtower-webmaster-socket/internal/config"
	"github.com/TheWatchtower0/thewatchtower-webmaster-socket/internal/events"
	"github.com/TheWatchtower0/thewatchtower-webmaster-socket/internal/logger"
	"github.com/TheWatchtower0/thewatchtower-webmaster-socket/internal/metrics"
	"github.com/TheWatchtower0/thewatchtower-webmaster-socket/internal/presence"
	"github.com/TheWatchtower0/thewatchtower-webmaster-socket/internal/relay"
)

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zl, err := logger.New(cfg.Log.Development)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	sl := zl.Sugar()

	metrics.Init()

	bc := backend.NewClient(cfg.Backend.BaseURL, cfg.BackendTimeout, sl)
	mc := backend.NewMemberCache(bc, sl)

	var pres *presence.Store
	if cfg.Redis.Addr != "" {
		pres = presence.NewStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			cfg.Redis.Prefix, cfg.PresenceTTL, sl)
	}
	var prod *events.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		prod = events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicMessageSent)
	}

	hub := relay.NewHub(sl)
	router := relay.NewRouter(hub, bc, mc, prod, pres, sl)
	srv := relay.NewServer(cfg, hub, router, sl)

	hbCtx, stopHeartbeat := context.WithCancel(context.Background())
	hb := relay.NewHeartbeat(hub, cfg.HeartbeatInterval, cfg.WriteDeadline, sl)
	go hb.Run(hbCtx)

	errs := make(chan error, 1)
	go func() {
		addr := ":" + cfg.PortString()
		sl.Infow("starting webmaster socket relay", "addr", addr, "backend", cfg.Backend.BaseURL)
		errs <- srv.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		sl.Fatalw("server error", "error", e)
	case s := <-sig:
		sl.Infow("signal received", "signal", s.String())
	}

	stopHeartbeat()
	if err := srv.Shutdown(); err != nil {
		sl.Warnw("fiber shutdown", "error", err)
	}
	if err := prod.Close(); err != nil {
		sl.Warnw("kafka close", "error", err)
	}
	if err := pres.Close(); err != nil {
		sl.Warnw("redis close", "error", err)
	}
	sl.Info("shutting down")
}
