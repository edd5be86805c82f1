// Command zhe-echo is a minimal CLI client: it opens a UDP transport,
// scouts for a broker, subscribes to one resource, and publishes whatever
// it receives back out under a second resource id. It exists to exercise
// Engine end to end over a real socket, the same role ublk-mem plays for
// the backend package it wraps.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/xid"
	"gopkg.in/yaml.v3"

	zhe "github.com/topcatse/zhe-go"
	"github.com/topcatse/zhe-go/internal/logging"
	"github.com/topcatse/zhe-go/transportudp"
)

// fileConfig is the subset of zhe.Config a host can override from a YAML
// config file, with flag.* overrides layered on top (spec.md §6's
// "Configuration constants" are per-engine values, not global state, so
// this CLI's job is just to populate one zhe.Config before Init).
type fileConfig struct {
	Listen        string `yaml:"listen"`
	Broker        string `yaml:"broker"`
	PeerID        string `yaml:"peer_id"`
	SubRid        uint64 `yaml:"sub_rid"`
	PubRid        uint64 `yaml:"pub_rid"`
	TransportMTU  int    `yaml:"transport_mtu"`
	LatencyBudget int    `yaml:"latency_budget_ms"` // -1 means constants.LatencyBudgetInf
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("parsing %s: %w", path, err)
	}
	return fc, nil
}

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file (see fileConfig for fields)")
		listen     = flag.String("listen", "0.0.0.0:7447", "local UDP address to bind")
		broker     = flag.String("broker", "255.255.255.255:7447", "broker address to scout/open against")
		subRid     = flag.Uint64("sub-rid", 1, "resource id to subscribe to")
		pubRid     = flag.Uint64("pub-rid", 2, "resource id to echo received samples back on")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	fc, err := loadFileConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if fc.Listen != "" {
		*listen = fc.Listen
	}
	if fc.Broker != "" {
		*broker = fc.Broker
	}
	if fc.SubRid != 0 {
		*subRid = fc.SubRid
	}
	if fc.PubRid != 0 {
		*pubRid = fc.PubRid
	}

	cfg := zhe.DefaultConfig()
	if fc.PeerID != "" {
		cfg.PeerID = []byte(fc.PeerID)
	} else {
		// A random compact id keeps two zhe-echo instances on the same
		// broadcast domain from colliding on peer identity.
		cfg.PeerID = []byte(xid.New().String())
	}
	if len(cfg.PeerID) > cfg.PeerIDSize {
		cfg.PeerID = cfg.PeerID[:cfg.PeerIDSize]
	}
	if fc.TransportMTU > 0 {
		cfg.TransportMTU = fc.TransportMTU
	}
	if fc.LatencyBudget < 0 {
		cfg.LatencyBudget = zhe.LatencyBudgetInf
	} else if fc.LatencyBudget > 0 {
		cfg.LatencyBudget = time.Duration(fc.LatencyBudget) * time.Millisecond
	}

	transport, err := transportudp.Dial(*listen, *broker)
	if err != nil {
		logger.Error("failed to open UDP transport", "error", err)
		os.Exit(1)
	}
	defer transport.Close()

	clock := zhe.SystemClock{}
	engine, err := zhe.Init(cfg, transport, clock)
	if err != nil {
		logger.Error("failed to init engine", "error", err)
		os.Exit(1)
	}

	pubidx, ok := engine.Publish(*pubRid, true)
	if !ok {
		logger.Error("publish table full")
		os.Exit(1)
	}
	if _, ok := engine.Subscribe(*subRid, 1, func(prid uint64, payload []byte) {
		logger.Info("received sample", "rid", prid, "bytes", len(payload))
		if !engine.Write(pubidx, payload) {
			logger.Warn("echo write dropped: reliable window full", "rid", *pubRid)
		}
	}); !ok {
		logger.Error("subscribe table full")
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	now := time.Now()
	engine.LoopInit(now)
	logger.Info("zhe-echo started", "listen", *listen, "broker", *broker, "peer_id", string(cfg.PeerID))

	deadline := now
	for {
		select {
		case <-sigCh:
			logger.Info("shutting down")
			return
		default:
		}
		now = time.Now()
		if now.Before(deadline) {
			time.Sleep(deadline.Sub(now))
			now = time.Now()
		}
		deadline = engine.Loop(now)
	}
}
