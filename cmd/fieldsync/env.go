package main

import (
	"fmt"
	"log"
	"os"

	"github.com/trekmed/fieldsync/internal/config"
	"github.com/trekmed/fieldsync/internal/engine"
	"github.com/trekmed/fieldsync/internal/netmon"
	"github.com/trekmed/fieldsync/internal/remote"
	"github.com/trekmed/fieldsync/internal/store"
)

// appEnv bundles the long-lived pieces every command needs: the local
// cache, the gateway client, the connectivity monitor and the sync engine.
type appEnv struct {
	cfg     config.Config
	store   *store.Store
	gateway *remote.Client
	monitor *netmon.Monitor
	engine  *engine.Engine
	logger  *log.Logger
}

func openEnv(logger *log.Logger) (*appEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("FIELDSYNC_GATEWAY_URL is not set")
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local cache: %w", err)
	}

	gw, err := remote.NewClient(remote.ClientConfig{
		BaseURL:     cfg.GatewayURL,
		APIKey:      cfg.APIKey,
		AccessToken: cfg.AccessToken,
		Timeout:     cfg.RequestTimeout,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create gateway client: %w", err)
	}

	monitor := netmon.New(netmon.HTTPProbe(cfg.HealthURL), cfg.ProbeInterval,
		log.New(logger.Writer(), "[netmon] ", log.LstdFlags))

	eng := engine.New(st, gw, monitor,
		log.New(logger.Writer(), "[engine] ", log.LstdFlags))

	return &appEnv{
		cfg:     cfg,
		store:   st,
		gateway: gw,
		monitor: monitor,
		engine:  eng,
		logger:  logger,
	}, nil
}

func (e *appEnv) close() {
	if err := e.store.Close(); err != nil {
		e.logger.Printf("Error closing local cache: %v", err)
	}
}

func stderrLogger(prefix string) *log.Logger {
	return log.New(os.Stderr, prefix, log.LstdFlags)
}
