package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nomis52/activityhost/bridge"
	"github.com/nomis52/activityhost/bus"
	"github.com/nomis52/activityhost/config"
	"github.com/nomis52/activityhost/host"
	"github.com/nomis52/activityhost/metrics"
)

const redisPingTimeout = 5 * time.Second

// metricsSetup holds the registry selected by the monitoring config. At most
// one of scrape and push is set; with neither, metrics are not recorded.
type metricsSetup struct {
	scrape *metrics.ScrapeRegistry
	push   *metrics.PushRegistry
}

func setupMetrics(cfg config.MonitoringConfig) (metricsSetup, error) {
	switch {
	case cfg.Push():
		hostname, err := os.Hostname()
		if err != nil {
			return metricsSetup{}, fmt.Errorf("failed to get hostname: %w", err)
		}
		return metricsSetup{push: metrics.NewPushRegistry(metrics.PushConfig{
			URL:      cfg.RemoteWriteURL,
			Prefix:   cfg.Prefix,
			Job:      cfg.Job,
			Instance: hostname,
		})}, nil
	case cfg.Scrape:
		reg, err := metrics.NewScrapeRegistry()
		if err != nil {
			return metricsSetup{}, fmt.Errorf("failed to create metrics registry: %w", err)
		}
		return metricsSetup{scrape: reg}, nil
	default:
		return metricsSetup{}, nil
	}
}

// hostMetrics returns nil when metrics are disabled; a nil *HostMetrics
// records nothing.
func (m metricsSetup) hostMetrics() (*metrics.HostMetrics, error) {
	switch {
	case m.push != nil:
		return metrics.NewHostMetrics(m.push)
	case m.scrape != nil:
		return metrics.NewHostMetrics(m.scrape)
	default:
		return nil, nil
	}
}

// activityStarter is the part of the host used to bring up configured
// activities.
type activityStarter interface {
	Load(ctx context.Context, req host.LoadRequest) (uuid.UUID, error)
	Startup(ctx context.Context, id uuid.UUID) error
	Activate(ctx context.Context, id uuid.UUID) error
}

// loadActivities loads every configured activity and starts or activates
// it as requested. A load error aborts: the config names a type or name the
// host cannot accept. Hook failures leave the activity Failed and are only
// logged.
func loadActivities(ctx context.Context, h activityStarter, acts []config.ActivityConfig, logger *slog.Logger) error {
	for _, a := range acts {
		id, err := h.Load(ctx, host.LoadRequest{Name: a.Name, Type: a.Type, Config: a.Config})
		if err != nil {
			return fmt.Errorf("failed to load activity %q: %w", a.Name, err)
		}
		if !a.Autostart {
			continue
		}
		if err := h.Startup(ctx, id); err != nil {
			logger.Error("configured activity failed to start", "name", a.Name, "error", err)
			continue
		}
		if !a.Activate {
			continue
		}
		if err := h.Activate(ctx, id); err != nil {
			logger.Error("configured activity failed to activate", "name", a.Name, "error", err)
		}
	}
	return nil
}

// startBridge connects to Redis and runs the bus bridge until ctx is done or
// the returned stop function is called. stop waits for the bridge to exit
// and closes the client.
func startBridge(ctx context.Context, cfg config.BridgeConfig, b *bus.Bus, logger *slog.Logger) (func(), error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ps := bridge.NewRedisPubSub(client)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := ps.Ping(pingCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
	}

	br, err := bridge.New(b, ps, cfg.Topics,
		bridge.WithLogger(logger),
		bridge.WithChannelPrefix(cfg.ChannelPrefix),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create bridge: %w", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := br.Run(runCtx); err != nil {
			logger.Error("bridge stopped", "error", err)
		}
	}()

	return func() {
		stop()
		wg.Wait()
		if err := client.Close(); err != nil {
			logger.Debug("closing redis client", "error", err)
		}
	}, nil
}
