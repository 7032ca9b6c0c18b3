package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/nuget-hub/internal/auth"
	"github.com/any-hub/nuget-hub/internal/config"
	"github.com/any-hub/nuget-hub/internal/importer"
	"github.com/any-hub/nuget-hub/internal/metadata"
	"github.com/any-hub/nuget-hub/internal/metrics"
	"github.com/any-hub/nuget-hub/internal/mirror"
	"github.com/any-hub/nuget-hub/internal/search"
	"github.com/any-hub/nuget-hub/internal/state"
	"github.com/any-hub/nuget-hub/internal/storage"
	"github.com/any-hub/nuget-hub/internal/upstream"
)

// dnsRefreshInterval 控制上游 DNS 缓存的刷新周期。
const dnsRefreshInterval = 5 * time.Minute

// components 是进程内共享的全部服务实例，只在这里根据配置选择实现。
type components struct {
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    metadata.Store
	content  storage.Store
	state    *state.Service
	mirror   mirror.Mirror
	search   search.Service
	auth     auth.Authenticator
}

func newRegistry() (*prometheus.Registry, *metrics.Metrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry, metrics.New(registry)
}

func buildComponents(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*components, error) {
	registry, m := newRegistry()

	store, err := metadata.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	content, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open content store: %w", err)
	}

	resolver := upstream.NewResolver(ctx, dnsRefreshInterval)
	source := upstream.NewClient(cfg.Mirror.PackageSource,
		upstream.WithHTTPClient(upstream.NewHTTPClient(resolver, cfg.Global.UpstreamTimeout.DurationValue())),
		upstream.WithContentHTTPClient(upstream.NewHTTPClient(resolver, cfg.Mirror.PackageDownloadTimeout.DurationValue())),
		upstream.WithRetry(cfg.Global.MaxRetries, cfg.Global.InitialBackoff.DurationValue()),
		upstream.WithLogger(logger),
	)

	svc := state.New(store, logger)
	return &components{
		registry: registry,
		metrics:  m,
		store:    store,
		content:  content,
		state:    svc,
		mirror: mirror.New(cfg.Mirror, mirror.Dependencies{
			State:   svc,
			Content: content,
			Source:  source,
			Logger:  logger,
			Metrics: m,
		}),
		search: search.New(cfg.Search, store),
		auth:   auth.NewAPIKeyAuthenticator(cfg.Global.ApiKey),
	}, nil
}

func (c *components) Close() {
	if c.store != nil {
		_ = c.store.Close()
	}
}

// runImport 执行一次下载量导入后退出。
func runImport(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	if cfg.Downloads.Source == "" {
		return errors.New("Downloads.Source 未配置")
	}
	store, err := metadata.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer store.Close()

	m := metrics.New(prometheus.NewRegistry())
	source := importer.NewJSONSource(cfg.Downloads.Source, upstream.NewHTTPClient(nil, 0))
	report, err := importer.New(store, source, logger, m).Import(ctx)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"action":  "import_downloads",
		"batches": report.Batches,
		"updated": report.Updated,
	}).Info("下载量导入完成")
	return nil
}
