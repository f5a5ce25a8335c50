package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/picturebook/internal/config"
	"github.com/dusk-indust/picturebook/internal/generation"
	"github.com/dusk-indust/picturebook/internal/logging"
	"github.com/dusk-indust/picturebook/internal/metrics"
	"github.com/dusk-indust/picturebook/internal/orchestrator"
	"github.com/dusk-indust/picturebook/internal/poller"
	"github.com/dusk-indust/picturebook/internal/presenter"
	"github.com/dusk-indust/picturebook/internal/remote"
	"github.com/dusk-indust/picturebook/internal/simserver"
)

// app holds the configuration and shared collaborators of one command.
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	reg     *prometheus.Registry
	metrics *metrics.Metrics
}

func newApp(opts *rootOptions) (*app, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load(".")
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	reg := prometheus.NewRegistry()
	return &app{
		cfg:     cfg,
		log:     logging.New(cfg.Log.Level, cfg.Log.Format),
		reg:     reg,
		metrics: metrics.New(reg),
	}, nil
}

func (a *app) client(baseURL, token string) *remote.HTTPClient {
	opts := []remote.ClientOption{
		remote.WithRequestTimeout(a.cfg.API.RequestTimeout),
		remote.WithPollTimeout(a.cfg.API.PollTimeout),
		remote.WithLogger(a.log),
	}
	if token != "" {
		opts = append(opts, remote.WithTokenSource(remote.StaticToken(token)))
	}
	return remote.NewHTTPClient(baseURL, opts...)
}

func (a *app) pipeline(client *remote.HTTPClient) *orchestrator.Pipeline {
	cfg := orchestrator.Config{
		Logger:              a.log,
		Metrics:             a.metrics,
		KickTimeout:         a.cfg.Workflow.KickTimeout,
		CompensationTimeout: a.cfg.Workflow.CompensationTimeout,
	}
	if a.cfg.Workflow.DeleteOrphans {
		cfg.Compensator = orchestrator.DeletingCompensator{Deleter: client, Logger: a.log}
	}
	return orchestrator.NewPipeline(client, cfg)
}

func (a *app) presenterConfig() presenter.Config {
	cfg := presenter.DefaultConfig()
	p := a.cfg.Presenter
	if p.StoryDuration > 0 {
		cfg.StoryDuration = p.StoryDuration
	}
	if p.CompletionDwell > 0 {
		cfg.CompletionDwell = p.CompletionDwell
	}
	if p.HintInterval > 0 {
		cfg.HintInterval = p.HintInterval
	}
	if p.SnapshotInterval != 0 {
		cfg.SnapshotInterval = p.SnapshotInterval
	}
	if len(p.Hints) > 0 {
		cfg.Hints = p.Hints
	}
	return cfg
}

func (a *app) pollerConfig() poller.Config {
	return poller.Config{
		SuccessInterval: a.cfg.Poller.SuccessInterval,
		ErrorInterval:   a.cfg.Poller.ErrorInterval,
		FetchTimeout:    a.cfg.API.PollTimeout,
		Logger:          a.log,
		Metrics:         a.metrics,
	}
}

func (a *app) service(runner generation.Runner, fetcher poller.Fetcher) *generation.Service {
	return generation.NewService(runner, fetcher, generation.Config{
		Presenter: a.presenterConfig(),
		Poller:    a.pollerConfig(),
		Logger:    a.log,
	})
}

func (a *app) simServer(failPage int) *simserver.Server {
	if failPage == 0 {
		failPage = a.cfg.Sim.FailPage
	}
	return simserver.New(
		simserver.WithPageDuration(a.cfg.Sim.PageDuration),
		simserver.WithFailPage(failPage),
		simserver.WithToken(a.cfg.Sim.Token),
		simserver.WithLogger(a.log.WithField("component", "simserver")),
	)
}

// serveMetrics exposes the registry on addr until ctx is cancelled.
func (a *app) serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.log.WithField("addr", addr).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
