package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/bb-Ricardo/fritzinfluxdb/internal/catalog"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/config"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/delivery"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/extract"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/influx"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/pipeline"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/selfmetrics"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/source"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/source/lua"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/source/tr064"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "path to config file")
	daemon := flag.Bool("daemon", false, "run as daemon, omit timestamps in log output")
	verbose := flag.Bool("verbose", false, "log at debug level, overrides log_level")
	flag.Parse()

	level := new(slog.LevelVar)
	opts := &slog.HandlerOptions{Level: level}
	if *daemon {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)))

	if err := run(*configPath, *verbose, level); err != nil {
		slog.Error("fritzinfluxdb: fatal", "err", err)
		os.Exit(1)
	}
}

func run(configPath string, verbose bool, level *slog.LevelVar) error {
	slog.Info("fritzinfluxdb starting", "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyLevel := func(c *config.Config) {
		if verbose {
			level.Set(slog.LevelDebug)
			return
		}
		level.Set(c.Level())
	}
	applyLevel(cfg)
	slog.Info("config loaded",
		"fritzbox", cfg.FritzBox.Hostname,
		"protocols", cfg.FritzBox.Protocols,
		"influxdb", cfg.InfluxDB.URL(),
		"influxdb_version", cfg.InfluxDB.Version,
	)

	loc, err := cfg.FritzBox.Location()
	if err != nil {
		return fmt.Errorf("timezone %q: %w", cfg.FritzBox.Timezone, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	metrics := selfmetrics.New(reg)
	defer logTotals(reg)

	sink, err := influx.New(cfg.InfluxDB, metrics, slog.Default())
	if err != nil {
		return err
	}
	if err := sink.Setup(ctx); err != nil {
		slog.Error("influx setup failed, retrying with the first write", "err", err)
	}

	queue := pipeline.NewQueue(cfg.Delivery.QueueSize)
	engine := extract.NewEngine(cfg.FritzBox.BoxTag, loc, slog.Default())
	schedOpts := catalog.Options{Rate: cfg.FritzBox.RequestRate, Metrics: metrics}

	schedulers, sources, err := buildSchedulers(ctx, cfg, engine, queue, schedOpts)
	defer func() {
		for _, src := range sources {
			if err := src.Close(); err != nil {
				slog.Warn("closing source failed", "source", src.Name(), "err", err)
			}
		}
	}()
	if err != nil {
		return err
	}

	deliver := delivery.New(queue, sink, delivery.Options{
		MaxBufferSize:    cfg.Delivery.MaxBufferSize,
		MaxBatchSize:     cfg.Delivery.MaxBatchSize,
		RetryInterval:    cfg.Delivery.RetryInterval,
		MaxRetryInterval: cfg.Delivery.MaxRetryInterval,
		Tick:             cfg.Delivery.Tick,
		Metrics:          metrics,
	}, slog.Default())

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range schedulers {
		g.Go(func() error { return s.Run(gctx) })
	}
	g.Go(func() error { return deliver.Run(gctx) })

	g.Go(func() error {
		// Only the log level is applied on reload.
		err := config.Watch(gctx, configPath, slog.Default(), func(updated *config.Config) {
			applyLevel(updated)
			slog.Info("config reloaded", "log_level", level.Level().String())
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
		return nil
	})

	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("metrics server listening", "addr", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	slog.Info("fritzinfluxdb shutting down")
	return err
}

// buildSchedulers connects every enabled protocol and returns one scheduler
// per reachable source. Rejected credentials are fatal; an unreachable source
// is skipped. The returned sources must be closed by the caller, also on error.
func buildSchedulers(ctx context.Context, cfg *config.Config, engine *extract.Engine, queue *pipeline.Queue, opts catalog.Options) ([]*catalog.Scheduler, []source.Source, error) {
	var (
		schedulers []*catalog.Scheduler
		sources    []source.Source
		dev        catalog.Device
	)
	defs := catalog.Definitions()

	add := func(src source.Source, kind string) error {
		s, err := catalog.NewScheduler(src, catalog.Select(catalog.ByKind(defs, kind), dev), engine, queue, opts, slog.Default())
		if err != nil {
			return err
		}
		schedulers = append(schedulers, s)
		return nil
	}

	if cfg.FritzBox.Enabled(config.ProtocolTR064) {
		src, err := tr064.New(cfg.FritzBox, slog.Default())
		if err != nil {
			return nil, sources, err
		}
		switch err := connect(ctx, src); {
		case err != nil && errors.Is(err, source.ErrAuth):
			return nil, sources, err
		case err != nil:
			slog.Error("tr064 unavailable, continuing without it", "err", err)
		default:
			sources = append(sources, src)
			if dev, err = catalog.ProbeDevice(ctx, src, slog.Default()); err != nil {
				slog.Warn("device probe failed, selecting definitions without firmware and link type", "err", err)
			}
			if err := add(src, catalog.KindTR064); err != nil {
				return nil, sources, err
			}
		}
	}

	if cfg.FritzBox.Enabled(config.ProtocolLua) {
		src, err := lua.New(cfg.FritzBox, slog.Default())
		if err != nil {
			return nil, sources, err
		}
		switch err := connect(ctx, src); {
		case err != nil && errors.Is(err, source.ErrAuth):
			return nil, sources, err
		case err != nil:
			slog.Error("lua unavailable, continuing without it", "err", err)
		default:
			sources = append(sources, src)
			if err := add(src, catalog.KindLua); err != nil {
				return nil, sources, err
			}
		}
	}

	if len(schedulers) == 0 {
		return nil, sources, errors.New("no device protocol available")
	}
	return schedulers, sources, nil
}

func connect(ctx context.Context, src source.Source) error {
	if err := src.Connect(ctx); err != nil {
		return fmt.Errorf("%s: connect: %w", src.Name(), err)
	}
	slog.Info("source connected", "source", src.Name())
	return nil
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", selfmetrics.Handler(reg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// logTotals prints the counters collected during the run.
func logTotals(reg *prometheus.Registry) {
	totals, err := selfmetrics.Totals(reg)
	if err != nil {
		slog.Warn("collecting run totals failed", "err", err)
		return
	}
	for _, k := range selfmetrics.SortedKeys(totals) {
		slog.Info("run total", "metric", k, "value", totals[k])
	}
}
