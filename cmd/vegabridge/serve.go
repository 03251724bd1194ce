package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/vegabridge/pkg/bus"
	"github.com/odvcencio/vegabridge/pkg/config"
	"github.com/odvcencio/vegabridge/pkg/ipc"
	"github.com/odvcencio/vegabridge/pkg/logging"
	"github.com/odvcencio/vegabridge/pkg/storage"
	"github.com/odvcencio/vegabridge/pkg/telemetry"
	"github.com/odvcencio/vegabridge/pkg/widget"
)

type widgetServer interface {
	Start(ctx context.Context) error
}

var serveLoadConfigFn = config.Load
var serveLoadConfigFromPathFn = config.LoadFromPath
var serveStderr io.Writer = os.Stderr
var serveNewServerFn = func(cfg ipc.Config, hub *ipc.Hub, registry *ipc.Registry, opts ...ipc.ServerOption) widgetServer {
	return ipc.NewServer(cfg, hub, registry, opts...)
}

func runServeCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a config file (default: ~/.vegabridge and ./.vegabridge)")
	bind := fs.String("bind", "", "address to bind the widget server")
	publicMetrics := fs.Bool("public-metrics", false, "serve /metrics to non-loopback clients")
	dbPath := fs.String("db", "", "path of the widget store (overrides config)")
	storeBackend := fs.String("store", "", "widget store backend: sqlite or bolt (overrides config)")
	busBackend := fs.String("bus", "", "message bus backend: none, memory or nats (overrides config)")
	var extraOrigins []string
	fs.Var(&stringListValue{target: &extraOrigins}, "allow-origin", "additional allowed Origin (repeatable, accepts comma-separated list)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	appCfg, err := loadServeConfig(*configPath)
	if err != nil {
		return withExitCode(err, exitCodeConfig)
	}
	if v := strings.TrimSpace(*bind); v != "" {
		appCfg.Server.Bind = v
	}
	if *publicMetrics {
		appCfg.Server.PublicMetrics = true
	}
	if v := strings.TrimSpace(*dbPath); v != "" {
		appCfg.Storage.Path = v
	}
	if v := strings.TrimSpace(*storeBackend); v != "" {
		appCfg.Storage.Backend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(*busBackend); v != "" {
		appCfg.Bus.Backend = strings.ToLower(v)
	}
	appCfg.Server.AllowedOrigins = append(appCfg.Server.AllowedOrigins, extraOrigins...)
	if err := appCfg.Validate(); err != nil {
		return withExitCode(err, exitCodeConfig)
	}
	for _, warning := range appCfg.ValidationWarnings() {
		fmt.Fprintf(serveStderr, "Warning: %s\n", warning)
	}

	logger, err := newServeLogger(appCfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if appCfg.Tracing.Enabled {
		tp, err := telemetry.NewTracerProvider(appCfg.Tracing.Service, serveStderr)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	hub := ipc.NewHub(metrics)
	registryOpts := []ipc.RegistryOption{
		ipc.WithRegistryLogger(logger),
		ipc.WithRegistryMetrics(metrics),
		ipc.WithResizeUpdates(appCfg.Widget.Resize),
		ipc.WithRelease(hub.Remove),
	}

	if path := strings.TrimSpace(appCfg.Storage.Path); path != "" {
		store, err := storage.Open(appCfg.Storage.Backend, path)
		if err != nil {
			return fmt.Errorf("open widget store: %w", err)
		}
		defer store.Close()
		store.AddObserver(storage.ObserverFunc(func(e storage.Event) {
			logger.Debug(logging.CategoryStorage, string(e.Type), "widget store changed", map[string]any{"widget_id": e.WidgetID})
		}))
		registryOpts = append(registryOpts, ipc.WithStore(store))
	}

	registry := ipc.NewRegistry(func(id string) widget.Channel { return hub.Endpoint(id) }, registryOpts...)
	restored, err := registry.Restore()
	if err != nil {
		return fmt.Errorf("restore widgets: %w", err)
	}
	logger.Info(logging.CategoryServer, "widgets_restored", "restored stored widgets", map[string]any{"count": restored})

	messageBus, err := newMessageBus(appCfg.Bus)
	if err != nil {
		return fmt.Errorf("connect message bus: %w", err)
	}

	server := serveNewServerFn(ipc.Config{
		BindAddress:         appCfg.Server.Bind,
		AllowedOrigins:      appCfg.Server.AllowedOrigins,
		MaxClients:          appCfg.Server.MaxClients,
		PublicMetrics:       appCfg.Server.PublicMetrics,
		UpdateRate:          appCfg.Server.UpdateRate,
		UpdateBurst:         appCfg.Server.UpdateBurst,
		HistogramChunkCells: appCfg.Widget.HistogramChunkCells,
	}, hub, registry, ipc.WithLogger(logger), ipc.WithGatherer(reg))

	fmt.Fprintf(serveStderr, "vegabridge serving widgets on http://%s\n", appCfg.Server.Bind)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	if messageBus != nil {
		defer messageBus.Close()
		bridge := ipc.NewBusBridge(messageBus, hub, logger)
		g.Go(func() error {
			return bridge.Run(gctx)
		})
	}
	return g.Wait()
}

func loadServeConfig(path string) (*config.Config, error) {
	if p := strings.TrimSpace(path); p != "" {
		return serveLoadConfigFromPathFn(p)
	}
	return serveLoadConfigFn()
}

func newServeLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	var logger *logging.Logger
	if dir := strings.TrimSpace(cfg.Dir); dir != "" {
		l, err := logging.NewLogger(dir, "")
		if err != nil {
			return nil, fmt.Errorf("open log dir: %w", err)
		}
		logger = l
	} else {
		logger = logging.NewWriterLogger(serveStderr)
	}
	logger.SetMinLevel(logging.ParseLevel(cfg.Level))
	return logger, nil
}

// newMessageBus returns nil when the bus is disabled.
func newMessageBus(cfg config.BusConfig) (bus.MessageBus, error) {
	switch cfg.Backend {
	case "", config.BusBackendNone:
		return nil, nil
	case config.BusBackendMemory:
		return bus.NewMemoryBus(), nil
	case config.BusBackendNATS:
		return bus.NewNATSBus(bus.Config{URL: cfg.URL, Name: cfg.Name, Timeout: cfg.Timeout})
	default:
		return nil, fmt.Errorf("unknown bus backend %q", cfg.Backend)
	}
}

type stringListValue struct {
	target *[]string
}

func (s *stringListValue) String() string {
	if s == nil || s.target == nil {
		return ""
	}
	return strings.Join(*s.target, ",")
}

func (s *stringListValue) Set(value string) error {
	if s.target == nil {
		return fmt.Errorf("no target slice configured")
	}
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			*s.target = append(*s.target, trimmed)
		}
	}
	return nil
}
