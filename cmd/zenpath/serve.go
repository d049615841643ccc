package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/pbinitiative/zenpath/internal/config"
	"github.com/pbinitiative/zenpath/internal/engine"
	otelint "github.com/pbinitiative/zenpath/internal/otel"
	"github.com/pbinitiative/zenpath/internal/rest"
	"github.com/pbinitiative/zenpath/pkg/bpmn"
	"github.com/pbinitiative/zenpath/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenpath/pkg/script/feel"
	"github.com/pbinitiative/zenpath/pkg/script/js"
	"github.com/pbinitiative/zenpath/pkg/storage"
	"github.com/pbinitiative/zenpath/pkg/storage/bolt"
	"github.com/pbinitiative/zenpath/pkg/storage/cache"
	"github.com/pbinitiative/zenpath/pkg/storage/inmemory"
)

const evictionInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Starts the engine exposing definition deployment, process instances and task completion over HTTP. Configuration is read from conf.yaml or $CONFIG_FILE and the environment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), config.InitConfig())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func openStorage(conf config.Storage) (storage.Storage, func() error, error) {
	switch conf.Backend {
	case config.StorageBackendBolt:
		store, err := bolt.Open(conf.BoltPath, 0o600, conf.BoltTimeout)
		if err != nil {
			return nil, nil, err
		}
		return cache.New(store, conf.Cache), store.Close, nil
	default:
		return inmemory.NewStorage(), func() error { return nil }, nil
	}
}

func serve(ctx context.Context, conf config.Config) error {
	logger := hclog.Default()
	appContext, ctxCancel := context.WithCancel(ctx)
	defer ctxCancel()

	openTelemetry, err := otelint.SetupOtel(conf.Tracing)
	if err != nil {
		return fmt.Errorf("failed to set up OTEL: %w", err)
	}
	defer openTelemetry.Stop(context.WithoutCancel(appContext))

	store, closeStore, err := openStorage(conf.Storage)
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", conf.Storage.Backend, err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()

	jsRuntime, err := js.NewJsRuntime(appContext, conf.Script.MaxVmPoolSize, conf.Script.MinVmPoolSize)
	if err != nil {
		return err
	}
	e := engine.New(store,
		engine.NewDefaultDelegates(logger.Named("delegates"), feel.NewFeelRuntime(), jsRuntime),
		logger.Named("engine"),
		bpmn.WithLogger(logger.Named("bpmn")),
		bpmn.WithExporter(exporter.NewLogExporter(logger.Named("exporter"))),
		bpmn.WithMetrics(openTelemetry.EngineMetrics),
		bpmn.WithTracer(otel.GetTracerProvider().Tracer("bpmn-engine")),
	)

	go e.EvictCompletedEvery(appContext, evictionInterval)

	svr, err := rest.NewServer(e, conf, openTelemetry.Registry, logger.Named("rest"))
	if err != nil {
		return fmt.Errorf("failed to create REST server: %w", err)
	}
	if _, err := svr.Start(); err != nil {
		return fmt.Errorf("failed to start REST server: %w", err)
	}

	appStop := make(chan os.Signal, 2)
	signal.Notify(appStop, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-appStop:
		logger.Info("shutting down", "signal", sig.String())
	case <-appContext.Done():
	}

	svr.Stop(context.WithoutCancel(appContext))
	return nil
}
