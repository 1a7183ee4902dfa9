package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"autoconf/internal/config"
	"autoconf/internal/reconciler"
	"autoconf/internal/store"
	"autoconf/internal/trigger"
	"autoconf/pkg/logging"
)

// TriggerSource is a trigger dispatcher fed by an external system.
type TriggerSource interface {
	trigger.Dispatcher
	Start(ctx context.Context) error
	Stop() error
}

// Services holds all initialized services used by the application.
//
// The source must be started before the manager so the first policy
// enumeration sees the triggers that already exist.
type Services struct {
	// Source publishes triggers and dispatches their events.
	Source TriggerSource

	// Store receives the managed records.
	Store store.Store

	// Manager runs one reconciler per policy file.
	Manager *reconciler.Manager

	// TracerProvider creates the reconcilers' tracer.
	TracerProvider trace.TracerProvider

	shutdownTracer func(context.Context) error
}

// InitializeServices creates the source, store, tracer and policy manager
// described by cfg.Settings.
func InitializeServices(cfg *Config) (*Services, error) {
	settings := cfg.Settings

	source, err := newTriggerSource(settings.Source, settings.Reconciler.DebounceInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to create trigger source: %w", err)
	}

	st, err := newStore(settings.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to create record store: %w", err)
	}

	tp, shutdown, err := newTracerProvider(cfg.Trace, os.Stderr)
	if err != nil {
		closeStore(st)
		return nil, fmt.Errorf("failed to create tracer provider: %w", err)
	}

	managerCfg := reconciler.ManagerConfig{
		PoliciesDir:      settings.Policies.Dir,
		MaxRetries:       settings.Reconciler.MaxRetries,
		InitialBackoff:   settings.Reconciler.InitialBackoff,
		MaxBackoff:       settings.Reconciler.MaxBackoff,
		DebounceInterval: settings.Reconciler.DebounceInterval,
	}
	manager := reconciler.NewManager(managerCfg, source, st,
		reconciler.WithReconcilerOptions(reconciler.WithTracer(tp.Tracer("autoconf/reconciler"))))

	logging.Info("Services", "Triggers from %s source, records in %s store, policies in %s",
		settings.Source.Kind, settings.Store.Kind, settings.Policies.Dir)

	return &Services{
		Source:         source,
		Store:          st,
		Manager:        manager,
		TracerProvider: tp,
		shutdownTracer: shutdown,
	}, nil
}

// Close flushes pending spans and releases the store.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if s.shutdownTracer != nil {
		if err := s.shutdownTracer(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down tracer: %w", err))
		}
	}
	if err := closeStore(s.Store); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}
	return errors.Join(errs...)
}

func newTriggerSource(s config.SourceSettings, debounce time.Duration) (TriggerSource, error) {
	switch s.Kind {
	case config.SourceFilesystem, "":
		return trigger.NewFilesystemSource(s.Path, debounce), nil
	case config.SourceKubernetes:
		restConfig, err := trigger.GetRestConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get Kubernetes config: %w", err)
		}
		return trigger.NewKubernetesSource(restConfig, s.Namespace), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", s.Kind)
	}
}

func newStore(s config.StoreSettings) (store.Store, error) {
	switch s.Kind {
	case config.StoreMemory:
		return store.NewMemoryStore(), nil
	case config.StoreFile, "":
		return store.NewFileStore(s.Path), nil
	case config.StoreSQLite:
		return store.OpenSQLite(s.Path)
	case config.StoreKubernetes:
		restConfig, err := trigger.GetRestConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get Kubernetes config: %w", err)
		}
		scheme := runtime.NewScheme()
		utilruntime.Must(clientgoscheme.AddToScheme(scheme))
		c, err := client.New(restConfig, client.Options{Scheme: scheme})
		if err != nil {
			return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
		}
		return store.NewKubernetesStore(c, s.Namespace), nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", s.Kind)
	}
}

func closeStore(st store.Store) error {
	if c, ok := st.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// newTracerProvider returns a provider exporting spans to out when enabled,
// and a no-op provider otherwise.
func newTracerProvider(enabled bool, out io.Writer) (trace.TracerProvider, func(context.Context) error, error) {
	if !enabled {
		return noop.NewTracerProvider(), nil, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "autoconf"))),
	)
	return tp, tp.Shutdown, nil
}
