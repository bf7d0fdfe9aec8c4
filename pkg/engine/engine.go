// Package engine assembles the call chain engine from its configuration and owns the
// lifetime of every long-running component.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/callchain/pkg/catalog"
	"github.com/dukex/callchain/pkg/chain"
	"github.com/dukex/callchain/pkg/channels/gochannel"
	"github.com/dukex/callchain/pkg/channels/kafka"
	"github.com/dukex/callchain/pkg/cleanup"
	"github.com/dukex/callchain/pkg/contexts"
	"github.com/dukex/callchain/pkg/dispatch"
	"github.com/dukex/callchain/pkg/eventbus"
	"github.com/dukex/callchain/pkg/otelhelper"
	"github.com/dukex/callchain/pkg/process"
	"github.com/dukex/callchain/pkg/resumption"
	"github.com/dukex/callchain/pkg/template"
	"github.com/dukex/callchain/pkg/transport"
	"github.com/dukex/callchain/pkg/transport/httptransport"
	"github.com/dukex/callchain/pkg/transport/kafkatransport"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

const subscriberCleanupInterval = 10 * time.Minute

// Engine holds the wired components. Construction follows dependency order: the
// resumption registry and bus first, the process manager and runner last.
type Engine struct {
	Registry   *resumption.Registry
	Bus        *eventbus.EventBus
	Contexts   *contexts.Service
	Catalog    *catalog.Catalog
	Transports *transport.Registry
	Manager    *process.Manager
	Runner     *chain.Runner
	Validate   *validator.Validate

	relay     *eventbus.WatermillRelay
	scheduler *cleanup.Scheduler
	redis     redis.UniversalClient
	logger    *slog.Logger
}

func New(ctx context.Context, config Config, logger *slog.Logger) (*Engine, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	config.setDefaults()

	err := config.validate(validate)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		Registry: resumption.NewRegistry(),
		Validate: validate,
		logger:   logger.With("module", "engine"),
	}

	e.Bus = eventbus.NewEventBus(logger, eventbus.NewSubscriberCache(config.SubscriberTTL, subscriberCleanupInterval))

	store, err := e.newStore(config.ContextStore)
	if err != nil {
		return nil, err
	}

	e.Contexts = contexts.NewService(store, config.ContextTimeout, logger)

	e.Catalog, err = catalog.Load(config.DefinitionsPath, validate)
	if err != nil {
		return nil, errors.Join(err, e.Close())
	}

	pipeline := template.NewPipeline(template.NewTextEngine(), e.Catalog, logger)

	e.Transports, err = newTransports(e.Catalog.Transports(), logger)
	if err != nil {
		return nil, errors.Join(err, e.Close())
	}

	tracer, err := newTracer(ctx, config)
	if err != nil {
		return nil, errors.Join(err, e.Close())
	}

	situations := chain.NewSituationExecutor(e.Catalog, pipeline, e.Transports, e.Registry, e.Contexts, logger)
	dispatcher := dispatch.NewDispatcher(
		dispatch.NewSituationStepExecutor(pipeline, situations),
		dispatch.NewIntegrationStepExecutor(pipeline, e.Transports),
		logger,
		tracer,
	)

	e.Manager = process.NewManager(e.Contexts, situations, e.Registry, e.Bus, logger, tracer)

	nodeID := uuid.New().String()

	if config.EventBus != EventBusNone {
		e.relay, err = newRelay(config, logger)
		if err != nil {
			return nil, errors.Join(err, e.Close())
		}

		nodeID = e.relay.NodeID()
		e.Bus.SetForwarder(e.relay)
	}

	e.Runner = chain.NewRunner("runner-"+nodeID, e.Catalog, e.Contexts, dispatcher, e.Manager, e.Bus, logger)
	e.Bus.Register(e.Runner, eventbus.PriorityHigh)

	e.scheduler, err = cleanup.NewScheduler(config.CleanupSchedule, e.Bus, e.Contexts, e.Manager, e.Registry, logger)
	if err != nil {
		return nil, errors.Join(err, e.Close())
	}

	e.logger.InfoContext(ctx, "Engine assembled",
		"node_id", nodeID,
		"event_bus", config.EventBus,
		"transports", e.Transports.Names(),
	)

	return e, nil
}

// Start begins consuming relayed events and runs the cleanup jobs until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	if e.relay != nil {
		err := e.relay.Listen(ctx, e.Bus)
		if err != nil {
			return fmt.Errorf("failed to listen for relayed events: %w", err)
		}
	}

	return e.scheduler.Start(ctx)
}

// Close stops the workers and releases transports, the relay and the store client.
func (e *Engine) Close() error {
	var errs []error

	if e.scheduler != nil {
		e.scheduler.Stop()
	}

	if e.Runner != nil {
		e.Bus.Unregister(e.Runner)
	}

	if e.relay != nil {
		errs = append(errs, e.relay.Close())
	}

	if e.Transports != nil {
		errs = append(errs, e.Transports.Close())
	}

	if e.redis != nil {
		errs = append(errs, e.redis.Close())
	}

	return errors.Join(errs...)
}

func (e *Engine) newStore(location string) (contexts.Store, error) {
	switch {
	case location == "memory":
		return contexts.NewMemoryStore(), nil
	case strings.HasPrefix(location, "file://"):
		return contexts.NewFileStore(strings.TrimPrefix(location, "file://")), nil
	default:
		options, err := redis.ParseURL(location)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}

		e.redis = redis.NewClient(options)

		return contexts.NewRedisStore(e.redis), nil
	}
}

func newTransports(definitions []catalog.TransportDefinition, logger *slog.Logger) (*transport.Registry, error) {
	registry := transport.NewRegistry()

	for _, def := range definitions {
		t, err := newTransport(def, logger)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to create transport %s: %w", def.Name, err), registry.Close())
		}

		err = registry.Register(t)
		if err != nil {
			return nil, errors.Join(err, t.Close(), registry.Close())
		}
	}

	return registry, nil
}

// nolint:ireturn // the concrete transport depends on the definition type
func newTransport(def catalog.TransportDefinition, logger *slog.Logger) (transport.Transport, error) {
	switch def.Type {
	case catalog.TransportHTTP:
		return httptransport.New(httptransport.Config{
			Name:    def.Name,
			BaseURL: def.BaseURL,
			Method:  def.Method,
			Path:    def.Path,
			Headers: def.Headers,
			Timeout: def.Timeout,
			Retry: httptransport.RetryConfig{
				Attempts: def.RetryAttempts,
				Delay:    def.RetryDelay,
			},
		}, logger)
	case catalog.TransportKafka:
		return kafkatransport.New(kafkatransport.Config{
			Name:    def.Name,
			Brokers: def.Brokers,
			Topic:   def.Topic,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported transport type %q", def.Type)
	}
}

// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func newTracer(ctx context.Context, config Config) (trace.Tracer, error) {
	if !config.Tracing {
		return otelhelper.NoopTracer(), nil
	}

	tracer, err := otelhelper.NewTracer(ctx, config.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	return tracer, nil
}

func newRelay(config Config, logger *slog.Logger) (*eventbus.WatermillRelay, error) {
	var (
		pub message.Publisher
		sub message.Subscriber
		err error
	)

	wmLogger := watermill.NewSlogLogger(logger)

	switch config.EventBus {
	case EventBusGoChannel:
		pub, sub, err = gochannel.CreateChannel(wmLogger)
	case EventBusKafka:
		pub, sub, err = kafka.CreateChannel(wmLogger, config.KafkaBrokers, config.ServiceName+"-"+uuid.New().String())
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", config.EventBus)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s pub/sub: %w", config.EventBus, err)
	}

	return eventbus.NewWatermillRelay(pub, sub, logger), nil
}
