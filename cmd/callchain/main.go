package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/callchain/pkg/engine"
	"github.com/dukex/callchain/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	cmd := &cli.Command{
		Name:                  "callchain",
		Usage:                 "Run call chains against real or simulated systems",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "definitions",
				Aliases:  []string{"d"},
				Usage:    "Path to the transports, templates, situations and call chains file (YAML or JSON)",
				Required: true,
				Sources:  cli.EnvVars("DEFINITIONS"),
			},
			&cli.IntFlag{
				Name:    "http-port",
				Aliases: []string{"p"},
				Usage:   "Port to run the callback API on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "context-store",
				Usage:   "Execution context store (memory, file://<dir>, redis://<addr>)",
				Value:   "memory",
				Sources: cli.EnvVars("CONTEXT_STORE"),
			},
			&cli.DurationFlag{
				Name:    "context-timeout",
				Usage:   "Deadline of each execution context, 0 disables the watchdog",
				Value:   0,
				Sources: cli.EnvVars("CONTEXT_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Lifecycle event relay between nodes (none, gochannel, kafka)",
				Value:   engine.EventBusNone,
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka brokers for the kafka event bus",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "cleanup-schedule",
				Usage:   "Cron schedule of the subscriber cleanup and timeout watchdog",
				Value:   engine.DefaultCleanupSchedule,
				Sources: cli.EnvVars("CLEANUP_SCHEDULE"),
			},
			&cli.DurationFlag{
				Name:    "subscriber-ttl",
				Usage:   "Time a subscriber stays in the lifecycle cache, 0 keeps it until unregistered",
				Value:   time.Hour,
				Sources: cli.EnvVars("SUBSCRIBER_TTL"),
			},
			&cli.BoolFlag{
				Name:    "otel",
				Usage:   "Export traces over OTLP HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: run,
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("callchain")

	logger.InfoContext(ctx, "Initializing Callchain Engine")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := engine.New(ctx, engine.Config{
		DefinitionsPath: command.String("definitions"),
		EventBus:        command.String("event-bus"),
		KafkaBrokers:    command.StringSlice("kafka-brokers"),
		ContextStore:    command.String("context-store"),
		ContextTimeout:  command.Duration("context-timeout"),
		CleanupSchedule: command.String("cleanup-schedule"),
		SubscriberTTL:   command.Duration("subscriber-ttl"),
		Tracing:         command.Bool("otel"),
	}, logger)
	if err != nil {
		return err
	}

	defer func() {
		err := e.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close engine", "error", err)
		}
	}()

	err = e.Start(ctx)
	if err != nil {
		return err
	}

	api := NewAPI(e, logger)

	err = api.Start(ctx, command.Int("http-port"))
	if err != nil {
		logger.ErrorContext(ctx, "Failed to start callback API", "error", err)
	}

	return nil
}
