package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	EventBusNone      = "none"
	EventBusGoChannel = "gochannel"
	EventBusKafka     = "kafka"

	DefaultCleanupSchedule = "@every 1m"
	DefaultServiceName     = "callchain"
)

var ErrUnsupportedContextStore = errors.New("unsupported context store")

// Config assembles an engine. ContextStore is "memory", "file://<dir>" or a redis URL.
type Config struct {
	DefinitionsPath string        `validate:"required"`
	EventBus        string        `validate:"omitempty,oneof=none gochannel kafka"`
	KafkaBrokers    []string      `validate:"required_if=EventBus kafka,dive,hostname_port"`
	ContextStore    string        `validate:"required"`
	ContextTimeout  time.Duration `validate:"gte=0"`
	CleanupSchedule string
	SubscriberTTL   time.Duration `validate:"gte=0"`
	Tracing         bool
	ServiceName     string
}

func (c *Config) setDefaults() {
	if c.EventBus == "" {
		c.EventBus = EventBusNone
	}

	if c.CleanupSchedule == "" {
		c.CleanupSchedule = DefaultCleanupSchedule
	}

	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
}

func (c *Config) validate(validate *validator.Validate) error {
	err := validate.Struct(c)
	if err != nil {
		return fmt.Errorf("invalid engine configuration: %w", err)
	}

	if !strings.HasPrefix(c.ContextStore, "file://") &&
		!strings.HasPrefix(c.ContextStore, "redis://") &&
		!strings.HasPrefix(c.ContextStore, "rediss://") &&
		c.ContextStore != "memory" {
		return fmt.Errorf("%w: %s", ErrUnsupportedContextStore, c.ContextStore)
	}

	return nil
}
