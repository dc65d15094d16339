package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// New creates the message broker for the given entities. Azure ServiceBus is used when configured,
// otherwise messages are delivered in-memory. If an HTTP endpoint is configured, messages are mirrored to it.
func New(config Config, entities []Entity) (Broker, error) {
	var broker Broker
	if config.AzureServiceBus.Enabled() {
		var err error
		broker, err = newAzureServiceBusBroker(config.AzureServiceBus, entities, config.EntityPrefix)
		if err != nil {
			return nil, fmt.Errorf("azure service bus: %w", err)
		}
		log.Info().Msg("Messaging: using Azure ServiceBus")
	} else {
		broker = NewMemoryBroker()
		log.Info().Msg("Messaging: using in-memory broker")
	}
	if config.HTTP.Endpoint != "" {
		log.Info().Msgf("Messaging: sending messages over HTTP to %s", config.HTTP.Endpoint)
		broker = NewHTTPBroker(config.HTTP, broker)
	}
	return broker, nil
}

// Config holds the configuration for messaging.
type Config struct {
	// AzureServiceBus holds the configuration for messaging using Azure ServiceBus.
	AzureServiceBus AzureServiceBusConfig `koanf:"azureservicebus"`
	// HTTP holds the configuration for mirroring messages to an HTTP endpoint, for debugging purposes.
	HTTP HTTPBrokerConfig `koanf:"http"`
	// EntityPrefix is prepended to queue names, allowing multiple deployments to share a ServiceBus namespace.
	EntityPrefix string `koanf:"entityprefix"`
}

func (c Config) Validate(strictMode bool) error {
	if strictMode && c.HTTP.Endpoint != "" {
		return errors.New("http endpoint is not allowed in strict mode")
	}
	return nil
}

// Entity is a queue messages are sent to and received from.
type Entity struct {
	Name string
}

// FullName returns the name of the entity in the message broker.
func (e Entity) FullName(prefix string) string {
	return prefix + e.Name
}

type Message struct {
	Body          []byte
	ContentType   string
	CorrelationID *string
	// TimeToLive is the time after which an undelivered message may be discarded. Zero means no expiry.
	TimeToLive time.Duration
}

// Broker defines an interface for interacting with a message broker, including sending messages and closing connections.
type Broker interface {
	Close(ctx context.Context) error
	SendMessage(ctx context.Context, entity Entity, message *Message) error
	// ReceiveFromQueue registers a handler for messages sent to the given queue.
	// If the handler returns an error, the broker may redeliver the message.
	ReceiveFromQueue(queue Entity, handler func(context.Context, Message) error) error
}
