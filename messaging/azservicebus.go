package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/SanteonNL/orca/smarthost/lib/to"
	"github.com/rs/zerolog/log"
)

const (
	// receiveBatchSize is the maximum number of messages taken from a queue at once.
	receiveBatchSize = 10
	// A failing receiver retries with exponential backoff. The maximum stays well below the SMART request TTL.
	minReceiveBackoff = time.Second
	maxReceiveBackoff = 30 * time.Second
	// maxDeliveryAttempts is the number of times a message is handed to its handler before it is dead-lettered.
	maxDeliveryAttempts = 3
)

var _ Broker = &AzureServiceBusBroker{}

// AzureServiceBusConfig holds the configuration for connecting to Azure Service Bus.
// Either Hostname (authenticating with the default Azure credential) or ConnectionString must be set.
type AzureServiceBusConfig struct {
	Hostname         string `koanf:"hostname"`
	ConnectionString string `koanf:"connectionstring"`
}

func (a AzureServiceBusConfig) Enabled() bool {
	return a.Hostname != "" || a.ConnectionString != ""
}

func (a AzureServiceBusConfig) newClient() (*azservicebus.Client, error) {
	switch {
	case a.ConnectionString != "":
		return azservicebus.NewClientFromConnectionString(a.ConnectionString, nil)
	case a.Hostname != "":
		credential, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("azure credential: %w", err)
		}
		return azservicebus.NewClient(a.Hostname, credential, nil)
	default:
		return nil, errors.New("configuration is missing hostname or connection string")
	}
}

// AzureServiceBusBroker exchanges messages through Azure Service Bus queues, one queue per entity.
// It allows SMART requests and responses to travel between instances of the host.
type AzureServiceBusBroker struct {
	client       *azservicebus.Client
	entityPrefix string

	mux     sync.RWMutex
	senders map[string]*azservicebus.Sender

	// stopped is cancelled on Close, which then waits for the receivers to return.
	stopped   context.Context
	stop      context.CancelFunc
	receivers sync.WaitGroup
}

func newAzureServiceBusBroker(config AzureServiceBusConfig, entities []Entity, entityPrefix string) (*AzureServiceBusBroker, error) {
	client, err := config.newClient()
	if err != nil {
		return nil, err
	}
	result := &AzureServiceBusBroker{
		client:       client,
		entityPrefix: entityPrefix,
		senders:      map[string]*azservicebus.Sender{},
	}
	result.stopped, result.stop = context.WithCancel(context.Background())
	for _, entity := range entities {
		queue := entity.FullName(entityPrefix)
		sender, err := client.NewSender(queue, nil)
		if err != nil {
			_ = result.Close(context.Background())
			return nil, fmt.Errorf("create sender for queue %s: %w", queue, err)
		}
		result.senders[entity.Name] = sender
	}
	return result, nil
}

// SendMessage puts the message on the entity's queue. A message with a TimeToLive expires if it isn't received in time.
func (b *AzureServiceBusBroker) SendMessage(ctx context.Context, entity Entity, message *Message) error {
	b.mux.RLock()
	defer b.mux.RUnlock()
	sender, ok := b.senders[entity.Name]
	if !ok {
		return fmt.Errorf("azure service bus: no sender for entity %s", entity.Name)
	}
	serviceBusMessage := &azservicebus.Message{
		Body:          message.Body,
		CorrelationID: message.CorrelationID,
		Subject:       to.Ptr(entity.Name),
	}
	if message.ContentType != "" {
		serviceBusMessage.ContentType = to.Ptr(message.ContentType)
	}
	if message.TimeToLive > 0 {
		serviceBusMessage.TimeToLive = to.Ptr(message.TimeToLive)
	}
	if err := sender.SendMessage(ctx, serviceBusMessage, nil); err != nil {
		return fmt.Errorf("azure service bus: send to queue %s: %w", entity.FullName(b.entityPrefix), err)
	}
	return nil
}

// ReceiveFromQueue starts receiving the messages of the queue in the background, until the broker is closed.
// A message is completed when the handler succeeds, redelivered when it fails, and dead-lettered when it failed
// maxDeliveryAttempts times.
func (b *AzureServiceBusBroker) ReceiveFromQueue(queue Entity, handler func(context.Context, Message) error) error {
	name := queue.FullName(b.entityPrefix)
	receiver, err := b.client.NewReceiverForQueue(name, &azservicebus.ReceiverOptions{
		ReceiveMode: azservicebus.ReceiveModePeekLock,
	})
	if err != nil {
		return fmt.Errorf("azure service bus: create receiver for queue %s: %w", name, err)
	}
	r := &queueReceiver{
		queue:    name,
		receiver: receiver,
		handler:  handler,
	}
	b.receivers.Add(1)
	go func() {
		defer b.receivers.Done()
		r.run(b.stopped)
	}()
	return nil
}

// Close stops receiving, then closes the senders and the client.
func (b *AzureServiceBusBroker) Close(ctx context.Context) error {
	b.stop()
	b.receivers.Wait()

	b.mux.Lock()
	defer b.mux.Unlock()
	var errs []error
	for name, sender := range b.senders {
		if err := sender.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sender (entity=%s): %w", name, err))
		}
		delete(b.senders, name)
	}
	if err := b.client.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close client: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("azure service bus: %w", err)
	}
	log.Ctx(ctx).Debug().Msg("Azure Service Bus broker closed")
	return nil
}

type queueReceiver struct {
	queue    string
	receiver *azservicebus.Receiver
	handler  func(context.Context, Message) error
}

func (r *queueReceiver) run(ctx context.Context) {
	defer func() {
		if err := r.receiver.Close(context.Background()); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msgf("Failed to close Azure Service Bus receiver (queue=%s)", r.queue)
		}
	}()
	backoff := minReceiveBackoff
	for ctx.Err() == nil {
		messages, err := r.receiver.ReceiveMessages(ctx, receiveBatchSize, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Ctx(ctx).Error().Err(err).Msgf("Failed to receive from Azure Service Bus, retrying in %s (queue=%s)", backoff, r.queue)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(2*backoff, maxReceiveBackoff)
			continue
		}
		backoff = minReceiveBackoff
		for _, message := range messages {
			r.handle(ctx, message)
		}
	}
}

func (r *queueReceiver) handle(ctx context.Context, received *azservicebus.ReceivedMessage) {
	message := Message{
		Body:          received.Body,
		ContentType:   to.EmptyString(received.ContentType),
		CorrelationID: received.CorrelationID,
	}
	handlerErr := r.handler(ctx, message)
	var err error
	switch {
	case handlerErr == nil:
		err = r.receiver.CompleteMessage(ctx, received, nil)
	case received.DeliveryCount >= maxDeliveryAttempts:
		log.Ctx(ctx).Error().Err(handlerErr).Msgf("Message handler failed %d times, dead-lettering message (queue=%s)", received.DeliveryCount, r.queue)
		err = r.receiver.DeadLetterMessage(ctx, received, &azservicebus.DeadLetterOptions{
			Reason:           to.Ptr("handler failed"),
			ErrorDescription: to.Ptr(handlerErr.Error()),
		})
	default:
		log.Ctx(ctx).Warn().Err(handlerErr).Msgf("Message handler failed, message will be redelivered (queue=%s)", r.queue)
		err = r.receiver.AbandonMessage(ctx, received, &azservicebus.AbandonMessageOptions{
			PropertiesToModify: map[string]any{
				"deliveryfailure-" + strconv.Itoa(int(received.DeliveryCount)): handlerErr.Error(),
			},
		})
	}
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msgf("Failed to settle Azure Service Bus message (queue=%s)", r.queue)
	}
}
