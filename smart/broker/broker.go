package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/SanteonNL/orca/smarthost/events"
	"github.com/SanteonNL/orca/smarthost/lib/logging"
	"github.com/SanteonNL/orca/smarthost/lib/otel"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"
	baseotel "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// EventRequest is the client event type of a request from a SMART app.
	EventRequest = "smart_request"
	// EventResponse is the client event type of a response to a SMART app.
	EventResponse = "smart_response"
	// DefaultTimeToLive is how long a request may wait for its response before it is considered abandoned.
	DefaultTimeToLive = 120 * time.Second
)

var tracer = baseotel.Tracer("smart.broker")

type pendingResponse struct {
	desktopID string
	messageID string
	recipient Recipient
}

// MessageBroker correlates requests from SMART apps with the responses of the message handlers.
// Requests are published as SmartRequest events; the SmartResponse events that answer them are delivered
// to the recipient that sent the request. Requests that aren't answered within the time-to-live are answered
// with a request timeout (408).
type MessageBroker struct {
	eventManager events.Manager
	timeToLive   time.Duration
	pending      *ttlcache.Cache[string, pendingResponse]
	stopEviction func()

	mux        sync.RWMutex
	recipients map[string]Recipient
}

func New(eventManager events.Manager, timeToLive time.Duration) *MessageBroker {
	if timeToLive <= 0 {
		timeToLive = DefaultTimeToLive
	}
	result := &MessageBroker{
		eventManager: eventManager,
		timeToLive:   timeToLive,
		pending:      ttlcache.New[string, pendingResponse](ttlcache.WithTTL[string, pendingResponse](timeToLive)),
		recipients:   map[string]Recipient{},
	}
	result.stopEviction = result.pending.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, pendingResponse]) {
		if reason == ttlcache.EvictionReasonExpired {
			result.timedOut(item.Value())
		}
	})
	return result
}

// Start subscribes to SmartResponse events and starts removing timed out requests in the background.
func (b *MessageBroker) Start() error {
	err := b.eventManager.Subscribe(SmartResponse{}, func(ctx context.Context, event events.Type) error {
		response := event.(*SmartResponse)
		if err := b.HandleResponse(ctx, response.DesktopID, response.Response); err != nil {
			// Redelivery won't fix a malformed response
			log.Ctx(ctx).Error().Err(err).Msg("Discarding SMART response")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribe to SMART responses: %w", err)
	}
	go b.pending.Start()
	return nil
}

// Stop stops the background removal of timed out requests, and waits for pending timeout notifications.
func (b *MessageBroker) Stop() {
	b.pending.Stop()
	b.stopEviction()
}

// Register makes the broker accept requests from the recipient.
func (b *MessageBroker) Register(recipient Recipient) {
	b.mux.Lock()
	defer b.mux.Unlock()
	b.recipients[recipient.ID()] = recipient
}

// Unregister stops accepting requests from the recipient, and discards its pending requests.
func (b *MessageBroker) Unregister(recipient Recipient) {
	b.mux.Lock()
	delete(b.recipients, recipient.ID())
	b.mux.Unlock()

	var keys []string
	b.pending.Range(func(item *ttlcache.Item[string, pendingResponse]) bool {
		if item.Value().recipient.ID() == recipient.ID() {
			keys = append(keys, item.Key())
		}
		return true
	})
	for _, key := range keys {
		b.pending.Delete(key)
	}
}

func (b *MessageBroker) isRegistered(recipient Recipient) bool {
	b.mux.RLock()
	defer b.mux.RUnlock()
	_, ok := b.recipients[recipient.ID()]
	return ok
}

// HandleRequest dispatches a request the recipient received from its SMART app.
// The response will be delivered to the recipient as EventResponse.
func (b *MessageBroker) HandleRequest(ctx context.Context, desktopID string, recipient Recipient, request Message) error {
	ctx, span := tracer.Start(ctx, "MessageBroker.HandleRequest",
		trace.WithAttributes(
			attribute.String(otel.SmartDesktopID, desktopID),
			attribute.String(otel.SmartContainerID, recipient.ID()),
			attribute.String(otel.SmartMessageType, request.MessageType()),
		),
	)
	defer span.End()
	b.Prune()

	messageID := request.MessageID()
	if messageID == "" {
		return otel.Error(span, errors.New("cannot dispatch SMART request without a message id"))
	}
	span.SetAttributes(attribute.String(otel.SmartMessageID, messageID))
	if !b.isRegistered(recipient) {
		return otel.Error(span, fmt.Errorf("recipient is not registered (id=%s)", recipient.ID()))
	}

	key := pendingKey(desktopID, messageID)
	b.pending.Set(key, pendingResponse{
		desktopID: desktopID,
		messageID: messageID,
		recipient: recipient,
	}, ttlcache.DefaultTTL)
	err := b.eventManager.Notify(ctx, SmartRequest{
		DesktopID:   desktopID,
		ContainerID: recipient.ID(),
		Request:     request,
		TTL:         b.timeToLive,
	})
	if err != nil {
		b.pending.Delete(key)
		return otel.Error(span, fmt.Errorf("dispatch SMART request: %w", err))
	}
	span.AddEvent(otel.SmartRequestDispatched)
	log.Ctx(ctx).Debug().
		Str(logging.FieldMessageID, messageID).
		Str(logging.FieldMessageType, request.MessageType()).
		Msg("Dispatched SMART request")
	return nil
}

// HandleResponse delivers a response to the recipient that sent the request it answers.
// Responses to unknown (or timed out) requests are ignored.
func (b *MessageBroker) HandleResponse(ctx context.Context, desktopID string, response Message) error {
	ctx, span := tracer.Start(ctx, "MessageBroker.HandleResponse",
		trace.WithAttributes(attribute.String(otel.SmartDesktopID, desktopID)),
	)
	defer span.End()

	messageID := response.ResponseToMessageID()
	if messageID == "" {
		return otel.Error(span, errors.New("cannot dispatch SMART response without a message id"))
	}
	span.SetAttributes(attribute.String(otel.SmartMessageID, messageID))
	if item, found := b.pending.GetAndDelete(pendingKey(desktopID, messageID)); found {
		b.deliver(ctx, item.Value(), response)
		span.AddEvent(otel.SmartResponseDelivered)
	} else {
		span.AddEvent(otel.SmartResponseOrphaned)
		log.Ctx(ctx).Debug().Str(logging.FieldMessageID, messageID).Msg("No pending SMART request for response")
	}
	b.Prune()
	return nil
}

// Prune removes the requests that weren't answered in time, answering them with a request timeout.
func (b *MessageBroker) Prune() {
	b.pending.DeleteExpired()
}

// PendingCount returns the number of requests awaiting a response.
func (b *MessageBroker) PendingCount() int {
	return b.pending.Len()
}

func (b *MessageBroker) timedOut(pending pendingResponse) {
	ctx, span := tracer.Start(context.Background(), "MessageBroker.timedOut",
		trace.WithAttributes(
			attribute.String(otel.SmartDesktopID, pending.desktopID),
			attribute.String(otel.SmartMessageID, pending.messageID),
		),
	)
	defer span.End()
	span.AddEvent(otel.SmartRequestTimedOut)
	log.Ctx(ctx).Info().
		Str(logging.FieldDesktopID, pending.desktopID).
		Str(logging.FieldMessageID, pending.messageID).
		Msg("SMART request timed out")
	b.deliver(ctx, pending, Message{
		KeyResponseToMessageID: pending.messageID,
		KeyPayload: map[string]any{
			"status": http.StatusRequestTimeout,
		},
	})
}

func (b *MessageBroker) deliver(ctx context.Context, pending pendingResponse, response Message) {
	if pending.recipient.IsDead() {
		return
	}
	response = response.Clone()
	response[KeyMessageID] = uuid.NewString()
	pending.recipient.FireEventToClient(ctx, EventResponse, response)
}

// pendingKey scopes the (app-generated) message ID to the desktop.
func pendingKey(desktopID, messageID string) string {
	return desktopID + "/" + messageID
}
