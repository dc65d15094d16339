package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SanteonNL/orca/smarthost/events"
	"github.com/SanteonNL/orca/smarthost/messaging"
	"github.com/SanteonNL/orca/smarthost/smart/broker"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	messageType string
	response    broker.Message
	err         error
	requests    []Request
}

func (s *stubHandler) MessageType() string {
	return s.messageType
}

func (s *stubHandler) HandleRequest(_ context.Context, request Request) (broker.Message, error) {
	s.requests = append(s.requests, request)
	return s.response, s.err
}

func setupDispatcher(t *testing.T) (*Dispatcher, events.Manager, *[]broker.SmartResponse) {
	manager := events.NewManager(messaging.NewMemoryBroker())
	dispatcher := NewDispatcher(manager, time.Minute)
	require.NoError(t, dispatcher.Start())
	var responses []broker.SmartResponse
	require.NoError(t, manager.Subscribe(broker.SmartResponse{}, func(_ context.Context, event events.Type) error {
		responses = append(responses, *event.(*broker.SmartResponse))
		return nil
	}))
	return dispatcher, manager, &responses
}

func TestDispatcher(t *testing.T) {
	ctx := context.Background()
	request := broker.SmartRequest{
		DesktopID:   "desktop-1",
		ContainerID: "container-1",
		Request: broker.Message{
			broker.KeyMessageID:   "msg-1",
			broker.KeyMessageType: "test.echo",
			broker.KeyPayload:     map[string]any{"text": "hello"},
		},
	}
	t.Run("handler responds", func(t *testing.T) {
		dispatcher, manager, responses := setupDispatcher(t)
		handler := &stubHandler{
			messageType: "test.echo",
			response:    broker.Message{broker.KeyPayload: map[string]any{"text": "hello"}},
		}
		dispatcher.Register(handler)

		require.NoError(t, manager.Notify(ctx, request))

		require.Len(t, handler.requests, 1)
		require.Equal(t, "desktop-1", handler.requests[0].DesktopID)
		require.Equal(t, "container-1", handler.requests[0].ContainerID)
		require.Equal(t, "hello", PayloadString(handler.requests[0].Message, "text"))
		require.Len(t, *responses, 1)
		require.Equal(t, "desktop-1", (*responses)[0].DesktopID)
		require.Equal(t, "msg-1", (*responses)[0].Response.ResponseToMessageID())
		require.Equal(t, "hello", PayloadString((*responses)[0].Response, "text"))
	})
	t.Run("handler responds later", func(t *testing.T) {
		dispatcher, manager, responses := setupDispatcher(t)
		dispatcher.Register(&stubHandler{messageType: "test.echo"})

		require.NoError(t, manager.Notify(ctx, request))

		require.Empty(t, *responses)
	})
	t.Run("handler fails", func(t *testing.T) {
		dispatcher, manager, responses := setupDispatcher(t)
		dispatcher.Register(&stubHandler{messageType: "test.echo", err: errors.New("failed")})

		require.NoError(t, manager.Notify(ctx, request))

		require.Empty(t, *responses)
	})
	t.Run("no handler for message type", func(t *testing.T) {
		dispatcher, manager, responses := setupDispatcher(t)
		handler := &stubHandler{messageType: "other"}
		dispatcher.Register(handler)

		require.NoError(t, manager.Notify(ctx, request))

		require.Empty(t, handler.requests)
		require.Empty(t, *responses)
	})
}

func TestNewResponse(t *testing.T) {
	response := NewResponse(broker.Message{broker.KeyMessageID: "msg-1"}, nil, 200)
	require.Equal(t, broker.Message{
		broker.KeyResponseToMessageID: "msg-1",
		broker.KeyPayload:             map[string]any{"status": 200},
	}, response)
}

func TestPayloadString(t *testing.T) {
	message := broker.Message{broker.KeyPayload: map[string]any{"text": "hello", "number": 1}}
	require.Equal(t, "hello", PayloadString(message, "text"))
	require.Equal(t, "", PayloadString(message, "number"))
	require.Equal(t, "", PayloadString(broker.Message{}, "text"))
}

type capturingBroker struct {
	*messaging.MemoryBroker
	sent []messaging.Message
}

func (c *capturingBroker) SendMessage(ctx context.Context, entity messaging.Entity, message *messaging.Message) error {
	c.sent = append(c.sent, *message)
	return c.MemoryBroker.SendMessage(ctx, entity, message)
}

func TestDispatcher_Respond(t *testing.T) {
	messageBroker := &capturingBroker{MemoryBroker: messaging.NewMemoryBroker()}
	manager := events.NewManager(messageBroker)
	require.NoError(t, manager.Subscribe(broker.SmartResponse{}, func(context.Context, events.Type) error { return nil }))
	dispatcher := NewDispatcher(manager, 5*time.Minute)

	err := dispatcher.Respond(context.Background(), "desktop-1", broker.Message{broker.KeyMessageID: "msg-1"}, broker.Message{broker.KeyMessageID: "msg-2"})

	require.NoError(t, err)
	require.Len(t, messageBroker.sent, 1)
	require.Equal(t, 5*time.Minute, messageBroker.sent[0].TimeToLive)
	require.JSONEq(t, `{"desktopId":"desktop-1","response":{"messageId":"msg-2","responseToMessageId":"msg-1"}}`, string(messageBroker.sent[0].Body))
}
