package messaging

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPBroker(t *testing.T) {
	var capturedBody []byte
	var capturedContentType string
	var capturedTopic string
	var capturedHTTPMethod string
	testServer := httptest.NewServer(http.HandlerFunc(func(httpResponse http.ResponseWriter, httpRequest *http.Request) {
		capturedTopic = httpRequest.URL.Path
		capturedHTTPMethod = httpRequest.Method
		capturedContentType = httpRequest.Header.Get("Content-Type")
		var err error
		capturedBody, err = io.ReadAll(httpRequest.Body)
		if err != nil {
			httpResponse.WriteHeader(http.StatusInternalServerError)
			return
		}
		if strings.Contains(httpRequest.URL.Path, "500") {
			httpResponse.WriteHeader(http.StatusInternalServerError)
			return
		}
		httpResponse.WriteHeader(http.StatusOK)
	}))
	defer testServer.Close()

	broker := NewHTTPBroker(HTTPBrokerConfig{
		Endpoint:    testServer.URL,
		TopicFilter: []string{"test-topic", "test-topic/500"},
	}, nil)

	message := &Message{
		Body:        []byte(`{"key":   "value"}`),
		ContentType: "application/json",
	}

	t.Run("ok", func(t *testing.T) {
		err := broker.SendMessage(context.Background(), Entity{Name: "test-topic"}, message)
		require.NoError(t, err)
		require.Equal(t, `{"key":"value"}`, string(capturedBody))
		require.Equal(t, "application/json", capturedContentType)
		require.Equal(t, "/test-topic", capturedTopic)
		require.Equal(t, http.MethodPost, capturedHTTPMethod)
	})
	t.Run("non-200 OK response", func(t *testing.T) {
		err := broker.SendMessage(context.Background(), Entity{Name: "test-topic/500"}, message)
		require.Error(t, err)
	})
	t.Run("topic filtered out (not configured)", func(t *testing.T) {
		capturedBody = nil
		err := broker.SendMessage(context.Background(), Entity{Name: "other-topic"}, message)
		require.NoError(t, err)
		require.Empty(t, capturedBody)
	})
	t.Run("no filter configured", func(t *testing.T) {
		capturedBody = nil
		broker := NewHTTPBroker(HTTPBrokerConfig{Endpoint: testServer.URL}, nil)
		err := broker.SendMessage(context.Background(), Entity{Name: "test-topic"}, message)
		require.NoError(t, err)
		require.NotEmpty(t, capturedBody)
	})
	t.Run("filtered out messages are still delivered to the underlying broker", func(t *testing.T) {
		underlying := NewMemoryBroker()
		var received []Message
		require.NoError(t, underlying.ReceiveFromQueue(Entity{Name: "other-topic"}, func(_ context.Context, msg Message) error {
			received = append(received, msg)
			return nil
		}))
		broker := NewHTTPBroker(HTTPBrokerConfig{Endpoint: testServer.URL, TopicFilter: []string{"test-topic"}}, underlying)

		err := broker.SendMessage(context.Background(), Entity{Name: "other-topic"}, message)
		require.NoError(t, err)
		require.Len(t, received, 1)
	})
	t.Run("invalid JSON", func(t *testing.T) {
		err := broker.SendMessage(context.Background(), Entity{Name: "test-topic"}, &Message{Body: []byte("{")})
		require.ErrorContains(t, err, "failed to send message over HTTP")
	})
}
