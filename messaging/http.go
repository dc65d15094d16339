package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/SanteonNL/orca/smarthost/lib/otel"
)

var _ Broker = &HTTPBroker{}

type HTTPBrokerConfig struct {
	Endpoint string `koanf:"endpoint"`
	// TopicFilter is a list of entities that should be sent over HTTP. If empty, all entities are sent.
	TopicFilter []string `koanf:"topicfilter"`
}

// NewHTTPBroker creates a broker that POSTs every message to <endpoint>/<entity> before passing it on to the underlying broker.
func NewHTTPBroker(config HTTPBrokerConfig, underlyingBroker Broker) *HTTPBroker {
	return &HTTPBroker{
		underlyingBroker: underlyingBroker,
		endpoint:         config.Endpoint,
		topicFilter:      config.TopicFilter,
		httpClient: &http.Client{
			Transport: otel.NewTransport(nil),
			Timeout:   5 * time.Second,
		},
	}
}

type HTTPBroker struct {
	underlyingBroker Broker
	endpoint         string
	topicFilter      []string
	httpClient       *http.Client
}

func (h HTTPBroker) ReceiveFromQueue(queue Entity, handler func(context.Context, Message) error) error {
	if h.underlyingBroker == nil {
		return nil
	}
	return h.underlyingBroker.ReceiveFromQueue(queue, handler)
}

func (h HTTPBroker) Close(ctx context.Context) error {
	if h.underlyingBroker == nil {
		return nil
	}
	return h.underlyingBroker.Close(ctx)
}

func (h HTTPBroker) SendMessage(ctx context.Context, entity Entity, message *Message) error {
	var errs []error
	if len(h.topicFilter) == 0 || slices.Contains(h.topicFilter, entity.Name) {
		if err := h.doSend(ctx, entity, message); err != nil {
			errs = append(errs, fmt.Errorf("failed to send message over HTTP: %w", err))
		}
	}
	if h.underlyingBroker != nil {
		if err := h.underlyingBroker.SendMessage(ctx, entity, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h HTTPBroker) doSend(ctx context.Context, entity Entity, message *Message) error {
	// compact the JSON to remove extra whitespace
	body := new(bytes.Buffer)
	if err := json.Compact(body, message.Body); err != nil {
		return err
	}
	endpoint, err := url.Parse(h.endpoint)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.JoinPath(entity.Name).String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", message.ContentType)
	httpClient := h.httpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-OK response: %d", resp.StatusCode)
	}
	return nil
}
