package launch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/SanteonNL/orca/smarthost/lib/otel"
	"github.com/SanteonNL/orca/smarthost/smart/smartcontext"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
)

const maxBinderResponseSize = 1 << 16

var _ Binder = &HTTPBinder{}

// HTTPBinder binds launch context using a remote launch binder (typically part of the authorization server).
// It POSTs {"parameters": <context>} to the binder, which responds with {"launch_id": <id>}.
type HTTPBinder struct {
	url      string
	username string
	password string
	client   *http.Client
}

func NewHTTPBinder(config BinderConfig) *HTTPBinder {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = config.RetryMax
	retryClient.Logger = retryLogger{}
	retryClient.HTTPClient = &http.Client{
		Transport: otel.NewTransport(http.DefaultTransport),
		Timeout:   10 * time.Second,
	}
	return &HTTPBinder{
		url:      config.URL,
		username: config.Username,
		password: config.Password,
		client:   retryClient.StandardClient(),
	}
}

type bindRequest struct {
	Parameters smartcontext.ContextMap `json:"parameters"`
}

type bindResponse struct {
	LaunchID   string                  `json:"launch_id"`
	Parameters smartcontext.ContextMap `json:"parameters,omitempty"`
}

func (h HTTPBinder) BindContext(ctx context.Context, contextMap smartcontext.ContextMap) (string, error) {
	if h.url == "" {
		return "", nil
	}
	requestBody, err := json.Marshal(bindRequest{Parameters: contextMap})
	if err != nil {
		return "", err
	}
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(requestBody))
	if err != nil {
		return "", err
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")
	if h.username != "" && h.password != "" {
		httpRequest.SetBasicAuth(h.username, h.password)
	}
	httpResponse, err := h.client.Do(httpRequest)
	if err != nil {
		return "", fmt.Errorf("launch binder request failed: %w", err)
	}
	defer httpResponse.Body.Close()
	responseData, err := io.ReadAll(io.LimitReader(httpResponse.Body, maxBinderResponseSize))
	if err != nil {
		return "", fmt.Errorf("launch binder response read failed: %w", err)
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return "", fmt.Errorf("launch binder returned non-OK status code (status=%d)", httpResponse.StatusCode)
	}
	var response bindResponse
	if err := json.Unmarshal(responseData, &response); err != nil {
		return "", fmt.Errorf("launch binder returned invalid response: %w", err)
	}
	return response.LaunchID, nil
}

// retryLogger routes the log output of retryablehttp to zerolog.
type retryLogger struct{}

var _ retryablehttp.LeveledLogger = retryLogger{}

func (retryLogger) Error(msg string, keysAndValues ...interface{}) {
	log.Error().Fields(keysAndValues).Msg(msg)
}

func (retryLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg(msg)
}

func (retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	log.Trace().Fields(keysAndValues).Msg(msg)
}

func (retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	log.Warn().Fields(keysAndValues).Msg(msg)
}
