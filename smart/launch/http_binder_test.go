package launch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SanteonNL/orca/smarthost/smart/smartcontext"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/require"
)

func TestHTTPBinder_BindContext(t *testing.T) {
	ctx := context.Background()
	t.Run("ok", func(t *testing.T) {
		var capturedBody bindRequest
		var capturedAuth [2]string
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			require.Equal(t, http.MethodPost, request.Method)
			require.Equal(t, "application/json", request.Header.Get("Content-Type"))
			require.Equal(t, "application/json", request.Header.Get("Accept"))
			capturedAuth[0], capturedAuth[1], _ = request.BasicAuth()
			_ = json.NewDecoder(request.Body).Decode(&capturedBody)
			writer.Header().Set("Content-Type", "application/json")
			_, _ = writer.Write([]byte(`{"launch_id":"launch-1"}`))
		}))
		defer server.Close()
		binder := NewHTTPBinder(BinderConfig{URL: server.URL, Username: "user", Password: "secret"})

		launchID, err := binder.BindContext(ctx, smartcontext.ContextMap{"patient": "1"})

		require.NoError(t, err)
		require.Equal(t, "launch-1", launchID)
		require.Equal(t, smartcontext.ContextMap{"patient": "1"}, capturedBody.Parameters)
		require.Equal(t, [2]string{"user", "secret"}, capturedAuth)
	})
	t.Run("no basic auth without password", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			_, _, ok := request.BasicAuth()
			require.False(t, ok)
			_, _ = writer.Write([]byte(`{"launch_id":"launch-1"}`))
		}))
		defer server.Close()
		binder := NewHTTPBinder(BinderConfig{URL: server.URL, Username: "user"})

		_, err := binder.BindContext(ctx, smartcontext.ContextMap{"patient": "1"})

		require.NoError(t, err)
	})
	t.Run("no URL", func(t *testing.T) {
		launchID, err := NewHTTPBinder(BinderConfig{}).BindContext(ctx, smartcontext.ContextMap{"patient": "1"})
		require.NoError(t, err)
		require.Empty(t, launchID)
	})
	t.Run("non-OK status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			writer.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()
		binder := NewHTTPBinder(BinderConfig{URL: server.URL})

		_, err := binder.BindContext(ctx, smartcontext.ContextMap{"patient": "1"})

		require.EqualError(t, err, "launch binder returned non-OK status code (status=400)")
	})
	t.Run("server errors are retried", func(t *testing.T) {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			calls++
			if calls == 1 {
				writer.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = writer.Write([]byte(`{"launch_id":"launch-2"}`))
		}))
		defer server.Close()
		binder := NewHTTPBinder(BinderConfig{URL: server.URL, RetryMax: 1})
		binder.client.Transport.(*retryablehttp.RoundTripper).Client.RetryWaitMin = 0
		binder.client.Transport.(*retryablehttp.RoundTripper).Client.RetryWaitMax = 0

		launchID, err := binder.BindContext(ctx, smartcontext.ContextMap{"patient": "1"})

		require.NoError(t, err)
		require.Equal(t, "launch-2", launchID)
		require.Equal(t, 2, calls)
	})
	t.Run("invalid response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			_, _ = writer.Write([]byte(`not json`))
		}))
		defer server.Close()
		binder := NewHTTPBinder(BinderConfig{URL: server.URL})

		_, err := binder.BindContext(ctx, smartcontext.ContextMap{"patient": "1"})

		require.ErrorContains(t, err, "launch binder returned invalid response")
	})
}
