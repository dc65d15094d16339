package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleHealthCheck(t *testing.T) {
	t.Run("no components", func(t *testing.T) {
		service := New()
		mux := http.NewServeMux()
		service.RegisterHandlers(mux)
		req, _ := http.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		// Check the body
		var response map[string]string
		err := json.NewDecoder(rec.Body).Decode(&response)
		require.NoError(t, err)
		expected := map[string]string{"status": "up"}
		require.Equal(t, expected, response)
	})
	t.Run("component down", func(t *testing.T) {
		service := New()
		service.Register("redis", func(_ context.Context) error {
			return errors.New("connection refused")
		})
		service.Register("messaging", func(_ context.Context) error {
			return nil
		})
		mux := http.NewServeMux()
		service.RegisterHandlers(mux)
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		require.JSONEq(t, `{"status":"down","components":{"redis":"down","messaging":"up"}}`, rec.Body.String())
	})
}
