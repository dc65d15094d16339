package httpserv

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

const maxRequestBodySize = 1 << 20

// WriteJSON writes the given value as JSON response with the given status code.
func WriteJSON(writer http.ResponseWriter, statusCode int, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		http.Error(writer, "internal server error", http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(statusCode)
	_, _ = writer.Write(data)
}

// ReadJSON reads the request body as JSON into target. Bodies larger than 1 MiB are rejected.
func ReadJSON(request *http.Request, target any) error {
	data, err := io.ReadAll(io.LimitReader(request.Body, maxRequestBodySize+1))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(data) > maxRequestBodySize {
		return fmt.Errorf("request body exceeds %d bytes", maxRequestBodySize)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("invalid JSON request body: %w", err)
	}
	return nil
}
