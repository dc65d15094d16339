package shell

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/SanteonNL/orca/smarthost/globals"
	"github.com/SanteonNL/orca/smarthost/lib/logging"
	"github.com/SanteonNL/orca/smarthost/smart/broker"
	"github.com/SanteonNL/orca/smarthost/smart/container"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(request *http.Request) bool {
		if globals.StrictMode {
			return sameOrigin(request)
		}
		return true
	},
}

// sameOrigin reports whether the Origin header, if present, matches the Host header.
func sameOrigin(request *http.Request) bool {
	origin := request.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Host, request.Host)
}

type wsError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// handleWebSocket relays the container's client events to the browser, and the SMART app's requests to the container.
// It is an alternative to the events (SSE) and messages endpoints that uses a single connection.
func (s *Service) handleWebSocket(writer http.ResponseWriter, request *http.Request, _ *Desktop, c *container.Container) {
	conn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		log.Ctx(request.Context()).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	// The request context is cancelled when the handler returns, so the pumps use their own.
	ctx, cancel := context.WithCancel(log.Ctx(request.Context()).WithContext(context.Background()))
	ctx = logging.With(ctx, logging.FieldContainerID, c.ID())
	messages, unsubscribe := s.events.Subscribe(c.Topic())
	replies := make(chan []byte, 1)
	go func() {
		defer cancel()
		defer unsubscribe()
		writePump(ctx, conn, messages, replies)
	}()
	go func() {
		defer cancel()
		readPump(ctx, conn, c, replies)
	}()
}

func readPump(ctx context.Context, conn *websocket.Conn, c *container.Container, replies chan<- []byte) {
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Ctx(ctx).Debug().Err(err).Msg("WebSocket closed unexpectedly")
			}
			return
		}
		var message broker.Message
		if err := json.Unmarshal(data, &message); err != nil {
			reply(ctx, replies, "invalid SMART request: "+err.Error())
			continue
		}
		if err := validateRequest(message); err != nil {
			reply(ctx, replies, err.Error())
			continue
		}
		if err := c.HandleRequest(ctx, message); err != nil {
			log.Ctx(ctx).Error().Err(err).Str(logging.FieldMessageID, message.MessageID()).Msg("Failed to handle SMART request")
			reply(ctx, replies, "failed to handle SMART request")
		}
	}
}

func reply(ctx context.Context, replies chan<- []byte, errorMessage string) {
	data, _ := json.Marshal(wsError{Type: "error", Error: errorMessage})
	select {
	case replies <- data:
	case <-ctx.Done():
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, messages <-chan string, replies <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	write := func(messageType int, data []byte) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(messageType, data) == nil
	}
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				// Container destroyed
				write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "container destroyed"))
				return
			}
			if !write(websocket.TextMessage, []byte(msg)) {
				return
			}
		case data := <-replies:
			if !write(websocket.TextMessage, data) {
				return
			}
		case <-ticker.C:
			if !write(websocket.PingMessage, nil) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
