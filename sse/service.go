package sse

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const clientBufferSize = 10

// Service maps a topic to a set of clients that are interested in receiving
// messages for that topic. Clients either connect to the server-sent events (SSE)
// endpoint for that topic, or subscribe to a channel (e.g. to relay messages over a WebSocket).
type Service struct {
	mu           sync.RWMutex
	clients      map[string]map[chan string]struct{} // topic -> clients
	PingInterval time.Duration
	ServeHTTP    func(topic string, writer http.ResponseWriter, request *http.Request)
}

func New() *Service {
	service := &Service{
		clients:      make(map[string]map[chan string]struct{}),
		PingInterval: 30 * time.Second,
	}
	service.ServeHTTP = service.defaultServeHTTP
	return service
}

func (s *Service) defaultServeHTTP(topic string, writer http.ResponseWriter, request *http.Request) {
	writer.Header().Set("Content-Type", "text/event-stream")
	writer.Header().Set("Cache-Control", "no-cache")
	writer.Header().Set("Connection", "keep-alive")
	writer.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := writer.(http.Flusher)
	if !ok {
		http.Error(writer, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	msgCh, unsubscribe := s.Subscribe(topic)
	defer unsubscribe()

	// A comment/ping as per SSE spec - marks the start of the stream
	fmt.Fprintf(writer, ": ping\n\n")
	flusher.Flush()

	ctx := request.Context()
	log.Ctx(ctx).Debug().Msgf("Opened up SSE stream for topic: %s", topic)

	ping := time.NewTicker(s.PingInterval)
	defer ping.Stop()
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				// topic closed
				return
			}
			fmt.Fprintf(writer, "data: %s\n\n", msg)
			flusher.Flush()
		case <-ping.C:
			fmt.Fprintf(writer, ": ping\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// Subscribe registers a client for the topic. The returned channel is closed when the client is unsubscribed
// or the topic is closed.
func (s *Service) Subscribe(topic string) (<-chan string, func()) {
	ch := make(chan string, clientBufferSize)
	s.registerClient(topic, ch)
	return ch, func() {
		s.unregisterClient(topic, ch)
	}
}

func (s *Service) registerClient(topic string, ch chan string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[topic]; !exists {
		s.clients[topic] = make(map[chan string]struct{})
	}
	s.clients[topic][ch] = struct{}{}
}

func (s *Service) unregisterClient(topic string, ch chan string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients, exists := s.clients[topic]
	if !exists {
		return
	}
	if _, registered := clients[ch]; !registered {
		return
	}
	delete(clients, ch)
	close(ch)
	if len(clients) == 0 {
		delete(s.clients, topic)
	}
}

// CloseTopic disconnects all clients of the topic.
func (s *Service) CloseTopic(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.clients[topic] {
		close(ch)
	}
	delete(s.clients, topic)
}

func (s *Service) Publish(ctx context.Context, topic string, msg string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for ch := range s.clients[topic] {
		select {
		case ch <- msg:
		default:
			log.Ctx(ctx).Warn().Msgf("client channel full, dropping message on topic %s", topic)
		}
	}
}

func (s *Service) ClientCount(topic string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients[topic])
}
