package handler

import (
	"context"
	"maps"
	"net/http"
	"strings"
	"sync"

	"github.com/SanteonNL/orca/smarthost/events"
	"github.com/SanteonNL/orca/smarthost/smart/broker"
	"github.com/rs/zerolog/log"
)

const (
	// MessageTypeCdsHookListen is sent by SMART apps that want to receive the response of a CDS hook.
	MessageTypeCdsHookListen = "cdshook.listen"
	// EventCdsHookTrigger is published on the desktop bus when CDS hooks are (re)triggered, invalidating earlier responses.
	// It may be followed by the hook type, e.g. "cdshook.trigger.patient-view".
	EventCdsHookTrigger = "cdshook.trigger"
	// EventCdsHookResponse is followed by the hook type and the CDS service ID to form the desktop bus topic
	// on which a service's response is published, e.g. "cdshook.response.patient-view.growth-advisor".
	// Nil data clears the response.
	EventCdsHookResponse = "cdshook.response"
)

// CdsHookTriggerTopic returns the topic that triggers the CDS hooks of the given type, or all hooks if hookType is empty.
func CdsHookTriggerTopic(hookType string) string {
	if hookType == "" {
		return EventCdsHookTrigger
	}
	return EventCdsHookTrigger + "." + hookType
}

// CdsHookResponseTopic returns the topic on which the response of a CDS service to a hook is published.
func CdsHookResponseTopic(hookType string, serviceID string) string {
	return EventCdsHookResponse + "." + hookType + "." + serviceID
}

var _ Handler = &CdsHookHandler{}

// CdsHookHandler answers "cdshook.listen" requests with the response of the requested CDS service.
// If the service hasn't responded yet, the request is answered once it does.
type CdsHookHandler struct {
	responder Responder
	mux       sync.Mutex
	desktops  map[string]*cdsHookState
}

type cdsHookState struct {
	responses map[string]any
	parked    map[string][]parkedResponse
}

type parkedResponse struct {
	request  broker.Message
	response broker.Message
}

func NewCdsHookHandler(responder Responder) *CdsHookHandler {
	return &CdsHookHandler{
		responder: responder,
		desktops:  map[string]*cdsHookState{},
	}
}

func (h *CdsHookHandler) MessageType() string {
	return MessageTypeCdsHookListen
}

func (h *CdsHookHandler) HandleRequest(_ context.Context, request Request) (broker.Message, error) {
	hook := PayloadString(request.Message, "cdshook")
	if hook == "" {
		return nil, nil
	}
	h.mux.Lock()
	defer h.mux.Unlock()
	state := h.state(request.DesktopID)
	hookResponse, ok := state.responses[hook]
	response := NewResponse(request.Message, map[string]any{
		"cdshook":  hook,
		"response": hookResponse,
	}, http.StatusOK)
	if ok {
		return response, nil
	}
	state.parked[hook] = append(state.parked[hook], parkedResponse{
		request:  request.Message,
		response: response,
	})
	return nil, nil
}

// Trigger discards all CDS hook responses (and parked requests) of the desktop.
func (h *CdsHookHandler) Trigger(desktopID string) {
	h.mux.Lock()
	defer h.mux.Unlock()
	delete(h.desktops, desktopID)
}

// Forget discards all state of the desktop, e.g. when it's destroyed.
func (h *CdsHookHandler) Forget(desktopID string) {
	h.Trigger(desktopID)
}

// Respond stores the response of a CDS hook and answers the requests waiting for it.
// A nil response clears the hook's response and the requests waiting for it.
func (h *CdsHookHandler) Respond(ctx context.Context, desktopID string, hook string, hookResponse any) {
	h.mux.Lock()
	state := h.state(desktopID)
	if hookResponse == nil {
		delete(state.responses, hook)
		delete(state.parked, hook)
		h.mux.Unlock()
		return
	}
	parked := state.parked[hook]
	delete(state.parked, hook)
	state.responses[hook] = hookResponse
	h.mux.Unlock()

	for _, p := range parked {
		response := p.response.Clone()
		payload := maps.Clone(response.Payload())
		payload["response"] = hookResponse
		response[broker.KeyPayload] = payload
		if err := h.responder.Respond(ctx, desktopID, p.request, response); err != nil {
			log.Ctx(ctx).Error().Err(err).Msgf("Failed to send CDS hook response (hook=%s)", hook)
		}
	}
}

// HookCount returns the number of CDS hooks for which the desktop has a response or waiting requests.
func (h *CdsHookHandler) HookCount(desktopID string) int {
	h.mux.Lock()
	defer h.mux.Unlock()
	state, ok := h.desktops[desktopID]
	if !ok {
		return 0
	}
	hooks := maps.Clone(state.responses)
	for hook := range state.parked {
		hooks[hook] = nil
	}
	return len(hooks)
}

// Attach makes the handler follow the CDS hook events published on the desktop's bus.
// Responses are kept by CDS service ID, the last segment of the response topic.
// The returned function detaches the handler.
func (h *CdsHookHandler) Attach(desktopID string, bus events.Bus) func() {
	return bus.Subscribe(events.Wildcard, "cdshook."+desktopID, func(ctx context.Context, event events.Event) error {
		if isTopicOrChild(event.Topic, EventCdsHookTrigger) {
			h.Trigger(desktopID)
		} else if isTopicOrChild(event.Topic, EventCdsHookResponse) {
			segments := strings.Split(event.Topic, ".")
			if serviceID := segments[len(segments)-1]; len(segments) > 3 && serviceID != "" {
				h.Respond(ctx, desktopID, serviceID, event.Data)
			}
		}
		return nil
	})
}

func isTopicOrChild(topic string, parent string) bool {
	return topic == parent || strings.HasPrefix(topic, parent+".")
}

func (h *CdsHookHandler) state(desktopID string) *cdsHookState {
	state, ok := h.desktops[desktopID]
	if !ok {
		state = &cdsHookState{
			responses: map[string]any{},
			parked:    map[string][]parkedResponse{},
		}
		h.desktops[desktopID] = state
	}
	return state
}
