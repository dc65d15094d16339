package container

import (
	"context"
	"encoding/json"
	"net/url"
	"slices"
	"sync"

	"github.com/SanteonNL/orca/smarthost/lib/coolfhir"
	"github.com/SanteonNL/orca/smarthost/lib/logging"
	"github.com/SanteonNL/orca/smarthost/smart/broker"
	"github.com/SanteonNL/orca/smarthost/smart/manifest"
	"github.com/SanteonNL/orca/smarthost/smart/smartcontext"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Client event types, besides the events fired by the message broker.
const (
	EventSrc    = "src"
	EventActive = "active"
)

// URLBuilder builds the launch URL of a SMART app for the given contexts.
type URLBuilder interface {
	URL(ctx context.Context, smartManifest manifest.Manifest, contexts []smartcontext.ContextMap) (string, error)
}

// Broker correlates the requests of the container's SMART app with their responses.
type Broker interface {
	Register(recipient broker.Recipient)
	Unregister(recipient broker.Recipient)
	HandleRequest(ctx context.Context, desktopID string, recipient broker.Recipient, request broker.Message) error
}

// Publisher relays container events to the browser.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg string)
	CloseTopic(topic string)
}

// Services are the desktop-level services a container uses.
type Services struct {
	Contexts *smartcontext.Registry
	Launch   URLBuilder
	Broker   Broker
	Events   Publisher
}

var _ smartcontext.Subscriber = &Container{}
var _ broker.Recipient = &Container{}

// Container hosts a single SMART app on a desktop. It recomputes the app's launch URL (src) whenever
// one of the contexts the app requires changes, and relays the app's messages to and from the message broker.
type Container struct {
	id        string
	desktopID string
	pageURL   string
	services  Services

	// refreshMux serializes applying computed launch URLs, so the clear and the new src are published in order.
	refreshMux sync.Mutex
	mux        sync.Mutex
	pluginID   string
	manifest   manifest.Manifest
	contexts   map[string]smartcontext.ContextMap
	// generation is incremented on every refresh; a launch URL computed for an older generation is discarded.
	generation uint64
	src        string
	active     bool
	dead       bool
}

// State is a snapshot of the container as exposed to the browser.
type State struct {
	ID     string `json:"id"`
	Plugin string `json:"plugin"`
	Src    string `json:"src"`
	Active bool   `json:"active"`
}

// New creates a container on the given desktop and registers it with the message broker.
// pageURL is the URL of the page that hosts the container, used to resolve relative launch URLs.
func New(services Services, desktopID string, pageURL string) *Container {
	result := &Container{
		id:        uuid.NewString(),
		desktopID: desktopID,
		pageURL:   pageURL,
		services:  services,
		manifest:  manifest.Manifest{},
		contexts:  map[string]smartcontext.ContextMap{},
	}
	services.Broker.Register(result)
	return result
}

func (c *Container) ID() string {
	return c.id
}

// Topic is the topic on which the container's client events are published.
func (c *Container) Topic() string {
	return c.desktopID + "/" + c.id
}

func (c *Container) IsDead() bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.dead
}

func (c *Container) State() State {
	c.mux.Lock()
	defer c.mux.Unlock()
	return State{
		ID:     c.id,
		Plugin: c.pluginID,
		Src:    c.src,
		Active: c.active,
	}
}

// SetManifest sets the SMART app hosted by the container, and subscribes to the contexts it requires.
// Subscribing causes the launch URL to be computed.
func (c *Container) SetManifest(ctx context.Context, plugin *manifest.PluginDefinition) error {
	var newContexts []*smartcontext.Context
	for _, scope := range plugin.Manifest.Scopes() {
		smartContext, err := c.services.Contexts.Get(scope)
		if err != nil {
			return err
		}
		newContexts = append(newContexts, smartContext)
	}
	c.mux.Lock()
	if c.dead {
		c.mux.Unlock()
		return nil
	}
	previous := c.manifest
	c.pluginID = plugin.ID
	c.manifest = plugin.Manifest.Clone()
	c.contexts = map[string]smartcontext.ContextMap{}
	c.mux.Unlock()

	c.unsubscribeAll(ctx, previous)
	for _, smartContext := range newContexts {
		smartContext.Subscribe(ctx, c)
	}
	return nil
}

// UpdateContext is called by a SMART context to notify the container of its current state.
func (c *Container) UpdateContext(ctx context.Context, scope string, contextMap smartcontext.ContextMap) {
	c.mux.Lock()
	delete(c.contexts, scope)
	if len(contextMap) > 0 {
		c.contexts[scope] = contextMap.Clone()
	}
	c.mux.Unlock()
	c.Refresh(ctx)
}

// Refresh recomputes the launch URL. The src is cleared first, so the app reloads even if the URL is unchanged.
func (c *Container) Refresh(ctx context.Context) {
	c.mux.Lock()
	if c.dead {
		c.mux.Unlock()
		return
	}
	smartManifest := c.manifest
	scopes := make([]string, 0, len(c.contexts))
	for scope := range c.contexts {
		scopes = append(scopes, scope)
	}
	slices.Sort(scopes)
	contexts := make([]smartcontext.ContextMap, 0, len(scopes))
	for _, scope := range scopes {
		contexts = append(contexts, c.contexts[scope])
	}
	c.generation++
	generation := c.generation
	c.mux.Unlock()

	launchURL, err := c.services.Launch.URL(ctx, smartManifest, contexts)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str(logging.FieldContainerID, c.id).Msg("Failed to compute SMART launch URL")
		launchURL = ""
	}

	c.refreshMux.Lock()
	defer c.refreshMux.Unlock()
	if c.isStale(generation) {
		log.Ctx(ctx).Debug().Str(logging.FieldContainerID, c.id).Msg("Discarding SMART launch URL of superseded context")
		return
	}
	if parsed, err := url.Parse(launchURL); err == nil && launchURL != "" {
		log.Ctx(ctx).Debug().Str(logging.FieldContainerID, c.id).Msgf("Refreshing SMART app (url=%s)", coolfhir.LaunchUrlLoggerSanitizer(parsed))
	}
	c.setSrc(ctx, "")
	c.setSrc(ctx, c.resolve(launchURL))
}

func (c *Container) isStale(generation uint64) bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.dead || c.generation != generation
}

func (c *Container) Src() string {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.src
}

func (c *Container) IsActive() bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.active
}

// SetActive sets the activation state of the container. Changes are pushed to the client.
func (c *Container) SetActive(ctx context.Context, active bool) {
	c.mux.Lock()
	changed := c.active != active && !c.dead
	c.active = active
	c.mux.Unlock()
	if changed {
		c.publish(ctx, map[string]any{"type": EventActive, "active": active})
	}
}

// HandleRequest dispatches a request of the SMART app to the message broker.
func (c *Container) HandleRequest(ctx context.Context, request broker.Message) error {
	return c.services.Broker.HandleRequest(ctx, c.desktopID, c, request)
}

// FireEventToClient sends an event (e.g. a response to one of its requests) to the SMART app.
func (c *Container) FireEventToClient(ctx context.Context, event string, data broker.Message) {
	if c.IsDead() {
		return
	}
	c.publish(ctx, map[string]any{"type": event, "data": data})
}

// Destroy detaches the container from the message broker and its contexts. Subsequent calls have no effect.
func (c *Container) Destroy(ctx context.Context) {
	c.mux.Lock()
	if c.dead {
		c.mux.Unlock()
		return
	}
	c.dead = true
	smartManifest := c.manifest
	c.mux.Unlock()

	c.services.Broker.Unregister(c)
	c.unsubscribeAll(ctx, smartManifest)
	c.services.Events.CloseTopic(c.Topic())
	log.Ctx(ctx).Debug().Str(logging.FieldContainerID, c.id).Msg("Destroyed SMART container")
}

func (c *Container) unsubscribeAll(ctx context.Context, smartManifest manifest.Manifest) {
	for _, scope := range smartManifest.Scopes() {
		smartContext, err := c.services.Contexts.Get(scope)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str(logging.FieldContainerID, c.id).Msg("Unable to unsubscribe from SMART context")
			continue
		}
		smartContext.Unsubscribe(c)
	}
}

func (c *Container) setSrc(ctx context.Context, src string) {
	c.mux.Lock()
	changed := c.src != src && !c.dead
	c.src = src
	c.mux.Unlock()
	if changed {
		c.publish(ctx, map[string]any{"type": EventSrc, "src": src})
	}
}

// resolve makes a relative launch URL absolute, using the URL of the hosting page.
func (c *Container) resolve(src string) string {
	if src == "" || c.pageURL == "" {
		return src
	}
	parsed, err := url.Parse(src)
	if err != nil || parsed.IsAbs() {
		return src
	}
	base, err := url.Parse(c.pageURL)
	if err != nil {
		return src
	}
	return base.ResolveReference(parsed).String()
}

func (c *Container) publish(ctx context.Context, event map[string]any) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str(logging.FieldContainerID, c.id).Msg("Failed to marshal SMART container event")
		return
	}
	c.services.Events.Publish(ctx, c.Topic(), string(data))
}
