package shell

import (
	"context"
	"sync"

	"github.com/SanteonNL/orca/smarthost/events"
	"github.com/SanteonNL/orca/smarthost/lib/logging"
	"github.com/SanteonNL/orca/smarthost/smart/container"
	"github.com/SanteonNL/orca/smarthost/smart/handler"
	"github.com/SanteonNL/orca/smarthost/smart/manifest"
	"github.com/SanteonNL/orca/smarthost/smart/smartcontext"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Desktop is the server-side state of a single shell session: the active user and patient,
// the SMART contexts derived from them and the containers hosting SMART apps.
// Events within the desktop (context changes, refresh, CDS hooks) are published on its own event bus.
type Desktop struct {
	id       string
	bus      *events.InMemoryBus
	contexts *smartcontext.Registry
	services container.Services
	cds      *handler.CdsHookHandler
	detach   func()

	mux           sync.Mutex
	activeUser    string
	activePatient string
	containers    map[string]*container.Container
	destroyed     bool
}

func newDesktop(ctx context.Context, launch container.URLBuilder, messageBroker container.Broker, publisher container.Publisher, cds *handler.CdsHookHandler) *Desktop {
	result := &Desktop{
		id:         uuid.NewString(),
		bus:        events.NewInMemoryBus(),
		contexts:   smartcontext.NewRegistry(),
		cds:        cds,
		containers: map[string]*container.Container{},
	}
	result.contexts.Register(smartcontext.NewUserContext(result.bus, result.ActiveUser))
	result.contexts.Register(smartcontext.NewPatientContext(result.bus, result.ActivePatient))
	for _, scope := range result.contexts.Scopes() {
		smartContext, _ := result.contexts.Get(scope)
		smartContext.Init(ctx)
	}
	result.services = container.Services{
		Contexts: result.contexts,
		Launch:   launch,
		Broker:   messageBroker,
		Events:   publisher,
	}
	if cds != nil {
		result.detach = cds.Attach(result.id, result.bus)
	}
	log.Ctx(ctx).Debug().Str(logging.FieldDesktopID, result.id).Msg("Created desktop")
	return result
}

func (d *Desktop) ID() string {
	return d.id
}

func (d *Desktop) ActiveUser() string {
	d.mux.Lock()
	defer d.mux.Unlock()
	return d.activeUser
}

func (d *Desktop) ActivePatient() string {
	d.mux.Lock()
	defer d.mux.Unlock()
	return d.activePatient
}

// SetActiveUser changes the active user (empty to clear it), updating the SMART user context.
func (d *Desktop) SetActiveUser(ctx context.Context, id string) {
	d.mux.Lock()
	changed := d.activeUser != id
	d.activeUser = id
	d.mux.Unlock()
	if changed {
		d.bus.Publish(ctx, smartcontext.EventUserChanged, id)
	}
}

// SetActivePatient changes the active patient (empty to clear it), updating the SMART patient context.
func (d *Desktop) SetActivePatient(ctx context.Context, id string) {
	d.mux.Lock()
	changed := d.activePatient != id
	d.activePatient = id
	d.mux.Unlock()
	if changed {
		d.bus.Publish(ctx, smartcontext.EventPatientChanged, id)
	}
}

// Refresh reloads all SMART apps on the desktop.
func (d *Desktop) Refresh(ctx context.Context) {
	d.bus.Publish(ctx, smartcontext.EventRefresh, nil)
}

// TriggerCdsHooks signals the start of a new CDS hook cycle: previous hook responses are discarded.
// hookType is optional.
func (d *Desktop) TriggerCdsHooks(ctx context.Context, hookType string) {
	d.bus.Publish(ctx, handler.CdsHookTriggerTopic(hookType), nil)
}

// PublishCdsHookResponse publishes the response of a CDS service to a hook, or clears it if the response is nil.
func (d *Desktop) PublishCdsHookResponse(ctx context.Context, hookType string, serviceID string, response any) {
	d.bus.Publish(ctx, handler.CdsHookResponseTopic(hookType, serviceID), response)
}

// CreateContainer creates a container hosting the given plugin.
// pageURL is the URL of the shell page, used to resolve relative launch URLs.
func (d *Desktop) CreateContainer(ctx context.Context, plugin *manifest.PluginDefinition, pageURL string) (*container.Container, error) {
	d.mux.Lock()
	if d.destroyed {
		d.mux.Unlock()
		return nil, errDesktopDestroyed
	}
	d.mux.Unlock()

	result := container.New(d.services, d.id, pageURL)
	ctx = logging.With(ctx, logging.FieldContainerID, result.ID())
	if err := result.SetManifest(ctx, plugin); err != nil {
		result.Destroy(ctx)
		return nil, err
	}
	d.mux.Lock()
	d.containers[result.ID()] = result
	d.mux.Unlock()
	log.Ctx(ctx).Info().Str(logging.FieldPluginID, plugin.ID).Msg("Created SMART container")
	return result, nil
}

// Container returns the container with the given ID, or nil if it doesn't exist.
func (d *Desktop) Container(id string) *container.Container {
	d.mux.Lock()
	defer d.mux.Unlock()
	return d.containers[id]
}

// DestroyContainer destroys the container with the given ID. It returns false if the container doesn't exist.
func (d *Desktop) DestroyContainer(ctx context.Context, id string) bool {
	d.mux.Lock()
	target, ok := d.containers[id]
	delete(d.containers, id)
	d.mux.Unlock()
	if !ok {
		return false
	}
	target.Destroy(ctx)
	return true
}

// ContainerCount returns the number of containers on the desktop.
func (d *Desktop) ContainerCount() int {
	d.mux.Lock()
	defer d.mux.Unlock()
	return len(d.containers)
}

// Destroy destroys all containers, detaches from the CDS hook handler and releases the SMART contexts.
func (d *Desktop) Destroy(ctx context.Context) {
	d.mux.Lock()
	if d.destroyed {
		d.mux.Unlock()
		return
	}
	d.destroyed = true
	containers := d.containers
	d.containers = map[string]*container.Container{}
	d.mux.Unlock()

	for _, c := range containers {
		c.Destroy(ctx)
	}
	if d.detach != nil {
		d.detach()
		d.cds.Forget(d.id)
	}
	d.contexts.Destroy()
	log.Ctx(ctx).Debug().Str(logging.FieldDesktopID, d.id).Msg("Destroyed desktop")
}
