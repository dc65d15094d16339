package shell

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/SanteonNL/orca/smarthost/lib/coolfhir"
	"github.com/SanteonNL/orca/smarthost/lib/httpserv"
	"github.com/SanteonNL/orca/smarthost/lib/logging"
	"github.com/SanteonNL/orca/smarthost/lib/otel"
	"github.com/SanteonNL/orca/smarthost/smart/broker"
	"github.com/SanteonNL/orca/smarthost/smart/container"
	"github.com/SanteonNL/orca/smarthost/smart/handler"
	"github.com/SanteonNL/orca/smarthost/smart/manifest"
	"github.com/SanteonNL/orca/smarthost/smart/smartcontext"
	"github.com/SanteonNL/orca/smarthost/sse"
	"github.com/SanteonNL/orca/smarthost/user"
	"github.com/rs/zerolog/log"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
	baseotel "go.opentelemetry.io/otel"
)

const basePath = "/shell"

var tracer = baseotel.Tracer("shell")

var errDesktopDestroyed = errors.New("desktop has been destroyed")

// Service is the HTTP API used by the browser shell: it manages the desktop of the shell session,
// the containers on it, and relays the messages of the SMART apps in the containers.
type Service struct {
	config     Config
	sessions   *user.SessionManager[Desktop]
	plugins    *manifest.Registry
	launch     container.URLBuilder
	broker     container.Broker
	events     *sse.Service
	cds        *handler.CdsHookHandler
	fhirClient fhirclient.Client
	publicURL  *url.URL
}

// New creates the shell service. fhirClient is optional: without it, patients are not resolved on the FHIR server.
// The session manager's OnDestroy is set, so desktops are destroyed when their session ends or expires.
// Creating a session requires the basic auth credentials of the config, if set.
func New(config Config, sessions *user.SessionManager[Desktop], plugins *manifest.Registry, launch container.URLBuilder, messageBroker container.Broker,
	eventService *sse.Service, cds *handler.CdsHookHandler, fhirClient fhirclient.Client, publicURL *url.URL) *Service {
	sessions.OnDestroy = func(_ string, desktop *Desktop) {
		desktop.Destroy(context.Background())
	}
	return &Service{
		config:     config,
		sessions:   sessions,
		plugins:    plugins,
		launch:     launch,
		broker:     messageBroker,
		events:     eventService,
		cds:        cds,
		fhirClient: fhirClient,
		publicURL:  publicURL,
	}
}

type desktopHandlerFunc func(writer http.ResponseWriter, request *http.Request, desktop *Desktop)

type containerHandlerFunc func(writer http.ResponseWriter, request *http.Request, desktop *Desktop, c *container.Container)

func (s *Service) RegisterHandlers(mux *http.ServeMux) {
	route := func(method, path, operation string, handler http.HandlerFunc) httpserv.Route {
		return httpserv.Route{
			Method:     method,
			Path:       basePath + path,
			Handler:    handler,
			Middleware: otel.Middleware(tracer, operation),
		}
	}
	httpserv.RegisterRoutes(mux,
		httpserv.Route{
			Method:  http.MethodPost,
			Path:    basePath + "/session",
			Handler: s.handleCreateSession,
			Middleware: httpserv.Chain(
				otel.Middleware(tracer, "Shell.CreateSession"),
				httpserv.BasicAuth("shell", s.config.Username, s.config.Password),
			),
		},
		route(http.MethodDelete, "/session", "Shell.DestroySession", s.withDesktop(s.handleDestroySession)),
		route(http.MethodGet, "/plugins", "Shell.ListPlugins", s.withDesktop(s.handleListPlugins)),
		route(http.MethodPost, "/containers", "Shell.CreateContainer", s.withDesktop(s.handleCreateContainer)),
		route(http.MethodGet, "/containers/{id}", "Shell.GetContainer", s.withContainer(s.handleGetContainer)),
		route(http.MethodPut, "/containers/{id}/active", "Shell.SetContainerActive", s.withContainer(s.handleSetActive)),
		route(http.MethodDelete, "/containers/{id}", "Shell.DestroyContainer", s.withContainer(s.handleDestroyContainer)),
		route(http.MethodPost, "/containers/{id}/messages", "Shell.HandleMessage", s.withContainer(s.handleMessage)),
		route(http.MethodGet, "/containers/{id}/events", "Shell.Events", s.withContainer(s.handleEvents)),
		route(http.MethodGet, "/containers/{id}/ws", "Shell.WebSocket", s.withContainer(s.handleWebSocket)),
		route(http.MethodPut, "/context/{scope}", "Shell.SetContext", s.withDesktop(s.handleSetContext)),
		route(http.MethodDelete, "/context/{scope}", "Shell.ClearContext", s.withDesktop(s.handleClearContext)),
		route(http.MethodPost, "/refresh", "Shell.Refresh", s.withDesktop(s.handleRefresh)),
		route(http.MethodPost, "/cdshooks/trigger", "Shell.TriggerCdsHooks", s.withDesktop(s.handleTriggerCdsHooks)),
		route(http.MethodPut, "/cdshooks/{hook}/{service}", "Shell.PublishCdsHookResponse", s.withDesktop(s.handlePublishCdsHookResponse)),
		route(http.MethodDelete, "/cdshooks/{hook}/{service}", "Shell.ClearCdsHookResponse", s.withDesktop(s.handleClearCdsHookResponse)),
	)
}

// DestroyAll destroys all sessions and their desktops.
func (s *Service) DestroyAll() {
	s.sessions.DestroyAll()
}

func (s *Service) withDesktop(next desktopHandlerFunc) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		desktop := s.sessions.Get(request)
		if desktop == nil {
			http.Error(writer, "no shell session", http.StatusUnauthorized)
			return
		}
		ctx := logging.With(request.Context(), logging.FieldDesktopID, desktop.ID())
		next(writer, request.WithContext(ctx), desktop)
	}
}

func (s *Service) withContainer(next containerHandlerFunc) http.HandlerFunc {
	return s.withDesktop(func(writer http.ResponseWriter, request *http.Request, desktop *Desktop) {
		c := desktop.Container(request.PathValue("id"))
		if c == nil {
			http.Error(writer, "unknown container", http.StatusNotFound)
			return
		}
		ctx := logging.With(request.Context(), logging.FieldContainerID, c.ID())
		next(writer, request.WithContext(ctx), desktop, c)
	})
}

type sessionResponse struct {
	Desktop string `json:"desktop"`
}

func (s *Service) handleCreateSession(writer http.ResponseWriter, request *http.Request) {
	if s.sessions.Get(request) != nil {
		s.sessions.Destroy(writer, request)
	}
	desktop := newDesktop(request.Context(), s.launch, s.broker, s.events, s.cds)
	s.sessions.Create(writer, desktop)
	log.Ctx(request.Context()).Info().Str(logging.FieldDesktopID, desktop.ID()).Msg("Shell session created")
	httpserv.WriteJSON(writer, http.StatusCreated, sessionResponse{Desktop: desktop.ID()})
}

func (s *Service) handleDestroySession(writer http.ResponseWriter, request *http.Request, _ *Desktop) {
	s.sessions.Destroy(writer, request)
	writer.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleListPlugins(writer http.ResponseWriter, _ *http.Request, _ *Desktop) {
	httpserv.WriteJSON(writer, http.StatusOK, s.plugins.List())
}

type createContainerRequest struct {
	Plugin string `json:"plugin"`
}

func (s *Service) handleCreateContainer(writer http.ResponseWriter, request *http.Request, desktop *Desktop) {
	var body createContainerRequest
	if err := httpserv.ReadJSON(request, &body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	plugin := s.plugins.Get(body.Plugin)
	if plugin == nil {
		http.Error(writer, "unknown plugin: "+body.Plugin, http.StatusNotFound)
		return
	}
	c, err := desktop.CreateContainer(request.Context(), plugin, s.pageURL(request))
	if err != nil {
		log.Ctx(request.Context()).Error().Err(err).Str(logging.FieldPluginID, plugin.ID).Msg("Failed to create SMART container")
		http.Error(writer, "failed to create container: "+err.Error(), http.StatusInternalServerError)
		return
	}
	httpserv.WriteJSON(writer, http.StatusCreated, c.State())
}

// pageURL returns the URL of the shell page that issued the request, used to resolve relative launch URLs.
func (s *Service) pageURL(request *http.Request) string {
	if referer := request.Referer(); referer != "" {
		return referer
	}
	if s.publicURL == nil {
		return ""
	}
	return s.publicURL.JoinPath(basePath).String() + "/"
}

func (s *Service) handleGetContainer(writer http.ResponseWriter, _ *http.Request, _ *Desktop, c *container.Container) {
	httpserv.WriteJSON(writer, http.StatusOK, c.State())
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

func (s *Service) handleSetActive(writer http.ResponseWriter, request *http.Request, _ *Desktop, c *container.Container) {
	var body setActiveRequest
	if err := httpserv.ReadJSON(request, &body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Active == nil {
		http.Error(writer, "missing active state", http.StatusBadRequest)
		return
	}
	c.SetActive(request.Context(), *body.Active)
	httpserv.WriteJSON(writer, http.StatusOK, c.State())
}

func (s *Service) handleDestroyContainer(writer http.ResponseWriter, request *http.Request, desktop *Desktop, c *container.Container) {
	desktop.DestroyContainer(request.Context(), c.ID())
	writer.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleMessage(writer http.ResponseWriter, request *http.Request, _ *Desktop, c *container.Container) {
	var message broker.Message
	if err := httpserv.ReadJSON(request, &message); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validateRequest(message); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	if err := c.HandleRequest(request.Context(), message); err != nil {
		log.Ctx(request.Context()).Error().Err(err).Str(logging.FieldMessageID, message.MessageID()).Msg("Failed to handle SMART request")
		http.Error(writer, "failed to handle SMART request", http.StatusInternalServerError)
		return
	}
	writer.WriteHeader(http.StatusAccepted)
}

func validateRequest(message broker.Message) error {
	if message.MessageID() == "" {
		return errors.New("SMART request requires a messageId")
	}
	if message.MessageType() == "" {
		return errors.New("SMART request requires a messageType")
	}
	return nil
}

func (s *Service) handleEvents(writer http.ResponseWriter, request *http.Request, _ *Desktop, c *container.Container) {
	s.events.ServeHTTP(c.Topic(), writer, request)
}

type setContextRequest struct {
	ID string `json:"id"`
}

type contextResponse struct {
	Scope   string `json:"scope"`
	ID      string `json:"id,omitempty"`
	Display string `json:"display,omitempty"`
}

func (s *Service) handleSetContext(writer http.ResponseWriter, request *http.Request, desktop *Desktop) {
	scope := request.PathValue("scope")
	var body setContextRequest
	if err := httpserv.ReadJSON(request, &body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	if body.ID == "" {
		http.Error(writer, "missing id", http.StatusBadRequest)
		return
	}
	response := contextResponse{Scope: scope, ID: body.ID}
	switch scope {
	case smartcontext.ScopeUser:
		desktop.SetActiveUser(request.Context(), body.ID)
	case smartcontext.ScopePatient:
		patient, err := s.resolvePatient(request.Context(), body.ID)
		if err != nil {
			coolfhir.WriteOperationOutcomeFromError(request.Context(), err, "Resolve patient", writer)
			return
		}
		if patient != nil {
			response.Display = coolfhir.FormatPatientName(*patient)
		}
		desktop.SetActivePatient(request.Context(), body.ID)
	default:
		http.Error(writer, "unknown context scope: "+scope, http.StatusNotFound)
		return
	}
	httpserv.WriteJSON(writer, http.StatusOK, response)
}

// resolvePatient reads the patient from the FHIR server, if one is configured. Otherwise, it returns nil.
func (s *Service) resolvePatient(ctx context.Context, id string) (*fhir.Patient, error) {
	if s.fhirClient == nil {
		return nil, nil
	}
	var patient fhir.Patient
	if err := s.fhirClient.ReadWithContext(ctx, "Patient/"+url.PathEscape(id), &patient); err != nil {
		return nil, err
	}
	return &patient, nil
}

func (s *Service) handleClearContext(writer http.ResponseWriter, request *http.Request, desktop *Desktop) {
	switch scope := request.PathValue("scope"); scope {
	case smartcontext.ScopeUser:
		desktop.SetActiveUser(request.Context(), "")
	case smartcontext.ScopePatient:
		desktop.SetActivePatient(request.Context(), "")
	default:
		http.Error(writer, "unknown context scope: "+scope, http.StatusNotFound)
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleRefresh(writer http.ResponseWriter, request *http.Request, desktop *Desktop) {
	desktop.Refresh(request.Context())
	writer.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleTriggerCdsHooks(writer http.ResponseWriter, request *http.Request, desktop *Desktop) {
	desktop.TriggerCdsHooks(request.Context(), request.URL.Query().Get("hook"))
	writer.WriteHeader(http.StatusNoContent)
}

func (s *Service) handlePublishCdsHookResponse(writer http.ResponseWriter, request *http.Request, desktop *Desktop) {
	var response any
	if err := httpserv.ReadJSON(request, &response); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	if response == nil {
		http.Error(writer, "missing CDS hook response", http.StatusBadRequest)
		return
	}
	desktop.PublishCdsHookResponse(request.Context(), request.PathValue("hook"), request.PathValue("service"), response)
	writer.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleClearCdsHookResponse(writer http.ResponseWriter, request *http.Request, desktop *Desktop) {
	desktop.PublishCdsHookResponse(request.Context(), request.PathValue("hook"), request.PathValue("service"), nil)
	writer.WriteHeader(http.StatusNoContent)
}
