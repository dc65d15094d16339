package launch

import (
	"errors"
	"net/http"

	"github.com/SanteonNL/orca/smarthost/lib/httpserv"
	"github.com/SanteonNL/orca/smarthost/lib/logging"
	"github.com/SanteonNL/orca/smarthost/smart/smartcontext"
	"github.com/rs/zerolog/log"
)

const basePath = "/smart/launch"

// BinderService exposes the StoreBinder over HTTP, using the same protocol as the remote launch binder.
// It allows the authorization server to resolve the launch IDs this service issued.
type BinderService struct {
	binder   *StoreBinder
	username string
	password string
}

func NewBinderService(binder *StoreBinder, config BinderConfig) *BinderService {
	return &BinderService{
		binder:   binder,
		username: config.Username,
		password: config.Password,
	}
}

func (s *BinderService) RegisterHandlers(mux *http.ServeMux) {
	auth := httpserv.BasicAuth("launch binder", s.username, s.password)
	httpserv.RegisterRoutes(mux,
		httpserv.Route{
			Method:     http.MethodPost,
			Path:       basePath,
			Handler:    s.handleBind,
			Middleware: auth,
		},
		httpserv.Route{
			Method:     http.MethodGet,
			Path:       basePath + "/{id}",
			Handler:    s.handleResolve,
			Middleware: auth,
		},
	)
}

func (s *BinderService) handleBind(writer http.ResponseWriter, request *http.Request) {
	var body bindRequest
	if err := httpserv.ReadJSON(request, &body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Parameters == nil {
		http.Error(writer, "missing launch parameters", http.StatusBadRequest)
		return
	}
	launchID, err := s.binder.BindContext(request.Context(), body.Parameters)
	if err != nil {
		log.Ctx(request.Context()).Error().Err(err).Msg("Failed to bind launch context")
		http.Error(writer, "failed to bind launch context", http.StatusInternalServerError)
		return
	}
	log.Ctx(request.Context()).Debug().Str(logging.FieldLaunchID, launchID).Msg("Bound launch context")
	httpserv.WriteJSON(writer, http.StatusOK, bindResponse{LaunchID: launchID})
}

func (s *BinderService) handleResolve(writer http.ResponseWriter, request *http.Request) {
	launchID := request.PathValue("id")
	parameters, err := s.binder.Resolve(request.Context(), launchID)
	if errors.Is(err, ErrLaunchNotFound) {
		http.Error(writer, "unknown launch", http.StatusNotFound)
		return
	} else if err != nil {
		log.Ctx(request.Context()).Error().Err(err).Str(logging.FieldLaunchID, launchID).Msg("Failed to resolve launch context")
		http.Error(writer, "failed to resolve launch context", http.StatusInternalServerError)
		return
	}
	if parameters == nil {
		parameters = smartcontext.ContextMap{}
	}
	httpserv.WriteJSON(writer, http.StatusOK, bindResponse{LaunchID: launchID, Parameters: parameters})
}
