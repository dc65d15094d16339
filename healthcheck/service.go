package healthcheck

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/SanteonNL/orca/smarthost/lib/httpserv"
	"github.com/rs/zerolog/log"
)

const checkTimeout = 5 * time.Second

// Check reports whether a component the service depends on is healthy.
type Check func(ctx context.Context) error

func New() *Service {
	return &Service{
		checks: map[string]Check{},
	}
}

type Service struct {
	checks map[string]Check
}

// Register adds a named component check, reported under "components" in the health response.
func (s *Service) Register(name string, check Check) {
	s.checks[name] = check
}

func (s *Service) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealthCheck)
}

type response struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (s *Service) handleHealthCheck(writer http.ResponseWriter, request *http.Request) {
	ctx, cancel := context.WithTimeout(request.Context(), checkTimeout)
	defer cancel()

	result := response{Status: "up"}
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if result.Components == nil {
			result.Components = map[string]string{}
		}
		if err := s.checks[name](ctx); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msgf("Health check failed (component=%s)", name)
			result.Components[name] = "down"
			result.Status = "down"
		} else {
			result.Components[name] = "up"
		}
	}
	status := http.StatusOK
	if result.Status != "up" {
		status = http.StatusServiceUnavailable
	}
	httpserv.WriteJSON(writer, status, result)
}
