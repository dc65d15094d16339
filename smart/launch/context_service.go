package launch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	baseotel "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/SanteonNL/orca/smarthost/lib/logging"
	"github.com/SanteonNL/orca/smarthost/lib/otel"
	"github.com/SanteonNL/orca/smarthost/smart/manifest"
	"github.com/SanteonNL/orca/smarthost/smart/smartcontext"
	"github.com/rs/zerolog/log"
)

var tracer = baseotel.Tracer("launch")

// ContextService builds SMART launch URLs: the app's launch_uri with the issuer (iss) and launch ID (launch) appended.
type ContextService struct {
	serviceRoot string
	publicURL   string
	binder      Binder
}

// NewContextService creates a ContextService. The issuer is smartBaseURL if set, otherwise fhirBaseURL.
// Relative launch URIs are resolved against publicURL.
// Without issuer or binder the service is unavailable, and URL always returns an empty string.
func NewContextService(smartBaseURL string, fhirBaseURL string, publicURL string, binder Binder) *ContextService {
	serviceRoot := smartBaseURL
	if serviceRoot == "" {
		serviceRoot = fhirBaseURL
	}
	serviceRoot = strings.TrimSuffix(serviceRoot, "/")
	if serviceRoot == "" {
		log.Warn().Msg("No SMART service root configured, SMART services will be unavailable")
	} else if binder == nil {
		log.Warn().Msg("No SMART context binder configured, SMART services will be unavailable")
		serviceRoot = ""
	}
	return &ContextService{
		serviceRoot: serviceRoot,
		publicURL:   publicURL,
		binder:      binder,
	}
}

func (c ContextService) IsAvailable() bool {
	return c.serviceRoot != ""
}

// ServiceRoot returns the issuer (iss) passed to launched apps.
func (c ContextService) ServiceRoot() string {
	return c.serviceRoot
}

// URL returns the launch URL of the app described by the manifest, for the given contexts.
// Later contexts take precedence over earlier ones. If no context has been set, an empty string is returned.
func (c ContextService) URL(ctx context.Context, smartManifest manifest.Manifest, contexts []smartcontext.ContextMap) (string, error) {
	if !c.IsAvailable() || len(contexts) == 0 {
		return "", nil
	}
	merged := smartcontext.ContextMap{}
	for _, contextMap := range contexts {
		for key, value := range contextMap {
			merged[key] = value
		}
	}
	if len(merged) == 0 {
		return "", nil
	}

	ctx, span := tracer.Start(ctx, "ContextService.URL",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String(otel.SmartPluginID, smartManifest.Value("client_id"))),
	)
	defer span.End()

	launchID, err := c.binder.BindContext(ctx, merged)
	if err != nil {
		return "", otel.Error(span, fmt.Errorf("bind SMART launch context: %w", err))
	}
	span.AddEvent(otel.LaunchContextBound, trace.WithAttributes(attribute.String(otel.SmartLaunchID, launchID)))
	log.Ctx(ctx).Debug().Str(logging.FieldLaunchID, launchID).Msg("Bound SMART launch context")

	return appendQuery(c.launchURI(smartManifest), c.serviceRoot, launchID), nil
}

func (c ContextService) launchURI(smartManifest manifest.Manifest) string {
	launchURI := smartManifest.Value("launch_uri")
	if strings.HasPrefix(launchURI, "http") || c.publicURL == "" {
		return launchURI
	}
	return strings.TrimSuffix(c.publicURL, "/") + "/" + strings.TrimPrefix(launchURI, "/")
}

// appendQuery appends iss and (if not empty) launch to the URI, in that order.
func appendQuery(uri string, iss string, launchID string) string {
	separator := "?"
	if strings.Contains(uri, "?") {
		separator = "&"
	}
	query := "iss=" + url.QueryEscape(iss)
	if launchID != "" {
		query += "&launch=" + url.QueryEscape(launchID)
	}
	return uri + separator + query
}
