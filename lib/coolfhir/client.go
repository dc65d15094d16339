package coolfhir

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/SanteonNL/orca/smarthost/lib/otel"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	AuthTypeNone              = "none"
	AuthTypeToken             = "token"
	AuthTypeClientCredentials = "client_credentials"
)

// ClientConfig holds the configuration for connecting to a FHIR server.
type ClientConfig struct {
	// BaseURL is the base URL of the FHIR server. It also acts as SMART issuer if no explicit issuer is configured.
	BaseURL string           `koanf:"baseurl"`
	Auth    ClientAuthConfig `koanf:"auth"`
}

type ClientAuthConfig struct {
	// Type is one of "none", "token" or "client_credentials".
	Type string `koanf:"type"`
	// Token is a static bearer token, used when Type is "token".
	Token string `koanf:"token"`
	// TokenURL, ClientID, ClientSecret and Scopes are used when Type is "client_credentials".
	TokenURL     string   `koanf:"tokenurl"`
	ClientID     string   `koanf:"clientid"`
	ClientSecret string   `koanf:"clientsecret"`
	Scopes       []string `koanf:"scopes"`
}

func (c ClientConfig) Validate() error {
	if c.BaseURL != "" {
		if _, err := url.Parse(c.BaseURL); err != nil {
			return fmt.Errorf("invalid FHIR base URL: %w", err)
		}
	}
	switch c.Auth.Type {
	case "", AuthTypeNone:
	case AuthTypeToken:
		if c.Auth.Token == "" {
			return errors.New("FHIR auth type 'token' requires a token")
		}
	case AuthTypeClientCredentials:
		if c.Auth.TokenURL == "" || c.Auth.ClientID == "" {
			return errors.New("FHIR auth type 'client_credentials' requires token URL and client ID")
		}
	default:
		return fmt.Errorf("unsupported FHIR auth type: %s", c.Auth.Type)
	}
	return nil
}

func Config() *fhirclient.Config {
	config := fhirclient.DefaultConfig()
	config.DefaultOptions = []fhirclient.Option{
		fhirclient.RequestHeaders(map[string][]string{
			"Cache-Control": {"no-cache"},
		}),
	}
	config.Non2xxStatusHandler = func(response *http.Response, responseBody []byte) {
		log.Debug().Msgf("Non-2xx status code from FHIR server (%s %s, status=%d), content: %s", response.Request.Method, FhirUrlLoggerSanitizer(response.Request.URL), response.StatusCode, string(responseBody))
	}
	return &config
}

// NewClient creates a FHIR client for the configured FHIR server. It returns nil if no base URL is configured.
func NewClient(ctx context.Context, config ClientConfig) (fhirclient.Client, error) {
	if config.BaseURL == "" {
		return nil, nil
	}
	baseURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Transport: otel.NewTransport(nil)}
	// oauth2 uses the HTTP client in the context for token requests
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	switch config.Auth.Type {
	case AuthTypeToken:
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: config.Auth.Token,
			TokenType:   "Bearer",
		}))
	case AuthTypeClientCredentials:
		httpClient = (&clientcredentials.Config{
			ClientID:     config.Auth.ClientID,
			ClientSecret: config.Auth.ClientSecret,
			TokenURL:     config.Auth.TokenURL,
			Scopes:       config.Auth.Scopes,
		}).Client(ctx)
	}
	return fhirclient.New(baseURL, httpClient, Config()), nil
}
