package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/SanteonNL/orca/smarthost/lib/coolfhir"
	"github.com/SanteonNL/orca/smarthost/lib/otel"
	"github.com/SanteonNL/orca/smarthost/messaging"
	"github.com/SanteonNL/orca/smarthost/smart/broker"
	"github.com/SanteonNL/orca/smarthost/smart/launch"
	"github.com/SanteonNL/orca/smarthost/smart/shell"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

const envPrefix = "SMARTHOST_"

type Config struct {
	// Public holds the configuration for the public interface, serving the shell and its SMART apps.
	Public InterfaceConfig `koanf:"public"`
	// FHIR holds the configuration of the FHIR server the SMART apps are launched against.
	FHIR  coolfhir.ClientConfig `koanf:"fhir"`
	Smart SmartConfig           `koanf:"smart"`
	// Shell holds the configuration of the browser shell API.
	Shell shell.Config `koanf:"shell"`
	// Redis is used by the local launch binder if its store type is "redis".
	Redis      launch.RedisConfig `koanf:"redis"`
	Session    SessionConfig      `koanf:"session"`
	Messaging  messaging.Config   `koanf:"messaging"`
	LogLevel   zerolog.Level      `koanf:"loglevel"`
	StrictMode bool               `koanf:"strictmode"`
	// OpenTelemetry holds the configuration for observability
	OpenTelemetry otel.Config `koanf:"opentelemetry"`
}

// SmartConfig holds the configuration of the SMART app host.
type SmartConfig struct {
	// BaseURL overrides the FHIR base URL as "iss" parameter of SMART app launches.
	BaseURL string `koanf:"baseurl"`
	// Manifests holds the directories that are searched for SMART app manifests (*.smart).
	Manifests []string `koanf:"manifests"`
	// RequestTTL is the time a SMART request waits for its response before it times out.
	RequestTTL time.Duration      `koanf:"requestttl"`
	Binder     launch.BinderConfig `koanf:"binder"`
}

type SessionConfig struct {
	Lifetime time.Duration `koanf:"lifetime"`
	// PruneInterval is the interval at which expired sessions (and their desktops) are destroyed.
	PruneInterval time.Duration `koanf:"pruneinterval"`
}

func (c Config) Validate() error {
	if err := c.Messaging.Validate(c.StrictMode); err != nil {
		return fmt.Errorf("invalid messaging configuration: %w", err)
	}
	if err := c.OpenTelemetry.Validate(); err != nil {
		return fmt.Errorf("invalid OpenTelemetry configuration: %w", err)
	}
	if err := c.FHIR.Validate(); err != nil {
		return fmt.Errorf("invalid FHIR configuration: %w", err)
	}
	if err := c.Smart.Binder.Validate(c.Redis, c.StrictMode); err != nil {
		return fmt.Errorf("invalid SMART launch binder configuration: %w", err)
	}
	if err := c.Shell.Validate(c.StrictMode); err != nil {
		return fmt.Errorf("invalid shell configuration: %w", err)
	}
	if c.Smart.RequestTTL <= 0 {
		return errors.New("SMART request TTL must be positive")
	}
	if c.Session.Lifetime <= 0 {
		return errors.New("session lifetime must be positive")
	}
	if c.Session.PruneInterval <= 0 {
		return errors.New("session prune interval must be positive")
	}
	if c.Public.URL == "" {
		return errors.New("public base URL is not configured")
	}
	_, err := url.Parse(c.Public.URL)
	if err != nil {
		return errors.New("invalid public base URL")
	}
	return nil
}

// InterfaceConfig holds the configuration for an HTTP interface.
type InterfaceConfig struct {
	// Address holds the address to listen on.
	Address string `koanf:"address"`
	// URL holds the base URL of the interface.
	// Set it in case the service is behind a reverse proxy that maps it to a different URL than root (/).
	URL string `koanf:"url"`
}

func (i InterfaceConfig) ParseURL() *url.URL {
	u, _ := url.Parse(i.URL)
	return u
}

// LoadConfig loads the configuration from the environment.
func LoadConfig() (*Config, error) {
	result := DefaultConfig()
	err := loadConfigInto(&result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func loadConfigInto(target any) error {
	k := koanf.New(".")
	err := k.Load(env.ProviderWithValue(envPrefix, ".", func(key string, value string) (string, interface{}) {
		key = strings.Replace(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "_", ".", -1)
		if len(value) == 0 {
			return key, nil
		}
		sliceValues := splitWithEscaping(value, ",", "\\")
		for i, s := range sliceValues {
			sliceValues[i] = strings.TrimSpace(s)
		}
		var parsedValue any = sliceValues
		if len(sliceValues) == 1 {
			parsedValue = sliceValues[0]
		}
		return key, parsedValue
	}), nil)
	if err != nil {
		return err
	}
	return k.Unmarshal("", target)
}

func splitWithEscaping(s, separator, escape string) []string {
	s = strings.ReplaceAll(s, escape+separator, "\x00")
	tokens := strings.Split(s, separator)
	for i, token := range tokens {
		tokens[i] = strings.ReplaceAll(token, "\x00", separator)
	}
	return tokens
}

// DefaultConfig returns sensible, but not complete, default configuration values.
func DefaultConfig() Config {
	return Config{
		LogLevel:   zerolog.InfoLevel,
		StrictMode: true,
		Public: InterfaceConfig{
			Address: ":8080",
			URL:     "/",
		},
		FHIR: coolfhir.ClientConfig{
			Auth: coolfhir.ClientAuthConfig{
				Type: coolfhir.AuthTypeNone,
			},
		},
		Smart: SmartConfig{
			Manifests:  []string{"./manifests"},
			RequestTTL: broker.DefaultTimeToLive,
			Binder:     launch.DefaultBinderConfig(),
		},
		Session: SessionConfig{
			Lifetime:      8 * time.Hour,
			PruneInterval: time.Minute,
		},
		OpenTelemetry: otel.DefaultConfig(),
	}
}
