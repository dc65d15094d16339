package launch

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

const (
	BinderTypeLocal  = "local"
	BinderTypeRemote = "remote"

	StoreTypeMemory = "memory"
	StoreTypeRedis  = "redis"
)

// BinderConfig configures how SMART launch context is bound to a launch ID.
type BinderConfig struct {
	// Type is either "local" (launch IDs are issued by this service) or "remote" (launch IDs are issued by an external launch binder).
	Type string `koanf:"type"`
	// URL is the endpoint of the remote launch binder.
	URL string `koanf:"url"`
	// Username and Password are used for HTTP basic authentication: sent to the remote launch binder,
	// or required from clients of the local launch binder endpoint.
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	// RetryMax is the maximum number of retries of requests to the remote launch binder.
	RetryMax int         `koanf:"retrymax"`
	Store    StoreConfig `koanf:"store"`
}

// StoreConfig configures where the local launch binder stores launch context.
type StoreConfig struct {
	Type string        `koanf:"type"`
	TTL  time.Duration `koanf:"ttl"`
}

// RedisConfig holds the connection details of the Redis server.
type RedisConfig struct {
	Address  string `koanf:"address"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

func DefaultBinderConfig() BinderConfig {
	return BinderConfig{
		Type:     BinderTypeLocal,
		RetryMax: 3,
		Store: StoreConfig{
			Type: StoreTypeMemory,
			TTL:  5 * time.Minute,
		},
	}
}

// Validate checks the configuration. In strict mode, the local launch binder endpoint must be protected with credentials.
func (c BinderConfig) Validate(redis RedisConfig, strictMode bool) error {
	switch c.Type {
	case BinderTypeRemote:
		if c.URL == "" {
			return errors.New("remote launch binder requires a URL")
		}
		if _, err := url.ParseRequestURI(c.URL); err != nil {
			return fmt.Errorf("invalid launch binder URL: %w", err)
		}
	case BinderTypeLocal:
		switch c.Store.Type {
		case StoreTypeMemory:
		case StoreTypeRedis:
			if redis.Address == "" {
				return errors.New("redis launch store requires a Redis address")
			}
		default:
			return fmt.Errorf("invalid launch store type: %s", c.Store.Type)
		}
		if c.Store.TTL <= 0 {
			return errors.New("launch store TTL must be positive")
		}
		if strictMode && (c.Username == "" || c.Password == "") {
			return errors.New("local launch binder requires a username and password in strict mode")
		}
	default:
		return fmt.Errorf("invalid launch binder type: %s", c.Type)
	}
	if c.RetryMax < 0 {
		return errors.New("launch binder retrymax can't be negative")
	}
	return nil
}
