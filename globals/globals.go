package globals

import (
	"crypto/tls"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func init() {
	zerolog.DefaultContextLogger = &log.Logger
}

// StrictMode is a global variable that can be set to true to enable strict mode. If strict mode is enabled,
// potentially unsafe behavior is disabled (e.g. plain HTTP message mirroring, cookies without the Secure flag).
var StrictMode bool

// DefaultTLSConfig returns a default, secure TLS configuration. If you want to customize the configuration for a specific
// TLS client, you should clone it before doing so.
var DefaultTLSConfig = &tls.Config{
	MinVersion: tls.VersionTLS12,
}
