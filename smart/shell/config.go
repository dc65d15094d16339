package shell

import "errors"

// Config configures the shell API.
type Config struct {
	// Username and Password are the HTTP basic auth credentials required to create a shell session.
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// Validate checks the configuration. In strict mode, shell sessions must be protected with credentials.
func (c Config) Validate(strictMode bool) error {
	if strictMode && (c.Username == "" || c.Password == "") {
		return errors.New("shell requires a username and password in strict mode")
	}
	return nil
}
