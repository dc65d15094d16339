//go:generate mockgen -destination=./binder_mock.go -package=launch -source=binder.go
package launch

import (
	"context"

	"github.com/SanteonNL/orca/smarthost/smart/smartcontext"
)

// Binder binds SMART launch context to a launch ID.
// The SMART app passes the launch ID to the authorization server, which resolves it to the launch context.
type Binder interface {
	// BindContext returns the launch ID for the given context. An empty launch ID means no context is bound.
	BindContext(ctx context.Context, contextMap smartcontext.ContextMap) (string, error)
}
