package httpserv

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

type Route struct {
	Method     string
	Path       string
	Handler    http.HandlerFunc
	Middleware func(http.HandlerFunc) http.HandlerFunc
}

func RegisterRoutes(mux *http.ServeMux, routes ...Route) {
	for _, route := range routes {
		if route.Handler == nil {
			panic("route handler cannot be nil")
		}
		handler := route.Handler
		if route.Middleware != nil {
			handler = route.Middleware(handler)
		}
		mux.HandleFunc(strings.Join([]string{route.Method, route.Path}, " "), handler)
	}
}

func Chain(middlewares ...func(http.HandlerFunc) http.HandlerFunc) func(http.HandlerFunc) http.HandlerFunc {
	return func(final http.HandlerFunc) http.HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// BasicAuth returns middleware that requires the given HTTP basic auth credentials.
// If username is empty, requests are passed through unauthenticated.
func BasicAuth(realm, username, password string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		if username == "" {
			return next
		}
		return func(writer http.ResponseWriter, request *http.Request) {
			u, p, ok := request.BasicAuth()
			if !ok || !equalsConstantTime(u, username) || !equalsConstantTime(p, password) {
				writer.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
				http.Error(writer, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(writer, request)
		}
	}
}

func equalsConstantTime(actual, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) == 1
}
