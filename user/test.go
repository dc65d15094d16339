package user

import (
	"net/http"
	"net/http/httptest"
)

// SessionFromHttpResponse returns the session data for the session cookie set on the given response.
// It returns nil if the response doesn't set a session cookie.
func SessionFromHttpResponse[T any](manager *SessionManager[T], httpResponse *http.Response) *T {
	for _, cookie := range httpResponse.Cookies() {
		if cookie.Name != cookieName {
			continue
		}
		httpRequest := httptest.NewRequest("GET", "/", nil)
		httpRequest.AddCookie(&http.Cookie{
			Name:  cookieName,
			Value: cookie.Value,
		})
		return manager.Get(httpRequest)
	}
	return nil
}
