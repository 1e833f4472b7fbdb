// ABOUTME: Request authentication for the HTTP and websocket surfaces
// ABOUTME: Resolves an http.Request to the active identity or rejects it

package auth

import (
	"errors"
	"net/http"
)

// ErrNoIdentity is returned when a request carries no usable credentials.
var ErrNoIdentity = errors.New("no active identity on request")

// Authenticator resolves a request to the username it acts as. The session
// issuance itself lives in an external subsystem; this layer only verifies
// what the request presents.
type Authenticator interface {
	Authenticate(r *http.Request) (username string, err error)
}

// Static trusts the X-Username header outright. For tests, development, and
// deployments behind a proxy that strips and re-sets the header after its own
// authentication; everything else configures a token secret and gets JWT
// verification instead.
type Static struct{}

// Authenticate returns the X-Username header value.
func (Static) Authenticate(r *http.Request) (string, error) {
	username := r.Header.Get("X-Username")
	if username == "" {
		return "", ErrNoIdentity
	}
	return username, nil
}
