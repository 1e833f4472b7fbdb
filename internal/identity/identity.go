// ABOUTME: Identity collaborator: resolves profile data used to decorate events
// ABOUTME: Never a precondition for delivery; resolution failures are non-fatal

package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Chronosbabu/serveurbabu/internal/docstore"
)

// ErrUnknownIdentity is returned when no profile exists for a username.
var ErrUnknownIdentity = errors.New("unknown identity")

// Profile is the decoration attached to emitted payloads.
type Profile struct {
	Username  string `json:"username"`
	AvatarRef string `json:"avatar,omitempty"`
}

// Resolver resolves a username to its profile. The messaging core treats
// every resolver error as "no decoration available".
type Resolver interface {
	ResolveProfile(ctx context.Context, username string) (*Profile, error)
}

// usersDoc is the docstore key holding the user directory.
const usersDoc = "users"

// DocResolver resolves profiles from the user directory document, an array
// of user records as written by the account subsystem.
type DocResolver struct {
	docs docstore.Store
}

// NewDocResolver creates a resolver over the given document store.
func NewDocResolver(docs docstore.Store) *DocResolver {
	return &DocResolver{docs: docs}
}

// ResolveProfile looks up a username in the user directory.
func (r *DocResolver) ResolveProfile(ctx context.Context, username string) (*Profile, error) {
	data, err := r.docs.Load(ctx, usersDoc)
	if err == docstore.ErrNotFound {
		return nil, ErrUnknownIdentity
	}
	if err != nil {
		return nil, fmt.Errorf("loading user directory: %w", err)
	}

	var users []struct {
		Username string `json:"username"`
		Avatar   string `json:"avatar"`
	}
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("decoding user directory: %w", err)
	}

	for _, u := range users {
		if u.Username == username {
			return &Profile{Username: u.Username, AvatarRef: u.Avatar}, nil
		}
	}
	return nil, ErrUnknownIdentity
}

// StaticResolver serves a fixed username -> avatar map. Used in tests and in
// deployments where profile decoration is disabled.
type StaticResolver map[string]string

// ResolveProfile returns the mapped profile or ErrUnknownIdentity.
func (r StaticResolver) ResolveProfile(_ context.Context, username string) (*Profile, error) {
	avatar, ok := r[username]
	if !ok {
		return nil, ErrUnknownIdentity
	}
	return &Profile{Username: username, AvatarRef: avatar}, nil
}
