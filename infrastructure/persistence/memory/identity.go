package memory

import (
	"context"
	"sync"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/ports"
)

// Identity is a settable signed-in user.
type Identity struct {
	mu   sync.RWMutex
	user *ports.UserIdentity
}

// NewIdentity creates an identity signed in as userID, or signed out when userID is empty.
func NewIdentity(userID string) *Identity {
	id := &Identity{}
	if userID != "" {
		id.user = &ports.UserIdentity{ID: userID}
	}
	return id
}

// SignIn switches the current user.
func (i *Identity) SignIn(user ports.UserIdentity) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.user = &user
}

// SignOut clears the current user.
func (i *Identity) SignOut() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.user = nil
}

// CurrentUser returns the signed-in user or nil.
func (i *Identity) CurrentUser(ctx context.Context) (*ports.UserIdentity, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.user == nil {
		return nil, nil
	}
	u := *i.user
	return &u, nil
}
