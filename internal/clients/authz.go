package clients

import (
	"context"
	"sync"
)

// StaticAuthorizer grants permissions from an in-memory grant table.
// Production deployments swap in the platform's access service; this
// covers single-tenant installs and tests.
type StaticAuthorizer struct {
	mu       sync.RWMutex
	grants   map[string]map[string]bool // userID -> permission -> allowed
	allowAll bool
}

// NewStaticAuthorizer creates an authorizer with an explicit grant table
func NewStaticAuthorizer() *StaticAuthorizer {
	return &StaticAuthorizer{grants: make(map[string]map[string]bool)}
}

// NewAllowAllAuthorizer creates an authorizer that grants everything
func NewAllowAllAuthorizer() *StaticAuthorizer {
	return &StaticAuthorizer{grants: make(map[string]map[string]bool), allowAll: true}
}

// Grant allows a user one permission
func (a *StaticAuthorizer) Grant(userID, permission string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.grants[userID] == nil {
		a.grants[userID] = make(map[string]bool)
	}
	a.grants[userID][permission] = true
}

// HasPermission implements Authorizer
func (a *StaticAuthorizer) HasPermission(ctx context.Context, userID, memberID, permission string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.allowAll {
		return true, nil
	}
	return a.grants[userID][permission], nil
}
