// Package scope tracks authorization domains: which identities may write
// into which scope, and the parent/child relationships that tie
// cooperatives and communities to their federation.
package scope

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"icn.coop/mesh/keys"
)

// Type enumerates the three scope levels.
type Type string

const (
	Federation  Type = "federation"
	Cooperative Type = "cooperative"
	Community   Type = "community"
)

var (
	ErrNotFound      = errors.New("scope: scope not found")
	ErrUnauthorized  = errors.New("scope: author not authorized for scope")
	ErrInvalidScope  = errors.New("scope: invalid scope definition")
	ErrParentMissing = errors.New("scope: parent scope not registered")
)

// Scope is one authorization domain. Scopes form a tree with a Federation
// at the root.
type Scope struct {
	Type       Type
	ID         string
	Authorized []string // DIDs permitted to write into this scope
	Parent     string   // parent scope ID; empty only for a Federation
}

type record struct {
	scope      Scope
	authorized map[string]struct{}
	version    uint64
}

// Registry is the in-process view of scope configuration. Membership
// changes are versioned; the anchored Policy/PolicyUpdate nodes that drive
// them live in the graph, keeping the configuration history auditable.
type Registry struct {
	mu     sync.RWMutex
	scopes map[string]*record
}

func NewRegistry() *Registry {
	return &Registry{scopes: make(map[string]*record)}
}

// Register adds a scope. Registering an identical definition again is a
// no-op; changing an existing scope's shape is rejected (membership changes
// go through UpdateMembers).
func (r *Registry) Register(s Scope) error {
	if s.ID == "" {
		return fmt.Errorf("%w: missing scope id", ErrInvalidScope)
	}
	switch s.Type {
	case Federation:
		if s.Parent != "" {
			return fmt.Errorf("%w: federation scope cannot have a parent", ErrInvalidScope)
		}
	case Cooperative, Community:
		if s.Parent == "" {
			return fmt.Errorf("%w: %s scope requires a parent", ErrInvalidScope, s.Type)
		}
	default:
		return fmt.Errorf("%w: unknown scope type %q", ErrInvalidScope, s.Type)
	}
	for _, did := range s.Authorized {
		if err := keys.CheckDID(did); err != nil {
			return fmt.Errorf("%w: bad authorized DID %q", ErrInvalidScope, did)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Parent != "" {
		if _, ok := r.scopes[s.Parent]; !ok {
			return ErrParentMissing
		}
	}
	if existing, ok := r.scopes[s.ID]; ok {
		if existing.scope.Type != s.Type || existing.scope.Parent != s.Parent {
			return fmt.Errorf("%w: scope %q already registered with a different shape", ErrInvalidScope, s.ID)
		}
		return nil
	}

	auth := make(map[string]struct{}, len(s.Authorized))
	for _, did := range s.Authorized {
		auth[did] = struct{}{}
	}
	r.scopes[s.ID] = &record{scope: s, authorized: auth, version: 1}
	return nil
}

// Get returns the scope definition with a sorted member list.
func (r *Registry) Get(id string) (Scope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.scopes[id]
	if !ok {
		return Scope{}, ErrNotFound
	}
	out := rec.scope
	out.Authorized = sortedMembers(rec.authorized)
	return out, nil
}

// Has reports whether a scope is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.scopes[id]
	return ok
}

// Authorize checks that did may write into the scope.
func (r *Registry) Authorize(scopeID, did string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.scopes[scopeID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := rec.authorized[did]; !ok {
		return ErrUnauthorized
	}
	return nil
}

// UpdateMembers replaces a scope's member set and bumps its version.
// Callers apply this only after the membership change has been anchored in
// the graph.
func (r *Registry) UpdateMembers(scopeID string, members []string) (version uint64, err error) {
	for _, did := range members {
		if derr := keys.CheckDID(did); derr != nil {
			return 0, fmt.Errorf("%w: bad member DID %q", ErrInvalidScope, did)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.scopes[scopeID]
	if !ok {
		return 0, ErrNotFound
	}
	auth := make(map[string]struct{}, len(members))
	for _, did := range members {
		auth[did] = struct{}{}
	}
	rec.authorized = auth
	rec.scope.Authorized = sortedMembers(auth)
	rec.version++
	return rec.version, nil
}

// Version returns the scope's configuration version.
func (r *Registry) Version(scopeID string) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.scopes[scopeID]
	if !ok {
		return 0, ErrNotFound
	}
	return rec.version, nil
}

// Parent returns the parent scope ID ("" for a Federation root).
func (r *Registry) Parent(scopeID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.scopes[scopeID]
	if !ok {
		return "", ErrNotFound
	}
	return rec.scope.Parent, nil
}

// PathToRoot returns scope IDs from scopeID up to its federation root,
// inclusive on both ends.
func (r *Registry) PathToRoot(scopeID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var path []string
	seen := make(map[string]bool)
	cur := scopeID
	for cur != "" {
		if seen[cur] {
			return nil, fmt.Errorf("%w: cycle at %q", ErrInvalidScope, cur)
		}
		seen[cur] = true
		rec, ok := r.scopes[cur]
		if !ok {
			return nil, ErrNotFound
		}
		path = append(path, cur)
		cur = rec.scope.Parent
	}
	return path, nil
}

// List returns all registered scope IDs, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.scopes))
	for id := range r.scopes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sortedMembers(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for did := range set {
		out = append(out, did)
	}
	sort.Strings(out)
	return out
}
