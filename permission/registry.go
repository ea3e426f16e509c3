package permission

import (
	"errors"
	"sync"
)

// Registry is the read-mostly role catalog. Roles are registered during
// startup and looked up by name on every request; Freeze prevents further
// registration once the process is serving.
type Registry struct {
	mu     sync.RWMutex
	roles  map[string]Role
	frozen bool
}

// NewRegistry returns an empty role registry.
func NewRegistry() *Registry {
	return &Registry{roles: make(map[string]Role)}
}

// Register adds a role. Duplicate names and registration after Freeze are
// rejected.
func (r *Registry) Register(role Role) error {
	if role.Name == "" {
		return errors.New("role name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return errors.New("registry frozen")
	}
	if _, exists := r.roles[role.Name]; exists {
		return errors.New("role already registered")
	}

	// Copy the permission slice so later caller mutation cannot reach the
	// registry.
	stored := Role{Name: role.Name, Permissions: make([]Permission, len(role.Permissions))}
	copy(stored.Permissions, role.Permissions)
	r.roles[role.Name] = stored
	return nil
}

// Lookup returns the role for name, or false if unknown.
func (r *Registry) Lookup(name string) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[name]
	return role, ok
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of registered roles.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roles)
}
