package permission

// Checker resolves permission questions against a role registry. Safe to
// call on every request: evaluation reads the registry and nothing else.
type Checker struct {
	registry *Registry
}

// NewChecker returns a checker over the given registry.
func NewChecker(registry *Registry) *Checker {
	return &Checker{registry: registry}
}

// HasPermission reports whether any role held by the subject grants the
// requested (resource, action). Unknown role names are skipped, never an
// error: a stale role on a subject must not grant anything, and must not
// break evaluation of the remaining roles.
func (c *Checker) HasPermission(roleNames []string, resource, action string) bool {
	if c == nil || c.registry == nil {
		return false
	}
	for _, name := range roleNames {
		role, ok := c.registry.Lookup(name)
		if !ok {
			continue
		}
		if role.Grants(resource, action) {
			return true
		}
	}
	return false
}

// PermissionsFor returns the union of permissions across the subject's
// roles, primarily for introspection endpoints.
func (c *Checker) PermissionsFor(roleNames []string) []Permission {
	if c == nil || c.registry == nil {
		return nil
	}

	seen := make(map[Permission]struct{})
	var out []Permission
	for _, name := range roleNames {
		role, ok := c.registry.Lookup(name)
		if !ok {
			continue
		}
		for _, p := range role.Permissions {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}
