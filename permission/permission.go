// Package permission implements role-based access control. Roles grant sets
// of (resource, action) permissions; subjects hold role names. Evaluation is
// pure and monotonic: adding a role can only add permissions.
package permission

import (
	"errors"
	"fmt"
	"strings"
)

// Wildcard matches any resource or any action.
const Wildcard = "*"

// Permission grants one action on one resource. Either field may be the
// wildcard.
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// NewPermission validates and normalizes a permission entry.
func NewPermission(resource, action string) (Permission, error) {
	resource = strings.TrimSpace(resource)
	action = strings.TrimSpace(action)
	if resource == "" || action == "" {
		return Permission{}, errors.New("permission resource and action cannot be empty")
	}
	return Permission{Resource: resource, Action: action}, nil
}

// Matches reports whether this grant covers the requested resource/action.
func (p Permission) Matches(resource, action string) bool {
	if p.Resource != Wildcard && p.Resource != resource {
		return false
	}
	return p.Action == Wildcard || p.Action == action
}

func (p Permission) String() string {
	return fmt.Sprintf("%s:%s", p.Resource, p.Action)
}

// Role is a named permission set.
type Role struct {
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
}

// Grants reports whether any of the role's permissions covers the request.
func (r Role) Grants(resource, action string) bool {
	for _, p := range r.Permissions {
		if p.Matches(resource, action) {
			return true
		}
	}
	return false
}
