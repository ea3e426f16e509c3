package permission

import (
	"math/rand"
	"testing"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()

	r := NewRegistry()
	roles := []Role{
		{Name: "viewer", Permissions: []Permission{{Resource: "post", Action: "read"}}},
		{Name: "editor", Permissions: []Permission{
			{Resource: "post", Action: "read"},
			{Resource: "post", Action: "write"},
			{Resource: "media", Action: "*"},
		}},
		{Name: "admin", Permissions: []Permission{{Resource: "*", Action: "*"}}},
	}
	for _, role := range roles {
		if err := r.Register(role); err != nil {
			t.Fatalf("register %s failed: %v", role.Name, err)
		}
	}
	r.Freeze()
	return r
}

func TestHasPermissionExactAndWildcard(t *testing.T) {
	c := NewChecker(testRegistry(t))

	cases := []struct {
		roles            []string
		resource, action string
		want             bool
	}{
		{[]string{"viewer"}, "post", "read", true},
		{[]string{"viewer"}, "post", "write", false},
		{[]string{"editor"}, "post", "write", true},
		{[]string{"editor"}, "media", "delete", true},
		{[]string{"editor"}, "settings", "write", false},
		{[]string{"admin"}, "anything", "whatever", true},
		{[]string{"editor", "viewer"}, "post", "write", true},
		{[]string{"editor", "viewer"}, "post", "delete", false},
		{[]string{}, "post", "read", false},
		{[]string{"ghost-role"}, "post", "read", false},
		{[]string{"ghost-role", "viewer"}, "post", "read", true},
	}
	for _, tc := range cases {
		if got := c.HasPermission(tc.roles, tc.resource, tc.action); got != tc.want {
			t.Fatalf("HasPermission(%v, %s, %s) = %v, want %v",
				tc.roles, tc.resource, tc.action, got, tc.want)
		}
	}
}

// Monotonicity: for role sets R subset of R', every grant under R holds
// under R'. Checked over randomized subsets and sample grants.
func TestHasPermissionMonotonic(t *testing.T) {
	c := NewChecker(testRegistry(t))
	allRoles := []string{"viewer", "editor", "admin"}
	samples := []struct{ resource, action string }{
		{"post", "read"}, {"post", "write"}, {"post", "delete"},
		{"media", "upload"}, {"settings", "write"},
	}

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		var small, large []string
		for _, role := range allRoles {
			inLarge := rng.Intn(2) == 0
			if inLarge {
				large = append(large, role)
				if rng.Intn(2) == 0 {
					small = append(small, role)
				}
			}
		}
		for _, p := range samples {
			if c.HasPermission(small, p.resource, p.action) && !c.HasPermission(large, p.resource, p.action) {
				t.Fatalf("monotonicity violated: %v grants %s:%s but %v does not",
					small, p.resource, p.action, large)
			}
		}
	}
}

func TestRegistryRejectsDuplicatesAndFrozenWrites(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Role{Name: "viewer"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.Register(Role{Name: "viewer"}); err == nil {
		t.Fatal("duplicate role must be rejected")
	}
	if err := r.Register(Role{Name: ""}); err == nil {
		t.Fatal("empty role name must be rejected")
	}

	r.Freeze()
	if err := r.Register(Role{Name: "late"}); err == nil {
		t.Fatal("registration after freeze must fail")
	}
}

func TestRegistryCopiesPermissionSlice(t *testing.T) {
	r := NewRegistry()
	perms := []Permission{{Resource: "post", Action: "read"}}
	if err := r.Register(Role{Name: "viewer", Permissions: perms}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// Mutating the caller's slice must not affect the registry.
	perms[0] = Permission{Resource: "*", Action: "*"}

	c := NewChecker(r)
	if c.HasPermission([]string{"viewer"}, "settings", "write") {
		t.Fatal("registry leaked caller slice mutation")
	}
}

func TestPermissionsForUnions(t *testing.T) {
	c := NewChecker(testRegistry(t))
	got := c.PermissionsFor([]string{"viewer", "editor"})

	// viewer's post:read duplicates editor's; the union holds it once.
	if len(got) != 3 {
		t.Fatalf("expected 3 distinct permissions, got %d: %v", len(got), got)
	}
}

func TestNewPermissionValidation(t *testing.T) {
	if _, err := NewPermission("", "read"); err == nil {
		t.Fatal("empty resource must be rejected")
	}
	if _, err := NewPermission("post", " "); err == nil {
		t.Fatal("blank action must be rejected")
	}
	p, err := NewPermission(" post ", "read")
	if err != nil {
		t.Fatalf("valid permission rejected: %v", err)
	}
	if p.Resource != "post" {
		t.Fatalf("normalization failed: %q", p.Resource)
	}
}
