package apikey

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gopress-cms/auth/id"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testManager(t *testing.T, clk *fakeClock) *Manager {
	t.Helper()
	m, err := NewManager(NewMemoryStore(), WithClock(clk.Now))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestCreateAndVerify(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	m := testManager(t, clk)

	user, _ := id.NewUser()
	plaintext, created, err := m.Create(ctx, user, "ci-deploy", []string{"publisher"}, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if plaintext == "" {
		t.Fatal("empty plaintext key")
	}

	key, err := m.Verify(ctx, plaintext)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if key.ID != created.ID || key.UserID != user {
		t.Fatalf("wrong record: %+v", key)
	}
	if key.Name != "ci-deploy" || len(key.Roles) != 1 || key.Roles[0] != "publisher" {
		t.Fatalf("metadata mismatch: %+v", key)
	}
	if key.LastUsedAt == nil {
		t.Fatal("LastUsedAt not set on verify")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, newFakeClock())

	for _, bad := range []string{"", "short", "!!!not-base64!!!", "YWJjZGVm"} {
		if _, err := m.Verify(ctx, bad); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Verify(%q): err = %v, want ErrInvalidKey", bad, err)
		}
	}
}

func TestVerifyRejectsTamperedSecret(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, newFakeClock())

	user, _ := id.NewUser()
	plaintext, _, err := m.Create(ctx, user, "k", nil, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Flip the final character; the record ID half stays valid.
	tampered := []byte(plaintext)
	if tampered[len(tampered)-1] == 'A' {
		tampered[len(tampered)-1] = 'B'
	} else {
		tampered[len(tampered)-1] = 'A'
	}
	if _, err := m.Verify(ctx, string(tampered)); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("err = %v, want ErrInvalidKey", err)
	}
}

func TestVerifyRevoked(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, newFakeClock())

	user, _ := id.NewUser()
	plaintext, created, err := m.Create(ctx, user, "k", nil, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Revoke(ctx, created.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := m.Verify(ctx, plaintext); !errors.Is(err, ErrRevoked) {
		t.Fatalf("err = %v, want ErrRevoked", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	m := testManager(t, clk)

	user, _ := id.NewUser()
	plaintext, _, err := m.Create(ctx, user, "k", nil, time.Hour)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := m.Verify(ctx, plaintext); err != nil {
		t.Fatalf("Verify before expiry: %v", err)
	}
	clk.Advance(2 * time.Hour)
	if _, err := m.Verify(ctx, plaintext); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestListForUser(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, newFakeClock())

	user, _ := id.NewUser()
	for i := 0; i < 3; i++ {
		if _, _, err := m.Create(ctx, user, "k", nil, 0); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	keys, err := m.ListForUser(ctx, user)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("got %d keys, want 3", len(keys))
	}
}
