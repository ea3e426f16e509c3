package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

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

func newManager(t *testing.T, clk *fakeClock, idle, absolute time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(NewMemoryStore().WithClock(clk.Now), Config{
		IdleTimeout:     idle,
		AbsoluteTimeout: absolute,
		Now:             clk.Now,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	m := newManager(t, clk, 30*time.Minute, 12*time.Hour)

	user, err := id.NewUser()
	if err != nil {
		t.Fatal(err)
	}

	sess, err := m.Create(ctx, user, Attributes{
		Roles:     []string{"editor"},
		Data:      map[string]string{"theme": "dark"},
		IP:        "10.0.0.1",
		UserAgent: "test-agent",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := m.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != user {
		t.Fatalf("UserID = %v, want %v", got.UserID, user)
	}
	if len(got.Roles) != 1 || got.Roles[0] != "editor" {
		t.Fatalf("Roles = %v", got.Roles)
	}
	if got.Data["theme"] != "dark" {
		t.Fatalf("Data = %v", got.Data)
	}
}

func TestSlidingRenewal(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	m := newManager(t, clk, 30*time.Minute, 12*time.Hour)

	user, _ := id.NewUser()
	sess, err := m.Create(ctx, user, Attributes{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Touch every 20 minutes; each access slides the idle deadline, so the
	// session stays alive far past the initial 30 minutes.
	for i := 0; i < 6; i++ {
		clk.Advance(20 * time.Minute)
		if _, err := m.Get(ctx, sess.ID); err != nil {
			t.Fatalf("Get after %d touches: %v", i+1, err)
		}
	}

	// A gap longer than the idle timeout ends it.
	clk.Advance(31 * time.Minute)
	if _, err := m.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after idle expiry", err)
	}
}

func TestAbsoluteCap(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	m := newManager(t, clk, 30*time.Minute, 2*time.Hour)

	user, _ := id.NewUser()
	sess, err := m.Create(ctx, user, Attributes{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Continuous activity cannot outlive the absolute deadline.
	for i := 0; i < 11; i++ {
		clk.Advance(10 * time.Minute)
		if _, err := m.Get(ctx, sess.ID); err != nil {
			t.Fatalf("Get at %d min: %v", (i+1)*10, err)
		}
	}
	clk.Advance(15 * time.Minute) // past the 2h mark
	if _, err := m.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound past absolute deadline", err)
	}

	// And it stays dead.
	if _, err := m.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatal("expired session came back")
	}
}

func TestPeekDoesNotSlide(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	m := newManager(t, clk, 30*time.Minute, 12*time.Hour)

	user, _ := id.NewUser()
	sess, err := m.Create(ctx, user, Attributes{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	clk.Advance(20 * time.Minute)
	if _, err := m.Peek(ctx, sess.ID); err != nil {
		t.Fatalf("Peek: %v", err)
	}
	clk.Advance(15 * time.Minute) // 35 min since creation, Peek did not slide
	if _, err := m.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	m := newManager(t, clk, 30*time.Minute, 12*time.Hour)

	user, _ := id.NewUser()
	sess, err := m.Create(ctx, user, Attributes{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Invalidate(ctx, sess.ID); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := m.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	// Idempotent.
	if err := m.Invalidate(ctx, sess.ID); err != nil {
		t.Fatalf("second Invalidate: %v", err)
	}
}

func TestInvalidateAllForUser(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	m := newManager(t, clk, 30*time.Minute, 12*time.Hour)

	user, _ := id.NewUser()
	other, _ := id.NewUser()

	var sids []id.SessionID
	for i := 0; i < 3; i++ {
		sess, err := m.Create(ctx, user, Attributes{})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		sids = append(sids, sess.ID)
	}
	otherSess, err := m.Create(ctx, other, Attributes{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	n, err := m.InvalidateAllForUser(ctx, user)
	if err != nil {
		t.Fatalf("InvalidateAllForUser: %v", err)
	}
	if n != 3 {
		t.Fatalf("invalidated %d, want 3", n)
	}
	for _, sid := range sids {
		if _, err := m.Get(ctx, sid); !errors.Is(err, ErrNotFound) {
			t.Fatalf("session %v survived", sid)
		}
	}
	if _, err := m.Get(ctx, otherSess.ID); err != nil {
		t.Fatalf("other user's session gone: %v", err)
	}
}

func TestUpdateData(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	m := newManager(t, clk, 30*time.Minute, 12*time.Hour)

	user, _ := id.NewUser()
	sess, err := m.Create(ctx, user, Attributes{Data: map[string]string{"k": "v1"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	sess.Data["k"] = "v2"
	if err := m.Update(ctx, sess); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := m.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Data["k"] != "v2" {
		t.Fatalf("Data[k] = %q, want v2", got.Data["k"])
	}
}

func TestRedisStoreLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	clk := newFakeClock()
	m, err := NewManager(NewRedisStore(client, ""), Config{
		IdleTimeout:     30 * time.Minute,
		AbsoluteTimeout: 12 * time.Hour,
		Now:             clk.Now,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	user, _ := id.NewUser()
	a, err := m.Create(ctx, user, Attributes{Roles: []string{"admin"}, IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := m.Create(ctx, user, Attributes{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := m.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != user || got.IP != "10.0.0.1" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	ids, err := m.ActiveSessions(ctx, user)
	if err != nil {
		t.Fatalf("ActiveSessions: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("active = %d, want 2", len(ids))
	}

	n, err := m.InvalidateAllForUser(ctx, user)
	if err != nil {
		t.Fatalf("InvalidateAllForUser: %v", err)
	}
	if n != 2 {
		t.Fatalf("invalidated %d, want 2", n)
	}
	if _, err := m.Get(ctx, b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRedisStoreTTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	clk := newFakeClock()
	m, err := NewManager(NewRedisStore(client, ""), Config{
		IdleTimeout:     30 * time.Minute,
		AbsoluteTimeout: 12 * time.Hour,
		Now:             clk.Now,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	user, _ := id.NewUser()
	sess, err := m.Create(ctx, user, Attributes{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	clk.Advance(31 * time.Minute)
	mr.FastForward(31 * time.Minute)
	if _, err := m.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after TTL", err)
	}
}

func TestRedisStoreIndexKeepsLongestTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	store := NewRedisStore(client, "")
	user, _ := id.NewUser()
	now := time.Now().UTC()

	mk := func() *Session {
		sid, _ := id.NewSession()
		return &Session{ID: sid, UserID: user, CreatedAt: now, LastSeenAt: now}
	}

	long := mk()
	if err := store.Save(ctx, long, 2*time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Saving a shorter-lived session for the same user must not pull the
	// user index's TTL down below the longer session's lifetime.
	short := mk()
	if err := store.Save(ctx, short, 5*time.Minute); err != nil {
		t.Fatalf("Save: %v", err)
	}

	mr.FastForward(10 * time.Minute)
	ids, err := store.IDsForUser(ctx, user)
	if err != nil {
		t.Fatalf("IDsForUser: %v", err)
	}
	if len(ids) != 1 || ids[0] != long.ID {
		t.Fatalf("ids = %v, want just %v", ids, long.ID)
	}

	n, err := store.DeleteAllForUser(ctx, user)
	if err != nil {
		t.Fatalf("DeleteAllForUser: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d, want 1", n)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	store := NewRedisStore(client, "")
	sid, _ := id.NewSession()
	if _, err := store.Get(context.Background(), sid); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestConfigValidation(t *testing.T) {
	store := NewMemoryStore()
	if _, err := NewManager(nil, Config{IdleTimeout: time.Hour, AbsoluteTimeout: time.Hour}); err == nil {
		t.Error("nil store: expected error")
	}
	if _, err := NewManager(store, Config{AbsoluteTimeout: time.Hour}); err == nil {
		t.Error("zero idle: expected error")
	}
	if _, err := NewManager(store, Config{IdleTimeout: 2 * time.Hour, AbsoluteTimeout: time.Hour}); err == nil {
		t.Error("absolute < idle: expected error")
	}
}
