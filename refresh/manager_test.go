package refresh

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gopress-cms/auth/audit"
	"github.com/gopress-cms/auth/id"
	"github.com/gopress-cms/auth/token"
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

func testTokenManager(t *testing.T, clk *fakeClock) *token.Manager {
	t.Helper()
	secretKey := make([]byte, 32)
	if _, err := rand.Read(secretKey); err != nil {
		t.Fatal(err)
	}
	ring, err := token.NewKeyRing(token.Key{ID: "k1", Method: token.MethodHS256, Private: secretKey})
	if err != nil {
		t.Fatalf("NewKeyRing: %v", err)
	}
	tm, err := token.NewManager(ring, token.Config{
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
		Issuer:     "test",
		Now:        clk.Now,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return tm
}

func testManager(t *testing.T, store Store, clk *fakeClock, opts ...Option) *Manager {
	t.Helper()
	opts = append(opts, WithClock(clk.Now))
	m, err := NewManager(store, testTokenManager(t, clk), opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestIssueAndRotateChain(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	m := testManager(t, NewMemoryStore(), clk)

	user, _ := id.NewUser()
	pair, root, err := m.Issue(ctx, user, []string{"editor"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if root.ParentID != nil {
		t.Fatal("root token must have no parent")
	}

	presented := pair.RefreshToken
	family := root.FamilyID
	parent := root.ID
	for i := 0; i < 3; i++ {
		clk.Advance(time.Hour)
		next, child, err := m.Rotate(ctx, presented)
		if err != nil {
			t.Fatalf("Rotate %d: %v", i+1, err)
		}
		if child.FamilyID != family {
			t.Fatalf("rotation %d changed family", i+1)
		}
		if child.ParentID == nil || *child.ParentID != parent {
			t.Fatalf("rotation %d parent link wrong", i+1)
		}
		if next.AccessToken == "" || next.RefreshToken == presented {
			t.Fatalf("rotation %d produced no fresh pair", i+1)
		}
		presented = next.RefreshToken
		parent = child.ID
	}
}

func TestRotatePreservesRoles(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	m := testManager(t, NewMemoryStore(), clk)

	user, _ := id.NewUser()
	pair, _, err := m.Issue(ctx, user, []string{"admin", "editor"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	next, _, err := m.Rotate(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	claims, err := m.tokens.Verify(next.AccessToken, token.TypeAccess)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "admin" {
		t.Fatalf("Roles = %v, want carried over", claims.Roles)
	}
}

func TestReuseRevokesFamily(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	store := NewMemoryStore()
	sink := audit.NewChannelSink(16)
	dispatcher := audit.NewDispatcher(audit.Config{Enabled: true, BufferSize: 16}, sink)
	defer dispatcher.Close()
	m := testManager(t, store, clk, WithAudit(dispatcher))

	user, _ := id.NewUser()
	pair, root, err := m.Issue(ctx, user, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	next, _, err := m.Rotate(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("first Rotate: %v", err)
	}

	// The old token again: theft signal.
	if _, _, err := m.Rotate(ctx, pair.RefreshToken); !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("err = %v, want ErrReuseDetected", err)
	}

	// The whole family is dead, including the fresh child.
	if _, _, err := m.Rotate(ctx, next.RefreshToken); !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("child err = %v, want ErrReuseDetected", err)
	}

	rec, err := store.Get(ctx, root.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.RevokeReason == nil || *rec.RevokeReason != ReasonTheftDetected {
		t.Fatalf("root reason = %v, want theft_detected", rec.RevokeReason)
	}

	deadline := time.After(2 * time.Second)
	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case e := <-sink.Events():
			if e.EventType == audit.EventReuseDetected || e.EventType == audit.EventFamilyRevoked {
				seen[e.EventType] = true
			}
		case <-deadline:
			t.Fatalf("missing audit events, saw %v", seen)
		}
	}
}

func TestRotateExpired(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	m := testManager(t, NewMemoryStore(), clk)

	user, _ := id.NewUser()
	pair, _, err := m.Issue(ctx, user, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clk.Advance(31 * 24 * time.Hour)
	if _, _, err := m.Rotate(ctx, pair.RefreshToken); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestRotateGarbage(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	m := testManager(t, NewMemoryStore(), clk)

	for _, presented := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, _, err := m.Rotate(ctx, presented); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Rotate(%q) = %v, want ErrInvalidToken", presented, err)
		}
	}
}

func TestRotateWrongTokenType(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	m := testManager(t, NewMemoryStore(), clk)

	user, _ := id.NewUser()
	pair, _, err := m.Issue(ctx, user, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	// Access tokens are never accepted at the rotation endpoint.
	if _, _, err := m.Rotate(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestLogoutRevoke(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	store := NewMemoryStore()
	m := testManager(t, store, clk)

	user, _ := id.NewUser()
	pair, root, err := m.Issue(ctx, user, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := m.Revoke(ctx, root.ID, ReasonLogout); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if _, _, err := m.Rotate(ctx, pair.RefreshToken); !errors.Is(err, ErrRevoked) {
		t.Fatalf("err = %v, want ErrRevoked", err)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	m := testManager(t, NewMemoryStore(), clk)

	user, _ := id.NewUser()
	var pairs []token.Pair
	for i := 0; i < 3; i++ {
		pair, _, err := m.Issue(ctx, user, nil)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		pairs = append(pairs, pair)
	}

	n, err := m.RevokeAllForUser(ctx, user, ReasonAdminRevoke)
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if n != 3 {
		t.Fatalf("revoked %d, want 3", n)
	}
	for _, pair := range pairs {
		if _, _, err := m.Rotate(ctx, pair.RefreshToken); !errors.Is(err, ErrRevoked) {
			t.Fatalf("err = %v, want ErrRevoked", err)
		}
	}
}

// TestConcurrentRotationSingleWinner hammers one refresh token from many
// goroutines. Exactly one rotation may succeed; everyone else must see
// reuse detection or a revoked family, never a second fresh pair.
func TestConcurrentRotationSingleWinner(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	m := testManager(t, NewMemoryStore(), clk)

	user, _ := id.NewUser()
	pair, _, err := m.Issue(ctx, user, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const goroutines = 16
	var (
		start   sync.WaitGroup
		done    sync.WaitGroup
		winners int64
		mu      sync.Mutex
	)
	start.Add(1)
	done.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer done.Done()
			start.Wait()
			_, _, err := m.Rotate(ctx, pair.RefreshToken)
			switch {
			case err == nil:
				mu.Lock()
				winners++
				mu.Unlock()
			case errors.Is(err, ErrReuseDetected), errors.Is(err, ErrRevoked):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	start.Done()
	done.Wait()

	if winners > 1 {
		t.Fatalf("%d winners, want at most 1", winners)
	}
}

func runRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	clk := newFakeClock()
	return NewRedisStore(client, "").WithClock(clk.Now), mr, clk
}

func TestRedisStoreRotateFlow(t *testing.T) {
	ctx := context.Background()
	store, _, clk := runRedisStore(t)
	m := testManager(t, store, clk)

	user, _ := id.NewUser()
	pair, root, err := m.Issue(ctx, user, []string{"viewer"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	next, child, err := m.Rotate(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if child.FamilyID != root.FamilyID {
		t.Fatal("family changed across rotation")
	}

	if _, _, err := m.Rotate(ctx, pair.RefreshToken); !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("err = %v, want ErrReuseDetected", err)
	}
	if _, _, err := m.Rotate(ctx, next.RefreshToken); !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("child err = %v, want ErrReuseDetected", err)
	}
}

func TestRedisStoreClaim(t *testing.T) {
	ctx := context.Background()
	store, _, clk := runRedisStore(t)

	tid, _ := id.NewToken()
	fid, _ := id.NewFamily()
	uid, _ := id.NewUser()
	now := clk.Now()
	tok := &Token{
		ID: tid, FamilyID: fid, UserID: uid,
		IssuedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := store.Create(ctx, tok); err != nil {
		t.Fatalf("Create: %v", err)
	}

	won, err := store.Claim(ctx, tid, now)
	if err != nil || !won {
		t.Fatalf("first Claim = (%v, %v), want win", won, err)
	}
	won, err = store.Claim(ctx, tid, now)
	if err != nil || won {
		t.Fatalf("second Claim = (%v, %v), want loss", won, err)
	}

	missing, _ := id.NewToken()
	if _, err := store.Claim(ctx, missing, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err = %v, want ErrNotFound", err)
	}

	rec, err := store.Get(ctx, tid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.UsedAt == nil || !rec.UsedAt.Equal(now) {
		t.Fatalf("UsedAt = %v, want %v", rec.UsedAt, now)
	}
}

func TestRedisStoreRevokeSemantics(t *testing.T) {
	ctx := context.Background()
	store, _, clk := runRedisStore(t)

	tid, _ := id.NewToken()
	fid, _ := id.NewFamily()
	uid, _ := id.NewUser()
	now := clk.Now()
	tok := &Token{
		ID: tid, FamilyID: fid, UserID: uid,
		IssuedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := store.Create(ctx, tok); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Revoking after a claim must not clobber the claimed used_at.
	if _, err := store.Claim(ctx, tid, now); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := store.Revoke(ctx, tid, ReasonRotated); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	rec, err := store.Get(ctx, tid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.UsedAt == nil || !rec.UsedAt.Equal(now) {
		t.Fatalf("UsedAt = %v, want %v", rec.UsedAt, now)
	}
	if rec.RevokeReason == nil || *rec.RevokeReason != ReasonRotated {
		t.Fatalf("reason = %v, want rotated", rec.RevokeReason)
	}

	// An ordinary revocation never replaces an existing reason.
	if err := store.Revoke(ctx, tid, ReasonLogout); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	rec, _ = store.Get(ctx, tid)
	if *rec.RevokeReason != ReasonRotated {
		t.Fatalf("reason = %v, want rotated kept", *rec.RevokeReason)
	}

	// A theft burn does replace Rotated, so spent links in the lineage end
	// up marked stolen too.
	n, err := store.RevokeFamily(ctx, fid, ReasonTheftDetected)
	if err != nil {
		t.Fatalf("RevokeFamily: %v", err)
	}
	if n != 1 {
		t.Fatalf("revoked %d, want 1", n)
	}
	rec, _ = store.Get(ctx, tid)
	if *rec.RevokeReason != ReasonTheftDetected {
		t.Fatalf("reason = %v, want theft_detected", *rec.RevokeReason)
	}
	if rec.UsedAt == nil {
		t.Fatal("used_at lost across revocations")
	}
}

func TestRedisStoreRecordExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr, clk := runRedisStore(t)

	tid, _ := id.NewToken()
	fid, _ := id.NewFamily()
	uid, _ := id.NewUser()
	now := clk.Now()
	tok := &Token{
		ID: tid, FamilyID: fid, UserID: uid,
		IssuedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := store.Create(ctx, tok); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := store.Get(ctx, tid); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after TTL", err)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	store := NewRedisStore(client, "")
	tid, _ := id.NewToken()
	if _, err := store.Get(context.Background(), tid); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}
