package session

import (
	"testing"
	"time"

	"github.com/gopress-cms/auth/id"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sid, _ := id.NewSession()
	uid, _ := id.NewUser()
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	in := &Session{
		ID:         sid,
		UserID:     uid,
		Roles:      []string{"admin", "editor"},
		Data:       map[string]string{"theme": "dark", "lang": "en"},
		IP:         "203.0.113.7",
		UserAgent:  "Mozilla/5.0",
		CreatedAt:  created,
		LastSeenAt: created.Add(5 * time.Minute),
	}

	blob, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if out.ID != in.ID || out.UserID != in.UserID {
		t.Fatalf("id mismatch: %+v", out)
	}
	if len(out.Roles) != 2 || out.Roles[0] != "admin" || out.Roles[1] != "editor" {
		t.Fatalf("Roles = %v", out.Roles)
	}
	if out.Data["theme"] != "dark" || out.Data["lang"] != "en" {
		t.Fatalf("Data = %v", out.Data)
	}
	if out.IP != in.IP || out.UserAgent != in.UserAgent {
		t.Fatalf("client fields mismatch: %+v", out)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) || !out.LastSeenAt.Equal(in.LastSeenAt) {
		t.Fatalf("timestamps mismatch: %v %v", out.CreatedAt, out.LastSeenAt)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		{0},
		{99, 1, 2, 3},
		{sessionFormatVersion, 1, 2},
	}
	for _, blob := range cases {
		if _, err := Decode(blob); err == nil {
			t.Errorf("Decode(%v): expected error", blob)
		}
	}
}

// FuzzDecode checks that arbitrary input never panics the decoder and that
// every valid encoding survives a round trip through it.
func FuzzDecode(f *testing.F) {
	sid, _ := id.NewSession()
	uid, _ := id.NewUser()
	seed := &Session{
		ID:         sid,
		UserID:     uid,
		Roles:      []string{"viewer"},
		CreatedAt:  time.Now().UTC(),
		LastSeenAt: time.Now().UTC(),
	}
	blob, err := Encode(seed)
	if err != nil {
		f.Fatal(err)
	}
	f.Add(blob)
	f.Add([]byte{sessionFormatVersion})

	f.Fuzz(func(t *testing.T, data []byte) {
		sess, err := Decode(data)
		if err != nil {
			return
		}
		re, err := Encode(sess)
		if err != nil {
			t.Fatalf("re-encode of accepted blob failed: %v", err)
		}
		if _, err := Decode(re); err != nil {
			t.Fatalf("re-decode failed: %v", err)
		}
	})
}
