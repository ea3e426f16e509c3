// Package refresh implements refresh-token rotation with family tracking.
// Every rotation links the new token to its parent; presenting a token that
// was already rotated is treated as theft and revokes the whole lineage.
package refresh

import (
	"time"

	"github.com/gopress-cms/auth/id"
)

// RevokeReason records why a token was taken out of circulation.
type RevokeReason string

const (
	ReasonRotated       RevokeReason = "rotated"
	ReasonLogout        RevokeReason = "logout"
	ReasonTheftDetected RevokeReason = "theft_detected"
	ReasonExpired       RevokeReason = "expired"
	ReasonAdminRevoke   RevokeReason = "admin_revoke"
)

// Token is one refresh-token record. SecretHash is the SHA-256 of the full
// signed token string; the token itself is never stored.
type Token struct {
	ID       id.TokenID
	FamilyID id.FamilyID
	ParentID *id.TokenID
	UserID   id.UserID

	SecretHash [32]byte

	IssuedAt  time.Time
	ExpiresAt time.Time

	UsedAt       *time.Time
	RevokeReason *RevokeReason
}

func (t *Token) clone() *Token {
	cp := *t
	if t.ParentID != nil {
		p := *t.ParentID
		cp.ParentID = &p
	}
	if t.UsedAt != nil {
		u := *t.UsedAt
		cp.UsedAt = &u
	}
	if t.RevokeReason != nil {
		r := *t.RevokeReason
		cp.RevokeReason = &r
	}
	return &cp
}
