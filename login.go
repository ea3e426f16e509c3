package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/gopress-cms/auth/audit"
	"github.com/gopress-cms/auth/id"
	"github.com/gopress-cms/auth/lockout"
	"github.com/gopress-cms/auth/metrics"
	"github.com/gopress-cms/auth/rate"
	"github.com/gopress-cms/auth/refresh"
	"github.com/gopress-cms/auth/session"
	"github.com/gopress-cms/auth/token"
)

// LoginRequest carries one password-login attempt.
type LoginRequest struct {
	Identifier string
	Password   string
	IP         string
	UserAgent  string

	// SessionData is copied into the created session verbatim.
	SessionData map[string]string
}

// LoginResult is a successful login: a signed token pair, the refresh
// record backing it, and a server-side session.
type LoginResult struct {
	UserID id.UserID
	Roles  []string

	Pair          token.Pair
	RefreshRecord *refresh.Token
	Session       *session.Session

	// PasswordNeedsRehash signals that the stored hash uses weaker
	// parameters than currently configured; re-hash with the plaintext in
	// hand.
	PasswordNeedsRehash bool
}

// Login runs the full password grant: rate limit, lockout gate, credential
// verification, then session and token issuance. Failures count toward the
// lockout; successes reset it.
func (k *Kernel) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if err := k.gate(ctx, req.Identifier, req.IP); err != nil {
		return nil, err
	}

	user, lookupErr := k.users.Lookup(ctx, req.Identifier)
	if lookupErr != nil && !errors.Is(lookupErr, ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, lookupErr)
	}

	hash := k.dummyHash
	if user != nil {
		hash = user.PasswordHash
	}
	ok, err := k.passwords.Verify(req.Password, hash)
	if err != nil {
		// A corrupt stored hash can never match; treat it as a failed
		// credential, not an internal error the attacker can distinguish.
		ok = false
	}
	if user == nil || !ok {
		return nil, k.loginFailed(ctx, req)
	}

	st, err := k.lockouts.RecordAttempt(ctx, req.Identifier, req.IP, true)
	if err != nil {
		return nil, k.storeErr(ctx, err)
	}
	if st.Locked {
		// Correct password while locked does not open the account.
		return nil, &LockedError{RetryAfter: st.RetryAfter}
	}

	needsRehash, _ := k.passwords.NeedsRehash(user.PasswordHash)

	pair, record, err := k.refresh.Issue(ctx, user.ID, user.Roles)
	if err != nil {
		return nil, k.storeErr(ctx, err)
	}

	sess, err := k.sessions.Create(ctx, user.ID, session.Attributes{
		Roles:     user.Roles,
		Data:      req.SessionData,
		IP:        req.IP,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		return nil, k.storeErr(ctx, err)
	}

	k.metrics.Inc(metrics.SessionCreated)
	k.auditor.Emit(ctx, audit.Event{
		EventType: audit.EventLoginSuccess,
		Severity:  audit.SeverityInfo,
		UserID:    user.ID.String(),
		SessionID: sess.ID.String(),
		IP:        req.IP,
		Success:   true,
	})

	return &LoginResult{
		UserID:              user.ID,
		Roles:               user.Roles,
		Pair:                pair,
		RefreshRecord:       record,
		Session:             sess,
		PasswordNeedsRehash: needsRehash,
	}, nil
}

// gate applies the lockout check and the per-IP rate limit before any
// credential is examined.
func (k *Kernel) gate(ctx context.Context, identifier, ip string) error {
	st, err := k.lockouts.CheckLocked(ctx, identifier, ip)
	if err != nil {
		return k.storeErr(ctx, err)
	}
	if st.Locked {
		k.auditor.Emit(ctx, audit.Event{
			EventType: audit.EventLoginFailure,
			Severity:  audit.SeverityWarning,
			IP:        ip,
			Error:     "account locked",
		})
		return &LockedError{RetryAfter: st.RetryAfter}
	}

	res, err := k.limiter.Check(ctx, "login:"+ip)
	if err != nil {
		return k.storeErr(ctx, err)
	}
	if !res.Allowed {
		k.metrics.Inc(metrics.RateLimitHit)
		k.auditor.Emit(ctx, audit.Event{
			EventType: audit.EventLoginRateLimited,
			Severity:  audit.SeverityWarning,
			IP:        ip,
		})
		return &RateLimitedError{RetryAfter: res.RetryAfter}
	}
	return nil
}

func (k *Kernel) loginFailed(ctx context.Context, req LoginRequest) error {
	st, err := k.lockouts.RecordAttempt(ctx, req.Identifier, req.IP, false)
	if err != nil {
		return k.storeErr(ctx, err)
	}

	k.metrics.Inc(metrics.LoginFailure)
	k.auditor.Emit(ctx, audit.Event{
		EventType: audit.EventLoginFailure,
		Severity:  audit.SeverityWarning,
		IP:        req.IP,
	})

	if st.Locked {
		k.metrics.Inc(metrics.AccountLocked)
		k.auditor.Emit(ctx, audit.Event{
			EventType: audit.EventAccountLocked,
			Severity:  audit.SeverityCritical,
			IP:        req.IP,
			Metadata:  map[string]string{"retry_after": st.RetryAfter.String()},
		})
		return &LockedError{RetryAfter: st.RetryAfter}
	}
	return ErrInvalidCredential
}

// Refresh exchanges a refresh token for a new pair. Reuse of a rotated
// token surfaces as ErrReuseDetected after the family has been revoked.
func (k *Kernel) Refresh(ctx context.Context, presented string) (token.Pair, *refresh.Token, error) {
	pair, record, err := k.refresh.Rotate(ctx, presented)
	if err != nil {
		switch {
		case errors.Is(err, refresh.ErrReuseDetected):
			return token.Pair{}, nil, ErrReuseDetected
		case errors.Is(err, refresh.ErrExpired):
			k.metrics.Inc(metrics.RefreshFailure)
			return token.Pair{}, nil, ErrExpired
		case errors.Is(err, refresh.ErrInvalidToken), errors.Is(err, refresh.ErrRevoked):
			k.metrics.Inc(metrics.RefreshFailure)
			k.auditor.Emit(ctx, audit.Event{
				EventType: audit.EventRefreshInvalid,
				Severity:  audit.SeverityWarning,
			})
			return token.Pair{}, nil, ErrInvalidCredential
		default:
			return token.Pair{}, nil, k.storeErr(ctx, err)
		}
	}
	return pair, record, nil
}

// VerifyAccess validates a bearer access token and returns its claims.
func (k *Kernel) VerifyAccess(tokenStr string) (*token.Claims, error) {
	claims, err := k.tokens.Verify(tokenStr, token.TypeAccess)
	if err != nil {
		k.metrics.Inc(metrics.TokenVerifyFailure)
		if errors.Is(err, token.ErrExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalidCredential
	}
	return claims, nil
}

// HasPermission resolves a permission against the registered roles. With no
// role registry wired, every check denies.
func (k *Kernel) HasPermission(roles []string, resource, action string) bool {
	if k.permissions == nil {
		return false
	}
	allowed := k.permissions.HasPermission(roles, resource, action)
	if !allowed {
		k.metrics.Inc(metrics.PermissionDenied)
	}
	return allowed
}

// Logout ends one session and retires its refresh token.
func (k *Kernel) Logout(ctx context.Context, sid id.SessionID, refreshID id.TokenID) error {
	if err := k.sessions.Invalidate(ctx, sid); err != nil {
		return k.storeErr(ctx, err)
	}
	if !refreshID.IsNil() {
		if err := k.refresh.Revoke(ctx, refreshID, refresh.ReasonLogout); err != nil {
			return k.storeErr(ctx, err)
		}
	}
	k.metrics.Inc(metrics.SessionInvalidated)
	k.auditor.Emit(ctx, audit.Event{
		EventType: audit.EventLogoutSession,
		Severity:  audit.SeverityInfo,
		SessionID: sid.String(),
		Success:   true,
	})
	return nil
}

// LogoutAll ends every session and refresh token of one user, e.g. after a
// password change or a suspected compromise.
func (k *Kernel) LogoutAll(ctx context.Context, uid id.UserID) error {
	if _, err := k.sessions.InvalidateAllForUser(ctx, uid); err != nil {
		return k.storeErr(ctx, err)
	}
	if _, err := k.refresh.RevokeAllForUser(ctx, uid, refresh.ReasonAdminRevoke); err != nil {
		return k.storeErr(ctx, err)
	}
	k.metrics.Inc(metrics.LogoutAll)
	k.auditor.Emit(ctx, audit.Event{
		EventType: audit.EventLogoutAll,
		Severity:  audit.SeverityInfo,
		UserID:    uid.String(),
		Success:   true,
	})
	return nil
}

// RevokeRefreshToken retires a single refresh token out of band, e.g. from
// an admin console. The rest of its family stays valid.
func (k *Kernel) RevokeRefreshToken(ctx context.Context, tid id.TokenID) error {
	if err := k.refresh.Revoke(ctx, tid, refresh.ReasonAdminRevoke); err != nil {
		return k.storeErr(ctx, err)
	}
	k.auditor.Emit(ctx, audit.Event{
		EventType: audit.EventAdminRevocation,
		Severity:  audit.SeverityWarning,
		Metadata:  map[string]string{"token_id": tid.String()},
	})
	return nil
}

// RevokeRefreshFamily retires an entire refresh lineage.
func (k *Kernel) RevokeRefreshFamily(ctx context.Context, fid id.FamilyID) (int, error) {
	n, err := k.refresh.RevokeFamily(ctx, fid, refresh.ReasonAdminRevoke)
	if err != nil {
		return 0, k.storeErr(ctx, err)
	}
	k.auditor.Emit(ctx, audit.Event{
		EventType: audit.EventAdminRevocation,
		Severity:  audit.SeverityWarning,
		Metadata:  map[string]string{"family_id": fid.String()},
	})
	return n, nil
}

// storeErr folds subpackage transport failures into the kernel taxonomy.
func (k *Kernel) storeErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, rate.ErrStoreUnavailable),
		errors.Is(err, lockout.ErrStoreUnavailable),
		errors.Is(err, session.ErrStoreUnavailable),
		errors.Is(err, refresh.ErrStoreUnavailable):
		k.metrics.Inc(metrics.StorageUnavailable)
		k.auditor.Emit(ctx, audit.Event{
			EventType: audit.EventStorageDegraded,
			Severity:  audit.SeverityCritical,
			Error:     err.Error(),
		})
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	case errors.Is(err, session.ErrNotFound), errors.Is(err, refresh.ErrNotFound):
		return ErrNotFound
	}
	return err
}
