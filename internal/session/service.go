package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"iris-platform/internal/audit"
	"iris-platform/internal/auth"
	"iris-platform/internal/identity"
	"iris-platform/internal/workspace"
	"iris-platform/pkg/logger"
)

var (
	ErrInvalidCredentials = errors.New("session: invalid credentials")
	ErrAccountInactive    = errors.New("session: account not active")
	ErrAccountLocked      = errors.New("session: account locked")
	// ErrUnauthenticated covers every unusable refresh token.
	ErrUnauthenticated = errors.New("session: unauthenticated")
)

// IdentityProvider is the identity authority as seen by the login flow.
type IdentityProvider interface {
	Enabled() bool
	FindByEmailOrUsername(ctx context.Context, value string) (identity.Identity, error)
	FindByID(ctx context.Context, id string) (identity.Identity, error)
	FetchMemberships(ctx context.Context, userID string) ([]identity.Membership, error)
	RecordLogin(ctx context.Context, userID string)
}

// Synchronizer is the workspace side of the login flow.
type Synchronizer interface {
	SyncFromAuthority(ctx context.Context, userID string, memberships []identity.Membership) ([]workspace.WorkspaceRole, error)
	ListForUser(ctx context.Context, userID string) ([]workspace.WorkspaceRole, error)
}

// Deps are the collaborators of Service. Denylist and Audit may be nil.
type Deps struct {
	Identities IdentityProvider
	Workspaces Synchronizer
	Tokens     *auth.Manager
	Denylist   auth.Denylist
	Passwords  PasswordVerifier
	Audit      *audit.Service
	Log        *slog.Logger

	// AuthorityTimeout bounds each identity authority call.
	AuthorityTimeout time.Duration
}

// Result is what a successful login or refresh hands back to the client.
type Result struct {
	Tokens     auth.TokenPair            `json:"tokens"`
	Identity   identity.Identity         `json:"user"`
	Workspaces []workspace.WorkspaceRole `json:"workspaces"`
}

// Service runs login, refresh and logout:
// authenticate -> fetch memberships -> synchronize workspaces -> issue tokens.
type Service struct {
	ids       IdentityProvider
	sync      Synchronizer
	tokens    *auth.Manager
	denylist  auth.Denylist
	passwords PasswordVerifier
	audit     *audit.Service
	log       *slog.Logger
	timeout   time.Duration
	clock     func() time.Time
}

func NewService(d Deps) (*Service, error) {
	if d.Identities == nil || d.Workspaces == nil || d.Tokens == nil {
		return nil, errors.New("session: identities, workspaces and tokens are required")
	}
	if d.Passwords == nil {
		d.Passwords = BcryptVerifier{}
	}
	if d.AuthorityTimeout <= 0 {
		d.AuthorityTimeout = 5 * time.Second
	}
	return &Service{
		ids:       d.Identities,
		sync:      d.Workspaces,
		tokens:    d.Tokens,
		denylist:  d.Denylist,
		passwords: d.Passwords,
		audit:     d.Audit,
		log:       logger.OrDefault(d.Log).With("component", "session"),
		timeout:   d.AuthorityTimeout,
		clock:     time.Now,
	}, nil
}

// Login authenticates identifier (email or username) and password.
// Unknown users and wrong passwords both yield ErrInvalidCredentials.
// Authority outages come back wrapped in identity.ErrUnavailable.
func (s *Service) Login(ctx context.Context, identifier, password string) (Result, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return Result{}, ErrInvalidCredentials
	}

	ident, err := s.findByLogin(ctx, identifier)
	if errors.Is(err, identity.ErrNotFound) {
		s.audit.LogLoginFailed(ctx, identifier, "", "unknown_user")
		return Result{}, ErrInvalidCredentials
	}
	if err != nil {
		return Result{}, fmt.Errorf("login lookup: %w", err)
	}

	// Account state is only revealed to callers who know the password.
	if !s.passwords.Verify(ident.PasswordHash, password) {
		s.audit.LogLoginFailed(ctx, identifier, ident.ID, "invalid_password")
		return Result{}, ErrInvalidCredentials
	}
	now := s.clock()
	if err := checkUsable(ident, now); err != nil {
		s.audit.LogLoginFailed(ctx, identifier, ident.ID, reason(err, ident))
		return Result{}, err
	}

	s.ids.RecordLogin(ctx, ident.ID)
	workspaces := s.reconcile(ctx, ident.ID)

	pair, err := s.tokens.IssuePair(now, ident)
	if err != nil {
		return Result{}, err
	}
	s.audit.LogLoginSucceeded(ctx, ident.ID, "password")
	logger.From(ctx, s.log).Info("login succeeded", "user_id", ident.ID, "workspaces", len(workspaces))

	return Result{Tokens: pair, Identity: ident, Workspaces: workspaces}, nil
}

// Refresh exchanges a refresh token for a new pair. The identity is reloaded
// so status changes and role changes take effect; the presented refresh token
// is revoked when a denylist is configured.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Result, error) {
	now := s.clock()
	claims, err := s.tokens.VerifyType(refreshToken, auth.TokenTypeRefresh, now)
	if err != nil {
		return Result{}, ErrUnauthenticated
	}
	hash := auth.Hash(refreshToken)
	if s.denylist != nil {
		revoked, err := s.denylist.IsRevoked(ctx, hash)
		if err != nil {
			logger.From(ctx, s.log).Warn("denylist lookup failed", "err", err)
			return Result{}, ErrUnauthenticated
		}
		if revoked {
			return Result{}, ErrUnauthenticated
		}
	}

	ident, err := s.reload(ctx, claims)
	if errors.Is(err, identity.ErrNotFound) {
		return Result{}, ErrUnauthenticated
	}
	if err != nil {
		return Result{}, fmt.Errorf("refresh lookup: %w", err)
	}
	if err := checkUsable(ident, now); err != nil {
		return Result{}, err
	}

	workspaces := s.reconcile(ctx, ident.ID)
	pair, err := s.tokens.IssuePair(now, ident)
	if err != nil {
		return Result{}, err
	}
	s.revoke(ctx, hash, claims.ExpiresAt.Time)
	s.audit.LogLoginSucceeded(ctx, ident.ID, "refresh")

	return Result{Tokens: pair, Identity: ident, Workspaces: workspaces}, nil
}

// Logout revokes the caller's access token and, when given and owned by the
// same user, the refresh token. Without a denylist tokens simply run out.
func (s *Service) Logout(ctx context.Context, p auth.Principal, refreshToken string) error {
	if s.denylist == nil {
		return nil
	}
	if err := s.denylist.Revoke(ctx, p.TokenHash, p.ExpiresAt); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	if refreshToken == "" {
		return nil
	}
	claims, err := s.tokens.VerifyType(refreshToken, auth.TokenTypeRefresh, s.clock())
	if err != nil || claims.Subject != p.UserID {
		return nil
	}
	if err := s.denylist.Revoke(ctx, auth.Hash(refreshToken), claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// Workspaces returns the user's stored workspaces without contacting the
// identity authority.
func (s *Service) Workspaces(ctx context.Context, userID string) ([]workspace.WorkspaceRole, error) {
	return s.sync.ListForUser(ctx, userID)
}

func (s *Service) findByLogin(ctx context.Context, identifier string) (identity.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.ids.FindByEmailOrUsername(ctx, identifier)
}

// reload fetches the current identity for a refresh. In disabled mode the
// token's own claims are all there is.
func (s *Service) reload(ctx context.Context, claims auth.Claims) (identity.Identity, error) {
	if !s.ids.Enabled() {
		return identity.Identity{
			ID:              claims.Subject,
			Email:           claims.Email,
			DisplayName:     claims.Name,
			CompanyRole:     claims.Role,
			PermissionLevel: identity.PermissionLevel(claims.PermissionLevel),
			Status:          identity.StatusActive,
		}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.ids.FindByID(ctx, claims.Subject)
}

// reconcile syncs the user's memberships. When the authority is disabled or
// the fetch fails it serves the stored projection instead, so an outage
// never deactivates memberships.
func (s *Service) reconcile(ctx context.Context, userID string) []workspace.WorkspaceRole {
	log := logger.From(ctx, s.log).With("user_id", userID)

	if s.ids.Enabled() {
		fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
		ms, err := s.ids.FetchMemberships(fetchCtx, userID)
		cancel()
		if err == nil {
			out, err := s.sync.SyncFromAuthority(ctx, userID, ms)
			if err == nil {
				return out
			}
			log.Warn("workspace sync failed", "err", err)
		} else {
			log.Warn("membership fetch failed; serving stored workspaces", "err", err)
		}
	}

	out, err := s.sync.ListForUser(ctx, userID)
	if err != nil {
		log.Warn("listing stored workspaces failed", "err", err)
		return []workspace.WorkspaceRole{}
	}
	return out
}

func (s *Service) revoke(ctx context.Context, hash string, expiresAt time.Time) {
	if s.denylist == nil {
		return
	}
	if err := s.denylist.Revoke(ctx, hash, expiresAt); err != nil {
		logger.From(ctx, s.log).Warn("revoking refresh token failed", "err", err)
	}
}

func checkUsable(ident identity.Identity, now time.Time) error {
	if ident.Status != identity.StatusActive {
		return ErrAccountInactive
	}
	if ident.LockedAt(now) {
		return ErrAccountLocked
	}
	return nil
}

func reason(err error, ident identity.Identity) string {
	if errors.Is(err, ErrAccountLocked) {
		return "locked"
	}
	return "status_" + string(ident.Status)
}
