package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"iris-platform/internal/audit"
	"iris-platform/internal/identity"
	"iris-platform/pkg/logger"
	"iris-platform/pkg/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Service reconciles identity authority memberships into the workspace store
// and serves the read paths that authorization depends on.
//
// Invariants:
// - one workspace per organization; one membership per (workspace, user)
// - the local role is MapRole(source role) unless a sticky override applies
// - a failed membership never aborts the rest of a sync pass
type Service struct {
	repo   Repository
	policy RolePolicy
	audit  *audit.Service
	log    *slog.Logger
	tracer trace.Tracer

	// clock and newID are injectable for deterministic tests.
	clock func() time.Time
	newID func() string
}

func NewService(repo Repository, policy RolePolicy, auditSvc *audit.Service, log *slog.Logger) *Service {
	if policy == "" {
		policy = PolicyAuthority
	}
	return &Service{
		repo:   repo,
		policy: policy,
		audit:  auditSvc,
		log:    logger.OrDefault(log).With("component", "workspace_sync"),
		tracer: otel.Tracer("iris-platform/internal/workspace"),
		clock:  time.Now,
		newID:  uuid.NewString,
	}
}

func (s *Service) Policy() RolePolicy { return s.policy }

// SyncFromAuthority makes the user's local workspaces and memberships agree
// with memberships. Removed and dangling memberships are skipped, and any
// active local membership whose organization is not in the input is
// deactivated. Per-item failures are logged and audited and the item is left
// out of the result; the only returned error is a missing user id.
func (s *Service) SyncFromAuthority(ctx context.Context, userID string, memberships []identity.Membership) ([]WorkspaceRole, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidArgument
	}

	ctx, span := s.tracer.Start(ctx, "workspace.sync", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("sync.memberships", len(memberships)),
	))
	defer span.End()

	started := time.Now()
	now := s.clock().UTC()
	log := logger.From(ctx, s.log).With("user_id", userID)

	out := make([]WorkspaceRole, 0, len(memberships))
	keep := make([]string, 0, len(memberships))
	seen := make(map[string]struct{}, len(memberships))
	failed := 0

	for _, m := range memberships {
		if m.Removed() {
			metrics.SyncItem("skipped_removed")
			continue
		}
		if !m.Resolved() {
			metrics.SyncItem("skipped_dangling")
			log.Debug("skipping membership with unresolved organization", "org_id", m.OrganizationID)
			continue
		}
		org := *m.Organization
		if _, dup := seen[org.ID]; dup {
			metrics.SyncItem("skipped_duplicate")
			continue
		}
		seen[org.ID] = struct{}{}
		// Kept even if the upsert below fails, so a transient error does not
		// cost the user an existing membership.
		keep = append(keep, org.ID)

		wr, err := s.syncOne(ctx, userID, m.Role, org, now)
		if err != nil {
			failed++
			metrics.SyncItem("failed")
			log.Warn("workspace sync item failed", "org_id", org.ID, "err", err)
			s.audit.LogSyncItemFailed(ctx, userID, org.ID, err)
			continue
		}
		metrics.SyncItem("synced")
		out = append(out, wr)
	}

	n, err := s.repo.DeactivateMembershipsExcept(ctx, userID, keep, now)
	if err != nil {
		log.Warn("deactivating stale memberships failed", "err", err)
	} else if n > 0 {
		log.Info("deactivated stale memberships", "count", n)
	}

	metrics.ObserveSync(time.Since(started))
	span.SetAttributes(
		attribute.Int("sync.synced", len(out)),
		attribute.Int("sync.failed", failed),
		attribute.Int64("sync.deactivated", n),
	)
	return out, nil
}

func (s *Service) syncOne(ctx context.Context, userID, sourceRole string, org identity.Organization, now time.Time) (WorkspaceRole, error) {
	slug := org.Slug
	if slug == "" {
		slug = disambiguate("org", org.ID)
	}
	name := org.Name
	if name == "" {
		name = slug
	}

	in := UpsertInput{
		NewWorkspaceID: s.newID(),
		OrganizationID: org.ID,
		Name:           name,
		Slug:           slug,
		LogoURL:        org.LogoURL,
		BrandColor:     org.BrandColor,
		Description:    org.Description,
		UserID:         userID,
		SofiaRole:      sourceRole,
		MappedRole:     MapRole(sourceRole),
		Policy:         s.policy,
		Now:            now,
	}

	ws, mem, err := s.repo.UpsertWorkspaceMembership(ctx, in)
	if errors.Is(err, ErrSlugTaken) {
		// Another organization already routes under this slug. New workspaces
		// get an organization-derived suffix instead.
		in.Slug = disambiguate(slug, org.ID)
		ws, mem, err = s.repo.UpsertWorkspaceMembership(ctx, in)
	}
	if err != nil {
		return WorkspaceRole{}, err
	}
	return WorkspaceRole{Workspace: ws, Role: mem.IrisRole, SofiaRole: mem.SofiaRole}, nil
}

func disambiguate(slug, orgID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(orgID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() == 8 {
			break
		}
	}
	if b.Len() == 0 {
		return slug + "-" + uuid.NewString()[:8]
	}
	return slug + "-" + b.String()
}

// ListForUser returns the user's active memberships in active workspaces.
// It does not contact the identity authority.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]WorkspaceRole, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidArgument
	}
	return s.repo.ListActiveForUser(ctx, userID)
}

// GetBySlug returns an active workspace.
func (s *Service) GetBySlug(ctx context.Context, slug string) (Workspace, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return Workspace{}, ErrNotFound
	}
	return s.repo.GetActiveBySlug(ctx, slug)
}

// GetUserRole returns the user's active membership in an active workspace.
func (s *Service) GetUserRole(ctx context.Context, workspaceID, userID string) (Membership, error) {
	if !validID(workspaceID) || strings.TrimSpace(userID) == "" {
		return Membership{}, ErrNotFound
	}
	return s.repo.GetActiveMembership(ctx, workspaceID, userID)
}

// ListMembers returns the active memberships of a workspace.
func (s *Service) ListMembers(ctx context.Context, workspaceID string) ([]Membership, error) {
	if !validID(workspaceID) {
		return nil, ErrNotFound
	}
	return s.repo.ListActiveMembers(ctx, workspaceID)
}

// SetRole overrides the user's local role in a workspace and reports whether
// an active membership was updated. Under PolicyAuthority the next sync
// replaces the override with the mapped source role; under PolicySticky it
// persists until the membership is deactivated.
func (s *Service) SetRole(ctx context.Context, workspaceID, userID string, role Role) (bool, error) {
	if !role.Valid() {
		return false, fmt.Errorf("%w: unknown role %q", ErrInvalidArgument, role)
	}
	if !validID(workspaceID) || strings.TrimSpace(userID) == "" {
		return false, nil
	}

	prev, err := s.repo.SetRole(ctx, workspaceID, userID, role, s.clock().UTC())
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	logger.From(ctx, s.log).Info("workspace role overridden",
		"workspace_id", workspaceID,
		"user_id", userID,
		"from", string(prev),
		"to", string(role),
		"policy", string(s.policy),
	)
	s.audit.LogRoleOverride(ctx, workspaceID, "", userID, string(prev), string(role))
	return true, nil
}

// SetWorkspaceActive activates or deactivates a whole workspace.
func (s *Service) SetWorkspaceActive(ctx context.Context, workspaceID string, active bool) error {
	if !validID(workspaceID) {
		return ErrNotFound
	}
	return s.repo.SetWorkspaceActive(ctx, workspaceID, active, s.clock().UTC())
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
