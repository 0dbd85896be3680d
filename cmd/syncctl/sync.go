package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"iris-platform/internal/identity"
	"iris-platform/internal/workspace"
)

type authorityReader interface {
	Enabled() bool
	FindByEmailOrUsername(ctx context.Context, value string) (identity.Identity, error)
	FindByID(ctx context.Context, id string) (identity.Identity, error)
	FetchMemberships(ctx context.Context, userID string) ([]identity.Membership, error)
}

type workspaceSyncer interface {
	SyncFromAuthority(ctx context.Context, userID string, memberships []identity.Membership) ([]workspace.WorkspaceRole, error)
	SetWorkspaceActive(ctx context.Context, workspaceID string, active bool) error
}

type syncer struct {
	authority  authorityReader
	workspaces workspaceSyncer
	out        io.Writer
}

func (s syncer) syncUser(ctx context.Context, user string, dryRun bool) error {
	if !s.authority.Enabled() {
		return errors.New("identity authority is not configured (IDENTITY_AUTHORITY_URL)")
	}
	ident, err := s.resolve(ctx, user)
	if err != nil {
		return err
	}
	ms, err := s.authority.FetchMemberships(ctx, ident.ID)
	if err != nil {
		return fmt.Errorf("fetch memberships for %s: %w", ident.ID, err)
	}

	if dryRun {
		fmt.Fprintf(s.out, "user %s (%s): %d memberships at the authority\n", ident.ID, ident.Email, len(ms))
		tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ORG\tSLUG\tSOURCE ROLE\tMAPPED ROLE\tSTATUS")
		for _, m := range ms {
			slug := "-"
			if m.Resolved() {
				slug = m.Organization.Slug
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.OrganizationID, slug, m.Role, workspace.MapRole(m.Role), m.Status)
		}
		return tw.Flush()
	}

	out, err := s.workspaces.SyncFromAuthority(ctx, ident.ID, ms)
	if err != nil {
		return fmt.Errorf("sync %s: %w", ident.ID, err)
	}
	fmt.Fprintf(s.out, "user %s (%s): %d active workspaces\n", ident.ID, ident.Email, len(out))
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKSPACE\tSLUG\tROLE\tSOURCE ROLE")
	for _, wr := range out {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", wr.Workspace.ID, wr.Workspace.Slug, wr.Role, wr.SofiaRole)
	}
	return tw.Flush()
}

// resolve treats anything with an @ as an email, otherwise tries the id and
// then the username.
func (s syncer) resolve(ctx context.Context, user string) (identity.Identity, error) {
	user = strings.TrimSpace(user)
	if strings.Contains(user, "@") {
		return s.found(user, func() (identity.Identity, error) { return s.authority.FindByEmailOrUsername(ctx, user) })
	}
	ident, err := s.authority.FindByID(ctx, user)
	if errors.Is(err, identity.ErrNotFound) {
		return s.found(user, func() (identity.Identity, error) { return s.authority.FindByEmailOrUsername(ctx, user) })
	}
	return ident, err
}

func (s syncer) found(user string, find func() (identity.Identity, error)) (identity.Identity, error) {
	ident, err := find()
	if errors.Is(err, identity.ErrNotFound) {
		return identity.Identity{}, fmt.Errorf("user %q not found at the identity authority", user)
	}
	return ident, err
}

func (s syncer) setActive(ctx context.Context, workspaceID string, active bool) error {
	if err := s.workspaces.SetWorkspaceActive(ctx, workspaceID, active); err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			return fmt.Errorf("workspace %q not found", workspaceID)
		}
		return err
	}
	state := "deactivated"
	if active {
		state = "activated"
	}
	fmt.Fprintf(s.out, "workspace %s %s\n", workspaceID, state)
	return nil
}
