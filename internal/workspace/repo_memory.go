package workspace

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memberKey struct {
	workspaceID string
	userID      string
}

// MemoryRepo is an in-memory Repository with the same uniqueness rules as the
// Postgres schema (one workspace per organization, unique slugs, one
// membership per workspace and user). Service-level tests run against it.
type MemoryRepo struct {
	mu         sync.Mutex
	workspaces map[string]*Workspace
	byOrg      map[string]string
	bySlug     map[string]string
	members    map[memberKey]*Membership
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		workspaces: map[string]*Workspace{},
		byOrg:      map[string]string{},
		bySlug:     map[string]string{},
		members:    map[memberKey]*Membership{},
	}
}

func (r *MemoryRepo) UpsertWorkspaceMembership(_ context.Context, in UpsertInput) (Workspace, Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ws *Workspace
	if id, ok := r.byOrg[in.OrganizationID]; ok {
		ws = r.workspaces[id]
		changed := !ws.IsActive || ws.Name != in.Name
		changed = refresh(&ws.LogoURL, in.LogoURL) || changed
		changed = refresh(&ws.BrandColor, in.BrandColor) || changed
		changed = refresh(&ws.Description, in.Description) || changed
		ws.Name = in.Name
		ws.IsActive = true
		if changed {
			ws.UpdatedAt = in.Now
		}
	} else {
		if _, taken := r.bySlug[in.Slug]; taken {
			return Workspace{}, Membership{}, fmt.Errorf("%w: %q", ErrSlugTaken, in.Slug)
		}
		ws = &Workspace{
			ID:             in.NewWorkspaceID,
			OrganizationID: in.OrganizationID,
			Name:           in.Name,
			Slug:           in.Slug,
			LogoURL:        in.LogoURL,
			BrandColor:     in.BrandColor,
			Description:    in.Description,
			IsActive:       true,
			Settings:       map[string]any{},
			CreatedAt:      in.Now,
			UpdatedAt:      in.Now,
		}
		r.workspaces[ws.ID] = ws
		r.byOrg[ws.OrganizationID] = ws.ID
		r.bySlug[ws.Slug] = ws.ID
	}

	key := memberKey{ws.ID, in.UserID}
	m, ok := r.members[key]
	if !ok {
		m = &Membership{
			WorkspaceID: ws.ID,
			UserID:      in.UserID,
			SofiaRole:   in.SofiaRole,
			IrisRole:    in.MappedRole,
			IsActive:    true,
			JoinedAt:    in.Now,
			UpdatedAt:   in.Now,
		}
		r.members[key] = m
	} else {
		keep := in.Policy == PolicySticky && m.RoleOverridden && m.IsActive
		role := in.MappedRole
		if keep {
			role = m.IrisRole
		}
		changed := m.SofiaRole != in.SofiaRole || !m.IsActive || m.IrisRole != role || m.RoleOverridden != keep
		m.SofiaRole = in.SofiaRole
		m.IrisRole = role
		m.RoleOverridden = keep
		m.IsActive = true
		if changed {
			m.UpdatedAt = in.Now
		}
	}
	return copyWorkspace(ws), *m, nil
}

// refresh overwrites dst with a non-empty src and reports a change.
func refresh(dst *string, src string) bool {
	if src == "" || *dst == src {
		return false
	}
	*dst = src
	return true
}

func (r *MemoryRepo) DeactivateMembershipsExcept(_ context.Context, userID string, keepOrgIDs []string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keep := make(map[string]struct{}, len(keepOrgIDs))
	for _, id := range keepOrgIDs {
		keep[id] = struct{}{}
	}
	var n int64
	for key, m := range r.members {
		if key.userID != userID || !m.IsActive {
			continue
		}
		if _, ok := keep[r.workspaces[key.workspaceID].OrganizationID]; ok {
			continue
		}
		m.IsActive = false
		m.RoleOverridden = false
		m.UpdatedAt = now
		n++
	}
	return n, nil
}

func (r *MemoryRepo) ListActiveForUser(_ context.Context, userID string) ([]WorkspaceRole, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []WorkspaceRole{}
	for key, m := range r.members {
		if key.userID != userID || !m.IsActive {
			continue
		}
		ws := r.workspaces[key.workspaceID]
		if !ws.IsActive {
			continue
		}
		out = append(out, WorkspaceRole{Workspace: copyWorkspace(ws), Role: m.IrisRole, SofiaRole: m.SofiaRole})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Workspace.Name != out[j].Workspace.Name {
			return out[i].Workspace.Name < out[j].Workspace.Name
		}
		return out[i].Workspace.ID < out[j].Workspace.ID
	})
	return out, nil
}

func (r *MemoryRepo) GetActiveBySlug(_ context.Context, slug string) (Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.bySlug[slug]
	if !ok || !r.workspaces[id].IsActive {
		return Workspace{}, ErrNotFound
	}
	return copyWorkspace(r.workspaces[id]), nil
}

func (r *MemoryRepo) GetActiveMembership(_ context.Context, workspaceID, userID string) (Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[memberKey{workspaceID, userID}]
	if !ok || !m.IsActive || !r.workspaces[workspaceID].IsActive {
		return Membership{}, ErrNotFound
	}
	return *m, nil
}

func (r *MemoryRepo) ListActiveMembers(_ context.Context, workspaceID string) ([]Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []Membership{}
	for key, m := range r.members {
		if key.workspaceID == workspaceID && m.IsActive {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (r *MemoryRepo) SetRole(_ context.Context, workspaceID, userID string, role Role, now time.Time) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[memberKey{workspaceID, userID}]
	if !ok || !m.IsActive {
		return "", ErrNotFound
	}
	prev := m.IrisRole
	m.IrisRole = role
	m.RoleOverridden = true
	m.UpdatedAt = now
	return prev, nil
}

func (r *MemoryRepo) SetWorkspaceActive(_ context.Context, workspaceID string, active bool, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws, ok := r.workspaces[workspaceID]
	if !ok {
		return ErrNotFound
	}
	if ws.IsActive != active {
		ws.IsActive = active
		ws.UpdatedAt = now
	}
	return nil
}

func copyWorkspace(w *Workspace) Workspace {
	out := *w
	out.Settings = make(map[string]any, len(w.Settings))
	for k, v := range w.Settings {
		out.Settings[k] = v
	}
	return out
}
