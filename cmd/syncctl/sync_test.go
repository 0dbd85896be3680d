package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"iris-platform/internal/identity"
	"iris-platform/internal/workspace"
	"iris-platform/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuthority struct {
	disabled bool
	user     identity.Identity
	ms       []identity.Membership
	fetchErr error
}

func (f fakeAuthority) Enabled() bool { return !f.disabled }

func (f fakeAuthority) FindByEmailOrUsername(_ context.Context, v string) (identity.Identity, error) {
	if v == f.user.Email || v == f.user.Username {
		return f.user, nil
	}
	return identity.Identity{}, identity.ErrNotFound
}

func (f fakeAuthority) FindByID(_ context.Context, id string) (identity.Identity, error) {
	if id == f.user.ID {
		return f.user, nil
	}
	return identity.Identity{}, identity.ErrNotFound
}

func (f fakeAuthority) FetchMemberships(context.Context, string) ([]identity.Membership, error) {
	return f.ms, f.fetchErr
}

func newSyncer(a fakeAuthority) (syncer, *workspace.MemoryRepo, *bytes.Buffer) {
	repo := workspace.NewMemoryRepo()
	var out bytes.Buffer
	return syncer{
		authority:  a,
		workspaces: workspace.NewService(repo, workspace.PolicyAuthority, nil, logger.Discard()),
		out:        &out,
	}, repo, &out
}

func authority() fakeAuthority {
	return fakeAuthority{
		user: identity.Identity{ID: "u1", Email: "ana@acme.io", Username: "ana"},
		ms: []identity.Membership{{
			UserID: "u1", OrganizationID: "org1", Role: "Admin", Status: "active",
			Organization: &identity.Organization{ID: "org1", Name: "Acme", Slug: "acme"},
		}},
	}
}

func TestParseFlags(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"user", []string{"--user", "u1"}, false},
		{"user dry run", []string{"-u", "u1", "--dry-run"}, false},
		{"deactivate", []string{"--deactivate-workspace", "w1"}, false},
		{"nothing", nil, true},
		{"two actions", []string{"--user", "u1", "--activate-workspace", "w1"}, true},
		{"dry run without user", []string{"--deactivate-workspace", "w1", "--dry-run"}, true},
		{"positional", []string{"--user", "u1", "extra"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseFlags(tc.args, io.Discard)
			assert.Equal(t, tc.wantErr, err != nil, "err=%v", err)
		})
	}
}

func TestSyncUser_DryRunWritesNothing(t *testing.T) {
	s, repo, out := newSyncer(authority())

	require.NoError(t, s.syncUser(context.Background(), "ana@acme.io", true))
	assert.Contains(t, out.String(), "acme")
	assert.Contains(t, out.String(), "admin")

	ws, err := repo.ListActiveForUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, ws)
}

func TestSyncUser_ResolvesByIDOrUsername(t *testing.T) {
	for _, user := range []string{"u1", "ana", "ana@acme.io"} {
		s, repo, _ := newSyncer(authority())
		require.NoError(t, s.syncUser(context.Background(), user, false), user)

		ws, err := repo.ListActiveForUser(context.Background(), "u1")
		require.NoError(t, err)
		require.Len(t, ws, 1, user)
		assert.Equal(t, workspace.RoleAdmin, ws[0].Role)
	}
}

func TestSyncUser_Errors(t *testing.T) {
	a := authority()
	a.disabled = true
	s, _, _ := newSyncer(a)
	assert.Error(t, s.syncUser(context.Background(), "u1", false))

	s, _, _ = newSyncer(authority())
	assert.ErrorContains(t, s.syncUser(context.Background(), "nobody@acme.io", false), "not found")

	a = authority()
	a.fetchErr = errors.New("boom")
	s, _, _ = newSyncer(a)
	assert.ErrorContains(t, s.syncUser(context.Background(), "u1", false), "fetch memberships")
}

func TestSetActive(t *testing.T) {
	s, repo, out := newSyncer(authority())
	require.NoError(t, s.syncUser(context.Background(), "u1", false))
	ws, err := repo.ListActiveForUser(context.Background(), "u1")
	require.NoError(t, err)
	wid := ws[0].Workspace.ID

	require.NoError(t, s.setActive(context.Background(), wid, false))
	assert.Contains(t, out.String(), "deactivated")
	ws, err = repo.ListActiveForUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, ws)

	require.NoError(t, s.setActive(context.Background(), wid, true))
	ws, err = repo.ListActiveForUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, ws, 1)

	assert.ErrorContains(t, s.setActive(context.Background(), "not-a-uuid", false), "not found")
}
