package workspace

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"iris-platform/internal/audit"
	"iris-platform/internal/identity"
	"iris-platform/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func member(orgID, role string) identity.Membership {
	return identity.Membership{
		UserID:         "u1",
		OrganizationID: orgID,
		Role:           role,
		Status:         "active",
		Organization:   &identity.Organization{ID: orgID, Name: "Org " + orgID, Slug: orgID},
	}
}

type fixture struct {
	svc   *Service
	repo  *MemoryRepo
	audit *audit.MemoryRepo
	now   time.Time
}

func newFixture(t *testing.T, policy RolePolicy) *fixture {
	t.Helper()
	f := &fixture{repo: NewMemoryRepo(), audit: audit.NewMemoryRepo(), now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
	f.svc = NewService(f.repo, policy, audit.NewService(f.audit, logger.Discard()), logger.Discard())
	f.svc.clock = func() time.Time { return f.now }
	return f
}

func (f *fixture) sync(t *testing.T, ms ...identity.Membership) []WorkspaceRole {
	t.Helper()
	out, err := f.svc.SyncFromAuthority(context.Background(), "u1", ms)
	require.NoError(t, err)
	return out
}

func (f *fixture) activeOrgs(t *testing.T) []string {
	t.Helper()
	list, err := f.svc.ListForUser(context.Background(), "u1")
	require.NoError(t, err)
	var orgs []string
	for _, wr := range list {
		orgs = append(orgs, wr.Workspace.OrganizationID)
	}
	return orgs
}

func TestMapRole_IsTotal(t *testing.T) {
	cases := map[string]Role{
		"owner":          RoleOwner,
		"admin":          RoleAdmin,
		"member":         RoleMember,
		"":               RoleMember,
		"chief-wizard":   RoleMember,
		"  Owner ":       RoleOwner,
		"manager":        RoleMember,
		"billing_admin":  RoleMember,
	}
	for in, want := range cases {
		got := MapRole(in)
		assert.Equal(t, want, got, "MapRole(%q)", in)
		assert.True(t, got.Valid())
	}
}

func TestSync_LoginScenario(t *testing.T) {
	f := newFixture(t, PolicyAuthority)

	out := f.sync(t, member("org1", "owner"))
	require.Len(t, out, 1)
	assert.Equal(t, "org1", out[0].Workspace.OrganizationID)
	assert.Equal(t, RoleOwner, out[0].Role)
	assert.Equal(t, "owner", out[0].SofiaRole)
	assert.True(t, out[0].Workspace.IsActive)

	m, err := f.svc.GetUserRole(context.Background(), out[0].Workspace.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, RoleOwner, m.IrisRole)
}

func TestSync_IsIdempotent(t *testing.T) {
	f := newFixture(t, PolicyAuthority)
	input := []identity.Membership{member("org1", "owner"), member("org2", "member")}

	first := f.sync(t, input...)
	f.now = f.now.Add(time.Hour)
	second := f.sync(t, input...)

	assert.Equal(t, first, second)
	assert.Len(t, f.repo.workspaces, 2)
	assert.Len(t, f.repo.members, 2)

	list, err := f.svc.ListForUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, wr := range list {
		assert.Equal(t, time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC), wr.Workspace.UpdatedAt)
	}
}

func TestSync_ConcurrentPassesDoNotDuplicate(t *testing.T) {
	f := newFixture(t, PolicyAuthority)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.SyncFromAuthority(context.Background(), "u1", []identity.Membership{member("org1", "admin")})
		}()
	}
	wg.Wait()

	assert.Len(t, f.repo.workspaces, 1)
	assert.Len(t, f.repo.members, 1)
}

func TestSync_SkipsDanglingWithoutFailing(t *testing.T) {
	f := newFixture(t, PolicyAuthority)
	dangling := member("org2", "admin")
	dangling.Organization = nil

	out := f.sync(t, member("org1", "owner"), dangling, member("org3", "member"))
	require.Len(t, out, 2)
	assert.Equal(t, "org1", out[0].Workspace.OrganizationID)
	assert.Equal(t, "org3", out[1].Workspace.OrganizationID)
}

type flakyRepo struct {
	Repository
	failOrg string
}

func (r flakyRepo) UpsertWorkspaceMembership(ctx context.Context, in UpsertInput) (Workspace, Membership, error) {
	if in.OrganizationID == r.failOrg {
		return Workspace{}, Membership{}, errors.New("connection reset")
	}
	return r.Repository.UpsertWorkspaceMembership(ctx, in)
}

func TestSync_ItemFailureIsIsolatedAndKeepsExistingAccess(t *testing.T) {
	f := newFixture(t, PolicyAuthority)
	f.sync(t, member("org1", "owner"), member("org2", "admin"), member("org3", "member"))

	f.svc.repo = flakyRepo{Repository: f.repo, failOrg: "org2"}
	out := f.sync(t, member("org1", "owner"), member("org2", "admin"), member("org3", "member"))

	require.Len(t, out, 2)
	assert.Equal(t, "org1", out[0].Workspace.OrganizationID)
	assert.Equal(t, "org3", out[1].Workspace.OrganizationID)
	assert.ElementsMatch(t, []string{"org1", "org2", "org3"}, f.activeOrgs(t))

	failures := f.audit.OfType(audit.EventTypeSyncItemFailed)
	require.Len(t, failures, 1)
	assert.Equal(t, "org2", failures[0].OrganizationID)
	assert.Equal(t, "u1", failures[0].SubjectUserID)
}

func TestSync_RemovedAndAbsentMembershipsAreDeactivated(t *testing.T) {
	f := newFixture(t, PolicyAuthority)
	f.sync(t, member("org1", "owner"), member("org2", "admin"), member("org3", "member"))

	removed := member("org2", "admin")
	removed.Status = "removed"
	out := f.sync(t, member("org1", "owner"), removed)

	require.Len(t, out, 1)
	assert.Equal(t, []string{"org1"}, f.activeOrgs(t))

	// A membership that comes back is reactivated.
	f.sync(t, member("org1", "owner"), member("org2", "member"))
	assert.ElementsMatch(t, []string{"org1", "org2"}, f.activeOrgs(t))

	// An empty input deactivates everything.
	f.sync(t)
	assert.Empty(t, f.activeOrgs(t))
}

func TestSync_RefreshesDescriptiveFieldsButNotSlug(t *testing.T) {
	f := newFixture(t, PolicyAuthority)
	m := member("org1", "owner")
	m.Organization.LogoURL = "https://cdn/logo.png"
	m.Organization.BrandColor = "#112233"
	first := f.sync(t, m)

	m2 := member("org1", "owner")
	m2.Organization.Name = "Renamed"
	m2.Organization.Slug = "renamed"
	m2.Organization.BrandColor = "#445566"
	f.now = f.now.Add(time.Minute)
	second := f.sync(t, m2)

	require.Len(t, second, 1)
	ws := second[0].Workspace
	assert.Equal(t, first[0].Workspace.ID, ws.ID)
	assert.Equal(t, "org1", ws.Slug)
	assert.Equal(t, "Renamed", ws.Name)
	assert.Equal(t, "https://cdn/logo.png", ws.LogoURL)
	assert.Equal(t, "#445566", ws.BrandColor)
	assert.Equal(t, f.now, ws.UpdatedAt)
}

func TestSync_SlugCollisionGetsSuffix(t *testing.T) {
	f := newFixture(t, PolicyAuthority)
	a := member("org-a", "owner")
	a.Organization.Slug = "acme"
	b := member("org-b", "owner")
	b.Organization.Slug = "acme"

	out := f.sync(t, a, b)
	require.Len(t, out, 2)
	assert.Equal(t, "acme", out[0].Workspace.Slug)
	assert.Equal(t, "acme-orgb", out[1].Workspace.Slug)
}

func TestSetRole_AuthorityPolicyIsOverwrittenBySync(t *testing.T) {
	f := newFixture(t, PolicyAuthority)
	ws := f.sync(t, member("org1", "member"))[0].Workspace

	ctx := audit.WithActor(context.Background(), "admin-1")
	ok, err := f.svc.SetRole(ctx, ws.ID, "u1", RoleLeader)
	require.NoError(t, err)
	require.True(t, ok)

	m, err := f.svc.GetUserRole(context.Background(), ws.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, RoleLeader, m.IrisRole)
	assert.True(t, m.RoleOverridden)

	overrides := f.audit.OfType(audit.EventTypeRoleOverride)
	require.Len(t, overrides, 1)
	assert.Equal(t, "admin-1", overrides[0].ActorUserID)
	assert.Equal(t, ws.ID, overrides[0].WorkspaceID)

	out := f.sync(t, member("org1", "member"))
	assert.Equal(t, RoleMember, out[0].Role)
	m, _ = f.svc.GetUserRole(context.Background(), ws.ID, "u1")
	assert.False(t, m.RoleOverridden)
}

func TestSetRole_StickyPolicySurvivesSync(t *testing.T) {
	f := newFixture(t, PolicySticky)
	ws := f.sync(t, member("org1", "member"))[0].Workspace

	ok, err := f.svc.SetRole(context.Background(), ws.ID, "u1", RoleManager)
	require.NoError(t, err)
	require.True(t, ok)

	out := f.sync(t, member("org1", "admin"))
	require.Len(t, out, 1)
	assert.Equal(t, RoleManager, out[0].Role)
	assert.Equal(t, "admin", out[0].SofiaRole)
}

func TestSetRole_StickyOverrideEndsWithMembership(t *testing.T) {
	f := newFixture(t, PolicySticky)
	ws := f.sync(t, member("org1", "member"))[0].Workspace

	ok, err := f.svc.SetRole(context.Background(), ws.ID, "u1", RoleAdmin)
	require.NoError(t, err)
	require.True(t, ok)

	// Removed from the organization, then invited back.
	assert.Empty(t, f.sync(t))
	out := f.sync(t, member("org1", "member"))
	require.Len(t, out, 1)
	assert.Equal(t, RoleMember, out[0].Role)

	m, err := f.svc.GetUserRole(context.Background(), ws.ID, "u1")
	require.NoError(t, err)
	assert.False(t, m.RoleOverridden)
}

func TestSetRole_Validation(t *testing.T) {
	f := newFixture(t, PolicyAuthority)
	ws := f.sync(t, member("org1", "member"))[0].Workspace

	_, err := f.svc.SetRole(context.Background(), ws.ID, "u1", Role("emperor"))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	ok, err := f.svc.SetRole(context.Background(), ws.ID, "stranger", RoleAdmin)
	assert.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.SetRole(context.Background(), "not-a-uuid", "u1", RoleAdmin)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestReads_ExcludeDeactivatedWorkspaces(t *testing.T) {
	f := newFixture(t, PolicyAuthority)
	ws := f.sync(t, member("org1", "owner"), member("org2", "member"))[0].Workspace
	ctx := context.Background()

	got, err := f.svc.GetBySlug(ctx, "ORG1")
	require.NoError(t, err)
	assert.Equal(t, ws.ID, got.ID)

	require.NoError(t, f.svc.SetWorkspaceActive(ctx, ws.ID, false))

	_, err = f.svc.GetBySlug(ctx, "org1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.GetUserRole(ctx, ws.ID, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"org2"}, f.activeOrgs(t))

	assert.ErrorIs(t, f.svc.SetWorkspaceActive(ctx, "00000000-0000-0000-0000-000000000000", false), ErrNotFound)
}

func TestListMembers(t *testing.T) {
	f := newFixture(t, PolicyAuthority)
	ws := f.sync(t, member("org1", "owner"))[0].Workspace

	other := member("org1", "member")
	_, err := f.svc.SyncFromAuthority(context.Background(), "u2", []identity.Membership{other})
	require.NoError(t, err)

	members, err := f.svc.ListMembers(context.Background(), ws.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "u1", members[0].UserID)
	assert.Equal(t, "u2", members[1].UserID)
	assert.Equal(t, RoleMember, members[1].IrisRole)
}

func TestSync_RequiresUser(t *testing.T) {
	f := newFixture(t, PolicyAuthority)
	_, err := f.svc.SyncFromAuthority(context.Background(), " ", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestParseRolePolicy(t *testing.T) {
	p, err := ParseRolePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyAuthority, p)
	p, err = ParseRolePolicy("sticky")
	require.NoError(t, err)
	assert.Equal(t, PolicySticky, p)
	_, err = ParseRolePolicy("sometimes")
	assert.Error(t, err)
}
