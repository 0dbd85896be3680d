package identity

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRow(t *testing.T, s string) row {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var r row
	require.NoError(t, dec.Decode(&r))
	return r
}

func TestNormalizeIdentity_PrefersIDOverUserID(t *testing.T) {
	ident, ok := normalizeIdentity(decodeRow(t, `{"id":"u1","user_id":"legacy","email":"A@B.com"}`))
	require.True(t, ok)
	assert.Equal(t, "u1", ident.ID)
	assert.Equal(t, "a@b.com", ident.Email)
}

func TestNormalizeIdentity_FallsBackToUserIDAndNumericIDs(t *testing.T) {
	ident, ok := normalizeIdentity(decodeRow(t, `{"user_id":1234567890123}`))
	require.True(t, ok)
	assert.Equal(t, "1234567890123", ident.ID)
}

func TestNormalizeIdentity_MissingIdentifier(t *testing.T) {
	_, ok := normalizeIdentity(decodeRow(t, `{"email":"a@b.com"}`))
	assert.False(t, ok)
}

func TestNormalizeIdentity_DefaultsAreTotal(t *testing.T) {
	ident, ok := normalizeIdentity(decodeRow(t, `{"id":"u1"}`))
	require.True(t, ok)
	assert.Equal(t, PermissionUser, ident.PermissionLevel)
	assert.Equal(t, StatusActive, ident.Status)
	assert.False(t, ident.IsVerified)
	assert.Equal(t, 0, ident.FailedLoginAttempts)
	assert.Nil(t, ident.LockedUntil)
}

func TestNormalizeIdentity_StatusPrecedence(t *testing.T) {
	cases := []struct {
		name string
		json string
		want AccountStatus
	}{
		{"specific wins", `{"id":"u","account_status":"suspended","status":"active"}`, StatusSuspended},
		{"generic fallback", `{"id":"u","status":"inactive"}`, StatusInactive},
		{"invalid specific falls through", `{"id":"u","account_status":"???","status":"deleted"}`, StatusDeleted},
		{"generic alias", `{"id":"u","status":"disabled"}`, StatusInactive},
		{"hard default when absent", `{"id":"u"}`, StatusActive},
		{"blank is absent", `{"id":"u","status":"  "}`, StatusActive},
		{"unknown generic is not loginable", `{"id":"u","status":"unknown-value"}`, StatusInactive},
		{"unknown specific is not loginable", `{"id":"u","account_status":"archived"}`, StatusInactive},
		{"case-insensitive", `{"id":"u","account_status":"PENDING_VERIFICATION"}`, StatusPendingVerification},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ident, ok := normalizeIdentity(decodeRow(t, tc.json))
			require.True(t, ok)
			assert.Equal(t, tc.want, ident.Status)
		})
	}
}

func TestNormalizeIdentity_LegacyFields(t *testing.T) {
	ident, ok := normalizeIdentity(decodeRow(t, `{
		"user_id": "u9",
		"nombre": "Ana",
		"apellido_paterno": "Lopez",
		"access_level": "SuperAdmin",
		"email_verified": "t",
		"login_attempts": "3",
		"lockout_until": "2030-01-02T03:04:05Z",
		"last_login": "2024-05-06 07:08:09"
	}`))
	require.True(t, ok)
	assert.Equal(t, "Ana", ident.FirstName)
	assert.Equal(t, "Lopez", ident.PaternalSurname)
	assert.Equal(t, "Ana Lopez", ident.Name())
	assert.Equal(t, PermissionSuperAdmin, ident.PermissionLevel)
	assert.True(t, ident.IsVerified)
	assert.Equal(t, 3, ident.FailedLoginAttempts)
	require.NotNil(t, ident.LockedUntil)
	assert.Equal(t, 2030, ident.LockedUntil.Year())
	require.NotNil(t, ident.LastLoginAt)
	assert.Equal(t, 7, ident.LastLoginAt.Hour())
}

func TestNormalizeOrganization_DerivesSlug(t *testing.T) {
	org, ok := normalizeOrganization(decodeRow(t, `{"id":"org1","name":"Acme Corp, Inc."}`))
	require.True(t, ok)
	assert.Equal(t, "acme-corp-inc", org.Slug)

	org, ok = normalizeOrganization(decodeRow(t, `{"id":"org2","slug":"Given"}`))
	require.True(t, ok)
	assert.Equal(t, "given", org.Slug)
	assert.Equal(t, "given", org.Name)
}

func TestNormalizeMembership_EmbeddedOrganization(t *testing.T) {
	m := normalizeMembership(decodeRow(t, `{"user_id":"u1","org_id":"org1","role":"owner","organization":{"id":"org1","name":"Org","primary_color":"#fff"}}`))
	assert.True(t, m.Resolved())
	assert.Equal(t, "org1", m.OrganizationID)
	assert.Equal(t, "#fff", m.Organization.BrandColor)
	assert.Equal(t, "active", m.Status)

	dangling := normalizeMembership(decodeRow(t, `{"user_id":"u1","organization_id":"gone","role":"member","status":"Removed","organization":null}`))
	assert.False(t, dangling.Resolved())
	assert.True(t, dangling.Removed())
}

func TestIdentityNameAndRole(t *testing.T) {
	assert.Equal(t, "Display", Identity{DisplayName: "Display", FirstName: "A"}.Name())
	assert.Equal(t, "user", Identity{}.Role())
	assert.Equal(t, "cto", Identity{CompanyRole: "cto"}.Role())
}

func TestPermissionLevelOrdering(t *testing.T) {
	assert.True(t, PermissionSuperAdmin.AtLeast(PermissionAdmin))
	assert.True(t, PermissionUser.AtLeast(PermissionUser))
	assert.False(t, PermissionViewer.AtLeast(PermissionUser))
	assert.False(t, PermissionLevel("root").AtLeast(PermissionGuest))
}
