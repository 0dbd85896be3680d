package identity

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// The identity authority has renamed columns several times. Each canonical
// attribute is read through one fieldRule: sources are tried in order, the
// first present value that canon accepts wins, and fallback applies when no
// source yields one. Rules are data so their precedence can be read and
// tested in one place.
type fieldRule struct {
	sources  []string
	fallback string
	// canon rewrites an accepted value and rejects unusable ones. Nil accepts
	// any non-empty value verbatim.
	canon func(string) (string, bool)
	// unrecognized replaces fallback when a source had a value that canon
	// rejected. Empty means fallback.
	unrecognized string
}

type row map[string]any

const (
	attrID                  = "id"
	attrFirstName           = "first_name"
	attrPaternalSurname     = "paternal_surname"
	attrMaternalSurname     = "maternal_surname"
	attrDisplayName         = "display_name"
	attrUsername            = "username"
	attrEmail               = "email"
	attrPasswordHash        = "password_hash"
	attrCompanyRole         = "company_role"
	attrPermissionLevel     = "permission_level"
	attrStatus              = "status"
	attrIsVerified          = "is_verified"
	attrLastLoginAt         = "last_login_at"
	attrLastActivityAt      = "last_activity_at"
	attrFailedLoginAttempts = "failed_login_attempts"
	attrLockedUntil         = "locked_until"
	attrCreatedAt           = "created_at"
	attrUpdatedAt           = "updated_at"
)

var identityRules = map[string]fieldRule{
	attrID:                  {sources: []string{"id", "user_id"}},
	attrFirstName:           {sources: []string{"first_name", "nombre"}},
	attrPaternalSurname:     {sources: []string{"paternal_surname", "apellido_paterno", "last_name"}},
	attrMaternalSurname:     {sources: []string{"maternal_surname", "apellido_materno"}},
	attrDisplayName:         {sources: []string{"display_name", "full_name"}},
	attrUsername:            {sources: []string{"username", "user_name"}},
	attrEmail:               {sources: []string{"email", "correo"}, canon: lowerEmail},
	attrPasswordHash:        {sources: []string{"password_hash", "encrypted_password"}},
	attrCompanyRole:         {sources: []string{"company_role", "puesto"}},
	attrPermissionLevel:     {sources: []string{"permission_level", "access_level"}, fallback: string(PermissionUser), canon: canonPermission},
	attrStatus:              {sources: []string{"account_status", "status"}, fallback: string(StatusActive), canon: canonStatus, unrecognized: string(StatusInactive)},
	attrIsVerified:          {sources: []string{"is_verified", "email_verified", "verified"}, fallback: "false", canon: canonBool},
	attrLastLoginAt:         {sources: []string{"last_login_at", "last_login"}, canon: canonTime},
	attrLastActivityAt:      {sources: []string{"last_activity_at", "last_activity"}, canon: canonTime},
	attrFailedLoginAttempts: {sources: []string{"failed_login_attempts", "login_attempts"}, fallback: "0", canon: canonInt},
	attrLockedUntil:         {sources: []string{"locked_until", "lockout_until"}, canon: canonTime},
	attrCreatedAt:           {sources: []string{"created_at"}, canon: canonTime},
	attrUpdatedAt:           {sources: []string{"updated_at"}, canon: canonTime},
}

var organizationRules = map[string]fieldRule{
	attrID:        {sources: []string{"id", "organization_id"}},
	"name":        {sources: []string{"name", "nombre"}},
	"slug":        {sources: []string{"slug", "handle"}, canon: canonSlug},
	"logo_url":    {sources: []string{"logo_url", "logo"}},
	"brand_color": {sources: []string{"brand_color", "primary_color", "color"}},
	"description": {sources: []string{"description", "descripcion"}},
}

var membershipRules = map[string]fieldRule{
	"user_id":         {sources: []string{"user_id"}},
	"organization_id": {sources: []string{"organization_id", "org_id"}},
	"role":            {sources: []string{"role", "org_role"}, fallback: "member"},
	attrStatus:        {sources: []string{"status", "membership_status"}, fallback: "active", canon: lowerTrim},
}

var permissionAliases = map[string]PermissionLevel{
	"superadmin":  PermissionSuperAdmin,
	"super-admin": PermissionSuperAdmin,
	"readonly":    PermissionViewer,
	"read_only":   PermissionViewer,
}

var statusAliases = map[string]AccountStatus{
	"enabled":  StatusActive,
	"disabled": StatusInactive,
	"banned":   StatusSuspended,
	"blocked":  StatusSuspended,
	"pending":  StatusPendingVerification,
}

func (r row) resolve(rule fieldRule) string {
	rejected := false
	for _, src := range rule.sources {
		v, ok := r[src]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(stringify(v))
		if s == "" {
			continue
		}
		if rule.canon == nil {
			return s
		}
		if c, ok := rule.canon(s); ok {
			return c
		}
		rejected = true
	}
	if rejected && rule.unrecognized != "" {
		return rule.unrecognized
	}
	return rule.fallback
}

func (r row) get(rules map[string]fieldRule, attr string) string {
	return r.resolve(rules[attr])
}

// normalizeIdentity maps one authority users row to an Identity. It reports
// false only when no identifier can be resolved.
func normalizeIdentity(r row) (Identity, bool) {
	id := r.get(identityRules, attrID)
	if id == "" {
		return Identity{}, false
	}
	failed, _ := strconv.Atoi(r.get(identityRules, attrFailedLoginAttempts))
	return Identity{
		ID:                  id,
		FirstName:           r.get(identityRules, attrFirstName),
		PaternalSurname:     r.get(identityRules, attrPaternalSurname),
		MaternalSurname:     r.get(identityRules, attrMaternalSurname),
		DisplayName:         r.get(identityRules, attrDisplayName),
		Username:            r.get(identityRules, attrUsername),
		Email:               r.get(identityRules, attrEmail),
		PasswordHash:        r.get(identityRules, attrPasswordHash),
		CompanyRole:         r.get(identityRules, attrCompanyRole),
		PermissionLevel:     PermissionLevel(r.get(identityRules, attrPermissionLevel)),
		Status:              AccountStatus(r.get(identityRules, attrStatus)),
		IsVerified:          r.get(identityRules, attrIsVerified) == "true",
		LastLoginAt:         parseTime(r.get(identityRules, attrLastLoginAt)),
		LastActivityAt:      parseTime(r.get(identityRules, attrLastActivityAt)),
		FailedLoginAttempts: failed,
		LockedUntil:         parseTime(r.get(identityRules, attrLockedUntil)),
		CreatedAt:           parseTime(r.get(identityRules, attrCreatedAt)),
		UpdatedAt:           parseTime(r.get(identityRules, attrUpdatedAt)),
	}, true
}

func normalizeOrganization(r row) (Organization, bool) {
	id := r.get(organizationRules, attrID)
	if id == "" {
		return Organization{}, false
	}
	name := r.get(organizationRules, "name")
	slug := r.get(organizationRules, "slug")
	if slug == "" {
		// Routing needs a slug; derive one from the name, then the id.
		if s, ok := canonSlug(name); ok {
			slug = s
		} else {
			slug, _ = canonSlug(id)
		}
	}
	if name == "" {
		name = slug
	}
	return Organization{
		ID:          id,
		Name:        name,
		Slug:        slug,
		LogoURL:     r.get(organizationRules, "logo_url"),
		BrandColor:  r.get(organizationRules, "brand_color"),
		Description: r.get(organizationRules, "description"),
	}, true
}

// normalizeMembership maps an organization_members row with an embedded
// organization. Organization stays nil when the embed is missing or null.
func normalizeMembership(r row) Membership {
	m := Membership{
		UserID:         r.get(membershipRules, "user_id"),
		OrganizationID: r.get(membershipRules, "organization_id"),
		Role:           r.get(membershipRules, "role"),
		Status:         r.get(membershipRules, attrStatus),
	}
	for _, key := range []string{"organization", "organizations"} {
		embedded, ok := r[key].(map[string]any)
		if !ok {
			continue
		}
		if org, ok := normalizeOrganization(row(embedded)); ok {
			m.Organization = &org
			if m.OrganizationID == "" {
				m.OrganizationID = org.ID
			}
		}
		break
	}
	return m
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func lowerTrim(s string) (string, bool) {
	return strings.ToLower(strings.TrimSpace(s)), true
}

func lowerEmail(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	return s, strings.Contains(s, "@")
}

func canonPermission(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if PermissionLevel(s).Valid() {
		return s, true
	}
	if p, ok := permissionAliases[s]; ok {
		return string(p), true
	}
	return "", false
}

func canonStatus(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if AccountStatus(s).Valid() {
		return s, true
	}
	if st, ok := statusAliases[s]; ok {
		return string(st), true
	}
	return "", false
}

func canonBool(s string) (string, bool) {
	switch strings.ToLower(s) {
	case "true", "t", "1", "yes", "y":
		return "true", true
	case "false", "f", "0", "no", "n":
		return "false", true
	default:
		return "", false
	}
}

func canonInt(s string) (string, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return "", false
	}
	return strconv.Itoa(n), true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05",
}

func canonTime(s string) (string, bool) {
	t := parseTime(s)
	if t == nil {
		return "", false
	}
	return t.Format(time.RFC3339Nano), true
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func canonSlug(s string) (string, bool) {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	return out, out != ""
}
