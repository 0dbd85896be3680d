package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"iris-platform/internal/config"
	"iris-platform/pkg/logger"
	"iris-platform/pkg/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNotFound is returned for unknown users, including every lookup made
	// while the adapter is disabled.
	ErrNotFound = errors.New("identity: not found")
	// ErrUnavailable wraps transport and authority-side failures so callers can
	// tell "no such user" apart from "could not check".
	ErrUnavailable = errors.New("identity: authority unavailable")
)

const (
	restPrefix       = "/rest/v1"
	usersTable       = "users"
	membershipsTable = "organization_members"
	maxErrorBody     = 512
)

// Client reads identity and membership records from the identity authority's
// REST interface (PostgREST dialect). A Client built from an empty
// configuration is disabled: lookups return ErrNotFound, membership fetches
// return nothing and RecordLogin does nothing.
type Client struct {
	baseURL string
	key     string
	userKey string
	http    *http.Client
	log     *slog.Logger
	tracer  trace.Tracer
	clock   func() time.Time

	// Concurrent logins for the same user share one membership fetch.
	flights singleflight.Group
}

// NewClient validates cfg and builds a Client. Malformed configuration is a
// startup error; absent configuration yields a disabled Client.
func NewClient(cfg config.AuthorityConfig, log *slog.Logger) (*Client, error) {
	c := &Client{
		log:    logger.OrDefault(log).With("component", "identity_authority"),
		tracer: otel.Tracer("iris-platform/internal/identity"),
		clock:  time.Now,
	}
	if cfg.BaseURL == "" {
		if cfg.AccessKey != "" {
			return nil, errors.New("identity: access key set without base URL")
		}
		c.log.Warn("identity authority not configured; adapter disabled")
		return c, nil
	}

	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("identity: invalid base URL %q", cfg.BaseURL)
	}
	if cfg.AccessKey == "" {
		return nil, errors.New("identity: access key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	userKey := cfg.UserKeyColumn
	if userKey == "" {
		userKey = "id"
	}

	c.baseURL = strings.TrimRight(u.String(), "/")
	c.key = cfg.AccessKey
	c.userKey = userKey
	c.http = &http.Client{Timeout: timeout}
	return c, nil
}

// Enabled reports whether the identity authority is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// FindByEmailOrUsername matches value case-insensitively against email or username.
func (c *Client) FindByEmailOrUsername(ctx context.Context, value string) (Identity, error) {
	value = strings.TrimSpace(value)
	if !c.Enabled() || value == "" || strings.ContainsAny(value, "*") {
		return Identity{}, ErrNotFound
	}
	lit := quoteFilterValue(likeLiteral(value))

	q := url.Values{}
	q.Set("select", "*")
	q.Set("or", fmt.Sprintf("(email.ilike.%s,username.ilike.%s)", lit, lit))
	q.Set("limit", "1")
	return c.findIdentity(ctx, "find_by_login", q)
}

// FindByID looks an identity up by its identifier.
func (c *Client) FindByID(ctx context.Context, id string) (Identity, error) {
	id = strings.TrimSpace(id)
	if !c.Enabled() || id == "" {
		return Identity{}, ErrNotFound
	}
	q := url.Values{}
	q.Set("select", "*")
	q.Set(c.userKey, "eq."+id)
	q.Set("limit", "1")
	return c.findIdentity(ctx, "find_by_id", q)
}

func (c *Client) findIdentity(ctx context.Context, op string, q url.Values) (Identity, error) {
	var rows []row
	if err := c.do(ctx, op, http.MethodGet, usersTable, q, nil, &rows); err != nil {
		return Identity{}, err
	}
	for _, r := range rows {
		if ident, ok := normalizeIdentity(r); ok {
			return ident, nil
		}
		c.log.Warn("authority user row has no identifier", "operation", op)
	}
	return Identity{}, ErrNotFound
}

// FetchMemberships returns the user's memberships joined with their
// organizations. Memberships whose organization does not resolve are dropped.
func (c *Client) FetchMemberships(ctx context.Context, userID string) ([]Membership, error) {
	userID = strings.TrimSpace(userID)
	if !c.Enabled() || userID == "" {
		return nil, nil
	}

	ch := c.flights.DoChan(userID, func() (any, error) {
		// The shared fetch must not die with whichever caller started it.
		return c.fetchMemberships(context.WithoutCancel(ctx), userID)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		shared := res.Val.([]Membership)
		out := make([]Membership, len(shared))
		copy(out, shared)
		return out, nil
	}
}

func (c *Client) fetchMemberships(ctx context.Context, userID string) ([]Membership, error) {
	q := url.Values{}
	q.Set("select", "*,organization:organizations(*)")
	q.Set("user_id", "eq."+userID)

	var rows []row
	if err := c.do(ctx, "fetch_memberships", http.MethodGet, membershipsTable, q, nil, &rows); err != nil {
		return nil, err
	}

	out := make([]Membership, 0, len(rows))
	dangling := 0
	for _, r := range rows {
		m := normalizeMembership(r)
		if !m.Resolved() {
			dangling++
			continue
		}
		if m.UserID == "" {
			m.UserID = userID
		}
		out = append(out, m)
	}
	if dangling > 0 {
		c.log.Debug("dropped memberships with unresolved organization", "user_id", userID, "count", dangling)
	}
	return out, nil
}

// RecordLogin stamps last-login and last-activity. It is best-effort: failures
// are logged and never returned.
func (c *Client) RecordLogin(ctx context.Context, userID string) {
	userID = strings.TrimSpace(userID)
	if !c.Enabled() || userID == "" {
		return
	}
	now := c.clock().UTC().Format(time.RFC3339Nano)
	body := map[string]string{"last_login_at": now, "last_activity_at": now}

	q := url.Values{}
	q.Set(c.userKey, "eq."+userID)
	if err := c.do(ctx, "record_login", http.MethodPatch, usersTable, q, body, nil); err != nil {
		c.log.Warn("record login failed", "user_id", userID, "err", err)
	}
}

func (c *Client) do(ctx context.Context, op, method, table string, q url.Values, body any, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "identity."+op, trace.WithAttributes(attribute.String("identity.table", table)))
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.ObserveAuthority(op, result, time.Since(start))
		span.End()
	}()

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("identity: encode %s body: %w", op, err)
		}
		reqBody = bytes.NewReader(b)
	}

	endpoint := c.baseURL + restPrefix + "/" + table + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("identity: build %s request: %w", op, err)
	}
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=minimal")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s: status %d: %s", ErrUnavailable, op, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %w", ErrUnavailable, op, err)
	}
	return nil
}

// likeLiteral escapes LIKE wildcards so ilike behaves as a case-insensitive
// equality.
func likeLiteral(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// quoteFilterValue wraps a value for use inside a PostgREST logic tree.
func quoteFilterValue(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
