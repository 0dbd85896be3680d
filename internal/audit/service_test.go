package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"iris-platform/pkg/logger"
)

type failingRepo struct{}

func (failingRepo) Append(context.Context, Event) error { return errors.New("db down") }

func TestService_AppendValidatesTypeAndWorkspace(t *testing.T) {
	svc := NewService(NewMemoryRepo(), logger.Discard())

	if err := svc.Append(context.Background(), Event{}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent for missing type, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{Type: EventTypeRoleOverride}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent for role override without workspace, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{Type: EventTypeLoginSucceeded, ActorUserID: "u1"}); err != nil {
		t.Fatalf("login events are not workspace scoped: %v", err)
	}
}

func TestService_FillsIDTimeAndClientIP(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, logger.Discard())
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return fixed }

	ctx := WithClientIP(context.Background(), "1.2.3.4")
	svc.LogLoginFailed(ctx, "a@b.com", "", "invalid_credentials")

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	e := evs[0]
	if e.ID == "" || !e.CreatedAt.Equal(fixed) || e.IPAddress != "1.2.3.4" {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.Type != EventTypeLoginFailed || !strings.Contains(e.Metadata, `"identifier":"a@b.com"`) {
		t.Fatalf("unexpected event payload: %+v", e)
	}
}

func TestService_LogHelpersSwallowFailures(t *testing.T) {
	svc := NewService(failingRepo{}, logger.Discard())
	svc.LogRoleOverride(context.Background(), "w", "admin", "u", "member", "admin")
	svc.LogSyncItemFailed(context.Background(), "u", "org1", errors.New("boom"))

	var nilSvc *Service
	nilSvc.LogLoginSucceeded(context.Background(), "u", "password")
}

func TestService_RoleOverrideMetadata(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, logger.Discard())
	svc.LogRoleOverride(context.Background(), "w1", "admin-1", "u1", "member", "leader")

	evs := repo.OfType(EventTypeRoleOverride)
	if len(evs) != 1 {
		t.Fatalf("expected role override event")
	}
	if evs[0].WorkspaceID != "w1" || evs[0].Metadata != `{"from":"member","to":"leader"}` {
		t.Fatalf("unexpected event: %+v", evs[0])
	}
}
