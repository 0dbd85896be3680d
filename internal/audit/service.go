package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"iris-platform/pkg/logger"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to tenant users.
// - The Log* helpers are best-effort: failures are logged and swallowed.
type Service struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{repo: repo, log: logger.OrDefault(log), clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.Type.workspaceScoped() && e.WorkspaceID == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.IPAddress == "" {
		e.IPAddress = ClientIPFromContext(ctx)
	}
	if e.ActorUserID == "" {
		e.ActorUserID = ActorFromContext(ctx)
	}
	return s.repo.Append(ctx, e)
}

// LogLoginSucceeded records a completed login or refresh.
func (s *Service) LogLoginSucceeded(ctx context.Context, userID, method string) {
	s.bestEffort(ctx, Event{
		Type:        EventTypeLoginSucceeded,
		ActorUserID: userID,
		Message:     method,
	})
}

// LogLoginFailed records a rejected login. identifier is what the caller
// typed; userID is set only when it resolved to a known identity.
func (s *Service) LogLoginFailed(ctx context.Context, identifier, userID, reason string) {
	s.bestEffort(ctx, Event{
		Type:          EventTypeLoginFailed,
		SubjectUserID: userID,
		Message:       reason,
		Metadata:      metadata(map[string]string{"identifier": identifier}),
	})
}

// LogRoleOverride records a manual workspace role change.
func (s *Service) LogRoleOverride(ctx context.Context, workspaceID, actorUserID, subjectUserID, fromRole, toRole string) {
	s.bestEffort(ctx, Event{
		WorkspaceID:   workspaceID,
		Type:          EventTypeRoleOverride,
		ActorUserID:   actorUserID,
		SubjectUserID: subjectUserID,
		Message:       "workspace role overridden",
		Metadata:      metadata(map[string]string{"from": fromRole, "to": toRole}),
	})
}

// LogSyncItemFailed records one membership that could not be reconciled.
func (s *Service) LogSyncItemFailed(ctx context.Context, userID, organizationID string, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	s.bestEffort(ctx, Event{
		Type:           EventTypeSyncItemFailed,
		SubjectUserID:  userID,
		OrganizationID: organizationID,
		Message:        msg,
	})
}

func (s *Service) bestEffort(ctx context.Context, e Event) {
	if s == nil {
		return
	}
	if err := s.Append(ctx, e); err != nil {
		logger.From(ctx, s.log).Warn("audit append failed", "type", string(e.Type), "err", err)
	}
}

func metadata(m map[string]string) string {
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
