// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/deskmux-dev/deskmux/internal/restore"
	"github.com/deskmux-dev/deskmux/internal/store"
	dmerr "github.com/deskmux-dev/deskmux/pkg/errors"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/v1/sessions",
		Summary:     "List sessions",
		Tags:        []string{"sessions"},
	}, s.handleListSessions)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/v1/sessions/{id}",
		Summary:     "Get session details",
		Tags:        []string{"sessions"},
	}, s.handleGetSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-latest-snapshot",
		Method:      http.MethodGet,
		Path:        "/v1/sessions/{id}/snapshot",
		Summary:     "Get the session's latest snapshot",
		Tags:        []string{"snapshots"},
	}, s.handleGetSnapshot)

	huma.Register(s.api, huma.Operation{
		OperationID: "name-session",
		Method:      http.MethodPost,
		Path:        "/v1/sessions/{id}/name",
		Summary:     "Confirm a name for a pending session",
		Tags:        []string{"sessions"},
	}, s.handleNameSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "cancel-session",
		Method:      http.MethodPost,
		Path:        "/v1/sessions/{id}/cancel",
		Summary:     "Discard a pending session",
		Tags:        []string{"sessions"},
	}, s.handleCancelSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "force-snapshot",
		Method:      http.MethodPost,
		Path:        "/v1/sessions/{id}/snapshot",
		Summary:     "Capture a snapshot now",
		Tags:        []string{"snapshots"},
	}, s.handleForceSnapshot)

	huma.Register(s.api, huma.Operation{
		OperationID: "restore-session",
		Method:      http.MethodPost,
		Path:        "/v1/sessions/{id}/restore",
		Summary:     "Restore the session's latest snapshot",
		Tags:        []string{"sessions"},
	}, s.handleRestoreSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "delete-session",
		Method:      http.MethodDelete,
		Path:        "/v1/sessions/{id}",
		Summary:     "Delete a session and its history",
		Tags:        []string{"sessions"},
	}, s.handleDeleteSession)
}

// --- Request/Response types for huma ---

// SessionSummary is the wire form of a session row.
type SessionSummary struct {
	ID             string     `json:"id"`
	Name           string     `json:"name,omitempty"`
	DesktopKey     string     `json:"desktop_key"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	LastSnapshotAt *time.Time `json:"last_snapshot_at,omitempty"`
}

func toSummary(sess *store.Session) SessionSummary {
	out := SessionSummary{
		ID:         sess.ID,
		Name:       sess.Name,
		DesktopKey: sess.DesktopKey,
		Status:     string(sess.Status),
		CreatedAt:  sess.CreatedAt,
	}
	if !sess.EndedAt.IsZero() {
		t := sess.EndedAt
		out.EndedAt = &t
	}
	if !sess.LastSnapshotAt.IsZero() {
		t := sess.LastSnapshotAt
		out.LastSnapshotAt = &t
	}
	return out
}

type listSessionsInput struct {
	Limit  int `query:"limit" minimum:"0" maximum:"1000" doc:"Maximum sessions to return"`
	Offset int `query:"offset" minimum:"0" doc:"Sessions to skip"`
}
type listSessionsOutput struct {
	Body struct {
		Sessions []SessionSummary `json:"sessions"`
	}
}

type sessionIDInput struct {
	ID string `path:"id"`
}
type getSessionOutput struct {
	Body SessionSummary
}

type getSnapshotOutput struct {
	Body struct {
		SessionID  string              `json:"session_id"`
		CapturedAt time.Time           `json:"captured_at"`
		Windows    []store.WindowEntry `json:"windows"`
		Tabs       []store.TabEntry    `json:"tabs"`
	}
}

type nameSessionInput struct {
	ID   string `path:"id"`
	Body struct {
		Name string `json:"name" minLength:"1" doc:"Session name"`
	}
}

type statusOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

type restoreSessionOutput struct {
	Body struct {
		Outcomes []restore.Outcome `json:"outcomes"`
	}
}

// --- Handlers ---

func (s *Server) handleListSessions(ctx context.Context, input *listSessionsInput) (*listSessionsOutput, error) {
	sessions, err := s.reader.ListSessions(ctx, store.ListOpts{Limit: input.Limit, Offset: input.Offset})
	if err != nil {
		return nil, huma.Error500InternalServerError("listing sessions", err)
	}
	out := &listSessionsOutput{}
	out.Body.Sessions = make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out.Body.Sessions = append(out.Body.Sessions, toSummary(sess))
	}
	return out, nil
}

func (s *Server) handleGetSession(ctx context.Context, input *sessionIDInput) (*getSessionOutput, error) {
	sess, err := s.reader.GetSession(ctx, input.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("session %q not found", input.ID))
		}
		return nil, huma.Error500InternalServerError("loading session", err)
	}
	return &getSessionOutput{Body: toSummary(sess)}, nil
}

func (s *Server) handleGetSnapshot(ctx context.Context, input *sessionIDInput) (*getSnapshotOutput, error) {
	snap, err := s.reader.LatestSnapshot(ctx, input.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("session %q has no snapshot", input.ID))
		}
		return nil, huma.Error500InternalServerError("loading snapshot", err)
	}
	out := &getSnapshotOutput{}
	out.Body.SessionID = snap.SessionID
	out.Body.CapturedAt = snap.CapturedAt
	out.Body.Windows = snap.Windows
	out.Body.Tabs = snap.Tabs
	return out, nil
}

func (s *Server) handleNameSession(_ context.Context, input *nameSessionInput) (*statusOutput, error) {
	if err := s.commands.ConfirmName(input.ID, input.Body.Name); err != nil {
		return nil, commandError(err, fmt.Sprintf("naming session %q", input.ID))
	}
	out := &statusOutput{}
	out.Body.Status = "active"
	return out, nil
}

func (s *Server) handleCancelSession(_ context.Context, input *sessionIDInput) (*statusOutput, error) {
	if err := s.commands.CancelNaming(input.ID); err != nil {
		return nil, commandError(err, fmt.Sprintf("discarding session %q", input.ID))
	}
	out := &statusOutput{}
	out.Body.Status = "discarded"
	return out, nil
}

func (s *Server) handleForceSnapshot(_ context.Context, input *sessionIDInput) (*statusOutput, error) {
	if err := s.commands.ForceSnapshot(input.ID); err != nil {
		return nil, commandError(err, fmt.Sprintf("snapshotting session %q", input.ID))
	}
	out := &statusOutput{}
	out.Body.Status = "captured"
	return out, nil
}

func (s *Server) handleRestoreSession(_ context.Context, input *sessionIDInput) (*restoreSessionOutput, error) {
	outcomes, err := s.commands.RequestRestore(input.ID)
	if err != nil {
		return nil, commandError(err, fmt.Sprintf("restoring session %q", input.ID))
	}
	out := &restoreSessionOutput{}
	out.Body.Outcomes = outcomes
	return out, nil
}

func (s *Server) handleDeleteSession(_ context.Context, input *sessionIDInput) (*statusOutput, error) {
	if err := s.commands.DeleteSession(input.ID); err != nil {
		return nil, commandError(err, fmt.Sprintf("deleting session %q", input.ID))
	}
	out := &statusOutput{}
	out.Body.Status = "deleted"
	return out, nil
}

// commandError maps orchestrator errors onto HTTP responses through the
// dotted-code taxonomy.
func commandError(err error, msg string) error {
	detail := fmt.Sprintf("%s: %s", msg, err.Error())
	switch dmerr.HTTPStatus(err) {
	case http.StatusNotFound:
		return huma.Error404NotFound(detail)
	case http.StatusConflict:
		return huma.Error409Conflict(detail)
	case http.StatusBadRequest:
		return huma.Error400BadRequest(detail)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}
