// Package session defines the persistent browser session contract and the
// lifecycle manager that coordinates reservation, occupation, release, and
// history of reusable remote-browser sessions.
//
// A persistent session outlives a single unit of work. It is claimed by at
// most one runnable unit (a task run or a workflow run) at a time, across
// process restarts. Claiming is a single conditional write at the backing
// store, never a read-then-write pair in the manager.
package session

import (
	"context"
	"errors"
	"time"
)

type (
	// Session captures the durable state of a persistent browser session.
	//
	// Contract:
	// - A session belongs to exactly one organization for its whole lifetime.
	// - Status == StatusRunning iff RunnableID and StartedAt are both set.
	// - At most one runnable unit holds a running session at any time.
	Session struct {
		// ID is the durable identifier of the session.
		ID string
		// OrganizationID scopes the session to a tenant.
		OrganizationID string
		// Status is the current lifecycle state.
		Status Status
		// TimeoutMinutes bounds how long the session may stay occupied.
		TimeoutMinutes int
		// RunnableType identifies the kind of unit holding the session.
		// Empty when the session is available.
		RunnableType RunnableType
		// RunnableID identifies the unit holding the session. Nil when
		// the session is available.
		RunnableID *string
		// StartedAt records when the current occupation began. Nil when
		// the session is available or occupied but not yet started.
		StartedAt *time.Time
		// CreatedAt records when the session was created.
		CreatedAt time.Time
	}

	// Store persists session state. Implementations must be durable and
	// must make Occupy a single atomic conditional update so that exactly
	// one of any set of concurrent claimants wins.
	Store interface {
		// Create persists a new session record as provided.
		Create(ctx context.Context, s Session) (Session, error)
		// Get loads a session scoped to the organization.
		// Returns ErrNotFound when the session does not exist or the
		// organization does not match.
		Get(ctx context.Context, sessionID, orgID string) (Session, error)
		// Occupy atomically claims an available session for the given
		// runnable unit, setting status, binding, and start time in one
		// conditional write. Claiming a session already held by the
		// same runnable unit is idempotent and preserves the original
		// start time. Returns ErrConflict when the session is held by
		// a different runnable unit, ErrNotFound when missing.
		Occupy(ctx context.Context, sessionID, orgID string, rt RunnableType, runnableID string, now time.Time) (Session, error)
		// Bind attaches the runnable unit to an unbound session (or
		// re-affirms an existing binding by the same unit) and sets the
		// start time when not yet started. No-op when already started
		// by the same unit. Returns ErrConflict when bound to a
		// different unit.
		Bind(ctx context.Context, sessionID, orgID string, rt RunnableType, runnableID string, now time.Time) (Session, error)
		// MarkStarted sets StartedAt and StatusRunning on a session
		// that has a runnable bound but no start time. No-op otherwise;
		// the current record is returned either way.
		MarkStarted(ctx context.Context, sessionID, orgID string, now time.Time) (Session, error)
		// Release clears the runnable binding and start time and sets
		// the session back to StatusAvailable. Releasing an available
		// session is a no-op.
		Release(ctx context.Context, sessionID, orgID string) (Session, error)
		// List returns the organization's sessions, newest first.
		// status narrows the result when non-nil. page is 1-based; a
		// pageSize <= 0 means no limit.
		List(ctx context.Context, orgID string, status *Status, page, pageSize int) ([]Session, error)
	}

	// Status represents the lifecycle state of a session.
	Status string

	// RunnableType identifies the kind of unit that occupies a session.
	RunnableType string
)

const (
	// StatusAvailable indicates the session is free to be claimed.
	StatusAvailable Status = "available"
	// StatusRunning indicates the session is held by a runnable unit.
	StatusRunning Status = "running"

	// RunnableTask marks a session held by a task run.
	RunnableTask RunnableType = "task"
	// RunnableWorkflowRun marks a session held by a workflow run.
	RunnableWorkflowRun RunnableType = "workflow_run"
)

var (
	// ErrNotFound indicates the session does not exist in the given
	// organization scope.
	ErrNotFound = errors.New("session not found")
	// ErrConflict indicates the session is already held by a different
	// runnable unit.
	ErrConflict = errors.New("session occupied by another runnable")
)

// Occupied reports whether a runnable unit is bound to the session.
func (s Session) Occupied() bool {
	return s.RunnableID != nil
}

// Started reports whether the current occupation has a recorded start time.
func (s Session) Started() bool {
	return s.StartedAt != nil
}

// HeldBy reports whether the session is bound to the given runnable unit.
func (s Session) HeldBy(rt RunnableType, runnableID string) bool {
	return s.RunnableID != nil && *s.RunnableID == runnableID && s.RunnableType == rt
}
