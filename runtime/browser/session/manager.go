package session

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"goa.design/webrun/runtime/browser/telemetry"
)

const defaultTimeoutMinutes = 60

type (
	// Manager owns persistent browser session lifecycle: reservation,
	// occupation, release, and history. It guarantees that a session is
	// held by at most one runnable unit at a time by delegating the claim
	// to the store's atomic conditional update, and it read-repairs
	// records left inconsistent by a prior crash (runnable bound but no
	// start time) on every read path.
	Manager struct {
		store   Store
		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
		now     func() time.Time
	}

	// Option customizes a Manager.
	Option func(*Manager)
)

// WithLogger sets the logger used for heal and release events.
func WithLogger(l telemetry.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(mt telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithTracer sets the tracer used to span claim operations.
func WithTracer(tr telemetry.Tracer) Option {
	return func(m *Manager) { m.tracer = tr }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New constructs a Manager backed by the given store.
func New(store Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	m := &Manager{
		store:   store,
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
		tracer:  telemetry.NewNoopTracer(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CreateSession creates a new available session for the organization. A
// non-positive timeout falls back to the default of one hour.
func (m *Manager) CreateSession(ctx context.Context, orgID string, timeoutMinutes int) (Session, error) {
	org := strings.TrimSpace(orgID)
	if org == "" {
		return Session{}, fmt.Errorf("organization id is required")
	}
	if timeoutMinutes <= 0 {
		timeoutMinutes = defaultTimeoutMinutes
	}
	s := Session{
		ID:             "pbs_" + uuid.NewString(),
		OrganizationID: org,
		Status:         StatusAvailable,
		TimeoutMinutes: timeoutMinutes,
		CreatedAt:      m.now(),
	}
	return m.store.Create(ctx, s)
}

// GetSession loads a session scoped to the organization, read-repairing it
// when found occupied without a start time.
func (m *Manager) GetSession(ctx context.Context, sessionID, orgID string) (Session, error) {
	s, err := m.store.Get(ctx, sessionID, orgID)
	if err != nil {
		return Session{}, err
	}
	return m.reconcile(ctx, s), nil
}

// Occupy atomically claims an available session for the given runnable unit.
// Exactly one of any set of concurrent callers targeting the same session
// succeeds; the others receive ErrConflict.
func (m *Manager) Occupy(ctx context.Context, sessionID string, rt RunnableType, runnableID, orgID string) (Session, error) {
	if err := validateClaim(sessionID, rt, runnableID, orgID); err != nil {
		return Session{}, err
	}
	ctx, span := m.tracer.Start(ctx, "browser.session.occupy")
	defer span.End()
	s, err := m.store.Occupy(ctx, sessionID, orgID, rt, runnableID, m.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "occupy failed")
		return Session{}, err
	}
	m.logger.Debug(ctx, "session occupied",
		"session_id", s.ID, "runnable_type", string(rt), "runnable_id", runnableID)
	return s, nil
}

// Begin marks the session as started by the given runnable unit. It binds
// the unit when the session is unbound (two-phase claims occupy first, then
// begin once browser activity starts) and is a no-op when the same unit has
// already started the session.
func (m *Manager) Begin(ctx context.Context, sessionID string, rt RunnableType, runnableID, orgID string) error {
	if err := validateClaim(sessionID, rt, runnableID, orgID); err != nil {
		return err
	}
	if _, err := m.store.Bind(ctx, sessionID, orgID, rt, runnableID, m.now()); err != nil {
		return err
	}
	return nil
}

// Release returns the session to the available state, clearing the runnable
// binding and start time. Releasing an already-available session is a no-op.
func (m *Manager) Release(ctx context.Context, sessionID, orgID string) error {
	if _, err := m.store.Release(ctx, sessionID, orgID); err != nil {
		return err
	}
	m.logger.Debug(ctx, "session released", "session_id", sessionID)
	return nil
}

// ActiveSessions returns the organization's running sessions, newest first.
// Records found occupied without a start time are repaired before being
// returned so callers never observe a running session with no start time.
func (m *Manager) ActiveSessions(ctx context.Context, orgID string) ([]Session, error) {
	status := StatusRunning
	sessions, err := m.store.List(ctx, orgID, &status, 1, 0)
	if err != nil {
		return nil, err
	}
	return m.reconcileAll(ctx, sessions), nil
}

// History returns a page of the organization's sessions, newest first, with
// the same read-repair rule applied as ActiveSessions. page is 1-based.
func (m *Manager) History(ctx context.Context, orgID string, page, pageSize int) ([]Session, error) {
	if page < 1 {
		page = 1
	}
	sessions, err := m.store.List(ctx, orgID, nil, page, pageSize)
	if err != nil {
		return nil, err
	}
	return m.reconcileAll(ctx, sessions), nil
}

// reconcile repairs a record that shows a bound runnable but no start time.
// The repair is persisted; a repair failure is logged and the record is
// returned as read.
func (m *Manager) reconcile(ctx context.Context, s Session) Session {
	if !s.Occupied() || s.Started() {
		return s
	}
	repaired, err := m.store.MarkStarted(ctx, s.ID, s.OrganizationID, m.now())
	if err != nil {
		m.logger.Warn(ctx, "session start-time repair failed",
			"session_id", s.ID, "error", err.Error())
		return s
	}
	m.metrics.IncCounter("browser_session_heals", 1, "organization_id", s.OrganizationID)
	m.logger.Info(ctx, "healed session missing start time",
		"session_id", s.ID, "runnable_id", derefString(s.RunnableID))
	return repaired
}

func (m *Manager) reconcileAll(ctx context.Context, sessions []Session) []Session {
	out := make([]Session, len(sessions))
	for i, s := range sessions {
		out[i] = m.reconcile(ctx, s)
	}
	return out
}

func validateClaim(sessionID string, rt RunnableType, runnableID, orgID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(orgID) == "" {
		return fmt.Errorf("organization id is required")
	}
	if strings.TrimSpace(runnableID) == "" {
		return fmt.Errorf("runnable id is required")
	}
	switch rt {
	case RunnableTask, RunnableWorkflowRun:
		return nil
	default:
		return fmt.Errorf("unknown runnable type %q", rt)
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// defaultManager holds the process-wide manager handle. The entry point
// constructs a Manager once and registers it via SetDefault; consumers read
// it via Default. Tests call ResetDefault to force re-initialization against
// a fresh backing store.
var defaultManager atomic.Pointer[Manager]

// SetDefault registers the process-wide manager handle.
func SetDefault(m *Manager) {
	defaultManager.Store(m)
}

// Default returns the process-wide manager handle, or nil when none has been
// registered.
func Default() *Manager {
	return defaultManager.Load()
}

// ResetDefault clears the process-wide manager handle.
func ResetDefault() {
	defaultManager.Store(nil)
}
