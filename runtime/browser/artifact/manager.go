package artifact

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"goa.design/webrun/runtime/browser/blob"
	"goa.design/webrun/runtime/browser/telemetry"
)

const defaultUploadTimeout = 2 * time.Minute

type (
	// Manager is the artifact capture pipeline. Create writes the metadata
	// record synchronously and schedules exactly one background unit that
	// uploads the payload to blob storage; Wait is the explicit join point
	// for those units. Upload failures are logged and counted but never
	// unwind the already-committed metadata record.
	Manager struct {
		records RecordStore
		blobs   blob.Store
		mirror  *Mirror
		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
		limiter *rate.Limiter
		timeout time.Duration
		now     func() time.Time

		mu       sync.Mutex
		inflight map[string][]*upload
	}

	// Option customizes a Manager.
	Option func(*Manager)

	// CreateRequest carries everything needed to capture one artifact.
	// Exactly one of Data and Path is set: Data holds an in-memory
	// payload, Path references a file already on local disk (the pipeline
	// never reads such a file into memory itself).
	CreateRequest struct {
		// TaskKey groups this artifact's background upload for Wait.
		// Defaults to TaskID, then WorkflowRunID, when empty.
		TaskKey string
		// ArtifactID overrides the generated identifier when set.
		ArtifactID string
		// Type classifies the artifact.
		Type Type
		// URI addresses the payload in blob storage.
		URI string
		// OrganizationID scopes the artifact to a tenant.
		OrganizationID string
		// TaskID associates the artifact with a task.
		TaskID string
		// WorkflowRunID associates the artifact with a workflow run.
		WorkflowRunID string
		// Data is the in-memory payload.
		Data []byte
		// Path references an on-disk payload.
		Path string
	}

	upload struct {
		done chan struct{}
	}
)

// WithLogger sets the logger used for upload failures and heal events.
func WithLogger(l telemetry.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(mt telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithTracer sets the tracer used to span background uploads.
func WithTracer(tr telemetry.Tracer) Option {
	return func(m *Manager) { m.tracer = tr }
}

// WithMirror enables the local live-stream mirror for screenshot artifacts.
func WithMirror(mir *Mirror) Option {
	return func(m *Manager) { m.mirror = mir }
}

// WithRateLimit bounds how fast background units may start blob writes so a
// burst of screenshots cannot saturate the backend. Unlimited by default.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(m *Manager) { m.limiter = rate.NewLimiter(limit, burst) }
}

// WithUploadTimeout bounds each background upload. Deadline expiry is
// treated as an upload failure. Defaults to two minutes.
func WithUploadTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New constructs a Manager writing metadata to records and payloads to blobs.
func New(records RecordStore, blobs blob.Store, opts ...Option) (*Manager, error) {
	if records == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	m := &Manager{
		records:  records,
		blobs:    blobs,
		logger:   telemetry.NewNoopLogger(),
		metrics:  telemetry.NewNoopMetrics(),
		tracer:   telemetry.NewNoopTracer(),
		timeout:  defaultUploadTimeout,
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string][]*upload),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Create records the artifact metadata synchronously and schedules the
// payload upload as a background unit registered under the request's task
// key. The returned record reflects durable metadata; the payload becomes
// readable at the URI only once the background unit completes (join via
// Wait). The metadata write is strictly ordered before the upload is
// scheduled.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (Record, error) {
	if err := req.validate(); err != nil {
		return Record{}, err
	}
	id := req.ArtifactID
	if id == "" {
		id = "art_" + uuid.NewString()
	}
	rec, err := m.records.Create(ctx, Record{
		ID:             id,
		OrganizationID: req.OrganizationID,
		TaskID:         req.TaskID,
		WorkflowRunID:  req.WorkflowRunID,
		Type:           req.Type,
		URI:            req.URI,
		CreatedAt:      m.now(),
	})
	if err != nil {
		return Record{}, fmt.Errorf("create artifact record: %w", err)
	}

	u := &upload{done: make(chan struct{})}
	m.mu.Lock()
	key := req.key()
	m.inflight[key] = append(m.inflight[key], u)
	m.mu.Unlock()

	// The unit outlives the caller's request; detach from its
	// cancellation but keep its logger and trace baggage.
	bg := context.WithoutCancel(ctx)
	go m.runUpload(bg, u, rec, req.Data, req.Path)
	return rec, nil
}

// Wait blocks until every background upload registered under the given keys
// has completed (success or failure), then clears those keys from the
// in-flight registry. It returns ctx.Err() when the context is done first,
// leaving unfinished keys registered. Completion, not failure status, is
// surfaced: upload failures are observable through logs and metrics only.
func (m *Manager) Wait(ctx context.Context, keys ...string) error {
	// Units may be registered under a key while a wait is in progress;
	// loop until a full pass observes no unfinished handles.
	seen := make(map[*upload]bool)
	for {
		m.mu.Lock()
		var pending []*upload
		for _, k := range keys {
			for _, u := range m.inflight[k] {
				if !seen[u] {
					pending = append(pending, u)
				}
			}
		}
		m.mu.Unlock()
		if len(pending) == 0 {
			break
		}
		for _, u := range pending {
			select {
			case <-u.done:
				seen[u] = true
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	m.mu.Lock()
	for _, k := range keys {
		delete(m.inflight, k)
	}
	m.mu.Unlock()
	return nil
}

// Pending returns the number of background units currently registered under
// the key. Intended for observability and tests.
func (m *Manager) Pending(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight[key])
}

func (m *Manager) runUpload(ctx context.Context, u *upload, rec Record, data []byte, path string) {
	defer close(u.done)
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	ctx, span := m.tracer.Start(ctx, "browser.artifact.upload")
	defer span.End()
	start := time.Now()
	err := m.persist(ctx, rec, data, path)
	status := "success"
	if err != nil {
		status = "failure"
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		m.logger.Error(ctx, err, "artifact upload failed",
			"artifact_id", rec.ID, "uri", rec.URI, "type", string(rec.Type))
	}
	m.metrics.IncCounter("browser_artifact_uploads", 1, "status", status, "type", string(rec.Type))
	m.metrics.RecordTimer("browser_artifact_upload_seconds", time.Since(start), "type", string(rec.Type))
}

func (m *Manager) persist(ctx context.Context, rec Record, data []byte, path string) error {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	var errs []error
	if path != "" {
		if err := m.blobs.WriteFile(ctx, rec.URI, path); err != nil {
			errs = append(errs, fmt.Errorf("store payload from %s: %w", path, err))
		}
	} else {
		if err := m.blobs.WriteBytes(ctx, rec.URI, data); err != nil {
			errs = append(errs, fmt.Errorf("store payload: %w", err))
		}
	}
	if m.mirror != nil && rec.Type.LiveStream() {
		var err error
		if path != "" {
			err = m.mirror.CopyLatest(rec.OrganizationID, rec.WorkflowRunID, rec.TaskID, rec.Type, path)
		} else {
			err = m.mirror.WriteLatest(rec.OrganizationID, rec.WorkflowRunID, rec.TaskID, rec.Type, data)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("write live mirror: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (r CreateRequest) validate() error {
	if r.OrganizationID == "" {
		return fmt.Errorf("organization id is required")
	}
	if r.URI == "" {
		return fmt.Errorf("uri is required")
	}
	if r.TaskID == "" && r.WorkflowRunID == "" {
		return fmt.Errorf("task id or workflow run id is required")
	}
	if r.Data != nil && r.Path != "" {
		return fmt.Errorf("data and path are mutually exclusive")
	}
	if r.Data == nil && r.Path == "" {
		return fmt.Errorf("data or path is required")
	}
	return nil
}

func (r CreateRequest) key() string {
	if r.TaskKey != "" {
		return r.TaskKey
	}
	if r.TaskID != "" {
		return r.TaskID
	}
	return r.WorkflowRunID
}
