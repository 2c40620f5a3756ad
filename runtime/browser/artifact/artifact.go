// Package artifact implements the capture pipeline for execution artifacts
// (screenshots, recordings, files) produced while automated tasks run against
// remote browser sessions.
//
// Metadata is recorded synchronously so artifacts are immediately queryable;
// payload persistence happens in background units that the caller joins
// explicitly via Manager.Wait. Screenshot artifacts are additionally mirrored
// to a local path for near-real-time observation.
package artifact

import (
	"context"
	"errors"
	"time"
)

type (
	// Record is the durable metadata of a captured artifact. Once created,
	// (ID, URI) is immutable; the payload at URI is eventually consistent
	// with the record (readers may transiently observe a record whose
	// payload upload has not completed).
	Record struct {
		// ID is the durable identifier of the artifact.
		ID string
		// OrganizationID scopes the artifact to a tenant.
		OrganizationID string
		// TaskID associates the artifact with a task. At least one of
		// TaskID and WorkflowRunID is set.
		TaskID string
		// WorkflowRunID associates the artifact with a workflow run.
		WorkflowRunID string
		// Type classifies the artifact.
		Type Type
		// URI addresses the payload in blob storage.
		URI string
		// CreatedAt records when the metadata was written.
		CreatedAt time.Time
	}

	// RecordStore persists artifact metadata.
	RecordStore interface {
		// Create persists a new record as provided.
		Create(ctx context.Context, rec Record) (Record, error)
		// List returns records matching the filter, newest first.
		List(ctx context.Context, f Filter) ([]Record, error)
	}

	// Filter narrows a RecordStore listing. OrganizationID is required;
	// the remaining fields narrow the result when set.
	Filter struct {
		OrganizationID string
		TaskID         string
		WorkflowRunID  string
		Types          []Type
	}

	// Type classifies a captured artifact.
	Type string
)

const (
	// TypeScreenshotAction is a screenshot captured while an action runs.
	TypeScreenshotAction Type = "screenshot_action"
	// TypeScreenshotFinal is the screenshot captured when a task finishes.
	TypeScreenshotFinal Type = "screenshot_final"
	// TypeRecording is a video recording of the session.
	TypeRecording Type = "recording"
	// TypeOther covers any other captured byproduct.
	TypeOther Type = "other"
)

// ErrRecordNotFound indicates no artifact record matched a lookup.
var ErrRecordNotFound = errors.New("artifact record not found")

// LiveStream reports whether artifacts of this type feed the local streaming
// mirror. The set is fixed: the in-progress and final screenshots.
func (t Type) LiveStream() bool {
	return t == TypeScreenshotAction || t == TypeScreenshotFinal
}

// Extension returns the file extension used for the streaming mirror of this
// artifact type.
func (t Type) Extension() string {
	switch t {
	case TypeScreenshotAction, TypeScreenshotFinal:
		return "png"
	case TypeRecording:
		return "webm"
	default:
		return "bin"
	}
}
