package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/webrun/runtime/browser/artifact"
)

func TestCreateRejectsDuplicates(t *testing.T) {
	store := New()
	ctx := context.Background()
	rec := artifact.Record{ID: "a1", OrganizationID: "org1", TaskID: "t1", Type: artifact.TypeOther, URI: "u1", CreatedAt: time.Now()}

	_, err := store.Create(ctx, rec)
	require.NoError(t, err)
	_, err = store.Create(ctx, rec)
	require.Error(t, err)
}

func TestListFilters(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	seedRecords := []artifact.Record{
		{ID: "a1", OrganizationID: "org1", TaskID: "t1", Type: artifact.TypeScreenshotAction, URI: "u1", CreatedAt: base},
		{ID: "a2", OrganizationID: "org1", TaskID: "t1", WorkflowRunID: "wr1", Type: artifact.TypeScreenshotFinal, URI: "u2", CreatedAt: base.Add(time.Minute)},
		{ID: "a3", OrganizationID: "org1", TaskID: "t2", Type: artifact.TypeRecording, URI: "u3", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "a4", OrganizationID: "org2", TaskID: "t1", Type: artifact.TypeOther, URI: "u4", CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, rec := range seedRecords {
		_, err := store.Create(ctx, rec)
		require.NoError(t, err)
	}

	byTask, err := store.List(ctx, artifact.Filter{OrganizationID: "org1", TaskID: "t1"})
	require.NoError(t, err)
	require.Len(t, byTask, 2)
	require.Equal(t, "a2", byTask[0].ID, "newest first")

	byRun, err := store.List(ctx, artifact.Filter{OrganizationID: "org1", WorkflowRunID: "wr1"})
	require.NoError(t, err)
	require.Len(t, byRun, 1)

	byType, err := store.List(ctx, artifact.Filter{
		OrganizationID: "org1",
		Types:          []artifact.Type{artifact.TypeRecording},
	})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	require.Equal(t, "a3", byType[0].ID)

	_, err = store.List(ctx, artifact.Filter{})
	require.Error(t, err)
}
