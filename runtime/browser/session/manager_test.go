package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/webrun/runtime/browser/session"
	"goa.design/webrun/runtime/browser/session/inmem"
)

func TestCreateSessionDefaults(t *testing.T) {
	mgr, _ := newManager(t)
	got, err := mgr.CreateSession(context.Background(), "org1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, got.ID)
	require.Equal(t, "org1", got.OrganizationID)
	require.Equal(t, session.StatusAvailable, got.Status)
	require.Equal(t, 60, got.TimeoutMinutes)
	require.Nil(t, got.RunnableID)
	require.Nil(t, got.StartedAt)
}

func TestOccupyBindsRunnable(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	created, err := mgr.CreateSession(ctx, "org1", 20)
	require.NoError(t, err)

	got, err := mgr.Occupy(ctx, created.ID, session.RunnableWorkflowRun, "wr_1", "org1")
	require.NoError(t, err)
	require.Equal(t, session.StatusRunning, got.Status)
	require.Equal(t, "wr_1", *got.RunnableID)
	require.NotNil(t, got.StartedAt)

	_, err = mgr.Occupy(ctx, created.ID, session.RunnableTask, "t_1", "org1")
	require.ErrorIs(t, err, session.ErrConflict)
}

func TestOccupyValidation(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	_, err := mgr.Occupy(ctx, "", session.RunnableTask, "t_1", "org1")
	require.Error(t, err)
	_, err = mgr.Occupy(ctx, "pbs_1", "bogus", "t_1", "org1")
	require.Error(t, err)
	_, err = mgr.Occupy(ctx, "pbs_1", session.RunnableTask, "", "org1")
	require.Error(t, err)
}

func TestBeginMarksStarted(t *testing.T) {
	mgr, store := newManager(t)
	ctx := context.Background()
	created, err := mgr.CreateSession(ctx, "org1", 20)
	require.NoError(t, err)

	err = mgr.Begin(ctx, created.ID, session.RunnableWorkflowRun, "wr_1", "org1")
	require.NoError(t, err)

	refreshed, err := store.Get(ctx, created.ID, "org1")
	require.NoError(t, err)
	require.Equal(t, session.StatusRunning, refreshed.Status)
	require.Equal(t, "wr_1", *refreshed.RunnableID)
	require.NotNil(t, refreshed.StartedAt)

	// Second begin by the same runnable is a no-op.
	started := *refreshed.StartedAt
	err = mgr.Begin(ctx, created.ID, session.RunnableWorkflowRun, "wr_1", "org1")
	require.NoError(t, err)
	refreshed, err = store.Get(ctx, created.ID, "org1")
	require.NoError(t, err)
	require.Equal(t, started, *refreshed.StartedAt)
}

func TestReleaseTwiceThenReclaim(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	created, err := mgr.CreateSession(ctx, "org1", 20)
	require.NoError(t, err)

	_, err = mgr.Occupy(ctx, created.ID, session.RunnableTask, "t_1", "org1")
	require.NoError(t, err)
	require.NoError(t, mgr.Release(ctx, created.ID, "org1"))
	require.NoError(t, mgr.Release(ctx, created.ID, "org1"))

	got, err := mgr.Occupy(ctx, created.ID, session.RunnableWorkflowRun, "wr_2", "org1")
	require.NoError(t, err)
	require.Equal(t, "wr_2", *got.RunnableID)
	require.Equal(t, session.RunnableWorkflowRun, got.RunnableType)
}

func TestActiveSessionsHealsMissingStartTime(t *testing.T) {
	mgr, store := newManager(t)
	ctx := context.Background()
	seedOccupiedNotStarted(t, store, "pbs_crashed", "org1", "wr_1")

	active, err := mgr.ActiveSessions(ctx, "org1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "pbs_crashed", active[0].ID)
	require.Equal(t, session.StatusRunning, active[0].Status)
	require.Equal(t, "wr_1", *active[0].RunnableID)
	require.NotNil(t, active[0].StartedAt, "listing must never expose a running session with no start time")

	// The repair is persisted, not just applied to the returned copy.
	refreshed, err := store.Get(ctx, "pbs_crashed", "org1")
	require.NoError(t, err)
	require.NotNil(t, refreshed.StartedAt)
	require.Equal(t, *active[0].StartedAt, *refreshed.StartedAt)
}

func TestHistoryHealsAndMatchesActiveView(t *testing.T) {
	mgr, store := newManager(t)
	ctx := context.Background()
	seedOccupiedNotStarted(t, store, "pbs_crashed", "org1", "wr_1")

	history, err := mgr.History(ctx, "org1", 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].StartedAt)
	require.Equal(t, session.StatusRunning, history[0].Status)

	active, err := mgr.ActiveSessions(ctx, "org1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, *history[0].StartedAt, *active[0].StartedAt)
}

func TestHistoryPagination(t *testing.T) {
	mgr, store := newManager(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := store.Create(ctx, session.Session{
			ID:             "pbs_" + string(rune('a'+i)),
			OrganizationID: "org1",
			Status:         session.StatusAvailable,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	page1, err := mgr.History(ctx, "org1", 1, 3)
	require.NoError(t, err)
	require.Len(t, page1, 3)
	require.Equal(t, "pbs_e", page1[0].ID)
	page2, err := mgr.History(ctx, "org1", 2, 3)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.Equal(t, "pbs_b", page2[0].ID)
}

func TestGetSessionHeals(t *testing.T) {
	mgr, store := newManager(t)
	ctx := context.Background()
	seedOccupiedNotStarted(t, store, "pbs_crashed", "org1", "t_9")

	got, err := mgr.GetSession(ctx, "pbs_crashed", "org1")
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)

	_, err = mgr.GetSession(ctx, "pbs_missing", "org1")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestDefaultHandle(t *testing.T) {
	session.ResetDefault()
	require.Nil(t, session.Default())

	mgr, _ := newManager(t)
	session.SetDefault(mgr)
	require.Same(t, mgr, session.Default())

	session.ResetDefault()
	require.Nil(t, session.Default())
}

func newManager(t *testing.T) (*session.Manager, *inmem.Store) {
	t.Helper()
	store := inmem.New()
	mgr, err := session.New(store)
	require.NoError(t, err)
	return mgr, store
}

func seedOccupiedNotStarted(t *testing.T, store *inmem.Store, id, org, runnableID string) {
	t.Helper()
	// Simulates a crash between occupation and start-marking: the runnable
	// is bound but no start time was recorded.
	_, err := store.Create(context.Background(), session.Session{
		ID:             id,
		OrganizationID: org,
		Status:         session.StatusRunning,
		RunnableType:   session.RunnableWorkflowRun,
		RunnableID:     &runnableID,
		CreatedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)
}
