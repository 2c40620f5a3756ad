package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"goa.design/webrun/runtime/browser/session"
	"goa.design/webrun/runtime/browser/session/inmem"
)

// TestOccupyMutualExclusionProperty verifies that for any number of
// concurrent claimants racing on one available session, exactly one claim
// succeeds, every other claimant observes a conflict, and the session's
// final state names the winner.
func TestOccupyMutualExclusionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("exactly one concurrent claimant wins", prop.ForAll(
		func(claimants int) bool {
			ctx := context.Background()
			store := inmem.New()
			if _, err := store.Create(ctx, session.Session{
				ID:             "pbs_prop",
				OrganizationID: "org1",
				Status:         session.StatusAvailable,
				CreatedAt:      time.Now().UTC(),
			}); err != nil {
				return false
			}
			mgr, err := session.New(store)
			if err != nil {
				return false
			}

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				winners   []string
				conflicts int
			)
			start := make(chan struct{})
			for i := 0; i < claimants; i++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					<-start
					got, err := mgr.Occupy(ctx, "pbs_prop", session.RunnableTask, fmt.Sprintf("t_%d", n), "org1")
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						winners = append(winners, *got.RunnableID)
					case errors.Is(err, session.ErrConflict):
						conflicts++
					}
				}(i)
			}
			close(start)
			wg.Wait()

			if len(winners) != 1 || conflicts != claimants-1 {
				return false
			}
			final, err := store.Get(ctx, "pbs_prop", "org1")
			if err != nil || final.RunnableID == nil {
				return false
			}
			return *final.RunnableID == winners[0] && final.Status == session.StatusRunning
		},
		gen.IntRange(2, 24),
	))

	properties.TestingRun(t)
}
