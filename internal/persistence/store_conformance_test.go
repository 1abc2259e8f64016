package persistence

import (
	"context"
	"encoding/gob"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/ticketflow/pkg/api"
)

type samplePayload struct {
	Msg string
	N   int
}

func init() {
	gob.Register(samplePayload{})
}

func newRun(id, workflowID string, status api.Status, created time.Time) *api.Run {
	return &api.Run{
		ID:         id,
		WorkflowID: workflowID,
		Event:      api.NewEvent(api.UserSignup{Email: "ada@example.com"}),
		Status:     status,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

// runStoreConformance checks the behaviour every Store backend shares.
func runStoreConformance(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	t.Run("CreateGetUpdate", func(t *testing.T) {
		s := newStore(t)
		run := newRun("run-1", "on-user-signup", api.StatusPending, base)
		require.NoError(t, s.CreateRun(ctx, run))

		got, err := s.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, "on-user-signup", got.WorkflowID)
		assert.Equal(t, api.StatusPending, got.Status)
		assert.True(t, got.CreatedAt.Equal(base))
		assert.Equal(t, api.EventUserSignup, got.Event.Name)
		assert.Equal(t, api.UserSignup{Email: "ada@example.com"}, got.Event.Payload)

		got.Status = api.StatusFailed
		got.Attempts = 3
		got.Output = samplePayload{Msg: "done", N: 99}
		got.Err = errors.New("smtp unavailable")
		got.UpdatedAt = base.Add(time.Minute)
		require.NoError(t, s.UpdateRun(ctx, got))

		got2, err := s.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, api.StatusFailed, got2.Status)
		assert.Equal(t, 3, got2.Attempts)
		assert.Equal(t, samplePayload{Msg: "done", N: 99}, got2.Output)
		require.Error(t, got2.Err)
		assert.Equal(t, "smtp unavailable", got2.Err.Error())
		assert.True(t, got2.UpdatedAt.Equal(base.Add(time.Minute)))
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		s := newStore(t)
		run := newRun("run-dup", "wf", api.StatusPending, base)
		require.NoError(t, s.CreateRun(ctx, run))
		assert.ErrorIs(t, s.CreateRun(ctx, run), ErrRunExists)
	})

	t.Run("MissingRun", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetRun(ctx, "nope")
		assert.ErrorIs(t, err, ErrRunNotFound)
		assert.ErrorIs(t, s.UpdateRun(ctx, newRun("nope", "wf", api.StatusPending, base)), ErrRunNotFound)
	})

	t.Run("ListRunsFilters", func(t *testing.T) {
		s := newStore(t)
		runs := []*api.Run{
			newRun("r1", "wf-a", api.StatusPending, base),
			newRun("r2", "wf-a", api.StatusSucceeded, base.Add(time.Second)),
			newRun("r3", "wf-b", api.StatusPending, base.Add(2*time.Second)),
		}
		for _, r := range runs {
			require.NoError(t, s.CreateRun(ctx, r))
		}

		// Moving r3 out of PENDING must drop it from the pending index.
		r3 := *runs[2]
		r3.Status = api.StatusFailed
		require.NoError(t, s.UpdateRun(ctx, &r3))

		ids := func(rs []*api.Run) []string {
			var out []string
			for _, r := range rs {
				out = append(out, r.ID)
			}
			return out
		}

		all, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"r1", "r2", "r3"}, ids(all))

		byWF, err := s.ListRuns(ctx, RunFilter{WorkflowID: "wf-a"})
		require.NoError(t, err)
		assert.Equal(t, []string{"r1", "r2"}, ids(byWF))

		pending, err := s.ListRuns(ctx, RunFilter{Status: api.StatusPending})
		require.NoError(t, err)
		assert.Equal(t, []string{"r1"}, ids(pending))

		both, err := s.ListRuns(ctx, RunFilter{WorkflowID: "wf-b", Status: api.StatusFailed})
		require.NoError(t, err)
		assert.Equal(t, []string{"r3"}, ids(both))
	})

	t.Run("StepResultFirstWriterWins", func(t *testing.T) {
		s := newStore(t)

		_, ok, err := s.GetStepResult(ctx, "run-1", "get-user-email")
		require.NoError(t, err)
		assert.False(t, ok)

		first, err := EncodeValue("ada@example.com")
		require.NoError(t, err)
		second, err := EncodeValue("someone-else@example.com")
		require.NoError(t, err)

		stored, err := s.RecordStepResult(ctx, api.StepResult{RunID: "run-1", Label: "get-user-email", Value: first, RecordedAt: base})
		require.NoError(t, err)
		assert.Equal(t, first, stored.Value)

		stored, err = s.RecordStepResult(ctx, api.StepResult{RunID: "run-1", Label: "get-user-email", Value: second, RecordedAt: base.Add(time.Second)})
		require.NoError(t, err)
		assert.Equal(t, first, stored.Value, "second write must not replace the first")

		got, ok, err := s.GetStepResult(ctx, "run-1", "get-user-email")
		require.NoError(t, err)
		require.True(t, ok)
		v, err := DecodeValue[string](got.Value)
		require.NoError(t, err)
		assert.Equal(t, "ada@example.com", v)
	})

	t.Run("StepResultsIsolatedPerRun", func(t *testing.T) {
		s := newStore(t)
		a, _ := EncodeValue("a")
		b, _ := EncodeValue("b")
		_, err := s.RecordStepResult(ctx, api.StepResult{RunID: "run-1", Label: "x", Value: a, RecordedAt: base})
		require.NoError(t, err)
		_, err = s.RecordStepResult(ctx, api.StepResult{RunID: "run-1", Label: "y", Value: b, RecordedAt: base.Add(time.Second)})
		require.NoError(t, err)
		_, err = s.RecordStepResult(ctx, api.StepResult{RunID: "run-2", Label: "x", Value: b, RecordedAt: base})
		require.NoError(t, err)

		res, err := s.ListStepResults(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, res, 2)
		assert.Equal(t, "x", res[0].Label)
		assert.Equal(t, "y", res[1].Label)

		other, ok, err := s.GetStepResult(ctx, "run-2", "x")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, b, other.Value)
	})

	t.Run("HistoryAppendOnly", func(t *testing.T) {
		s := newStore(t)
		events := []api.HistoryEvent{
			{RunID: "run-1", Type: api.HistoryRunCreated, WorkflowID: "wf", At: base},
			{RunID: "run-1", Type: api.HistoryRunAttempt, WorkflowID: "wf", Attempt: 1, At: base},
			{RunID: "run-2", Type: api.HistoryRunCreated, WorkflowID: "wf", At: base},
			{RunID: "run-1", Type: api.HistoryStepFailed, WorkflowID: "wf", Step: "load", Attempt: 1, Detail: "boom", At: base},
		}
		for _, ev := range events {
			require.NoError(t, s.AppendHistory(ctx, ev))
		}

		hist, err := s.ListHistory(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, hist, 3)
		assert.Equal(t, api.HistoryRunCreated, hist[0].Type)
		assert.Equal(t, api.HistoryRunAttempt, hist[1].Type)
		assert.Equal(t, api.HistoryStepFailed, hist[2].Type)
		assert.Equal(t, "load", hist[2].Step)
		assert.Equal(t, "boom", hist[2].Detail)
		assert.Equal(t, 1, hist[2].Attempt)

		empty, err := s.ListHistory(ctx, "unknown")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("LeaseAcquireRelease", func(t *testing.T) {
		s := newStore(t)

		ok, err := s.TryAcquireLease(ctx, "run-1", "owner1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.TryAcquireLease(ctx, "run-1", "owner2", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "owner2 must not take an active lease")

		ok, err = s.TryAcquireLease(ctx, "run-1", "owner1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "leases are re-entrant for their owner")

		// Releasing someone else's lease is a no-op.
		require.NoError(t, s.ReleaseLease(ctx, "run-1", "owner2"))
		ok, err = s.TryAcquireLease(ctx, "run-1", "owner2", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.ReleaseLease(ctx, "run-1", "owner1"))
		ok, err = s.TryAcquireLease(ctx, "run-1", "owner2", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("LeaseExpires", func(t *testing.T) {
		s := newStore(t)

		ok, err := s.TryAcquireLease(ctx, "run-1", "owner1", 20*time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)

		time.Sleep(60 * time.Millisecond)

		ok, err = s.TryAcquireLease(ctx, "run-1", "owner2", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "expired lease must be up for grabs")
	})

	t.Run("LeaseConcurrentAcquireOnlyOne", func(t *testing.T) {
		s := newStore(t)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			acquired []string
		)
		for _, owner := range []string{"owner1", "owner2", "owner3", "owner4"} {
			wg.Add(1)
			go func(o string) {
				defer wg.Done()
				ok, err := s.TryAcquireLease(ctx, "run-1", o, time.Minute)
				if err != nil || !ok {
					return
				}
				mu.Lock()
				acquired = append(acquired, o)
				mu.Unlock()
			}(owner)
		}
		wg.Wait()

		assert.Len(t, acquired, 1)
	})
}
