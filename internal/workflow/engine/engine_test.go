package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/stepflow/internal/workflow"
)

var fixedNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(opts...)
}

func mustAdd(t *testing.T, eng *Engine, steps ...*workflow.Step) {
	t.Helper()
	for _, step := range steps {
		require.NoError(t, eng.AddStep(step))
	}
}

func stepIDs(steps []*workflow.Step) []string {
	ids := make([]string, 0, len(steps))
	for _, step := range steps {
		ids = append(ids, step.ID())
	}
	return ids
}

func pricingEngine(t *testing.T) *Engine {
	eng := newTestEngine(t)
	mustAdd(t, eng,
		workflow.NewStep("FILE", "File Processing", "Process input files"),
		workflow.NewStep("FACT", "Fact Processing", "Derive facts").AddPrerequisite("FILE"),
		workflow.NewStep("PRICE", "Price Processing", "Calculate prices").AddPrerequisites("FILE", "FACT"),
	)
	return eng
}

func failing(message string) workflow.Action {
	return workflow.ActionFunc(func(context.Context, *workflow.Step) (bool, error) {
		if message == "" {
			return false, nil
		}
		return false, errors.New(message)
	})
}

func TestLinearChain(t *testing.T) {
	ctx := context.Background()
	eng := pricingEngine(t)

	assert.Equal(t, []string{"FILE"}, stepIDs(eng.ExecutableSteps()))

	_, err := eng.ExecuteStep(ctx, "FACT")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, []string{"prerequisite 'File Processing' is not-started"}, terr.Reasons)

	ok, err := eng.ExecuteStep(ctx, "FILE")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"FACT"}, stepIDs(eng.ExecutableSteps()))

	ok, err = eng.ExecuteStep(ctx, "FACT")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"PRICE"}, stepIDs(eng.ExecutableSteps()))

	ok, err = eng.ExecuteStep(ctx, "PRICE")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, eng.IsCompleted())
	assert.False(t, eng.HasFailures())
	assert.Empty(t, eng.ExecutableSteps())

	price, _ := eng.GetStep("PRICE")
	at, set := price.CompletedAt()
	require.True(t, set)
	assert.Equal(t, fixedNow, at)
}

func TestDiamondMerge(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	mustAdd(t, eng,
		workflow.NewStep("START", "Start", ""),
		workflow.NewStep("BRANCH_C", "Branch C", "").AddPrerequisite("START"),
		workflow.NewStep("BRANCH_A", "Branch A", "").AddPrerequisite("START"),
		workflow.NewStep("BRANCH_B", "Branch B", "").AddPrerequisite("START"),
		workflow.NewStep("MERGE", "Merge", "").AddPrerequisites("BRANCH_A", "BRANCH_B", "BRANCH_C"),
		workflow.NewStep("FINALIZE", "Finalize", "").AddPrerequisite("MERGE"),
	)

	_, err := eng.ExecuteStep(ctx, "START")
	require.NoError(t, err)
	assert.Equal(t, []string{"BRANCH_A", "BRANCH_B", "BRANCH_C"}, stepIDs(eng.ExecutableSteps()))

	_, err = eng.ExecuteStep(ctx, "BRANCH_B")
	require.NoError(t, err)
	assert.False(t, eng.CanExecute("MERGE"))
	assert.Equal(t, []string{
		"prerequisite 'Branch A' is not-started",
		"prerequisite 'Branch C' is not-started",
	}, eng.BlockedSteps()["MERGE"])

	for _, id := range []string{"BRANCH_A", "BRANCH_C"} {
		_, err = eng.ExecuteStep(ctx, id)
		require.NoError(t, err)
	}
	assert.True(t, eng.CanExecute("MERGE"))
	assert.NotContains(t, eng.BlockedSteps(), "MERGE")
	assert.Contains(t, eng.BlockedSteps(), "FINALIZE")
}

func TestMissingPrerequisite(t *testing.T) {
	eng := newTestEngine(t)
	mustAdd(t, eng, workflow.NewStep("HAUNTED", "Haunted", "").AddPrerequisite("GHOST"))

	assert.False(t, eng.CanExecute("HAUNTED"))
	assert.Equal(t, map[string][]string{"HAUNTED": {"prerequisite 'GHOST' not found"}}, eng.BlockedSteps())

	_, err := eng.ExecuteStep(context.Background(), "HAUNTED")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	mustAdd(t, eng, workflow.NewStep("GHOST", "Ghost", ""))
	assert.Equal(t, []string{"prerequisite 'Ghost' is not-started"}, eng.BlockedSteps()["HAUNTED"])
}

func TestFailureIsolation(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	mustAdd(t, eng,
		workflow.NewStep("BAD", "Bad", "").SetAction(failing("disk full")),
		workflow.NewStep("GOOD", "Good", ""),
		workflow.NewStep("AFTER_BAD", "After Bad", "").AddPrerequisite("BAD"),
	)

	ok, err := eng.ExecuteStep(ctx, "BAD")
	require.NoError(t, err, "action errors must not escape")
	assert.False(t, ok)
	ok, err = eng.ExecuteStep(ctx, "GOOD")
	require.NoError(t, err)
	assert.True(t, ok)

	bad, _ := eng.GetStep("BAD")
	assert.Equal(t, workflow.StatusFailed, bad.Status())
	assert.Equal(t, "disk full", bad.ErrorMessage())
	good, _ := eng.GetStep("GOOD")
	assert.Equal(t, workflow.StatusCompleted, good.Status())
	assert.True(t, eng.HasFailures())
	assert.False(t, eng.IsCompleted())
	assert.Equal(t, []string{"prerequisite 'Bad' is failed"}, eng.BlockedSteps()["AFTER_BAD"])
	assert.Equal(t, []string{"BAD"}, stepIDs(eng.ExecutableSteps()), "failed steps stay retryable")
}

func TestReexecutionAfterFailure(t *testing.T) {
	ctx := context.Background()
	var fixed atomic.Bool
	var seen []workflow.Status
	var mu sync.Mutex
	eng := newTestEngine(t, WithObserver(ObserverFunc(func(evt Event) {
		mu.Lock()
		seen = append(seen, evt.To)
		mu.Unlock()
	})))
	step := workflow.NewStep("X", "Flaky", "").SetActionFunc(func(_ context.Context, s *workflow.Step) (bool, error) {
		assert.Empty(t, s.ErrorMessage(), "error must be cleared before the action runs")
		return fixed.Load(), nil
	})
	mustAdd(t, eng, step)

	ok, err := eng.ExecuteStep(ctx, "X")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "step 'Flaky' failed during execution", step.ErrorMessage())

	fixed.Store(true)
	ok, err = eng.ExecuteStep(ctx, "X")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, step.ErrorMessage())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []workflow.Status{
		workflow.StatusNotStarted,
		workflow.StatusInProgress, workflow.StatusFailed,
		workflow.StatusInProgress, workflow.StatusCompleted,
	}, seen)
}

func TestForcedFailure(t *testing.T) {
	eng := pricingEngine(t)
	ok, err := eng.ExecuteStep(context.Background(), "FILE", WithForcedFailure())
	require.NoError(t, err)
	assert.False(t, ok)
	file, _ := eng.GetStep("FILE")
	assert.Equal(t, workflow.StatusFailed, file.Status())
	assert.Equal(t, "step 'File Processing' failed during execution", file.ErrorMessage())
	_, set := file.CompletedAt()
	assert.False(t, set)
}

func TestPanickingActionIsCaptured(t *testing.T) {
	eng := newTestEngine(t)
	mustAdd(t, eng, workflow.NewStep("BOOM", "", "").SetActionFunc(func(context.Context, *workflow.Step) (bool, error) {
		panic("kaboom")
	}))

	ok, err := eng.ExecuteStep(context.Background(), "BOOM")
	require.NoError(t, err)
	assert.False(t, ok)
	boom, _ := eng.GetStep("BOOM")
	assert.Equal(t, "panic: kaboom", boom.ErrorMessage())
}

func TestCompletedStepIsNotExecutableWithoutRerun(t *testing.T) {
	ctx := context.Background()
	eng := pricingEngine(t)
	var runs atomic.Int32
	file, _ := eng.GetStep("FILE")
	file.SetActionFunc(func(context.Context, *workflow.Step) (bool, error) {
		runs.Add(1)
		return true, nil
	})
	_, err := eng.ExecuteStep(ctx, "FILE")
	require.NoError(t, err)
	assert.False(t, eng.CanExecute("FILE"))

	_, err = eng.ExecuteStep(ctx, "FILE")
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, []string{"step 'File Processing' is completed"}, terr.Reasons)

	ok, err := eng.ExecuteStep(ctx, "FILE", WithRerun())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(2), runs.Load())
}

func TestUnknownStep(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.ExecuteStep(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrStepNotFound)
	_, ok := eng.GetStep("NOPE")
	assert.False(t, ok)
	assert.False(t, eng.CanExecute("NOPE"))
}

func TestAddStepErrors(t *testing.T) {
	eng := pricingEngine(t)

	err := eng.AddStep(workflow.NewStep("FILE", "Another file", ""))
	assert.ErrorIs(t, err, ErrDuplicateStep)
	file, _ := eng.GetStep("FILE")
	assert.Equal(t, "File Processing", file.Name(), "registry must keep the original step")
	assert.Equal(t, 3, eng.Len())

	assert.ErrorIs(t, eng.AddStep(nil), ErrInvalidStep)
	assert.ErrorIs(t, eng.AddStep(workflow.NewStep("  ", "", "")), ErrInvalidStep)

	other := newTestEngine(t)
	assert.ErrorIs(t, other.AddStep(file), ErrStepOwned)
	_, err = file.Claim()
	assert.ErrorIs(t, err, workflow.ErrStepClaimed, "only the engine drives a registered step")
}

func TestResetRoundTrip(t *testing.T) {
	ctx := context.Background()
	eng := pricingEngine(t)
	file, _ := eng.GetStep("FILE")
	file.SetActionFunc(func(_ context.Context, s *workflow.Step) (bool, error) {
		s.Set("rows", 10)
		return true, nil
	})
	fact, _ := eng.GetStep("FACT")
	fact.SetAction(failing("bad facts"))

	_, _ = eng.ExecuteStep(ctx, "FILE")
	_, _ = eng.ExecuteStep(ctx, "FACT")
	require.True(t, eng.HasFailures())

	eng.Reset()

	for _, step := range eng.Steps() {
		info := step.Info()
		assert.Equal(t, workflow.StatusNotStarted, info.Status, step.ID())
		assert.Empty(t, info.ErrorMessage, step.ID())
		assert.Nil(t, info.CompletedAt, step.ID())
		assert.Empty(t, info.Data, step.ID())
	}
	assert.Equal(t, []string{"FILE"}, stepIDs(eng.ExecutableSteps()))
	assert.NotNil(t, file.Action(), "reset keeps actions")
}

func TestDataBagPersistsAcrossReexecution(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	attempt := 0
	step := workflow.NewStep("DOWNLOAD", "Download", "").SetActionFunc(func(_ context.Context, s *workflow.Step) (bool, error) {
		attempt++
		if attempt == 1 {
			s.Set("partial", true)
			return false, nil
		}
		s.Set("file_size", "2.5MB")
		return true, nil
	})
	mustAdd(t, eng, step)

	_, _ = eng.ExecuteStep(ctx, "DOWNLOAD")
	_, _ = eng.ExecuteStep(ctx, "DOWNLOAD")

	assert.Equal(t, map[string]any{"partial": true, "file_size": "2.5MB"}, step.Data())
}

func TestConcurrentExecutionOfSameStepRunsOnce(t *testing.T) {
	eng := newTestEngine(t)
	release := make(chan struct{})
	var runs atomic.Int32
	mustAdd(t, eng, workflow.NewStep("ONCE", "", "").SetActionFunc(func(context.Context, *workflow.Step) (bool, error) {
		runs.Add(1)
		<-release
		return true, nil
	}))

	const callers = 16
	var wg sync.WaitGroup
	var rejected atomic.Int32
	started := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			if _, err := eng.ExecuteStep(context.Background(), "ONCE"); errors.Is(err, ErrInvalidTransition) {
				rejected.Add(1)
			}
		}()
	}
	for i := 0; i < callers; i++ {
		<-started
	}
	require.Eventually(t, func() bool { return rejected.Load() == callers-1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
	once, _ := eng.GetStep("ONCE")
	assert.Equal(t, workflow.StatusCompleted, once.Status())
}

func TestIndependentStepsRunConcurrently(t *testing.T) {
	eng := newTestEngine(t)
	var barrier sync.WaitGroup
	barrier.Add(2)
	meet := workflow.ActionFunc(func(ctx context.Context, _ *workflow.Step) (bool, error) {
		barrier.Done()
		done := make(chan struct{})
		go func() { barrier.Wait(); close(done) }()
		select {
		case <-done:
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	})
	mustAdd(t, eng,
		workflow.NewStep("A", "", "").SetAction(meet),
		workflow.NewStep("B", "", "").SetAction(meet),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var wg sync.WaitGroup
	for _, id := range []string{"A", "B"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			ok, err := eng.ExecuteStep(ctx, id)
			assert.NoError(t, err)
			assert.True(t, ok, id)
		}(id)
	}
	wg.Wait()
	assert.True(t, eng.IsCompleted())
}

func TestInProgressStepIsNeitherExecutableNorBlocked(t *testing.T) {
	eng := newTestEngine(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	mustAdd(t, eng,
		workflow.NewStep("SLOW", "Slow", "").SetActionFunc(func(context.Context, *workflow.Step) (bool, error) {
			close(entered)
			<-release
			return true, nil
		}),
		workflow.NewStep("NEXT", "Next", "").AddPrerequisite("SLOW"),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = eng.ExecuteStep(context.Background(), "SLOW")
	}()
	<-entered

	slow, _ := eng.GetStep("SLOW")
	assert.Equal(t, workflow.StatusInProgress, slow.Status())
	assert.Empty(t, eng.ExecutableSteps())
	blocked := eng.BlockedSteps()
	assert.NotContains(t, blocked, "SLOW")
	assert.Equal(t, []string{"prerequisite 'Slow' is in-progress"}, blocked["NEXT"])
	assert.Equal(t, EngineStatusRunning, eng.Snapshot().Status)

	close(release)
	<-done
	assert.True(t, eng.CanExecute("NEXT"))
}

func TestResetDuringExecutionDiscardsResult(t *testing.T) {
	eng := newTestEngine(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	mustAdd(t, eng, workflow.NewStep("SLOW", "", "").SetActionFunc(func(context.Context, *workflow.Step) (bool, error) {
		close(entered)
		<-release
		return true, nil
	}))

	result := make(chan error, 1)
	go func() {
		_, err := eng.ExecuteStep(context.Background(), "SLOW")
		result <- err
	}()
	<-entered
	eng.Reset()
	close(release)

	assert.ErrorIs(t, <-result, ErrStepReset)
	slow, _ := eng.GetStep("SLOW")
	assert.Equal(t, workflow.StatusNotStarted, slow.Status())
}

func TestStaleAttemptCannotOverwriteNewerRun(t *testing.T) {
	eng := newTestEngine(t)
	var attempts atomic.Int32
	entered := []chan struct{}{make(chan struct{}), make(chan struct{})}
	release := []chan struct{}{make(chan struct{}), make(chan struct{})}
	outcomes := []bool{false, true}
	mustAdd(t, eng, workflow.NewStep("X", "", "").SetActionFunc(func(context.Context, *workflow.Step) (bool, error) {
		n := attempts.Add(1) - 1
		close(entered[n])
		<-release[n]
		return outcomes[n], nil
	}))

	run := func() <-chan error {
		result := make(chan error, 1)
		go func() {
			_, err := eng.ExecuteStep(context.Background(), "X")
			result <- err
		}()
		return result
	}
	x, _ := eng.GetStep("X")

	first := run()
	<-entered[0]
	eng.Reset()
	second := run()
	<-entered[1]

	close(release[0])
	assert.ErrorIs(t, <-first, ErrStepReset)
	assert.Equal(t, workflow.StatusInProgress, x.Status(), "the newer run is still going")
	assert.Empty(t, x.ErrorMessage())

	close(release[1])
	require.NoError(t, <-second)
	assert.Equal(t, workflow.StatusCompleted, x.Status())
}

func TestDefaultActionAndOutcome(t *testing.T) {
	var calls atomic.Int32
	eng := newTestEngine(t, WithDefaultAction(workflow.ActionFunc(func(_ context.Context, s *workflow.Step) (bool, error) {
		calls.Add(1)
		return true, s.MarkOutcome(workflow.OutcomeWarning)
	})))
	mustAdd(t, eng, workflow.NewStep("A", "", ""), workflow.NewStep("B", "", "").SetAction(workflow.NoOp))

	_, _ = eng.ExecuteStep(context.Background(), "A")
	_, _ = eng.ExecuteStep(context.Background(), "B")

	a, _ := eng.GetStep("A")
	b, _ := eng.GetStep("B")
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, workflow.OutcomeWarning, a.Outcome())
	assert.Equal(t, workflow.OutcomeOK, b.Outcome())
}

func TestCancelledContextFailsStep(t *testing.T) {
	eng := newTestEngine(t, WithDefaultAction(&workflow.Simulated{MinDelay: time.Hour, MaxDelay: time.Hour}))
	mustAdd(t, eng, workflow.NewStep("WAIT", "", ""))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := eng.ExecuteStep(ctx, "WAIT")
	require.NoError(t, err)
	assert.False(t, ok)
	wait, _ := eng.GetStep("WAIT")
	assert.Equal(t, context.Canceled.Error(), wait.ErrorMessage())
}

func TestValidateDetectsCycles(t *testing.T) {
	eng := newTestEngine(t)
	mustAdd(t, eng,
		workflow.NewStep("A", "", "").AddPrerequisite("B"),
		workflow.NewStep("B", "", "").AddPrerequisite("A"),
		workflow.NewStep("C", "", "").AddPrerequisite("GHOST"),
	)
	err := eng.Validate()
	require.ErrorIs(t, err, ErrCyclicDependency)
	assert.Contains(t, err.Error(), "A -> B -> A")

	assert.NoError(t, pricingEngine(t).Validate())
}

func TestEmptyWorkflowIsCompleted(t *testing.T) {
	eng := newTestEngine(t)
	assert.True(t, eng.IsCompleted())
	assert.False(t, eng.HasFailures())
	assert.Equal(t, EngineStatusComplete, eng.Snapshot().Status)
}

func TestSnapshotDerivesStatus(t *testing.T) {
	ctx := context.Background()
	eng := pricingEngine(t)

	state := eng.Snapshot()
	assert.Equal(t, EngineStatusRunning, state.Status)
	assert.Equal(t, []string{"FILE"}, state.Executable)
	assert.Len(t, state.Steps, 3)
	assert.Equal(t, "FACT", state.Steps[0].ID)
	price, ok := state.Step("PRICE")
	require.True(t, ok)
	assert.Len(t, price.BlockedBy, 2)

	_, _ = eng.ExecuteStep(ctx, "FILE", WithForcedFailure())
	state = eng.Snapshot()
	assert.Equal(t, EngineStatusError, state.Status)
	assert.Equal(t, "FILE failed", state.StatusReason)
	assert.Equal(t, 1, state.Counts()[workflow.StatusFailed])

	ghost := newTestEngine(t)
	mustAdd(t, ghost, workflow.NewStep("HAUNTED", "", "").AddPrerequisite("GHOST"))
	assert.Equal(t, EngineStatusBlocked, ghost.Snapshot().Status)
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	eng := pricingEngine(t)
	var events []Event
	unsubscribe := eng.Subscribe(ObserverFunc(func(evt Event) { events = append(events, evt) }))

	_, _ = eng.ExecuteStep(context.Background(), "FILE")
	unsubscribe()
	unsubscribe()
	_, _ = eng.ExecuteStep(context.Background(), "FACT")

	require.Len(t, events, 2)
	assert.Equal(t, EventStarted, events[0].Type)
	assert.Equal(t, EventCompleted, events[1].Type)
	assert.Equal(t, workflow.OutcomeOK, events[1].Outcome)
	assert.Equal(t, eng.ID(), events[1].EngineID)
	assert.NotEmpty(t, events[1].ID)
	assert.Equal(t, fixedNow, events[1].At)
}

func TestRepositoryRoundTrip(t *testing.T) {
	eng := pricingEngine(t)
	_, _ = eng.ExecuteStep(context.Background(), "FILE")
	repo := NewRepository(filepath.Join(t.TempDir(), "reports", "state.json"))

	_, err := repo.Load()
	assert.ErrorIs(t, err, ErrStateNotFound)

	require.NoError(t, repo.Save(eng.Snapshot()))
	loaded, err := repo.Load()
	require.NoError(t, err)
	assert.Equal(t, eng.ID(), loaded.EngineID)
	file, ok := loaded.Step("FILE")
	require.True(t, ok)
	assert.Equal(t, workflow.StatusCompleted, file.Status)
	require.NotNil(t, file.CompletedAt)
	assert.True(t, fixedNow.Equal(*file.CompletedAt))
}
