package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/stepflow/internal/workflow"
	"github.com/kingrea/stepflow/internal/workflow/builder"
	"github.com/kingrea/stepflow/internal/workflow/engine"
)

func TestSchedulerReturnsConcurrentReadyNodes(t *testing.T) {
	sched := buildScheduler(t, fanOutEngine(t))
	batch, err := sched.Runnable(RunnableRequest{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"build", "docs"}, batch.IDs())
}

func TestSchedulerReportsBlockedAsNotReady(t *testing.T) {
	sched := buildScheduler(t, fanOutEngine(t))
	batch, err := sched.Runnable(RunnableRequest{Targets: []string{"release"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"build", "docs"}, batch.IDs(), "release prerequisites come first")

	reason, ok := batch.Skipped["release"]
	require.True(t, ok, "skipped: %+v", batch.Skipped)
	assert.Equal(t, SkipReasonNotReady, reason.Reason)

	_, err = sched.Runnable(RunnableRequest{Targets: []string{"nope"}})
	assert.Error(t, err)
}

func TestSchedulerHonorsManualGates(t *testing.T) {
	sched := buildScheduler(t, fanOutEngine(t))
	batch, err := sched.Runnable(RunnableRequest{
		Targets: []string{"docs"},
		ManualGates: map[string]ManualGateState{
			"docs": {Required: true, Approved: false},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, batch.Nodes)
	reason, ok := batch.Skipped["docs"]
	require.True(t, ok)
	assert.Equal(t, SkipReasonManualGate, reason.Reason)
	assert.Equal(t, "awaiting manual approval", reason.Detail)

	batch, err = sched.Runnable(RunnableRequest{
		Targets: []string{"docs"},
		ManualGates: map[string]ManualGateState{
			"docs": {Required: true, Approved: true},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, batch.IDs())
}

func TestSchedulerEnforcesParallelLimit(t *testing.T) {
	sched := buildScheduler(t, fanOutEngine(t))
	batch, err := sched.Runnable(RunnableRequest{BatchSize: 2, MaxParallel: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"build"}, batch.IDs())

	batch, err = sched.Runnable(RunnableRequest{MaxParallel: 1, Running: []string{"build"}})
	require.NoError(t, err)
	assert.Empty(t, batch.Nodes)
	reason, ok := batch.Skipped["docs"]
	require.True(t, ok)
	assert.Equal(t, SkipReasonConcurrency, reason.Reason)
}

func TestSchedulerSkipsRunningAndExhausted(t *testing.T) {
	eng := fanOutEngine(t)
	build, _ := eng.GetStep("build")
	build.SetAction(workflow.ActionFunc(func(context.Context, *workflow.Step) (bool, error) {
		return false, nil
	}))
	_, err := eng.ExecuteStep(context.Background(), "build")
	require.NoError(t, err)

	sched := buildScheduler(t, eng)
	batch, err := sched.Runnable(RunnableRequest{Running: []string{"docs"}, Exhausted: []string{"build"}})
	require.NoError(t, err)
	assert.Empty(t, batch.Nodes)
	assert.Equal(t, SkipReasonExhausted, batch.Skipped["build"].Reason)
	assert.Equal(t, SkipReasonActive, batch.Skipped["docs"].Reason)

	batch, err = sched.Runnable(RunnableRequest{})
	require.NoError(t, err)
	got := batch.IDs()
	require.Len(t, got, 2)
	assert.Equal(t, "build", got[0], "failed step should be retried first")
}

func buildScheduler(t *testing.T, eng *engine.Engine) *Scheduler {
	t.Helper()
	sched, err := New(eng.Snapshot())
	require.NoError(t, err)
	return sched
}

// fanOutEngine returns plan (completed) -> {build, docs} -> release.
func fanOutEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := builder.New().
		Step("plan", "Plan", "").
		Step("build", "Build", "", "plan").
		Step("docs", "Docs", "", "plan").
		Step("release", "Release", "", "build", "docs").
		Build()
	require.NoError(t, err)
	_, err = eng.ExecuteStep(context.Background(), "plan")
	require.NoError(t, err)
	return eng
}
