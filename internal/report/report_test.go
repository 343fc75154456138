package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/stepflow/internal/catalog"
	"github.com/kingrea/stepflow/internal/workflow"
	"github.com/kingrea/stepflow/internal/workflow/engine"
	"github.com/kingrea/stepflow/internal/workflow/runner"
)

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 9, 30, 15, 0, time.UTC)
}

func TestStateListsStepsAndBlockers(t *testing.T) {
	eng, err := catalog.FileFactPrice(engine.WithClock(fixedClock))
	require.NoError(t, err)
	_, err = eng.ExecuteStep(context.Background(), "FILE")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, New(&buf).State(eng.Snapshot()))
	out := buf.String()

	assert.Contains(t, out, "File -> Fact -> Price · Current workflow state")
	assert.Contains(t, out, "✔ FILE: File Processing (completed)")
	assert.Contains(t, out, "completed 09:30:15")
	assert.Contains(t, out, "○ PRICE: Price Calculation (not-started)")
	assert.Contains(t, out, "prerequisites: FILE, FACT")
	assert.Contains(t, out, "Ready to execute: FACT")
	assert.Contains(t, out, "Blocked PRICE: prerequisite 'Fact Processing' is not-started")
	assert.Contains(t, out, "Progress: 1/3 completed, 0 failed")
	assert.Contains(t, out, "Status: running")
}

func TestStepShowsErrorOutcomeAndData(t *testing.T) {
	eng := engine.New(engine.WithClock(fixedClock))
	warn := workflow.NewStep("WARN", "Warn", "Completes with a warning").
		SetActionFunc(func(_ context.Context, s *workflow.Step) (bool, error) {
			s.Set("rows", 3)
			s.MarkOutcome(workflow.OutcomeWarning)
			return true, nil
		})
	require.NoError(t, eng.AddStep(warn))
	require.NoError(t, eng.AddStep(workflow.NewStep("BAD", "Bad", "").AddPrerequisite("WARN")))
	ctx := context.Background()
	_, err := eng.ExecuteStep(ctx, "WARN")
	require.NoError(t, err)
	_, err = eng.ExecuteStep(ctx, "BAD", engine.WithForcedFailure())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, New(&buf).Details(eng.Snapshot()))
	out := buf.String()
	assert.Contains(t, out, "Step WARN: Warn")
	assert.Contains(t, out, "Status: completed, warning")
	assert.Contains(t, out, "Description: Completes with a warning")
	assert.Contains(t, out, "Dependents: BAD")
	assert.Contains(t, out, "rows = 3")
	assert.Contains(t, out, "Completed: 2024-05-01 09:30:15")
	assert.Contains(t, out, "Prerequisites: None")
	assert.Contains(t, out, "Error: step 'Bad' failed during execution")
}

func TestSummary(t *testing.T) {
	eng, err := catalog.Parallel()
	require.NoError(t, err)
	r, err := runner.New(eng, runner.WithForcedFailures("BRANCH_C"), runner.WithRetries(1))
	require.NoError(t, err)
	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, New(&buf).Summary(summary))
	out := buf.String()
	assert.Contains(t, out, "completed: 3")
	assert.Contains(t, out, "failed: BRANCH_C")
	assert.Contains(t, out, "blocked MERGE: prerequisite 'Process Branch C' is failed")
	assert.Contains(t, out, "BRANCH_C attempts: 2")
	assert.Contains(t, out, "status: error")
}

func TestIcon(t *testing.T) {
	assert.Equal(t, "○", Icon(workflow.StatusNotStarted))
	assert.Equal(t, "▶", Icon(workflow.StatusInProgress))
	assert.Equal(t, "✔", Icon(workflow.StatusCompleted))
	assert.Equal(t, "✖", Icon(workflow.StatusFailed))
}
