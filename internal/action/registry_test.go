package action

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/stepflow/internal/workflow"
)

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	factory := func(Config) (workflow.Action, error) { return workflow.NoOp, nil }

	require.NoError(t, reg.Register("x", factory))
	assert.Error(t, reg.Register("x", factory))
	assert.Error(t, reg.Register("", factory))
	assert.Error(t, reg.Register("y", nil))
	assert.Panics(t, func() { reg.MustRegister("x", factory) })
}

func TestRegistryResolveUnknown(t *testing.T) {
	_, err := NewBuiltinRegistry().Resolve("teleport", nil)
	assert.ErrorContains(t, err, "unknown id teleport")
}

func TestBuiltinIDs(t *testing.T) {
	reg := NewBuiltinRegistry()
	assert.Equal(t, []string{FailID, NoOpID, SetID, SimulateID, SleepID}, reg.IDs())
}

func TestSimulateConfig(t *testing.T) {
	reg := NewBuiltinRegistry()
	act, err := reg.Resolve(SimulateID, Config{"min_delay": "5ms", "max_delay": 10, "failure_rate": 0.25})
	require.NoError(t, err)
	sim, ok := act.(*workflow.Simulated)
	require.True(t, ok)
	assert.Equal(t, 5*time.Millisecond, sim.MinDelay)
	assert.Equal(t, 10*time.Millisecond, sim.MaxDelay)
	assert.Equal(t, 0.25, sim.FailureRate)

	_, err = reg.Resolve(SimulateID, Config{"min_delay": "2s", "max_delay": "1s"})
	assert.Error(t, err)
	_, err = reg.Resolve(SimulateID, Config{"min_delay": "soon"})
	assert.Error(t, err)
}

func TestFailAction(t *testing.T) {
	reg := NewBuiltinRegistry()
	act, err := reg.Resolve(FailID, Config{"message": "upstream unavailable"})
	require.NoError(t, err)
	ok, runErr := act.Run(context.Background(), workflow.NewStep("x", "", ""))
	assert.False(t, ok)
	assert.EqualError(t, runErr, "upstream unavailable")

	silent, err := reg.Resolve(FailID, nil)
	require.NoError(t, err)
	ok, runErr = silent.Run(context.Background(), workflow.NewStep("x", "", ""))
	assert.False(t, ok)
	assert.NoError(t, runErr)
}

func TestSetActionWritesDataAndOutcome(t *testing.T) {
	reg := NewBuiltinRegistry()
	act, err := reg.Resolve(SetID, Config{
		"values":  map[string]any{"extracted_files": 15, "processed_records": 1250},
		"outcome": "warning",
	})
	require.NoError(t, err)
	step := workflow.NewStep("EXTRACT", "", "")
	ok, err := act.Run(context.Background(), step)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"extracted_files": 15, "processed_records": 1250}, step.Data())
	assert.Equal(t, workflow.OutcomeWarning, step.Outcome())

	_, err = reg.Resolve(SetID, Config{"outcome": "meh"})
	assert.Error(t, err)
	_, err = reg.Resolve(SetID, Config{"values": "nope"})
	assert.Error(t, err)
}

func TestSetActionAcceptsDecodedDefinitionConfig(t *testing.T) {
	def, err := workflow.ParseDefinitionYAML([]byte(`
id: decoded
steps:
  - id: EXTRACT
    action: set
    config:
      outcome: no-data
      values:
        rows: 3
        source: ftp
`))
	require.NoError(t, err)
	require.Len(t, def.Steps, 1)

	act, err := NewBuiltinRegistry().Resolve(SetID, Config(def.Steps[0].Config))
	require.NoError(t, err)
	step := workflow.NewStep("EXTRACT", "", "")
	ok, err := act.Run(context.Background(), step)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"rows": 3, "source": "ftp"}, step.Data())
	assert.Equal(t, workflow.OutcomeNoData, step.Outcome())
}

func TestSleepHonoursContext(t *testing.T) {
	act, err := NewBuiltinRegistry().Resolve(SleepID, Config{"duration": "1h"})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := act.Run(ctx, workflow.NewStep("x", "", ""))
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}
