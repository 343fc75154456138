package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/stepflow/internal/workflow"
)

// Built-in action identifiers.
const (
	NoOpID     = "noop"
	SimulateID = "simulate"
	FailID     = "fail"
	SleepID    = "sleep"
	SetID      = "set"
)

// RegisterBuiltins installs all of the built-in action factories into the
// provided registry.
func RegisterBuiltins(reg *Registry) {
	if reg == nil {
		return
	}
	reg.MustRegister(NoOpID, func(Config) (workflow.Action, error) {
		return workflow.NoOp, nil
	})
	reg.MustRegister(SimulateID, newSimulate)
	reg.MustRegister(FailID, newFail)
	reg.MustRegister(SleepID, newSleep)
	reg.MustRegister(SetID, newSet)
}

// NewBuiltinRegistry returns a registry with the built-ins installed.
func NewBuiltinRegistry() *Registry {
	reg := NewRegistry()
	RegisterBuiltins(reg)
	return reg
}

// newSimulate reads min_delay, max_delay and failure_rate.
func newSimulate(cfg Config) (workflow.Action, error) {
	def := workflow.DefaultSimulated()
	minDelay, err := cfg.Duration("min_delay", def.MinDelay)
	if err != nil {
		return nil, err
	}
	maxDelay, err := cfg.Duration("max_delay", def.MaxDelay)
	if err != nil {
		return nil, err
	}
	rate, err := cfg.Float("failure_rate", 0)
	if err != nil {
		return nil, err
	}
	sim := &workflow.Simulated{MinDelay: minDelay, MaxDelay: maxDelay, FailureRate: rate}
	if err := sim.Validate(); err != nil {
		return nil, err
	}
	return sim, nil
}

// newFail always fails, with message as the error text when given.
func newFail(cfg Config) (workflow.Action, error) {
	message := cfg.String("message", "")
	return workflow.ActionFunc(func(context.Context, *workflow.Step) (bool, error) {
		if message == "" {
			return false, nil
		}
		return false, errors.New(message)
	}), nil
}

// newSleep waits for duration and succeeds.
func newSleep(cfg Config) (workflow.Action, error) {
	d, err := cfg.Duration("duration", time.Second)
	if err != nil {
		return nil, err
	}
	if d < 0 {
		return nil, fmt.Errorf("duration must be >= 0")
	}
	return workflow.ActionFunc(func(ctx context.Context, _ *workflow.Step) (bool, error) {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return true, nil
		}
	}), nil
}

// newSet copies values into the step's data bag and optionally marks an
// outcome.
func newSet(cfg Config) (workflow.Action, error) {
	values, err := cfg.Map("values")
	if err != nil {
		return nil, err
	}
	outcome := workflow.Outcome(cfg.String("outcome", ""))
	if !outcome.Valid() {
		return nil, fmt.Errorf("unknown outcome %q", outcome)
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return workflow.ActionFunc(func(_ context.Context, step *workflow.Step) (bool, error) {
		for _, key := range keys {
			step.Set(key, values[key])
		}
		if outcome != workflow.OutcomeNone {
			if err := step.MarkOutcome(outcome); err != nil {
				return false, err
			}
		}
		return true, nil
	}), nil
}

// String reads a string value.
func (c Config) String(key, def string) string {
	raw, ok := c[key]
	if !ok || raw == nil {
		return def
	}
	if s, ok := raw.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(raw)
}

// Duration reads a duration given as a Go duration string or as integer
// milliseconds.
func (c Config) Duration(key string, def time.Duration) (time.Duration, error) {
	raw, ok := c[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case time.Duration:
		return v, nil
	case int:
		return time.Duration(v) * time.Millisecond, nil
	case int64:
		return time.Duration(v) * time.Millisecond, nil
	case float64:
		return time.Duration(v * float64(time.Millisecond)), nil
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("%s: unsupported duration value %v", key, raw)
	}
}

// Float reads a numeric value.
func (c Config) Float(key string, def float64) (float64, error) {
	raw, ok := c[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%s: unsupported number %v", key, raw)
	}
}

// Map reads a nested mapping. Decoding into workflow.ActionConfig gives
// nested mappings that same named type.
func (c Config) Map(key string) (map[string]any, error) {
	raw, ok := c[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case map[string]any:
		return v, nil
	case Config:
		return map[string]any(v), nil
	case workflow.ActionConfig:
		return map[string]any(v), nil
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: expected a mapping, got %T", key, raw)
	}
}
