package workflow

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Simulated stands in for real work: it waits a random duration between
// MinDelay and MaxDelay and then fails with probability FailureRate.
type Simulated struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	FailureRate float64

	// Float64 returns a value in [0,1). Defaults to math/rand/v2.
	Float64 func() float64
}

// DefaultSimulated mirrors the demo pacing of one to three seconds per step.
func DefaultSimulated() *Simulated {
	return &Simulated{MinDelay: time.Second, MaxDelay: 3 * time.Second}
}

// Validate checks the delay window and failure rate.
func (s *Simulated) Validate() error {
	if s.MinDelay < 0 || s.MaxDelay < 0 {
		return fmt.Errorf("workflow: simulated delay must be >= 0")
	}
	if s.MaxDelay < s.MinDelay {
		return fmt.Errorf("workflow: simulated max delay %s is below min delay %s", s.MaxDelay, s.MinDelay)
	}
	if s.FailureRate < 0 || s.FailureRate > 1 {
		return fmt.Errorf("workflow: simulated failure rate %.2f outside [0,1]", s.FailureRate)
	}
	return nil
}

// Run implements Action.
func (s *Simulated) Run(ctx context.Context, step *Step) (bool, error) {
	if err := s.Validate(); err != nil {
		return false, err
	}
	delay := s.delay()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}
	step.Set("simulated_delay", delay.String())
	if s.FailureRate > 0 && s.random() < s.FailureRate {
		return false, nil
	}
	return true, nil
}

func (s *Simulated) delay() time.Duration {
	span := s.MaxDelay - s.MinDelay
	if span <= 0 {
		return s.MinDelay
	}
	return s.MinDelay + time.Duration(s.random()*float64(span))
}

func (s *Simulated) random() float64 {
	if s.Float64 != nil {
		return s.Float64()
	}
	return rand.Float64()
}
