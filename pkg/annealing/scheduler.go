package annealing

import (
	"math"
	"math/rand/v2"
)

// Step describes one iteration, reported to the trace hook. Objective is the
// value before the proposal.
type Step struct {
	Iteration         int64
	Objective         float64
	NewObjective      float64
	TemperatureBefore float64
	TemperatureAfter  float64
	Accepted          bool
}

// Scheduler drives a Problem to a terminal state. A Scheduler owns its random
// generator and is not safe for concurrent use; run one scheduler per
// goroutine.
type Scheduler[M any] struct {
	opts      Options
	rng       *rand.Rand
	observers []Observer
	trace     func(Step)
}

// NewScheduler validates opts and returns a scheduler seeded from opts.Seed.
func NewScheduler[M any](opts Options, observers ...Observer) (*Scheduler[M], error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler[M]{
		opts:      opts,
		rng:       rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		observers: observers,
	}, nil
}

// Rand exposes the run-owned generator, used to initialise the problem state
// from the same seed.
func (s *Scheduler[M]) Rand() *rand.Rand { return s.rng }

// SetTrace installs a hook called after every iteration.
func (s *Scheduler[M]) SetTrace(fn func(Step)) { s.trace = fn }

// Run optimises p until a stop condition holds and returns the final state.
// The problem is left in its final configuration.
func (s *Scheduler[M]) Run(p Problem[M]) Result {
	var (
		objective   = p.Energy()
		temperature = s.opts.Temperature0
		iteration   int64
		accepted    int64
		lastCheck   = objective
		lastCheckIt int64
		reason      StopReason
	)

	for reason == StopNone {
		if temperature < s.opts.Epsilon {
			reason = StopTemperatureFloor
			break
		}
		if iteration > s.opts.MaxIterations {
			reason = StopMaxIterations
			break
		}

		m := p.Propose(s.rng)
		newObjective := objective + p.Apply(m)
		iteration++

		before, prev := temperature, objective
		keep := true
		if newObjective > objective {
			keep = Accept(objective, newObjective, temperature, s.rng.Float64())
		}
		if !keep {
			p.Revert(m)
		} else {
			temperature *= s.opts.AnnealingRate
			objective = newObjective
			accepted++
		}
		if s.trace != nil {
			s.trace(Step{
				Iteration:         iteration,
				Objective:         prev,
				NewObjective:      newObjective,
				TemperatureBefore: before,
				TemperatureAfter:  temperature,
				Accepted:          keep,
			})
		}
		if !keep || iteration-lastCheckIt < s.opts.CheckInterval {
			continue
		}

		s.notify(Progress{
			Iteration:   iteration,
			Accepted:    accepted,
			Rejected:    iteration - accepted,
			Objective:   objective,
			Temperature: temperature,
		})
		if math.Abs(objective-lastCheck) < StallTolerance {
			reason = StopStalled
		}
		lastCheck = objective
		lastCheckIt = iteration
	}

	res := Result{
		Iterations:  iteration,
		Accepted:    accepted,
		Rejected:    iteration - accepted,
		Objective:   objective,
		Temperature: temperature,
		Reason:      reason,
	}
	s.notify(Progress{
		Iteration:   res.Iterations,
		Accepted:    res.Accepted,
		Rejected:    res.Rejected,
		Objective:   res.Objective,
		Temperature: res.Temperature,
		Reason:      res.Reason,
	})
	return res
}

func (s *Scheduler[M]) notify(p Progress) {
	for _, o := range s.observers {
		o.Observe(p)
	}
}
