// Package annealing implements a generic Metropolis-style simulated annealing
// driver. The scheduler knows nothing about what a move changes: a Problem
// proposes a move, applies it tentatively and reports the energy delta, and
// the scheduler decides whether the move is kept or reverted.
//
// The scheduler minimises. A move whose new objective is not larger than the
// current one is always kept; a worsening move by |d| is rejected when a
// uniform draw r satisfies r > T/|d|. Temperature T is multiplied by the
// annealing rate after every accepted move.
//
// A run stops when the temperature falls below Epsilon, when the iteration
// counter exceeds MaxIterations, or when the objective moved by less than
// StallTolerance between two progress checks. Checks are taken after an
// accepted move once CheckInterval iterations have passed since the last one.
package annealing

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
)

// StallTolerance is the smallest objective change between two progress
// checks that keeps a run going.
const StallTolerance = 1e-7

// Reference defaults of the segmentation pipeline.
const (
	DefaultTemperature0  = 0.1
	DefaultEpsilon       = 1e-7
	DefaultAnnealingRate = 0.999999
	DefaultMaxIterations = int64(100000000000)
	DefaultCheckInterval = int64(1000000)
)

// ErrInvalidOptions indicates options that would make the loop ill-defined.
var ErrInvalidOptions = errors.New("annealing: invalid options")

// StopReason names the terminal state of a run.
type StopReason int

const (
	// StopNone means the run has not terminated.
	StopNone StopReason = iota
	// StopTemperatureFloor means the temperature fell below epsilon.
	StopTemperatureFloor
	// StopMaxIterations means the iteration budget was exhausted.
	StopMaxIterations
	// StopStalled means the objective did not change between two checks.
	StopStalled
)

func (r StopReason) String() string {
	switch r {
	case StopTemperatureFloor:
		return "temperature-floor"
	case StopMaxIterations:
		return "max-iterations"
	case StopStalled:
		return "converged"
	default:
		return "running"
	}
}

// Options configures one annealing run.
type Options struct {
	// Temperature0 is the starting temperature.
	Temperature0 float64
	// Epsilon is the temperature floor, in (0,1).
	Epsilon float64
	// AnnealingRate is the cooling factor per accepted move, in (0,1).
	AnnealingRate float64
	// MaxIterations bounds the number of proposals.
	MaxIterations int64
	// CheckInterval is the least number of iterations between progress checks.
	CheckInterval int64
	// Seed initialises the run-owned generator.
	Seed uint64
}

// DefaultOptions returns the reference configuration.
func DefaultOptions() Options {
	return Options{
		Temperature0:  DefaultTemperature0,
		Epsilon:       DefaultEpsilon,
		AnnealingRate: DefaultAnnealingRate,
		MaxIterations: DefaultMaxIterations,
		CheckInterval: DefaultCheckInterval,
	}
}

// Validate rejects options the loop cannot run with.
func (o Options) Validate() error {
	switch {
	case !(o.Epsilon > 0 && o.Epsilon < 1):
		return fmt.Errorf("%w: epsilon %g outside (0,1)", ErrInvalidOptions, o.Epsilon)
	case !(o.AnnealingRate > 0 && o.AnnealingRate < 1):
		return fmt.Errorf("%w: annealing rate %g outside (0,1)", ErrInvalidOptions, o.AnnealingRate)
	case !(o.Temperature0 > 0) || math.IsInf(o.Temperature0, 0):
		return fmt.Errorf("%w: temperature0 %g must be positive", ErrInvalidOptions, o.Temperature0)
	case o.MaxIterations < 1:
		return fmt.Errorf("%w: max iterations %d must be positive", ErrInvalidOptions, o.MaxIterations)
	case o.CheckInterval < 1:
		return fmt.Errorf("%w: check interval %d must be positive", ErrInvalidOptions, o.CheckInterval)
	}
	return nil
}

// Problem is the optimisation target of a run. M is the move type threaded
// through Propose, Apply and Revert.
type Problem[M any] interface {
	// Energy evaluates the full objective of the current state.
	Energy() float64
	// Propose draws a random move without applying it.
	Propose(rng *rand.Rand) M
	// Apply makes the move tentatively and returns the energy delta.
	Apply(m M) float64
	// Revert undoes a move made by Apply.
	Revert(m M)
}

// Accept reports whether a move from objective to newObjective is kept at
// the given temperature, r being a uniform draw from [0,1).
func Accept(objective, newObjective, temperature, r float64) bool {
	if newObjective <= objective {
		return true
	}
	delta := math.Abs(objective - newObjective)
	if delta > 0 && r > temperature/delta {
		return false
	}
	return true
}

// Progress is a snapshot reported to observers.
type Progress struct {
	Iteration   int64
	Accepted    int64
	Rejected    int64
	Objective   float64
	Temperature float64
	Reason      StopReason
}

// Observer receives progress at every check and once when the run stops.
type Observer interface {
	Observe(p Progress)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(p Progress)

// Observe implements Observer.
func (f ObserverFunc) Observe(p Progress) { f(p) }

// LogObserver writes progress records to a structured logger.
type LogObserver struct {
	Logger *slog.Logger
}

// Observe implements Observer.
func (l LogObserver) Observe(p Progress) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if p.Reason != StopNone {
		logger.Info("annealing stopped",
			"reason", p.Reason.String(),
			"iteration", p.Iteration,
			"objective", p.Objective,
			"temperature", p.Temperature)
		return
	}
	logger.Info("annealing progress",
		"iteration", p.Iteration,
		"accepted", p.Accepted,
		"objective", p.Objective,
		"temperature", p.Temperature)
}

// Result summarises a finished run.
type Result struct {
	Iterations  int64
	Accepted    int64
	Rejected    int64
	Objective   float64
	Temperature float64
	Reason      StopReason
}
