package setaac

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// RunOptions configures one exploration. Nil predicates never match.
type RunOptions struct {
	// Find moves matching states to the found pool.
	Find Predicate

	// Avoid moves matching states to the avoided pool.
	Avoid Predicate

	// Prune discards matching states before any solver call.
	Prune Predicate

	// FindAll keeps exploring after the first found state.
	FindAll bool
}

// SimulationManager drives exploration from an entry state and sorts
// states into pools. Active states wait in the searcher; found, avoided,
// errored and deadended states are terminal.
type SimulationManager struct {
	executor *Executor
	searcher Searcher
	maxSteps int

	found     []*State
	avoided   []*State
	errored   []*State
	deadended []*State

	steps  int
	pruned int
	logger zerolog.Logger
}

// NewSimulationManager returns a manager with entry as its only active state.
func NewSimulationManager(entry *State, executor *Executor, config Config) *SimulationManager {
	m := &SimulationManager{
		executor: executor,
		searcher: NewSearcher(config),
		maxSteps: config.MaxSteps,
		logger:   componentLogger("simgr"),
	}
	m.searcher.AddState(entry)
	return m
}

// SetSearcher replaces the exploration strategy. Pending states move to
// the new searcher in their current order.
func (m *SimulationManager) SetSearcher(searcher Searcher) {
	for _, s := range m.searcher.States() {
		searcher.AddState(s)
	}
	m.searcher = searcher
}

// Active returns the states waiting to be stepped.
func (m *SimulationManager) Active() []*State { return m.searcher.States() }

// Found returns the states that matched the find predicate.
func (m *SimulationManager) Found() []*State { return m.found }

// Avoided returns the states that matched the avoid predicate.
func (m *SimulationManager) Avoided() []*State { return m.avoided }

// Errored returns the states that failed; see State.Err.
func (m *SimulationManager) Errored() []*State { return m.errored }

// Deadended returns the states whose execution ended.
func (m *SimulationManager) Deadended() []*State { return m.deadended }

// Steps returns the number of steps executed.
func (m *SimulationManager) Steps() int { return m.steps }

// Pruned returns the number of states discarded by the prune predicate.
func (m *SimulationManager) Pruned() int { return m.pruned }

// OneFound returns the first found state.
func (m *SimulationManager) OneFound() (*State, error) {
	if len(m.found) == 0 {
		return nil, ErrNoStateAvailable
	}
	return m.found[0], nil
}

// Run explores until no active states remain, a state is found (unless
// FindAll is set), the step limit is hit or ctx is done. Cancellation is
// observed between steps and returns ctx.Err() with every pool intact.
// Malformed IR aborts the run; the offending state is moved to errored.
func (m *SimulationManager) Run(ctx context.Context, opts RunOptions) error {
	for {
		if err := ctx.Err(); err != nil {
			m.logger.Debug().Int("steps", m.steps).Msg("run canceled")
			return err
		} else if m.maxSteps > 0 && m.steps >= m.maxSteps {
			m.logger.Debug().Int("steps", m.steps).Msg("step limit reached")
			return nil
		}

		s := m.searcher.SelectState()
		if s == nil {
			return nil
		}
		m.steps++

		successors, err := m.executor.Step(s)
		if err != nil {
			s.fail(err)
			m.errored = append(m.errored, s)
			if IsFatal(err) {
				m.logger.Error().Err(err).Str("state", s.ID()).Msg("malformed IR")
				return errors.Wrap(err, "run")
			}
			m.logger.Debug().Err(err).Str("state", s.ID()).Msg("errored")
			continue
		}

		if len(successors) == 0 {
			m.logger.Debug().Str("state", s.ID()).Msg("deadended")
			m.deadended = append(m.deadended, s)
			continue
		} else if len(successors) > 1 {
			m.logger.Debug().Str("state", s.ID()).Int("successors", len(successors)).Msg("fork")
		}

		found := false
		for _, succ := range successors {
			if m.classify(ctx, succ, opts) {
				found = true
			}
		}
		if found && !opts.FindAll {
			return nil
		}
	}
}

// classify places a successor in a pool. Returns true if it was found.
func (m *SimulationManager) classify(ctx context.Context, s *State, opts RunOptions) bool {
	// Structural pruning runs before any solver call.
	if opts.Prune != nil && opts.Prune.Match(s) {
		m.pruned++
		m.logger.Debug().Str("state", s.ID()).Msg("prune")
		return false
	}

	if !s.store.Lazy() && !m.feasible(ctx, s) {
		return false
	}

	if opts.Avoid != nil && opts.Avoid.Match(s) {
		m.logger.Debug().Str("state", s.ID()).Msg("avoid")
		m.avoided = append(m.avoided, s)
		return false
	}

	if opts.Find != nil && opts.Find.Match(s) {
		if !m.feasible(ctx, s) {
			return false
		}
		m.logger.Debug().Str("state", s.ID()).Msg("found")
		m.found = append(m.found, s)
		return true
	}

	m.searcher.AddState(s)
	return false
}

// feasible checks the path constraints of s. Unsatisfiable states are
// dropped; states the solver cannot decide are moved to errored.
func (m *SimulationManager) feasible(ctx context.Context, s *State) bool {
	if s.store.Checked() {
		return true
	}

	r, err := s.store.Check(ctx)
	switch r {
	case SolverSat:
		return true
	case SolverUnsat:
		m.logger.Debug().Str("state", s.ID()).Msg("infeasible")
		return false
	default:
		if err == nil {
			err = ErrSolverUnknown
		}
		s.fail(err)
		m.errored = append(m.errored, s)
		m.logger.Debug().Err(err).Str("state", s.ID()).Msg("errored")
		return false
	}
}
