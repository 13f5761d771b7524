package setaac

import (
	"math/rand"
)

// Searcher represents a strategy for finding the next state to execute.
// Every strategy is deterministic for a fixed sequence of added states.
type Searcher interface {
	// Returns the next state to explore, or nil if none remain.
	SelectState() *State

	// Adds states to the current searcher.
	AddState(state *State)

	// Returns the states waiting to be explored.
	States() []*State
}

// NewSearcher returns the searcher for a configured strategy.
func NewSearcher(config Config) Searcher {
	switch config.Strategy {
	case StrategyBFS:
		return NewBFSSearcher()
	case StrategyRandom:
		return NewRandomSearcher(rand.New(rand.NewSource(config.Seed)))
	default:
		return NewDFSSearcher()
	}
}

var _ Searcher = (*MultiSearcher)(nil)

// MultiSearcher represents a Searcher that chooses a searcher round-robin.
// Each state is handed out once even though every searcher sees it.
type MultiSearcher struct {
	searchers []Searcher
	index     int
	pending   map[*State]struct{}
}

// NewMultiSearcher returns a new instance of MultiSearcher.
func NewMultiSearcher(searchers ...Searcher) *MultiSearcher {
	return &MultiSearcher{
		searchers: searchers,
		pending:   make(map[*State]struct{}),
	}
}

// SelectState returns the next state to explore from the next searcher.
func (s *MultiSearcher) SelectState() *State {
	for len(s.pending) > 0 {
		searcher := s.searchers[s.index]
		if s.index++; s.index >= len(s.searchers) {
			s.index = 0
		}

		for {
			state := searcher.SelectState()
			if state == nil {
				break
			} else if _, ok := s.pending[state]; ok {
				delete(s.pending, state)
				return state
			}
		}
	}
	return nil
}

// AddState adds a new state to the searcher.
func (s *MultiSearcher) AddState(state *State) {
	s.pending[state] = struct{}{}
	for _, searcher := range s.searchers {
		searcher.AddState(state)
	}
}

// States returns the pending states in the order of the first searcher.
func (s *MultiSearcher) States() []*State {
	if len(s.searchers) == 0 {
		return nil
	}
	var a []*State
	for _, state := range s.searchers[0].States() {
		if _, ok := s.pending[state]; ok {
			a = append(a, state)
		}
	}
	return a
}

// DFSSearcher represents a searcher with a depth-first search strategy.
type DFSSearcher struct {
	states []*State
}

// NewDFSSearcher returns a new instance of DFSSearcher.
func NewDFSSearcher() *DFSSearcher {
	return &DFSSearcher{}
}

// SelectState returns the next execution state to explore.
func (s *DFSSearcher) SelectState() *State {
	if len(s.states) == 0 {
		return nil
	}
	state := s.states[len(s.states)-1]
	s.states[len(s.states)-1] = nil
	s.states = s.states[:len(s.states)-1]
	return state
}

// AddState adds a new state to the searcher.
func (s *DFSSearcher) AddState(state *State) {
	s.states = append(s.states, state)
}

// States returns the pending states.
func (s *DFSSearcher) States() []*State {
	return append([]*State(nil), s.states...)
}

// BFSSearcher represents a searcher with a breadth-first search strategy.
type BFSSearcher struct {
	states []*State
}

// NewBFSSearcher returns a new instance of BFSSearcher.
func NewBFSSearcher() *BFSSearcher {
	return &BFSSearcher{}
}

// SelectState returns the next execution state to explore.
func (s *BFSSearcher) SelectState() *State {
	if len(s.states) == 0 {
		return nil
	}
	state := s.states[0]
	s.states = s.states[1:]
	return state
}

// AddState adds a new state to the searcher.
func (s *BFSSearcher) AddState(state *State) {
	s.states = append(s.states, state)
}

// States returns the pending states.
func (s *BFSSearcher) States() []*State {
	return append([]*State(nil), s.states...)
}

// RandomSearcher selects a uniformly random pending state. Runs with the
// same seed select states in the same order.
type RandomSearcher struct {
	states []*State
	rand   *rand.Rand
}

// NewRandomSearcher returns a new instance of RandomSearcher.
func NewRandomSearcher(rand *rand.Rand) *RandomSearcher {
	return &RandomSearcher{
		rand: rand,
	}
}

// SelectState returns a random execution state to explore.
func (s *RandomSearcher) SelectState() *State {
	if len(s.states) == 0 {
		return nil
	}
	i := s.rand.Intn(len(s.states))
	state := s.states[i]
	s.states = append(s.states[:i], s.states[i+1:]...)
	return state
}

// AddState adds a new state to the searcher.
func (s *RandomSearcher) AddState(state *State) {
	s.states = append(s.states, state)
}

// States returns the pending states.
func (s *RandomSearcher) States() []*State {
	return append([]*State(nil), s.states...)
}
