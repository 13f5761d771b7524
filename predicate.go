package setaac

// Predicate classifies states for the simulation manager.
type Predicate interface {
	Match(s *State) bool
}

// PredicateFunc adapts a function to the Predicate interface.
type PredicateFunc func(s *State) bool

// Match calls fn.
func (fn PredicateFunc) Match(s *State) bool { return fn(s) }

// AtStatement matches states positioned at the given statement.
func AtStatement(id string) Predicate {
	return PredicateFunc(func(s *State) bool {
		return s.Statement() != nil && s.Statement().ID == id
	})
}

// AtBlock matches states positioned anywhere in the given block.
func AtBlock(id string) Predicate {
	return PredicateFunc(func(s *State) bool {
		return s.Statement() != nil && s.Statement().BlockID == id
	})
}

// Not negates a predicate.
func Not(p Predicate) Predicate {
	return PredicateFunc(func(s *State) bool { return !p.Match(s) })
}

// Any matches if any of the predicates match.
func Any(preds ...Predicate) Predicate {
	return PredicateFunc(func(s *State) bool {
		for _, p := range preds {
			if p.Match(s) {
				return true
			}
		}
		return false
	})
}

// PruneUnreachable matches states that provably cannot reach target.
func PruneUnreachable(o *Oracle, target *Block) Predicate {
	return PredicateFunc(func(s *State) bool {
		return !o.IndirectlyReachable(s, target)
	})
}
