package setaac

import (
	"context"
	"strings"

	"github.com/benbjohnson/immutable"
	"github.com/cespare/xxhash/v2"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Solver represents a logical constraint solver.
type Solver interface {
	// Returns the satisfiability of the set of constraints. If the formula
	// is satisfiable, a valid value is returned for each array passed in.
	Solve(constraints []Expr, arrays []*Array) (satisfiable bool, values [][]byte, err error)
}

// SolverFunc adapts a function to the Solver interface.
type SolverFunc func(constraints []Expr, arrays []*Array) (bool, [][]byte, error)

// Solve calls fn.
func (fn SolverFunc) Solve(constraints []Expr, arrays []*Array) (bool, [][]byte, error) {
	return fn(constraints, arrays)
}

// SolverResult is the outcome of a satisfiability check.
type SolverResult int

const (
	SolverUnknown = SolverResult(iota)
	SolverSat
	SolverUnsat
)

// String returns the string representation of the result.
func (r SolverResult) String() string {
	switch r {
	case SolverSat:
		return "sat"
	case SolverUnsat:
		return "unsat"
	default:
		return "unknown"
	}
}

// ConstraintCache memoizes satisfiability results of identical constraint
// sets. It is shared by every store of a run and is not synchronized: the
// engine checks constraints from a single goroutine.
type ConstraintCache struct {
	m      map[uint64][]cacheEntry
	hits   int
	misses int
}

// cacheEntry is a constraint set with its result. Sets are compared
// structurally since the text of a select omits its array's updates.
type cacheEntry struct {
	constraints []Expr
	result      SolverResult
}

// NewConstraintCache returns a new, empty cache.
func NewConstraintCache() *ConstraintCache {
	return &ConstraintCache{m: make(map[uint64][]cacheEntry)}
}

// Stats returns the number of cache hits & misses.
func (c *ConstraintCache) Stats() (hits, misses int) { return c.hits, c.misses }

func (c *ConstraintCache) get(key uint64, constraints []Expr) (SolverResult, bool) {
	for _, e := range c.m[key] {
		if equalExprs(e.constraints, constraints) {
			c.hits++
			return e.result, true
		}
	}
	c.misses++
	return SolverUnknown, false
}

func (c *ConstraintCache) put(key uint64, constraints []Expr, r SolverResult) {
	c.m[key] = append(c.m[key], cacheEntry{constraints: constraints, result: r})
}

// constraintKey returns a hash of the text of a constraint list.
func constraintKey(constraints []Expr) uint64 {
	var sb strings.Builder
	for _, c := range constraints {
		sb.WriteString(c.String())
		sb.WriteByte('\n')
	}
	return xxhash.Sum64String(sb.String())
}

// ConstraintStore holds the path condition of one state together with its
// hash-derived base address records. Forking shares the constraint history
// by reference; appending after a fork never affects the sibling.
type ConstraintStore struct {
	solver         Solver
	cache          *ConstraintCache
	lazy           bool
	maxSHASize     int
	minSHADistance uint64

	constraints *immutable.List // Expr
	shas        *immutable.List // *shaRecord

	checked bool // last check was sat and nothing was added since
	unsat   bool // a constant false constraint was added

	logger zerolog.Logger
}

// NewConstraintStore returns an empty store backed by solver. The cache
// may be nil.
func NewConstraintStore(solver Solver, cache *ConstraintCache, config Config) *ConstraintStore {
	return &ConstraintStore{
		solver:         solver,
		cache:          cache,
		lazy:           config.LazySolves,
		maxSHASize:     config.MaxSHASize,
		minSHADistance: config.MinSHADistance,
		constraints:    immutable.NewList(),
		shas:           immutable.NewList(),
		checked:        true,
		logger:         componentLogger("store"),
	}
}

// Fork returns an independent copy of the store.
func (s *ConstraintStore) Fork() *ConstraintStore {
	other := *s
	return &other
}

// Lazy returns true if feasibility checks are deferred.
func (s *ConstraintStore) Lazy() bool { return s.lazy }

// Len returns the number of constraints.
func (s *ConstraintStore) Len() int { return s.constraints.Len() }

// Checked returns true if the constraints are known to be satisfiable.
func (s *ConstraintStore) Checked() bool { return s.checked && !s.unsat }

// Constraints returns the path constraints in the order they were added.
func (s *ConstraintStore) Constraints() []Expr {
	a := make([]Expr, 0, s.constraints.Len())
	itr := s.constraints.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		a = append(a, v.(Expr))
	}
	return a
}

// Add appends a boolean constraint. Conjunctions are split and constraints
// already present are skipped. Returns true if anything was added.
func (s *ConstraintStore) Add(expr Expr) bool {
	assert(ExprWidth(expr) == WidthBool, "constraint must be boolean: %s", expr)

	if c, ok := expr.(*ConstantExpr); ok {
		if c.IsTrue() || s.unsat {
			return false
		}
		s.unsat = true
		s.constraints = s.constraints.Append(expr)
		s.checked = false
		return true
	}

	// Split logical conjunctions into two separate constraints.
	if expr, ok := expr.(*BinaryExpr); ok && expr.Op == AND {
		lhs := s.Add(expr.LHS)
		rhs := s.Add(expr.RHS)
		return lhs || rhs
	}

	if s.contains(expr) {
		return false
	}
	s.constraints = s.constraints.Append(expr)
	s.checked = false
	return true
}

func (s *ConstraintStore) contains(expr Expr) bool {
	itr := s.constraints.Iterator()
	for !itr.Done() {
		if _, v := itr.Next(); CompareExpr(v.(Expr), expr) == 0 {
			return true
		}
	}
	return false
}

// Check invokes the solver on the accumulated constraints.
// Errors from the backend yield SolverUnknown.
func (s *ConstraintStore) Check(ctx context.Context) (SolverResult, error) {
	if s.unsat {
		return SolverUnsat, nil
	} else if s.checked {
		return SolverSat, nil
	} else if err := ctx.Err(); err != nil {
		return SolverUnknown, errors.Wrap(ErrSolverCanceled, err.Error())
	}

	constraints := s.Constraints()

	var key uint64
	if s.cache != nil {
		key = constraintKey(constraints)
		if r, ok := s.cache.get(key, constraints); ok {
			s.checked = r == SolverSat
			s.logger.Debug().Stringer("result", r).Int("constraints", len(constraints)).Msg("check (cached)")
			return r, nil
		}
	}

	satisfiable, _, err := s.solver.Solve(constraints, nil)
	if err != nil {
		s.logger.Debug().Err(err).Int("constraints", len(constraints)).Msg("check failed")
		return SolverUnknown, errors.Wrap(err, "check")
	}

	r := SolverUnsat
	if satisfiable {
		r = SolverSat
	}
	if s.cache != nil {
		s.cache.put(key, constraints, r)
	}
	s.checked = satisfiable
	s.logger.Debug().Stringer("result", r).Int("constraints", len(constraints)).Msg("check")
	return r, nil
}

// Model is one satisfying assignment of the byte arrays of a path.
type Model struct {
	Arrays []*Array
	Values [][]byte
}

// Bytes returns the model's contents of the array with the given id.
func (m *Model) Bytes(id uint64) ([]byte, bool) {
	for i, a := range m.Arrays {
		if a.ID == id {
			return m.Values[i], true
		}
	}
	return nil, false
}

// probeArrayID is the first id used for evaluation probes. Probes never
// appear in path constraints.
const probeArrayID = uint64(1) << 62

// Model returns one model of the path constraints covering every symbolic
// array they mention plus the given arrays. Each expression in exprs is
// evaluated in that same model.
func (s *ConstraintStore) Model(ctx context.Context, arrays []*Array, exprs ...Expr) (*Model, []*ConstantExpr, error) {
	if s.unsat {
		return nil, nil, ErrUnsatisfiable
	} else if err := ctx.Err(); err != nil {
		return nil, nil, errors.Wrap(ErrSolverCanceled, err.Error())
	}

	constraints := s.Constraints()

	// Bind each expression to a fresh byte array so its value can be read
	// back from the model.
	probes := make([]*Array, len(exprs))
	for i, expr := range exprs {
		n := (ExprWidth(expr) + 7) / 8
		probes[i] = NewNamedArray(probeArrayID+uint64(i), "probe", n)
		constraints = append(constraints, NewBinaryExpr(EQ, probes[i].Select(NewWordExpr(0), n*8), newZExtExpr(expr, n*8)))
	}

	all := mergeArrays(FindArrays(constraints...), arrays)
	satisfiable, values, err := s.solver.Solve(constraints, all)
	if err != nil {
		return nil, nil, errors.Wrap(err, "model")
	} else if !satisfiable {
		return nil, nil, ErrUnsatisfiable
	}

	m := &Model{}
	for i, a := range all {
		if a.ID < probeArrayID {
			m.Arrays, m.Values = append(m.Arrays, a), append(m.Values, values[i])
		}
	}

	results := make([]*ConstantExpr, len(exprs))
	for i, expr := range exprs {
		b, _ := (&Model{Arrays: all, Values: values}).Bytes(probes[i].ID)
		results[i] = NewConstantExprFromInt(new(uint256.Int).SetBytes(b), ExprWidth(expr))
	}
	return m, results, nil
}

// mergeArrays returns a sorted by id, deduplicated union of byte arrays.
func mergeArrays(a, b []*Array) []*Array {
	seen := make(map[uint64]struct{}, len(a)+len(b))
	var out []*Array
	for _, list := range [][]*Array{a, b} {
		for _, array := range list {
			if _, ok := seen[array.ID]; ok {
				continue
			}
			seen[array.ID] = struct{}{}
			out = append(out, array.Root())
		}
	}
	sortArrays(out)
	return out
}
