package setaac

import (
	"context"

	"github.com/pkg/errors"
)

// Project ties a program to a solver and configuration and builds the
// objects of an exploration.
type Project struct {
	prog     *Program
	config   Config
	solver   Solver
	cache    *ConstraintCache
	executor *Executor
	oracle   *Oracle
}

// NewProject returns a project over a loaded program.
func NewProject(prog *Program, solver Solver, config Config) (*Project, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	p := &Project{
		prog:     prog,
		config:   config,
		solver:   solver,
		executor: NewExecutor(),
		oracle:   NewOracle(prog),
	}
	if config.CacheCommonConstraints {
		p.cache = NewConstraintCache()
	}
	return p, nil
}

// Program returns the project's IR.
func (p *Project) Program() *Program { return p.prog }

// Config returns the project's configuration.
func (p *Project) Config() Config { return p.config }

// Executor returns the executor shared by the project's runs.
func (p *Project) Executor() *Executor { return p.executor }

// Oracle returns the project's reachability oracle.
func (p *Project) Oracle() *Oracle { return p.oracle }

// Cache returns the constraint cache, or nil if caching is disabled.
func (p *Project) Cache() *ConstraintCache { return p.cache }

// Block returns a block by id.
func (p *Project) Block(id string) (*Block, error) {
	b, ok := p.prog.Block(id)
	if !ok {
		return nil, errors.Errorf("block not found: %s", id)
	}
	return b, nil
}

// Statement returns a statement by id.
func (p *Project) Statement(id string) (*Statement, error) {
	stmt, ok := p.prog.Statement(id)
	if !ok {
		return nil, errors.Errorf("statement not found: %s", id)
	}
	return stmt, nil
}

// EntryState returns a root state at the program entry.
func (p *Project) EntryState(xid string) (*State, error) {
	var entry *Block
	if p.config.EntryBlock != "" {
		b, err := p.Block(p.config.EntryBlock)
		if err != nil {
			return nil, err
		}
		entry = b
	} else if b, ok := p.prog.EntryBlock(); ok {
		entry = b
	} else {
		return nil, &MalformedIRError{Reason: "program has no entry block"}
	}

	stmt, ok := p.prog.Statement(entry.FirstStatement())
	if !ok {
		return nil, &MalformedIRError{BlockID: entry.ID, Reason: "entry block has no statements"}
	}
	store := NewConstraintStore(p.solver, p.cache, p.config)
	return NewState(p.prog, stmt, store, xid, p.config), nil
}

// Simgr returns a simulation manager exploring from entry.
func (p *Project) Simgr(entry *State) *SimulationManager {
	return NewSimulationManager(entry, p.executor, p.config)
}

// Explore runs a simulation manager from a fresh entry state towards a
// statement, pruning states that cannot reach its block.
func (p *Project) Explore(ctx context.Context, xid string, target *Statement, findAll bool) (*SimulationManager, error) {
	entry, err := p.EntryState(xid)
	if err != nil {
		return nil, err
	}
	block, err := p.Block(target.BlockID)
	if err != nil {
		return nil, err
	}

	simgr := p.Simgr(entry)
	err = simgr.Run(ctx, RunOptions{
		Find:    AtStatement(target.ID),
		Prune:   PruneUnreachable(p.oracle, block),
		FindAll: findAll,
	})
	return simgr, err
}
