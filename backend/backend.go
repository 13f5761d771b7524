// Package backend selects the SMT solver used by a run.
package backend

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/setaac/setaac"
	"github.com/setaac/setaac/smtlib"
	"github.com/setaac/setaac/z3"
)

// Solver is a setaac.Solver holding resources that must be released.
type Solver interface {
	setaac.Solver
	io.Closer
}

// New returns the backend named by config.Solver. Z3 is embedded unless a
// command override is configured for it; every other backend runs as a
// process speaking SMT-LIB2.
func New(config setaac.Config) (Solver, error) {
	backend, err := setaac.ParseSolverBackend(string(config.Solver))
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(config.SolverTimeout) * time.Millisecond

	command, ok := config.SolverCommands[backend]
	if !ok && backend == setaac.SolverZ3 {
		s := z3.NewSolver()
		s.Timeout = timeout
		return s, nil
	} else if !ok {
		command = smtlib.DefaultCommands[backend]
	}
	if len(command) == 0 {
		return nil, errors.Errorf("no command for solver backend %q", backend)
	}

	s := smtlib.NewSolver(command)
	s.Timeout = timeout
	return s, nil
}
