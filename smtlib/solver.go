package smtlib

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/setaac/setaac"
)

// DefaultCommands is the argv used to launch each backend. Every command
// reads SMT-LIB2 from stdin and answers commands as they arrive.
var DefaultCommands = map[setaac.SolverBackend][]string{
	setaac.SolverZ3:        {"z3", "-in", "-smt2"},
	setaac.SolverYices2:    {"yices-smt2", "--incremental"},
	setaac.SolverBitwuzla:  {"bitwuzla"},
	setaac.SolverBoolector: {"boolector", "--smt2", "-i"},
}

// Ensure solver implements interface.
var _ setaac.Solver = (*Solver)(nil)

// Solver answers queries by running an SMT-LIB2 solver process per query.
type Solver struct {
	command []string
	stats   Stats
	logger  zerolog.Logger

	// Per-query timeout. The process is killed once it expires.
	Timeout time.Duration
}

// NewSolver returns a solver that launches command for each query.
func NewSolver(command []string) *Solver {
	return &Solver{
		command: command,
		logger:  setaac.Logger.With().Str("component", "smtlib").Str("solver", command[0]).Logger(),
	}
}

// Command returns the argv used to launch the solver.
func (s *Solver) Command() []string { return s.command }

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats { return s.stats }

// Close is a no-op; processes do not outlive a query.
func (s *Solver) Close() error { return nil }

// Solve checks the constraints and, if satisfiable, returns the initial
// contents of each symbolic byte array. Other arrays yield nil values.
func (s *Solver) Solve(constraints []setaac.Expr, arrays []*setaac.Array) (satisfiable bool, values [][]byte, err error) {
	t := time.Now()
	defer func() {
		s.stats.SolveN++
		s.stats.SolveTime += time.Since(t)
	}()

	q, err := NewQuery(constraints)
	if err != nil {
		return false, nil, err
	}
	q.Declare(arrays)

	ctx := context.Background()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	satisfiable, values, err = s.run(ctx, q, arrays)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return false, nil, setaac.ErrSolverTimeout
	}
	return satisfiable, values, err
}

func (s *Solver) run(ctx context.Context, q *Query, arrays []*setaac.Array) (bool, [][]byte, error) {
	p, err := startProcess(ctx, s.command)
	if err != nil {
		return false, nil, err
	}
	defer p.close()

	if _, err := q.WriteTo(p.stdin); err != nil {
		return false, nil, p.error(errors.Wrap(err, "write query"))
	}

	result, err := ReadNode(p.stdout)
	if err != nil {
		return false, nil, p.error(err)
	}
	s.logger.Debug().Str("result", result.String()).Int("constraints", len(q.asserts)).Msg("check-sat")

	switch result.String() {
	case "unsat":
		return false, nil, nil
	case "sat":
	case "unknown":
		return false, nil, setaac.ErrSolverUnknown
	default:
		return false, nil, responseError(result)
	}

	getValue := GetValue(arrays)
	if getValue == "" {
		return true, make([][]byte, len(arrays)), nil
	} else if _, err := io.WriteString(p.stdin, getValue); err != nil {
		return true, nil, p.error(errors.Wrap(err, "write get-value"))
	}

	model, err := ReadNode(p.stdout)
	if err != nil {
		return true, nil, p.error(err)
	}
	values, err := decodeModel(model, arrays)
	if err != nil {
		return true, nil, err
	}
	_, _ = io.WriteString(p.stdin, "(exit)\n")
	return true, values, nil
}

// process is a running solver.
type process struct {
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr bytes.Buffer
	done   bool
}

func startProcess(ctx context.Context, command []string) (*process, error) {
	p := &process{name: command[0], cmd: exec.CommandContext(ctx, command[0], command[1:]...)}
	p.cmd.Stderr = &p.stderr

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := p.cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "smtlib: start %s", p.name)
	}
	p.stdin, p.stdout = stdin, bufio.NewReader(stdout)
	return p, nil
}

// close closes stdin and waits for the process to exit.
func (p *process) close() {
	if p.done {
		return
	}
	p.done = true
	_ = p.stdin.Close()
	_ = p.cmd.Wait()
}

// error waits for the process and annotates err with its stderr output.
func (p *process) error(err error) error {
	p.close()
	if msg := strings.TrimSpace(p.stderr.String()); msg != "" {
		return errors.Wrapf(err, "smtlib: %s: %s", p.name, msg)
	}
	return errors.Wrapf(err, "smtlib: %s", p.name)
}

// responseError converts an (error "...") response.
func responseError(n *Node) error {
	if !n.IsAtom() && len(n.List) == 2 && n.List[0].Atom == "error" {
		return errors.Errorf("smtlib: solver error: %s", strings.Trim(n.List[1].Atom, `"`))
	}
	return errors.Errorf("smtlib: unexpected response: %s", n)
}

// decodeModel assigns get-value pairs back to their arrays, in order.
func decodeModel(model *Node, arrays []*setaac.Array) ([][]byte, error) {
	if model.IsAtom() {
		return nil, responseError(model)
	}

	pairs := model.List
	values := make([][]byte, len(arrays))
	for i, a := range arrays {
		if !modeled(a) {
			continue
		}
		if uint(len(pairs)) < a.Size {
			return nil, errors.Errorf("smtlib: model has %d values, expected %d more", len(pairs), a.Size)
		}

		value := make([]byte, a.Size)
		for j := range value {
			pair := pairs[j]
			if pair.IsAtom() || len(pair.List) != 2 {
				return nil, errors.Errorf("smtlib: invalid model entry: %s", pair)
			}
			v, err := ParseBitVec(pair.List[1])
			if err != nil {
				return nil, err
			}
			value[j] = byte(v.Uint64())
		}
		values[i] = value
		pairs = pairs[a.Size:]
	}
	return values, nil
}

// Stats holds solver counters.
type Stats struct {
	SolveN    int
	SolveTime time.Duration
}
