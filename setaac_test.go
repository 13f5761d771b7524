package setaac_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/setaac/setaac"
)

func TestMalformedIRError(t *testing.T) {
	for _, tt := range []struct {
		err  *setaac.MalformedIRError
		want string
	}{
		{&setaac.MalformedIRError{StatementID: "s1", BlockID: "0x0", Reason: "bad"}, "setaac: malformed IR: statement s1: bad"},
		{&setaac.MalformedIRError{BlockID: "0x0", Reason: "bad"}, "setaac: malformed IR: block 0x0: bad"},
		{&setaac.MalformedIRError{Reason: "bad"}, "setaac: malformed IR: bad"},
	} {
		if s := tt.err.Error(); s != tt.want {
			t.Fatalf("unexpected error: %s", s)
		}
	}

	err := errors.Wrap(&setaac.MalformedIRError{Reason: "bad"}, "run")
	if !errors.Is(err, setaac.ErrMalformedIR) {
		t.Fatal("expected malformed IR")
	} else if !setaac.IsFatal(err) {
		t.Fatal("expected fatal")
	} else if setaac.IsFatal(setaac.ErrCallStackUnderflow) {
		t.Fatal("expected non-fatal")
	}
}

func TestGenExecID(t *testing.T) {
	a, b := setaac.GenExecID(), setaac.GenExecID()
	if a == b {
		t.Fatal("expected unique ids")
	} else if _, err := uuid.Parse(a); err != nil {
		t.Fatal(err)
	}
}

// stmt returns a statement record.
func stmt(id, opcode string, defs []string, operands ...string) setaac.StatementRecord {
	return setaac.StatementRecord{ID: id, Opcode: opcode, Defs: defs, Operands: operands}
}

// defs returns a list of definition names.
func defs(names ...string) []string { return names }

// fn returns a function record.
func fn(addr string, blocks ...string) setaac.FunctionRecord {
	return setaac.FunctionRecord{Addr: addr, Name: "f" + addr, Blocks: blocks}
}

// withConstants gives every operand that looks like a hex literal a
// matching decompiler value.
func withConstants(ir setaac.IRArtifact) setaac.IRArtifact {
	for _, recs := range ir {
		for i := range recs {
			for _, op := range recs[i].Operands {
				if !strings.HasPrefix(op, "0x") {
					continue
				} else if recs[i].Values == nil {
					recs[i].Values = make(map[string]string)
				}
				recs[i].Values[op] = op
			}
		}
	}
	return ir
}

// MustNewProgram builds a program from IR and function records. Panic on error.
func MustNewProgram(tb testing.TB, ir setaac.IRArtifact, funcs ...setaac.FunctionRecord) *setaac.Program {
	tb.Helper()
	cfg := setaac.CFGArtifact{Functions: make(map[string]setaac.FunctionRecord)}
	for _, f := range funcs {
		cfg.Functions[f.Addr] = f
	}
	prog, err := setaac.NewProgram(withConstants(ir), cfg)
	if err != nil {
		tb.Fatal(err)
	}
	return prog
}

// testConfig returns the default configuration with a small calldata bound.
func testConfig() setaac.Config {
	config := setaac.DefaultConfig()
	config.MaxCalldataSize = 64
	return config
}

// MustNewState returns a root state at the program entry.
func MustNewState(tb testing.TB, prog *setaac.Program, solver setaac.Solver, config setaac.Config) *setaac.State {
	tb.Helper()
	entry, ok := prog.EntryBlock()
	if !ok {
		tb.Fatal("no entry block")
	}
	first, _ := prog.Statement(entry.FirstStatement())
	store := setaac.NewConstraintStore(solver, nil, config)
	return setaac.NewState(prog, first, store, "x", config)
}

// fakeSolver reports every constraint set satisfiable unless unsat matches
// one of its constraints. Models assign zero to every byte unless values
// names an array.
type fakeSolver struct {
	n      int
	unsat  func(expr setaac.Expr) bool
	values map[string][]byte // array name -> contents
	err    error
}

func (s *fakeSolver) Solve(constraints []setaac.Expr, arrays []*setaac.Array) (bool, [][]byte, error) {
	s.n++
	if s.err != nil {
		return false, nil, s.err
	}
	for _, c := range constraints {
		if s.unsat != nil && s.unsat(c) {
			return false, nil, nil
		}
	}

	values := make([][]byte, len(arrays))
	for i, a := range arrays {
		if a.Range != setaac.Width8 {
			continue
		} else if v, ok := s.values[a.Name]; ok {
			values[i] = v
		} else {
			values[i] = make([]byte, a.Size)
		}
	}
	return true, values, nil
}

// isNegation returns true for constraints of the form false == x.
func isNegation(expr setaac.Expr) bool {
	e, ok := expr.(*setaac.BinaryExpr)
	return ok && e.Op == setaac.EQ && setaac.ExprWidth(e.LHS) == setaac.WidthBool && setaac.IsConstantFalse(e.LHS)
}

// MustExec executes statements in a single block until the trailing STOP
// and returns the state positioned at it.
func MustExec(tb testing.TB, recs ...setaac.StatementRecord) *setaac.State {
	tb.Helper()
	recs = append(recs, stmt("halt", "STOP", nil))
	prog := MustNewProgram(tb, setaac.IRArtifact{"0x0": recs}, fn("0x0", "0x0"))
	s := MustNewState(tb, prog, &fakeSolver{}, testConfig())

	e := setaac.NewExecutor()
	for s.Statement().Opcode != "STOP" {
		successors, err := e.Step(s)
		if err != nil {
			tb.Fatal(err)
		} else if len(successors) != 1 {
			tb.Fatalf("unexpected successor count: %d", len(successors))
		}
		s = successors[0]
	}
	return s
}

// MustReadConstant returns the constant bound to a register.
func MustReadConstant(tb testing.TB, s *setaac.State, name string) *setaac.ConstantExpr {
	tb.Helper()
	v, ok := s.Read(name)
	if !ok {
		tb.Fatalf("register not bound: %s", name)
	}
	c, ok := v.(*setaac.ConstantExpr)
	if !ok {
		tb.Fatalf("expected constant for %s, got %s", name, v)
	}
	return c
}
