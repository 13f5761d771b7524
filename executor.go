package setaac

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Handler executes one statement against a state. It returns the successor
// states: usually the stepped state itself, several states on a branch, or
// none when execution along the path ends. A handler may only modify s and
// states it forks from s.
type Handler func(s *State, stmt *Statement) ([]*State, error)

// Executor steps states one statement at a time using per-opcode handlers.
type Executor struct {
	handlers map[string]Handler
	unknown  map[string]struct{} // opcodes already reported
	logger   zerolog.Logger
}

// NewExecutor returns an executor with the default opcode handlers registered.
func NewExecutor() *Executor {
	e := &Executor{
		handlers: make(map[string]Handler),
		unknown:  make(map[string]struct{}),
		logger:   componentLogger("executor"),
	}
	registerDefaultHandlers(e)
	return e
}

// Register sets the handler for an opcode, replacing any existing one.
func (e *Executor) Register(opcode string, h Handler) {
	e.handlers[opcode] = h
}

// Handler returns the handler registered for an opcode.
func (e *Executor) Handler(opcode string) (Handler, bool) {
	h, ok := e.handlers[opcode]
	return h, ok
}

// Step executes the current statement of s and returns its successors.
// A state without a current statement has no successors. Errors that are not
// fatal concern s only; the caller classifies s accordingly.
func (e *Executor) Step(s *State) ([]*State, error) {
	stmt := s.stmt
	if stmt == nil {
		return nil, nil
	}
	s.steps++

	e.logger.Debug().Str("state", s.ID()).Str("block", stmt.BlockID).Str("stmt", stmt.ID).Str("opcode", stmt.Opcode).Msg("exec")

	h, ok := e.handlers[stmt.Opcode]
	if !ok {
		if _, seen := e.unknown[stmt.Opcode]; !seen {
			e.unknown[stmt.Opcode] = struct{}{}
			e.logger.Warn().Str("opcode", stmt.Opcode).Msg("no handler for opcode; definitions are unconstrained")
		}
		h = execUnknown
	}

	successors, err := h(s, stmt)
	if err != nil {
		return nil, err
	}
	return successors, nil
}

// operand returns the value of the i-th operand of stmt. Constants known to
// the decompiler take precedence over register bindings.
func operand(s *State, stmt *Statement, i int) (Expr, error) {
	if i >= len(stmt.Operands) {
		return nil, &MalformedIRError{StatementID: stmt.ID, Reason: fmt.Sprintf("%s: missing operand %d", stmt.Opcode, i)}
	}
	name := stmt.Operands[i]
	if v, ok := stmt.Value(name); ok {
		return v, nil
	} else if v, ok := s.Read(name); ok {
		return v, nil
	}
	return nil, &MalformedIRError{StatementID: stmt.ID, Reason: fmt.Sprintf("%s: operand %s is undefined", stmt.Opcode, name)}
}

// operands returns the values of the first n operands of stmt.
func operands(s *State, stmt *Statement, n int) ([]Expr, error) {
	a := make([]Expr, n)
	for i := range a {
		v, err := operand(s, stmt, i)
		if err != nil {
			return nil, err
		}
		a[i] = v
	}
	return a, nil
}

// define binds values to the definitions of stmt in order. Definitions
// without a value receive fresh symbols.
func define(s *State, stmt *Statement, values ...Expr) {
	for i, name := range stmt.Defs {
		if i < len(values) {
			s.Write(name, values[i])
		} else {
			s.Write(name, s.NewSymbol(stmt.Opcode))
		}
	}
}

// advance moves s to the statement after stmt, halting if there is none.
func advance(s *State, stmt *Statement) []*State {
	if next, ok := s.prog.NextStatement(stmt); ok {
		s.jump(next)
	} else {
		s.halt()
	}
	return []*State{s}
}

// blockStatement returns the first statement of a block.
func blockStatement(s *State, stmt *Statement, b *Block) (*Statement, error) {
	next, ok := s.prog.Statement(b.FirstStatement())
	if !ok {
		return nil, &MalformedIRError{StatementID: stmt.ID, BlockID: b.ID, Reason: "jump to a block without statements"}
	}
	return next, nil
}

// execJump transfers control to a constant target block. A symbolic target
// forks once per known successor of the current block.
func execJump(s *State, stmt *Statement) ([]*State, error) {
	target, err := operand(s, stmt, 0)
	if err != nil {
		return nil, err
	}

	if target, ok := target.(*ConstantExpr); ok {
		b, ok := s.prog.BlockAt(target)
		if !ok {
			return nil, &MalformedIRError{StatementID: stmt.ID, Reason: fmt.Sprintf("jump to unknown block %s", target.Value.Hex())}
		}
		next, err := blockStatement(s, stmt, b)
		if err != nil {
			return nil, err
		}
		s.jump(next)
		return []*State{s}, nil
	}

	var successors []*State
	for _, id := range s.Block().Successors() {
		b, _ := s.prog.Block(id)
		addr, err := parseWord(id)
		if err != nil {
			continue
		}
		next, err := blockStatement(s, stmt, b)
		if err != nil {
			return nil, err
		}
		child := s.Fork()
		child.AddConstraint(NewBinaryExpr(EQ, target, NewConstantExprFromInt(addr, WidthWord)))
		child.jump(next)
		successors = append(successors, child)
	}
	return successors, nil
}

// execJumpI branches on a condition. The not-taken successor comes first.
func execJumpI(s *State, stmt *Statement) ([]*State, error) {
	args, err := operands(s, stmt, 2)
	if err != nil {
		return nil, err
	}
	target, ok := args[0].(*ConstantExpr)
	if !ok {
		return nil, &MalformedIRError{StatementID: stmt.ID, Reason: "JUMPI target is symbolic"}
	}
	b, ok := s.prog.BlockAt(target)
	if !ok {
		return nil, &MalformedIRError{StatementID: stmt.ID, Reason: fmt.Sprintf("jump to unknown block %s", target.Value.Hex())}
	}
	taken, err := blockStatement(s, stmt, b)
	if err != nil {
		return nil, err
	}

	cond := NewWordToBoolExpr(args[1])
	if c, ok := cond.(*ConstantExpr); ok {
		if c.IsTrue() {
			s.jump(taken)
			return []*State{s}, nil
		}
		return advance(s, stmt), nil
	}

	notTaken := s.Fork()
	notTaken.AddConstraint(NewBinaryExpr(EQ, NewBoolConstantExpr(false), cond))
	successors := advance(notTaken, stmt)

	s.AddConstraint(cond)
	s.jump(taken)
	return append(successors, s), nil
}

// execCallPrivate enters a private function, binding its formal arguments.
func execCallPrivate(s *State, stmt *Statement) ([]*State, error) {
	args, err := operands(s, stmt, len(stmt.Operands))
	if err != nil {
		return nil, err
	}
	target, ok := args[0].(*ConstantExpr)
	if !ok {
		return nil, &MalformedIRError{StatementID: stmt.ID, Reason: "CALLPRIVATE target is symbolic"}
	}
	fn, ok := s.prog.FunctionAt(target)
	if !ok {
		return nil, &MalformedIRError{StatementID: stmt.ID, Reason: fmt.Sprintf("CALLPRIVATE to unknown function %s", target.Value.Hex())}
	}
	entry, ok := s.prog.Block(fn.EntryBlock())
	if !ok {
		return nil, &MalformedIRError{StatementID: stmt.ID, Reason: fmt.Sprintf("function %s has no blocks", fn.Addr)}
	}
	next, err := blockStatement(s, stmt, entry)
	if err != nil {
		return nil, err
	}

	frame := CallFrame{CallStmtID: stmt.ID}
	if ret, ok := s.prog.NextStatement(stmt); ok {
		frame.ReturnStmtID = ret.ID
	}
	s.pushFrame(frame)

	for i, name := range fn.Arguments {
		if i+1 < len(args) {
			s.Write(name, args[i+1])
		} else {
			s.Write(name, s.NewSymbol("arg"))
		}
	}
	s.jump(next)
	return []*State{s}, nil
}

// execReturnPrivate leaves a private function. The first operand is the
// return address; the rest are returned values bound to the caller's
// CALLPRIVATE definitions.
func execReturnPrivate(s *State, stmt *Statement) ([]*State, error) {
	values, err := operands(s, stmt, len(stmt.Operands))
	if err != nil {
		return nil, err
	}
	if len(values) > 0 {
		values = values[1:]
	}

	frame, err := s.popFrame()
	if err != nil {
		return nil, errors.Wrapf(err, "statement %s", stmt.ID)
	}

	call, ok := s.prog.Statement(frame.CallStmtID)
	if !ok {
		return nil, &MalformedIRError{StatementID: frame.CallStmtID, Reason: "call statement not found"}
	}
	define(s, call, values...)

	if frame.ReturnStmtID == "" {
		s.halt()
		return []*State{s}, nil
	}
	ret, ok := s.prog.Statement(frame.ReturnStmtID)
	if !ok {
		return nil, &MalformedIRError{StatementID: frame.ReturnStmtID, Reason: "return statement not found"}
	}
	s.jump(ret)
	return []*State{s}, nil
}

// execHalt ends execution along the path.
func execHalt(s *State, stmt *Statement) ([]*State, error) {
	s.halt()
	return nil, nil
}

// execUnknown gives every definition of an unmodeled opcode a fresh value.
func execUnknown(s *State, stmt *Statement) ([]*State, error) {
	define(s, stmt)
	return advance(s, stmt), nil
}
