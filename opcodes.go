package setaac

import (
	"github.com/holiman/uint256"
)

// Resolved-value roles recorded on states by the default handlers.
const (
	RoleKey     = "key"
	RoleValue   = "value"
	RoleAddress = "address"
	RoleOffset  = "offset"
	RoleSize    = "size"
)

// maxConcreteCopy bounds the length of byte ranges copied or hashed
// element by element.
const maxConcreteCopy = 1 << 16

// envOpcodes read a value of the execution environment that is fixed for
// the whole transaction.
var envOpcodes = []string{
	"CALLVALUE", "CALLER", "ORIGIN", "ADDRESS", "SELFBALANCE", "TIMESTAMP",
	"NUMBER", "GASPRICE", "CHAINID", "COINBASE", "DIFFICULTY", "GASLIMIT",
}

func registerDefaultHandlers(e *Executor) {
	// Control flow
	e.Register("JUMP", execJump)
	e.Register("JUMPI", execJumpI)
	e.Register("CALLPRIVATE", execCallPrivate)
	e.Register("RETURNPRIVATE", execReturnPrivate)
	for _, op := range []string{"STOP", "RETURN", "REVERT", "INVALID", "THROW", "SELFDESTRUCT"} {
		e.Register(op, execHalt)
	}

	// Values
	e.Register("CONST", execConst)
	e.Register("PHI", execPhi)

	// Arithmetic & logic
	e.Register("ADD", binaryHandler(ADD))
	e.Register("SUB", binaryHandler(SUB))
	e.Register("MUL", binaryHandler(MUL))
	e.Register("DIV", divHandler(UDIV))
	e.Register("SDIV", divHandler(SDIV))
	e.Register("MOD", divHandler(UREM))
	e.Register("SMOD", divHandler(SREM))
	e.Register("AND", binaryHandler(AND))
	e.Register("OR", binaryHandler(OR))
	e.Register("XOR", binaryHandler(XOR))
	e.Register("LT", compareHandler(ULT))
	e.Register("GT", compareHandler(UGT))
	e.Register("SLT", compareHandler(SLT))
	e.Register("SGT", compareHandler(SGT))
	e.Register("EQ", compareHandler(EQ))
	e.Register("SHL", shiftHandler(SHL))
	e.Register("SHR", shiftHandler(LSHR))
	e.Register("SAR", shiftHandler(ASHR))
	e.Register("ISZERO", execIsZero)
	e.Register("NOT", execNot)
	e.Register("BYTE", execByte)
	e.Register("EXP", execExp)

	// Environment
	for _, op := range envOpcodes {
		e.Register(op, execEnv)
	}
	for _, op := range []string{"BALANCE", "GAS", "RETURNDATASIZE", "EXTCODESIZE", "EXTCODEHASH", "BLOCKHASH"} {
		e.Register(op, execUnknown)
	}
	e.Register("CALLDATALOAD", execCalldataLoad)
	e.Register("CALLDATASIZE", execCalldataSize)
	e.Register("CALLDATACOPY", execCalldataCopy)

	// Memory & storage
	e.Register("MLOAD", execMLoad)
	e.Register("MSTORE", execMStore)
	e.Register("MSTORE8", execMStore8)
	e.Register("SLOAD", execSLoad)
	e.Register("SSTORE", execSStore)

	// Hashing
	e.Register("SHA3", execSHA3)

	// External calls
	e.Register("CALL", callHandler(true))
	e.Register("CALLCODE", callHandler(true))
	e.Register("DELEGATECALL", callHandler(false))
	e.Register("STATICCALL", callHandler(false))
}

func binaryHandler(op BinaryOp) Handler {
	return func(s *State, stmt *Statement) ([]*State, error) {
		args, err := operands(s, stmt, 2)
		if err != nil {
			return nil, err
		}
		define(s, stmt, NewBinaryExpr(op, args[0], args[1]))
		return advance(s, stmt), nil
	}
}

// divHandler returns a handler for division & remainder where a zero
// divisor yields zero.
func divHandler(op BinaryOp) Handler {
	return func(s *State, stmt *Statement) ([]*State, error) {
		args, err := operands(s, stmt, 2)
		if err != nil {
			return nil, err
		}
		zero := NewWordExpr(0)
		define(s, stmt, NewIteExpr(NewIsZeroExpr(args[1]), zero, NewBinaryExpr(op, args[0], args[1])))
		return advance(s, stmt), nil
	}
}

func compareHandler(op BinaryOp) Handler {
	return func(s *State, stmt *Statement) ([]*State, error) {
		args, err := operands(s, stmt, 2)
		if err != nil {
			return nil, err
		}
		define(s, stmt, NewBoolToWordExpr(NewBinaryExpr(op, args[0], args[1])))
		return advance(s, stmt), nil
	}
}

// shiftHandler returns a handler for shifts; the shift amount comes first.
func shiftHandler(op BinaryOp) Handler {
	return func(s *State, stmt *Statement) ([]*State, error) {
		args, err := operands(s, stmt, 2)
		if err != nil {
			return nil, err
		}
		define(s, stmt, NewBinaryExpr(op, args[1], args[0]))
		return advance(s, stmt), nil
	}
}

func execConst(s *State, stmt *Statement) ([]*State, error) {
	for _, name := range stmt.Defs {
		if v, ok := stmt.Value(name); ok {
			s.Write(name, v)
			continue
		}
		v, err := operand(s, stmt, 0)
		if err != nil {
			return nil, err
		}
		s.Write(name, v)
	}
	return advance(s, stmt), nil
}

// execPhi binds the operand written last along the current path, which is
// the one flowing in over the edge just taken. Operands with decompiler
// constants only apply when no operand is bound yet.
func execPhi(s *State, stmt *Statement) ([]*State, error) {
	if _, v, ok := s.Latest(stmt.Operands...); ok {
		define(s, stmt, v)
		return advance(s, stmt), nil
	}
	for _, name := range stmt.Operands {
		if v, ok := stmt.Value(name); ok {
			define(s, stmt, v)
			return advance(s, stmt), nil
		}
	}
	return nil, &MalformedIRError{StatementID: stmt.ID, Reason: "PHI has no defined operand"}
}

func execIsZero(s *State, stmt *Statement) ([]*State, error) {
	x, err := operand(s, stmt, 0)
	if err != nil {
		return nil, err
	}
	define(s, stmt, NewBoolToWordExpr(NewIsZeroExpr(x)))
	return advance(s, stmt), nil
}

func execNot(s *State, stmt *Statement) ([]*State, error) {
	x, err := operand(s, stmt, 0)
	if err != nil {
		return nil, err
	}
	define(s, stmt, NewNotExpr(x))
	return advance(s, stmt), nil
}

// execByte extracts the i-th most significant byte of a word.
func execByte(s *State, stmt *Statement) ([]*State, error) {
	args, err := operands(s, stmt, 2)
	if err != nil {
		return nil, err
	}
	i, x := args[0], args[1]

	shift := NewBinaryExpr(MUL, NewBinaryExpr(SUB, NewWordExpr(31), i), NewWordExpr(8))
	b := NewBinaryExpr(AND, NewBinaryExpr(LSHR, x, shift), NewWordExpr(0xff))
	define(s, stmt, NewIteExpr(NewBinaryExpr(ULT, i, NewWordExpr(32)), b, NewWordExpr(0)))
	return advance(s, stmt), nil
}

// execExp folds constant exponentiation; anything else is unconstrained.
func execExp(s *State, stmt *Statement) ([]*State, error) {
	args, err := operands(s, stmt, 2)
	if err != nil {
		return nil, err
	}
	base, ok1 := args[0].(*ConstantExpr)
	exp, ok2 := args[1].(*ConstantExpr)
	if !ok1 || !ok2 {
		define(s, stmt)
		return advance(s, stmt), nil
	}
	var v uint256.Int
	define(s, stmt, NewConstantExprFromInt(v.Exp(&base.Value, &exp.Value), WidthWord))
	return advance(s, stmt), nil
}

func execEnv(s *State, stmt *Statement) ([]*State, error) {
	define(s, stmt, s.Env(stmt.Opcode))
	return advance(s, stmt), nil
}

func execCalldataLoad(s *State, stmt *Statement) ([]*State, error) {
	offset, err := operand(s, stmt, 0)
	if err != nil {
		return nil, err
	}
	define(s, stmt, s.CalldataLoad(offset))
	return advance(s, stmt), nil
}

func execCalldataSize(s *State, stmt *Statement) ([]*State, error) {
	define(s, stmt, s.calldataSize)
	return advance(s, stmt), nil
}

// execCalldataCopy copies calldata into memory. Copies of symbolic length
// leave memory unchanged.
func execCalldataCopy(s *State, stmt *Statement) ([]*State, error) {
	args, err := operands(s, stmt, 3)
	if err != nil {
		return nil, err
	}
	memOffset, dataOffset := args[0], args[1]
	size, ok := args[2].(*ConstantExpr)
	if !ok || !size.Value.IsUint64() || size.Value.Uint64() > maxConcreteCopy {
		s.Resolve(stmt, RoleSize, args[2])
		return advance(s, stmt), nil
	}

	for i := uint64(0); i < size.Value.Uint64(); i++ {
		b := s.CalldataByte(NewBinaryExpr(ADD, dataOffset, NewWordExpr(i)))
		s.MStore(NewBinaryExpr(ADD, memOffset, NewWordExpr(i)), b)
	}
	return advance(s, stmt), nil
}

func execMLoad(s *State, stmt *Statement) ([]*State, error) {
	offset, err := operand(s, stmt, 0)
	if err != nil {
		return nil, err
	}
	define(s, stmt, s.MLoad(offset))
	return advance(s, stmt), nil
}

func execMStore(s *State, stmt *Statement) ([]*State, error) {
	args, err := operands(s, stmt, 2)
	if err != nil {
		return nil, err
	}
	s.MStore(args[0], args[1])
	return advance(s, stmt), nil
}

func execMStore8(s *State, stmt *Statement) ([]*State, error) {
	args, err := operands(s, stmt, 2)
	if err != nil {
		return nil, err
	}
	s.MStore(args[0], NewExtractExpr(args[1], 0, Width8))
	return advance(s, stmt), nil
}

func execSLoad(s *State, stmt *Statement) ([]*State, error) {
	key, err := operand(s, stmt, 0)
	if err != nil {
		return nil, err
	}
	s.Resolve(stmt, RoleKey, key)
	define(s, stmt, s.SLoad(key))
	return advance(s, stmt), nil
}

func execSStore(s *State, stmt *Statement) ([]*State, error) {
	args, err := operands(s, stmt, 2)
	if err != nil {
		return nil, err
	}
	s.Resolve(stmt, RoleKey, args[0])
	s.Resolve(stmt, RoleValue, args[1])
	s.SStore(args[0], args[1])
	return advance(s, stmt), nil
}

// execSHA3 hashes a memory range. Ranges of symbolic length hash to a
// fresh base address that is never shared.
func execSHA3(s *State, stmt *Statement) ([]*State, error) {
	args, err := operands(s, stmt, 2)
	if err != nil {
		return nil, err
	}
	s.Resolve(stmt, RoleOffset, args[0])
	s.Resolve(stmt, RoleSize, args[1])

	var input []Expr
	if size, ok := args[1].(*ConstantExpr); ok && size.Value.IsUint64() && size.Value.Uint64() <= maxConcreteCopy {
		input = s.MemoryBytes(args[0], size.Value.Uint64())
	}
	digest := s.store.SHA(input, func() Expr { return s.NewSymbol("sha") })
	define(s, stmt, digest)
	return advance(s, stmt), nil
}

// callHandler models an external call as an unconstrained success flag.
func callHandler(hasValue bool) Handler {
	return func(s *State, stmt *Statement) ([]*State, error) {
		address, err := operand(s, stmt, 1)
		if err != nil {
			return nil, err
		}
		s.Resolve(stmt, RoleAddress, address)
		if hasValue {
			value, err := operand(s, stmt, 2)
			if err != nil {
				return nil, err
			}
			s.Resolve(stmt, RoleValue, value)
		}

		success := s.NewSymbol("success")
		s.AddConstraint(NewBinaryExpr(ULE, success, NewWordExpr(1)))
		define(s, stmt, success)
		return advance(s, stmt), nil
	}
}
