package setaac

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/benbjohnson/immutable"
	"github.com/cespare/xxhash/v2"
	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
)

// CallFrame records an emulated private call.
type CallFrame struct {
	CallStmtID   string               // the CALLPRIVATE statement
	ReturnStmtID string               // statement execution resumes at
	Saved        *immutable.SortedMap // caller registers
}

// State is one symbolic machine snapshot under exploration. A state owns
// its mutable substructures; forks share them until either side writes.
type State struct {
	xid string
	id  int
	seq *int // per-root id sequence

	prog *Program
	stmt *Statement

	registers *immutable.SortedMap // TAC variable -> register
	writes    uint64               // register write sequence
	env       *immutable.SortedMap // environment symbol -> Expr
	resolved  *immutable.Map       // statement id -> map[string]Expr

	memory       *Array
	storage      *Array
	calldata     *Array
	calldataSize Expr

	store     *ConstraintStore
	callStack []CallFrame

	nextArrayID uint64
	steps       int
	err         error
}

// NewState returns a root state positioned at stmt.
func NewState(prog *Program, stmt *Statement, store *ConstraintStore, xid string, config Config) *State {
	s := &State{
		xid:       xid,
		seq:       new(int),
		prog:      prog,
		stmt:      stmt,
		registers: immutable.NewSortedMap(&stringComparer{}),
		env:       immutable.NewSortedMap(&stringComparer{}),
		resolved:  immutable.NewMap(&stringHasher{}),
		store:     store,
	}
	s.id = s.nextID()

	s.memory = NewConstantArray(s.newArrayID(), "memory", NewConstantExpr8(0))
	s.storage = NewWordArray(s.newArrayID(), "storage")
	s.calldata = NewNamedArray(s.newArrayID(), "calldata", config.MaxCalldataSize)
	s.calldataSize = s.NewSymbol("calldatasize")
	s.store.Add(NewBinaryExpr(ULE, s.calldataSize, NewWordExpr(uint64(config.MaxCalldataSize))))
	return s
}

func (s *State) nextID() int {
	*s.seq++
	return *s.seq
}

// XID returns the execution identity of the root this state descends from.
func (s *State) XID() string { return s.xid }

// ID returns the identity of the state, unique within its root's lineage.
func (s *State) ID() string { return fmt.Sprintf("%s:%d", s.xid, s.id) }

// Program returns the IR the state executes.
func (s *State) Program() *Program { return s.prog }

// Statement returns the current statement, or nil once execution halted.
func (s *State) Statement() *Statement { return s.stmt }

// Block returns the block of the current statement.
func (s *State) Block() *Block {
	if s.stmt == nil {
		return nil
	}
	b, _ := s.prog.Block(s.stmt.BlockID)
	return b
}

// Steps returns the number of statements executed along this path.
func (s *State) Steps() int { return s.steps }

// Store returns the state's constraint store.
func (s *State) Store() *ConstraintStore { return s.store }

// Constraints returns the path constraints.
func (s *State) Constraints() []Expr { return s.store.Constraints() }

// AddConstraint appends a path constraint.
func (s *State) AddConstraint(expr Expr) bool { return s.store.Add(expr) }

// Memory returns the symbolic memory.
func (s *State) Memory() *Array { return s.memory }

// Storage returns the symbolic storage.
func (s *State) Storage() *Array { return s.storage }

// Calldata returns the symbolic calldata array.
func (s *State) Calldata() *Array { return s.calldata }

// CalldataSize returns the symbolic calldata length.
func (s *State) CalldataSize() Expr { return s.calldataSize }

// CallStack returns the active private call frames, innermost last.
func (s *State) CallStack() []CallFrame { return s.callStack }

// Err returns the error that terminated the state, if any.
func (s *State) Err() error { return s.err }

// Fork returns an independent successor of the state. Arrays, registers and
// constraint history are shared until either side modifies them.
func (s *State) Fork() *State {
	other := *s
	other.store = s.store.Fork()
	other.callStack = s.callStack[:len(s.callStack):len(s.callStack)]
	other.err = nil
	other.id = s.nextID()
	return &other
}

// register is a TAC variable binding. seq orders writes along the path.
type register struct {
	value Expr
	seq   uint64
}

// Read returns the value bound to a TAC variable.
func (s *State) Read(name string) (Expr, bool) {
	v, ok := s.registers.Get(name)
	if !ok {
		return nil, false
	}
	return v.(register).value, true
}

// Write binds a value to a TAC variable.
func (s *State) Write(name string, value Expr) {
	s.writes++
	s.registers = s.registers.Set(name, register{value: value, seq: s.writes})
}

// Latest returns the bound variable among names that was written last.
func (s *State) Latest(names ...string) (string, Expr, bool) {
	var (
		name string
		reg  register
	)
	for _, n := range names {
		if v, ok := s.registers.Get(n); ok && (name == "" || v.(register).seq > reg.seq) {
			name, reg = n, v.(register)
		}
	}
	return name, reg.value, name != ""
}

// Registers returns the bound TAC variable names, sorted.
func (s *State) Registers() []string {
	var a []string
	itr := s.registers.Iterator()
	for !itr.Done() {
		k, _ := itr.Next()
		a = append(a, k.(string))
	}
	return a
}

// Resolve records the value of a semantic role of a statement as seen by
// this state. The shared statement is not modified.
func (s *State) Resolve(stmt *Statement, role string, value Expr) {
	m := make(map[string]Expr)
	if v, ok := s.resolved.Get(stmt.ID); ok {
		for k, expr := range v.(map[string]Expr) {
			m[k] = expr
		}
	}
	m[role] = value
	s.resolved = s.resolved.Set(stmt.ID, m)
}

// Resolved returns a value recorded by Resolve.
func (s *State) Resolved(stmtID, role string) (Expr, bool) {
	v, ok := s.resolved.Get(stmtID)
	if !ok {
		return nil, false
	}
	expr, ok := v.(map[string]Expr)[role]
	return expr, ok
}

// Env returns the symbol for an environment value, allocating it on first use.
func (s *State) Env(name string) Expr {
	if v, ok := s.env.Get(name); ok {
		return v.(Expr)
	}
	expr := s.NewSymbol(strings.ToLower(name))
	s.env = s.env.Set(name, expr)
	return expr
}

// NewSymbol returns a fresh unconstrained 256-bit value.
func (s *State) NewSymbol(name string) Expr {
	a := NewNamedArray(s.newArrayID(), name, WidthWord/8)
	return a.Select(NewWordExpr(0), WidthWord)
}

func (s *State) newArrayID() uint64 {
	s.nextArrayID++
	return s.nextArrayID
}

// MLoad reads a word from memory.
func (s *State) MLoad(offset Expr) Expr {
	return s.memory.Select(offset, WidthWord)
}

// MStore writes a value to memory.
func (s *State) MStore(offset, value Expr) {
	s.memory = s.memory.Store(offset, value)
}

// MemoryBytes returns n bytes of memory starting at offset.
func (s *State) MemoryBytes(offset Expr, n uint64) []Expr {
	a := make([]Expr, n)
	offset = newZExtExpr(offset, WidthWord)
	for i := range a {
		a[i] = s.memory.Select(NewBinaryExpr(ADD, offset, NewWordExpr(uint64(i))), Width8)
	}
	return a
}

// SLoad reads a storage slot.
func (s *State) SLoad(key Expr) Expr {
	return s.storage.Select(key, WidthWord)
}

// SStore writes a storage slot.
func (s *State) SStore(key, value Expr) {
	s.storage = s.storage.Store(key, value)
}

// CalldataByte returns the calldata byte at index, zero past the end.
func (s *State) CalldataByte(index Expr) Expr {
	index = newZExtExpr(index, WidthWord)
	return NewIteExpr(
		NewBinaryExpr(ULT, index, s.calldataSize),
		s.calldata.Select(index, Width8),
		NewConstantExpr8(0),
	)
}

// CalldataLoad reads a big-endian word from calldata.
func (s *State) CalldataLoad(offset Expr) Expr {
	var result Expr
	for i := uint64(0); i < WidthWord/8; i++ {
		b := s.CalldataByte(NewBinaryExpr(ADD, newZExtExpr(offset, WidthWord), NewWordExpr(i)))
		if result == nil {
			result = b
		} else {
			result = NewConcatExpr(result, b)
		}
	}
	return result
}

// pushFrame enters a private call.
func (s *State) pushFrame(frame CallFrame) {
	frame.Saved = s.registers
	s.callStack = append(s.callStack[:len(s.callStack):len(s.callStack)], frame)
	s.registers = immutable.NewSortedMap(&stringComparer{})
}

// popFrame leaves a private call and restores the caller's registers.
func (s *State) popFrame() (CallFrame, error) {
	n := len(s.callStack)
	if n == 0 {
		return CallFrame{}, ErrCallStackUnderflow
	}
	frame := s.callStack[n-1]
	s.callStack = s.callStack[: n-1 : n-1]
	s.registers = frame.Saved
	return frame, nil
}

// jump positions the state at a statement.
func (s *State) jump(stmt *Statement) { s.stmt = stmt }

// halt marks the end of execution along this path.
func (s *State) halt() { s.stmt = nil }

// fail records a per-state error.
func (s *State) fail(err error) { s.err = err }

// Values computes one model for every symbolic array in the path constraints.
func (s *State) Values(ctx context.Context) ([]*Array, [][]byte, error) {
	m, _, err := s.store.Model(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	return m.Arrays, m.Values, nil
}

// Eval returns the value of expr under one model of the path constraints.
func (s *State) Eval(ctx context.Context, expr Expr) (*ConstantExpr, error) {
	if c, ok := expr.(*ConstantExpr); ok {
		return c, nil
	}
	_, values, err := s.store.Model(ctx, nil, expr)
	if err != nil {
		return nil, err
	}
	return values[0], nil
}

// ConcretizeCalldata returns calldata that drives execution along this path.
func (s *State) ConcretizeCalldata(ctx context.Context) ([]byte, error) {
	m, values, err := s.store.Model(ctx, []*Array{s.calldata}, s.calldataSize)
	if err != nil {
		return nil, errors.Wrap(err, "concretize calldata")
	}

	data, _ := m.Bytes(s.calldata.ID)
	size := values[0]
	if size.Value.IsUint64() && size.Value.Uint64() < uint64(len(data)) {
		data = data[:size.Value.Uint64()]
	}
	return data, nil
}

// Dump returns the contents of the state as a string.
func (s *State) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintln(&buf, "SYMBOLIC STATE")
	fmt.Fprintln(&buf, "==============")
	fmt.Fprintf(&buf, "id=%s\n", s.ID())
	if s.stmt != nil {
		fmt.Fprintf(&buf, "stmt=%s\n", s.stmt)
	}
	if s.err != nil {
		fmt.Fprintf(&buf, "err=%s\n", s.err)
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== REGISTERS")
	for _, name := range s.Registers() {
		v, _ := s.Read(name)
		fmt.Fprintf(&buf, "%s = %s\n", name, v)
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== CALL STACK")
	for i := len(s.callStack) - 1; i >= 0; i-- {
		f := s.callStack[i]
		fmt.Fprintf(&buf, "#%d call=%s return=%s\n", i, f.CallStmtID, f.ReturnStmtID)
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== RESOLVED")
	itr := s.resolved.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		fmt.Fprintf(&buf, "%s %s", k, spew.Sdump(v))
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== STORAGE")
	for upd := s.storage.Updates; upd != nil; upd = upd.Next {
		fmt.Fprintf(&buf, "  + UPD: I=%s; V=%s\n", upd.Index, upd.Value)
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== CONSTRAINTS")
	for i, expr := range s.Constraints() {
		fmt.Fprintf(&buf, "%d. %s\n", i, expr.String())
	}
	return buf.String()
}

// stringComparer compares two strings. Implements immutable.Comparer.
type stringComparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b. Panic if a or b is not a string.
func (c *stringComparer) Compare(a, b interface{}) int {
	return strings.Compare(a.(string), b.(string))
}

// stringHasher hashes strings. Implements immutable.Hasher.
type stringHasher struct{}

// Hash returns the low 32 bits of the xxhash of a string key.
func (h *stringHasher) Hash(key interface{}) uint32 {
	return uint32(xxhash.Sum64String(key.(string)))
}

// Equal returns true if a and b are the same string.
func (h *stringHasher) Equal(a, b interface{}) bool {
	return a.(string) == b.(string)
}
