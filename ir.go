package setaac

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"golang.org/x/tools/container/intsets"
)

// FakeExitBlockID is the synthetic exit node added by the decompiler. It
// belongs to no function and is unreachable by construction.
const FakeExitBlockID = "fake_exit"

// Statement is a single three-address-code instruction. Statements are
// created once when a program is loaded and never change afterwards; values
// resolved during execution live on the state.
type Statement struct {
	ID       string
	BlockID  string
	Index    int // position within the block
	Opcode   string
	Operands []string
	Defs     []string

	// Values holds operand constants known to the decompiler.
	Values map[string]*ConstantExpr
}

// String returns a string representation of the statement.
func (s *Statement) String() string {
	return fmt.Sprintf("[%s:%s] %s %s -> %s", s.BlockID, s.ID, s.Opcode,
		strings.Join(s.Operands, ","), strings.Join(s.Defs, ","))
}

// Value returns the known constant for an operand, if any.
func (s *Statement) Value(operand string) (*ConstantExpr, bool) {
	v, ok := s.Values[operand]
	return v, ok
}

// Block is an ordered sequence of statements belonging to one function.
type Block struct {
	ID         string
	Function   string   // owning function address; empty for the synthetic exit
	Statements []string // statement ids, in order

	ordinal       int
	successors    []string
	fallthroughID string
	descendants   intsets.Sparse // ordinals of blocks reachable within the function
	descIDs       []string
	callTargets   map[string]string // callee address -> CALLPRIVATE statement id
}

// FirstStatement returns the id of the first statement, or empty if the
// block has none.
func (b *Block) FirstStatement() string {
	if len(b.Statements) == 0 {
		return ""
	}
	return b.Statements[0]
}

// Successors returns the intra-procedural successor block ids.
func (b *Block) Successors() []string { return b.successors }

// Fallthrough returns the id of the next block in the function, if any.
func (b *Block) Fallthrough() string { return b.fallthroughID }

// Descendants returns the ids of every block reachable from b within its
// function, sorted.
func (b *Block) Descendants() []string { return b.descIDs }

// HasDescendant returns true if other is reachable from b within its function.
func (b *Block) HasDescendant(other *Block) bool {
	return b.descendants.Has(other.ordinal)
}

// CallTargets returns the mapping of callee function address to the
// CALLPRIVATE statement in this block that invokes it.
func (b *Block) CallTargets() map[string]string { return b.callTargets }

// Function is a decompiled function.
type Function struct {
	Addr      string
	Name      string
	IsPublic  bool
	Blocks    []string
	Arguments []string

	callSources  map[string][]string // callee address -> call-site block ids
	returnBlocks []string
}

// CallprivateTargetSources returns the ids of blocks in f that call callee.
func (f *Function) CallprivateTargetSources(callee string) []string {
	return f.callSources[callee]
}

// Callees returns the addresses of every function f calls, sorted.
func (f *Function) Callees() []string {
	a := make([]string, 0, len(f.callSources))
	for addr := range f.callSources {
		a = append(a, addr)
	}
	slices.Sort(a)
	return a
}

// ReturnprivateBlockIDs returns the ids of blocks in f that return to a caller.
func (f *Function) ReturnprivateBlockIDs() []string { return f.returnBlocks }

// EntryBlock returns the id of the function's first block.
func (f *Function) EntryBlock() string {
	if len(f.Blocks) == 0 {
		return ""
	}
	return f.Blocks[0]
}

// Program is the read-only IR of a contract. It is shared by every state
// of an exploration and is safe for concurrent reads.
type Program struct {
	blocks     []*Block
	blockIndex map[string]int
	byAddr     map[string]int // canonical block address -> ordinal
	statements map[string]*Statement
	functions  map[string]*Function
	funcAddrs  []string
	funcByAddr map[string]string // canonical address -> function address
	callGraph  *CallGraph
}

// Block returns a block by id.
func (p *Program) Block(id string) (*Block, bool) {
	i, ok := p.blockIndex[id]
	if !ok {
		return nil, false
	}
	return p.blocks[i], true
}

// Blocks returns every block in load order.
func (p *Program) Blocks() []*Block { return p.blocks }

// BlockAt returns the block whose id is the given address.
func (p *Program) BlockAt(addr *ConstantExpr) (*Block, bool) {
	i, ok := p.byAddr[addr.Value.Hex()]
	if !ok {
		return nil, false
	}
	return p.blocks[i], true
}

// Statement returns a statement by id.
func (p *Program) Statement(id string) (*Statement, bool) {
	stmt, ok := p.statements[id]
	return stmt, ok
}

// Statements returns every statement with the given opcode, in block load order.
func (p *Program) Statements(opcode string) []*Statement {
	var a []*Statement
	for _, b := range p.blocks {
		for _, id := range b.Statements {
			if stmt := p.statements[id]; stmt.Opcode == opcode {
				a = append(a, stmt)
			}
		}
	}
	return a
}

// Function returns a function by address.
func (p *Program) Function(addr string) (*Function, bool) {
	fn, ok := p.functions[addr]
	return fn, ok
}

// FunctionAt returns the function whose address equals the given constant.
func (p *Program) FunctionAt(addr *ConstantExpr) (*Function, bool) {
	a, ok := p.funcByAddr[addr.Value.Hex()]
	if !ok {
		return nil, false
	}
	return p.functions[a], true
}

// Functions returns all functions ordered by address.
func (p *Program) Functions() []*Function {
	a := make([]*Function, len(p.funcAddrs))
	for i, addr := range p.funcAddrs {
		a[i] = p.functions[addr]
	}
	return a
}

// CallGraph returns the program's call graph.
func (p *Program) CallGraph() *CallGraph { return p.callGraph }

// EntryBlock returns the block execution starts at: block 0x0 if present,
// otherwise the first block of the lowest-addressed function.
func (p *Program) EntryBlock() (*Block, bool) {
	if b, ok := p.BlockAt(NewWordExpr(0)); ok {
		return b, true
	}
	for _, fn := range p.Functions() {
		if id := fn.EntryBlock(); id != "" {
			return p.Block(id)
		}
	}
	return nil, false
}

// NextStatement returns the statement after stmt within its block, or the
// first statement of the block's fall-through.
func (p *Program) NextStatement(stmt *Statement) (*Statement, bool) {
	b := p.blocks[p.blockIndex[stmt.BlockID]]
	if stmt.Index+1 < len(b.Statements) {
		return p.statements[b.Statements[stmt.Index+1]], true
	} else if b.fallthroughID == "" {
		return nil, false
	}
	next, _ := p.Block(b.fallthroughID)
	return p.Statement(next.FirstStatement())
}

// NewProgram builds the IR model from decoded artifacts.
func NewProgram(ir IRArtifact, cfg CFGArtifact) (*Program, error) {
	p := &Program{
		blockIndex: make(map[string]int),
		byAddr:     make(map[string]int),
		statements: make(map[string]*Statement),
		functions:  make(map[string]*Function),
		funcByAddr: make(map[string]string),
	}

	// Register functions & their blocks.
	for key, rec := range cfg.Functions {
		addr := rec.Addr
		if addr == "" {
			addr = key
		}
		if _, ok := p.functions[addr]; ok {
			return nil, &MalformedIRError{Reason: fmt.Sprintf("duplicate function address %q", addr)}
		}
		p.functions[addr] = &Function{
			Addr:        addr,
			Name:        rec.Name,
			IsPublic:    rec.IsPublic,
			Blocks:      rec.Blocks,
			Arguments:   rec.Arguments,
			callSources: make(map[string][]string),
		}
		p.funcAddrs = append(p.funcAddrs, addr)
		if v, err := parseWord(addr); err == nil {
			p.funcByAddr[v.Hex()] = addr
		}
	}
	slices.SortFunc(p.funcAddrs, compareAddr)

	for _, addr := range p.funcAddrs {
		for _, id := range p.functions[addr].Blocks {
			if _, ok := p.blockIndex[id]; ok {
				return nil, &MalformedIRError{BlockID: id, Reason: "block claimed by more than one function"}
			}
			p.addBlock(&Block{ID: id, Function: addr})
		}
	}
	if _, ok := p.blockIndex[FakeExitBlockID]; !ok {
		p.addBlock(&Block{ID: FakeExitBlockID})
	}

	// Attach statements to blocks.
	blockIDs := make([]string, 0, len(ir))
	for id := range ir {
		blockIDs = append(blockIDs, id)
	}
	slices.SortFunc(blockIDs, compareAddr)
	for _, id := range blockIDs {
		i, ok := p.blockIndex[id]
		if !ok {
			return nil, &MalformedIRError{BlockID: id, Reason: "statements in a block owned by no function"}
		}
		b := p.blocks[i]
		for j, rec := range ir[id] {
			stmt, err := newStatement(id, j, rec)
			if err != nil {
				return nil, err
			} else if _, ok := p.statements[stmt.ID]; ok {
				return nil, &MalformedIRError{StatementID: stmt.ID, Reason: "duplicate statement id"}
			}
			p.statements[stmt.ID] = stmt
			b.Statements = append(b.Statements, stmt.ID)
		}
	}

	for _, b := range p.blocks {
		if len(b.Statements) == 0 && b.ID != FakeExitBlockID {
			return nil, &MalformedIRError{BlockID: b.ID, Reason: "block has no statements"}
		}
	}

	if err := p.indexFunctions(); err != nil {
		return nil, err
	}
	if err := p.indexSuccessors(cfg.Edges); err != nil {
		return nil, err
	}
	p.indexDescendants()
	p.callGraph = newCallGraph(p)
	return p, nil
}

func (p *Program) addBlock(b *Block) {
	b.ordinal = len(p.blocks)
	p.blockIndex[b.ID] = b.ordinal
	if v, err := parseWord(b.ID); err == nil {
		p.byAddr[v.Hex()] = b.ordinal
	}
	p.blocks = append(p.blocks, b)
}

// indexFunctions derives fall-through links, private call targets and
// returning blocks.
func (p *Program) indexFunctions() error {
	for _, addr := range p.funcAddrs {
		fn := p.functions[addr]
		for i, id := range fn.Blocks {
			b, _ := p.Block(id)
			if i+1 < len(fn.Blocks) {
				b.fallthroughID = fn.Blocks[i+1]
			}

			for _, sid := range b.Statements {
				stmt := p.statements[sid]
				switch stmt.Opcode {
				case "CALLPRIVATE":
					callee, err := p.privateCallTarget(stmt)
					if err != nil {
						return err
					}
					if b.callTargets == nil {
						b.callTargets = make(map[string]string)
					}
					b.callTargets[callee.Addr] = stmt.ID
					if !slices.Contains(fn.callSources[callee.Addr], b.ID) {
						fn.callSources[callee.Addr] = append(fn.callSources[callee.Addr], b.ID)
					}
				case "RETURNPRIVATE":
					if !slices.Contains(fn.returnBlocks, b.ID) {
						fn.returnBlocks = append(fn.returnBlocks, b.ID)
					}
				}
			}
		}
	}
	return nil
}

// privateCallTarget returns the function invoked by a CALLPRIVATE statement.
func (p *Program) privateCallTarget(stmt *Statement) (*Function, error) {
	if len(stmt.Operands) == 0 {
		return nil, &MalformedIRError{StatementID: stmt.ID, Reason: "CALLPRIVATE without a target operand"}
	}
	target, ok := stmt.Value(stmt.Operands[0])
	if !ok {
		return nil, &MalformedIRError{StatementID: stmt.ID, Reason: "CALLPRIVATE target is not a known constant"}
	}
	fn, ok := p.FunctionAt(target)
	if !ok {
		return nil, &MalformedIRError{StatementID: stmt.ID, Reason: fmt.Sprintf("CALLPRIVATE target %s is not a function", target.Value.Hex())}
	}
	return fn, nil
}

// indexSuccessors sets every block's intra-procedural successors, either
// from explicit edges or from constant jump targets and fall-through.
func (p *Program) indexSuccessors(edges map[string][]string) error {
	for _, b := range p.blocks {
		if b.Function == "" {
			continue
		}

		if edges != nil {
			for _, id := range edges[b.ID] {
				if _, ok := p.Block(id); !ok {
					return &MalformedIRError{BlockID: b.ID, Reason: fmt.Sprintf("edge to unknown block %q", id)}
				}
				b.successors = appendUnique(b.successors, id)
			}
			continue
		}

		last := p.statements[b.Statements[len(b.Statements)-1]]
		switch last.Opcode {
		case "JUMP":
			if succ, ok := p.jumpTarget(last); ok {
				b.successors = appendUnique(b.successors, succ.ID)
			}
		case "JUMPI":
			if succ, ok := p.jumpTarget(last); ok {
				b.successors = appendUnique(b.successors, succ.ID)
			}
			if b.fallthroughID != "" {
				b.successors = appendUnique(b.successors, b.fallthroughID)
			}
		case "RETURNPRIVATE", "STOP", "RETURN", "REVERT", "INVALID", "THROW", "SELFDESTRUCT":
		default:
			if b.fallthroughID != "" {
				b.successors = appendUnique(b.successors, b.fallthroughID)
			}
		}
	}
	return nil
}

// jumpTarget returns the block a JUMP/JUMPI statement targets, if constant.
func (p *Program) jumpTarget(stmt *Statement) (*Block, bool) {
	if len(stmt.Operands) == 0 {
		return nil, false
	}
	target, ok := stmt.Value(stmt.Operands[0])
	if !ok {
		return nil, false
	}
	return p.BlockAt(target)
}

// indexDescendants computes the transitive successor closure of each block
// within its function.
func (p *Program) indexDescendants() {
	for _, b := range p.blocks {
		work := append([]string(nil), b.successors...)
		for len(work) > 0 {
			id := work[len(work)-1]
			work = work[:len(work)-1]

			other := p.blocks[p.blockIndex[id]]
			if other.Function != b.Function || !b.descendants.Insert(other.ordinal) {
				continue
			}
			work = append(work, other.successors...)
		}

		for _, ord := range b.descendants.AppendTo(nil) {
			b.descIDs = append(b.descIDs, p.blocks[ord].ID)
		}
		slices.SortFunc(b.descIDs, compareAddr)
	}
}

func newStatement(blockID string, index int, rec StatementRecord) (*Statement, error) {
	if rec.ID == "" {
		return nil, &MalformedIRError{BlockID: blockID, Reason: fmt.Sprintf("statement %d has no id", index)}
	}

	stmt := &Statement{
		ID:       rec.ID,
		BlockID:  blockID,
		Index:    index,
		Opcode:   strings.ToUpper(rec.Opcode),
		Operands: rec.Operands,
		Defs:     rec.Defs,
		Values:   make(map[string]*ConstantExpr, len(rec.Values)),
	}
	for name, s := range rec.Values {
		v, err := parseWord(s)
		if err != nil {
			return nil, &MalformedIRError{StatementID: rec.ID, Reason: fmt.Sprintf("value of %s: %s", name, err)}
		}
		stmt.Values[name] = NewConstantExprFromInt(v, WidthWord)
	}
	return stmt, nil
}

// parseWord parses a hex (0x-prefixed) or decimal string into a 256-bit word.
func parseWord(s string) (*uint256.Int, error) {
	digits, base := s, 10
	if strings.HasPrefix(s, "0x") {
		digits, base = s[2:], 16
	}
	if digits == "" || digits[0] == '+' || digits[0] == '-' {
		return nil, errors.Errorf("invalid word %q", s)
	}
	b, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, errors.Errorf("invalid word %q", s)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, errors.Errorf("word %q overflows 256 bits", s)
	}
	return v, nil
}

// compareAddr orders ids numerically when both parse as words, otherwise
// lexically, with numeric ids first.
func compareAddr(a, b string) int {
	x, errA := parseWord(a)
	y, errB := parseWord(b)
	switch {
	case errA == nil && errB == nil:
		return x.Cmp(y)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

func appendUnique(a []string, s string) []string {
	if slices.Contains(a, s) {
		return a
	}
	return append(a, s)
}
