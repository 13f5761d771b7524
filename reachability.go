package setaac

import (
	"github.com/rs/zerolog"
)

// Oracle answers structural reachability questions over the control-flow
// and call graphs without consulting a solver. A false answer means the
// target provably cannot be reached; true means it may be.
//
// Oracle memoizes answers and is not safe for concurrent use.
type Oracle struct {
	prog   *Program
	graph  *CallGraph
	memo   map[[2]int]bool
	logger zerolog.Logger
}

// NewOracle returns an oracle over a program.
func NewOracle(prog *Program) *Oracle {
	return &Oracle{
		prog:   prog,
		graph:  prog.CallGraph(),
		memo:   make(map[[2]int]bool),
		logger: componentLogger("oracle"),
	}
}

// DirectlyReachable returns true if control may flow from block a to
// block b without returning from a's function.
//
// Blocks of the same function are related by the intra-procedural CFG.
// Otherwise b must be reachable through a chain of private calls: for
// each simple call-graph path from a's function to b's, a must reach a
// call site of the path's first hop, and b must be reachable from that
// callee's entry block. The synthetic exit reaches nothing and nothing
// reaches it, other than itself.
func (o *Oracle) DirectlyReachable(a, b *Block) bool {
	key := [2]int{a.ordinal, b.ordinal}
	if v, ok := o.memo[key]; ok {
		return v
	}
	v := o.direct(a, b, make(map[[2]int]struct{}))
	o.memo[key] = v
	return v
}

func (o *Oracle) direct(a, b *Block, visiting map[[2]int]struct{}) bool {
	if a == b {
		return true
	} else if a.Function == "" || b.Function == "" {
		return false // synthetic exit
	}

	// Guard against recursive call chains.
	key := [2]int{a.ordinal, b.ordinal}
	if _, ok := visiting[key]; ok {
		return false
	}
	visiting[key] = struct{}{}
	defer delete(visiting, key)

	fa, _ := o.prog.Function(a.Function)
	if a.Function == b.Function {
		if a.HasDescendant(b) {
			return true
		}

		// Re-entry through a recursive call.
		for _, callee := range fa.Callees() {
			if callee == fa.Addr || o.graph.HasPath(callee, fa.Addr) {
				if o.viaCall(a, fa, callee, b, visiting) {
					return true
				}
			}
		}
		return false
	}

	found := false
	tried := make(map[string]struct{})
	o.graph.WalkSimplePaths(fa.Addr, b.Function, func(path []string) bool {
		hop := path[1]
		if _, ok := tried[hop]; ok {
			return true
		}
		tried[hop] = struct{}{}
		found = o.viaCall(a, fa, hop, b, visiting)
		return !found
	})
	return found
}

// viaCall returns true if a reaches a call site of callee within fn and b
// is reachable from the callee's entry block.
func (o *Oracle) viaCall(a *Block, fn *Function, callee string, b *Block, visiting map[[2]int]struct{}) bool {
	target, ok := o.prog.Function(callee)
	if !ok {
		return false
	}
	entry, ok := o.prog.Block(target.EntryBlock())
	if !ok {
		return false
	}

	for _, id := range fn.CallprivateTargetSources(callee) {
		site, _ := o.prog.Block(id)
		if site != a && !a.HasDescendant(site) {
			continue
		}
		if o.direct(entry, b, visiting) {
			return true
		}
	}
	return false
}

// IndirectlyReachable returns true if b may be reached from the state's
// current block, either directly or after returning through the frames of
// its call stack. Unwinding stops, and the answer is false, as soon as the
// current function cannot reach any of its RETURNPRIVATE blocks.
func (o *Oracle) IndirectlyReachable(s *State, b *Block) bool {
	cur := s.Block()
	if cur == nil {
		return false
	} else if o.DirectlyReachable(cur, b) {
		return true
	}

	stack := s.CallStack()
	for i := len(stack) - 1; i >= 0; i-- {
		if !o.canReturn(cur) {
			o.logger.Debug().Str("block", cur.ID).Str("function", cur.Function).Msg("no reachable return point")
			return false
		}

		ret, ok := o.prog.Statement(stack[i].ReturnStmtID)
		if !ok {
			return false
		}
		cur, _ = o.prog.Block(ret.BlockID)
		if o.DirectlyReachable(cur, b) {
			return true
		}
	}
	return false
}

// canReturn returns true if some RETURNPRIVATE block of cur's function is
// reachable from cur.
func (o *Oracle) canReturn(cur *Block) bool {
	fn, ok := o.prog.Function(cur.Function)
	if !ok {
		return false
	}
	for _, id := range fn.ReturnprivateBlockIDs() {
		ret, _ := o.prog.Block(id)
		if o.DirectlyReachable(cur, ret) {
			return true
		}
	}
	return false
}
