package setaac_test

import (
	"testing"

	"github.com/setaac/setaac"
)

func TestOracle_DirectlyReachable(t *testing.T) {
	t.Run("Call", func(t *testing.T) {
		prog := MustCallProgram(t)
		o := setaac.NewOracle(prog)
		for _, tt := range []struct {
			a, b string
			want bool
		}{
			{"0x0", "0x10", true},
			{"0x0", "0x20", true},
			{"0x10", "0x20", false},
			{"0x20", "0x0", false},
			{"0x20", "0x10", false},
			{"0x10", "0x10", true},
			{"0x0", setaac.FakeExitBlockID, false},
			{setaac.FakeExitBlockID, "0x0", false},
			{setaac.FakeExitBlockID, setaac.FakeExitBlockID, true},
		} {
			if got := o.DirectlyReachable(MustBlock(t, prog, tt.a), MustBlock(t, prog, tt.b)); got != tt.want {
				t.Fatalf("%s -> %s: got %v, want %v", tt.a, tt.b, got, tt.want)
			}
		}
	})

	t.Run("Disjoint", func(t *testing.T) {
		prog := MustDisjointProgram(t)
		o := setaac.NewOracle(prog)
		for _, tt := range []struct {
			a, b string
			want bool
		}{
			{"0x0", "0x10", true},
			{"0x0", "0x40", false},
			{"0x10", "0x40", false},
			{"0x40", "0x0", false},
			{"0x40", "0x10", false},
		} {
			if got := o.DirectlyReachable(MustBlock(t, prog, tt.a), MustBlock(t, prog, tt.b)); got != tt.want {
				t.Fatalf("%s -> %s: got %v, want %v", tt.a, tt.b, got, tt.want)
			}
		}
		if g := prog.CallGraph(); g.HasPath("0x0", "0x40") || g.HasPath("0x40", "0x0") {
			t.Fatal("expected no call path")
		}
	})

	t.Run("Recursion", func(t *testing.T) {
		prog := MustRecursiveProgram(t)
		o := setaac.NewOracle(prog)
		for _, tt := range []struct {
			a, b string
			want bool
		}{
			{"0x28", "0x20", false},
			{"0x20", "0x28", true},
			{"0x20", "0x48", true},
			{"0x0", "0x48", true},
			{"0x48", "0x28", false},
			{"0x40", "0x28", true},
			{"0x40", "0x0", false},
		} {
			// Ask twice so the memoized answer is checked too.
			for i := 0; i < 2; i++ {
				if got := o.DirectlyReachable(MustBlock(t, prog, tt.a), MustBlock(t, prog, tt.b)); got != tt.want {
					t.Fatalf("%s -> %s: got %v, want %v", tt.a, tt.b, got, tt.want)
				}
			}
		}
	})
}

func TestOracle_IndirectlyReachable(t *testing.T) {
	prog := MustCallProgram(t)
	o := setaac.NewOracle(prog)

	// Step into f: ADD, then CALLPRIVATE.
	s := MustNewState(t, prog, &fakeSolver{}, testConfig())
	e := setaac.NewExecutor()
	for i := 0; i < 2; i++ {
		successors, err := e.Step(s)
		if err != nil {
			t.Fatal(err)
		}
		s = successors[0]
	}
	if s.Block().ID != "0x20" {
		t.Fatalf("unexpected block: %s", s.Block().ID)
	}

	if !o.IndirectlyReachable(s, MustBlock(t, prog, "0x20")) {
		t.Fatal("expected current block reachable")
	} else if !o.IndirectlyReachable(s, MustBlock(t, prog, "0x10")) {
		t.Fatal("expected return block reachable")
	} else if o.IndirectlyReachable(s, MustBlock(t, prog, "0x0")) {
		t.Fatal("expected caller entry unreachable")
	} else if o.IndirectlyReachable(s, MustBlock(t, prog, setaac.FakeExitBlockID)) {
		t.Fatal("expected exit unreachable")
	}

	if !setaac.PruneUnreachable(o, MustBlock(t, prog, "0x0")).Match(s) {
		t.Fatal("expected prune")
	} else if setaac.PruneUnreachable(o, MustBlock(t, prog, "0x10")).Match(s) {
		t.Fatal("unexpected prune")
	}
}

func TestOracle_IndirectlyReachable_Halted(t *testing.T) {
	prog := MustBranchProgram(t)
	o := setaac.NewOracle(prog)

	s := MustNewState(t, prog, &fakeSolver{}, testConfig())
	s6, _ := prog.Statement("s6")
	s = setaac.NewState(prog, s6, s.Store(), "x", testConfig())
	if _, err := setaac.NewExecutor().Step(s); err != nil {
		t.Fatal(err)
	} else if s.Statement() != nil {
		t.Fatal("expected halted state")
	} else if o.IndirectlyReachable(s, MustBlock(t, prog, "0x30")) {
		t.Fatal("expected halted state to reach nothing")
	}
}
