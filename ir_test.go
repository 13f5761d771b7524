package setaac_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/setaac/setaac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// branchIR is a single function that branches on the first calldata word.
// Block 0x30 is never jumped to.
func branchIR() setaac.IRArtifact {
	return setaac.IRArtifact{
		"0x0": {
			stmt("s0", "CALLDATALOAD", defs("v0"), "0x0"),
			stmt("s1", "JUMPI", nil, "0x20", "v0"),
		},
		"0x10": {
			stmt("s2", "SSTORE", nil, "0x1", "0x2"),
			stmt("s3", "STOP", nil),
		},
		"0x20": {
			stmt("s4", "sstore", nil, "0x3", "0x4"),
			stmt("s5", "STOP", nil),
		},
		"0x30": {
			stmt("s6", "STOP", nil),
		},
	}
}

func MustBranchProgram(tb testing.TB) *setaac.Program {
	tb.Helper()
	return MustNewProgram(tb, branchIR(), fn("0x0", "0x0", "0x10", "0x20", "0x30"))
}

// callIR has main (0x0) call f (0x20) with one argument.
func callIR() setaac.IRArtifact {
	return setaac.IRArtifact{
		"0x0": {
			stmt("s0", "ADD", defs("c"), "0x1", "0x2"),
			stmt("s1", "CALLPRIVATE", defs("r"), "0x20", "0x7"),
		},
		"0x10": {
			stmt("s2", "SSTORE", nil, "0x0", "r"),
			stmt("s3", "STOP", nil),
		},
		"0x20": {
			stmt("s4", "ADD", defs("b"), "a", "0x1"),
			stmt("s5", "RETURNPRIVATE", nil, "0x10", "b"),
		},
	}
}

func MustCallProgram(tb testing.TB) *setaac.Program {
	tb.Helper()
	f := fn("0x20", "0x20")
	f.Arguments = []string{"a"}
	return MustNewProgram(tb, callIR(), fn("0x0", "0x0", "0x10"), f)
}

// recursiveIR has main call f, and f & g call each other.
func recursiveIR() setaac.IRArtifact {
	return setaac.IRArtifact{
		"0x0":  {stmt("m0", "CALLPRIVATE", nil, "0x20"), stmt("m1", "STOP", nil)},
		"0x20": {stmt("f0", "CALLPRIVATE", nil, "0x40")},
		"0x28": {stmt("f1", "RETURNPRIVATE", nil, "0x0")},
		"0x40": {stmt("g0", "CALLPRIVATE", nil, "0x20")},
		"0x48": {stmt("g1", "RETURNPRIVATE", nil, "0x0")},
	}
}

func MustRecursiveProgram(tb testing.TB) *setaac.Program {
	tb.Helper()
	return MustNewProgram(tb, recursiveIR(), fn("0x0", "0x0"), fn("0x20", "0x20", "0x28"), fn("0x40", "0x40", "0x48"))
}

// disjointIR has two functions with no call between them.
func disjointIR() setaac.IRArtifact {
	return setaac.IRArtifact{
		"0x0": {
			stmt("s0", "ADD", defs("c"), "0x1", "0x2"),
			stmt("s1", "JUMP", nil, "0x10"),
		},
		"0x10": {stmt("s2", "STOP", nil)},
		"0x40": {
			stmt("s3", "SSTORE", nil, "0x0", "0x1"),
			stmt("s4", "STOP", nil),
		},
	}
}

func MustDisjointProgram(tb testing.TB) *setaac.Program {
	tb.Helper()
	return MustNewProgram(tb, disjointIR(), fn("0x0", "0x0", "0x10"), fn("0x40", "0x40"))
}

// loopIR counts i from 0 until i+1 reaches 3, then stops.
func loopIR() setaac.IRArtifact {
	return setaac.IRArtifact{
		"0x0": {
			{ID: "s0", Opcode: "CONST", Defs: defs("i0"), Values: map[string]string{"i0": "0x0"}},
			stmt("s1", "JUMP", nil, "0x10"),
		},
		"0x10": {
			stmt("s2", "PHI", defs("i1"), "i0", "i2"),
			stmt("s3", "ADD", defs("i2"), "i1", "0x1"),
			stmt("s4", "LT", defs("c"), "i2", "0x3"),
			stmt("s5", "JUMPI", nil, "0x10", "c"),
		},
		"0x20": {stmt("s6", "STOP", nil)},
	}
}

func MustLoopProgram(tb testing.TB) *setaac.Program {
	tb.Helper()
	return MustNewProgram(tb, loopIR(), fn("0x0", "0x0", "0x10", "0x20"))
}

func MustBlock(tb testing.TB, prog *setaac.Program, id string) *setaac.Block {
	tb.Helper()
	b, ok := prog.Block(id)
	if !ok {
		tb.Fatalf("block not found: %s", id)
	}
	return b
}

func TestNewProgram(t *testing.T) {
	t.Run("Blocks", func(t *testing.T) {
		prog := MustBranchProgram(t)

		var ids []string
		for _, b := range prog.Blocks() {
			ids = append(ids, b.ID)
		}
		if diff := cmp.Diff([]string{"0x0", "0x10", "0x20", "0x30", setaac.FakeExitBlockID}, ids); diff != "" {
			t.Fatal(diff)
		}

		b := MustBlock(t, prog, "0x0")
		if diff := cmp.Diff([]string{"s0", "s1"}, b.Statements); diff != "" {
			t.Fatal(diff)
		} else if b.Function != "0x0" {
			t.Fatalf("unexpected function: %s", b.Function)
		} else if b.Fallthrough() != "0x10" {
			t.Fatalf("unexpected fallthrough: %s", b.Fallthrough())
		}

		if exit := MustBlock(t, prog, setaac.FakeExitBlockID); exit.Function != "" || len(exit.Statements) != 0 {
			t.Fatal("unexpected exit block")
		}
	})

	t.Run("Successors", func(t *testing.T) {
		prog := MustBranchProgram(t)
		for _, tt := range []struct {
			id          string
			successors  []string
			descendants []string
		}{
			{"0x0", []string{"0x20", "0x10"}, []string{"0x10", "0x20"}},
			{"0x10", nil, nil},
			{"0x20", nil, nil},
			{"0x30", nil, nil},
		} {
			b := MustBlock(t, prog, tt.id)
			if diff := cmp.Diff(tt.successors, b.Successors()); diff != "" {
				t.Fatalf("%s: %s", tt.id, diff)
			} else if diff := cmp.Diff(tt.descendants, b.Descendants()); diff != "" {
				t.Fatalf("%s: %s", tt.id, diff)
			}
		}

		if !MustBlock(t, prog, "0x0").HasDescendant(MustBlock(t, prog, "0x20")) {
			t.Fatal("expected descendant")
		} else if MustBlock(t, prog, "0x0").HasDescendant(MustBlock(t, prog, "0x30")) {
			t.Fatal("unexpected descendant")
		}
	})

	t.Run("Edges", func(t *testing.T) {
		prog, err := setaac.NewProgram(withConstants(branchIR()), setaac.CFGArtifact{
			Functions: map[string]setaac.FunctionRecord{"0x0": fn("0x0", "0x0", "0x10", "0x20", "0x30")},
			Edges:     map[string][]string{"0x0": {"0x30"}, "0x30": {"0x10"}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"0x30"}, MustBlock(t, prog, "0x0").Successors())
		assert.Equal(t, []string{"0x10", "0x30"}, MustBlock(t, prog, "0x0").Descendants())
	})

	t.Run("Statements", func(t *testing.T) {
		prog := MustBranchProgram(t)

		s4, ok := prog.Statement("s4")
		require.True(t, ok)
		assert.Equal(t, "SSTORE", s4.Opcode)
		assert.Equal(t, "0x20", s4.BlockID)
		assert.Equal(t, 0, s4.Index)
		v, ok := s4.Value("0x3")
		require.True(t, ok)
		assert.Equal(t, uint64(3), v.Uint64())

		var ids []string
		for _, s := range prog.Statements("SSTORE") {
			ids = append(ids, s.ID)
		}
		assert.Equal(t, []string{"s2", "s4"}, ids)
	})

	t.Run("NextStatement", func(t *testing.T) {
		prog := MustBranchProgram(t)
		s1, _ := prog.Statement("s1")
		next, ok := prog.NextStatement(s1)
		require.True(t, ok)
		assert.Equal(t, "s2", next.ID)

		s6, _ := prog.Statement("s6")
		_, ok = prog.NextStatement(s6)
		assert.False(t, ok)
	})

	t.Run("EntryBlock", func(t *testing.T) {
		b, ok := MustBranchProgram(t).EntryBlock()
		require.True(t, ok)
		assert.Equal(t, "0x0", b.ID)

		prog := MustNewProgram(t, setaac.IRArtifact{
			"0x40": {stmt("a", "STOP", nil)},
			"0x08": {stmt("b", "STOP", nil)},
		}, fn("0x40", "0x40"), fn("0x8", "0x08"))
		b, ok = prog.EntryBlock()
		require.True(t, ok)
		assert.Equal(t, "0x08", b.ID)
	})

	t.Run("BlockAt", func(t *testing.T) {
		prog := MustBranchProgram(t)
		b, ok := prog.BlockAt(setaac.NewWordExpr(0x20))
		require.True(t, ok)
		assert.Equal(t, "0x20", b.ID)
		_, ok = prog.BlockAt(setaac.NewWordExpr(0x21))
		assert.False(t, ok)
	})

	t.Run("Calls", func(t *testing.T) {
		prog := MustCallProgram(t)

		main, ok := prog.Function("0x0")
		require.True(t, ok)
		assert.Equal(t, []string{"0x20"}, main.Callees())
		assert.Equal(t, []string{"0x0"}, main.CallprivateTargetSources("0x20"))
		assert.Equal(t, map[string]string{"0x20": "s1"}, MustBlock(t, prog, "0x0").CallTargets())
		assert.Equal(t, "0x0", main.EntryBlock())

		f, ok := prog.FunctionAt(setaac.NewWordExpr(0x20))
		require.True(t, ok)
		assert.Equal(t, []string{"0x20"}, f.ReturnprivateBlockIDs())
		assert.Equal(t, []string{"a"}, f.Arguments)

		var addrs []string
		for _, f := range prog.Functions() {
			addrs = append(addrs, f.Addr)
		}
		assert.Equal(t, []string{"0x0", "0x20"}, addrs)
	})

	t.Run("ErrMalformedIR", func(t *testing.T) {
		for _, tt := range []struct {
			name  string
			ir    setaac.IRArtifact
			funcs []setaac.FunctionRecord
		}{
			{
				name:  "SharedBlock",
				ir:    setaac.IRArtifact{"0x0": {stmt("s0", "STOP", nil)}},
				funcs: []setaac.FunctionRecord{fn("0x0", "0x0"), fn("0x20", "0x0")},
			},
			{
				name:  "OrphanBlock",
				ir:    setaac.IRArtifact{"0x0": {stmt("s0", "STOP", nil)}, "0x10": {stmt("s1", "STOP", nil)}},
				funcs: []setaac.FunctionRecord{fn("0x0", "0x0")},
			},
			{
				name:  "EmptyBlock",
				ir:    setaac.IRArtifact{"0x0": {stmt("s0", "STOP", nil)}},
				funcs: []setaac.FunctionRecord{fn("0x0", "0x0", "0x10")},
			},
			{
				name:  "MissingStatementID",
				ir:    setaac.IRArtifact{"0x0": {stmt("", "STOP", nil)}},
				funcs: []setaac.FunctionRecord{fn("0x0", "0x0")},
			},
			{
				name:  "DuplicateStatementID",
				ir:    setaac.IRArtifact{"0x0": {stmt("s0", "STOP", nil)}, "0x10": {stmt("s0", "STOP", nil)}},
				funcs: []setaac.FunctionRecord{fn("0x0", "0x0", "0x10")},
			},
			{
				name:  "CallToUnknownFunction",
				ir:    setaac.IRArtifact{"0x0": {stmt("s0", "CALLPRIVATE", nil, "0x99"), stmt("s1", "STOP", nil)}},
				funcs: []setaac.FunctionRecord{fn("0x0", "0x0")},
			},
			{
				name:  "SymbolicCallTarget",
				ir:    setaac.IRArtifact{"0x0": {stmt("s0", "CALLPRIVATE", nil, "v0"), stmt("s1", "STOP", nil)}},
				funcs: []setaac.FunctionRecord{fn("0x0", "0x0")},
			},
		} {
			t.Run(tt.name, func(t *testing.T) {
				cfg := setaac.CFGArtifact{Functions: make(map[string]setaac.FunctionRecord)}
				for _, f := range tt.funcs {
					cfg.Functions[f.Addr] = f
				}
				_, err := setaac.NewProgram(withConstants(tt.ir), cfg)
				assert.ErrorIs(t, err, setaac.ErrMalformedIR)
			})
		}

		t.Run("InvalidValue", func(t *testing.T) {
			for _, value := range []string{"", "0x", "0xzz", "0b101", "0o17", "017x", "1_000", "0x1_0", "-1", "+1", "0x-1", "0x1" + strings.Repeat("0", 64)} {
				ir := setaac.IRArtifact{"0x0": {{ID: "s0", Opcode: "STOP", Values: map[string]string{"x": value}}}}
				_, err := setaac.NewProgram(ir, setaac.CFGArtifact{Functions: map[string]setaac.FunctionRecord{"0x0": fn("0x0", "0x0")}})
				assert.ErrorIs(t, err, setaac.ErrMalformedIR, value)
			}
		})

		t.Run("Values", func(t *testing.T) {
			ir := setaac.IRArtifact{"0x0": {{ID: "s0", Opcode: "STOP", Values: map[string]string{"x": "255", "y": "0xFF", "z": "0x00ff"}}}}
			prog, err := setaac.NewProgram(ir, setaac.CFGArtifact{Functions: map[string]setaac.FunctionRecord{"0x0": fn("0x0", "0x0")}})
			require.NoError(t, err)
			s0, _ := prog.Statement("s0")
			for _, name := range []string{"x", "y", "z"} {
				v, ok := s0.Value(name)
				require.True(t, ok)
				assert.Equal(t, uint64(255), v.Uint64(), name)
			}
		})

		t.Run("UnknownEdge", func(t *testing.T) {
			_, err := setaac.NewProgram(withConstants(branchIR()), setaac.CFGArtifact{
				Functions: map[string]setaac.FunctionRecord{"0x0": fn("0x0", "0x0", "0x10", "0x20", "0x30")},
				Edges:     map[string][]string{"0x0": {"0x99"}},
			})
			assert.ErrorIs(t, err, setaac.ErrMalformedIR)
		})
	})
}

func TestLoadProgram(t *testing.T) {
	MustWriteJSON := func(tb testing.TB, path string, v interface{}) {
		tb.Helper()
		buf, err := json.Marshal(v)
		require.NoError(tb, err)
		require.NoError(tb, os.WriteFile(path, buf, 0o644))
	}

	dir := t.TempDir()
	irPath, cfgPath := filepath.Join(dir, "ir.json"), filepath.Join(dir, "cfg.json")
	MustWriteJSON(t, irPath, withConstants(branchIR()))
	MustWriteJSON(t, cfgPath, setaac.CFGArtifact{
		Functions: map[string]setaac.FunctionRecord{"0x0": fn("0x0", "0x0", "0x10", "0x20", "0x30")},
	})

	t.Run("OK", func(t *testing.T) {
		prog, err := setaac.LoadProgram(irPath, cfgPath)
		require.NoError(t, err)
		_, ok := prog.Statement("s4")
		assert.True(t, ok)
	})

	t.Run("ErrMissingFunctions", func(t *testing.T) {
		path := filepath.Join(dir, "empty.json")
		MustWriteJSON(t, path, map[string]interface{}{})
		_, err := setaac.LoadProgram(irPath, path)
		assert.ErrorIs(t, err, setaac.ErrMalformedIR)
	})

	t.Run("ErrInvalidJSON", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.json")
		require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
		_, err := setaac.LoadProgram(path, cfgPath)
		require.Error(t, err)
		assert.False(t, errors.Is(err, setaac.ErrMalformedIR))
	})

	t.Run("ErrNotFound", func(t *testing.T) {
		_, err := setaac.LoadProgram(filepath.Join(dir, "missing.json"), cfgPath)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
