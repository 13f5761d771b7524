package setaac_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/setaac/setaac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MustNewSimgr returns a manager over the branching program.
func MustNewSimgr(tb testing.TB, solver setaac.Solver, config setaac.Config) (*setaac.SimulationManager, *setaac.Program) {
	tb.Helper()
	prog := MustBranchProgram(tb)
	entry := MustNewState(tb, prog, solver, config)
	return setaac.NewSimulationManager(entry, setaac.NewExecutor(), config), prog
}

func stateIDs(a []*setaac.State) []string {
	ids := make([]string, len(a))
	for i, s := range a {
		ids[i] = s.ID()
	}
	return ids
}

func TestSimulationManager_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("Find", func(t *testing.T) {
		solver := &fakeSolver{}
		simgr, _ := MustNewSimgr(t, solver, testConfig())
		require.NoError(t, simgr.Run(ctx, setaac.RunOptions{Find: setaac.AtStatement("s4")}))

		s, err := simgr.OneFound()
		require.NoError(t, err)
		assert.Equal(t, "x:1", s.ID())
		assert.Equal(t, "s4", s.Statement().ID)
		assert.Equal(t, 2, simgr.Steps())
		assert.Equal(t, 3, solver.n)
		assert.Equal(t, []string{"x:2"}, stateIDs(simgr.Active()))
	})

	t.Run("Prune", func(t *testing.T) {
		solver := &fakeSolver{}
		simgr, prog := MustNewSimgr(t, solver, testConfig())
		target := MustBlock(t, prog, "0x20")
		require.NoError(t, simgr.Run(ctx, setaac.RunOptions{
			Find:  setaac.AtStatement("s4"),
			Prune: setaac.PruneUnreachable(setaac.NewOracle(prog), target),
		}))

		assert.Len(t, simgr.Found(), 1)
		assert.Equal(t, 1, simgr.Pruned())
		assert.Equal(t, 2, solver.n)
		assert.Empty(t, simgr.Active())
	})

	t.Run("FindAll", func(t *testing.T) {
		simgr, _ := MustNewSimgr(t, &fakeSolver{}, testConfig())
		require.NoError(t, simgr.Run(ctx, setaac.RunOptions{
			Find:    setaac.Any(setaac.AtStatement("s2"), setaac.AtStatement("s4")),
			FindAll: true,
		}))
		assert.Equal(t, []string{"x:2", "x:1"}, stateIDs(simgr.Found()))
		assert.Equal(t, 2, simgr.Steps())
		assert.Empty(t, simgr.Deadended())
	})

	t.Run("DFS", func(t *testing.T) {
		simgr, _ := MustNewSimgr(t, &fakeSolver{}, testConfig())
		require.NoError(t, simgr.Run(ctx, setaac.RunOptions{}))
		assert.Equal(t, []string{"x:1", "x:2"}, stateIDs(simgr.Deadended()))
		assert.Equal(t, 6, simgr.Steps())
		assert.Empty(t, simgr.Found())
	})

	t.Run("BFS", func(t *testing.T) {
		config := testConfig()
		config.Strategy = setaac.StrategyBFS
		simgr, _ := MustNewSimgr(t, &fakeSolver{}, config)
		require.NoError(t, simgr.Run(ctx, setaac.RunOptions{}))
		assert.Equal(t, []string{"x:2", "x:1"}, stateIDs(simgr.Deadended()))
		assert.Equal(t, 6, simgr.Steps())
	})

	t.Run("SetSearcher", func(t *testing.T) {
		simgr, _ := MustNewSimgr(t, &fakeSolver{}, testConfig())
		simgr.SetSearcher(setaac.NewBFSSearcher())
		require.NoError(t, simgr.Run(ctx, setaac.RunOptions{}))
		assert.Equal(t, []string{"x:2", "x:1"}, stateIDs(simgr.Deadended()))
	})

	t.Run("Avoid", func(t *testing.T) {
		simgr, _ := MustNewSimgr(t, &fakeSolver{}, testConfig())
		require.NoError(t, simgr.Run(ctx, setaac.RunOptions{Avoid: setaac.AtBlock("0x10")}))
		assert.Equal(t, []string{"x:2"}, stateIDs(simgr.Avoided()))
		assert.Equal(t, []string{"x:1"}, stateIDs(simgr.Deadended()))
	})

	t.Run("Unsat", func(t *testing.T) {
		simgr, _ := MustNewSimgr(t, &fakeSolver{unsat: isNegation}, testConfig())
		require.NoError(t, simgr.Run(ctx, setaac.RunOptions{Find: setaac.AtStatement("s4")}))

		_, err := simgr.OneFound()
		assert.ErrorIs(t, err, setaac.ErrNoStateAvailable)
		assert.Equal(t, []string{"x:2"}, stateIDs(simgr.Deadended()))
		assert.Empty(t, simgr.Errored())
		assert.Equal(t, 4, simgr.Steps())
	})

	t.Run("ErrSolver", func(t *testing.T) {
		simgr, _ := MustNewSimgr(t, &fakeSolver{err: errors.New("marker")}, testConfig())
		require.NoError(t, simgr.Run(ctx, setaac.RunOptions{}))

		require.Len(t, simgr.Errored(), 1)
		assert.Contains(t, simgr.Errored()[0].Err().Error(), "marker")
		assert.Empty(t, simgr.Active())
		assert.Equal(t, 1, simgr.Steps())
	})

	t.Run("Lazy", func(t *testing.T) {
		config := testConfig()
		config.LazySolves = true
		solver := &fakeSolver{}
		simgr, _ := MustNewSimgr(t, solver, config)
		require.NoError(t, simgr.Run(ctx, setaac.RunOptions{Find: setaac.AtStatement("s4")}))

		assert.Len(t, simgr.Found(), 1)
		assert.Equal(t, 1, solver.n)
	})

	t.Run("Lazy/Unsat", func(t *testing.T) {
		config := testConfig()
		config.LazySolves = true
		simgr, _ := MustNewSimgr(t, &fakeSolver{unsat: isNegation}, config)
		require.NoError(t, simgr.Run(ctx, setaac.RunOptions{Find: setaac.AtStatement("s4")}))
		assert.Empty(t, simgr.Found())
	})

	t.Run("Prune/Disjoint", func(t *testing.T) {
		solver := &fakeSolver{}
		prog := MustDisjointProgram(t)
		simgr := setaac.NewSimulationManager(MustNewState(t, prog, solver, testConfig()), setaac.NewExecutor(), testConfig())
		require.NoError(t, simgr.Run(ctx, setaac.RunOptions{
			Find:  setaac.AtStatement("s3"),
			Prune: setaac.PruneUnreachable(setaac.NewOracle(prog), MustBlock(t, prog, "0x40")),
		}))

		assert.Equal(t, 1, simgr.Steps())
		assert.Equal(t, 1, simgr.Pruned())
		assert.Equal(t, 0, solver.n)
		assert.Empty(t, simgr.Found())
		assert.Empty(t, simgr.Active())
	})

	t.Run("Loop", func(t *testing.T) {
		config := testConfig()
		config.MaxSteps = 100
		prog := MustLoopProgram(t)
		simgr := setaac.NewSimulationManager(MustNewState(t, prog, &fakeSolver{}, config), setaac.NewExecutor(), config)
		require.NoError(t, simgr.Run(ctx, setaac.RunOptions{}))

		// Two entry statements, three passes of four, then STOP.
		assert.Equal(t, 15, simgr.Steps())
		require.Len(t, simgr.Deadended(), 1)
		s := simgr.Deadended()[0]
		assert.Equal(t, uint64(2), MustReadConstant(t, s, "i1").Uint64())
		assert.Equal(t, uint64(3), MustReadConstant(t, s, "i2").Uint64())
		assert.Equal(t, uint64(0), MustReadConstant(t, s, "c").Uint64())
	})

	t.Run("MaxSteps", func(t *testing.T) {
		config := testConfig()
		config.MaxSteps = 1
		simgr, _ := MustNewSimgr(t, &fakeSolver{}, config)
		require.NoError(t, simgr.Run(ctx, setaac.RunOptions{}))

		assert.Equal(t, 1, simgr.Steps())
		require.Len(t, simgr.Active(), 1)
		assert.Equal(t, "s1", simgr.Active()[0].Statement().ID)
	})

	t.Run("Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctx)
		cancel()

		simgr, _ := MustNewSimgr(t, &fakeSolver{}, testConfig())
		assert.ErrorIs(t, simgr.Run(ctx, setaac.RunOptions{}), context.Canceled)
		assert.Equal(t, 0, simgr.Steps())
		assert.Equal(t, []string{"x:1"}, stateIDs(simgr.Active()))
	})

	t.Run("ErrMalformedIR", func(t *testing.T) {
		prog := MustNewProgram(t, setaac.IRArtifact{
			"0x0": {stmt("a", "ADD", defs("r"), "x", "0x1"), stmt("b", "STOP", nil)},
		}, fn("0x0", "0x0"))
		config := testConfig()
		simgr := setaac.NewSimulationManager(MustNewState(t, prog, &fakeSolver{}, config), setaac.NewExecutor(), config)

		err := simgr.Run(ctx, setaac.RunOptions{})
		assert.ErrorIs(t, err, setaac.ErrMalformedIR)
		require.Len(t, simgr.Errored(), 1)
		assert.ErrorIs(t, simgr.Errored()[0].Err(), setaac.ErrMalformedIR)
	})

	t.Run("ErrCallStackUnderflow", func(t *testing.T) {
		prog := MustNewProgram(t, setaac.IRArtifact{
			"0x0": {stmt("a", "RETURNPRIVATE", nil, "0x0")},
		}, fn("0x0", "0x0"))
		config := testConfig()
		simgr := setaac.NewSimulationManager(MustNewState(t, prog, &fakeSolver{}, config), setaac.NewExecutor(), config)

		require.NoError(t, simgr.Run(ctx, setaac.RunOptions{}))
		require.Len(t, simgr.Errored(), 1)
		assert.ErrorIs(t, simgr.Errored()[0].Err(), setaac.ErrCallStackUnderflow)
	})
}
