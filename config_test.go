package setaac_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/setaac/setaac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSolverBackend(t *testing.T) {
	for _, tt := range []struct {
		name string
		want setaac.SolverBackend
	}{
		{"z3", setaac.SolverZ3},
		{"Z3", setaac.SolverZ3},
		{"yices2", setaac.SolverYices2},
		{"BITWUZLA", setaac.SolverBitwuzla},
		{"boolector", setaac.SolverBoolector},
	} {
		b, err := setaac.ParseSolverBackend(tt.name)
		require.NoError(t, err)
		assert.Equal(t, tt.want, b)
	}

	_, err := setaac.ParseSolverBackend("cvc5")
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	config := setaac.DefaultConfig()
	require.NoError(t, config.Validate())
	assert.Equal(t, setaac.SolverYices2, config.Solver)
	assert.Equal(t, setaac.StrategyDFS, config.Strategy)

	for _, tt := range []struct {
		name string
		fn   func(c *setaac.Config)
	}{
		{"Solver", func(c *setaac.Config) { c.Solver = "cvc5" }},
		{"Strategy", func(c *setaac.Config) { c.Strategy = "dijkstra" }},
		{"MaxSHASize", func(c *setaac.Config) { c.MaxSHASize = -1 }},
		{"MaxSteps", func(c *setaac.Config) { c.MaxSteps = -1 }},
		{"MaxCalldataSize", func(c *setaac.Config) { c.MaxCalldataSize = 0 }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			config := setaac.DefaultConfig()
			tt.fn(&config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestReadConfigFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("Partial", func(t *testing.T) {
		path := filepath.Join(dir, "partial.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"solver":"z3","max_steps":10,"lazy_solves":true}`), 0o644))

		config, err := setaac.ReadConfigFile(path)
		require.NoError(t, err)
		assert.Equal(t, setaac.SolverZ3, config.Solver)
		assert.Equal(t, 10, config.MaxSteps)
		assert.True(t, config.LazySolves)
		assert.Equal(t, 256, config.MaxSHASize)
		assert.Equal(t, uint64(1<<20), config.MinSHADistance)
		assert.Equal(t, uint(1024), config.MaxCalldataSize)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		path := filepath.Join(dir, "config.json")
		config := setaac.DefaultConfig()
		config.Solver = setaac.SolverBitwuzla
		config.SolverTimeout = 500
		config.SolverCommands = map[setaac.SolverBackend][]string{setaac.SolverBitwuzla: {"bitwuzla", "--lang", "smt2"}}
		config.CacheCommonConstraints = true
		config.Strategy = setaac.StrategyRandom
		config.Seed = 42
		config.EntryBlock = "0x20"
		require.NoError(t, config.WriteToFile(path))

		other, err := setaac.ReadConfigFile(path)
		require.NoError(t, err)
		assert.Equal(t, config, other)
	})

	t.Run("ErrInvalid", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"strategy":"dijkstra"}`), 0o644))
		_, err := setaac.ReadConfigFile(path)
		assert.Error(t, err)
	})

	t.Run("ErrSyntax", func(t *testing.T) {
		path := filepath.Join(dir, "syntax.json")
		require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))
		_, err := setaac.ReadConfigFile(path)
		assert.Error(t, err)
	})

	t.Run("ErrNotFound", func(t *testing.T) {
		_, err := setaac.ReadConfigFile(filepath.Join(dir, "missing.json"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
