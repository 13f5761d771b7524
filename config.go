package setaac

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// SolverBackend identifies one of the supported SMT backends.
type SolverBackend string

const (
	SolverZ3        = SolverBackend("z3")
	SolverYices2    = SolverBackend("yices2")
	SolverBitwuzla  = SolverBackend("bitwuzla")
	SolverBoolector = SolverBackend("boolector")
)

// SolverBackends lists every supported backend.
var SolverBackends = []SolverBackend{SolverZ3, SolverYices2, SolverBitwuzla, SolverBoolector}

// ParseSolverBackend returns the backend for a case-insensitive name.
func ParseSolverBackend(name string) (SolverBackend, error) {
	for _, b := range SolverBackends {
		if strings.EqualFold(string(b), name) {
			return b, nil
		}
	}
	return "", errors.Errorf("unknown solver backend: %q", name)
}

// Strategy names the worklist discipline of the simulation manager.
type Strategy string

const (
	StrategyDFS    = Strategy("dfs")
	StrategyBFS    = Strategy("bfs")
	StrategyRandom = Strategy("random")
)

// Config is the configuration of a run. It is fixed once a run starts.
type Config struct {
	// Solver selects the SMT backend.
	Solver SolverBackend `json:"solver"`

	// SolverTimeout is the per-query timeout in milliseconds. Zero disables it.
	SolverTimeout uint `json:"solver_timeout_ms"`

	// SolverCommands overrides the argv used to launch process backends.
	SolverCommands map[SolverBackend][]string `json:"solver_commands,omitempty"`

	// LazySolves defers feasibility checks until a model is required or a
	// state matches the find predicate.
	LazySolves bool `json:"lazy_solves"`

	// CacheCommonConstraints memoizes check results of identical constraint sets.
	CacheCommonConstraints bool `json:"cache_common_constraints"`

	// MaxSHASize bounds the number of hash-derived base addresses per lineage
	// that receive distance axioms.
	MaxSHASize int `json:"max_sha_size"`

	// MinSHADistance is the minimum distance asserted between two hash-derived
	// base addresses. This stops base+offset addresses derived from different
	// hashes from overlapping within a reasonable distance.
	MinSHADistance uint64 `json:"min_sha_distance"`

	// MaxCalldataSize is the number of calldata bytes extracted from models.
	MaxCalldataSize uint `json:"max_calldata_size"`

	// Strategy is the exploration order.
	Strategy Strategy `json:"strategy"`

	// Seed seeds the random strategy.
	Seed int64 `json:"seed"`

	// MaxSteps stops a run after this many steps. Zero means unbounded.
	MaxSteps int `json:"max_steps"`

	// EntryBlock overrides the program entry block.
	EntryBlock string `json:"entry_block,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Solver:          SolverYices2,
		MaxSHASize:      256,
		MinSHADistance:  1 << 20,
		MaxCalldataSize: 1024,
		Strategy:        StrategyDFS,
	}
}

// Validate returns an error if the configuration is not usable.
func (c *Config) Validate() error {
	if _, err := ParseSolverBackend(string(c.Solver)); err != nil {
		return err
	}
	switch c.Strategy {
	case StrategyDFS, StrategyBFS, StrategyRandom:
	default:
		return errors.Errorf("unknown strategy: %q", c.Strategy)
	}
	if c.MaxSHASize < 0 {
		return errors.New("max_sha_size must be non-negative")
	} else if c.MaxSteps < 0 {
		return errors.New("max_steps must be non-negative")
	} else if c.MaxCalldataSize == 0 {
		return errors.New("max_calldata_size must be positive")
	}
	return nil
}

// ReadConfigFile reads a JSON configuration file. Fields missing from the
// file keep their default values.
func ReadConfigFile(path string) (Config, error) {
	config := DefaultConfig()

	b, err := os.ReadFile(path)
	if err != nil {
		return config, errors.Wrap(err, "read config")
	}
	if err := json.Unmarshal(b, &config); err != nil {
		return config, errors.Wrapf(err, "parse config %s", path)
	}
	return config, config.Validate()
}

// WriteToFile writes the configuration as indented JSON.
func (c *Config) WriteToFile(path string) error {
	b, err := json.MarshalIndent(c, "", "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
