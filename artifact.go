package setaac

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// IRArtifact maps block ids to their ordered statements.
type IRArtifact map[string][]StatementRecord

// StatementRecord is a statement as exported by the decompiler.
type StatementRecord struct {
	ID       string            `json:"id"`
	Opcode   string            `json:"opcode"`
	Operands []string          `json:"operands,omitempty"`
	Defs     []string          `json:"defs,omitempty"`
	Values   map[string]string `json:"values,omitempty"`
}

// CFGArtifact holds the decompiler's function table and, optionally, its
// intra-procedural edges.
type CFGArtifact struct {
	Functions map[string]FunctionRecord `json:"functions"`
	Edges     map[string][]string       `json:"edges,omitempty"`
}

// FunctionRecord is a function as exported by the decompiler.
type FunctionRecord struct {
	Addr      string   `json:"addr"`
	Name      string   `json:"name"`
	IsPublic  bool     `json:"is_public"`
	Blocks    []string `json:"blocks"`
	Arguments []string `json:"arguments"`
}

// ReadIRFile decodes an IR artifact from a JSON file.
func ReadIRFile(path string) (IRArtifact, error) {
	var ir IRArtifact
	if err := readJSONFile(path, &ir); err != nil {
		return nil, errors.Wrap(err, "read IR artifact")
	}
	return ir, nil
}

// ReadCFGFile decodes a CFG artifact from a JSON file.
func ReadCFGFile(path string) (CFGArtifact, error) {
	var cfg CFGArtifact
	if err := readJSONFile(path, &cfg); err != nil {
		return cfg, errors.Wrap(err, "read CFG artifact")
	} else if cfg.Functions == nil {
		return cfg, errors.Wrapf(ErrMalformedIR, "%s: missing functions", path)
	}
	return cfg, nil
}

// LoadProgram reads both artifacts and builds the program.
func LoadProgram(irPath, cfgPath string) (*Program, error) {
	ir, err := ReadIRFile(irPath)
	if err != nil {
		return nil, err
	}
	cfg, err := ReadCFGFile(cfgPath)
	if err != nil {
		return nil, err
	}
	return NewProgram(ir, cfg)
}

func readJSONFile(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return errors.Wrap(json.Unmarshal(b, v), path)
}
