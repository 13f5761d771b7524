package setaac

import (
	"context"

	"github.com/pkg/errors"
)

// StorageWrite is one way an SSTORE statement can be executed: the key
// and value it writes and the path constraints under which it does so.
type StorageWrite struct {
	StatementID string
	Key         Expr
	Value       Expr
	Constraints []Expr
}

// StorageWrites explores every feasible path to every SSTORE statement and
// returns the resulting writes, ordered by statement and then by path.
// Partial results are returned along with any error.
func (p *Project) StorageWrites(ctx context.Context, xid string) ([]StorageWrite, error) {
	var writes []StorageWrite
	for _, stmt := range p.prog.Statements("SSTORE") {
		simgr, err := p.Explore(ctx, xid, stmt, true)
		if simgr != nil {
			for _, s := range simgr.Found() {
				w, err := storageWrite(s, stmt)
				if err != nil {
					return writes, err
				}
				writes = append(writes, w)
			}
		}
		if err != nil {
			return writes, errors.Wrapf(err, "storage writes: statement %s", stmt.ID)
		}
	}
	return writes, nil
}

// storageWrite resolves the key and value of an SSTORE on a state
// positioned at it.
func storageWrite(s *State, stmt *Statement) (StorageWrite, error) {
	args, err := operands(s, stmt, 2)
	if err != nil {
		return StorageWrite{}, err
	}
	s.Resolve(stmt, RoleKey, args[0])
	s.Resolve(stmt, RoleValue, args[1])

	return StorageWrite{
		StatementID: stmt.ID,
		Key:         args[0],
		Value:       args[1],
		Constraints: s.Constraints(),
	}, nil
}
