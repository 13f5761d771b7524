package main

import (
	"fmt"

	"github.com/setaac/setaac"
	"github.com/spf13/cobra"
)

// NewStorageCommand returns the command that lists every feasible storage
// write of a contract.
func NewStorageCommand() *cobra.Command {
	var flags projectFlags

	cmd := &cobra.Command{
		Use:   "storage IR CFG",
		Short: "List the storage writes reachable along every path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, solver, err := flags.open(args[0], args[1])
			if err != nil {
				return err
			}
			defer solver.Close()

			writes, err := p.StorageWrites(cmd.Context(), setaac.GenExecID())
			for _, w := range writes {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tkey=%s\tvalue=%s\tconstraints=%d\n", w.StatementID, w.Key, w.Value, len(w.Constraints))
			}
			return err
		},
	}
	flags.register(cmd)
	return cmd
}
