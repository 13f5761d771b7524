package main

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/setaac/setaac"
	"github.com/spf13/cobra"
)

// NewExploreCommand returns the command that searches for inputs reaching
// a block or statement.
func NewExploreCommand() *cobra.Command {
	var (
		flags   projectFlags
		blockID string
		stmtID  string
		findAll bool
	)

	cmd := &cobra.Command{
		Use:   "explore IR CFG",
		Short: "Find calldata that reaches a block or statement",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (blockID == "") == (stmtID == "") {
				return errors.New("exactly one of --block or --stmt is required")
			}

			p, solver, err := flags.open(args[0], args[1])
			if err != nil {
				return err
			}
			defer solver.Close()

			if blockID != "" {
				b, err := p.Block(blockID)
				if err != nil {
					return err
				}
				stmtID = b.FirstStatement()
			}
			target, err := p.Statement(stmtID)
			if err != nil {
				return err
			}

			return explore(cmd.Context(), cmd.OutOrStdout(), p, target, findAll)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&blockID, "block", "", "target block id")
	cmd.Flags().StringVar(&stmtID, "stmt", "", "target statement id")
	cmd.Flags().BoolVar(&findAll, "find-all", false, "report every path to the target")
	return cmd
}

// explore runs the search and prints the calldata of every found state.
// An interrupted run still reports what was found before it stopped.
func explore(ctx context.Context, w io.Writer, p *setaac.Project, target *setaac.Statement, findAll bool) error {
	simgr, err := p.Explore(ctx, setaac.GenExecID(), target, findAll)
	if errors.Is(err, context.Canceled) {
		setaac.Logger.Warn().Int("found", len(simgr.Found())).Msg("exploration interrupted")
		ctx = context.WithoutCancel(ctx)
	} else if err != nil {
		return err
	}
	setaac.Logger.Info().
		Int("steps", simgr.Steps()).
		Int("found", len(simgr.Found())).
		Int("deadended", len(simgr.Deadended())).
		Int("errored", len(simgr.Errored())).
		Int("pruned", simgr.Pruned()).
		Msg("exploration finished")

	if len(simgr.Found()) == 0 && err == nil {
		return errors.Errorf("statement %s is not reachable", target.ID)
	}
	for _, s := range simgr.Found() {
		calldata, err := s.ConcretizeCalldata(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t0x%x\n", s.ID(), calldata)
	}
	return err
}
