package main

import (
	"fmt"

	"github.com/setaac/setaac"
	"github.com/spf13/cobra"
)

// NewReachCommand returns the command that queries the reachability oracle.
func NewReachCommand() *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "reach IR CFG",
		Short: "Report whether one block can structurally reach another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := setaac.LoadProgram(args[0], args[1])
			if err != nil {
				return err
			}

			a, ok := prog.Block(from)
			if !ok {
				return fmt.Errorf("block not found: %s", from)
			}
			b, ok := prog.Block(to)
			if !ok {
				return fmt.Errorf("block not found: %s", to)
			}
			fmt.Fprintln(cmd.OutOrStdout(), setaac.NewOracle(prog).DirectlyReachable(a, b))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source block id")
	cmd.Flags().StringVar(&to, "to", "", "target block id")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
