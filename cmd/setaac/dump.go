package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/setaac/setaac"
	"github.com/spf13/cobra"
)

// NewDumpCommand returns the command that prints a loaded program.
func NewDumpCommand() *cobra.Command {
	var calls bool

	cmd := &cobra.Command{
		Use:   "dump IR CFG",
		Short: "Print the functions, blocks and statements of a program",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := setaac.LoadProgram(args[0], args[1])
			if err != nil {
				return err
			}
			dumpProgram(cmd.OutOrStdout(), prog, calls)
			return nil
		},
	}
	cmd.Flags().BoolVar(&calls, "calls", false, "also print the call graph")
	return cmd
}

func dumpProgram(w io.Writer, prog *setaac.Program, calls bool) {
	for _, fn := range prog.Functions() {
		fmt.Fprintf(w, "func %s %s", fn.Addr, fn.Name)
		if fn.IsPublic {
			fmt.Fprint(w, " public")
		}
		if len(fn.Arguments) > 0 {
			fmt.Fprintf(w, " (%s)", strings.Join(fn.Arguments, ", "))
		}
		fmt.Fprintln(w)

		for _, id := range fn.Blocks {
			b, _ := prog.Block(id)
			fmt.Fprintf(w, "  block %s", b.ID)
			if succ := b.Successors(); len(succ) > 0 {
				fmt.Fprintf(w, " -> %s", strings.Join(succ, ", "))
			}
			fmt.Fprintln(w)

			for _, sid := range b.Statements {
				stmt, _ := prog.Statement(sid)
				fmt.Fprintf(w, "    %s\n", stmt)
			}
		}
	}

	if !calls {
		return
	}
	fmt.Fprintln(w, "calls")
	g := prog.CallGraph()
	for _, fn := range prog.Functions() {
		if callees := g.Callees(fn.Addr); len(callees) > 0 {
			fmt.Fprintf(w, "  %s -> %s\n", fn.Addr, strings.Join(callees, ", "))
		}
	}
}
