package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/setaac/setaac"
	"github.com/setaac/setaac/backend"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCommand returns the setaac command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "setaac",
		Short:         "Symbolic execution over decompiled EVM contracts",
		Long:          "setaac explores paths of a contract decompiled to three-address code.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	debug := cmd.PersistentFlags().BoolP("debug", "d", false, "enable debug logging")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		initLogger(*debug)
	}

	cmd.AddCommand(NewExploreCommand(), NewReachCommand(), NewStorageCommand(), NewDumpCommand())
	return cmd
}

// initLogger installs a console logger on stderr.
func initLogger(debug bool) {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	setaac.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

// projectFlags are the flags shared by commands that run the engine.
type projectFlags struct {
	config string
	solver string
	lazy   bool
}

func (f *projectFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.config, "config", "", "path to a JSON config file")
	cmd.Flags().StringVar(&f.solver, "solver", "", "solver backend (z3, yices2, bitwuzla, boolector)")
	cmd.Flags().BoolVar(&f.lazy, "lazy", false, "defer feasibility checks")
}

// open loads the IR and CFG artifacts and returns a project over them
// along with the solver to close once the command is done.
func (f *projectFlags) open(irPath, cfgPath string) (*setaac.Project, backend.Solver, error) {
	config := setaac.DefaultConfig()
	if f.config != "" {
		c, err := setaac.ReadConfigFile(f.config)
		if err != nil {
			return nil, nil, err
		}
		config = c
	}
	if f.solver != "" {
		b, err := setaac.ParseSolverBackend(f.solver)
		if err != nil {
			return nil, nil, err
		}
		config.Solver = b
	}
	if f.lazy {
		config.LazySolves = true
	}

	prog, err := setaac.LoadProgram(irPath, cfgPath)
	if err != nil {
		return nil, nil, err
	}
	solver, err := backend.New(config)
	if err != nil {
		return nil, nil, err
	}
	p, err := setaac.NewProject(prog, solver, config)
	if err != nil {
		solver.Close()
		return nil, nil, err
	}
	return p, solver, nil
}
