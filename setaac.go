package setaac

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Standard widths.
const (
	WidthBool = 1
	Width8    = 8
	Width64   = 64
	WidthWord = 256
)

var (
	ErrSolverTimeout       = errors.New("Solver timeout")
	ErrSolverCanceled      = errors.New("Solver canceled")
	ErrSolverResourceLimit = errors.New("Solver resource limit")
	ErrSolverUnknown       = errors.New("Solver unknown error")

	ErrCallStackUnderflow = errors.New("setaac: call stack underflow")
	ErrMalformedIR        = errors.New("setaac: malformed IR")
	ErrNoStateAvailable   = errors.New("setaac: no state available")
	ErrUnsatisfiable      = errors.New("setaac: unsatisfiable")
)

// Logger is the root logger used by every component. Disabled by default.
var Logger = zerolog.Nop()

// componentLogger returns a sub-logger tagged with the component name.
func componentLogger(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// MalformedIRError reports an input contract violation by the decompiler
// front-end. It is fatal to a run.
type MalformedIRError struct {
	BlockID     string
	StatementID string
	Reason      string
}

// Error returns the error as a string.
func (e *MalformedIRError) Error() string {
	switch {
	case e.StatementID != "":
		return fmt.Sprintf("setaac: malformed IR: statement %s: %s", e.StatementID, e.Reason)
	case e.BlockID != "":
		return fmt.Sprintf("setaac: malformed IR: block %s: %s", e.BlockID, e.Reason)
	default:
		return fmt.Sprintf("setaac: malformed IR: %s", e.Reason)
	}
}

// Is allows errors.Is(err, ErrMalformedIR).
func (e *MalformedIRError) Is(target error) bool { return target == ErrMalformedIR }

// IsFatal returns true if err must abort a run rather than a single state.
func IsFatal(err error) bool {
	return errors.Is(err, ErrMalformedIR)
}

// GenExecID returns a new execution identity for a root state.
func GenExecID() string {
	return uuid.NewString()
}

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
