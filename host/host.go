// Package host defines the integration surface between the perf trampoline
// subsystem and whatever interpreter embeds it. The interpreter's own
// evaluator, its code-object storage, and the extra-slot mechanism are all
// external collaborators described only at their interface here; a mock
// implementation for tests and demos lives in the module root's testing.go.
package host

import "errors"

// ErrForeignHookInstalled is returned by InstallEvalFrame when the active
// evaluator hook was not installed by this subsystem. Init surfaces this to
// the caller rather than silently overwriting someone else's hook.
var ErrForeignHookInstalled = errors.New("host: a foreign evaluator hook is already installed")

// ThreadState and Value are opaque to this subsystem: it never inspects
// them, only threads them through to the host's own evaluator.
type ThreadState any
type Value any

// Evaluator is the interpreter's per-call evaluation entry point. ts is the
// interpreter's thread state; f carries the code object being evaluated;
// throwFlag signals a pending exception the evaluator must raise rather
// than run normally.
type Evaluator func(ts ThreadState, f Frame, throwFlag int) (Value, error)

// Code is one compiled interpreted function. GetExtra/SetExtra access the
// single per-code-object pointer this subsystem uses to memoize a
// trampoline address, at the index Interpreter.RequestExtraIndex returned
// at init. The code object owns the slot; this subsystem never allocates or
// frees it.
type Code interface {
	Qualname() string
	Filename() string
	// GetExtra returns the stored trampoline address and whether one has
	// ever been set.
	GetExtra() (uintptr, bool)
	SetExtra(uintptr)
}

// Frame is one activation record passed through the evaluator hook.
type Frame interface {
	Code() Code
}

// Interpreter is the handful of calls the dispatch core needs from its host.
type Interpreter interface {
	// RequestExtraIndex returns the stable small integer the host will use
	// internally for every Code.GetExtra/SetExtra call this subsystem makes.
	RequestExtraIndex() int
	// InstallEvalFrame atomically swaps the active evaluator hook for hook.
	// Returns ErrForeignHookInstalled if CurrentEvalFrame is not nil and not
	// the hook this subsystem itself installed.
	InstallEvalFrame(hook Evaluator) error
	// UninstallEvalFrame restores the interpreter's own evaluator.
	UninstallEvalFrame() error
	// CurrentEvalFrame is the evaluator hook presently active, or nil if
	// none is installed.
	CurrentEvalFrame() Evaluator
	// DefaultEvaluator is the host's own evaluator: the fallback path and
	// the final step of every successful trampoline call.
	DefaultEvaluator() Evaluator
}
