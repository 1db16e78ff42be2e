// Package perftrampoline gives native profilers like perf per-function
// symbol resolution into an otherwise-opaque interpreter call stack: each
// interpreted code object is lazily given a unique executable trampoline
// address, and that address is reported to a pluggable side-channel sink
// (a perf-map text file or a jitdump binary stream with synthetic DWARF
// unwind info) the external profiler tooling consumes.
package perftrampoline

import (
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/sepastian/perftrampoline/host"
	"github.com/sepastian/perftrampoline/internal/arena"
	"github.com/sepastian/perftrampoline/internal/logging"
	"github.com/sepastian/perftrampoline/internal/perfmap"
	"github.com/sepastian/perftrampoline/internal/sink"
)

// defaultTemplate is a placeholder stub template used when no host-specific
// build artifact is supplied via Config.Template. A real embedding
// interpreter replaces this with its compiled trampoline's actual
// [start,end) byte range; the subsystem never inspects these bytes, only
// copies and measures them.
var defaultTemplate = []byte{
	0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90,
	0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90,
}

const defaultArenaSize = 64 * 1024

// Status is the subsystem's global lifecycle state.
type Status int

const (
	StatusNoInit Status = iota
	StatusOK
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	default:
		return "no-init"
	}
}

// Config configures a Subsystem. DefaultConfig alone yields a working
// subsystem backed by an inert placeholder template and no sink.
type Config struct {
	// Template holds the stub's machine code bytes: an opaque [start,end)
	// byte range exported by the interpreter build. Defaults to a small
	// inert placeholder if left nil.
	Template []byte
	// ArenaSize is A, the size in bytes of each executable-memory arena.
	// Must be a positive multiple of the system page size. Defaults to
	// 64 KiB.
	ArenaSize uint32
	// Sink selects the profiler side-channel. Defaults to sink.NonePlug().
	Sink sink.Plug
	// PersistAfterFork is the initial value of the persist-after-fork flag.
	PersistAfterFork bool
	// Logger receives diagnostic messages. Defaults to logging.Default().
	Logger *logging.Logger
	// Observer receives metrics events. Defaults to a MetricsObserver
	// wrapping the subsystem's own Metrics; set explicitly to NoOpObserver{}
	// to disable the bookkeeping entirely.
	Observer Observer
}

// DefaultConfig returns a Config with every field set to a documented
// default. Observer is left nil so NewSubsystem wires it to the
// subsystem's own Metrics.
func DefaultConfig() Config {
	return Config{
		Template:         defaultTemplate,
		ArenaSize:        defaultArenaSize,
		Sink:             sink.NonePlug(),
		PersistAfterFork: false,
		Logger:           logging.Default(),
	}
}

// Subsystem is the dispatch core and lifecycle manager for one interpreter.
// All mutable state is guarded by mu; the interpreter's own global
// evaluation lock serializes dispatch calls in practice, but Subsystem does
// not rely on that alone.
type Subsystem struct {
	mu sync.Mutex

	cfg    Config
	interp host.Interpreter

	arenas     *arena.List
	sinkPlug   sink.Plug
	sinkState  sink.State
	extraIndex int

	persistAfterFork bool
	status           Status

	metrics  *Metrics
	logger   *logging.Logger
	observer Observer
}

// NewSubsystem creates a Subsystem bound to interp. Init(true) must be
// called before dispatch.
func NewSubsystem(interp host.Interpreter, cfg Config) *Subsystem {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Sink.Init == nil {
		cfg.Sink = sink.NonePlug()
	}
	if len(cfg.Template) == 0 {
		cfg.Template = defaultTemplate
	}
	if cfg.ArenaSize == 0 {
		cfg.ArenaSize = defaultArenaSize
	}

	metrics := NewMetrics()
	observer := cfg.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	return &Subsystem{
		cfg:              cfg,
		interp:           interp,
		sinkPlug:         cfg.Sink,
		persistAfterFork: cfg.PersistAfterFork,
		status:           StatusNoInit,
		metrics:          metrics,
		logger:           cfg.Logger,
		observer:         observer,
	}
}

// Metrics returns the subsystem's metrics instance.
func (s *Subsystem) Metrics() *Metrics {
	return s.metrics
}

// Status reports the subsystem's current lifecycle state.
func (s *Subsystem) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Init brings the subsystem up (activate=true) or down (activate=false).
// Bringing it up installs the evaluator hook, initializes the active sink,
// and prepares the arena list; bringing it down uninstalls the hook and
// leaves status NoInit without freeing arenas (see FreeArenas).
func (s *Subsystem) Init(activate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initLocked(activate)
}

func (s *Subsystem) initLocked(activate bool) error {
	if !activate {
		if s.status != StatusNoInit {
			if err := s.interp.UninstallEvalFrame(); err != nil {
				return WrapError("Init", CodeInvalidConfig, err)
			}
		}
		s.status = StatusNoInit
		return nil
	}

	if s.status == StatusOK {
		return nil
	}

	state, padding, err := s.sinkPlug.Init()
	if err != nil {
		return WrapError("Init", CodeSinkInitFailed, err)
	}

	arenas, err := arena.NewList(s.cfg.Template, padding, s.cfg.ArenaSize)
	if err != nil {
		return WrapError("Init", CodeInvalidConfig, err)
	}

	if err := s.interp.InstallEvalFrame(s.Evaluate); err != nil {
		_ = arenas.DestroyAll()
		if s.sinkPlug.Fini != nil {
			_ = s.sinkPlug.Fini(state)
		}
		if err == host.ErrForeignHookInstalled {
			return NewError("Init", CodeForeignHookInstalled, err.Error())
		}
		return WrapError("Init", CodeForeignHookInstalled, err)
	}

	s.extraIndex = s.interp.RequestExtraIndex()
	s.sinkState = state
	s.arenas = arenas
	s.status = StatusOK
	return nil
}

// Fini uninstalls the evaluator hook and releases the active sink, leaving
// arenas mapped; FreeArenas reclaims them separately.
func (s *Subsystem) Fini() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if s.status != StatusNoInit {
		if err := s.interp.UninstallEvalFrame(); err != nil && firstErr == nil {
			firstErr = WrapError("Fini", CodeInvalidConfig, err)
		}
	}
	if s.sinkPlug.Fini != nil {
		if err := s.sinkPlug.Fini(s.sinkState); err != nil && firstErr == nil {
			firstErr = WrapError("Fini", CodeSinkInitFailed, err)
		}
	}
	s.sinkState = nil
	s.status = StatusNoInit
	s.metrics.Stop()
	return firstErr
}

// FreeArenas unmaps every arena the subsystem has allocated. Safe to call
// whether or not the subsystem is currently active.
func (s *Subsystem) FreeArenas() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.arenas == nil {
		return nil
	}
	err := s.arenas.DestroyAll()
	s.arenas = nil
	if err != nil {
		return WrapError("FreeArenas", CodeAllocationFailed, err)
	}
	return nil
}

// SetPersistAfterFork sets the flag AfterForkChild consults.
func (s *Subsystem) SetPersistAfterFork(persist bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistAfterFork = persist
}

// SinkPlug returns the currently active sink plug.
func (s *Subsystem) SinkPlug() sink.Plug {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sinkPlug
}

// SetSinkPlug swaps the active sink wholesale: the old sink is torn down
// first (if one was active), then p is initialized and a fresh arena list
// is built around its requested padding. Existing code objects' compiled
// trampolines remain valid; only the sink their future compiles notify
// changes.
func (s *Subsystem) SetSinkPlug(p sink.Plug) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sinkState != nil && s.sinkPlug.Fini != nil {
		if err := s.sinkPlug.Fini(s.sinkState); err != nil {
			return WrapError("SetSinkPlug", CodeSinkInitFailed, err)
		}
	}

	state, padding, err := p.Init()
	if err != nil {
		return WrapError("SetSinkPlug", CodeSinkInitFailed, err)
	}

	arenas, err := arena.NewList(s.cfg.Template, padding, s.cfg.ArenaSize)
	if err != nil {
		_ = p.Fini(state)
		return WrapError("SetSinkPlug", CodeInvalidConfig, err)
	}

	if s.arenas != nil {
		_ = s.arenas.DestroyAll()
	}

	s.sinkPlug = p
	s.sinkState = state
	s.arenas = arenas
	return nil
}

// CompileCode eagerly materializes a trampoline for co and notifies the
// sink, without dispatching through it. Used for ahead-of-time warm-up.
// A no-op if co already has a trampoline.
func (s *Subsystem) CompileCode(co host.Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusOK {
		return NewError("CompileCode", CodeInvalidConfig, "subsystem is not initialized")
	}
	if addr, ok := co.GetExtra(); ok && addr != 0 {
		return nil
	}
	_, err := s.compileLocked(co)
	return err
}

// compileLocked must be called with mu held. It acquires a fresh slot,
// notifies the sink, and stores the slot address in co's extra slot. Sink
// write failures are logged and counted but do not fail compilation: the
// slot itself remains a valid, usable trampoline address.
func (s *Subsystem) compileLocked(co host.Code) (uintptr, error) {
	if s.arenas == nil {
		s.status = StatusFailed
		s.observer.ObserveAllocationFailure()
		return 0, NewError("CompileCode", CodeAllocationFailed, "arenas have been freed")
	}
	arenasBefore := s.arenas.ArenaCount()
	addr, err := s.arenas.AcquireSlot()
	if err != nil {
		s.status = StatusFailed
		s.observer.ObserveAllocationFailure()
		return 0, WrapError("CompileCode", CodeAllocationFailed, err)
	}
	if s.arenas.ArenaCount() > arenasBefore {
		s.observer.ObserveArenaCreated()
	}
	s.observer.ObserveSlotAcquired()

	if err := s.sinkPlug.Write(s.sinkState, addr, s.arenas.CodeSize(), co); err != nil {
		s.observer.ObserveSinkWrite(false)
		s.logger.Warnf("perftrampoline: sink write failed for %s: %v", co.Qualname(), err)
	} else {
		s.observer.ObserveSinkWrite(true)
	}

	co.SetExtra(addr)
	s.observer.ObserveTrampolineCompiled()
	return addr, nil
}

// Evaluate is the evaluator hook installed on the host interpreter. It
// implements the one-way per-code-object Unseen->Compiled state machine:
// on first observation of a code object it compiles a trampoline and
// notifies the sink; on every call it ultimately defers to the host's
// default evaluator, since that is the stub's sole effect once compiled —
// the native trampoline this models does nothing but tail-call the default
// evaluator with its arguments forwarded unchanged.
func (s *Subsystem) Evaluate(ts host.ThreadState, f host.Frame, throwFlag int) (host.Value, error) {
	s.mu.Lock()
	if s.status != StatusOK {
		s.mu.Unlock()
		s.observer.ObserveEvaluationFallback()
		return s.interp.DefaultEvaluator()(ts, f, throwFlag)
	}

	co := f.Code()
	if addr, ok := co.GetExtra(); ok && addr != 0 {
		s.mu.Unlock()
		s.observer.ObserveTrampolineReused()
		return s.interp.DefaultEvaluator()(ts, f, throwFlag)
	}

	_, err := s.compileLocked(co)
	s.mu.Unlock()
	if err != nil {
		s.observer.ObserveEvaluationFallback()
	}
	return s.interp.DefaultEvaluator()(ts, f, throwFlag)
}

// AfterForkChild handles fork-time continuity in the child process.
// parentPID is the parent's pid as observed before the fork; if zero, the
// OS-reported parent pid is used instead. Inherited arena mappings and sink
// file descriptors are dropped from bookkeeping without being unmapped or
// closed (they belong to whichever copy the kernel duplicated). If the
// subsystem was active: with persistAfterFork set and a perfmap sink, the
// parent's perf map is copied to the child's path and the subsystem is left
// NoInit; otherwise it is re-initialized with fresh state.
func (s *Subsystem) AfterForkChild(parentPID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if parentPID <= 0 {
		parentPID = syscall.Getppid()
	}

	wasActive := s.status == StatusOK
	kind := s.sinkPlug.Kind

	s.arenas = nil
	s.sinkState = nil
	s.status = StatusNoInit
	s.observer.ObserveForkHandled()

	if !wasActive {
		return nil
	}

	if s.persistAfterFork && kind == sink.KindPerfmap {
		return copyPerfMap(parentPID, syscall.Getpid())
	}

	return s.initLocked(true)
}

func copyPerfMap(parentPID, pid int) error {
	in, err := os.Open(perfmap.Path(parentPID))
	if err != nil {
		return WrapError("AfterForkChild", CodeSinkInitFailed, err)
	}
	defer in.Close()

	out, err := os.OpenFile(perfmap.Path(pid), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return WrapError("AfterForkChild", CodeSinkInitFailed, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return WrapError("AfterForkChild", CodeSinkInitFailed, err)
	}
	return nil
}
