package perftrampoline

import (
	"sync"

	"github.com/sepastian/perftrampoline/host"
)

// MockCode provides a mock implementation of host.Code for testing: a
// single extra-slot value in place of the fixed-size array a real code
// object would carry.
type MockCode struct {
	mu       sync.RWMutex
	qualname string
	filename string
	extra    uintptr
	extraSet bool
}

// NewMockCode creates a mock code object with the given qualname and
// filename and no extra slot set.
func NewMockCode(qualname, filename string) *MockCode {
	return &MockCode{qualname: qualname, filename: filename}
}

func (c *MockCode) Qualname() string { return c.qualname }
func (c *MockCode) Filename() string { return c.filename }

func (c *MockCode) GetExtra() (uintptr, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.extra, c.extraSet
}

func (c *MockCode) SetExtra(value uintptr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extra = value
	c.extraSet = true
}

// MockFrame provides a mock implementation of host.Frame for testing.
type MockFrame struct {
	code host.Code
}

// NewMockFrame creates a mock frame wrapping code.
func NewMockFrame(code host.Code) *MockFrame {
	return &MockFrame{code: code}
}

func (f *MockFrame) Code() host.Code { return f.code }

// MockInterpreter provides a mock implementation of host.Interpreter for
// testing and demos. It tracks method calls for verification and can be
// configured to simulate a foreign evaluator hook already being installed.
type MockInterpreter struct {
	mu sync.RWMutex

	defaultEvaluator host.Evaluator
	activeHook       host.Evaluator
	installedByUs    bool
	nextExtraIndex   int

	installCalls   int
	uninstallCalls int
	indexCalls     int
}

// NewMockInterpreter creates a mock interpreter whose default evaluator is
// def. Extra-slot indices are handed out starting at 0.
func NewMockInterpreter(def host.Evaluator) *MockInterpreter {
	return &MockInterpreter{defaultEvaluator: def}
}

// RequestExtraIndex implements host.Interpreter.
func (m *MockInterpreter) RequestExtraIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.nextExtraIndex
	m.nextExtraIndex++
	m.indexCalls++
	return idx
}

// InstallEvalFrame implements host.Interpreter.
func (m *MockInterpreter) InstallEvalFrame(hook host.Evaluator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.installCalls++
	if m.activeHook != nil && !m.installedByUs {
		return host.ErrForeignHookInstalled
	}
	m.activeHook = hook
	m.installedByUs = true
	return nil
}

// UninstallEvalFrame implements host.Interpreter.
func (m *MockInterpreter) UninstallEvalFrame() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.uninstallCalls++
	m.activeHook = nil
	m.installedByUs = false
	return nil
}

// CurrentEvalFrame implements host.Interpreter.
func (m *MockInterpreter) CurrentEvalFrame() host.Evaluator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeHook
}

// DefaultEvaluator implements host.Interpreter.
func (m *MockInterpreter) DefaultEvaluator() host.Evaluator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultEvaluator
}

// Testing utility methods.

// SetForeignHook simulates a third party owning the evaluator hook before
// this subsystem ever installs its own, so the next InstallEvalFrame call
// returns host.ErrForeignHookInstalled.
func (m *MockInterpreter) SetForeignHook(hook host.Evaluator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeHook = hook
	m.installedByUs = false
}

// InstalledByUs reports whether the active hook was installed through this
// mock (as opposed to a simulated foreign hook).
func (m *MockInterpreter) InstalledByUs() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.installedByUs
}

// CallCounts returns the number of times each method has been called.
func (m *MockInterpreter) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int{
		"install":   m.installCalls,
		"uninstall": m.uninstallCalls,
		"index":     m.indexCalls,
	}
}

// Reset resets all call counters and installed-hook state.
func (m *MockInterpreter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.installCalls = 0
	m.uninstallCalls = 0
	m.indexCalls = 0
	m.activeHook = nil
	m.installedByUs = false
	m.nextExtraIndex = 0
}

// DeterministicEvaluator returns a host.Evaluator that ignores its inputs
// beyond counting calls, returning the running call count as its value.
// Tests and demos that don't care about actual evaluation semantics use it
// as a DefaultEvaluator stand-in.
func DeterministicEvaluator() host.Evaluator {
	var mu sync.Mutex
	calls := 0
	return func(ts host.ThreadState, f host.Frame, throwFlag int) (host.Value, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return calls, nil
	}
}

// MockHost is a MockInterpreter pre-wired with DeterministicEvaluator, for
// tests and demos that need a working host.Interpreter without customizing
// evaluation behavior.
type MockHost struct {
	*MockInterpreter
}

// NewMockHost creates a MockHost ready to pass to NewSubsystem.
func NewMockHost() *MockHost {
	return &MockHost{MockInterpreter: NewMockInterpreter(DeterministicEvaluator())}
}

// Compile-time interface checks.
var (
	_ host.Code        = (*MockCode)(nil)
	_ host.Frame       = (*MockFrame)(nil)
	_ host.Interpreter = (*MockInterpreter)(nil)
	_ host.Interpreter = (*MockHost)(nil)
)
