// Package perfmap writes the /tmp/perf-PID.map side-channel file perf(1)
// reads to resolve addresses inside trampoline stubs to Python qualified
// names, one append-only text line per stub.
package perfmap

import (
	"fmt"
	"os"
	"sync"
)

// Path returns the perf-map file path for a given process id.
func Path(pid int) string {
	return fmt.Sprintf("/tmp/perf-%d.map", pid)
}

// Sink appends one line per stub to the process's perf-map file. Writes are
// serialized; the format itself carries no synchronization requirement from
// perf's side, but concurrent appends from multiple goroutines would
// otherwise interleave partial lines.
type Sink struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens (creating if necessary) the perf-map file for pid and returns
// a Sink ready to accept append-only writes.
func Open(pid int) (*Sink, error) {
	f, err := os.OpenFile(Path(pid), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("perfmap: open: %w", err)
	}
	return &Sink{file: f}, nil
}

// Padding is always zero: perf-map entries carry no unwind information, so
// the arena need not reserve slot space beyond the stub template itself.
func (s *Sink) Padding() uint32 { return 0 }

// Write appends one entry. qualname and filename are written verbatim and
// may be empty, producing the literal "py:::" separator sequence.
func (s *Sink) Write(addr uintptr, size uint32, qualname, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.file, "%x %x py::%s:%s\n", addr, size, qualname, filename)
	if err != nil {
		return fmt.Errorf("perfmap: write: %w", err)
	}
	return nil
}

// Close closes the underlying file. The file itself is left on disk; only
// fork-time continuity logic ever removes or replaces it.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("perfmap: close: %w", err)
	}
	return nil
}

// Name returns the path of the file this sink is writing to.
func (s *Sink) Name() string {
	return s.file.Name()
}
