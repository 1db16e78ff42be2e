// Package jitdump writes the binary /tmp/jit-PID.dump side-channel file
// that `perf inject -j` consumes to synthesize a DSO per trampoline stub,
// complete with a minimal DWARF unwind table.
package jitdump

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/sepastian/perftrampoline/internal/arch"
	"github.com/sepastian/perftrampoline/internal/dwarf"
	"github.com/sepastian/perftrampoline/internal/sizeutil"
)

const (
	magic       = 0x4A695444
	fileVersion = 1
	headerSize  = 40
)

type eventKind uint32

const (
	eventCodeLoad      eventKind = 0
	eventUnwindingInfo eventKind = 4
)

// scratchPool reuses the small buffer used to assemble one unwinding-info
// record's body before it is written; the blob never exceeds P (0x100
// bytes), so a single size bucket covers every stub regardless of
// architecture.
var scratchPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 0x100)
		return &b
	},
}

// Sink appends one UnwindingInfo + CodeLoad record pair per stub emission to
// the process's jitdump file, plus the handshake mmap perf uses to detect
// that the interface is in use.
type Sink struct {
	mu        sync.Mutex
	file      *os.File
	handshake []byte
	arch      arch.Arch
	pid       int
	codeID    uint64
}

// Padding is 0x100: the largest unwind blob this emitter ever produces is
// far smaller, but synthetic DSOs must not overlap in address space, so the
// arena reserves a full page fraction of headroom per stub regardless.
const Padding = 0x100

// Open creates the jitdump file for pid, writes its header, and establishes
// the read+execute handshake mapping of its first page that tells perf the
// jitdump interface is active.
func Open(pid int, a arch.Arch) (*Sink, error) {
	path := fmt.Sprintf("/tmp/jit-%d.dump", pid)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("jitdump: open: %w", err)
	}

	if err := writeHeader(f, pid, a.ElfMachine); err != nil {
		f.Close()
		return nil, err
	}

	pageSize := unix.Getpagesize()
	mapped, err := unix.Mmap(int(f.Fd()), 0, pageSize, unix.PROT_READ|unix.PROT_EXEC, unix.MAP_PRIVATE)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("jitdump: handshake mmap: %w", err)
	}

	return &Sink{file: f, handshake: mapped, arch: a, pid: pid}, nil
}

func writeHeader(f *os.File, pid int, elfMachine uint32) error {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], fileVersion)
	binary.LittleEndian.PutUint32(buf[8:12], headerSize)
	binary.LittleEndian.PutUint32(buf[12:16], elfMachine)
	binary.LittleEndian.PutUint32(buf[16:20], 0) // reserved
	binary.LittleEndian.PutUint32(buf[20:24], uint32(pid))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(time.Now().UnixMicro()))
	binary.LittleEndian.PutUint64(buf[32:40], 0) // flags
	if _, err := f.Write(buf[:]); err != nil {
		return fmt.Errorf("jitdump: write header: %w", err)
	}
	return nil
}

// Write emits the UnwindingInfo and CodeLoad records for one stub. size is
// the stub's machine code size (the template's, not the whole slot
// including padding).
func (s *Sink) Write(addr uintptr, size uint32, qualname, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ehFrame, cieSize := dwarf.BuildEhFrame(s.arch, size)
	hdr := dwarf.BuildEhFrameHeader(ehFrame, cieSize, size)

	unwindDataSize := uint64(len(ehFrame) + len(hdr))
	if unwindDataSize > Padding {
		return fmt.Errorf("jitdump: unwind blob %d bytes exceeds padding %d", unwindDataSize, Padding)
	}
	mappedSize := uint64(sizeutil.RoundUp(int64(unwindDataSize), 16))

	if err := s.writeUnwindingInfo(unwindDataSize, mappedSize, ehFrame, hdr); err != nil {
		return err
	}

	s.codeID++
	return s.writeCodeLoad(addr, size, qualname, filename, s.codeID)
}

func (s *Sink) writeUnwindingInfo(unwindDataSize, mappedSize uint64, ehFrame, hdr []byte) error {
	scratchPtr := scratchPool.Get().(*[]byte)
	defer scratchPool.Put(scratchPtr)
	buf := (*scratchPtr)[:0]

	const fieldsSize = 24 // unwind_data_size + eh_frame_hdr_size + mapped_size
	contentSize := 16 + fieldsSize + len(ehFrame) + len(hdr)
	paddingSize := int(sizeutil.RoundUp(int64(contentSize), 8)) - contentSize
	recordSize := contentSize + paddingSize

	buf = binary.LittleEndian.AppendUint32(buf, uint32(eventUnwindingInfo))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(recordSize))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(monotonicNanos()))
	buf = binary.LittleEndian.AppendUint64(buf, unwindDataSize)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(dwarf.EhFrameHeaderSize))
	buf = binary.LittleEndian.AppendUint64(buf, mappedSize)
	buf = append(buf, ehFrame...)
	buf = append(buf, hdr...)
	for i := 0; i < paddingSize; i++ {
		buf = append(buf, 0)
	}

	if _, err := s.file.Write(buf); err != nil {
		return fmt.Errorf("jitdump: write unwinding-info record: %w", err)
	}
	return nil
}

func (s *Sink) writeCodeLoad(addr uintptr, size uint32, qualname, filename string, codeID uint64) error {
	name := append([]byte("py::"+qualname+":"+filename), 0)
	code := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))

	const fieldsSize = 4 + 4 + 8 + 8 + 8 + 8 // pid, tid, vma, code_address, code_size, code_id
	contentSize := 16 + fieldsSize + len(name) + int(size)
	paddingSize := int(sizeutil.RoundUp(int64(contentSize), 8)) - contentSize
	recordSize := contentSize + paddingSize

	var head [16 + fieldsSize]byte
	binary.LittleEndian.PutUint32(head[0:4], uint32(eventCodeLoad))
	binary.LittleEndian.PutUint32(head[4:8], uint32(recordSize))
	binary.LittleEndian.PutUint64(head[8:16], uint64(monotonicNanos()))
	binary.LittleEndian.PutUint32(head[16:20], uint32(s.pid))
	binary.LittleEndian.PutUint32(head[20:24], uint32(gettid()))
	binary.LittleEndian.PutUint64(head[24:32], uint64(addr))
	binary.LittleEndian.PutUint64(head[32:40], uint64(addr))
	binary.LittleEndian.PutUint64(head[40:48], uint64(size))
	binary.LittleEndian.PutUint64(head[48:56], codeID)

	if _, err := s.file.Write(head[:]); err != nil {
		return fmt.Errorf("jitdump: write code-load header: %w", err)
	}
	if _, err := s.file.Write(name); err != nil {
		return fmt.Errorf("jitdump: write code-load name: %w", err)
	}
	if _, err := s.file.Write(code); err != nil {
		return fmt.Errorf("jitdump: write code-load machine code: %w", err)
	}
	if paddingSize > 0 {
		if _, err := s.file.Write(make([]byte, paddingSize)); err != nil {
			return fmt.Errorf("jitdump: write code-load padding: %w", err)
		}
	}
	return nil
}

// Close unmaps the handshake page and closes the file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if s.handshake != nil {
		if err := unix.Munmap(s.handshake); err != nil {
			firstErr = fmt.Errorf("jitdump: munmap handshake: %w", err)
		}
		s.handshake = nil
	}
	if err := s.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("jitdump: close: %w", err)
	}
	return firstErr
}

// Name returns the path of the dump file this sink is writing to.
func (s *Sink) Name() string {
	return s.file.Name()
}

func monotonicNanos() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return ts.Sec*1_000_000_000 + ts.Nsec
}

func gettid() int {
	return unix.Gettid()
}
