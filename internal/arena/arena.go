// Package arena manages the executable-memory pages that back trampoline
// stub slots. An arena is mapped read+write, pre-filled with copies of the
// stub template, then flipped read+execute exactly once; slots are handed
// out by simple cursor advancement and never individually freed.
package arena

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const slotAlignment = 16

func roundUp16(v uint32) uint32 {
	if r := v % slotAlignment; r != 0 {
		return v + (slotAlignment - r)
	}
	return v
}

type record struct {
	mem      []byte
	base     uintptr
	cursor   uint32
	sizeLeft uint32
	prev     *record
}

// List is a singly linked chain of arenas, newest first, each sliced into
// equal-sized slots pre-filled with the stub template.
type List struct {
	template  []byte
	padding   uint32
	slotSize  uint32
	arenaSize uint32
	head      *record
}

// NewList validates the arena geometry and returns an empty List; the first
// arena is mapped lazily on the first AcquireSlot call. arenaSize must be a
// positive multiple of the system page size.
func NewList(template []byte, padding uint32, arenaSize uint32) (*List, error) {
	if len(template) == 0 {
		return nil, fmt.Errorf("arena: empty stub template")
	}
	pageSize := uint32(unix.Getpagesize())
	if arenaSize == 0 || arenaSize%pageSize != 0 {
		return nil, fmt.Errorf("arena: size %d is not a positive multiple of the page size %d", arenaSize, pageSize)
	}
	slotSize := roundUp16(uint32(len(template)) + padding)
	if slotSize > arenaSize {
		return nil, fmt.Errorf("arena: slot size %d exceeds arena size %d", slotSize, arenaSize)
	}
	return &List{
		template:  template,
		padding:   padding,
		slotSize:  slotSize,
		arenaSize: arenaSize,
	}, nil
}

// SlotSize returns S, the 16-byte-aligned size of one slot including the
// sink's requested unwind-info padding.
func (l *List) SlotSize() uint32 { return l.slotSize }

// CodeSize returns T, the size of the stub template itself.
func (l *List) CodeSize() uint32 { return uint32(len(l.template)) }

// AcquireSlot returns the address of a slot already holding a fresh copy of
// the stub template, mapping a new arena first if the current one is full
// or absent.
func (l *List) AcquireSlot() (uintptr, error) {
	if l.head == nil || l.head.sizeLeft < l.slotSize {
		if err := l.growArena(); err != nil {
			return 0, err
		}
	}
	r := l.head
	addr := r.base + uintptr(r.cursor)
	r.cursor += l.slotSize
	r.sizeLeft -= l.slotSize
	return addr, nil
}

func (l *List) growArena() error {
	mem, err := unix.Mmap(-1, 0, int(l.arenaSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return fmt.Errorf("arena: mmap %d bytes: %w", l.arenaSize, err)
	}

	slotCount := l.arenaSize / l.slotSize
	for i := uint32(0); i < slotCount; i++ {
		off := i * l.slotSize
		copy(mem[off:off+uint32(len(l.template))], l.template)
	}

	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mem)
		return fmt.Errorf("arena: mprotect %d bytes: %w", l.arenaSize, err)
	}

	invalidateICache(mem)

	l.head = &record{
		mem:      mem,
		base:     uintptr(unsafe.Pointer(&mem[0])),
		cursor:   0,
		sizeLeft: slotCount * l.slotSize,
		prev:     l.head,
	}
	return nil
}

// DestroyAll unmaps every arena in the list and discards bookkeeping. It is
// not safe to call AcquireSlot concurrently with DestroyAll; callers
// serialize arena access themselves, the way the dispatch core does under
// the host's single-threaded evaluation lock.
func (l *List) DestroyAll() error {
	var firstErr error
	for r := l.head; r != nil; r = r.prev {
		if err := unix.Munmap(r.mem); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("arena: munmap: %w", err)
		}
	}
	l.head = nil
	return firstErr
}

// ArenaCount reports how many arenas are currently mapped, for metrics and
// tests.
func (l *List) ArenaCount() int {
	n := 0
	for r := l.head; r != nil; r = r.prev {
		n++
	}
	return n
}
