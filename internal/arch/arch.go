// Package arch holds the per-architecture constants the jitdump path needs:
// the ELF machine id reported in the jitdump header, the DWARF register
// numbers used by the synthetic CIE/FDE, and the pre-built FDE call-frame
// program for that architecture's trampoline prologue.
package arch

import "errors"

// DWARF call-frame opcodes used to build FDEProgram below.
const (
	cfaOffset       = 0x80
	cfaAdvanceLoc   = 0x40
	cfaDefCFAOffset = 0x0e
)

// ELF machine ids used in the jitdump file header.
const (
	EMX8664   = 62
	EMAArch64 = 183
)

// Arch carries the constants needed to emit a synthetic unwind record for
// one stub trampoline on this architecture.
type Arch struct {
	Name        string
	ElfMachine  uint32
	PointerSize int
	DwarfRegSP  uint8
	DwarfRegRA  uint8
	// FDEProgram is the CFI instruction stream describing the trampoline's
	// prologue. The dwarf package pads it to a PointerSize-byte boundary
	// once it knows the absolute offset the program lands at.
	FDEProgram []byte
}

// ErrUnsupportedArch is returned by Current on architectures the jitdump
// path does not know how to describe; only x86-64 and AArch64 have unwind
// tables. The perfmap and arena paths have no arch dependency.
var ErrUnsupportedArch = errors.New("perftrampoline: jitdump unwind info unsupported on this architecture")
