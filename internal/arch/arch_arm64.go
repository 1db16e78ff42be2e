//go:build arm64

package arch

import "github.com/sepastian/perftrampoline/internal/leb128"

// DWARF register numbers for AArch64 (ELF ABI): sp is r31, the link
// register (return address) is r30, the frame pointer is r29.
const (
	dwarfRegSP = 31
	dwarfRegRA = 30
	dwarfRegFP = 29
)

func buildARM64FDEProgram() []byte {
	var p []byte
	// advance_loc(1); def_cfa_offset(16)
	p = append(p, cfaAdvanceLoc|1)
	p = append(p, cfaDefCFAOffset)
	p = append(p, leb128.EncodeUnsigned(16)...)
	// offset(fp, 2); offset(ra, 1)
	p = append(p, cfaOffset|dwarfRegFP)
	p = append(p, leb128.EncodeUnsigned(2)...)
	p = append(p, cfaOffset|dwarfRegRA)
	p = append(p, leb128.EncodeUnsigned(1)...)
	// advance_loc(3)
	p = append(p, cfaAdvanceLoc|3)
	// offset(fp, -(64-29)); offset(ra, -(64-30)) -- single-byte form, the
	// two's-complement byte with no ULEB128 operand, matching the CFI
	// bytes perf expects for this trampoline prologue.
	p = append(p, cfaOffset|byte(256-(64-dwarfRegFP)))
	p = append(p, cfaOffset|byte(256-(64-dwarfRegRA)))
	// def_cfa_offset(0)
	p = append(p, cfaDefCFAOffset)
	p = append(p, leb128.EncodeUnsigned(0)...)
	return p
}

// Current returns the AArch64 Arch table.
func Current() (Arch, error) {
	return Arch{
		Name:        "arm64",
		ElfMachine:  EMAArch64,
		PointerSize: 8,
		DwarfRegSP:  dwarfRegSP,
		DwarfRegRA:  dwarfRegRA,
		FDEProgram:  buildARM64FDEProgram(),
	}, nil
}
