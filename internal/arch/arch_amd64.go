//go:build amd64

package arch

import "github.com/sepastian/perftrampoline/internal/leb128"

// DWARF register numbers for x86-64 (System V ABI, as enumerated by the
// CFI register table: rax, rdx, rcx, rbx, rsi, rdi, rbp, rsp, r8..r15, ra).
const (
	dwarfRegSP = 7
	dwarfRegRA = 16
)

func buildAMD64FDEProgram() []byte {
	var p []byte
	// advance_loc(4); def_cfa_offset(16)
	p = append(p, cfaAdvanceLoc|4)
	p = append(p, cfaDefCFAOffset)
	p = append(p, leb128.EncodeUnsigned(16)...)
	// advance_loc(6); def_cfa_offset(8)
	p = append(p, cfaAdvanceLoc|6)
	p = append(p, cfaDefCFAOffset)
	p = append(p, leb128.EncodeUnsigned(8)...)
	return p
}

// Current returns the x86-64 Arch table.
func Current() (Arch, error) {
	return Arch{
		Name:        "amd64",
		ElfMachine:  EMX8664,
		PointerSize: 8,
		DwarfRegSP:  dwarfRegSP,
		DwarfRegRA:  dwarfRegRA,
		FDEProgram:  buildAMD64FDEProgram(),
	}, nil
}
