// Package dwarf builds the synthetic .eh_frame and eh_frame_hdr records that
// accompany each jitdump CodeLoad event, so perf inject -j can unwind through
// a trampoline stub the same way it unwinds through compiled code.
//
// The CIE is arch-generic (it only references the stack-pointer and
// return-address DWARF register numbers supplied by arch.Arch); the FDE's
// call-frame program is arch-specific and comes from arch.Arch.FDEProgram.
package dwarf

import (
	"encoding/binary"

	"github.com/sepastian/perftrampoline/internal/arch"
	"github.com/sepastian/perftrampoline/internal/leb128"
	"github.com/sepastian/perftrampoline/internal/sizeutil"
)

// DWARF call-frame opcodes the CIE body and padding below need directly
// rather than through a prebuilt per-arch program. The arch package keeps
// its own private copy of cfaOffset.
const (
	cfaNop    = 0x00
	cfaOffset = 0x80
	cfaDefCFA = 0x0c
)

// DWARF FDE pointer-encoding bytes for the augmentation data and the
// eh_frame_hdr fields.
const (
	ehPEUdata4  = 0x03
	ehPESdata4  = 0x0b
	ehPEPcrel   = 0x10
	ehPEDatarel = 0x30
)

// codeStartOffset is the machine-code offset, relative to the FDE's notion
// of .text, that the trampoline's CFI program describes from: the unwind
// record is emitted with the function entry point placed 0x30 bytes into
// the mapped region. Any change to the assembled trampoline template must
// keep this offset in sync.
const codeStartOffset = -0x30

// EhFrameHeaderSize is the on-disk size of the EhFrameHeader struct.
const EhFrameHeaderSize = 20

func appendU32(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}

func align(buf []byte, ptrSize int) []byte {
	for len(buf)%ptrSize != 0 {
		buf = append(buf, cfaNop)
	}
	return buf
}

// BuildEhFrame emits one CIE followed by one FDE describing codeSize bytes
// of trampoline machine code on architecture a. It returns the full
// .eh_frame byte stream and the byte length of the CIE section (including
// its length prefix and alignment padding), which BuildEhFrameHeader needs
// to compute the header's table.to field.
func BuildEhFrame(a arch.Arch, codeSize uint32) (ehFrame []byte, cieSize int) {
	ptrSize := a.PointerSize

	var buf []byte

	// CIE
	lenPos := len(buf)
	buf = appendU32(buf, 0) // length placeholder
	contentStart := len(buf)
	buf = appendU32(buf, 0) // CIE id
	buf = append(buf, 1)    // version
	buf = append(buf, 'z', 'R', 0)
	buf = append(buf, leb128.EncodeUnsigned(1)...)             // code alignment factor
	buf = append(buf, leb128.EncodeSigned(-int64(ptrSize))...) // data alignment factor
	buf = append(buf, a.DwarfRegRA)                            // return address register
	buf = append(buf, leb128.EncodeUnsigned(1)...)             // augmentation data length
	buf = append(buf, ehPEPcrel|ehPESdata4)                    // augmentation data: FDE pointer encoding
	buf = append(buf, cfaDefCFA)
	buf = append(buf, leb128.EncodeUnsigned(uint64(a.DwarfRegSP))...)
	buf = append(buf, leb128.EncodeUnsigned(uint64(ptrSize))...)
	buf = append(buf, cfaOffset|a.DwarfRegRA)
	buf = append(buf, leb128.EncodeUnsigned(1)...)
	buf = align(buf, ptrSize)
	binary.LittleEndian.PutUint32(buf[lenPos:], uint32(len(buf)-contentStart))

	cieSize = len(buf)

	// FDE
	lenPos = len(buf)
	buf = appendU32(buf, 0) // length placeholder
	contentStart = len(buf)
	cieOffset := uint32(contentStart) // distance back to the CIE's length field, i.e. offset 0
	buf = appendU32(buf, cieOffset)
	codeStartOffset32 := int32(codeStartOffset)
	buf = appendU32(buf, uint32(codeStartOffset32))
	buf = appendU32(buf, codeSize)
	buf = append(buf, 0) // augmentation data length
	buf = append(buf, a.FDEProgram...)
	buf = align(buf, ptrSize)
	binary.LittleEndian.PutUint32(buf[lenPos:], uint32(len(buf)-contentStart))

	return buf, cieSize
}

// EhFrameHeader is the 20-byte .eh_frame_hdr perf inject -j expects
// immediately after the .eh_frame bytes in a jitdump unwinding-info record.
type EhFrameHeader struct {
	Version       uint8
	EhFramePtrEnc uint8
	FDECountEnc   uint8
	TableEnc      uint8
	EhFramePtr    int32
	FDECount      int32
	TableFrom     int32
	TableTo       int32
}

// BuildEhFrameHeader computes the header that locates ehFrame and its single
// FDE relative to the header's own address. cieSize is the CIE byte length
// returned by BuildEhFrame for the same ehFrame.
func BuildEhFrameHeader(ehFrame []byte, cieSize int, codeSize uint32) []byte {
	ehFrameSize := int32(len(ehFrame))

	h := EhFrameHeader{
		Version:       1,
		EhFramePtrEnc: ehPESdata4 | ehPEPcrel,
		FDECountEnc:   ehPEUdata4,
		TableEnc:      ehPESdata4 | ehPEDatarel,
		EhFramePtr:    -(ehFrameSize + 4),
		FDECount:      1,
		TableFrom:     -(int32(sizeutil.RoundUp(int64(codeSize), 8)) + ehFrameSize),
		TableTo:       -(ehFrameSize - int32(cieSize)),
	}

	out := make([]byte, EhFrameHeaderSize)
	out[0] = h.Version
	out[1] = h.EhFramePtrEnc
	out[2] = h.FDECountEnc
	out[3] = h.TableEnc
	binary.LittleEndian.PutUint32(out[4:8], uint32(h.EhFramePtr))
	binary.LittleEndian.PutUint32(out[8:12], uint32(h.FDECount))
	binary.LittleEndian.PutUint32(out[12:16], uint32(h.TableFrom))
	binary.LittleEndian.PutUint32(out[16:20], uint32(h.TableTo))
	return out
}
