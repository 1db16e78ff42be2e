package jitdump

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sepastian/perftrampoline/internal/arch"
	"github.com/sepastian/perftrampoline/internal/arena"
)

func testArch() arch.Arch {
	return arch.Arch{
		Name:        "amd64",
		ElfMachine:  arch.EMX8664,
		PointerSize: 8,
		DwarfRegSP:  7,
		DwarfRegRA:  16,
		FDEProgram:  []byte{0x44, 0x0e, 0x10, 0x46, 0x0e, 0x08},
	}
}

// mappedCode maps a real read+execute page pre-filled with pattern and
// returns its address, so tests can exercise writeCodeLoad's dereference of
// the stub bytes instead of a bogus, non-dereferenceable pointer.
func mappedCode(t *testing.T, pattern []byte) uintptr {
	t.Helper()
	l, err := arena.NewList(pattern, 0, 65536)
	require.NoError(t, err)
	addr, err := l.AcquireSlot()
	require.NoError(t, err)
	t.Cleanup(func() { l.DestroyAll() })
	return addr
}

func codePattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i)
	}
	return p
}

func TestOpenWritesHeader(t *testing.T) {
	pid := os.Getpid()*100000 + 11
	s, err := Open(pid, testArch())
	require.NoError(t, err)
	defer func() {
		s.Close()
		os.Remove(s.Name())
	}()

	raw, err := os.ReadFile(s.Name())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(raw), headerSize)

	require.Equal(t, uint32(magic), binary.LittleEndian.Uint32(raw[0:4]))
	require.Equal(t, uint32(1), binary.LittleEndian.Uint32(raw[4:8]))
	require.Equal(t, uint32(headerSize), binary.LittleEndian.Uint32(raw[8:12]))
	require.Equal(t, uint32(arch.EMX8664), binary.LittleEndian.Uint32(raw[12:16]))
	require.Equal(t, uint32(pid), binary.LittleEndian.Uint32(raw[20:24]))
}

func TestWriteRecordsAreEightByteAligned(t *testing.T) {
	pid := os.Getpid()*100000 + 12
	s, err := Open(pid, testArch())
	require.NoError(t, err)
	defer func() {
		s.Close()
		os.Remove(s.Name())
	}()

	pattern := codePattern(96)
	addr := mappedCode(t, pattern)
	require.NoError(t, s.Write(addr, 96, "f", "a.py"))

	raw, err := os.ReadFile(s.Name())
	require.NoError(t, err)
	body := raw[headerSize:]

	// UnwindingInfo record.
	unwindSize := binary.LittleEndian.Uint32(body[4:8])
	require.Zero(t, unwindSize%8, "UnwindingInfo record size must be a multiple of 8")
	require.Equal(t, uint32(eventUnwindingInfo), binary.LittleEndian.Uint32(body[0:4]))

	unwindDataSize := binary.LittleEndian.Uint64(body[16:24])
	ehFrameHdrSize := binary.LittleEndian.Uint64(body[24:32])
	require.Equal(t, uint64(20), ehFrameHdrSize)
	require.Greater(t, unwindDataSize, ehFrameHdrSize)
	require.LessOrEqual(t, unwindDataSize, uint64(Padding))

	codeLoadOff := int(unwindSize)
	codeLoad := body[codeLoadOff:]
	codeLoadSize := binary.LittleEndian.Uint32(codeLoad[4:8])
	require.Zero(t, codeLoadSize%8, "CodeLoad record size must be a multiple of 8")
	require.Equal(t, uint32(eventCodeLoad), binary.LittleEndian.Uint32(codeLoad[0:4]))

	vma := binary.LittleEndian.Uint64(codeLoad[24:32])
	codeAddr := binary.LittleEndian.Uint64(codeLoad[32:40])
	codeSize := binary.LittleEndian.Uint64(codeLoad[40:48])
	codeID := binary.LittleEndian.Uint64(codeLoad[48:56])
	require.Equal(t, uint64(addr), vma)
	require.Equal(t, uint64(addr), codeAddr)
	require.Equal(t, uint64(96), codeSize)
	require.Equal(t, uint64(1), codeID)

	name := codeLoad[56:]
	nulIdx := -1
	for i, b := range name {
		if b == 0 {
			nulIdx = i
			break
		}
	}
	require.NotEqual(t, -1, nulIdx)
	require.Equal(t, "py::f:a.py", string(name[:nulIdx]))

	// The record's tail must be exactly the size bytes copied from addr, per
	// the jitdump CodeLoad record layout: header, NUL-terminated name, then
	// the stub's machine code itself.
	code := name[nulIdx+1 : nulIdx+1+len(pattern)]
	require.Equal(t, pattern, code)
}

func TestWriteIncrementsCodeID(t *testing.T) {
	pid := os.Getpid()*100000 + 13
	s, err := Open(pid, testArch())
	require.NoError(t, err)
	defer func() {
		s.Close()
		os.Remove(s.Name())
	}()

	require.NoError(t, s.Write(mappedCode(t, codePattern(32)), 32, "f", "a.py"))
	require.NoError(t, s.Write(mappedCode(t, codePattern(32)), 32, "g", "a.py"))
	require.Equal(t, uint64(2), s.codeID)
}

func TestWriteRejectsOversizedUnwindBlob(t *testing.T) {
	pid := os.Getpid()*100000 + 14
	s, err := Open(pid, testArch())
	require.NoError(t, err)
	defer func() {
		s.Close()
		os.Remove(s.Name())
	}()

	s.arch.FDEProgram = make([]byte, Padding) // force the blob past Padding
	err = s.Write(mappedCode(t, codePattern(32)), 32, "f", "a.py")
	require.Error(t, err)
}
