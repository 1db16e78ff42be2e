package perfmap

import (
	"fmt"
	"os"
	"testing"
)

func TestWriteFormatsLine(t *testing.T) {
	pid := os.Getpid()*100000 + 1
	s, err := Open(pid)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(Path(pid))

	if err := s.Write(0xdeadbeef, 0x60, "f", "a.py"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(Path(pid))
	if err != nil {
		t.Fatal(err)
	}
	want := "deadbeef 60 py::f:a.py\n"
	if string(got) != want {
		t.Errorf("file content = %q, want %q", got, want)
	}
}

func TestWriteEmptyFieldsProducesTripleColon(t *testing.T) {
	pid := os.Getpid()*100000 + 2
	s, err := Open(pid)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(Path(pid))
	defer s.Close()

	if err := s.Write(0x1000, 0x40, "", ""); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(Path(pid))
	if err != nil {
		t.Fatal(err)
	}
	want := fmt.Sprintf("%x %x py:::\n", 0x1000, 0x40)
	if string(got) != want {
		t.Errorf("file content = %q, want %q", got, want)
	}
}

func TestPadding(t *testing.T) {
	pid := os.Getpid()*100000 + 3
	s, err := Open(pid)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(Path(pid))
	defer s.Close()

	if s.Padding() != 0 {
		t.Errorf("Padding() = %d, want 0", s.Padding())
	}
}
