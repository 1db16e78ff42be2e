package sink

import (
	"fmt"
	"os"
	"testing"
)

type fakeCode struct {
	qualname, filename string
}

func (c fakeCode) Qualname() string          { return c.qualname }
func (c fakeCode) Filename() string          { return c.filename }
func (c fakeCode) GetExtra() (uintptr, bool) { return 0, false }
func (c fakeCode) SetExtra(uintptr)          {}

func TestNonePlugIsInert(t *testing.T) {
	p := NonePlug()
	state, padding, err := p.Init()
	if err != nil {
		t.Fatal(err)
	}
	if state != nil {
		t.Errorf("state = %v, want nil", state)
	}
	if padding != 0 {
		t.Errorf("padding = %d, want 0", padding)
	}
	if err := p.Write(state, 0x1000, 3, fakeCode{"f", "a.py"}); err != nil {
		t.Fatal(err)
	}
	if err := p.Fini(state); err != nil {
		t.Fatal(err)
	}
}

func TestPerfmapPlugLifecycle(t *testing.T) {
	pid := os.Getpid()*100000 + 21
	p := PerfmapPlug(pid)
	if p.Kind != KindPerfmap {
		t.Fatalf("Kind = %v, want KindPerfmap", p.Kind)
	}

	state, padding, err := p.Init()
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(fmt.Sprintf("/tmp/perf-%d.map", pid))
	if padding != 0 {
		t.Errorf("padding = %d, want 0", padding)
	}

	if err := p.Write(state, 0x2000, 32, fakeCode{"f", "a.py"}); err != nil {
		t.Fatal(err)
	}
	if err := p.Fini(state); err != nil {
		t.Fatal(err)
	}

	// Wrong-typed state must be rejected rather than panicking.
	if err := p.Write("not a perfmap sink", 0, 0, fakeCode{}); err == nil {
		t.Error("expected error for mistyped state")
	}
}
