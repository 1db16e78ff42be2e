// Package sink models the profiler side-channel writer as a small tagged
// variant behind a capability set, the Go analogue of the host's
// _PyPerf_Callbacks function-pointer struct: dynamic dispatch happens once,
// at sink selection, never per stub emission.
package sink

import (
	"fmt"

	"github.com/sepastian/perftrampoline/host"
	"github.com/sepastian/perftrampoline/internal/arch"
	"github.com/sepastian/perftrampoline/internal/jitdump"
	"github.com/sepastian/perftrampoline/internal/perfmap"
)

// Kind selects which sink implementation backs a Plug.
type Kind int

const (
	KindNone Kind = iota
	KindPerfmap
	KindJitdump
)

func (k Kind) String() string {
	switch k {
	case KindPerfmap:
		return "perfmap"
	case KindJitdump:
		return "jitdump"
	default:
		return "none"
	}
}

// State is the opaque per-instance sink state returned by Plug.Init and
// threaded back through Write/Fini, matching the host interface's
// init()->sink_state / write(sink_state, ...) / fini(sink_state) shape.
type State any

// Plug is the three-callback capability set a sink implementation exposes.
// Write is not required to be idempotent for repeated calls with the same
// code address; the dispatch core never calls it that way.
type Plug struct {
	Kind Kind
	// Init allocates sink state and reports the slot padding P the arena
	// must reserve per stub for this sink.
	Init func() (state State, padding uint32, err error)
	// Write notifies the sink of a newly compiled stub at addr, of size
	// bytes, belonging to co.
	Write func(state State, addr uintptr, size uint32, co host.Code) error
	// Fini releases sink state.
	Fini func(state State) error
}

// NonePlug is the inert sink: no padding, no writes, nothing to release.
// It exists so the dispatch core can always hold a non-nil Plug.
func NonePlug() Plug {
	return Plug{
		Kind:  KindNone,
		Init:  func() (State, uint32, error) { return nil, 0, nil },
		Write: func(State, uintptr, uint32, host.Code) error { return nil },
		Fini:  func(State) error { return nil },
	}
}

// PerfmapPlug binds the perf-map text writer for pid behind the Plug
// interface.
func PerfmapPlug(pid int) Plug {
	return Plug{
		Kind: KindPerfmap,
		Init: func() (State, uint32, error) {
			s, err := perfmap.Open(pid)
			if err != nil {
				return nil, 0, err
			}
			return s, s.Padding(), nil
		},
		Write: func(state State, addr uintptr, size uint32, co host.Code) error {
			s, ok := state.(*perfmap.Sink)
			if !ok {
				return fmt.Errorf("sink: perfmap plug called with wrong state type %T", state)
			}
			return s.Write(addr, size, co.Qualname(), co.Filename())
		},
		Fini: func(state State) error {
			if state == nil {
				return nil
			}
			s, ok := state.(*perfmap.Sink)
			if !ok {
				return fmt.Errorf("sink: perfmap plug fini called with wrong state type %T", state)
			}
			return s.Close()
		},
	}
}

// JitdumpPlug binds the jitdump binary writer for pid and architecture a
// behind the Plug interface.
func JitdumpPlug(pid int, a arch.Arch) Plug {
	return Plug{
		Kind: KindJitdump,
		Init: func() (State, uint32, error) {
			s, err := jitdump.Open(pid, a)
			if err != nil {
				return nil, 0, err
			}
			return s, jitdump.Padding, nil
		},
		Write: func(state State, addr uintptr, size uint32, co host.Code) error {
			s, ok := state.(*jitdump.Sink)
			if !ok {
				return fmt.Errorf("sink: jitdump plug called with wrong state type %T", state)
			}
			return s.Write(addr, size, co.Qualname(), co.Filename())
		},
		Fini: func(state State) error {
			if state == nil {
				return nil
			}
			s, ok := state.(*jitdump.Sink)
			if !ok {
				return fmt.Errorf("sink: jitdump plug fini called with wrong state type %T", state)
			}
			return s.Close()
		},
	}
}
