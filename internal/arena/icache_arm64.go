//go:build linux && arm64 && cgo

package arena

/*
static void perftrampoline_clear_cache(void *start, void *end) {
	__builtin___clear_cache((char *)start, (char *)end);
}
*/
import "C"

import "unsafe"

// invalidateICache flushes the instruction cache over a freshly mprotected
// arena. Required on AArch64: the CPU's instruction and data caches are not
// guaranteed coherent after a page transitions from writable to executable.
func invalidateICache(mem []byte) {
	if len(mem) == 0 {
		return
	}
	start := unsafe.Pointer(&mem[0])
	end := unsafe.Pointer(&mem[len(mem)-1])
	C.perftrampoline_clear_cache(start, end)
}
