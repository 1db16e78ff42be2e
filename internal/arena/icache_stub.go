//go:build !(linux && arm64 && cgo)

package arena

// invalidateICache is a no-op on architectures where W→X page transitions
// don't need an explicit instruction-cache flush (x86-64 snoops the icache
// on self-modifying code) or where cgo isn't available to call the AArch64
// cache-maintenance builtin.
func invalidateICache(mem []byte) {}
