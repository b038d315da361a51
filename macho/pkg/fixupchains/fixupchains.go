// Package fixupchains classifies dyld chained-fixup pointer values found in
// arm64e Mach-O images (LC_DYLD_CHAINED_FIXUPS). Symbolication only ever
// reads a rebased pointer back into a runtime vmaddr; it never walks an
// import-binding chain or writes one back out, so this package keeps only
// the arm64e rebase/auth-rebase bit layouts, not the full chain walker.
package fixupchains

import "github.com/tracebeam/profilecore/macho/types"

// DcpArm64eIsRebase reports whether an arm64e chained-fixup pointer value
// encodes a rebase (as opposed to a symbol bind).
func DcpArm64eIsRebase(ptr uint64) bool {
	return !types.DcpArm64eIsBind(ptr)
}

// DcpArm64eIsAuth reports whether an arm64e chained-fixup pointer value
// carries pointer-authentication metadata (DYLD_CHAINED_PTR_ARM64E's auth
// bit), which changes how its target bits are packed.
func DcpArm64eIsAuth(ptr uint64) bool {
	return types.DcpArm64eIsAuth(ptr)
}

// DyldChainedPtrArm64eRebase is a plain (non-auth) arm64e rebase pointer:
// a 43-bit runtime offset plus an 8-bit "high8" TBI byte.
type DyldChainedPtrArm64eRebase struct {
	Pointer uint64
}

// Target returns the 43-bit runtime offset packed into the pointer.
func (d DyldChainedPtrArm64eRebase) Target() uint64 {
	return types.ExtractBits(d.Pointer, 0, 43)
}

// High8 returns the top-byte tag applied back onto the rebased address
// after the image's slide is added (used for pointer tagging on some
// platforms).
func (d DyldChainedPtrArm64eRebase) High8() uint64 {
	return types.ExtractBits(d.Pointer, 43, 8)
}

// UnpackTarget reassembles High8()<<56 | Target() into the full
// pre-slide pointer value, mirroring the arm64e rebase encoding.
func (d DyldChainedPtrArm64eRebase) UnpackTarget() uint64 {
	return d.High8()<<56 | d.Target()
}

// DyldChainedPtrArm64eAuthRebase is a pointer-authenticated arm64e rebase:
// its target is a plain 32-bit runtime offset since the high bits instead
// carry the authentication diversity/key/address-diversity fields.
type DyldChainedPtrArm64eAuthRebase struct {
	Pointer uint64
}

// Target returns the 32-bit runtime offset packed into the pointer.
func (d DyldChainedPtrArm64eAuthRebase) Target() uint64 {
	return types.ExtractBits(d.Pointer, 0, 32)
}
