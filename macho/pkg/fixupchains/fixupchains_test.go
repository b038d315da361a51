package fixupchains

import "testing"

func TestDcpArm64eIsRebase_BindBitClear(t *testing.T) {
	var ptr uint64 = 0x0000_0000_0000_1000 // bind bit (62) and auth bit (63) both clear
	if !DcpArm64eIsRebase(ptr) {
		t.Fatal("expected a rebase pointer when the bind bit is clear")
	}
	if DcpArm64eIsAuth(ptr) {
		t.Fatal("expected no auth flag")
	}
}

func TestDcpArm64eIsRebase_BindBitSet(t *testing.T) {
	var ptr uint64 = 1 << 62
	if DcpArm64eIsRebase(ptr) {
		t.Fatal("expected a bind pointer, not a rebase, when the bind bit is set")
	}
}

func TestDyldChainedPtrArm64eRebase_UnpackTarget(t *testing.T) {
	const target = uint64(0x0012_3456)
	const high8 = uint64(0x42)
	ptr := target | high8<<43
	rebase := DyldChainedPtrArm64eRebase{Pointer: ptr}

	if got := rebase.Target(); got != target {
		t.Fatalf("Target() = %#x, want %#x", got, target)
	}
	if got := rebase.High8(); got != high8 {
		t.Fatalf("High8() = %#x, want %#x", got, high8)
	}
	want := high8<<56 | target
	if got := rebase.UnpackTarget(); got != want {
		t.Fatalf("UnpackTarget() = %#x, want %#x", got, want)
	}
}

func TestDyldChainedPtrArm64eAuthRebase_Target(t *testing.T) {
	const target = uint64(0xdead_beef)
	authRebase := DyldChainedPtrArm64eAuthRebase{Pointer: target}
	if got := authRebase.Target(); got != target {
		t.Fatalf("Target() = %#x, want %#x", got, target)
	}
}
