package symbolmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// Spec scenario 1: a stripped binary with no symbols, LC_FUNCTION_STARTS
// at [0x1000, 0x1040, 0x10a0] and a text section [0x1000, 0x1100).
func TestEntryBuilder_StrippedBinaryFunctionStarts(t *testing.T) {
	b := NewEntryBuilder(0)
	b.AddSynthesized(0x1000)
	b.AddSynthesized(0x1040)
	b.AddSynthesized(0x10a0)
	b.AddEndAddress(0x1100)
	table := b.Build()

	info, ok := table.Lookup(0x1020)
	if !ok {
		t.Fatal("expected a hit at 0x1020")
	}
	if info.Name != "fun_1000" || info.Size != 0x40 {
		t.Fatalf("got name=%q size=%#x, want fun_1000 size=0x40", info.Name, info.Size)
	}

	info, ok = table.Lookup(0x10c0)
	if !ok {
		t.Fatal("expected a hit at 0x10c0")
	}
	if info.Name != "fun_10a0" || info.Size != 0x60 {
		t.Fatalf("got name=%q size=%#x, want fun_10a0 size=0x60", info.Name, info.Size)
	}

	if _, ok := table.Lookup(0x1100); ok {
		t.Fatal("expected a miss at the end-address barrier")
	}
}

func TestEntryBuilder_SymbolNeverShadowedBySynthesized(t *testing.T) {
	b := NewEntryBuilder(0)
	b.AddSynthesized(0x2000)
	b.AddSymbol(0x2000, "real_name")
	table := b.Build()

	info, ok := table.Lookup(0x2000)
	if !ok || info.Name != "real_name" {
		t.Fatalf("expected Symbol to win at a shared address, got %+v ok=%v", info, ok)
	}
}

func TestEntryBuilder_ExportBeatsSynthesizedButNotSymbol(t *testing.T) {
	b := NewEntryBuilder(0)
	b.AddSynthesized(0x3000)
	b.AddExport(0x3000, "exported")
	table := b.Build()

	info, ok := table.Lookup(0x3000)
	if !ok || info.Name != "exported" {
		t.Fatalf("expected Export to beat Synthesized, got %+v ok=%v", info, ok)
	}
}

func TestEntryBuilder_StrictlyIncreasingAndSingleSurvivorPerAddress(t *testing.T) {
	b := NewEntryBuilder(0)
	b.AddSymbol(0x100, "a")
	b.AddSymbol(0x100, "b")
	b.AddSymbol(0x50, "c")
	b.AddEndAddress(0x200)
	table := b.Build()

	var addrs []uint32
	table.IterSymbols(func(relativeAddress uint32, name string) {
		addrs = append(addrs, relativeAddress)
	})
	if len(addrs) != 2 {
		t.Fatalf("expected exactly one survivor per address (2 distinct addrs), got %v", addrs)
	}
	for i := 1; i < len(addrs); i++ {
		if addrs[i] <= addrs[i-1] {
			t.Fatalf("addresses not strictly increasing: %v", addrs)
		}
	}
}

func TestEntryBuilder_DropsOverflowingAddresses(t *testing.T) {
	b := NewEntryBuilder(0x100000000) // image base itself already > svma below
	b.AddSymbol(0x10, "underflow")
	table := b.Build()
	if b.Dropped() != 1 {
		t.Fatalf("expected 1 dropped entry, got %d", b.Dropped())
	}
	if table.Len() != 0 {
		t.Fatalf("expected empty table, got %d entries", table.Len())
	}
}

func TestTable_ImageBaseRelativeEquivalence(t *testing.T) {
	const imageBase = 0x100000
	b := NewEntryBuilder(imageBase)
	b.AddSymbol(imageBase+0x10, "f")
	b.AddEndAddress(imageBase + 0x20)
	table := b.Build()

	byRelative, ok := table.Lookup(0x10)
	if !ok {
		t.Fatal("expected a hit")
	}
	want := AddressInfo{RelativeAddress: 0x10, Name: "f", Size: 0x10}
	if diff := cmp.Diff(want, byRelative); diff != "" {
		t.Fatalf("unexpected AddressInfo (-want +got):\n%s", diff)
	}
}
