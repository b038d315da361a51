package symbolmap

import (
	"sort"
	"strings"
)

// AddressEntryKind distinguishes how an AddressEntry's name and size were
// obtained.
type AddressEntryKind int

const (
	KindSymbol AddressEntryKind = iota
	KindExport
	KindSynthesized
	KindSynthesizedEntryPoint
	KindEndAddress
)

// priority returns the insertion priority used to resolve collisions at
// the same address: lower wins. Symbols beat exports beat synthesized
// placeholders beat the entry point beat end-address barriers.
func (k AddressEntryKind) priority() int {
	switch k {
	case KindSymbol:
		return 0
	case KindExport:
		return 1
	case KindSynthesized:
		return 2
	case KindSynthesizedEntryPoint:
		return 3
	case KindEndAddress:
		return 4
	default:
		return 5
	}
}

// AddressEntry is one row of a SymbolMap's address table: a relative
// address (relative to the image base) paired with how that address was
// discovered and, for named kinds, the name itself.
type AddressEntry struct {
	RelativeAddress uint32
	Kind            AddressEntryKind
	Name            string // empty for Synthesized/EndAddress
}

// AddressInfo is the result of a successful lookup: a resolved function
// name, its size in bytes (distance to the next table entry), and the
// relative address the caller queried with.
type AddressInfo struct {
	RelativeAddress uint32
	Name            string
	Size            uint32
}

// EntryBuilder accumulates AddressEntry rows from a single parsed object
// (symbols, exports, synthesized starts, the entry point, and end-address
// barriers) and produces a sorted, deduplicated table.
type EntryBuilder struct {
	imageBase uint64
	entries   []AddressEntry
	dropped   int
}

// NewEntryBuilder begins building a table whose relative addresses are
// computed against imageBase (the lowest segment/section VM address,
// rounded down per the binary format's alignment rule).
func NewEntryBuilder(imageBase uint64) *EntryBuilder {
	return &EntryBuilder{imageBase: imageBase}
}

// toRelative converts an absolute SVMA to a relative address, dropping
// (returning ok=false) addresses that under- or overflow 32 bits once the
// image base is subtracted.
func (b *EntryBuilder) toRelative(svma uint64) (uint32, bool) {
	if svma < b.imageBase {
		return 0, false
	}
	rel := svma - b.imageBase
	if rel > 0xffffffff {
		return 0, false
	}
	return uint32(rel), true
}

// AddSymbol appends a Symbol entry restricted to (a) non-zero address, (b)
// text or sized-label kind, (c) residence in an executable section. The
// caller is expected to have already applied those membership checks;
// AddSymbol only performs the relative-address conversion and drop.
func (b *EntryBuilder) AddSymbol(svma uint64, name string) {
	b.add(svma, KindSymbol, name)
}

// AddExport appends a module-export entry.
func (b *EntryBuilder) AddExport(svma uint64, name string) {
	b.add(svma, KindExport, name)
}

// AddSynthesized appends an unnamed placeholder at a function-start
// address discovered via LC_FUNCTION_STARTS or __unwind_info.
func (b *EntryBuilder) AddSynthesized(svma uint64) {
	b.add(svma, KindSynthesized, "")
}

// AddEntryPoint appends the module's synthesized entry point.
func (b *EntryBuilder) AddEntryPoint(svma uint64) {
	b.add(svma, KindSynthesizedEntryPoint, "")
}

// AddEndAddress appends a non-coverage barrier: a section end, a sized
// symbol's end, or an externally supplied function-end (.eh_frame, .pdata).
func (b *EntryBuilder) AddEndAddress(svma uint64) {
	b.add(svma, KindEndAddress, "")
}

func (b *EntryBuilder) add(svma uint64, kind AddressEntryKind, name string) {
	rel, ok := b.toRelative(svma)
	if !ok {
		b.dropped++
		return
	}
	b.entries = append(b.entries, AddressEntry{RelativeAddress: rel, Kind: kind, Name: name})
}

// Dropped returns the number of entries silently discarded for
// over/underflowing a 32-bit relative address.
func (b *EntryBuilder) Dropped() int { return b.dropped }

// Build stable-sorts by address then dedupes, keeping the first (highest
// priority) entry at each address, and returns the finished table.
func (b *EntryBuilder) Build() *Table {
	entries := append([]AddressEntry(nil), b.entries...)
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].RelativeAddress != entries[j].RelativeAddress {
			return entries[i].RelativeAddress < entries[j].RelativeAddress
		}
		return entries[i].Kind.priority() < entries[j].Kind.priority()
	})

	deduped := entries[:0:0]
	for i, e := range entries {
		if i > 0 && e.RelativeAddress == entries[i-1].RelativeAddress {
			continue
		}
		deduped = append(deduped, e)
	}

	return &Table{imageBase: b.imageBase, entries: deduped}
}

// Table is the finished, sorted, deduplicated AddressEntry table for one
// parsed object.
type Table struct {
	imageBase uint64
	entries   []AddressEntry
}

// ImageBase returns the base address relative addresses are computed
// against.
func (t *Table) ImageBase() uint64 { return t.imageBase }

// Len returns the number of Symbol|Export entries, matching SymbolMap's
// symbol_count contract.
func (t *Table) Len() int {
	n := 0
	for _, e := range t.entries {
		if e.Kind == KindSymbol || e.Kind == KindExport {
			n++
		}
	}
	return n
}

// IterSymbols calls fn for each Symbol|Export entry whose name is
// non-empty, in ascending address order.
func (t *Table) IterSymbols(fn func(relativeAddress uint32, name string)) {
	for _, e := range t.entries {
		if (e.Kind == KindSymbol || e.Kind == KindExport) && e.Name != "" {
			fn(e.RelativeAddress, e.Name)
		}
	}
}

// Lookup resolves a relative address to the function it falls within, or
// ok=false if A is unmapped or lands past a known function's end.
func (t *Table) Lookup(a uint32) (AddressInfo, bool) {
	n := len(t.entries)
	i := sort.Search(n, func(i int) bool { return t.entries[i].RelativeAddress > a })
	if i == 0 {
		return AddressInfo{}, false
	}
	e := t.entries[i-1]
	if e.Kind == KindEndAddress {
		return AddressInfo{}, false
	}

	var size uint32
	if i < n {
		size = t.entries[i].RelativeAddress - e.RelativeAddress
	}

	name := e.Name
	switch e.Kind {
	case KindSynthesized:
		name = syntheticName(e.RelativeAddress)
	case KindSynthesizedEntryPoint:
		name = "EntryPoint"
	case KindSymbol, KindExport:
		name = strings.ToValidUTF8(name, "�")
	}

	return AddressInfo{RelativeAddress: e.RelativeAddress, Name: name, Size: size}, true
}

// syntheticName renders "fun_<hex>" with no leading-zero padding, matching
// the ground-truth format!("fun_{addr:x}").
func syntheticName(relativeAddress uint32) string {
	const hexDigits = "0123456789abcdef"
	if relativeAddress == 0 {
		return "fun_0"
	}
	var digits [8]byte
	n := 0
	for v := relativeAddress; v > 0; v >>= 4 {
		digits[n] = hexDigits[v&0xf]
		n++
	}
	b := make([]byte, 0, 4+n)
	b = append(b, "fun_"...)
	for i := n - 1; i >= 0; i-- {
		b = append(b, digits[i])
	}
	return string(b)
}
