package symbolmap

import (
	"strings"

	goMacho "github.com/tracebeam/profilecore/macho"
	"github.com/tracebeam/profilecore/macho/types"
)

// SymbolMap owns a binary's file-contents blob alongside every structure
// that borrows into it (the parsed object, the address table, the DWARF
// context, the external-object map) in a single container. Construction
// order guarantees the blob outlives every view derived from it; callers
// must not reach inside View after the map is discarded.
type SymbolMap struct {
	id    DebugId
	view  View
	table *Table

	frames    *FrameResolver
	externals map[string]*ExternalFileResolver // keyed by FileName
	mapper    PathMapper

	raw *goMacho.File // kept alive for as long as SymbolMap is alive
}

// NewFromMachO builds a SymbolMap over one already-parsed, plain (non-fat)
// Mach-O file, backed by view for lifetime purposes.
func NewFromMachO(view View, f *goMacho.File, mapper PathMapper) (*SymbolMap, error) {
	if mapper == nil {
		mapper = identityPathMapper{}
	}

	uuidCmd := f.UUID()
	if uuidCmd == nil {
		return nil, &InvalidInputError{Reason: "no LC_UUID present"}
	}
	id := DebugIdFromBytes([16]byte(uuidCmd.UUID), 0)

	imageBase := f.GetBaseAddress()
	b := NewEntryBuilder(imageBase)
	populateEntries(b, f)
	table := b.Build()

	var fr *FrameResolver
	if dw, err := f.DWARF(); err == nil {
		fr = NewFrameResolver(dw, mapper)
	} else {
		fr = NewFrameResolver(nil, mapper)
	}

	return &SymbolMap{
		id:        id,
		view:      view,
		table:     table,
		frames:    fr,
		externals: make(map[string]*ExternalFileResolver),
		mapper:    mapper,
		raw:       f,
	}, nil
}

// populateEntries fuses symbols, exports, synthesized starts, the entry
// point, and end-address barriers into b, following the C3 priority
// order: symbols, exports, synthesized, entry point, end-address
// barriers for executable sections.
func populateEntries(b *EntryBuilder, f *goMacho.File) {
	if f.Symtab != nil {
		for _, sym := range f.Symtab.Syms {
			if sym.Value == 0 {
				continue
			}
			if !isExecutableSymbol(f, sym) {
				continue
			}
			b.AddSymbol(sym.Value, sym.Name)
		}
	}

	if exports, err := f.DyldExports(); err == nil {
		for _, exp := range exports {
			if exp.Flags.ReExport() {
				continue
			}
			b.AddExport(exp.Address, exp.Name)
		}
	}

	for _, fn := range f.GetFunctions() {
		b.AddSynthesized(fn.StartAddr)
	}

	if ep := entryPointOf(f); ep != 0 {
		b.AddEntryPoint(ep)
	}

	for _, sec := range f.Sections {
		if !isExecutableSection(sec.Flags) {
			continue
		}
		b.AddEndAddress(sec.Addr + sec.Size)
		for _, sym := range symbolsInSection(f, sec) {
			if sym.Value != 0 {
				b.AddEndAddress(sym.Value)
			}
		}
	}
}

// isExecutableSymbol applies the membership rule from C3 §1: the symbol
// must be a defined (N_SECT) entry residing in a section this file
// classifies as executable. Zero-sized label symbols are not rejected
// here (size information is not tracked per-symbol by the underlying
// parser); the dedupe step in C3 still prefers the true Symbol entry.
func isExecutableSymbol(f *goMacho.File, sym goMacho.Symbol) bool {
	if sym.Type.IsStab() {
		return false
	}
	if sym.Type.Type() != types.N_SECT {
		return false
	}
	if int(sym.Sect) == 0 || int(sym.Sect) > len(f.Sections) {
		return false
	}
	return isExecutableSection(f.Sections[sym.Sect-1].Flags)
}

func isExecutableSection(flags types.SectionFlag) bool {
	return flags.IsPureInstructions() || flags.Type() == types.SectionRegular
}

func symbolsInSection(f *goMacho.File, sec *goMacho.Section) []goMacho.Symbol {
	if f.Symtab == nil {
		return nil
	}
	var out []goMacho.Symbol
	for _, sym := range f.Symtab.Syms {
		if int(sym.Sect) > 0 && int(sym.Sect) <= len(f.Sections) && f.Sections[sym.Sect-1] == sec {
			out = append(out, sym)
		}
	}
	return out
}

func entryPointOf(f *goMacho.File) uint64 {
	for _, l := range f.Loads {
		if ep, ok := l.(*goMacho.EntryPoint); ok {
			return ep.EntryOffset + f.GetBaseAddress()
		}
	}
	return 0
}

// DebugId returns the map's identifying build id.
func (m *SymbolMap) DebugId() DebugId { return m.id }

// SymbolCount returns the number of Symbol|Export entries.
func (m *SymbolMap) SymbolCount() int { return m.table.Len() }

// IterSymbols calls fn for each (relative_address, name) pair in
// ascending address order, skipping entries whose name could not be
// produced.
func (m *SymbolMap) IterSymbols(fn func(relativeAddress uint32, name string)) {
	m.table.IterSymbols(fn)
}

// LookupRelativeAddress resolves a relative address, following up with a
// C4 frame lookup against the corresponding SVMA.
func (m *SymbolMap) LookupRelativeAddress(a uint32) (AddressInfo, FramesLookupResult, bool) {
	info, ok := m.table.Lookup(a)
	if !ok {
		return AddressInfo{}, FramesLookupResult{Kind: FramesUnavailable}, false
	}
	svma := m.table.ImageBase() + uint64(info.RelativeAddress)
	return info, m.frames.Lookup(svma), true
}

// LookupSvma is equivalent to LookupRelativeAddress(svma - image_base),
// and reports ok=false if svma underflows the image base or overflows 32
// bits once converted.
func (m *SymbolMap) LookupSvma(svma uint64) (AddressInfo, FramesLookupResult, bool) {
	base := m.table.ImageBase()
	if svma < base || svma-base > 0xffffffff {
		return AddressInfo{}, FramesLookupResult{Kind: FramesUnavailable}, false
	}
	return m.LookupRelativeAddress(uint32(svma - base))
}

// LookupOffset translates a file offset to an SVMA via the object's
// segment/section ranges (segments preferred, sections as a debug-only
// fallback), then delegates to LookupSvma.
func (m *SymbolMap) LookupOffset(off uint64) (AddressInfo, FramesLookupResult, bool) {
	svma, ok := m.fileOffsetToSvma(off)
	if !ok {
		return AddressInfo{}, FramesLookupResult{Kind: FramesUnavailable}, false
	}
	return m.LookupSvma(svma)
}

func (m *SymbolMap) fileOffsetToSvma(off uint64) (uint64, bool) {
	haveSegments := false
	for _, l := range m.raw.Loads {
		seg, ok := l.(*goMacho.Segment)
		if !ok {
			continue
		}
		haveSegments = true
		if off >= seg.Offset && off < seg.Offset+seg.Filesz {
			return seg.Addr + (off - seg.Offset), true
		}
	}
	if haveSegments {
		return 0, false
	}
	for _, sec := range m.raw.Sections {
		if off >= uint64(sec.Offset) && off < uint64(sec.Offset)+sec.Size {
			return sec.Addr + (off - uint64(sec.Offset)), true
		}
	}
	return 0, false
}

// LookupMore resumes a NeedDwo continuation; see FrameResolver.LookupMore.
func (m *SymbolMap) LookupMore(svma uint64, expected DwoRef, dwoAbbrev, dwoInfo, dwoLine, dwoStr []byte) FramesLookupResult {
	return m.frames.LookupMore(svma, expected, dwoAbbrev, dwoInfo, dwoLine, dwoStr)
}

// ResolveExternal resolves an ExternalFileAddressRef surfaced by a prior
// lookup, lazily constructing (and memoizing) the ExternalFileResolver for
// ref.FileName via openExternal.
func (m *SymbolMap) ResolveExternal(
	ref ExternalFileAddressRef,
	openExternal func(fileName string) (FileContents, error),
	buildSub func(memberBytes []byte) (*subResolver, error),
) (AddressInfo, FramesLookupResult, bool) {
	ext, ok := m.externals[ref.FileName]
	if !ok {
		contents, err := openExternal(ref.FileName)
		if err != nil {
			return AddressInfo{}, FramesLookupResult{Kind: FramesUnavailable}, false
		}
		ext = NewExternalFileResolver(contents, m.mapper)
		m.externals[ref.FileName] = ext
	}

	svma, fr, ok := ext.LookupAddress(ref, buildSub)
	if !ok {
		return AddressInfo{}, FramesLookupResult{Kind: FramesUnavailable}, false
	}

	frames := fr.Lookup(svma)
	name := strings.TrimPrefix(ref.symbolName(), "_")
	return AddressInfo{RelativeAddress: uint32(svma), Name: name}, frames, true
}
