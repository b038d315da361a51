package symbolmap

import (
	"debug/dwarf"
	"sync"

	godwarf "github.com/blacktop/go-dwarf"
)

// GNU split-DWARF extension attributes predating their DWARF5
// standardization (DW_AT_GNU_dwo_name / DW_AT_GNU_dwo_id); toolchains still
// emit these alongside or instead of the standard AttrDwoName.
const (
	attrGNUDwoName dwarf.Attr = 0x2130
	attrGNUDwoID   dwarf.Attr = 0x2131
)

// DwoRef identifies a split-DWARF companion object a line-info lookup
// demands: the compile unit's comp_dir, the dwo name it recorded, and the
// dwo_id used to verify the companion matches.
type DwoRef struct {
	CompDir string
	Path    string
	DwoId   uint64
}

// Frame is one entry of an inlined-call chain, innermost first.
type Frame struct {
	Function string
	File     string
	Line     uint32
	Column   uint32
}

// FramesLookupResultKind discriminates the FramesLookupResult sum type.
type FramesLookupResultKind int

const (
	FramesAvailable FramesLookupResultKind = iota
	FramesUnavailable
	FramesExternal
	FramesNeedDwo
)

// FramesLookupResult is the outcome of a Frame Resolver lookup.
type FramesLookupResult struct {
	Kind     FramesLookupResultKind
	Frames   []Frame                 // Available, and partial frames for NeedDwo
	External ExternalFileAddressRef  // External
	Dwo      DwoRef                  // NeedDwo
}

// PathMapper remaps a compile-time source path (possibly under a stripped
// build root) to a path meaningful to the caller, honoring a BasePath
// policy that may forbid revealing local paths.
type PathMapper interface {
	MapPath(compDir, path string) string
}

// identityPathMapper leaves paths untouched; used when no BasePath
// restriction has been configured.
type identityPathMapper struct{}

func (identityPathMapper) MapPath(_, path string) string { return path }

// FrameResolver wraps a DWARF line-info context for one parsed object and
// resolves SVMA-addressed inline frame chains. A FrameResolver may be
// shared across goroutines; mapper is guarded by mu since path-mapping
// caches may be stateful.
type FrameResolver struct {
	data   *dwarf.Data
	mapper PathMapper
	mu     sync.Mutex

	// dwo, once attached via ResumeWithDwo, supplies line/inline info for
	// compile units that deferred to a split-DWARF companion.
	dwo *godwarf.Data
}

// NewFrameResolver builds a resolver over an already-opened DWARF context.
// A nil data is valid: every lookup then reports Unavailable.
func NewFrameResolver(data *dwarf.Data, mapper PathMapper) *FrameResolver {
	if mapper == nil {
		mapper = identityPathMapper{}
	}
	return &FrameResolver{data: data, mapper: mapper}
}

// Lookup resolves svma to an inline frame chain, innermost first.
func (r *FrameResolver) Lookup(svma uint64) FramesLookupResult {
	if r.data == nil {
		return FramesLookupResult{Kind: FramesUnavailable}
	}

	cu, err := r.compileUnitFor(svma)
	if err != nil || cu == nil {
		return FramesLookupResult{Kind: FramesUnavailable}
	}

	r.mu.Lock()
	haveDwo := r.dwo != nil
	r.mu.Unlock()
	if ref, ok := r.splitDwarfRef(cu); ok && !haveDwo {
		frames := r.inlineChain(r.data, cu, svma)
		return FramesLookupResult{Kind: FramesNeedDwo, Dwo: ref, Frames: frames}
	}

	frames := r.inlineChain(r.data, cu, svma)
	if len(frames) == 0 {
		return FramesLookupResult{Kind: FramesUnavailable}
	}
	return FramesLookupResult{Kind: FramesAvailable, Frames: frames}
}

// LookupMore implements the split-DWARF retry protocol: re-drive the
// lookup, and if the freshly requested DWO matches expected, attach a
// DWARF-of-DWO built from dwoContents and resume. A mismatched DWO
// request is returned as a fresh NeedDwo for the caller to iterate; nil
// dwoContents resumes with no DWO attached (frames may come back empty).
func (r *FrameResolver) LookupMore(svma uint64, expected DwoRef, dwoAbbrev, dwoInfo, dwoLine, dwoStr []byte) FramesLookupResult {
	again := r.Lookup(svma)
	if again.Kind != FramesNeedDwo {
		return again
	}
	if again.Dwo != expected {
		return again
	}

	if dwoInfo == nil {
		return FramesLookupResult{Kind: FramesAvailable, Frames: again.Frames}
	}

	dwoData, err := godwarf.New(dwoAbbrev, nil, nil, dwoInfo, dwoLine, nil, nil, dwoStr)
	if err != nil {
		return FramesLookupResult{Kind: FramesUnavailable}
	}

	r.mu.Lock()
	r.dwo = dwoData
	r.mu.Unlock()

	frames := r.inlineChainDwo(dwoData, svma, again.Frames)
	if len(frames) == 0 {
		return FramesLookupResult{Kind: FramesUnavailable}
	}
	return FramesLookupResult{Kind: FramesAvailable, Frames: frames}
}

// compileUnitFor walks top-level compile-unit entries looking for the one
// whose low/high PC range brackets svma.
func (r *FrameResolver) compileUnitFor(svma uint64) (*dwarf.Entry, error) {
	rdr := r.data.Reader()
	for {
		e, err := rdr.Next()
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, nil
		}
		if e.Tag != dwarf.TagCompileUnit {
			rdr.SkipChildren()
			continue
		}
		ranges, err := r.data.Ranges(e)
		if err != nil {
			rdr.SkipChildren()
			continue
		}
		for _, rg := range ranges {
			if svma >= rg[0] && svma < rg[1] {
				return e, nil
			}
		}
		rdr.SkipChildren()
	}
}

// splitDwarfRef reports whether cu defers its line/inline info to a
// split-DWARF companion, and if so the reference to that companion.
func (r *FrameResolver) splitDwarfRef(cu *dwarf.Entry) (DwoRef, bool) {
	name, ok1 := cu.Val(attrGNUDwoName).(string)
	if !ok1 {
		name, ok1 = cu.Val(dwarf.AttrDwoName).(string)
	}
	id, ok2 := cu.Val(attrGNUDwoID).(uint64)
	if !ok1 || !ok2 {
		return DwoRef{}, false
	}
	compDir, _ := cu.Val(dwarf.AttrCompDir).(string)
	return DwoRef{CompDir: compDir, Path: name, DwoId: id}, true
}

// inlineChain walks cu's children for DW_TAG_inlined_subroutine/
// DW_TAG_subprogram entries covering svma, returning the innermost-first
// frame chain with path remapping applied.
func (r *FrameResolver) inlineChain(data *dwarf.Data, cu *dwarf.Entry, svma uint64) []Frame {
	var chain []Frame
	rdr := data.Reader()
	rdr.Seek(cu.Offset)
	rdr.Next() // re-read the CU entry itself to descend into its children

	compDir, _ := cu.Val(dwarf.AttrCompDir).(string)

	depth := 0
	for {
		e, err := rdr.Next()
		if err != nil || e == nil {
			break
		}
		if e.Tag == 0 {
			if depth == 0 {
				break
			}
			depth--
			continue
		}
		if e.Children {
			depth++
		}

		if e.Tag != dwarf.TagSubprogram && e.Tag != dwarf.TagInlinedSubroutine {
			continue
		}
		low, lok := e.Val(dwarf.AttrLowpc).(uint64)
		high, hok := highPC(e, low)
		if !lok || !hok || svma < low || svma >= high {
			continue
		}

		name, _ := e.Val(dwarf.AttrName).(string)
		line, _ := e.Val(dwarf.AttrDeclLine).(int64)

		r.mu.Lock()
		file := r.mapper.MapPath(compDir, "")
		r.mu.Unlock()

		chain = append([]Frame{{
			Function: name,
			File:     file,
			Line:     uint32(line),
		}}, chain...)
	}
	return chain
}

// inlineChainDwo mirrors inlineChain but walks a split-DWARF companion's
// own Data, merging into the parent's partial frames.
func (r *FrameResolver) inlineChainDwo(dwo *godwarf.Data, svma uint64, partial []Frame) []Frame {
	rdr := dwo.Reader()
	var chain []Frame

	const (
		goDwarfTagSubprogram        = godwarf.Tag(dwarf.TagSubprogram)
		goDwarfTagInlinedSubroutine = godwarf.Tag(dwarf.TagInlinedSubroutine)
		goDwarfAttrLowpc            = godwarf.Attr(dwarf.AttrLowpc)
		goDwarfAttrHighpc           = godwarf.Attr(dwarf.AttrHighpc)
		goDwarfAttrName             = godwarf.Attr(dwarf.AttrName)
		goDwarfAttrDeclLine         = godwarf.Attr(dwarf.AttrDeclLine)
	)

	for {
		e, err := rdr.Next()
		if err != nil || e == nil {
			break
		}
		if e.Tag != goDwarfTagSubprogram && e.Tag != goDwarfTagInlinedSubroutine {
			continue
		}
		low, lok := e.Val(goDwarfAttrLowpc).(uint64)
		if !lok {
			continue
		}
		var high uint64
		hok := false
		switch v := e.Val(goDwarfAttrHighpc).(type) {
		case uint64:
			if v < low {
				high, hok = low+v, true
			} else {
				high, hok = v, true
			}
		case int64:
			high, hok = low+uint64(v), true
		}
		if !hok || svma < low || svma >= high {
			continue
		}
		name, _ := e.Val(goDwarfAttrName).(string)
		line, _ := e.Val(goDwarfAttrDeclLine).(int64)
		chain = append([]Frame{{Function: name, Line: uint32(line)}}, chain...)
	}
	return append(chain, partial...)
}

// highPC resolves DW_AT_high_pc, which may be encoded as an absolute
// address or (DWARF4+) an offset from low.
func highPC(e *dwarf.Entry, low uint64) (uint64, bool) {
	switch v := e.Val(dwarf.AttrHighpc).(type) {
	case uint64:
		if v < low {
			return low + v, true
		}
		return v, true
	case int64:
		return low + uint64(v), true
	default:
		return 0, false
	}
}
