package symbolmap

import (
	"bytes"
	"debug/dwarf"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// ExternalFileAddressRef points at a function whose debug info lives in a
// second binary: the Mach-O OSO stub only records which external object
// (and, for archives, which member) owns it.
type ExternalFileAddressRef struct {
	FileName string
	Archive  *MachoOsoArchive // set when the OSO path carries a "(member.o)" suffix
	Object   *MachoOsoObject  // set otherwise
}

// MachoOsoArchive identifies a symbol inside a named member of an archive.
type MachoOsoArchive struct {
	ArchiveMember    string
	SymbolName       string
	OffsetFromSymbol uint64
}

// MachoOsoObject identifies a symbol inside a plain (non-archive) object
// file.
type MachoOsoObject struct {
	SymbolName       string
	OffsetFromSymbol uint64
}

// ParseOsoPath splits an OSO stub's recorded path into the owning file
// name and, when the path ends in "(member.o)", the archive member name.
func ParseOsoPath(path string) (fileName, member string) {
	if strings.HasSuffix(path, ")") {
		if i := strings.LastIndexByte(path, '('); i >= 0 {
			return path[:i], path[i+1 : len(path)-1]
		}
	}
	return path, ""
}

// NewExternalFileAddressRef builds a reference from an OSO path, symbol
// name, and byte offset from that symbol, recognizing the archive-member
// suffix convention.
func NewExternalFileAddressRef(osoPath, symbolName string, offset uint64) ExternalFileAddressRef {
	fileName, member := ParseOsoPath(osoPath)
	if member != "" {
		return ExternalFileAddressRef{
			FileName: fileName,
			Archive:  &MachoOsoArchive{ArchiveMember: member, SymbolName: symbolName, OffsetFromSymbol: offset},
		}
	}
	return ExternalFileAddressRef{
		FileName: fileName,
		Object:   &MachoOsoObject{SymbolName: symbolName, OffsetFromSymbol: offset},
	}
}

func (r ExternalFileAddressRef) memberKey() string {
	if r.Archive != nil {
		return r.Archive.ArchiveMember
	}
	return ""
}

func (r ExternalFileAddressRef) symbolName() string {
	if r.Archive != nil {
		return r.Archive.SymbolName
	}
	return r.Object.SymbolName
}

func (r ExternalFileAddressRef) offset() uint64 {
	if r.Archive != nil {
		return r.Archive.OffsetFromSymbol
	}
	return r.Object.OffsetFromSymbol
}

// arMember is one entry of a parsed ar(1) archive: its name and byte
// range within the archive's contents.
type arMember struct {
	name string
	rng  FileRange
}

// parseArchive parses the classic ar(1) "!<arch>\n" format, memoizing
// member_name -> FileRange. Members named through a GNU-style extended
// name table ("//" plus "/<offset>" references) are resolved to their real
// names; anything else, including BSD-style "#1/<len>" names, keeps the raw
// header name with a range covering the whole body. Parse failure is reported via
// the returned error; callers degrade to a single whole-file member.
func parseArchive(data []byte) (map[string]FileRange, error) {
	const magic = "!<arch>\n"
	if len(data) < len(magic) || string(data[:len(magic)]) != magic {
		return nil, fmt.Errorf("not an ar archive")
	}

	members := make(map[string]FileRange)
	var longNames []byte

	off := uint64(len(magic))
	for off+60 <= uint64(len(data)) {
		hdr := data[off : off+60]
		name := strings.TrimRight(string(hdr[0:16]), " ")
		sizeStr := strings.TrimSpace(string(hdr[48:58]))
		size, err := strconv.ParseUint(sizeStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ar header size field: %v", err)
		}

		bodyOff := off + 60
		if bodyOff+size > uint64(len(data)) {
			return nil, fmt.Errorf("ar member %q overruns archive", name)
		}

		switch {
		case name == "//":
			longNames = data[bodyOff : bodyOff+size]
		case name == "/" || name == "/SYM64/":
			// symbol index table, not a real member
		case strings.HasPrefix(name, "/"):
			if idx, err := strconv.Atoi(strings.TrimSpace(name[1:])); err == nil && idx >= 0 && idx < len(longNames) {
				end := bytes.IndexByte(longNames[idx:], '\n')
				if end < 0 {
					end = len(longNames) - idx
				}
				name = strings.TrimRight(string(longNames[idx:idx+end]), "/")
			}
			members[name] = FileRange{Offset: bodyOff, Size: size}
		default:
			name = strings.TrimSuffix(name, "/")
			members[name] = FileRange{Offset: bodyOff, Size: size}
		}

		next := bodyOff + size
		if size%2 == 1 {
			next++ // members are 2-byte aligned
		}
		off = next
	}

	return members, nil
}

// subResolver answers lookups against one archive member (or a whole
// plain object): a symbol -> address map plus a private DWARF context.
type subResolver struct {
	addrs map[string]uint64
	dwarf *FrameResolver
}

// ExternalFileResolver represents one OSO-referenced file that may also be
// an archive. Construction attempts an ar(1) parse; failure degrades to
// treating the whole file as a single unnamed member.
type ExternalFileResolver struct {
	contents FileContents

	mu      sync.Mutex
	members map[string]FileRange // "" key => whole file, when not an archive
	subs    map[string]*subResolver

	mapper PathMapper // shared across every sub-resolver
}

// NewExternalFileResolver parses contents as an ar archive (or, on
// failure, wraps it as a single member keyed by the empty string).
func NewExternalFileResolver(contents FileContents, mapper PathMapper) *ExternalFileResolver {
	r := &ExternalFileResolver{
		contents: contents,
		subs:     make(map[string]*subResolver),
		mapper:   mapper,
	}

	whole := make([]byte, contents.Len())
	if _, err := contents.ReadAt(whole, 0); err == nil {
		if members, err := parseArchive(whole); err == nil {
			r.members = members
			return r
		}
	}
	r.members = map[string]FileRange{"": {Offset: 0, Size: contents.Len()}}
	return r
}

// LookupAddress resolves ref's symbol (plus byte offset) to an absolute
// SVMA inside the referenced member, or ok=false if the member, symbol,
// or DWARF context cannot be found. Failure never raises; the caller's
// SymbolMap remains usable either way.
func (r *ExternalFileResolver) LookupAddress(ref ExternalFileAddressRef, buildSub func(memberBytes []byte) (*subResolver, error)) (uint64, *FrameResolver, bool) {
	key := ref.memberKey()

	r.mu.Lock()
	sub, ok := r.subs[key]
	r.mu.Unlock()

	if !ok {
		rng, present := r.members[key]
		if !present {
			return 0, nil, false
		}
		memberBytes := make([]byte, rng.Size)
		if _, err := r.contents.ReadAt(memberBytes, int64(rng.Offset)); err != nil {
			return 0, nil, false
		}
		built, err := buildSub(memberBytes)
		if err != nil || built == nil {
			return 0, nil, false
		}

		r.mu.Lock()
		r.subs[key] = built
		r.mu.Unlock()
		sub = built
	}

	addr, ok := sub.addrs[ref.symbolName()]
	if !ok {
		return 0, nil, false
	}
	return addr + ref.offset(), sub.dwarf, true
}

// buildSubResolverFromSymtab is the default buildSub: it expects the
// caller to supply a name->address symbol map already extracted from the
// member's own symbol table (the macho package's NewFile + Symtab) plus a
// DWARF context opened over the same member bytes.
func buildSubResolverFromSymtab(addrs map[string]uint64, dwarfData *dwarf.Data, mapper PathMapper) *subResolver {
	return &subResolver{addrs: addrs, dwarf: NewFrameResolver(dwarfData, mapper)}
}
