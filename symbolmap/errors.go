package symbolmap

import "fmt"

// MachOHeaderParseError signals a malformed Mach-O header or load command
// stream encountered while building a SymbolMap.
type MachOHeaderParseError struct {
	Err error
}

func (e *MachOHeaderParseError) Error() string { return fmt.Sprintf("mach-o header parse error: %v", e.Err) }
func (e *MachOHeaderParseError) Unwrap() error  { return e.Err }

// DyldCacheParseError signals a corrupt or incompatible dyld shared cache.
type DyldCacheParseError struct {
	Err error
}

func (e *DyldCacheParseError) Error() string { return fmt.Sprintf("dyld cache parse error: %v", e.Err) }
func (e *DyldCacheParseError) Unwrap() error  { return e.Err }

// NoMatchMultiArch signals that none of a fat binary's architecture slices
// carries the requested DebugId.
type NoMatchMultiArch struct {
	Want    DebugId
	FoundIDs []string
	Errs    []error
}

func (e *NoMatchMultiArch) Error() string {
	return fmt.Sprintf("no architecture slice matches debug id %s (found %v, %d parse errors)", e.Want, e.FoundIDs, len(e.Errs))
}

// NoMatchingDyldCacheImagePath signals that a requested image path is not
// present in the parsed dyld shared cache.
type NoMatchingDyldCacheImagePath struct {
	Path string
}

func (e *NoMatchingDyldCacheImagePath) Error() string {
	return fmt.Sprintf("image path %q not found in dyld shared cache", e.Path)
}

// FileNotInArchive signals a requested archive member that does not exist.
type FileNotInArchive struct {
	Name string
}

func (e *FileNotInArchive) Error() string { return fmt.Sprintf("archive member %q not found", e.Name) }

// HelperErrorDuringOpenFile wraps a failure from the external file-opening
// collaborator.
type HelperErrorDuringOpenFile struct {
	Path string
	Err  error
}

func (e *HelperErrorDuringOpenFile) Error() string {
	return fmt.Sprintf("opening %q: %v", e.Path, e.Err)
}
func (e *HelperErrorDuringOpenFile) Unwrap() error { return e.Err }

// InvalidInputError signals required metadata absent from an otherwise
// well-formed binary (e.g. no LC_UUID).
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string { return fmt.Sprintf("invalid input: %s", e.Reason) }
