package symbolmap

import (
	"context"
	"fmt"
	"io"
)

// FileRange is a window (offset, size) into a contents blob. Ranges
// compose: a fat-archive slice is a FileRange into the whole file, and an
// archive member is a FileRange into that slice.
type FileRange struct {
	Offset uint64
	Size   uint64
}

// End returns the exclusive end offset of the range.
func (r FileRange) End() uint64 { return r.Offset + r.Size }

// Contains reports whether the half-open byte range [off, off+n) lies
// entirely within r.
func (r FileRange) Contains(off, n uint64) bool {
	if n == 0 {
		return off >= r.Offset && off <= r.End()
	}
	end := off + n
	return off >= r.Offset && end <= r.End() && end >= off
}

// FileContents is the random-access byte source a Helper hands back: a
// memory-mapped file, an HTTP range-read cache, or a plain in-memory
// buffer, type-erased behind io.ReaderAt plus a total length query.
type FileContents interface {
	io.ReaderAt
	Len() uint64
}

// View is a zero-copy ranged window over a FileContents blob. The engine
// never mutates bytes reached through a View; it only narrows or composes
// ranges.
type View struct {
	contents FileContents
	win      FileRange
}

// NewView wraps the whole of contents in a View spanning its full length.
func NewView(contents FileContents) View {
	return View{contents: contents, win: FileRange{0, contents.Len()}}
}

// Range derives a sub-View covering [start, start+size) of v's own window.
// The total size is preserved: a request reaching past v's bounds is a
// parse error rather than a silent truncation.
func (v View) Range(start, size uint64) (View, error) {
	if !v.win.Contains(v.win.Offset+start, size) {
		return View{}, &MachOHeaderParseError{Err: fmt.Errorf("range [%d,%d) exceeds view of size %d", start, start+size, v.win.Size)}
	}
	return View{contents: v.contents, win: FileRange{v.win.Offset + start, size}}, nil
}

// ReadBytesAt reads len bytes at offset off within v's window.
func (v View) ReadBytesAt(off, length uint64) ([]byte, error) {
	if !v.win.Contains(v.win.Offset+off, length) {
		return nil, &MachOHeaderParseError{Err: fmt.Errorf("read [%d,%d) exceeds view of size %d", off, off+length, v.win.Size)}
	}
	buf := make([]byte, length)
	if _, err := v.contents.ReadAt(buf, int64(v.win.Offset+off)); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// Size returns the window's length in bytes.
func (v View) Size() uint64 { return v.win.Size }

// Reader returns an io.SectionReader scoped to v's window, suitable for
// handing to the macho package's NewFile.
func (v View) Reader() *io.SectionReader {
	return io.NewSectionReader(v.contents, int64(v.win.Offset), int64(v.win.Size))
}

// FileLocation names a file the Helper should open: either a filesystem
// path, or an opaque identifier the Helper resolves on its own (e.g. a
// dyld-cache subcache key, a symbol-server URL).
type FileLocation struct {
	Path string
	// Opaque carries any helper-specific identifier that is not a plain
	// filesystem path (e.g. a pre-resolved symbol-server handle).
	Opaque string
}

func (l FileLocation) String() string {
	if l.Opaque != "" {
		return l.Opaque
	}
	return l.Path
}

// Helper is the external collaborator that turns a FileLocation into
// FileContents. Symbol-server retrieval, download caching, and filesystem
// access all live behind this single asynchronous, fallible contract.
type Helper interface {
	OpenFile(ctx context.Context, loc FileLocation) (FileContents, error)
}
