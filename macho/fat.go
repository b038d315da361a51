package macho

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/tracebeam/profilecore/macho/types"
)

const fatMagic32 = 0xcafebabe

// FatArchHeader mirrors the on-disk fat_arch record.
type FatArchHeader struct {
	CPU    types.CPU
	SubCPU types.CPUSubtype
	Offset uint32
	Size   uint32
	Align  uint32
}

// FatArch is one architecture slice of a fat (universal) Mach-O binary: its
// CPU selector, its byte range within the containing file, and the parsed
// Mach-O file scoped to that range.
type FatArch struct {
	FatArchHeader
	*File
}

// FatFile is a Mach-O universal binary holding one or more architecture
// slices, each independently parseable as a plain Mach-O file.
type FatFile struct {
	Magic  types.Magic
	Arches []FatArch

	closer io.Closer
}

// NewFatFile parses r as a fat Mach-O and recursively opens each contained
// architecture slice as a plain Mach-O File scoped to its byte range within r.
func NewFatFile(r io.ReaderAt) (*FatFile, error) {
	var ff FatFile
	sr := io.NewSectionReader(r, 0, 1<<63-1)

	var magic uint32
	if err := binary.Read(sr, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("reading fat header magic: %v", err)
	}
	if magic != fatMagic32 {
		return nil, &FormatError{off: 0, msg: "not a fat Mach-O (bad magic)"}
	}
	ff.Magic = types.Magic(magic)

	var nArch uint32
	if err := binary.Read(sr, binary.BigEndian, &nArch); err != nil {
		return nil, fmt.Errorf("reading fat_header nfat_arch: %v", err)
	}
	if nArch == 0 {
		return nil, &FormatError{off: 4, msg: "fat binary declares zero architectures"}
	}
	if nArch > 1<<10 {
		return nil, &FormatError{off: 4, msg: "implausible fat_header nfat_arch"}
	}

	ff.Arches = make([]FatArch, nArch)
	for i := uint32(0); i < nArch; i++ {
		var fah FatArchHeader
		if err := binary.Read(sr, binary.BigEndian, &fah); err != nil {
			return nil, fmt.Errorf("reading fat_arch[%d]: %v", i, err)
		}

		fr := io.NewSectionReader(r, int64(fah.Offset), int64(fah.Size))
		f, err := NewFile(fr)
		if err != nil {
			return nil, fmt.Errorf("parsing fat_arch[%d] (cpu=%v) as Mach-O: %v", i, fah.CPU, err)
		}

		ff.Arches[i] = FatArch{FatArchHeader: fah, File: f}
	}

	return &ff, nil
}

// OpenFat opens the named file and parses it as a fat Mach-O binary.
func OpenFat(name string) (*FatFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	ff, err := NewFatFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	ff.closer = f
	return ff, nil
}

// Close releases the underlying file handle, if OpenFat was used to create
// this FatFile.
func (ff *FatFile) Close() error {
	if ff.closer != nil {
		return ff.closer.Close()
	}
	return nil
}

// SelectByDebugId iterates every architecture slice, computes its DebugId
// via want, and returns the FatArch for which want reports ok. If no slice
// matches, every computed DebugId and every per-slice parse error is
// returned so the caller can build a NoMatchMultiArch error.
func (ff *FatFile) SelectByDebugId(want func(*File) (ok bool, id string, err error)) (*FatArch, []string, []error) {
	var foundIDs []string
	var errs []error

	for i := range ff.Arches {
		arch := &ff.Arches[i]
		ok, id, err := want(arch.File)
		if err != nil {
			errs = append(errs, fmt.Errorf("arch[%d] (cpu=%v): %v", i, arch.CPU, err))
			continue
		}
		foundIDs = append(foundIDs, id)
		if ok {
			return arch, foundIDs, errs
		}
	}
	return nil, foundIDs, errs
}
