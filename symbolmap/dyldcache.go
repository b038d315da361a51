package symbolmap

import (
	"context"
	"fmt"
)

// SubcacheKind distinguishes a dyld shared cache's numbered image
// subcaches from its trailing, optional .symbols subcache.
type SubcacheKind int

const (
	SubcacheNumeric SubcacheKind = iota
	SubcacheSymbols
)

// Subcache names one file belonging to a dyld shared cache split across
// multiple files: the root cache plus zero or more ".<n>"/".<nn>" numeric
// subcaches, optionally followed by a ".symbols" subcache.
type Subcache struct {
	Kind     SubcacheKind
	Location FileLocation
}

// DiscoverSubcaches probes for the subcache files belonging to a dyld
// shared cache rooted at basePath. Starting from index 1, it probes
// "<base>.<i>" then (for i<10) "<base>.<0i>" as an alternate single-digit
// spelling, stopping on the first miss; it then optionally probes
// "<base>.symbols". Helper.OpenFile failures other than "file does not
// exist" abort discovery with the underlying error.
func DiscoverSubcaches(ctx context.Context, h Helper, basePath string, exists func(error) bool) ([]Subcache, error) {
	var found []Subcache

	for i := 1; ; i++ {
		loc := FileLocation{Path: fmt.Sprintf("%s.%d", basePath, i)}
		_, err := h.OpenFile(ctx, loc)
		if err == nil {
			found = append(found, Subcache{Kind: SubcacheNumeric, Location: loc})
			continue
		}
		if exists != nil && !exists(err) {
			return found, &HelperErrorDuringOpenFile{Path: loc.Path, Err: err}
		}

		// Retry the two-digit spelling some toolchains emit for i<10
		// (e.g. ".01" alongside ".1") before concluding the numeric
		// sequence has ended.
		if i < 10 {
			alt := FileLocation{Path: fmt.Sprintf("%s.%02d", basePath, i)}
			if _, err := h.OpenFile(ctx, alt); err == nil {
				found = append(found, Subcache{Kind: SubcacheNumeric, Location: alt})
				continue
			}
		}
		break
	}

	symLoc := FileLocation{Path: basePath + ".symbols"}
	if _, err := h.OpenFile(ctx, symLoc); err == nil {
		found = append(found, Subcache{Kind: SubcacheSymbols, Location: symLoc})
	}

	return found, nil
}
