// Package symbolmap turns raw instruction-pointer addresses inside Mach-O
// binaries, fat archives, and dyld shared cache images into function names,
// inline-frame chains, and source locations. Construction (parsing load
// commands, building the address table, opening DWARF sections) happens
// once and is sequential; after that a SymbolMap is safe for concurrent
// lookups.
package symbolmap
