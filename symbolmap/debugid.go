package symbolmap

import (
	"fmt"

	"github.com/google/uuid"
)

// DebugId identifies one build of one binary: the LC_UUID (or a
// synthesized equivalent) plus an age counter that distinguishes rebuilds
// sharing the same UUID (e.g. successive dyld cache generations).
type DebugId struct {
	UUID uuid.UUID
	Age  uint32
}

func (d DebugId) String() string {
	return fmt.Sprintf("%s-%x", d.UUID.String(), d.Age)
}

// DebugIdFromBytes builds a DebugId from a raw 16-byte Mach-O UUID load
// command payload and an age (0 for plain Mach-O; dyld cache images may
// carry a generation counter here).
func DebugIdFromBytes(raw [16]byte, age uint32) DebugId {
	return DebugId{UUID: uuid.UUID(raw), Age: age}
}

func (d DebugId) Equal(other DebugId) bool {
	return d.UUID == other.UUID && d.Age == other.Age
}
