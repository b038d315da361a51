package etw

// ProcessHandle and ThreadHandle are opaque identifiers minted by the
// profile sink (add_process/add_thread) that the builder threads through
// every later reference to that entity. LibHandle and StackIndex follow
// the same pattern for libraries and interned stacks.
type ProcessHandle uint32
type ThreadHandle uint32
type LibHandle uint32
type StackIndex int32

// NoStack is the StackIndex used for a leaf-less (empty) stack.
const NoStack StackIndex = -1

// CategoryHandle identifies a sample/marker category registered with the
// sink via add_category.
type CategoryHandle uint32

// Timestamp is a raw, monotonically-nondecreasing (modulo the documented
// kernel/user-stack reordering) event timestamp in the stream's native
// units. The builder records a raw-to-nanosecond factor from the header
// event but hands timestamps to the sink in raw units.
type Timestamp uint64
