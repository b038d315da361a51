package etw

// LibInfo names a mapped library: its debug id, path, and the category
// heuristically assigned to addresses inside it.
type LibInfo struct {
	Handle   LibHandle
	Path     string
	DebugId  string
	Category CategoryHandle
}

// LibMappingOp is one timestamped change to a process's address space: an
// Add establishes [startAvma, endAvma) as mapped to Lib starting at
// RelativeAtStart, a Remove tears the most recent mapping at startAvma
// down. Together, a process's ordered op list defines a piecewise mapping
// from AVMA at time T to (lib, relative address, category).
type LibMappingOp struct {
	Timestamp  Timestamp
	Remove     bool
	StartAvma  uint64
	EndAvma    uint64
	RelativeAtStart uint32
	Info       LibInfo
}

// PendingStack is a sample awaiting its kernel and/or user stack frames.
// A kernel stack is optional; the pending stack is emitted when a user
// stack at or after its timestamp arrives, with OnCPUCPUDelta (when
// HasOnCPUDelta is set) whether or not a kernel stack was attached.
type PendingStack struct {
	Timestamp    Timestamp
	KernelStack  []Frame
	HasKernel    bool
	OffCPUGroup  *OffCPUGroup
	OnCPUCPUDelta uint64
	HasOnCPUDelta bool
}

// OffCPUGroup batches the samples synthesized to account for a period
// during which a thread was not scheduled: Count samples spanning
// [Begin, End), carrying LeftoverCPUDelta at the begin timestamp.
type OffCPUGroup struct {
	Begin            Timestamp
	End              Timestamp
	Count            int
	LeftoverCPUDelta uint64
}

// PendingMarker records a started-but-not-yet-closed Interval marker
// awaiting its IntervalEnd counterpart.
type PendingMarker struct {
	StartTimestamp Timestamp
	Text           string
}

// ThreadState tracks one live thread's identity and in-flight accounting.
type ThreadState struct {
	Handle ThreadHandle
	Name   string

	LabelFrame ResolvedFrame

	PendingStacks []PendingStack

	// Context-switch accounting: the timestamp the thread last went
	// off-CPU, and the CPU time accumulated since it last went on-CPU.
	LastSwitchOut   Timestamp
	HasLastSwitchOut bool
	AccumulatedCPUDelta uint64

	PendingMarkers map[string]PendingMarker

	EndTimestamp    Timestamp
	HasEndTimestamp bool
}

// NewThreadState returns a freshly-registered thread.
func NewThreadState(handle ThreadHandle, name string) *ThreadState {
	return &ThreadState{Handle: handle, Name: name, PendingMarkers: make(map[string]PendingMarker)}
}

// UnresolvedSample is a fully-timestamped, fully-stacked sample awaiting
// address resolution at finalization: the raw, unresolved kernel ++ user
// stack plus its weight and CPU delta.
type UnresolvedSample struct {
	Thread    ThreadHandle
	Timestamp Timestamp
	Stack     []Frame
	Weight    int
	CPUDelta  uint64
}

// ProcessState tracks one live (or recently-dead) process.
type ProcessState struct {
	Handle   ProcessHandle
	Name     string
	PID      uint32

	MainThread *ThreadState
	SeenMainThreadStart bool
	Threads    map[uint32]*ThreadState // keyed by TID

	UnresolvedSamples []UnresolvedSample

	RegularLibMappingOps []LibMappingOp
	JitLibMappingOps     []LibMappingOp

	MemoryCounterBytes int64
	HasMemoryCounter   bool

	ThreadRecycler *ThreadRecycler
	JitRecycler    *JitFunctionRecycler

	StartTimestamp Timestamp
	EndTimestamp   Timestamp
	HasEndTimestamp bool
}

// NewProcessState returns a freshly-registered process.
func NewProcessState(handle ProcessHandle, pid uint32, name string, startTimestamp Timestamp) *ProcessState {
	return &ProcessState{
		Handle:         handle,
		Name:           name,
		PID:            pid,
		Threads:        make(map[uint32]*ThreadState),
		StartTimestamp: startTimestamp,
	}
}
