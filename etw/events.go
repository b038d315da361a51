package etw

// Event is the decoded union of every ETW record this builder consumes.
// Exactly one of the typed fields is meaningful, selected by Kind.
type Event struct {
	Kind      EventKind
	Timestamp Timestamp

	Header        *HeaderEvent
	ProcessStart  *ProcessStartEvent
	ProcessEnd    *ProcessEndEvent
	ThreadStart   *ThreadStartEvent
	ThreadEnd     *ThreadEndEvent
	Sample        *SampleEvent
	KernelStack   *KernelStackEvent
	UserStack     *UserStackEvent
	ImageLoad     *ImageLoadEvent
	JitMethodLoad *JitMethodLoadEvent
	ContextSwitch *ContextSwitchEvent
	VAlloc        *VAllocEvent
	VFree         *VFreeEvent
	FreeformMarker *FreeformMarkerEvent
	ChromeMarker   *ChromeMarkerEvent
	FirefoxMarker  *FirefoxMarkerEvent
}

type EventKind int

const (
	EventHeader EventKind = iota
	EventProcessStart
	EventProcessDCStart
	EventProcessEnd
	EventThreadStart
	EventThreadEnd
	EventSample
	EventKernelStack
	EventUserStack
	EventImageLoad
	EventJitMethodLoad
	EventContextSwitchOut
	EventContextSwitchIn
	EventVAlloc
	EventVFree
	EventFreeformMarker
	EventChromeMarker
	EventFirefoxMarker
)

// HeaderEvent sets the timestamp reference and conversion factor for
// every timestamp that follows.
type HeaderEvent struct {
	PerfFreqHz uint64
	FromQPC    bool
}

type ProcessStartEvent struct {
	PID  uint32
	Name string
	// DCStart marks this as a "data collection start" rediscovery of an
	// already-running process rather than a true fork/exec.
	DCStart bool
}

type ProcessEndEvent struct {
	PID uint32
}

type ThreadStartEvent struct {
	PID  uint32
	TID  uint32
	Name string
}

type ThreadEndEvent struct {
	PID uint32
	TID uint32
}

// SampleEvent is an on-CPU timer sample; its stack frames arrive later
// via KernelStackEvent/UserStackEvent at the same timestamp.
type SampleEvent struct {
	PID uint32
	TID uint32
}

type KernelStackEvent struct {
	TID    uint32
	Frames []Frame
}

type UserStackEvent struct {
	TID    uint32
	Frames []Frame
}

// ImageLoadEvent reports a library mapped into a process's (or the
// kernel's) address space.
type ImageLoadEvent struct {
	PID           uint32 // 0 for kernel-resident
	Path          string
	StartAvma     uint64
	Size          uint64
	Timestamp32   uint32 // PE header timestamp, for synthetic code ids
	Checksum      uint32
	SizeOfImage   uint32 // from the PE header, for the size/checksum match check
	MergedDebugId string
	MergedPdbPath string
}

// JitMethodLoadEvent reports one JIT-compiled method becoming available.
type JitMethodLoadEvent struct {
	PID       uint32
	TID       uint32
	Name      string
	SizeBytes uint32
	Kind      JitKind
}

type JitKind int

const (
	JitJS JitKind = iota
	JitCoreCLR
)

type ContextSwitchEvent struct {
	OldTID uint32
	NewTID uint32
	// Out is true for the half of the pair that describes the thread
	// going off-CPU (OldTID); false for the thread coming on (NewTID).
	Out bool
}

type VAllocEvent struct {
	PID    uint32
	Region int64
}

type VFreeEvent struct {
	PID    uint32
	Region int64
}

type FreeformMarkerEvent struct {
	PID, TID uint32
	Name     string
	Text     string
	Timing   MarkerTiming
	Key      string
}

type ChromeMarkerEvent struct {
	PID, TID uint32
	Name     string
	Text     string
	Timing   MarkerTiming
	Key      string
}

type FirefoxMarkerEvent struct {
	PID, TID  uint32
	Name      string
	Text      string
	Key       string
	HasStart  bool
	HasEnd    bool
	ExplicitTiming *MarkerTiming
}
