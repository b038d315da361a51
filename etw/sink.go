package etw

// ProfileSink is the opaque external profile builder collaborator: the
// concrete on-disk profile format, string interning table, and category
// registry all live behind this interface. The builder treats every
// returned handle as opaque and never inspects it.
type ProfileSink interface {
	AddProcess(name string, pid uint32, startTimestamp Timestamp) ProcessHandle
	AddThread(proc ProcessHandle, name string, tid uint32) ThreadHandle
	AddLib(path, debugId string) LibHandle
	AddKernelLibMapping(op LibMappingOp)
	AddCounter(proc ProcessHandle, name string) uint32
	AddCounterSample(counter uint32, timestamp Timestamp, value int64)
	AddMarker(m Marker)
	SetInterval(startTimestamp, endTimestamp Timestamp)
	SetProcessEndTime(proc ProcessHandle, t Timestamp)
	SetThreadEndTime(thread ThreadHandle, t Timestamp)
	InternString(s string) uint32
	AddCategory(name string) CategoryHandle

	// AddSample records one fully-resolved sample: its thread, timestamp,
	// interned leaf stack index, weight, and CPU delta.
	AddSample(thread ThreadHandle, timestamp Timestamp, stack StackIndex, weight int, cpuDelta uint64)
}
