package etw

import (
	"fmt"
	"log"
)

// Config tunes builder behavior that a caller would otherwise have to
// special-case per invocation.
type Config struct {
	MainThreadOnly bool
	Recycle        bool
	Is32Bit        bool

	// SampleIntervalTicks is the profiler's configured sampling period, in
	// the same raw timestamp units as events. It sizes off-CPU sample
	// groups: a scheduling gap of N intervals synthesizes N samples
	// (spec §4.7's sample-group count). Zero disables the synthesis of
	// the trailing "N-1 weight" sample and treats every gap as a single
	// sample.
	SampleIntervalTicks uint64
}

// Builder consumes an ordered event stream and drives ProfileSink. It
// holds no mutex: per the concurrency model, it is single-threaded and
// cooperative in event order.
type Builder struct {
	sink   ProfileSink
	cfg    Config
	class  AddressClassifier
	stacks *StackTable
	pairer *markerPairer

	rawToNsFactor float64
	fromQPC       bool

	processes          map[uint32]*ProcessState // live, keyed by PID
	deadWithReusedPIDs []*ProcessState

	kernelMappingOps []LibMappingOp

	processRecycler *ProcessRecycler

	jitLibs map[JitKind]*jitLibState
}

type jitLibState struct {
	handle  LibHandle
	methods []jitMethod
	sealed  bool
}

type jitMethod struct {
	name            string
	relativeAddress uint32
	size            uint32
}

// NewBuilder constructs a Builder over sink.
func NewBuilder(sink ProfileSink, cfg Config) *Builder {
	b := &Builder{
		sink:      sink,
		cfg:       cfg,
		class:     NewAddressClassifier(cfg.Is32Bit),
		stacks:    NewStackTable(),
		pairer:    newMarkerPairer(),
		processes: make(map[uint32]*ProcessState),
		jitLibs:   make(map[JitKind]*jitLibState),
	}
	if cfg.Recycle {
		b.processRecycler = NewProcessRecycler()
	}
	return b
}

// HandleEvent dispatches one decoded event to its handler.
func (b *Builder) HandleEvent(e Event) error {
	switch e.Kind {
	case EventHeader:
		b.handleHeader(e.Header)
	case EventProcessStart, EventProcessDCStart:
		b.handleProcessStart(e.Timestamp, e.ProcessStart)
	case EventProcessEnd:
		b.handleProcessEnd(e.Timestamp, e.ProcessEnd)
	case EventThreadStart:
		b.handleThreadStart(e.ThreadStart)
	case EventThreadEnd:
		b.handleThreadEnd(e.Timestamp, e.ThreadEnd)
	case EventSample:
		b.handleSample(e.Timestamp, e.Sample)
	case EventKernelStack:
		b.handleKernelStack(e.Timestamp, e.KernelStack)
	case EventUserStack:
		b.handleUserStack(e.Timestamp, e.UserStack)
	case EventImageLoad:
		b.handleImageLoad(e.Timestamp, e.ImageLoad)
	case EventJitMethodLoad:
		b.handleJitMethodLoad(e.Timestamp, e.JitMethodLoad)
	case EventContextSwitchOut, EventContextSwitchIn:
		b.handleContextSwitch(e.Timestamp, e.ContextSwitch)
	case EventVAlloc:
		b.handleVAlloc(e.VAlloc, 1)
	case EventVFree:
		b.handleVAlloc((*VAllocEvent)(e.VFree), -1)
	case EventFreeformMarker:
		b.handleFreeformMarker(e.Timestamp, e.FreeformMarker)
	case EventChromeMarker:
		b.handleChromeMarker(e.Timestamp, e.ChromeMarker)
	case EventFirefoxMarker:
		b.handleFirefoxMarker(e.Timestamp, e.FirefoxMarker)
	default:
		return fmt.Errorf("unhandled event kind %d", e.Kind)
	}
	return nil
}

func (b *Builder) handleHeader(h *HeaderEvent) {
	if h.PerfFreqHz == 0 {
		b.rawToNsFactor = 1
	} else {
		b.rawToNsFactor = 1e9 / float64(h.PerfFreqHz)
	}
	b.fromQPC = h.FromQPC
}

func (b *Builder) handleProcessStart(ts Timestamp, e *ProcessStartEvent) {
	if old, ok := b.processes[e.PID]; ok {
		old.HasEndTimestamp = true
		old.EndTimestamp = ts
		b.deadWithReusedPIDs = append(b.deadWithReusedPIDs, old)
		delete(b.processes, e.PID)
	}

	var proc *ProcessState
	if b.cfg.Recycle && b.processRecycler != nil {
		if bundle, ok := b.processRecycler.Take(e.Name); ok {
			proc = NewProcessState(bundle.Handle, e.PID, e.Name, ts)
			proc.MainThread = bundle.MainThread
			proc.SeenMainThreadStart = false
			proc.ThreadRecycler = bundle.ThreadRecycler
			proc.JitRecycler = bundle.JitRecycler
		}
	}
	if proc == nil {
		handle := b.sink.AddProcess(e.Name, e.PID, ts)
		proc = NewProcessState(handle, e.PID, e.Name, ts)
		if b.cfg.Recycle {
			proc.ThreadRecycler = NewThreadRecycler()
			proc.JitRecycler = NewJitFunctionRecycler()
		}
	}

	b.processes[e.PID] = proc
}

func (b *Builder) handleProcessEnd(ts Timestamp, e *ProcessEndEvent) {
	proc, ok := b.processes[e.PID]
	if !ok {
		return
	}
	proc.HasEndTimestamp = true
	proc.EndTimestamp = ts
	b.sink.SetProcessEndTime(proc.Handle, ts)

	if b.cfg.Recycle && b.processRecycler != nil {
		b.processRecycler.Put(proc.Name, ProcessRecycleBundle{
			Handle:         proc.Handle,
			MainThread:     proc.MainThread,
			ThreadRecycler: proc.ThreadRecycler,
			JitRecycler:    proc.JitRecycler,
		})
		if proc.JitRecycler != nil {
			proc.JitRecycler.FinishRound()
		}
	}
}

func (b *Builder) handleThreadStart(e *ThreadStartEvent) {
	proc, ok := b.processes[e.PID]
	if !ok {
		return
	}

	if !proc.SeenMainThreadStart {
		proc.SeenMainThreadStart = true
		if proc.MainThread == nil {
			proc.MainThread = b.newThread(proc, e.TID, e.Name)
		} else {
			proc.MainThread.Name = e.Name
		}
		proc.Threads[e.TID] = proc.MainThread
		return
	}

	if b.cfg.MainThreadOnly {
		return
	}

	proc.Threads[e.TID] = b.newThread(proc, e.TID, e.Name)
}

func (b *Builder) newThread(proc *ProcessState, tid uint32, name string) *ThreadState {
	if proc.ThreadRecycler != nil {
		if bundle, ok := proc.ThreadRecycler.Take(name); ok {
			ts := NewThreadState(bundle.Handle, name)
			ts.LabelFrame = bundle.LabelFrame
			return ts
		}
	}
	handle := b.sink.AddThread(proc.Handle, name, tid)
	return NewThreadState(handle, name)
}

func (b *Builder) handleThreadEnd(ts Timestamp, e *ThreadEndEvent) {
	proc, ok := b.processes[e.PID]
	if !ok {
		return
	}
	th, ok := proc.Threads[e.TID]
	if !ok {
		return
	}
	th.HasEndTimestamp = true
	th.EndTimestamp = ts
	b.sink.SetThreadEndTime(th.Handle, ts)

	if proc.ThreadRecycler != nil {
		proc.ThreadRecycler.Put(th.Name, ThreadHandleBundle{Handle: th.Handle, LabelFrame: th.LabelFrame})
	}
	delete(proc.Threads, e.TID)
}

// handleSample enqueues a pending stack for an on-CPU timer sample,
// computing an off-CPU group first if this sample follows a scheduling
// gap, and consuming the CPU delta accumulated since the thread last went
// on-CPU.
func (b *Builder) handleSample(ts Timestamp, e *SampleEvent) {
	proc, ok := b.processes[e.PID]
	if !ok {
		return
	}
	th, ok := proc.Threads[e.TID]
	if !ok {
		return
	}

	var group *OffCPUGroup
	if th.HasLastSwitchOut {
		group = &OffCPUGroup{Begin: th.LastSwitchOut, End: ts, Count: 1, LeftoverCPUDelta: th.AccumulatedCPUDelta}
		th.HasLastSwitchOut = false
		th.AccumulatedCPUDelta = 0
	}

	delta := th.AccumulatedCPUDelta
	th.AccumulatedCPUDelta = 0

	th.PendingStacks = append(th.PendingStacks, PendingStack{
		Timestamp:     ts,
		OffCPUGroup:   group,
		OnCPUCPUDelta: delta,
		HasOnCPUDelta: true,
	})
}

// handleKernelStack matches by exact-timestamp reverse search; multiple
// kernel stacks at the same timestamp are concatenated with a warning
// rather than treated as an error.
func (b *Builder) handleKernelStack(ts Timestamp, e *KernelStackEvent) {
	proc := b.processOwningTID(e.TID)
	if proc == nil {
		return
	}
	th := proc.Threads[e.TID]
	if th == nil {
		return
	}
	for i := len(th.PendingStacks) - 1; i >= 0; i-- {
		if th.PendingStacks[i].Timestamp == ts {
			if th.PendingStacks[i].HasKernel {
				log.Printf("etw: multiple kernel stacks at timestamp %d for tid %d, concatenating", ts, e.TID)
				th.PendingStacks[i].KernelStack = append(th.PendingStacks[i].KernelStack, e.Frames...)
			} else {
				th.PendingStacks[i].KernelStack = e.Frames
				th.PendingStacks[i].HasKernel = true
			}
			return
		}
	}
}

// handleUserStack drains every pending stack with timestamp <= ts, in
// order, emitting samples per the spec's off-cpu/on-cpu accounting rules.
func (b *Builder) handleUserStack(ts Timestamp, e *UserStackEvent) {
	proc := b.processOwningTID(e.TID)
	if proc == nil {
		return
	}
	th := proc.Threads[e.TID]
	if th == nil {
		return
	}

	var remaining []PendingStack
	for _, ps := range th.PendingStacks {
		if ps.Timestamp > ts {
			remaining = append(remaining, ps)
			continue
		}
		b.drainPendingStack(proc, th, ps, e.Frames)
	}
	th.PendingStacks = remaining
}

func (b *Builder) drainPendingStack(proc *ProcessState, th *ThreadState, ps PendingStack, userFrames []Frame) {
	if ps.OffCPUGroup != nil {
		g := ps.OffCPUGroup
		b.emitUnresolved(proc, th, g.Begin, userFrames, ps.KernelStack, 1, g.LeftoverCPUDelta)
		if g.Count > 1 {
			b.emitUnresolved(proc, th, g.End, userFrames, ps.KernelStack, g.Count-1, 0)
		}
	}
	if ps.HasOnCPUDelta {
		b.emitUnresolved(proc, th, ps.Timestamp, userFrames, ps.KernelStack, 1, ps.OnCPUCPUDelta)
	}
}

// emitUnresolved appends a raw, unresolved sample to the process's queue.
// Kernel and user stacks of the same sample always merge kernel-before-
// user; the caller's weight/delta accounting has already decided how
// many logical samples this raw stack represents.
func (b *Builder) emitUnresolved(proc *ProcessState, th *ThreadState, ts Timestamp, userFrames, kernelFrames []Frame, weight int, cpuDelta uint64) {
	stack := append(append([]Frame(nil), kernelFrames...), userFrames...)
	proc.UnresolvedSamples = append(proc.UnresolvedSamples, UnresolvedSample{
		Thread:    th.Handle,
		Timestamp: ts,
		Stack:     stack,
		Weight:    weight,
		CPUDelta:  cpuDelta,
	})
}

func (b *Builder) processOwningTID(tid uint32) *ProcessState {
	for _, p := range b.processes {
		if _, ok := p.Threads[tid]; ok {
			return p
		}
	}
	return nil
}

// handleImageLoad records a library mapping. Kernel-resident libraries
// (pid 0, or a start address classified as kernel) go to the shared
// kernel mapping; otherwise the op is appended to the owning process's
// ordered regular mapping list.
func (b *Builder) handleImageLoad(ts Timestamp, e *ImageLoadEvent) {
	debugId, category := b.resolveImageMetadata(e)

	info := LibInfo{Path: e.Path, DebugId: debugId, Category: category}
	info.Handle = b.sink.AddLib(e.Path, debugId)

	op := LibMappingOp{
		Timestamp: ts,
		StartAvma: e.StartAvma,
		EndAvma:   e.StartAvma + e.Size,
		Info:      info,
	}

	if e.PID == 0 || b.class.Classify(e.StartAvma) == DomainKernel {
		b.kernelMappingOps = append(b.kernelMappingOps, op)
		b.sink.AddKernelLibMapping(op)
		return
	}

	proc, ok := b.processes[e.PID]
	if !ok {
		return
	}
	proc.RegularLibMappingOps = append(proc.RegularLibMappingOps, op)
}

// resolveImageMetadata prefers a merged-ETL side channel's debug id, then
// the PE header if size/checksum match, then a zeroed default with a
// synthesized code id derived from the ETW timestamp (see REDESIGN FLAGS
// open question 3).
func (b *Builder) resolveImageMetadata(e *ImageLoadEvent) (debugId string, category CategoryHandle) {
	if e.MergedDebugId != "" {
		return e.MergedDebugId, b.categorize(e.Path)
	}
	if e.SizeOfImage != 0 && uint64(e.SizeOfImage) == e.Size {
		return fmt.Sprintf("pe:%08x%08x", e.Checksum, e.SizeOfImage), b.categorize(e.Path)
	}
	if e.Timestamp32 != 0 {
		return fmt.Sprintf("pe-synthetic:%08x0", e.Timestamp32), b.categorize(e.Path)
	}
	return "", b.categorize(e.Path)
}

func (b *Builder) categorize(path string) CategoryHandle {
	switch {
	case hasSuffixFold(path, ".ni.pdb"):
		return b.sink.AddCategory("CoreCLR R2R")
	case isWindowsSystemPath(path):
		return b.sink.AddCategory("System")
	default:
		return b.sink.AddCategory("Other")
	}
}

func hasSuffixFold(s, suffix string) bool {
	if len(s) < len(suffix) {
		return false
	}
	tail := s[len(s)-len(suffix):]
	for i := range tail {
		a, c := tail[i], suffix[i]
		if a >= 'A' && a <= 'Z' {
			a += 'a' - 'A'
		}
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if a != c {
			return false
		}
	}
	return true
}

func isWindowsSystemPath(path string) bool {
	lower := []byte(path)
	for i := range lower {
		if lower[i] >= 'A' && lower[i] <= 'Z' {
			lower[i] += 'a' - 'A'
		}
	}
	s := string(lower)
	return contains(s, `\windows\system32`) || contains(s, `\windows\syswow64`)
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// handleJitMethodLoad appends a synthetic function to the per-kind JIT
// library, obtains a relative address (reusing one from the JIT recycler
// if this process has one and the name was seen before), and pushes an
// add-op on the process's jit mapping list. A marker records the load.
func (b *Builder) handleJitMethodLoad(ts Timestamp, e *JitMethodLoadEvent) {
	proc, ok := b.processes[e.PID]
	if !ok {
		return
	}

	lib := b.jitLibs[e.Kind]
	if lib == nil {
		name := "jit-js"
		if e.Kind == JitCoreCLR {
			name = "jit-coreclr"
		}
		lib = &jitLibState{handle: b.sink.AddLib(name, "")}
		b.jitLibs[e.Kind] = lib
	}

	var relAddr uint32
	if proc.JitRecycler != nil {
		relAddr = proc.JitRecycler.RelativeAddressFor(e.Name, e.SizeBytes)
	} else {
		for _, m := range lib.methods {
			relAddr += m.size
		}
	}
	lib.methods = append(lib.methods, jitMethod{name: e.Name, relativeAddress: relAddr, size: e.SizeBytes})

	op := LibMappingOp{
		Timestamp:       ts,
		RelativeAtStart: relAddr,
		Info:            LibInfo{Handle: lib.handle, Path: e.Name},
	}
	proc.JitLibMappingOps = append(proc.JitLibMappingOps, op)

	if proc.MainThread != nil {
		b.sink.AddMarker(Marker{
			Thread: proc.MainThread.Handle,
			Name:   "JitFunctionAdd",
			Text:   e.Name,
			Timing: Instant,
			Start:  ts,
			Source: MarkerFreeform,
		})
	}
}

func (b *Builder) handleContextSwitch(ts Timestamp, e *ContextSwitchEvent) {
	if e.Out {
		proc := b.processOwningTID(e.OldTID)
		if proc == nil {
			return
		}
		th := proc.Threads[e.OldTID]
		if th == nil {
			return
		}
		th.LastSwitchOut = ts
		th.HasLastSwitchOut = true
		return
	}

	proc := b.processOwningTID(e.NewTID)
	if proc == nil {
		return
	}
	th := proc.Threads[e.NewTID]
	if th == nil {
		return
	}
	if th.HasLastSwitchOut {
		th.PendingStacks = append(th.PendingStacks, PendingStack{
			Timestamp:   ts,
			OffCPUGroup: &OffCPUGroup{Begin: th.LastSwitchOut, End: ts, Count: b.offCPUSampleCount(th.LastSwitchOut, ts)},
		})
		th.HasLastSwitchOut = false
	}
}

// offCPUSampleCount estimates how many on-CPU samples the scheduling gap
// [begin, end) would have produced had the thread stayed runnable, so the
// gap can be represented as that many synthesized samples (one at begin
// carrying leftover CPU delta, the rest batched at end with zero delta).
func (b *Builder) offCPUSampleCount(begin, end Timestamp) int {
	if b.cfg.SampleIntervalTicks == 0 || end <= begin {
		return 1
	}
	n := int(uint64(end-begin) / b.cfg.SampleIntervalTicks)
	if n < 1 {
		n = 1
	}
	return n
}

func (b *Builder) handleVAlloc(e *VAllocEvent, sign int64) {
	proc, ok := b.processes[e.PID]
	if !ok {
		return
	}
	proc.HasMemoryCounter = true
	proc.MemoryCounterBytes += sign * e.Region
}

func (b *Builder) handleFreeformMarker(ts Timestamp, e *FreeformMarkerEvent) {
	proc, ok := b.processes[e.PID]
	if !ok {
		return
	}
	th, ok := proc.Threads[e.TID]
	if !ok {
		return
	}
	b.emitPairedMarker(th.Handle, e.Key, Marker{
		Thread: th.Handle, Name: e.Name, Text: e.Text, Timing: e.Timing, Start: ts, Source: MarkerFreeform,
	})
}

func (b *Builder) handleChromeMarker(ts Timestamp, e *ChromeMarkerEvent) {
	proc, ok := b.processes[e.PID]
	if !ok {
		return
	}
	th, ok := proc.Threads[e.TID]
	if !ok {
		return
	}
	b.emitPairedMarker(th.Handle, e.Key, Marker{
		Thread: th.Handle, Name: e.Name, Text: e.Text, Timing: e.Timing, Start: ts, Source: MarkerChrome,
	})
}

func (b *Builder) handleFirefoxMarker(ts Timestamp, e *FirefoxMarkerEvent) {
	proc, ok := b.processes[e.PID]
	if !ok {
		return
	}
	th, ok := proc.Threads[e.TID]
	if !ok {
		return
	}
	timing := resolveFirefoxPhase(e.HasStart, e.HasEnd)
	if e.ExplicitTiming != nil {
		timing = *e.ExplicitTiming
	}
	m := Marker{Thread: th.Handle, Name: e.Name, Text: e.Text, Timing: timing, Start: ts, Source: MarkerFirefox}
	if e.HasEnd {
		m.End = ts
		m.HasEnd = true
	}
	b.emitPairedMarker(th.Handle, e.Key, m)
}

func (b *Builder) emitPairedMarker(thread ThreadHandle, key string, m Marker) {
	if m.Timing == IntervalEnd && !m.HasEnd {
		m.End = m.Start
		m.HasEnd = true
	}
	if finished, ok := b.pairer.Feed(key, m); ok {
		b.sink.AddMarker(finished)
	}
}

// Finish seals every JIT library's symbol table, drains the live and
// dead-with-reused-pid processes' unresolved-samples queues against their
// fully-built lib-mapping timelines, and returns nothing (the built
// profile lives in the sink).
func (b *Builder) Finish() {
	for _, lib := range b.jitLibs {
		lib.sealed = true
	}

	for _, proc := range b.processes {
		b.resolveProcessSamples(proc)
	}
	for _, proc := range b.deadWithReusedPIDs {
		b.resolveProcessSamples(proc)
	}
}

// resolveProcessSamples sweeps proc's unresolved-samples queue once
// against its merged (regular ++ jit) lib-mapping timeline, interning
// each resolved stack and handing the result to the sink.
func (b *Builder) resolveProcessSamples(proc *ProcessState) {
	timeline := mergeMappingOps(proc.RegularLibMappingOps, proc.JitLibMappingOps)

	for _, s := range proc.UnresolvedSamples {
		resolved := make([]ResolvedFrame, len(s.Stack))
		for i, f := range s.Stack {
			resolved[i] = resolveFrame(timeline, f, b.class)
		}
		idx := b.stacks.Intern(resolved)
		b.sink.AddSample(s.Thread, s.Timestamp, idx, s.Weight, s.CPUDelta)
	}
}

// mergeMappingOps timestamp-merges two already-ordered op lists into one.
func mergeMappingOps(a, b []LibMappingOp) []LibMappingOp {
	out := make([]LibMappingOp, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].Timestamp <= b[j].Timestamp {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// resolveFrame finds the most recently added mapping op whose range covers
// the frame's address and converts the raw address to a category-tagged
// relative address. The sample's timestamp is not consulted, and Remove
// ops are skipped rather than applied.
func resolveFrame(timeline []LibMappingOp, f Frame, class AddressClassifier) ResolvedFrame {
	for i := len(timeline) - 1; i >= 0; i-- {
		op := timeline[i]
		if op.Remove {
			continue
		}
		if f.Address >= op.StartAvma && f.Address < op.EndAvma {
			return ResolvedFrame{
				Lib:             op.Info.Handle,
				RelativeAddress: op.RelativeAtStart + uint32(f.Address-op.StartAvma),
				Category:        op.Info.Category,
				Resolved:        true,
			}
		}
	}
	return ResolvedFrame{RawAddress: f.Address}
}
