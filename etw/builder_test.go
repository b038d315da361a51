package etw

import "testing"

type recordedSample struct {
	thread   ThreadHandle
	ts       Timestamp
	weight   int
	cpuDelta uint64
}

type fakeSink struct {
	nextProcess ProcessHandle
	nextThread  ThreadHandle
	nextLib     LibHandle
	samples     []recordedSample
	markers     []Marker
}

func newFakeSink() *fakeSink { return &fakeSink{} }

func (s *fakeSink) AddProcess(name string, pid uint32, startTimestamp Timestamp) ProcessHandle {
	s.nextProcess++
	return s.nextProcess
}
func (s *fakeSink) AddThread(proc ProcessHandle, name string, tid uint32) ThreadHandle {
	s.nextThread++
	return s.nextThread
}
func (s *fakeSink) AddLib(path, debugId string) LibHandle {
	s.nextLib++
	return s.nextLib
}
func (s *fakeSink) AddKernelLibMapping(op LibMappingOp)                      {}
func (s *fakeSink) AddCounter(proc ProcessHandle, name string) uint32        { return 0 }
func (s *fakeSink) AddCounterSample(counter uint32, ts Timestamp, v int64)   {}
func (s *fakeSink) AddMarker(m Marker)                                       { s.markers = append(s.markers, m) }
func (s *fakeSink) SetInterval(start, end Timestamp)                        {}
func (s *fakeSink) SetProcessEndTime(proc ProcessHandle, t Timestamp)       {}
func (s *fakeSink) SetThreadEndTime(thread ThreadHandle, t Timestamp)       {}
func (s *fakeSink) InternString(str string) uint32                          { return 0 }
func (s *fakeSink) AddCategory(name string) CategoryHandle                  { return 0 }
func (s *fakeSink) AddSample(thread ThreadHandle, ts Timestamp, stack StackIndex, weight int, cpuDelta uint64) {
	s.samples = append(s.samples, recordedSample{thread: thread, ts: ts, weight: weight, cpuDelta: cpuDelta})
}

// Spec scenario 5: CSwitch out @ T=100, nothing until CSwitch in @ T=1000,
// Sample @ T=1100, UserStack @ T=1100. Expected: two off-cpu samples (at
// T=100 carrying CPU delta, and T=1000 with weight count-1 and zero CPU
// delta) plus one on-cpu sample at T=1100.
func TestBuilder_OffCPUSampleAccounting(t *testing.T) {
	sink := newFakeSink()
	b := NewBuilder(sink, Config{SampleIntervalTicks: 100})

	must(t, b.HandleEvent(Event{Kind: EventProcessStart, Timestamp: 0, ProcessStart: &ProcessStartEvent{PID: 1, Name: "app.exe"}}))
	must(t, b.HandleEvent(Event{Kind: EventThreadStart, Timestamp: 0, ThreadStart: &ThreadStartEvent{PID: 1, TID: 11, Name: "main"}}))

	must(t, b.HandleEvent(Event{Kind: EventContextSwitchOut, Timestamp: 100, ContextSwitch: &ContextSwitchEvent{OldTID: 11, Out: true}}))
	must(t, b.HandleEvent(Event{Kind: EventContextSwitchIn, Timestamp: 1000, ContextSwitch: &ContextSwitchEvent{NewTID: 11, Out: false}}))
	must(t, b.HandleEvent(Event{Kind: EventSample, Timestamp: 1100, Sample: &SampleEvent{PID: 1, TID: 11}}))
	must(t, b.HandleEvent(Event{Kind: EventUserStack, Timestamp: 1100, UserStack: &UserStackEvent{TID: 11, Frames: []Frame{{Address: 0x1000}}}}))

	b.Finish()

	if len(sink.samples) != 3 {
		t.Fatalf("expected 3 samples (2 off-cpu + 1 on-cpu), got %d: %+v", len(sink.samples), sink.samples)
	}

	begin, end, onCPU := sink.samples[0], sink.samples[1], sink.samples[2]
	if begin.ts != 100 || begin.weight != 1 {
		t.Fatalf("unexpected begin sample: %+v", begin)
	}
	if end.ts != 1000 || end.cpuDelta != 0 {
		t.Fatalf("unexpected end sample: %+v", end)
	}
	if onCPU.ts != 1100 {
		t.Fatalf("unexpected on-cpu sample: %+v", onCPU)
	}
}

// Spec scenario 6: starting "app.exe" pid=10, ending it, then starting
// "app.exe" pid=20 again. With recycling on, the second process shares the
// first process's handle.
func TestBuilder_ProcessRecyclingSharesHandle(t *testing.T) {
	sink := newFakeSink()
	b := NewBuilder(sink, Config{Recycle: true})

	must(t, b.HandleEvent(Event{Kind: EventProcessStart, Timestamp: 0, ProcessStart: &ProcessStartEvent{PID: 10, Name: "app.exe"}}))
	firstHandle := b.processes[10].Handle
	must(t, b.HandleEvent(Event{Kind: EventProcessEnd, Timestamp: 50, ProcessEnd: &ProcessEndEvent{PID: 10}}))
	must(t, b.HandleEvent(Event{Kind: EventProcessStart, Timestamp: 60, ProcessStart: &ProcessStartEvent{PID: 20, Name: "app.exe"}}))
	secondHandle := b.processes[20].Handle

	if firstHandle != secondHandle {
		t.Fatalf("expected recycled process to share handle: first=%v second=%v", firstHandle, secondHandle)
	}
}

func TestBuilder_NoRecyclingYieldsDistinctHandles(t *testing.T) {
	sink := newFakeSink()
	b := NewBuilder(sink, Config{Recycle: false})

	must(t, b.HandleEvent(Event{Kind: EventProcessStart, Timestamp: 0, ProcessStart: &ProcessStartEvent{PID: 10, Name: "app.exe"}}))
	firstHandle := b.processes[10].Handle
	must(t, b.HandleEvent(Event{Kind: EventProcessEnd, Timestamp: 50, ProcessEnd: &ProcessEndEvent{PID: 10}}))
	must(t, b.HandleEvent(Event{Kind: EventProcessStart, Timestamp: 60, ProcessStart: &ProcessStartEvent{PID: 20, Name: "app.exe"}}))
	secondHandle := b.processes[20].Handle

	if firstHandle == secondHandle {
		t.Fatal("expected distinct handles when recycling is disabled")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
