package etw

// MarkerTiming distinguishes a point-in-time marker from one half (or the
// whole) of an interval.
type MarkerTiming int

const (
	Instant MarkerTiming = iota
	Interval
	IntervalStart
	IntervalEnd
)

// MarkerSource distinguishes the wire format a marker event arrived in;
// all three are normalized to the same output shape.
type MarkerSource int

const (
	MarkerFreeform MarkerSource = iota
	MarkerChrome
	MarkerFirefox
)

// Marker is one emitted marker: a named, timed, optionally-paired event
// on a thread.
type Marker struct {
	Thread    ThreadHandle
	Name      string
	Text      string
	Timing    MarkerTiming
	Start     Timestamp
	End       Timestamp
	HasEnd    bool
	Source    MarkerSource
}

// resolveFirefoxPhase infers a Firefox marker's timing from which of
// start/end timestamps it carries, when the event did not state its
// phase explicitly.
func resolveFirefoxPhase(hasStart, hasEnd bool) MarkerTiming {
	switch {
	case hasStart && hasEnd:
		return Interval
	case hasStart:
		return IntervalStart
	case hasEnd:
		return IntervalEnd
	default:
		return Instant
	}
}

// markerPairer pairs IntervalStart/IntervalEnd events sharing a key into
// one Interval marker whose text is taken from the start event, per the
// spec's pairing invariant.
type markerPairer struct {
	pending map[string]Marker // key -> the IntervalStart half
}

func newMarkerPairer() *markerPairer {
	return &markerPairer{pending: make(map[string]Marker)}
}

// Feed processes one half of a potential pair (or a self-contained
// Instant/Interval marker) keyed by key, returning a finished Marker ready
// to emit when the pair completes (or is already complete), and ok=false
// while still waiting for the other half.
func (p *markerPairer) Feed(key string, m Marker) (Marker, bool) {
	switch m.Timing {
	case Instant, Interval:
		return m, true
	case IntervalStart:
		p.pending[key] = m
		return Marker{}, false
	case IntervalEnd:
		start, ok := p.pending[key]
		if !ok {
			// An end with no matching start: emit as a bare end-only
			// interval rather than drop it silently.
			return m, true
		}
		delete(p.pending, key)
		return Marker{
			Thread: start.Thread,
			Name:   start.Name,
			Text:   start.Text,
			Timing: Interval,
			Start:  start.Start,
			End:    m.End,
			HasEnd: true,
			Source: start.Source,
		}, true
	default:
		return m, true
	}
}
