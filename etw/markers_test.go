package etw

import "testing"

// Spec testable property 8: every freeform marker with matching start/end
// keys pairs into exactly one interval marker whose text is taken from the
// start event.
func TestMarkerPairer_PairsStartAndEndByKey(t *testing.T) {
	p := newMarkerPairer()

	start := Marker{Name: "io", Text: "begin-text", Timing: IntervalStart, Start: 100}
	if _, ok := p.Feed("key-1", start); ok {
		t.Fatal("expected IntervalStart to wait for its pair")
	}

	end := Marker{Name: "io", Text: "end-text", Timing: IntervalEnd, End: 200}
	m, ok := p.Feed("key-1", end)
	if !ok {
		t.Fatal("expected the matching end to complete the pair")
	}
	if m.Text != "begin-text" {
		t.Fatalf("expected paired marker's text to come from the start event, got %q", m.Text)
	}
	if m.Start != 100 || m.End != 200 || m.Timing != Interval {
		t.Fatalf("unexpected paired marker shape: %+v", m)
	}
}

func TestMarkerPairer_InstantAndIntervalPassThroughImmediately(t *testing.T) {
	p := newMarkerPairer()
	if _, ok := p.Feed("k", Marker{Timing: Instant}); !ok {
		t.Fatal("Instant markers should complete immediately")
	}
	if _, ok := p.Feed("k", Marker{Timing: Interval}); !ok {
		t.Fatal("self-contained Interval markers should complete immediately")
	}
}

func TestMarkerPairer_UnmatchedEndEmitsAlone(t *testing.T) {
	p := newMarkerPairer()
	m, ok := p.Feed("no-start", Marker{Name: "x", Timing: IntervalEnd, End: 50})
	if !ok {
		t.Fatal("an end with no matching start should still emit rather than be dropped")
	}
	if m.End != 50 {
		t.Fatalf("unexpected marker: %+v", m)
	}
}
