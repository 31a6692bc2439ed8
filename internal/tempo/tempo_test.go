package tempo

import (
	"math"
	"testing"

	"github.com/cbegin/midifollow-go/internal/song"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestNewSynthesizesDefaultTempoAtZero(t *testing.T) {
	m := New(480, nil)
	if got := m.BpmAtTick(0); got != 120 {
		t.Fatalf("BpmAtTick(0) = %v, want 120", got)
	}
}

func TestTickToSecondsConstantTempo(t *testing.T) {
	// 120 BPM, 480 ticks per beat: one beat is 0.5s, so 480 ticks is 0.5s.
	m := New(480, []song.TempoChange{{Tick: 0, MicrosPerBeat: 500000}})
	if got := m.TickToSeconds(480); !approxEqual(got, 0.5, 1e-9) {
		t.Fatalf("TickToSeconds(480) = %v, want 0.5", got)
	}
	if got := m.TickToSeconds(960); !approxEqual(got, 1.0, 1e-9) {
		t.Fatalf("TickToSeconds(960) = %v, want 1.0", got)
	}
}

func TestSecondsToTickInvertsTickToSeconds(t *testing.T) {
	m := New(480, []song.TempoChange{{Tick: 0, MicrosPerBeat: 500000}})
	for _, tick := range []int64{0, 240, 480, 1920} {
		s := m.TickToSeconds(tick)
		got := m.SecondsToTick(s)
		if got != tick {
			t.Errorf("SecondsToTick(TickToSeconds(%d)) = %d, want %d", tick, got, tick)
		}
	}
}

func TestTickToSecondsAcrossTempoChange(t *testing.T) {
	// 120 BPM for the first 480 ticks (0.5s), then 60 BPM (1s/beat) after.
	m := New(480, []song.TempoChange{
		{Tick: 0, MicrosPerBeat: 500000},
		{Tick: 480, MicrosPerBeat: 1000000},
	})
	if got := m.TickToSeconds(480); !approxEqual(got, 0.5, 1e-9) {
		t.Fatalf("at the breakpoint: got %v, want 0.5", got)
	}
	// One more beat (480 ticks) at 60 BPM takes 1 full second.
	if got := m.TickToSeconds(960); !approxEqual(got, 1.5, 1e-9) {
		t.Fatalf("TickToSeconds(960) = %v, want 1.5", got)
	}
}

func TestBpmAtTickReflectsActiveSegment(t *testing.T) {
	m := New(480, []song.TempoChange{
		{Tick: 0, MicrosPerBeat: 500000},   // 120 BPM
		{Tick: 480, MicrosPerBeat: 1000000}, // 60 BPM
	})
	if got := m.BpmAtTick(0); got != 120 {
		t.Errorf("BpmAtTick(0) = %v, want 120", got)
	}
	if got := m.BpmAtTick(479); got != 120 {
		t.Errorf("BpmAtTick(479) = %v, want 120", got)
	}
	if got := m.BpmAtTick(480); got != 60 {
		t.Errorf("BpmAtTick(480) = %v, want 60", got)
	}
}

func TestApplyTimesToEventsMatchesPerEventConversion(t *testing.T) {
	m := New(480, []song.TempoChange{
		{Tick: 0, MicrosPerBeat: 500000},
		{Tick: 480, MicrosPerBeat: 1000000},
	})
	events := []song.TimelineEvent{
		{Tick: 0},
		{Tick: 240},
		{Tick: 480},
		{Tick: 960},
		{Tick: 1440},
	}
	m.ApplyTimesToEvents(events)
	for _, ev := range events {
		want := m.TickToSeconds(ev.Tick)
		if !approxEqual(ev.Seconds, want, 1e-9) {
			t.Errorf("event at tick %d: Seconds = %v, want %v", ev.Tick, ev.Seconds, want)
		}
	}
}

func TestApplyTimesToNotesHandlesUnsortedEndTicks(t *testing.T) {
	m := New(480, []song.TempoChange{{Tick: 0, MicrosPerBeat: 500000}})
	notes := []song.Note{
		{StartTick: 0, EndTick: 960},
		{StartTick: 240, EndTick: 480},
	}
	m.ApplyTimesToNotes(notes)
	if !approxEqual(notes[0].StartSeconds, 0, 1e-9) || !approxEqual(notes[0].EndSeconds, 1.0, 1e-9) {
		t.Errorf("note 0: start=%v end=%v", notes[0].StartSeconds, notes[0].EndSeconds)
	}
	if !approxEqual(notes[1].StartSeconds, 0.25, 1e-9) || !approxEqual(notes[1].EndSeconds, 0.5, 1e-9) {
		t.Errorf("note 1: start=%v end=%v", notes[1].StartSeconds, notes[1].EndSeconds)
	}
}

func TestNormalizeSortsDefaultsAndDedupsForPublicConsumers(t *testing.T) {
	// Out-of-order, no tick-0 entry, one duplicate tick: exactly the shape
	// a multi-track SMF can hand back from an unordered collection pass.
	got := Normalize([]song.TempoChange{
		{Tick: 960, MicrosPerBeat: 400000},
		{Tick: 480, MicrosPerBeat: 600000},
		{Tick: 480, MicrosPerBeat: 700000},
	})
	want := []song.TempoChange{
		{Tick: 0, MicrosPerBeat: DefaultMicrosPerBeat},
		{Tick: 480, MicrosPerBeat: 700000},
		{Tick: 960, MicrosPerBeat: 400000},
	}
	if len(got) != len(want) {
		t.Fatalf("Normalize() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i].Tick != want[i].Tick || got[i].MicrosPerBeat != want[i].MicrosPerBeat {
			t.Errorf("entry %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestNormalizeOnAlreadyValidInputIsIdempotent(t *testing.T) {
	in := []song.TempoChange{{Tick: 0, MicrosPerBeat: 500000}, {Tick: 480, MicrosPerBeat: 400000}}
	got := Normalize(in)
	if len(got) != 2 || got[0].Tick != 0 || got[1].Tick != 480 {
		t.Fatalf("Normalize(%+v) = %+v", in, got)
	}
}

func TestDuplicateTickBreakpointsCollapseKeepingLast(t *testing.T) {
	m := New(480, []song.TempoChange{
		{Tick: 0, MicrosPerBeat: 500000},
		{Tick: 0, MicrosPerBeat: 1000000},
	})
	if got := m.BpmAtTick(0); got != 60 {
		t.Fatalf("BpmAtTick(0) = %v, want 60 (last breakpoint at tick 0 wins)", got)
	}
}
