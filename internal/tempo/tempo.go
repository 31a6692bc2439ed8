// Package tempo converts between MIDI ticks and wall-clock seconds under a
// piecewise-constant tempo map. The precomputed-segment-start approach and
// the sequential-walk bulk-apply operations are adapted from the tempo
// bookkeeping in zurustar-son-et's TickCalculator/TickGenerator.
package tempo

import (
	"sort"

	"github.com/cbegin/midifollow-go/internal/song"
)

// DefaultMicrosPerBeat is substituted for a file that never sets an
// explicit tempo: 500000 microseconds per beat is 120 BPM.
const DefaultMicrosPerBeat = 500000

// Map is an immutable, precomputed piecewise-linear tick<->seconds
// mapping. Build it once per Song via New.
type Map struct {
	ticksPerBeat int
	changes      []song.TempoChange // Seconds field populated, sorted by Tick
}

// Normalize returns changes sorted by tick, deduplicated (keeping the last
// tempo set at any repeated tick), and with a tick-0 breakpoint synthesized
// at DefaultMicrosPerBeat if the caller didn't supply one. Callers that
// expose a Song's TempoChanges publicly, as internal/ingest does, must
// store this normalized form rather than the raw collection order so the
// "at least one entry at tick 0, sorted by tick" invariant holds for
// anyone reading the field directly, not just for tempo.Map's own copy.
func Normalize(changes []song.TempoChange) []song.TempoChange {
	cs := make([]song.TempoChange, len(changes))
	copy(cs, changes)
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Tick < cs[j].Tick })

	if len(cs) == 0 || cs[0].Tick != 0 {
		cs = append([]song.TempoChange{{Tick: 0, MicrosPerBeat: DefaultMicrosPerBeat}}, cs...)
	}

	// collapse duplicate ticks, keeping the last tempo set at that tick
	dedup := cs[:0:0]
	for i, c := range cs {
		if i > 0 && c.Tick == dedup[len(dedup)-1].Tick {
			dedup[len(dedup)-1].MicrosPerBeat = c.MicrosPerBeat
			continue
		}
		dedup = append(dedup, c)
	}
	return dedup
}

// New builds a Map from ticksPerBeat and an unsorted, possibly-empty set of
// tempo breakpoints, normalized per Normalize.
func New(ticksPerBeat int, changes []song.TempoChange) *Map {
	cs := Normalize(changes)

	cs[0].Seconds = 0
	for i := 1; i < len(cs); i++ {
		deltaTicks := cs[i].Tick - cs[i-1].Tick
		cs[i].Seconds = cs[i-1].Seconds + segmentSeconds(deltaTicks, cs[i-1].MicrosPerBeat, ticksPerBeat)
	}

	return &Map{ticksPerBeat: ticksPerBeat, changes: cs}
}

func segmentSeconds(deltaTicks int64, microsPerBeat, ticksPerBeat int) float64 {
	return float64(deltaTicks) * float64(microsPerBeat) / (float64(ticksPerBeat) * 1e6)
}

// segmentIndex returns the largest i such that changes[i].Tick <= tick.
func (m *Map) segmentIndex(tick int64) int {
	lo, hi := 0, len(m.changes)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if m.changes[mid].Tick <= tick {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// segmentIndexBySeconds returns the largest i such that changes[i].Seconds <= s.
func (m *Map) segmentIndexBySeconds(s float64) int {
	lo, hi := 0, len(m.changes)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if m.changes[mid].Seconds <= s {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// TickToSeconds converts an absolute tick to wall-clock seconds.
func (m *Map) TickToSeconds(tick int64) float64 {
	i := m.segmentIndex(tick)
	c := m.changes[i]
	return c.Seconds + segmentSeconds(tick-c.Tick, c.MicrosPerBeat, m.ticksPerBeat)
}

// SecondsToTick inverts TickToSeconds.
func (m *Map) SecondsToTick(seconds float64) int64 {
	i := m.segmentIndexBySeconds(seconds)
	c := m.changes[i]
	elapsed := seconds - c.Seconds
	ticks := elapsed * float64(m.ticksPerBeat) * 1e6 / float64(c.MicrosPerBeat)
	return c.Tick + int64(ticks)
}

// BpmAtTick returns the tempo, in beats per minute, in effect at tick.
func (m *Map) BpmAtTick(tick int64) float64 {
	i := m.segmentIndex(tick)
	return 6e7 / float64(m.changes[i].MicrosPerBeat)
}

// cursor is a monotonically-advancing pointer into the tempo segments, used
// by the sequential-walk bulk operations below so that applying the tempo
// map to N already-sorted events costs O(N+S), not O(N log S).
type cursor struct {
	m   *Map
	idx int
}

func (m *Map) newCursor() *cursor { return &cursor{m: m, idx: 0} }

func (c *cursor) advanceTo(tick int64) {
	for c.idx+1 < len(c.m.changes) && c.m.changes[c.idx+1].Tick <= tick {
		c.idx++
	}
}

func (c *cursor) secondsAt(tick int64) float64 {
	c.advanceTo(tick)
	seg := c.m.changes[c.idx]
	return seg.Seconds + segmentSeconds(tick-seg.Tick, seg.MicrosPerBeat, c.m.ticksPerBeat)
}

// ApplyTimesToEvents fills the Seconds field of every event in a
// tick-sorted slice by walking it once alongside the tempo segments.
// events must already be sorted by Tick; this is not re-verified.
func (m *Map) ApplyTimesToEvents(events []song.TimelineEvent) {
	cur := m.newCursor()
	for i := range events {
		events[i].Seconds = cur.secondsAt(events[i].Tick)
	}
}

// ApplyTimesToNotes fills StartSeconds/EndSeconds on a tick-sorted (by
// StartTick) slice of notes using the same sequential-walk technique. Note
// durations may span multiple tempo segments, so EndSeconds is computed
// by a second cursor, started from the first segment, walking the notes in
// EndTick order.
func (m *Map) ApplyTimesToNotes(notes []song.Note) {
	startCur := m.newCursor()
	for i := range notes {
		notes[i].StartSeconds = startCur.secondsAt(notes[i].StartTick)
	}
	endCur := m.newCursor()
	// EndTick is not guaranteed sorted across notes, so the notes are
	// visited through an index slice sorted by EndTick; the cursor then
	// walks forward once per call rather than binary-searching per note.
	order := make([]int, len(notes))
	for i := range order {
		order[i] = i
	}
	sortByEndTick(notes, order)
	for _, i := range order {
		notes[i].EndSeconds = endCur.secondsAt(notes[i].EndTick)
	}
}

func sortByEndTick(notes []song.Note, order []int) {
	sort.Slice(order, func(a, b int) bool { return notes[order[a]].EndTick < notes[order[b]].EndTick })
}

// ApplyTimesToTempoChanges fills the Seconds field of each breakpoint,
// matching by tick against the map's own (possibly default-synthesized)
// breakpoint list. Used so compiled Song.TempoChanges carries seconds too.
func (m *Map) ApplyTimesToTempoChanges(changes []song.TempoChange) {
	for i := range changes {
		changes[i].Seconds = m.TickToSeconds(changes[i].Tick)
	}
}

// ApplyTimesToTimeSignatures fills the Seconds field of each time-signature
// breakpoint.
func (m *Map) ApplyTimesToTimeSignatures(changes []song.TimeSignatureChange) {
	for i := range changes {
		changes[i].Seconds = m.TickToSeconds(changes[i].Tick)
	}
}
