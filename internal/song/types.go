// Package song holds the in-memory representation of a compiled MIDI file:
// notes, timeline events, tracks, tempo/time-signature changes and the
// top-level Song. Everything here is produced once by internal/ingest and
// is read-only afterward, except for the per-track playback controls
// (IsMuted, Volume) which the scheduler mutates from the transport path.
package song

import "sort"

// SortEvents sorts events in place by (tick, kind priority).
func SortEvents(events []TimelineEvent) {
	sort.SliceStable(events, func(i, j int) bool { return Less(events[i], events[j]) })
}

// SortNotesByStart sorts notes in place by StartTick.
func SortNotesByStart(notes []Note) {
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].StartTick < notes[j].StartTick })
}

// SortTimeSignatureChanges sorts changes in place by tick, stable.
func SortTimeSignatureChanges(changes []TimeSignatureChange) {
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].Tick < changes[j].Tick })
}

// EventKind identifies the kind of a dispatchable TimelineEvent.
type EventKind int

const (
	EventNoteOff EventKind = iota
	EventNoteOn
	EventProgramChange
	EventControlChange
	EventPitchBend
	EventTempo
	EventTimeSignature
	EventEndOfTrack
)

// priority orders events that share the same tick: meta events first,
// then note-off, then everything else, then note-on last. This guarantees a
// note that re-attacks exactly on the tick a prior note-off lands does not
// overlap by one dispatch cycle.
func (k EventKind) priority() int {
	switch k {
	case EventTempo, EventTimeSignature:
		return 0
	case EventNoteOff:
		return 1
	case EventProgramChange, EventControlChange, EventPitchBend:
		return 2
	case EventEndOfTrack:
		return 3
	case EventNoteOn:
		return 4
	default:
		return 5
	}
}

// TimelineEvent is a single dispatchable action, already resolved to an
// absolute tick. Seconds is populated by tempo.Map.ApplyTimesToEvents
// once the song's tempo map is known; Channel is -1 for meta events.
type TimelineEvent struct {
	Kind       EventKind
	Tick       int64
	Seconds    float64
	Channel    int
	TrackIndex int
	Data1      int
	Data2      int
}

// Less orders two events by (tick, kind priority), which is the ordering
// the scheduler and the compiler both rely on.
func Less(a, b TimelineEvent) bool {
	if a.Tick != b.Tick {
		return a.Tick < b.Tick
	}
	return a.Kind.priority() < b.Kind.priority()
}

// Note is an absolute-time, paired note-on/note-off range.
type Note struct {
	NoteNumber   int
	Velocity     int
	Channel      int
	TrackIndex   int
	StartTick    int64
	EndTick      int64
	StartSeconds float64
	EndSeconds   float64
}

// programPoint is one entry of a track's program-change prefix table, used
// to reconstruct the instrument in effect at any event index without a
// linear rescan (see Track.ProgramAt).
type programPoint struct {
	eventIndex int
	channel    int
	program    int
}

// Track is a logically grouped subset of a Song: the notes and events that
// belong to one SMF track, plus the mutable playback controls the
// scheduler exposes to callers.
type Track struct {
	Index          int
	Name           string
	Channels       map[int]struct{}
	ProgramByChan  map[int]int
	Notes          []Note
	Events         []TimelineEvent
	IsMuted        bool
	Volume         float64
	programPrefix  []programPoint
}

// NewTrack returns an empty, unmuted, full-volume track.
func NewTrack(index int) *Track {
	return &Track{
		Index:         index,
		Channels:      make(map[int]struct{}),
		ProgramByChan: make(map[int]int),
		Volume:        1.0,
	}
}

// RecordProgramChange appends a program-prefix entry. Called only by
// internal/ingest while compiling the track, in event order.
func (t *Track) RecordProgramChange(eventIndex, channel, program int) {
	t.programPrefix = append(t.programPrefix, programPoint{eventIndex, channel, program})
}

// ProgramAt returns the program number in effect on channel as of (but not
// including) eventIndex within this track's own Events slice, or 0 if the
// channel was never assigned a program before that point. It is the
// mandatory rewind-pass lookup the scheduler uses on seek.
func (t *Track) ProgramAt(channel, eventIndex int) int {
	program := 0
	for _, p := range t.programPrefix {
		if p.eventIndex >= eventIndex {
			break
		}
		if p.channel == channel {
			program = p.program
		}
	}
	return program
}

// TempoChange is one tempo-map breakpoint.
type TempoChange struct {
	Tick             int64
	Seconds          float64
	MicrosPerBeat    int
}

// TimeSignatureChange is one time-signature breakpoint.
type TimeSignatureChange struct {
	Tick        int64
	Seconds     float64
	Numerator   int
	Denominator int
}

// Song is the fully compiled, read-only (apart from per-track controls)
// representation of a MIDI file.
type Song struct {
	FileName              string
	Format                int
	TicksPerBeat          int
	Tracks                []*Track
	Timeline              []TimelineEvent
	TempoChanges          []TempoChange
	TimeSignatureChanges  []TimeSignatureChange
	TotalTicks            int64
	TotalSeconds          float64
}

// PitchSample is one frame of a microphone pitch-detection stream.
// MidiNote is -1 when no pitch was detected in the frame.
type PitchSample struct {
	FrequencyHz  float64
	MidiNote     int
	VolumeLinear float64
	VolumeDBFS   float64
	Precision    float64
	Timestamp    float64
}

// OnsetEvent is a discrete detected note onset.
type OnsetEvent struct {
	MidiNote    int
	FrequencyHz float64
	Volume      float64
	Timestamp   float64
}
