// Package ingest compiles a Standard MIDI File into an internal/song.Song.
// Byte-level SMF decoding (delta-time varints, running status) is left to
// gitlab.com/gomidi/midi/v2/smf; this package owns only the two-pass
// tick-accumulation and note-pairing algorithm, grounded on the track
// conversion in JeanRibes-midi-recorder's music.go and the tempo-track
// handling in divVerent-midiconverser's tempo.go.
package ingest

import (
	"bytes"
	"fmt"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/midifollow-go/internal/song"
	"github.com/cbegin/midifollow-go/internal/tempo"
)

// ErrorKind classifies a ParseError.
type ErrorKind int

const (
	ErrHeader ErrorKind = iota
	ErrTruncated
	ErrUnsupportedFormat
)

// ParseError is returned by Compile and CompileFile on malformed input.
type ParseError struct {
	Kind ErrorKind
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("ingest: %s: %v", e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (k ErrorKind) String() string {
	switch k {
	case ErrHeader:
		return "header"
	case ErrTruncated:
		return "truncated"
	case ErrUnsupportedFormat:
		return "unsupported format"
	default:
		return "unknown"
	}
}

// pendingKey identifies an open note-on awaiting its matching note-off.
type pendingKey struct {
	channel int
	note    int
}

type pendingNote struct {
	velocity  int
	startTick int64
}

// CompileFile reads path with smf.ReadFile and compiles it into a Song.
func CompileFile(path string) (*song.Song, error) {
	mid, err := smf.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Kind: ErrTruncated, Err: err}
	}
	return Compile(mid, path)
}

// CompileBytes parses raw SMF bytes via smf.ReadFrom and compiles them.
func CompileBytes(data []byte, fileName string) (*song.Song, error) {
	mid, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Kind: ErrTruncated, Err: err}
	}
	return Compile(mid, fileName)
}

// Compile converts an already-decoded *smf.SMF into a Song.
func Compile(mid *smf.SMF, fileName string) (*song.Song, error) {
	mt, ok := mid.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, &ParseError{Kind: ErrUnsupportedFormat, Err: fmt.Errorf("non-metric time format %T", mid.TimeFormat)}
	}
	ticksPerBeat := int(mt)
	if ticksPerBeat <= 0 {
		return nil, &ParseError{Kind: ErrHeader, Err: fmt.Errorf("invalid ticks-per-beat %d", ticksPerBeat)}
	}

	// Pass 1: collect tempo and time-signature breakpoints across all tracks.
	var tempoChanges []song.TempoChange
	var timeSigChanges []song.TimeSignatureChange
	for _, trk := range mid.Tracks {
		var tick int64
		for _, ev := range trk {
			tick += int64(ev.Delta)
			var bpm float64
			if ev.Message.GetMetaTempo(&bpm) {
				tempoChanges = append(tempoChanges, song.TempoChange{
					Tick:          tick,
					MicrosPerBeat: int(6e7 / bpm),
				})
				continue
			}
			var num, denom, cpt, dsqpq uint8
			if ev.Message.GetMetaTimeSig(&num, &denom, &cpt, &dsqpq) {
				timeSigChanges = append(timeSigChanges, song.TimeSignatureChange{
					Tick:        tick,
					Numerator:   int(num),
					Denominator: int(denom),
				})
			}
		}
	}
	// Pass 1's collection order follows track iteration, not tick order,
	// and never synthesizes the mandatory tick-0 default. Normalize here so
	// the sorted, defaulted form is what ends up on
	// Song.TempoChanges/TimeSignatureChanges, not just on tempo.Map's own
	// private copy.
	tempoChanges = tempo.Normalize(tempoChanges)
	song.SortTimeSignatureChanges(timeSigChanges)

	tm := tempo.New(ticksPerBeat, tempoChanges)
	tm.ApplyTimesToTempoChanges(tempoChanges)
	tm.ApplyTimesToTimeSignatures(timeSigChanges)

	// Pass 2: per-track note pairing and event emission.
	tracks := make([]*song.Track, len(mid.Tracks))
	var totalTicks int64
	for i, trk := range mid.Tracks {
		tr := song.NewTrack(i)
		var tick int64
		pending := make(map[pendingKey]pendingNote)

		for _, ev := range trk {
			tick += int64(ev.Delta)
			compileEvent(tr, ev.Message, tick, i, pending)
		}
		// Any entries left in pending are unpaired note-ons, abandoned per
		// the documented policy: no Note is emitted for them.

		sortTrack(tr)
		tm.ApplyTimesToEvents(tr.Events)
		tm.ApplyTimesToNotes(tr.Notes)
		tracks[i] = tr

		if tick > totalTicks {
			totalTicks = tick
		}
	}

	timeline := mergeTimelines(tracks)

	format := 1
	if len(mid.Tracks) == 1 {
		format = 0
	}

	return &song.Song{
		FileName:             fileName,
		Format:               format,
		TicksPerBeat:         ticksPerBeat,
		Tracks:               tracks,
		Timeline:             timeline,
		TempoChanges:         tempoChanges,
		TimeSignatureChanges: timeSigChanges,
		TotalTicks:           totalTicks,
		TotalSeconds:         tm.TickToSeconds(totalTicks),
	}, nil
}

func compileEvent(tr *song.Track, msg smf.Message, tick int64, trackIndex int, pending map[pendingKey]pendingNote) {
	var ch, key, vel uint8

	switch {
	case msg.GetNoteOn(&ch, &key, &vel):
		if vel == 0 {
			closeNote(tr, tick, trackIndex, int(ch), int(key), pending)
			appendEvent(tr, song.EventNoteOff, tick, trackIndex, int(ch), int(key), 0)
			return
		}
		k := pendingKey{channel: int(ch), note: int(key)}
		pending[k] = pendingNote{velocity: int(vel), startTick: tick} // replaces any abandoned prior pending
		tr.Channels[int(ch)] = struct{}{}
		appendEvent(tr, song.EventNoteOn, tick, trackIndex, int(ch), int(key), int(vel))

	case msg.GetNoteOff(&ch, &key, &vel):
		closeNote(tr, tick, trackIndex, int(ch), int(key), pending)
		appendEvent(tr, song.EventNoteOff, tick, trackIndex, int(ch), int(key), 0)

	case msg.GetProgramChange(&ch, &key):
		tr.ProgramByChan[int(ch)] = int(key)
		tr.Channels[int(ch)] = struct{}{}
		idx := len(tr.Events)
		appendEvent(tr, song.EventProgramChange, tick, trackIndex, int(ch), int(key), 0)
		tr.RecordProgramChange(idx, int(ch), int(key))

	case msg.GetControlChange(&ch, &key, &vel):
		tr.Channels[int(ch)] = struct{}{}
		appendEvent(tr, song.EventControlChange, tick, trackIndex, int(ch), int(key), int(vel))

	default:
		compileWideEvent(tr, msg, tick, trackIndex)
	}
}

// compileWideEvent handles messages whose accessor signatures don't fit the
// uint8-triple shape above (pitch bend uses a signed relative value; meta
// messages carry no channel).
func compileWideEvent(tr *song.Track, msg smf.Message, tick int64, trackIndex int) {
	var ch uint8
	var rel int16
	var abs uint16
	if msg.GetPitchBend(&ch, &rel, &abs) {
		tr.Channels[int(ch)] = struct{}{}
		appendEvent(tr, song.EventPitchBend, tick, trackIndex, int(ch), int(rel), int(abs))
		return
	}
	var name string
	if msg.GetMetaTrackName(&name) {
		if tr.Name == "" {
			tr.Name = name
		}
		return
	}
	if msg.Is(smf.MetaEndOfTrackMsg) {
		appendEvent(tr, song.EventEndOfTrack, tick, trackIndex, -1, 0, 0)
	}
}

func appendEvent(tr *song.Track, kind song.EventKind, tick int64, trackIndex, channel, d1, d2 int) {
	tr.Events = append(tr.Events, song.TimelineEvent{
		Kind:       kind,
		Tick:       tick,
		Channel:    channel,
		TrackIndex: trackIndex,
		Data1:      d1,
		Data2:      d2,
	})
}

func closeNote(tr *song.Track, tick int64, trackIndex, channel, note int, pending map[pendingKey]pendingNote) {
	k := pendingKey{channel: channel, note: note}
	p, ok := pending[k]
	if !ok {
		return
	}
	delete(pending, k)
	tr.Notes = append(tr.Notes, song.Note{
		NoteNumber: note,
		Velocity:   p.velocity,
		Channel:    channel,
		TrackIndex: trackIndex,
		StartTick:  p.startTick,
		EndTick:    tick,
	})
}

func sortTrack(tr *song.Track) {
	song.SortEvents(tr.Events)
	song.SortNotesByStart(tr.Notes)
}

func mergeTimelines(tracks []*song.Track) []song.TimelineEvent {
	var total int
	for _, t := range tracks {
		total += len(t.Events)
	}
	out := make([]song.TimelineEvent, 0, total)
	for _, t := range tracks {
		out = append(out, t.Events...)
	}
	song.SortEvents(out)
	return out
}
