// Package synthtest provides an in-memory recording Synth double for use
// in the scheduler's and engine's own tests, in the style of
// cbegin-mmlfm-go's countingEngine fixture in sequencer_test.go.
package synthtest

import "github.com/cbegin/midifollow-go/internal/synth"

// Call records one realtime invocation made against a Recorder.
type Call struct {
	Kind             string // "note_on" | "note_off" | "set_instrument" | "all_notes_off"
	Channel, A, B, C int
}

// Recorder is a Synth that never produces audio; it only records what was
// asked of it, for assertions in tests.
type Recorder struct {
	Calls       []Call
	ready       bool
	FailLoad    bool
	LoadedPaths []string
}

var _ synth.Synth = (*Recorder)(nil)

func New() *Recorder { return &Recorder{} }

func (r *Recorder) LoadSoundfont(path string) error {
	r.LoadedPaths = append(r.LoadedPaths, path)
	if r.FailLoad {
		r.ready = false
		return synth.ErrNotReady
	}
	r.ready = true
	return nil
}

func (r *Recorder) SetInstrument(channel, bank, program int) {
	r.Calls = append(r.Calls, Call{Kind: "set_instrument", Channel: channel, A: bank, B: program})
}

func (r *Recorder) NoteOn(channel, note, velocity int) {
	r.Calls = append(r.Calls, Call{Kind: "note_on", Channel: channel, A: note, B: velocity})
}

func (r *Recorder) NoteOff(channel, note int) {
	r.Calls = append(r.Calls, Call{Kind: "note_off", Channel: channel, A: note})
}

func (r *Recorder) AllNotesOff() {
	r.Calls = append(r.Calls, Call{Kind: "all_notes_off"})
}

func (r *Recorder) IsReady() bool { return r.ready }

// NoteOnCount returns how many note_on calls were recorded for note on
// channel, a convenience used throughout the scheduler tests.
func (r *Recorder) NoteOnCount(channel, note int) int {
	n := 0
	for _, c := range r.Calls {
		if c.Kind == "note_on" && c.Channel == channel && c.A == note {
			n++
		}
	}
	return n
}
