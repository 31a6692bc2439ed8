// Package synth defines the abstract sound-generation collaborator the
// scheduler drives. It deliberately knows nothing about DSP: software
// synthesis is an external concern, implemented either by a real
// SoundFont backend (internal/synth/sfsynth) or a recording test double
// (internal/synth/synthtest).
package synth

import "errors"

// ErrNotReady reports that a synth could not become ready; the recording
// test double returns it from a failed LoadSoundfont. Realtime calls
// return no error.
var ErrNotReady = errors.New("synth: not ready")

// Synth is the minimal capability the scheduler needs from a sound
// generator: instrument selection and the three realtime note commands,
// plus a soundfont lifecycle and a readiness query.
type Synth interface {
	// LoadSoundfont loads a .sf2/.sf3 bank from path. Implementations
	// return the failure to the caller (the engine facade passes it on from
	// Engine.LoadSoundfont) and must leave IsReady false on failure.
	LoadSoundfont(path string) error

	SetInstrument(channel, bank, program int)
	NoteOn(channel, note, velocity int)
	NoteOff(channel, note int)
	AllNotesOff()

	IsReady() bool
}
