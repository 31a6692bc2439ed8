// Package sfsynth implements synth.Synth on top of go-meltysynth, a real
// SoundFont synthesizer. This package consumes synthesis, it does not
// write any; the DSP itself lives in sinshu/go-meltysynth, grounded on the
// SoundFont-loading and synthesizer-construction sequence in
// zurustar-son-et's midi.go.
package sfsynth

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/cbegin/midifollow-go/internal/synth"
)

// Synth wraps a *meltysynth.Synthesizer as a synth.Synth. It is safe for
// concurrent use: realtime calls and Render both take the same mutex,
// matching the confinement discipline of zurustar's MIDIStream.
type Synth struct {
	mu         sync.Mutex
	sampleRate int
	engine     *meltysynth.Synthesizer
	ready      bool
}

var _ synth.Synth = (*Synth)(nil)

// New returns a Synth that renders at sampleRate. Call LoadSoundfont
// before driving it; until then IsReady is false and realtime calls are
// no-ops.
func New(sampleRate int) *Synth {
	return &Synth{sampleRate: sampleRate}
}

func (s *Synth) LoadSoundfont(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		s.mu.Lock()
		s.ready = false
		s.mu.Unlock()
		return fmt.Errorf("sfsynth: read soundfont: %w", err)
	}
	sf, err := meltysynth.NewSoundFont(bytes.NewReader(data))
	if err != nil {
		s.mu.Lock()
		s.ready = false
		s.mu.Unlock()
		return fmt.Errorf("sfsynth: parse soundfont: %w", err)
	}
	settings := meltysynth.NewSynthesizerSettings(int32(s.sampleRate))
	engine, err := meltysynth.NewSynthesizer(sf, settings)
	if err != nil {
		s.mu.Lock()
		s.ready = false
		s.mu.Unlock()
		return fmt.Errorf("sfsynth: create synthesizer: %w", err)
	}

	s.mu.Lock()
	s.engine = engine
	s.ready = true
	s.mu.Unlock()
	return nil
}

func (s *Synth) SetInstrument(channel, bank, program int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return
	}
	s.engine.ProcessMidiMessage(int32(channel), 0xC0, int32(program), 0)
	if bank != 0 {
		s.engine.ProcessMidiMessage(int32(channel), 0xB0, 0x00, int32(bank))
	}
}

func (s *Synth) NoteOn(channel, note, velocity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return
	}
	s.engine.NoteOn(int32(channel), int32(note), int32(velocity))
}

func (s *Synth) NoteOff(channel, note int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return
	}
	s.engine.NoteOff(int32(channel), int32(note))
}

func (s *Synth) AllNotesOff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return
	}
	s.engine.NoteOffAll(false)
}

func (s *Synth) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Render fills left and right with the next len(left) rendered samples.
// It is the bridge internal/audiosink reads through; it is not part of
// the synth.Synth contract because rendering audio is the one concern the
// abstract interface deliberately omits.
func (s *Synth) Render(left, right []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		for i := range left {
			left[i] = 0
			right[i] = 0
		}
		return
	}
	s.engine.Render(left, right)
}
