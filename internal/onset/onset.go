// Package onset turns a stream of internal/song.PitchSample frames into a
// stream of internal/song.OnsetEvent, with hysteresis and debouncing. The
// stateful single-pass filtering style (tracking a "previous note" and a
// running silence counter across frames) is grounded on
// JeanRibes-midi-recorder's Recording.RemoveChords1/2.
package onset

import (
	"github.com/cbegin/midifollow-go/internal/song"
	"github.com/cbegin/midifollow-go/internal/streamutil"
)

// Config holds the detector's tunable thresholds.
type Config struct {
	VolumeThreshold    float64
	PrecisionThreshold float64
	DebounceMs         float64
	MinMidiNote        int
	MaxMidiNote        int
}

// DefaultConfig matches the defaults named in the onset-detection design.
func DefaultConfig() Config {
	return Config{
		VolumeThreshold:    0.05,
		PrecisionThreshold: 0.5,
		DebounceMs:         80,
		MinMidiNote:        21,
		MaxMidiNote:        108,
	}
}

const silenceFramesToClearActive = 3

// Detector consumes PitchSamples one at a time via Feed, or a live stream
// via Attach, and publishes OnsetEvents to whoever last subscribed via
// Watch.
type Detector struct {
	cfg Config

	lastOnsetNote int
	lastOnsetTime float64
	isNoteActive  bool
	silenceFrames int

	broadcast *streamutil.Broadcaster[song.OnsetEvent]
	cancel    func()
}

// New returns a Detector configured with cfg.
func New(cfg Config) *Detector {
	d := &Detector{cfg: cfg, broadcast: streamutil.NewBroadcaster[song.OnsetEvent]()}
	d.reset()
	return d
}

func (d *Detector) reset() {
	d.lastOnsetNote = -1
	d.lastOnsetTime = 0
	d.isNoteActive = false
	d.silenceFrames = 0
}

// Reset clears all detector state without touching the current
// subscription.
func (d *Detector) Reset() { d.reset() }

// Watch returns a channel that receives OnsetEvents as Feed produces
// them. As with the rest of this repo's broadcast channels, only the most
// recently returned channel is live.
func (d *Detector) Watch() <-chan song.OnsetEvent {
	return d.broadcast.Subscribe(16)
}

// Attach subscribes the detector to a push-style pitch sample source and
// resets detector state. cancel, if non-nil, is called by a subsequent
// Detach.
func (d *Detector) Attach(samples <-chan song.PitchSample, cancel func()) {
	d.Detach()
	d.reset()
	d.cancel = cancel
	go func() {
		for s := range samples {
			d.Feed(s)
		}
	}()
}

// Detach cancels any source registered via Attach.
func (d *Detector) Detach() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

// Feed processes one pitch sample, publishing an OnsetEvent if the frame
// constitutes a new onset under the current hysteresis/debounce rules.
func (d *Detector) Feed(s song.PitchSample) {
	valid := s.MidiNote >= d.cfg.MinMidiNote &&
		s.MidiNote <= d.cfg.MaxMidiNote &&
		s.VolumeLinear >= d.cfg.VolumeThreshold &&
		s.Precision >= d.cfg.PrecisionThreshold &&
		s.FrequencyHz > 0

	if !valid {
		d.silenceFrames++
		if d.silenceFrames >= silenceFramesToClearActive {
			d.isNoteActive = false
		}
		return
	}

	d.silenceFrames = 0

	switch {
	case !d.isNoteActive:
		d.isNoteActive = true
		d.maybeEmit(s)
	case s.MidiNote != d.lastOnsetNote:
		d.maybeEmit(s)
	}
}

func (d *Detector) maybeEmit(s song.PitchSample) {
	debounced := s.MidiNote == d.lastOnsetNote &&
		s.Timestamp-d.lastOnsetTime < d.cfg.DebounceMs/1000.0
	if debounced {
		return
	}
	d.lastOnsetNote = s.MidiNote
	d.lastOnsetTime = s.Timestamp
	d.broadcast.Publish(song.OnsetEvent{
		MidiNote:    s.MidiNote,
		FrequencyHz: s.FrequencyHz,
		Volume:      s.VolumeLinear,
		Timestamp:   s.Timestamp,
	})
}
