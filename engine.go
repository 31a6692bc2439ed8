// Package midifollow is the public facade over the playback and
// adaptive-follow engine: it wires the MIDI compiler, the synth
// collaborator, the playback scheduler, the onset detector and the
// follow-mode controller into one object. Its options/mutex/Watch()
// shape is adapted from cbegin-mmlfm-go's player.go Player.
package midifollow

import (
	"fmt"
	"sync"

	"github.com/cbegin/midifollow-go/internal/follow"
	"github.com/cbegin/midifollow-go/internal/followwire"
	"github.com/cbegin/midifollow-go/internal/ingest"
	"github.com/cbegin/midifollow-go/internal/onset"
	"github.com/cbegin/midifollow-go/internal/scheduler"
	"github.com/cbegin/midifollow-go/internal/song"
	"github.com/cbegin/midifollow-go/internal/synth"
	"github.com/cbegin/midifollow-go/internal/synth/sfsynth"
)

// EventKind identifies what a PlaybackEvent reports.
type EventKind int

const (
	EventPlaybackEnded EventKind = iota
	EventTrackMuteChanged
)

// PlaybackEvent carries transport notifications from Watch().
type PlaybackEvent struct {
	Kind       EventKind
	TrackIndex int
}

// engineConfig holds the options NewEngine accepts.
type engineConfig struct {
	sampleRate int
	synth      synth.Synth
}

func defaultEngineConfig(sampleRate int) engineConfig {
	return engineConfig{
		sampleRate: sampleRate,
		synth:      sfsynth.New(sampleRate),
	}
}

// EngineOption configures a NewEngine call.
type EngineOption func(*engineConfig)

// WithSynth overrides the default meltysynth-backed synth, e.g. with a
// synthtest.Recorder in tests.
func WithSynth(s synth.Synth) EngineOption {
	return func(c *engineConfig) { c.synth = s }
}

// Engine is the top-level facade: compile a file, load a soundfont,
// drive the transport, and optionally run follow mode against a
// designated melody track.
type Engine struct {
	mu sync.Mutex

	synth     synth.Synth
	scheduler *scheduler.Scheduler
	detector  *onset.Detector
	follower  *follow.Controller

	song *song.Song

	eventCh   chan PlaybackEvent
	eventChMu sync.Mutex
}

// NewEngine constructs an Engine. sampleRate is only consulted by the
// default meltysynth backend; it's ignored if WithSynth is given.
func NewEngine(sampleRate int, opts ...EngineOption) (*Engine, error) {
	cfg := defaultEngineConfig(sampleRate)
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Engine{
		synth:    cfg.synth,
		detector: onset.New(onset.DefaultConfig()),
		follower: follow.New(follow.DefaultConfig()),
	}
	e.scheduler = scheduler.New(e.synth, scheduler.WithOnPlaybackEnded(func() {
		e.sendEvent(PlaybackEvent{Kind: EventPlaybackEnded})
	}))
	followwire.Bind(e.scheduler, e.follower)
	return e, nil
}

// LoadFile compiles path into a Song and loads it into the scheduler.
func (e *Engine) LoadFile(path string) error {
	sg, err := ingest.CompileFile(path)
	if err != nil {
		return fmt.Errorf("midifollow: load file: %w", err)
	}
	e.mu.Lock()
	e.song = sg
	e.mu.Unlock()
	e.scheduler.LoadSong(sg)
	return nil
}

// LoadBytes compiles raw SMF bytes into a Song and loads it.
func (e *Engine) LoadBytes(data []byte, fileName string) error {
	sg, err := ingest.CompileBytes(data, fileName)
	if err != nil {
		return fmt.Errorf("midifollow: load bytes: %w", err)
	}
	e.mu.Lock()
	e.song = sg
	e.mu.Unlock()
	e.scheduler.LoadSong(sg)
	return nil
}

// LoadSoundfont loads a .sf2/.sf3 bank into the underlying synth. Failure
// is surfaced and leaves the loaded song in place; Play is rejected while
// the synth is not ready.
func (e *Engine) LoadSoundfont(path string) error {
	return e.scheduler.LoadSoundfont(path)
}

// Song returns the currently loaded song, or nil.
func (e *Engine) Song() *song.Song {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.song
}

func (e *Engine) Play()                   { e.scheduler.Play() }
func (e *Engine) Pause()                  { e.scheduler.Pause() }
func (e *Engine) Stop()                   { e.scheduler.Stop() }
func (e *Engine) Seek(seconds float64)    { e.scheduler.Seek(seconds) }
func (e *Engine) SetSpeed(f float64)      { e.scheduler.SetSpeed(f) }
func (e *Engine) CurrentSeconds() float64 { return e.scheduler.CurrentSeconds() }
func (e *Engine) Progress() float64       { return e.scheduler.Progress() }
func (e *Engine) CurrentBPM() float64     { return e.scheduler.CurrentBPM() }
func (e *Engine) State() scheduler.State  { return e.scheduler.State() }

// ToggleTrackMute flips a track's mute flag and notifies watchers.
func (e *Engine) ToggleTrackMute(trackIndex int) {
	e.scheduler.ToggleTrackMute(trackIndex)
	e.sendEvent(PlaybackEvent{Kind: EventTrackMuteChanged, TrackIndex: trackIndex})
}

func (e *Engine) SetTrackVolume(trackIndex int, v float64) {
	e.scheduler.SetTrackVolume(trackIndex, v)
}

// FeedPitchSample pushes one microphone pitch frame into the onset
// detector, which in turn may publish to the follow controller if
// StartFollow is active.
func (e *Engine) FeedPitchSample(s song.PitchSample) {
	e.detector.Feed(s)
}

// StartFollow loads trackIndex's notes as the melody and begins follow
// mode: detected onsets adjust scheduler playback speed automatically.
func (e *Engine) StartFollow(trackIndex int) error {
	e.mu.Lock()
	sg := e.song
	e.mu.Unlock()
	if sg == nil || trackIndex < 0 || trackIndex >= len(sg.Tracks) {
		return fmt.Errorf("midifollow: invalid track index %d", trackIndex)
	}
	e.follower.LoadScore(sg.Tracks[trackIndex].Notes)
	onsets := e.detector.Watch()
	return e.follower.Start(onsets, e.detector.Detach)
}

// StopFollow halts follow mode and restores playback speed to 1.0.
func (e *Engine) StopFollow() {
	e.follower.Stop()
}

func (e *Engine) sendEvent(ev PlaybackEvent) {
	e.eventChMu.Lock()
	ch := e.eventCh
	e.eventChMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	default:
	}
}

// Watch returns a channel receiving PlaybackEvents. Only the most recent
// Watch() channel receives events.
func (e *Engine) Watch() <-chan PlaybackEvent {
	ch := make(chan PlaybackEvent, 8)
	e.eventChMu.Lock()
	e.eventCh = ch
	e.eventChMu.Unlock()
	return ch
}
