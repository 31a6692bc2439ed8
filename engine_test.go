package midifollow

import (
	"testing"
	"time"

	"github.com/cbegin/midifollow-go/internal/song"
	"github.com/cbegin/midifollow-go/internal/synth/synthtest"
)

func newTestEngine(t *testing.T) (*Engine, *synthtest.Recorder) {
	t.Helper()
	rec := synthtest.New()
	e, err := NewEngine(44100, WithSynth(rec))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, rec
}

func TestNewEngineStartsIdleWithNoSong(t *testing.T) {
	e, _ := newTestEngine(t)
	if e.Song() != nil {
		t.Fatalf("Song() = %v, want nil before LoadFile", e.Song())
	}
	if e.State() != 0 { // scheduler.Stopped
		t.Fatalf("State() = %v, want Stopped", e.State())
	}
}

func TestToggleTrackMuteSendsEvent(t *testing.T) {
	e, rec := newTestEngine(t)
	rec.LoadSoundfont("fixture.sf2")
	e.song = &song.Song{
		TicksPerBeat: 480,
		Tracks:       []*song.Track{song.NewTrack(0)},
		TotalSeconds: 1,
	}
	e.scheduler.LoadSong(e.song)

	events := e.Watch()
	e.ToggleTrackMute(0)

	select {
	case ev := <-events:
		if ev.Kind != EventTrackMuteChanged || ev.TrackIndex != 0 {
			t.Fatalf("got %+v, want EventTrackMuteChanged for track 0", ev)
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatalf("ToggleTrackMute did not publish a PlaybackEvent")
	}
}

func TestStartFollowRejectsOutOfRangeTrack(t *testing.T) {
	e, _ := newTestEngine(t)
	e.song = &song.Song{Tracks: []*song.Track{song.NewTrack(0)}}
	if err := e.StartFollow(5); err == nil {
		t.Fatalf("StartFollow(5) with one track did not error")
	}
}

func TestStartFollowRejectsWithoutLoadedSong(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.StartFollow(0); err == nil {
		t.Fatalf("StartFollow before LoadFile did not error")
	}
}

func TestOnlyMostRecentWatchChannelReceivesEvents(t *testing.T) {
	e, rec := newTestEngine(t)
	rec.LoadSoundfont("fixture.sf2")
	e.song = &song.Song{
		TicksPerBeat: 480,
		Tracks:       []*song.Track{song.NewTrack(0)},
		TotalSeconds: 1,
	}
	e.scheduler.LoadSong(e.song)

	first := e.Watch()
	second := e.Watch()
	e.ToggleTrackMute(0)

	select {
	case <-first:
		t.Fatalf("stale Watch() channel received an event")
	case <-time.After(10 * time.Millisecond):
	}
	select {
	case <-second:
	case <-time.After(50 * time.Millisecond):
		t.Fatalf("current Watch() channel received nothing")
	}
}

func TestPlaybackEndedPublishesEventToWatcher(t *testing.T) {
	e, rec := newTestEngine(t)
	rec.LoadSoundfont("fixture.sf2")
	sg := &song.Song{
		TicksPerBeat: 480,
		Tracks:       []*song.Track{song.NewTrack(0)},
		Timeline: []song.TimelineEvent{
			{Kind: song.EventNoteOn, Tick: 0, Seconds: 0, Channel: 0, Data1: 60, Data2: 100},
			{Kind: song.EventNoteOff, Tick: 100, Seconds: 0.1, Channel: 0, Data1: 60},
		},
		TotalTicks:   100,
		TotalSeconds: 0.1,
	}
	e.song = sg
	e.scheduler.LoadSong(sg)

	events := e.Watch()
	e.Play()

	select {
	case ev := <-events:
		if ev.Kind != EventPlaybackEnded {
			t.Fatalf("got %+v, want EventPlaybackEnded", ev)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("playback never reported EventPlaybackEnded")
	}
}
