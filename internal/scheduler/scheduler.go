// Package scheduler implements the time-driven playback dispatcher: a
// cooperative ticker that walks a compiled song's timeline and drives an
// abstract synth.Synth at the right wall-clock moments. The tick-dispatch
// skeleton (a per-tick walk of one cursor over the merged timeline, firing
// due actions in order) is adapted from cbegin-mmlfm-go's internal/sequencer.Sequencer,
// generalized from an audio-frame-driven walk to a wall-clock-driven one.
package scheduler

import (
	"math"
	"os"
	"sort"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/cbegin/midifollow-go/internal/song"
	"github.com/cbegin/midifollow-go/internal/synth"
	"github.com/cbegin/midifollow-go/internal/tempo"
)

// State is one node of the transport state machine.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

const (
	defaultTickInterval = 5 * time.Millisecond
	minSpeed            = 0.25
	maxSpeed            = 4.0
)

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithLogger overrides the default charmbracelet/log logger.
func WithLogger(l *charmlog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithTickInterval overrides the ticker cadence; tests use this to avoid
// depending on wall-clock timing.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithOnPlaybackEnded registers a callback fired when playback reaches the
// end of the song on its own (not via an explicit Stop call).
func WithOnPlaybackEnded(fn func()) Option {
	return func(s *Scheduler) { s.onPlaybackEnded = fn }
}

// muteKey identifies one currently-sounding (track, channel, note) triple,
// used to silence exactly the notes a muted track turned on (see
// ToggleTrackMute) rather than either all_notes_off or a channel-wide
// note_off(0).
type muteKey struct {
	trackIndex int
	channel    int
	note       int
}

// Scheduler is the playback transport: Stopped -> Playing -> Paused ->
// Playing | Stopped. All mutable state is confined behind mu; a single
// background goroutine runs the ticker while state == Playing.
type Scheduler struct {
	mu     sync.Mutex
	logger *charmlog.Logger

	synth synth.Synth

	song         *song.Song
	tempoMap     *tempo.Map
	tickInterval time.Duration

	state          State
	currentSeconds float64
	cursor         int
	speed          float64
	lastWall       time.Time
	activeNotes    map[muteKey]struct{}

	tickerStop chan struct{}

	onPlaybackEnded func()
}

// New returns a Stopped scheduler driving synth. Call LoadSong before
// Play.
func New(s synth.Synth, opts ...Option) *Scheduler {
	sched := &Scheduler{
		synth:        s,
		tickInterval: defaultTickInterval,
		speed:        1.0,
		activeNotes:  make(map[muteKey]struct{}),
		logger:       charmlog.New(os.Stderr),
	}
	for _, opt := range opts {
		opt(sched)
	}
	return sched
}

// LoadSong replaces the loaded song and resets the transport to Stopped.
func (s *Scheduler) LoadSong(sg *song.Song) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTickerLocked()
	s.song = sg
	s.tempoMap = tempo.New(sg.TicksPerBeat, sg.TempoChanges)
	s.state = Stopped
	s.currentSeconds = 0
	s.cursor = 0
	s.activeNotes = make(map[muteKey]struct{})
}

// LoadSoundfont delegates to the underlying synth. Failure is surfaced to
// the caller and leaves the scheduler loaded; Play is rejected for as long
// as the synth is not ready.
func (s *Scheduler) LoadSoundfont(path string) error {
	return s.synth.LoadSoundfont(path)
}

// Play transitions Stopped->Playing or Paused->Playing. It is rejected
// without an error (only a warning is logged) if no song is loaded or the
// synth is not ready; re-entering Play while already Playing is a no-op.
func (s *Scheduler) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.song == nil {
		s.logger.Warn("play rejected: no song loaded")
		return
	}
	if !s.synth.IsReady() {
		s.logger.Warn("play rejected: synth not ready")
		return
	}
	if s.state == Playing {
		return
	}
	s.state = Playing
	s.lastWall = time.Now()
	s.startTickerLocked()
}

// Pause transitions Playing->Paused, stopping the ticker and silencing
// all notes.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Playing {
		return
	}
	s.state = Paused
	s.stopTickerLocked()
	s.synth.AllNotesOff()
	s.activeNotes = make(map[muteKey]struct{})
}

// Stop transitions any state to Stopped, rewinding the playhead to 0.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stopped {
		return
	}
	s.state = Stopped
	s.stopTickerLocked()
	s.currentSeconds = 0
	s.cursor = 0
	s.synth.AllNotesOff()
	s.activeNotes = make(map[muteKey]struct{})
}

// SetSpeed clamps f to [0.25, 4.0] and applies it starting at the next
// tick.
func (s *Scheduler) SetSpeed(f float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speed = clampF(f, minSpeed, maxSpeed)
}

// Speed returns the current playback speed factor.
func (s *Scheduler) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// Seek relocates the playhead to seconds, clamped to the song's duration,
// silences any hanging notes, and reapplies each track's program changes
// up to that point so the correct instrument is selected going forward.
func (s *Scheduler) Seek(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.song == nil {
		return
	}
	wasPlaying := s.state == Playing
	if wasPlaying {
		s.stopTickerLocked()
	}

	s.currentSeconds = clampF(seconds, 0, s.song.TotalSeconds)
	s.synth.AllNotesOff()
	s.activeNotes = make(map[muteKey]struct{})

	s.cursor = sort.Search(len(s.song.Timeline), func(i int) bool {
		return s.song.Timeline[i].Seconds > s.currentSeconds
	})
	s.reapplyProgramsLocked()

	if wasPlaying {
		s.state = Playing
		s.lastWall = time.Now()
		s.startTickerLocked()
	}
}

// reapplyProgramsLocked is the mandatory rewind-pass: for every channel a
// track owns, reconstruct the program in effect as of the new cursor and
// reapply it.
func (s *Scheduler) reapplyProgramsLocked() {
	seekTick := s.tempoMap.SecondsToTick(s.currentSeconds)
	for _, tr := range s.song.Tracks {
		localIdx := sort.Search(len(tr.Events), func(i int) bool {
			return tr.Events[i].Tick > seekTick
		})
		channels := make([]int, 0, len(tr.Channels))
		for ch := range tr.Channels {
			channels = append(channels, ch)
		}
		sort.Ints(channels)
		for _, ch := range channels {
			program := tr.ProgramAt(ch, localIdx)
			s.synth.SetInstrument(ch, 0, program)
		}
	}
}

// ToggleTrackMute flips a track's mute flag. Muting silences only the
// notes currently sounding because of that specific track (tracked via
// activeNotes), never all_notes_off and never note_off(channel, 0).
func (s *Scheduler) ToggleTrackMute(trackIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.song == nil || trackIndex < 0 || trackIndex >= len(s.song.Tracks) {
		return
	}
	tr := s.song.Tracks[trackIndex]
	tr.IsMuted = !tr.IsMuted
	if !tr.IsMuted {
		return
	}
	for k := range s.activeNotes {
		if k.trackIndex != trackIndex {
			continue
		}
		s.synth.NoteOff(k.channel, k.note)
		delete(s.activeNotes, k)
	}
}

// SetTrackVolume clamps v to [0,1] and sets the named track's volume.
func (s *Scheduler) SetTrackVolume(trackIndex int, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.song == nil || trackIndex < 0 || trackIndex >= len(s.song.Tracks) {
		return
	}
	s.song.Tracks[trackIndex].Volume = clampF(v, 0, 1)
}

// CurrentSeconds returns the playhead position.
func (s *Scheduler) CurrentSeconds() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSeconds
}

// Progress returns the playhead position as a fraction of total duration,
// in [0,1].
func (s *Scheduler) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.song == nil || s.song.TotalSeconds <= 0 {
		return 0
	}
	return clampF(s.currentSeconds/s.song.TotalSeconds, 0, 1)
}

// CurrentBPM returns the tempo in effect at the playhead.
func (s *Scheduler) CurrentBPM() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tempoMap == nil {
		return 0
	}
	return s.tempoMap.BpmAtTick(s.tempoMap.SecondsToTick(s.currentSeconds))
}

// State returns the current transport state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AdvanceForTesting drives the scheduler forward by delta as if a ticker
// fired, without needing a real clock or a background goroutine. It is
// exported for deterministic tests, the same way sequencer_test.go calls
// Process(dst) directly rather than going through real audio timing.
func (s *Scheduler) AdvanceForTesting(delta time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Playing {
		return
	}
	s.advanceLocked(delta)
}

func (s *Scheduler) startTickerLocked() {
	if s.tickerStop != nil {
		return
	}
	stop := make(chan struct{})
	s.tickerStop = stop
	go s.runTicker(stop)
}

func (s *Scheduler) stopTickerLocked() {
	if s.tickerStop == nil {
		return
	}
	close(s.tickerStop)
	s.tickerStop = nil
}

func (s *Scheduler) runTicker(stop chan struct{}) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			if s.state != Playing {
				s.mu.Unlock()
				continue
			}
			delta := now.Sub(s.lastWall)
			s.lastWall = now
			s.advanceLocked(delta)
			s.mu.Unlock()
		}
	}
}

// advanceLocked is a single tick's worth of work: move the clock forward
// and dispatch every event that has become due, in timeline order. Mirrors
// the dispatchTick shape in cbegin-mmlfm-go's sequencer, but driven by a
// wall-clock delta instead of an audio-frame count.
func (s *Scheduler) advanceLocked(deltaWall time.Duration) {
	s.currentSeconds += deltaWall.Seconds() * s.speed
	if s.currentSeconds >= s.song.TotalSeconds {
		s.currentSeconds = s.song.TotalSeconds
		s.dispatchUpToLocked(s.currentSeconds)
		s.stopLocked()
		if s.onPlaybackEnded != nil {
			go s.onPlaybackEnded()
		}
		return
	}
	s.dispatchUpToLocked(s.currentSeconds)
}

func (s *Scheduler) dispatchUpToLocked(upTo float64) {
	for s.cursor < len(s.song.Timeline) && s.song.Timeline[s.cursor].Seconds <= upTo {
		s.dispatch(s.song.Timeline[s.cursor])
		s.cursor++
	}
}

// stopLocked performs the Stop transition from inside the ticker
// goroutine, where s.mu is already held; it must not call s.Stop, which
// would deadlock trying to re-acquire the lock.
func (s *Scheduler) stopLocked() {
	s.state = Stopped
	if s.tickerStop != nil {
		close(s.tickerStop)
		s.tickerStop = nil
	}
	s.currentSeconds = 0
	s.cursor = 0
	s.synth.AllNotesOff()
	s.activeNotes = make(map[muteKey]struct{})
}

func (s *Scheduler) dispatch(ev song.TimelineEvent) {
	tr := s.song.Tracks[ev.TrackIndex]
	switch ev.Kind {
	case song.EventNoteOn:
		if tr.IsMuted {
			return
		}
		vel := int(math.Round(float64(ev.Data2) * tr.Volume))
		vel = clampInt(vel, 0, 127)
		if vel == 0 {
			return
		}
		s.synth.NoteOn(ev.Channel, ev.Data1, vel)
		s.activeNotes[muteKey{ev.TrackIndex, ev.Channel, ev.Data1}] = struct{}{}
	case song.EventNoteOff:
		s.synth.NoteOff(ev.Channel, ev.Data1)
		delete(s.activeNotes, muteKey{ev.TrackIndex, ev.Channel, ev.Data1})
	case song.EventProgramChange:
		s.synth.SetInstrument(ev.Channel, 0, ev.Data1)
	default:
		// ControlChange, PitchBend and meta events are dropped: the synth
		// abstraction is intentionally minimal.
	}
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
