// Package follow implements the adaptive-speed controller that compares
// live onset events against a melody score and continuously re-estimates
// a playback speed factor with an exponential moving average. Its
// subscribe/cancel wiring reuses internal/streamutil, the same mechanism
// internal/onset uses, which itself is grounded on the Watch()/eventCh
// broadcast pattern in cbegin-mmlfm-go's player.go.
package follow

import (
	"errors"
	"sort"

	"github.com/cbegin/midifollow-go/internal/song"
	"github.com/cbegin/midifollow-go/internal/streamutil"
)

// ErrNoScore is returned by Start when no score has been loaded.
var ErrNoScore = errors.New("follow: no score loaded")

// State is one node of the Idle -> Following -> WaitingForOnset ->
// Following|Idle state machine.
type State int

const (
	Idle State = iota
	Following
	WaitingForOnset
)

func (s State) String() string {
	switch s {
	case Following:
		return "following"
	case WaitingForOnset:
		return "waiting_for_onset"
	default:
		return "idle"
	}
}

// Config holds the controller's tunable thresholds.
type Config struct {
	EMAAlpha            float64
	MinSpeed            float64
	MaxSpeed            float64
	NoteMatchTolerance  int
	RestThresholdSecs   float64
	UnmatchedThreshold  int
	LookAheadPositions  int
}

// DefaultConfig matches the defaults named in the follow-controller design.
func DefaultConfig() Config {
	return Config{
		EMAAlpha:           0.3,
		MinSpeed:           0.25,
		MaxSpeed:           4.0,
		NoteMatchTolerance: 2,
		RestThresholdSecs:  1.0,
		UnmatchedThreshold: 3,
		LookAheadPositions: 3,
	}
}

// Controller tracks expected position within a melody and emits a speed
// factor derived from how the performer's actual onset timing compares to
// the score's written timing.
type Controller struct {
	cfg Config

	scoreNotes    []song.Note
	expectedIndex int
	speedFactor   float64
	lastOnsetTime float64
	haveLastOnset bool
	unmatchedRun  int

	state State

	onSpeedChanged func(float64)
	onStateChanged func(State)

	onsetSub    <-chan song.OnsetEvent
	detachOnset func()
	stopFeed    chan struct{}
	speedBus    *streamutil.Broadcaster[float64]
}

// New returns an Idle controller.
func New(cfg Config) *Controller {
	return &Controller{
		cfg:         cfg,
		speedFactor: 1.0,
		speedBus:    streamutil.NewBroadcaster[float64](),
	}
}

// OnSpeedChanged registers a callback invoked synchronously, on whatever
// goroutine delivers the triggering onset, whenever speedFactor changes.
func (c *Controller) OnSpeedChanged(fn func(float64)) { c.onSpeedChanged = fn }

// OnStateChanged registers a callback invoked synchronously on state
// transitions.
func (c *Controller) OnStateChanged(fn func(State)) { c.onStateChanged = fn }

// WatchSpeed returns a channel mirroring OnSpeedChanged, for callers that
// prefer the channel idiom over a callback.
func (c *Controller) WatchSpeed() <-chan float64 { return c.speedBus.Subscribe(8) }

// LoadScore stores a sorted copy of the melody notes the controller will
// track.
func (c *Controller) LoadScore(notes []song.Note) {
	c.scoreNotes = make([]song.Note, len(notes))
	copy(c.scoreNotes, notes)
	sort.Slice(c.scoreNotes, func(i, j int) bool { return c.scoreNotes[i].StartSeconds < c.scoreNotes[j].StartSeconds })
}

// Start resets counters and begins matching onsets delivered through
// onsets (e.g. from onset.Detector.Watch). cancel detaches the subscription
// when Stop is called.
func (c *Controller) Start(onsets <-chan song.OnsetEvent, cancel func()) error {
	if len(c.scoreNotes) == 0 {
		return ErrNoScore
	}
	c.expectedIndex = 0
	c.speedFactor = 1.0
	c.haveLastOnset = false
	c.unmatchedRun = 0
	c.onsetSub = onsets
	c.detachOnset = cancel
	c.stopFeed = make(chan struct{})
	c.setState(Following)

	stop := c.stopFeed
	go func() {
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-onsets:
				if !ok {
					return
				}
				c.OnOnset(ev)
			}
		}
	}()
	return nil
}

// Stop unsubscribes, resets speed to 1.0, and returns to Idle. It stops the
// onset-feeding goroutine started by Start via a dedicated signal channel
// rather than relying on the source channel being closed, since
// streamutil.Broadcaster.Cancel intentionally never closes the channel it
// handed out.
func (c *Controller) Stop() {
	if c.stopFeed != nil {
		close(c.stopFeed)
		c.stopFeed = nil
	}
	if c.detachOnset != nil {
		c.detachOnset()
		c.detachOnset = nil
	}
	c.speedFactor = 1.0
	c.publishSpeed()
	c.setState(Idle)
}

// ResumeFromIndex repositions the expected melody index, used after the
// scheduler seeks.
func (c *Controller) ResumeFromIndex(i int) {
	if i < 0 {
		i = 0
	}
	c.expectedIndex = i
	c.haveLastOnset = false
}

// SpeedFactor returns the current EMA-smoothed speed multiplier.
func (c *Controller) SpeedFactor() float64 { return c.speedFactor }

// State returns the current controller state.
func (c *Controller) State() State { return c.state }

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.onStateChanged != nil {
		c.onStateChanged(s)
	}
}

func (c *Controller) publishSpeed() {
	if c.onSpeedChanged != nil {
		c.onSpeedChanged(c.speedFactor)
	}
	c.speedBus.Publish(c.speedFactor)
}

func (c *Controller) matches(onsetNote, scoreIndex int) bool {
	d := onsetNote - c.scoreNotes[scoreIndex].NoteNumber
	if d < 0 {
		d = -d
	}
	return d <= c.cfg.NoteMatchTolerance
}

// OnOnset processes one onset event against the current expected score
// position, per the matching/look-ahead/decay rules.
func (c *Controller) OnOnset(ev song.OnsetEvent) {
	if c.expectedIndex >= len(c.scoreNotes) {
		c.Stop()
		return
	}

	if c.matches(ev.MidiNote, c.expectedIndex) {
		c.advanceMatched(ev, c.expectedIndex)
		return
	}

	lookAhead := c.cfg.LookAheadPositions
	limit := c.expectedIndex + 1 + lookAhead
	if limit > len(c.scoreNotes) {
		limit = len(c.scoreNotes)
	}
	for i := c.expectedIndex + 1; i < limit; i++ {
		if c.matches(ev.MidiNote, i) {
			c.advanceMatched(ev, i)
			return
		}
	}

	c.unmatchedRun++
	if c.unmatchedRun >= c.cfg.UnmatchedThreshold {
		target := clampF(c.speedFactor*0.9, c.cfg.MinSpeed, c.cfg.MaxSpeed)
		c.speedFactor = clampF(c.cfg.EMAAlpha*target+(1-c.cfg.EMAAlpha)*c.speedFactor, c.cfg.MinSpeed, c.cfg.MaxSpeed)
		c.publishSpeed()
	}
}

func (c *Controller) advanceMatched(ev song.OnsetEvent, scoreIndex int) {
	c.unmatchedRun = 0
	if c.state == WaitingForOnset {
		c.setState(Following)
	}

	if c.haveLastOnset && scoreIndex > 0 {
		actualInterval := ev.Timestamp - c.lastOnsetTime
		expectedInterval := c.scoreNotes[scoreIndex].StartSeconds - c.scoreNotes[scoreIndex-1].StartSeconds
		if actualInterval > 0.01 && expectedInterval > 0.01 {
			raw := expectedInterval / actualInterval
			clamped := clampF(raw, c.cfg.MinSpeed, c.cfg.MaxSpeed)
			c.speedFactor = clampF(c.cfg.EMAAlpha*clamped+(1-c.cfg.EMAAlpha)*c.speedFactor, c.cfg.MinSpeed, c.cfg.MaxSpeed)
			c.publishSpeed()
		}
	}

	c.lastOnsetTime = ev.Timestamp
	c.haveLastOnset = true
	c.expectedIndex = scoreIndex + 1

	c.checkRest()
}

func (c *Controller) checkRest() {
	if c.expectedIndex >= len(c.scoreNotes) || c.expectedIndex == 0 {
		return
	}
	gap := c.scoreNotes[c.expectedIndex].StartSeconds - c.scoreNotes[c.expectedIndex-1].EndSeconds
	if gap >= c.cfg.RestThresholdSecs {
		c.setState(WaitingForOnset)
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
