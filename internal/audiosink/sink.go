// Package audiosink turns a rendering synth.Synth implementation into a
// real-time audio stream via ebiten's audio context, adapted from
// cbegin-mmlfm-go's internal/audio/stream.go StreamReader/Player pair. It
// is the one piece of this repo that actually produces sound; the
// scheduler itself never touches audio samples.
package audiosink

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// Renderer is satisfied by any synth implementation that can produce
// split-channel float32 audio, such as internal/synth/sfsynth.Synth.
type Renderer interface {
	Render(left, right []float32)
}

// StreamReader adapts a Renderer to io.Reader, interleaving left/right
// channels into the float32 little-endian format ebiten's audio context
// expects.
type StreamReader struct {
	mu          sync.Mutex
	renderer    Renderer
	left, right []float32
}

func NewStreamReader(renderer Renderer) *StreamReader {
	return &StreamReader{renderer: renderer}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	if cap(r.left) < frames {
		r.left = make([]float32, frames)
		r.right = make([]float32, frames)
	}
	r.left = r.left[:frames]
	r.right = r.right[:frames]
	r.renderer.Render(r.left, r.right)

	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint32(p[i*8:], math.Float32bits(r.left[i]))
		binary.LittleEndian.PutUint32(p[i*8+4:], math.Float32bits(r.right[i]))
	}
	return frames * 8, nil
}

func (r *StreamReader) Close() error { return nil }

// Player wraps an ebiten audio player over a Renderer-backed stream.
type Player struct {
	player *ebitaudio.Player
	reader io.ReadCloser
}

var (
	contextOnce    sync.Once
	sharedContext  *ebitaudio.Context
	sharedSampleHz int
)

func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	contextOnce.Do(func() {
		sharedSampleHz = sampleRate
		sharedContext = ebitaudio.NewContext(sampleRate)
	})
	if sharedSampleHz != sampleRate {
		return nil, fmt.Errorf("audiosink: context already initialized at %d Hz (requested %d Hz)", sharedSampleHz, sampleRate)
	}
	return sharedContext, nil
}

// NewPlayer opens a real-time playback stream over renderer at sampleRate.
func NewPlayer(sampleRate int, renderer Renderer) (*Player, error) {
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(renderer)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, err
	}
	return &Player{player: pl, reader: reader}, nil
}

func (p *Player) Play()           { p.player.Play() }
func (p *Player) Pause()          { p.player.Pause() }
func (p *Player) IsPlaying() bool { return p.player.IsPlaying() }

// Position returns the current playback position (what the listener
// actually hears), which lags the scheduler's own current_seconds by the
// output buffer's latency.
func (p *Player) Position() time.Duration { return p.player.Position() }

func (p *Player) Stop() error {
	p.player.Pause()
	p.player.Close()
	return p.reader.Close()
}
