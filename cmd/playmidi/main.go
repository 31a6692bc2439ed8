package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"

	midifollow "github.com/cbegin/midifollow-go"
	"github.com/cbegin/midifollow-go/internal/audiosink"
	"github.com/cbegin/midifollow-go/internal/synth/sfsynth"
)

func main() {
	var (
		sampleRate   = flag.Int("sample-rate", 44100, "output sample rate")
		midiPath     = flag.String("file", "", "path to a .mid file")
		soundfontPat = flag.String("soundfont", "", "path to a .sf2/.sf3 soundfont")
		speed        = flag.Float64("speed", 1.0, "initial playback speed")
	)
	flag.Parse()

	logger := charmlog.New(os.Stderr)

	if *midiPath == "" {
		logger.Fatal("missing -file")
	}

	sf := sfsynth.New(*sampleRate)
	engine, err := midifollow.NewEngine(*sampleRate, midifollow.WithSynth(sf))
	if err != nil {
		logger.Fatal("create engine", "err", err)
	}

	if err := engine.LoadFile(*midiPath); err != nil {
		logger.Fatal("load file", "err", err)
	}

	if *soundfontPat != "" {
		if err := engine.LoadSoundfont(*soundfontPat); err != nil {
			logger.Fatal("load soundfont", "err", err)
		}
	}

	player, err := audiosink.NewPlayer(*sampleRate, sf)
	if err != nil {
		logger.Fatal("open audio player", "err", err)
	}
	player.Play()

	engine.SetSpeed(*speed)
	ch := engine.Watch()
	engine.Play()

	fmt.Printf("playing %s\n", *midiPath)
	for ev := range ch {
		switch ev.Kind {
		case midifollow.EventPlaybackEnded:
			fmt.Println("playback completed")
			_ = player.Stop()
			return
		case midifollow.EventTrackMuteChanged:
			fmt.Printf("track %d mute toggled\n", ev.TrackIndex)
		}
	}

	for player.IsPlaying() {
		time.Sleep(50 * time.Millisecond)
	}
}
