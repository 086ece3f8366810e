package indicator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jfreymuth/pulse"
)

type cueKind int

const (
	cueStart cueKind = iota + 1
	cueStop
	cueError
)

const (
	cueSampleRate = 16000
	cueGap        = 22 * time.Millisecond
)

type tone struct {
	hz     float64
	length time.Duration
	volume float64
}

var cueTones = map[cueKind][]tone{
	cueStart: {
		{hz: 660, length: 60 * time.Millisecond, volume: 0.18},
		{hz: 990, length: 80 * time.Millisecond, volume: 0.18},
	},
	cueStop: {
		{hz: 990, length: 60 * time.Millisecond, volume: 0.18},
		{hz: 660, length: 90 * time.Millisecond, volume: 0.18},
	},
	cueError: {
		{hz: 330, length: 140 * time.Millisecond, volume: 0.2},
		{hz: 330, length: 140 * time.Millisecond, volume: 0.2},
	},
}

// playSamples is swapped in tests to avoid a pulse server.
var playSamples = playPulse

func emitCue(ctx context.Context, kind cueKind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	samples := cueSamples(kind)
	if len(samples) == 0 {
		return nil
	}
	return playSamples(samples)
}

func cueSamples(kind cueKind) []int16 {
	return synthesizeCue(cueTones[kind])
}

func playPulse(samples []int16) error {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("reel"),
		pulse.ClientApplicationIconName("camera-video"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	cursor := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if cursor >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[cursor:])
		cursor += n
		if cursor >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(cueSampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("reel cue"),
	)
	if err != nil {
		return fmt.Errorf("create cue playback: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play cue: %w", err)
	}
	return nil
}

func synthesizeCue(parts []tone) []int16 {
	if len(parts) == 0 {
		return nil
	}
	gap := sampleCount(cueGap)

	var pcm []int16
	for i, part := range parts {
		if i > 0 {
			pcm = append(pcm, make([]int16, gap)...)
		}
		pcm = append(pcm, synthesizeTone(part)...)
	}
	return pcm
}

// synthesizeTone renders a sine tone with a short linear fade at both ends.
func synthesizeTone(t tone) []int16 {
	n := sampleCount(t.length)
	if n <= 0 || t.hz <= 0 || t.volume <= 0 {
		return nil
	}

	ramp := max(1, min(n/10, cueSampleRate/200))
	pcm := make([]int16, n)
	for i := range n {
		envelope := min(1.0, float64(i)/float64(ramp), float64(n-i-1)/float64(ramp))
		phase := 2 * math.Pi * t.hz * float64(i) / cueSampleRate
		pcm[i] = int16(math.Round(math.Sin(phase) * t.volume * envelope * math.MaxInt16))
	}
	return pcm
}

func sampleCount(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}
