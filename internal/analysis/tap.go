// Package analysis computes frequency- and time-domain snapshots of the
// mixed output signal for the visual engine.
package analysis

import (
	"math"
	"math/cmplx"
	"sync"

	algofft "github.com/cwbudde/algo-fft"
)

const (
	// FFTSize is the analysis transform length; bins = FFTSize/2.
	FFTSize = 2048
	// WaveformLen is the number of time-domain samples per snapshot.
	WaveformLen = 1024

	minDB = -80.0
	maxDB = 0.0
)

// Tap accumulates the mono mix in a ring buffer on the audio thread and
// produces per-frame byte snapshots on demand. Frequency bins are
// log-magnitude mapped onto [0,255] over minDB..maxDB with exponential
// smoothing; time-domain bytes are centered at 128 so (b-128)/128
// recovers a float in ~[-1,1].
type Tap struct {
	mu     sync.Mutex
	ring   []float64
	write  int
	filled int

	plan      *algofft.Plan[complex128]
	window    []float64
	spec      []complex128
	buf       []complex128
	smoothed  []float64
	smoothing float64
	ready     bool
}

func NewTap() (*Tap, error) {
	plan, err := algofft.NewPlan64(FFTSize)
	if err != nil {
		return nil, err
	}
	window := make([]float64, FFTSize)
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(FFTSize-1))
	}
	return &Tap{
		ring:      make([]float64, FFTSize),
		plan:      plan,
		window:    window,
		spec:      make([]complex128, FFTSize),
		buf:       make([]complex128, FFTSize),
		smoothed:  make([]float64, FFTSize/2),
		smoothing: 0.65,
	}, nil
}

// Push mixes an interleaved stereo block into the ring buffer. Runs on the
// audio thread; the lock is held only long enough to copy samples.
func (t *Tap) Push(stereo []float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i+1 < len(stereo); i += 2 {
		t.ring[t.write] = float64(stereo[i]+stereo[i+1]) * 0.5
		t.write++
		if t.write >= len(t.ring) {
			t.write = 0
		}
		if t.filled < len(t.ring) {
			t.filled++
		}
	}
}

// Waveform returns the most recent WaveformLen samples as bytes centered at
// 128. A fresh slice every call; callers own the result.
func (t *Tap) Waveform() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, WaveformLen)
	read := t.write - WaveformLen
	for read < 0 {
		read += len(t.ring)
	}
	for i := range out {
		s := t.ring[read]
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = byte(128 + s*127)
		read++
		if read >= len(t.ring) {
			read = 0
		}
	}
	return out
}

// FrequencyBins computes a windowed FFT over the ring contents and returns
// FFTSize/2 magnitude bytes. Smoothing carries over between calls so the
// display does not flicker.
func (t *Tap) FrequencyBins() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	read := t.write
	for i := 0; i < FFTSize; i++ {
		t.buf[i] = complex(t.ring[read]*t.window[i], 0)
		read++
		if read >= len(t.ring) {
			read = 0
		}
	}
	out := make([]byte, FFTSize/2)
	if err := t.plan.Forward(t.spec, t.buf); err != nil {
		return out
	}
	const eps = 1e-12
	norm := float64(FFTSize) * 0.5 // Hann coherent gain
	for k := 0; k < FFTSize/2; k++ {
		mag := cmplx.Abs(t.spec[k]) / norm
		if k > 0 {
			mag *= 2
		}
		db := 20 * math.Log10(math.Max(eps, mag))
		if db < minDB {
			db = minDB
		}
		if db > maxDB {
			db = maxDB
		}
		if t.ready {
			db = t.smoothing*t.smoothed[k] + (1-t.smoothing)*db
		}
		t.smoothed[k] = db
		out[k] = byte((db - minDB) / (maxDB - minDB) * 255)
	}
	t.ready = true
	return out
}
