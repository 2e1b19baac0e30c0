package effects

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/cbegin/visynth-go/internal/lfo"
)

// SignalChain is the fixed master topology every voice feeds into:
// mono voice mix -> state-variable filter (cutoff modulated by a shared
// LFO) -> stereo feedback delay -> master gain -> optional sample tap.
// Parameter setters run on the control path; Process runs on the audio
// thread and takes a short per-block lock.
type SignalChain struct {
	mu         sync.Mutex
	sampleRate int

	filter     *SVF
	baseCutoff float64
	cutoffLFO  *lfo.LFO

	delay   *Delay
	delayMs float64
	fx      *Chain

	masterGain atomic.Uint64 // float64 bits

	tap func([]float32)
}

func NewSignalChain(sampleRate int) *SignalChain {
	c := &SignalChain{
		sampleRate: sampleRate,
		filter:     NewSVF(sampleRate, 8000, 0.7, -1),
		baseCutoff: 8000,
		cutoffLFO:  &lfo.LFO{},
		delay:      NewDelay(sampleRate, 250, 0.35, 0.3, 0.25),
		delayMs:    250,
	}
	c.fx = NewChain(c.filter, c.delay)
	c.masterGain.Store(math.Float64bits(0.8))
	return c
}

// SetFilter updates cutoff, resonance and the lowpass/bandpass/highpass
// blend. Cutoff is the unmodulated base; the LFO sweeps around it.
func (c *SignalChain) SetFilter(cutoffHz, resonance, blend float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseCutoff = cutoffHz
	c.filter.SetCutoffHz(cutoffHz)
	c.filter.SetResonance(resonance)
	c.filter.SetBlend(blend)
}

// SetLFO configures cutoff modulation. Depth is in octaves around the base
// cutoff; zero depth or rate disables modulation.
func (c *SignalChain) SetLFO(depthOctaves, rateHz float64, waveform int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cutoffLFO.Set(depthOctaves, rateHz, waveform)
}

// SetDelay updates the feedback delay. Changing the delay time rebuilds the
// buffer; other parameter changes keep the tail intact.
func (c *SignalChain) SetDelay(timeMs, feedback, cross, wet float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timeMs != c.delayMs {
		c.delay = NewDelay(c.sampleRate, timeMs, float32(feedback), float32(cross), float32(wet))
		c.delayMs = timeMs
		c.fx = NewChain(c.filter, c.delay)
		return
	}
	c.delay.SetAmounts(float32(feedback), float32(cross), float32(wet))
}

func (c *SignalChain) SetMasterGain(g float64) {
	if g < 0 {
		g = 0
	}
	c.masterGain.Store(math.Float64bits(g))
}

func (c *SignalChain) MasterGain() float64 {
	return math.Float64frombits(c.masterGain.Load())
}

// SetTap installs a callback invoked with each processed stereo block.
// The callback runs on the audio thread; keep work brief and non-blocking.
func (c *SignalChain) SetTap(tap func([]float32)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tap = tap
}

// Process filters the mono voice mix into interleaved stereo output.
// len(dst) must be 2*len(mono).
func (c *SignalChain) Process(mono []float64, dst []float32) {
	gain := float32(c.MasterGain())
	c.mu.Lock()
	sr := float64(c.sampleRate)
	for i, s := range mono {
		if c.cutoffLFO.Active() {
			mod := c.cutoffLFO.Sample(sr)
			c.filter.SetCutoffHz(c.baseCutoff * math.Pow(2, mod))
		}
		in := float32(s)
		l, r := c.fx.Process(in, in)
		dst[2*i] = l * gain
		dst[2*i+1] = r * gain
	}
	tap := c.tap
	c.mu.Unlock()
	if tap != nil {
		tap(dst[:2*len(mono)])
	}
}

// Reset clears all filter and delay state.
func (c *SignalChain) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fx.Reset()
	c.cutoffLFO.Reset()
}
