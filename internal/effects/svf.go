package effects

import "math"

// SVF is a topology-preserving-transform state-variable filter (Simper).
// Blend selects the response: -1 lowpass, 0 bandpass, +1 highpass, with a
// constant-energy crossfade between them. Coefficients are recomputed per
// sample so the cutoff can be modulated without zipper noise.
type SVF struct {
	sampleRate float64
	cutoffHz   float64
	k          float64 // 1/Q
	lowAmt     float64
	bandAmt    float64
	highAmt    float64

	ic1L, ic2L float64
	ic1R, ic2R float64
}

func NewSVF(sampleRate int, cutoffHz, resonance, blend float64) *SVF {
	f := &SVF{sampleRate: float64(sampleRate)}
	f.SetCutoffHz(cutoffHz)
	f.SetResonance(resonance)
	f.SetBlend(blend)
	return f
}

func (f *SVF) SetCutoffHz(hz float64) {
	if hz < 10 {
		hz = 10
	}
	f.cutoffHz = hz
}

func (f *SVF) CutoffHz() float64 { return f.cutoffHz }

func (f *SVF) SetResonance(q float64) {
	if q < 1e-6 {
		q = 1e-6
	}
	f.k = 1 / q
}

// SetBlend maps blend in [-1,1] to low/band/high amounts. The band amount
// follows a circular crossfade so energy stays near unity across the sweep.
func (f *SVF) SetBlend(blend float64) {
	if blend < -1 {
		blend = -1
	} else if blend > 1 {
		blend = 1
	}
	f.bandAmt = math.Sqrt(math.Max(0, 1-blend*blend))
	if blend < 0 {
		f.lowAmt, f.highAmt = -blend, 0
	} else {
		f.lowAmt, f.highAmt = 0, blend
	}
}

func (f *SVF) Process(l, r float32) (float32, float32) {
	ratio := f.cutoffHz / f.sampleRate
	if ratio > 0.499 {
		ratio = 0.499
	}
	g := math.Tan(math.Pi * ratio)
	denom := 1 + g*(g+f.k)
	a0 := 1 / denom
	a1 := g * a0
	a2 := g * a1

	step := func(x float64, ic1, ic2 *float64) float64 {
		v3 := x - *ic2
		v1 := a0**ic1 + a1*v3
		v2 := *ic2 + a1**ic1 + a2*v3
		*ic1 = 2*v1 - *ic1
		*ic2 = 2*v2 - *ic2
		lp := v2
		bp := v1
		hp := x - f.k*bp - lp
		return f.lowAmt*lp + f.bandAmt*bp + f.highAmt*hp
	}
	outL := step(float64(l), &f.ic1L, &f.ic2L)
	outR := step(float64(r), &f.ic1R, &f.ic2R)
	return float32(outL), float32(outR)
}

func (f *SVF) Reset() {
	f.ic1L, f.ic2L = 0, 0
	f.ic1R, f.ic2R = 0, 0
}
