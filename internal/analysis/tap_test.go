package analysis

import (
	"math"
	"testing"
)

func pushSine(t *Tap, freq, sampleRate float64, frames int) {
	buf := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		s := float32(0.8 * math.Sin(2*math.Pi*freq*float64(i)/sampleRate))
		buf[2*i] = s
		buf[2*i+1] = s
	}
	t.Push(buf)
}

func TestWaveformSilenceCentersAt128(t *testing.T) {
	tap, err := NewTap()
	if err != nil {
		t.Fatal(err)
	}
	w := tap.Waveform()
	if len(w) != WaveformLen {
		t.Fatalf("waveform length = %d", len(w))
	}
	for i, b := range w {
		if b != 128 {
			t.Fatalf("silent sample %d = %d, want 128", i, b)
		}
	}
}

func TestWaveformEncodesAmplitude(t *testing.T) {
	tap, err := NewTap()
	if err != nil {
		t.Fatal(err)
	}
	pushSine(tap, 440, 48000, FFTSize)
	w := tap.Waveform()
	var lo, hi byte = 255, 0
	for _, b := range w {
		if b < lo {
			lo = b
		}
		if b > hi {
			hi = b
		}
	}
	// 0.8 full-scale sine: excursions well away from center on both sides.
	if hi < 128+80 || lo > 128-80 {
		t.Fatalf("waveform range [%d,%d] too narrow for 0.8 sine", lo, hi)
	}
}

func TestFrequencyBinsPeakAtSineBin(t *testing.T) {
	tap, err := NewTap()
	if err != nil {
		t.Fatal(err)
	}
	const sampleRate = 48000.0
	// Put the tone exactly on a bin center.
	bin := 40
	freq := float64(bin) * sampleRate / FFTSize
	pushSine(tap, freq, sampleRate, FFTSize*2)
	bins := tap.FrequencyBins()
	if len(bins) != FFTSize/2 {
		t.Fatalf("bin count = %d", len(bins))
	}
	peak := 0
	for k, v := range bins {
		if v > bins[peak] {
			peak = k
		}
		_ = v
	}
	if peak < bin-1 || peak > bin+1 {
		t.Fatalf("peak bin = %d, want ~%d", peak, bin)
	}
	// A far-away bin should read much lower than the peak.
	far := bins[FFTSize/4]
	if int(bins[peak])-int(far) < 50 {
		t.Fatalf("insufficient contrast: peak %d vs far %d", bins[peak], far)
	}
}

func TestFrequencyBinsSmoothingDecaysAfterSilence(t *testing.T) {
	tap, err := NewTap()
	if err != nil {
		t.Fatal(err)
	}
	const sampleRate = 48000.0
	bin := 40
	freq := float64(bin) * sampleRate / FFTSize
	pushSine(tap, freq, sampleRate, FFTSize*2)
	loud := tap.FrequencyBins()[bin]
	tap.Push(make([]float32, FFTSize*4)) // silence overwrites the ring
	after := tap.FrequencyBins()[bin]
	if after >= loud {
		t.Fatalf("bin did not decay after silence: %d -> %d", loud, after)
	}
}
