package visual

import (
	"math"
	"testing"
)

func sineWaveBytes(n int, period float64, phase float64) []byte {
	out := make([]byte, n)
	for i := range out {
		s := math.Sin(2 * math.Pi * (float64(i) + phase) / period)
		out[i] = byte(128 + s*100)
	}
	return out
}

func TestFractionalZeroCrossing(t *testing.T) {
	// sin crosses zero rising at index 10.5 for phase -10.5.
	w := make([]float64, 64)
	for i := range w {
		w[i] = math.Sin(2 * math.Pi * (float64(i) - 10.5) / 32)
	}
	got, found := fractionalZeroCrossing(w, len(w)/2)
	if !found {
		t.Fatal("no crossing found")
	}
	if math.Abs(got-10.5) > 0.1 {
		t.Fatalf("crossing at %f, want ~10.5", got)
	}
}

func TestFractionalZeroCrossingNoneFound(t *testing.T) {
	w := []float64{-1, -1, -1, -1, -1, -1, -1, -1}
	if _, found := fractionalZeroCrossing(w, len(w)); found {
		t.Fatal("found a crossing in an all-negative signal")
	}
}

func TestSampleCircularWrapsAndInterpolates(t *testing.T) {
	w := []float64{0, 1, 2, 3}
	got := sampleCircular(w, 1, 4)
	want := []float64{1, 2, 3, 0}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("shift by 1: got %v", got)
		}
	}
	got = sampleCircular(w, 0.5, 4)
	if math.Abs(got[0]-0.5) > 1e-12 || math.Abs(got[3]-1.5) > 1e-12 {
		t.Fatalf("fractional shift: got %v", got)
	}
}

func TestBestCircularShiftRecoversRotation(t *testing.T) {
	base := make([]float64, 512)
	for i := range base {
		base[i] = math.Sin(2*math.Pi*float64(i)/128) + 0.3*math.Sin(2*math.Pi*float64(i)/37)
	}
	template := make([]float64, templateLen)
	copy(template, base[:templateLen])
	cur := sampleCircular(base, 3, len(base))
	shift := bestCircularShift(cur, template, 8)
	if shift != -3 {
		t.Fatalf("shift = %d, want -3", shift)
	}
	aligned := sampleCircular(cur, float64(shift), len(cur))
	for i := 0; i < templateLen; i++ {
		if math.Abs(aligned[i]-base[i]) > 1e-9 {
			t.Fatalf("alignment did not recover the original at %d", i)
		}
	}
}

func TestBestCircularShiftPrefersZeroOnStableSignal(t *testing.T) {
	base := make([]float64, 256)
	for i := range base {
		base[i] = math.Sin(2 * math.Pi * float64(i) / 64)
	}
	template := make([]float64, templateLen)
	copy(template, base[:templateLen])
	if shift := bestCircularShift(base, template, 8); shift != 0 {
		t.Fatalf("stable signal shifted by %d", shift)
	}
}

func TestScopeWaveStableAcrossIdenticalFrames(t *testing.T) {
	s := NewScope()
	s.Init(320, 240)
	pkt := Packet{
		DT:       1.0 / 60,
		Width:    320,
		Height:   240,
		Params:   map[string]any{"scope.shape": 1.0},
		Waveform: sineWaveBytes(512, 64, 0),
	}
	s.Update(pkt)
	first := append([]float64(nil), s.Wave()...)
	for i := 0; i < 5; i++ {
		s.Update(pkt)
	}
	second := s.Wave()
	for i := range first {
		if math.Abs(first[i]-second[i]) > 0.05 {
			t.Fatalf("locked waveform drifted at %d: %f vs %f", i, first[i], second[i])
		}
	}
}

func TestScopeLockAbsorbsPhaseJitter(t *testing.T) {
	s := NewScope()
	s.Init(320, 240)
	base := Packet{
		DT:       1.0 / 60,
		Width:    320,
		Height:   240,
		Params:   map[string]any{"scope.shape": 1.0},
		Waveform: sineWaveBytes(512, 64, 0),
	}
	s.Update(base)
	ref := append([]float64(nil), s.Wave()...)

	// The same tone arriving with a small phase offset should render in
	// nearly the same place after lock + alignment.
	jittered := base
	jittered.Waveform = sineWaveBytes(512, 64, 5)
	s.Update(jittered)
	aligned := s.Wave()
	var maxDiff float64
	for i := 0; i < templateLen; i++ {
		if d := math.Abs(ref[i] - aligned[i]); d > maxDiff {
			maxDiff = d
		}
	}
	if maxDiff > 0.2 {
		t.Fatalf("phase jitter leaked through: max diff %f", maxDiff)
	}
}

func TestScopeToleratesShortWaveform(t *testing.T) {
	s := NewScope()
	s.Init(320, 240)
	s.Update(Packet{Waveform: sineWaveBytes(512, 64, 0)})

	// Shorter than the alignment template: alignment is skipped, not a
	// bounds panic.
	s.Update(Packet{Waveform: sineWaveBytes(64, 64, 0)})
	if len(s.Wave()) != 64 {
		t.Fatalf("short frame wave len = %d", len(s.Wave()))
	}

	s.Update(Packet{Waveform: sineWaveBytes(512, 64, 0)})
	if len(s.Wave()) != 512 {
		t.Fatalf("full frame wave len = %d after short frame", len(s.Wave()))
	}
}
