package notes

import (
	"math"
	"testing"
)

func TestCodeToMIDIBaseRow(t *testing.T) {
	k := NewKeymap(48, nil)
	cases := []struct {
		code string
		midi int
	}{
		{"KeyA", 48}, // C3
		{"KeyW", 49},
		{"KeyJ", 59},
		{"KeyK", 60}, // C4
		{"Quote", 65},
	}
	for _, c := range cases {
		got, ok := k.CodeToMIDI(c.code)
		if !ok {
			t.Fatalf("%s: expected a mapping", c.code)
		}
		if got != c.midi {
			t.Errorf("%s: got %d, want %d", c.code, got, c.midi)
		}
	}
}

func TestUnmappedCodeIgnored(t *testing.T) {
	k := NewKeymap(48, nil)
	if _, ok := k.CodeToMIDI("ShiftLeft"); ok {
		t.Error("unmapped code should return ok=false")
	}
}

func TestOctaveShiftsMapping(t *testing.T) {
	k := NewKeymap(48, nil)
	k.IncOctave()
	got, _ := k.CodeToMIDI("KeyA")
	if got != 60 {
		t.Errorf("after IncOctave KeyA should be 60, got %d", got)
	}
	k.DecOctave()
	k.DecOctave()
	got, _ = k.CodeToMIDI("KeyA")
	if got != 36 {
		t.Errorf("after net -1 octave KeyA should be 36, got %d", got)
	}
}

func TestOctaveClampsAtFour(t *testing.T) {
	k := NewKeymap(48, nil)
	for i := 0; i < 10; i++ {
		k.IncOctave()
	}
	if k.Octave() != 4 {
		t.Fatalf("octave should clamp at +4, got %d", k.Octave())
	}
	for i := 0; i < 20; i++ {
		k.DecOctave()
	}
	if k.Octave() != -4 {
		t.Fatalf("octave should clamp at -4, got %d", k.Octave())
	}
}

func TestOctaveChangeNotification(t *testing.T) {
	var calls []int
	k := NewKeymap(48, func(oct int) { calls = append(calls, oct) })
	k.IncOctave()
	k.IncOctave()
	k.IncOctave()
	k.IncOctave()
	k.IncOctave() // clamped: no change, no callback
	if len(calls) != 4 {
		t.Fatalf("expected 4 change callbacks, got %d (%v)", len(calls), calls)
	}
	if calls[len(calls)-1] != 4 {
		t.Errorf("last callback should report +4, got %d", calls[len(calls)-1])
	}
}

func TestMIDIToHz(t *testing.T) {
	if hz := MIDIToHz(69); math.Abs(hz-440) > 1e-9 {
		t.Errorf("A4: got %f", hz)
	}
	if hz := MIDIToHz(57); math.Abs(hz-220) > 1e-9 {
		t.Errorf("A3: got %f", hz)
	}
	if hz := MIDIToHz(60); math.Abs(hz-261.6255653) > 1e-4 {
		t.Errorf("C4: got %f", hz)
	}
}
