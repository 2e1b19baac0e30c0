package notes

import "math"

const (
	// DefaultBaseMIDI is the C that key offset 0 maps to at octave offset 0.
	DefaultBaseMIDI = 48

	octaveMin = -4
	octaveMax = 4
)

// semitoneByCode maps physical key codes to semitone offsets above the base C.
// Two piano rows: A-row white keys with the W-row as the black keys above
// them, continuing into a second octave on K/O/L/P.
var semitoneByCode = map[string]int{
	"KeyA":      0, // C
	"KeyW":      1,
	"KeyS":      2, // D
	"KeyE":      3,
	"KeyD":      4, // E
	"KeyF":      5, // F
	"KeyT":      6,
	"KeyG":      7, // G
	"KeyY":      8,
	"KeyH":      9, // A
	"KeyU":      10,
	"KeyJ":      11, // B
	"KeyK":      12, // C
	"KeyO":      13,
	"KeyL":      14, // D
	"KeyP":      15,
	"Semicolon": 16, // E
	"Quote":     17, // F
}

// Keymap maps physical key codes to MIDI notes under a mutable, clamped
// octave offset. It is not safe for concurrent use; the input timeline is
// single-threaded.
type Keymap struct {
	baseMIDI int
	octave   int
	onChange func(octave int)
}

func NewKeymap(baseMIDI int, onChange func(octave int)) *Keymap {
	if baseMIDI <= 0 {
		baseMIDI = DefaultBaseMIDI
	}
	return &Keymap{baseMIDI: baseMIDI, onChange: onChange}
}

// CodeToMIDI resolves a key code to a MIDI note under the current octave
// offset. Unmapped codes return ok=false and must be ignored by callers.
func (k *Keymap) CodeToMIDI(code string) (midi int, ok bool) {
	semi, ok := semitoneByCode[code]
	if !ok {
		return 0, false
	}
	m := k.baseMIDI + k.octave*12 + semi
	if m < 0 || m > 127 {
		return 0, false
	}
	return m, true
}

// Octave returns the current octave offset in [-4, +4].
func (k *Keymap) Octave() int { return k.octave }

func (k *Keymap) IncOctave() { k.setOctave(k.octave + 1) }
func (k *Keymap) DecOctave() { k.setOctave(k.octave - 1) }

func (k *Keymap) setOctave(oct int) {
	if oct < octaveMin {
		oct = octaveMin
	}
	if oct > octaveMax {
		oct = octaveMax
	}
	if oct == k.octave {
		return
	}
	k.octave = oct
	if k.onChange != nil {
		k.onChange(oct)
	}
}

// MIDIToHz converts a MIDI note number to frequency (A4 = 440Hz).
func MIDIToHz(midi int) float64 {
	return 440 * math.Pow(2, float64(midi-69)/12)
}
