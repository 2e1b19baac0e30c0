package voice

import (
	"math"
	"strconv"
	"sync"

	"github.com/cbegin/visynth-go/internal/control"
	"github.com/cbegin/visynth-go/internal/notes"
)

const twoPi = math.Pi * 2

// glideSec is the frequency glide on (re)trigger; an instantaneous jump on a
// running oscillator produces an audible step.
const glideSec = 0.003

// OscType selects the oscillator waveform.
type OscType int

const (
	OscSine OscType = iota
	OscSaw
	OscTriangle
	OscSquare
)

type unit struct {
	freq  *control.Param
	amp   *control.Param
	phase float64
	down  bool
}

// Pool owns one oscillator+envelope unit per sounding note identity. Voices
// are allocated lazily on first note-on and kept running at near-zero gain
// between notes; they are torn down only on Dispose.
//
// Identities are namespaced by the caller (key code vs. MIDI number), so a
// key held directly and the same pitch retriggered by the arpeggiator live
// in separate pools and never cut each other off.
type Pool struct {
	mu         sync.Mutex
	sampleRate float64
	voices     map[string]*unit
	osc        OscType
	disposed   bool

	freqBuf []float64
	ampBuf  []float64
}

func NewPool(sampleRate int) *Pool {
	return &Pool{
		sampleRate: float64(sampleRate),
		voices:     make(map[string]*unit),
	}
}

// NoteOn triggers the identity's voice at audio-clock time when, gliding the
// oscillator to midi's frequency and scheduling the attack/decay ramp. A
// retrigger re-runs the attack from the envelope's current value.
func (p *Pool) NoteOn(identity string, midi int, velocity, when float64, env ADSR) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return
	}
	v := p.voices[identity]
	hz := notes.MIDIToHz(midi)
	if v == nil {
		v = &unit{
			freq: control.NewParam(hz),
			amp:  control.NewParam(releaseFloor),
		}
		p.voices[identity] = v
	}
	v.freq.CancelAndHoldAt(when)
	v.freq.LinearRampTo(hz, when+glideSec)
	v.down = true
	peak := clamp(velocity, 0, 1)
	if peak <= 0 {
		peak = releaseFloor
	}
	ScheduleAttackDecay(v.amp, when, env, peak)
}

// NoteOff releases the identity's voice. Unknown or already-up identities
// are a no-op, guarding against redundant or out-of-order releases.
func (p *Pool) NoteOff(identity string, when float64, env ADSR) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.voices[identity]
	if v == nil || !v.down {
		return
	}
	v.down = false
	ScheduleRelease(v.amp, when, env)
}

// AllOff forces every voice into a guaranteed-silent release, bypassing the
// configured release timing.
func (p *Pool) AllOff(when float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range p.voices {
		v.down = false
		ScheduleSilence(v.amp, when)
	}
}

// SetOscType switches the waveform of all existing and future voices.
func (p *Pool) SetOscType(t OscType) {
	p.mu.Lock()
	p.osc = t
	p.mu.Unlock()
}

// DownCount returns the number of voices currently marked down.
func (p *Pool) DownCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, v := range p.voices {
		if v.down {
			n++
		}
	}
	return n
}

// Dispose silences and releases every voice. Idempotent; Process renders
// silence afterwards.
func (p *Pool) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return
	}
	p.disposed = true
	p.voices = make(map[string]*unit)
}

// Process mixes all voices into dst (mono, additive) starting at audio-clock
// time t0. Runs on the audio thread.
func (p *Pool) Process(dst []float64, t0 float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed || len(p.voices) == 0 {
		return
	}
	n := len(dst)
	if cap(p.freqBuf) < n {
		p.freqBuf = make([]float64, n)
		p.ampBuf = make([]float64, n)
	}
	freq := p.freqBuf[:n]
	amp := p.ampBuf[:n]
	osc := p.osc
	for _, v := range p.voices {
		v.freq.Render(freq, t0, p.sampleRate)
		v.amp.Render(amp, t0, p.sampleRate)
		phase := v.phase
		for i := 0; i < n; i++ {
			dst[i] += waveformSample(phase, osc) * amp[i]
			phase += twoPi * freq[i] / p.sampleRate
			if phase > twoPi {
				phase -= twoPi
			}
		}
		v.phase = phase
	}
}

func waveformSample(phase float64, osc OscType) float64 {
	switch osc {
	case OscSaw:
		return 1.0 - 2.0*math.Mod(phase, twoPi)/twoPi
	case OscTriangle:
		return 2.0*math.Abs(2.0*math.Mod(phase, twoPi)/twoPi-1.0) - 1.0
	case OscSquare:
		if math.Mod(phase, twoPi) < math.Pi {
			return 1.0
		}
		return -1.0
	default:
		return math.Sin(phase)
	}
}

// MIDIIdentity names a voice keyed by MIDI number (arpeggiator pool).
func MIDIIdentity(midi int) string { return "midi:" + strconv.Itoa(midi) }

// KeyIdentity names a voice keyed by raw key code (direct-play pool).
func KeyIdentity(code string) string { return "key:" + code }

// Clock is the audio clock consumed by schedulers.
type Clock interface {
	Now() float64
}

// Gate adapts a Pool (plus the shared live ADSR) to the minimal interface
// the arpeggiator drives. The arpeggiator never touches voice internals.
type Gate struct {
	Pool  *Pool
	Env   *ADSR
	Clock Clock
}

func (g *Gate) NoteOn(midi int, when, velocity float64) {
	g.Pool.NoteOn(MIDIIdentity(midi), midi, velocity, when, *g.Env)
}

func (g *Gate) NoteOff(midi int, when float64) {
	g.Pool.NoteOff(MIDIIdentity(midi), when, *g.Env)
}

func (g *Gate) Now() float64 { return g.Clock.Now() }
