// Package visynth is an interactive audio-visual synthesizer: a polyphonic
// oscillator/envelope voice pool played from the keyboard or a hardware MIDI
// device, an arpeggiator driven by a central note hub, a filter/delay master
// chain, and an analysis tap feeding the visual engine.
package visynth

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	intana "github.com/cbegin/visynth-go/internal/analysis"
	intarp "github.com/cbegin/visynth-go/internal/arp"
	intaudio "github.com/cbegin/visynth-go/internal/audio"
	intfx "github.com/cbegin/visynth-go/internal/effects"
	intlfo "github.com/cbegin/visynth-go/internal/lfo"
	intmidi "github.com/cbegin/visynth-go/internal/midiin"
	intnotes "github.com/cbegin/visynth-go/internal/notes"
	intparams "github.com/cbegin/visynth-go/internal/params"
	intvoice "github.com/cbegin/visynth-go/internal/voice"
)

// SourceKeyboard tags hub events produced by the key-input entry points.
const SourceKeyboard = "keyboard"

// arpTickInterval is the sequencer polling cadence. Steps are scheduled
// against the audio clock with lookahead, so the exact cadence is not
// timing-critical.
const arpTickInterval = 25 * time.Millisecond

type Option func(*config)

type config struct {
	sampleTap func([]float32)
	onOctave  func(int)
	baseMIDI  int
}

func defaultConfig() config {
	return config{baseMIDI: intnotes.DefaultBaseMIDI}
}

// WithSampleTap installs a callback invoked with each processed stereo
// block. The callback runs on the audio thread; keep work brief and
// non-blocking.
func WithSampleTap(tap func([]float32)) Option {
	return func(cfg *config) {
		cfg.sampleTap = tap
	}
}

// WithOctaveChange installs a callback fired when the octave offset
// actually changes (not when an inc/dec is clamped away).
func WithOctaveChange(fn func(octave int)) Option {
	return func(cfg *config) {
		cfg.onOctave = fn
	}
}

// WithBaseMIDI overrides the MIDI note the key layout's low C maps to at
// octave offset 0.
func WithBaseMIDI(midi int) Option {
	return func(cfg *config) {
		cfg.baseMIDI = midi
	}
}

// Instrument owns the whole audio path and its schedulers. Build with
// NewInstrument, open the output device with Start, tear down with Dispose.
type Instrument struct {
	mu         sync.Mutex
	sampleRate int

	keymap *intnotes.Keymap
	hub    *intnotes.Hub

	env      intvoice.ADSR
	keyPool  *intvoice.Pool
	midiPool *intvoice.Pool
	gate     *intvoice.Gate
	arp      *intarp.Arpeggiator

	chain *intfx.SignalChain
	tap   *intana.Tap

	schema *intparams.Schema
	values *intparams.Values

	audio   *intaudio.Player
	midiSrc *intmidi.Source

	samplePos atomic.Int64
	monoBuf   []float64

	keyDown map[string]int

	tickerDone chan struct{}
	disposed   bool
}

// sampleClock derives audio-clock seconds from the rendered sample count.
type sampleClock struct {
	inst *Instrument
}

func (c sampleClock) Now() float64 {
	return float64(c.inst.samplePos.Load()) / float64(c.inst.sampleRate)
}

// renderer adapts the instrument to the audio backend's pull model.
type renderer struct {
	inst *Instrument
}

func (r renderer) Process(dst []float32) {
	r.inst.render(dst)
}

func NewInstrument(sampleRate int, opts ...Option) (*Instrument, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	tap, err := intana.NewTap()
	if err != nil {
		return nil, err
	}

	i := &Instrument{
		sampleRate: sampleRate,
		hub:        intnotes.NewHub(),
		env:        intvoice.DefaultADSR(),
		keyPool:    intvoice.NewPool(sampleRate),
		midiPool:   intvoice.NewPool(sampleRate),
		chain:      intfx.NewSignalChain(sampleRate),
		tap:        tap,
		schema:     buildSchema(),
		keyDown:    make(map[string]int),
	}
	i.keymap = intnotes.NewKeymap(cfg.baseMIDI, cfg.onOctave)
	i.values = i.schema.NewValues()
	i.gate = &intvoice.Gate{Pool: i.midiPool, Env: &i.env, Clock: sampleClock{i}}
	i.arp = intarp.New(i.gate, i.hub)

	extra := cfg.sampleTap
	i.chain.SetTap(func(buf []float32) {
		i.tap.Push(buf)
		if extra != nil {
			extra(buf)
		}
	})
	i.applyAll()
	return i, nil
}

// Start opens the output device and begins the sequencer ticker.
func (i *Instrument) Start() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.disposed {
		return errors.New("instrument disposed")
	}
	if i.audio != nil {
		return nil
	}
	backend, err := intaudio.NewPlayer(i.sampleRate, renderer{i})
	if err != nil {
		return err
	}
	i.audio = backend
	i.audio.Play()

	i.tickerDone = make(chan struct{})
	go i.runTicker(i.tickerDone)
	return nil
}

func (i *Instrument) runTicker(done chan struct{}) {
	t := time.NewTicker(arpTickInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			i.arp.Tick()
		}
	}
}

// EnableMIDIInput connects the first available hardware MIDI input port to
// the note hub. Optional; key input works without it.
func (i *Instrument) EnableMIDIInput() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.disposed {
		return errors.New("instrument disposed")
	}
	if i.midiSrc != nil {
		return nil
	}
	src, err := intmidi.Open(i.hub, sampleClock{i})
	if err != nil {
		return err
	}
	i.midiSrc = src
	return nil
}

// Now returns the current audio-clock time in seconds.
func (i *Instrument) Now() float64 {
	return sampleClock{i}.Now()
}

// NoteOn handles a key press by physical key code. Repeat signals for a key
// already down are ignored. Unmapped codes are ignored.
func (i *Instrument) NoteOn(code string) {
	i.mu.Lock()
	if i.disposed {
		i.mu.Unlock()
		return
	}
	if _, down := i.keyDown[code]; down {
		i.mu.Unlock()
		return
	}
	midi, ok := i.keymap.CodeToMIDI(code)
	if !ok {
		i.mu.Unlock()
		return
	}
	i.keyDown[code] = midi
	now := i.Now()
	arpOn := i.values.Bool("arp.on")
	env := i.env
	i.mu.Unlock()

	i.hub.NoteOn(midi, 1, now, SourceKeyboard)
	if !arpOn {
		i.keyPool.NoteOn(intvoice.KeyIdentity(code), midi, 1, now, env)
	}
}

// NoteOff handles a key release. Releases for keys not tracked as down are
// ignored.
func (i *Instrument) NoteOff(code string) {
	i.mu.Lock()
	if i.disposed {
		i.mu.Unlock()
		return
	}
	midi, down := i.keyDown[code]
	if !down {
		i.mu.Unlock()
		return
	}
	delete(i.keyDown, code)
	now := i.Now()
	env := i.env
	i.mu.Unlock()

	i.hub.NoteOff(midi, now, SourceKeyboard)
	i.keyPool.NoteOff(intvoice.KeyIdentity(code), now, env)
}

// AllOff is the panic entry point (focus loss, reset): every tracked key is
// released through the hub and both voice pools are forced silent.
func (i *Instrument) AllOff() {
	i.mu.Lock()
	pending := make(map[string]int, len(i.keyDown))
	for code, midi := range i.keyDown {
		pending[code] = midi
	}
	i.keyDown = make(map[string]int)
	now := i.Now()
	i.mu.Unlock()

	for _, midi := range pending {
		i.hub.NoteOff(midi, now, SourceKeyboard)
	}
	// Hub note-offs alone cannot stop a latched sequence; drop the chord
	// before silencing the pools so no step re-sounds them.
	i.arp.PanicOff()
	i.keyPool.AllOff(now)
	i.midiPool.AllOff(now)
}

func (i *Instrument) IncOctave() { i.keymap.IncOctave() }
func (i *Instrument) DecOctave() { i.keymap.DecOctave() }
func (i *Instrument) Octave() int {
	return i.keymap.Octave()
}

// Gate exposes the MIDI-pool gate (the interface the arpeggiator drives).
func (i *Instrument) Gate() *intvoice.Gate { return i.gate }

// Snapshot returns the hub's current held-note state.
func (i *Instrument) Snapshot() intnotes.Snapshot {
	return i.hub.Snapshot(i.Now())
}

// Schema describes every live parameter.
func (i *Instrument) Schema() *intparams.Schema { return i.schema }

// Params returns a full copy of the current parameter values.
func (i *Instrument) Params() map[string]any {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.values.Snapshot()
}

// Update merges a partial parameter patch and pushes the changes into the
// affected components. Unknown keys and invalid values are ignored.
func (i *Instrument) Update(patch map[string]any) {
	i.mu.Lock()
	if i.disposed {
		i.mu.Unlock()
		return
	}
	changed := i.values.Apply(patch)
	if len(changed) == 0 {
		i.mu.Unlock()
		return
	}
	i.applyLocked()
	i.mu.Unlock()
}

// SetMasterVolume sets the runtime output gain in [0,1].
func (i *Instrument) SetMasterVolume(v float64) {
	i.Update(map[string]any{"master.gain": v})
}

func (i *Instrument) MasterVolume() float64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.values.Float("master.gain")
}

// FrequencyBins returns the analysis tap's current spectrum snapshot.
func (i *Instrument) FrequencyBins() []byte { return i.tap.FrequencyBins() }

// Waveform returns the analysis tap's current time-domain snapshot.
func (i *Instrument) Waveform() []byte { return i.tap.Waveform() }

// RenderFrames renders the live signal path offline and returns interleaved
// stereo samples. Used by tests and for device-less operation; the audio
// clock advances exactly as it would under the device.
func (i *Instrument) RenderFrames(frames int) []float32 {
	dst := make([]float32, frames*2)
	i.render(dst)
	return dst
}

func (i *Instrument) render(dst []float32) {
	frames := len(dst) / 2
	if frames == 0 {
		return
	}
	i.mu.Lock()
	if cap(i.monoBuf) < frames {
		i.monoBuf = make([]float64, frames)
	}
	mono := i.monoBuf[:frames]
	i.mu.Unlock()
	for n := range mono {
		mono[n] = 0
	}
	t0 := i.Now()
	i.keyPool.Process(mono, t0)
	i.midiPool.Process(mono, t0)
	i.chain.Process(mono, dst)
	i.samplePos.Add(int64(frames))
}

// Dispose stops audio, panics all notes off, and releases every component.
// Idempotent; no scheduled callback fires afterwards.
func (i *Instrument) Dispose() {
	i.mu.Lock()
	if i.disposed {
		i.mu.Unlock()
		return
	}
	i.disposed = true
	audioDev := i.audio
	i.audio = nil
	midiSrc := i.midiSrc
	i.midiSrc = nil
	done := i.tickerDone
	i.tickerDone = nil
	i.mu.Unlock()

	if done != nil {
		close(done)
	}
	if midiSrc != nil {
		midiSrc.Close()
	}
	i.arp.Dispose()
	i.keyPool.Dispose()
	i.midiPool.Dispose()
	if audioDev != nil {
		_ = audioDev.Stop()
	}
}

// applyAll pushes the full value set into the components.
func (i *Instrument) applyAll() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.applyLocked()
}

// applyLocked re-derives every component's settings from the value store.
// Individual setters are cheap and guard their own expensive rebuilds, so
// re-applying the full set on any change keeps this simple.
func (i *Instrument) applyLocked() {
	v := i.values

	i.env = intvoice.ADSR{
		Attack:  v.Float("env.attack"),
		Decay:   v.Float("env.decay"),
		Sustain: v.Float("env.sustain"),
		Release: v.Float("env.release"),
	}

	osc := oscTypeFromName(v.String("osc.type"))
	i.keyPool.SetOscType(osc)
	i.midiPool.SetOscType(osc)

	i.chain.SetFilter(v.Float("filter.cutoff"), v.Float("filter.resonance"), v.Float("filter.blend"))
	i.chain.SetLFO(v.Float("lfo.depth"), v.Float("lfo.rate"), lfoWaveFromName(v.String("lfo.wave")))
	i.chain.SetDelay(v.Float("delay.time"), v.Float("delay.feedback"), v.Float("delay.cross"), v.Float("delay.wet"))
	i.chain.SetMasterGain(v.Float("master.gain"))

	i.arp.SetParams(intarp.Params{
		On:        v.Bool("arp.on"),
		Hold:      v.Bool("arp.hold"),
		Pattern:   intarp.Pattern(v.String("arp.pattern")),
		Octaves:   v.Int("arp.octaves"),
		GateRatio: v.Float("arp.gate"),
		Sync:      v.Bool("arp.sync"),
		BPM:       v.Float("arp.bpm"),
		Division:  v.Float("arp.division"),
		RateHz:    v.Float("arp.rate"),
	})
}

func oscTypeFromName(name string) intvoice.OscType {
	switch name {
	case "saw":
		return intvoice.OscSaw
	case "triangle":
		return intvoice.OscTriangle
	case "square":
		return intvoice.OscSquare
	default:
		return intvoice.OscSine
	}
}

func lfoWaveFromName(name string) int {
	switch name {
	case "saw":
		return intlfo.WaveSaw
	case "square":
		return intlfo.WaveSquare
	case "random":
		return intlfo.WaveRandom
	default:
		return intlfo.WaveTriangle
	}
}

// buildSchema declares every live parameter, grouped the way the control
// panel lays them out.
func buildSchema() *intparams.Schema {
	s := intparams.NewSchema()

	s.Enum("osc.type", "osc", []string{"sine", "saw", "triangle", "square"}, "sine")

	s.Numeric("env.attack", "env", 0.001, 2, 0.001, 0.01)
	s.Numeric("env.decay", "env", 0.001, 2, 0.001, 0.12)
	s.Numeric("env.sustain", "env", 0, 1, 0.01, 0.7)
	s.Numeric("env.release", "env", 0.005, 5, 0.005, 0.3)

	s.Numeric("filter.cutoff", "filter", 20, 20000, 1, 8000)
	s.Numeric("filter.resonance", "filter", 0.1, 10, 0.1, 0.7)
	s.Numeric("filter.blend", "filter", -1, 1, 0.01, -1)

	s.Numeric("lfo.depth", "lfo", 0, 4, 0.01, 0)
	s.Numeric("lfo.rate", "lfo", 0, 20, 0.1, 2)
	s.Enum("lfo.wave", "lfo", []string{"saw", "square", "triangle", "random"}, "triangle")

	s.Numeric("delay.time", "delay", 10, 2000, 1, 250)
	s.Numeric("delay.feedback", "delay", 0, 0.95, 0.01, 0.35)
	s.Numeric("delay.cross", "delay", 0, 1, 0.01, 0.3)
	s.Numeric("delay.wet", "delay", 0, 1, 0.01, 0.25)

	s.Numeric("master.gain", "master", 0, 1, 0.01, 0.8)

	s.Toggle("arp.on", "arp", false)
	s.Toggle("arp.hold", "arp", false)
	s.Enum("arp.pattern", "arp", []string{"up", "down", "updown", "random", "chord"}, "up")
	s.Numeric("arp.octaves", "arp", 1, 4, 1, 1)
	s.Numeric("arp.gate", "arp", 0.05, 1, 0.01, 0.6)
	s.Toggle("arp.sync", "arp", true)
	s.Numeric("arp.bpm", "arp", 30, 300, 1, 120)
	s.Numeric("arp.division", "arp", 0.0625, 1, 0.0625, 0.25)
	s.Numeric("arp.rate", "arp", 0.5, 30, 0.1, 8)

	s.Enum("visual.mode", "visual", []string{"scope", "boids"}, "scope")
	s.Numeric("visual.morphSpeed", "visual", 0.1, 5, 0.1, 0.8)
	s.Toggle("feedback.on", "visual", false)
	s.Numeric("feedback.length", "visual", 0, 1, 0.01, 0.5)
	s.Numeric("feedback.timeConstant", "visual", 0.05, 5, 0.05, 0.5)
	s.Numeric("scope.shape", "visual", 0, 1, 0.01, 1)
	s.Numeric("boids.tightness", "visual", 0, 1, 0.01, 0.5)

	return s
}
