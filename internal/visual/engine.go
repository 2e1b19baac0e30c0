// Package visual drives the rendering side of the instrument: a registry of
// mode controllers, a cross-blend state machine for switching between them,
// and an audio-matched feedback/trail compositor.
package visual

import (
	"image/color"
	"math"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
)

// Packet is the per-frame input to the engine and its controllers. Built
// fresh each render tick; read-only to controllers during that tick.
type Packet struct {
	DT            float64
	Width, Height int
	Params        map[string]any
	FrequencyBins []byte
	Waveform      []byte
}

func (p Packet) Float(key string, def float64) float64 {
	switch v := p.Params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func (p Packet) Bool(key string, def bool) bool {
	if v, ok := p.Params[key].(bool); ok {
		return v
	}
	return def
}

func (p Packet) String(key, def string) string {
	if v, ok := p.Params[key].(string); ok {
		return v
	}
	return def
}

// Controller is one rendering strategy. Update mutates simulation state from
// the packet; Render draws the current state. Controllers must tolerate
// Update calls while not visually dominant (both sides run during a blend).
type Controller interface {
	Init(width, height int)
	Update(p Packet)
	Render(dst *ebiten.Image)
}

// Layer pairs a controller with its compositing opacity for this frame.
type Layer struct {
	Mode    string
	Alpha   float64
	Control Controller
}

// Engine owns the mode state machine and the trail buffer. Controllers are
// constructed lazily on first use and persist across mode switches, so a
// mode's simulation state survives being blended out and back in.
type Engine struct {
	registry  map[string]func() Controller
	instances map[string]Controller

	current string
	target  string
	blend   float64

	width, height int

	trail   *ebiten.Image
	fresh   *ebiten.Image
	scratch *ebiten.Image
}

func NewEngine(defaultMode string) *Engine {
	return &Engine{
		registry:  make(map[string]func() Controller),
		instances: make(map[string]Controller),
		current:   defaultMode,
		target:    defaultMode,
	}
}

func (e *Engine) Register(mode string, factory func() Controller) {
	e.registry[mode] = factory
}

func (e *Engine) CurrentMode() string    { return e.current }
func (e *Engine) BlendProgress() float64 { return e.blend }

func (e *Engine) controller(mode string) Controller {
	if c, ok := e.instances[mode]; ok {
		return c
	}
	factory, ok := e.registry[mode]
	if !ok {
		return nil
	}
	c := factory()
	c.Init(e.width, e.height)
	e.instances[mode] = c
	return c
}

// Frame advances the mode state machine and updates the live controllers.
// Pure state: no surface is touched, so tests drive Frame directly.
func (e *Engine) Frame(p Packet) {
	if p.Width > 0 && p.Height > 0 && (p.Width != e.width || p.Height != e.height) {
		e.width, e.height = p.Width, p.Height
		for _, c := range e.instances {
			c.Init(e.width, e.height)
		}
	}

	want := p.String("visual.mode", e.target)
	if want != e.target {
		if _, ok := e.registry[want]; ok {
			if want == e.current {
				// Switched back mid-blend: swap direction.
				e.current = e.target
				e.blend = 1 - e.blend
			}
			e.target = want
		}
	}

	if e.target != e.current {
		morph := p.Float("visual.morphSpeed", 0.8)
		if morph <= 0 {
			morph = 0.001
		}
		e.blend += p.DT / morph
		if e.blend >= 1 {
			e.current = e.target
			e.blend = 0
		}
	}

	for _, l := range e.Layers() {
		if l.Control != nil {
			l.Control.Update(p)
		}
	}
}

// Layers returns the controllers to composite this frame with their
// opacities. Exactly one layer at full opacity when no blend is running.
func (e *Engine) Layers() []Layer {
	if e.current == e.target {
		return []Layer{{Mode: e.current, Alpha: 1, Control: e.controller(e.current)}}
	}
	return []Layer{
		{Mode: e.current, Alpha: 1 - e.blend, Control: e.controller(e.current)},
		{Mode: e.target, Alpha: e.blend, Control: e.controller(e.target)},
	}
}

// TrailDecay is the per-frame fade fraction applied to the feedback buffer:
// 1 - g^(dt/timeConstant) with g = min(0.95, length^0.6 * 0.95). Longer
// trail lengths hold more energy per frame.
func TrailDecay(length, timeConstant, dt float64) float64 {
	if timeConstant <= 0 {
		return 1
	}
	g := math.Min(0.95, math.Pow(length, 0.6)*0.95)
	if g <= 0 {
		return 1
	}
	d := 1 - math.Pow(g, dt/timeConstant)
	if d < 0 {
		d = 0
	}
	if d > 1 {
		d = 1
	}
	return d
}

// Draw composites the frame: faded trail buffer behind, fresh layers on
// top, fresh frame folded back into the trail. While the feedback toggle is
// off the trail buffer is hard-cleared so nothing carries over when it is
// re-enabled.
func (e *Engine) Draw(screen *ebiten.Image, p Packet) {
	w, h := screen.Bounds().Dx(), screen.Bounds().Dy()
	if w < 1 || h < 1 {
		return
	}
	if e.trail == nil || e.trail.Bounds().Dx() != w || e.trail.Bounds().Dy() != h {
		e.trail = ebiten.NewImage(w, h)
		e.fresh = ebiten.NewImage(w, h)
		e.scratch = ebiten.NewImage(w, h)
	}

	feedback := p.Bool("feedback.on", false)
	if feedback {
		length := p.Float("feedback.length", 0.5)
		tc := p.Float("feedback.timeConstant", 0.5)
		decay := TrailDecay(length, tc, p.DT)
		a := uint8(math.Round(decay * 255))
		if a > 0 {
			ebitenutil.DrawRect(e.trail, 0, 0, float64(w), float64(h), color.RGBA{0, 0, 0, a})
		}
	} else {
		e.trail.Clear()
	}

	e.fresh.Clear()
	for _, l := range e.Layers() {
		if l.Control == nil {
			continue
		}
		if l.Alpha >= 1 {
			l.Control.Render(e.fresh)
			continue
		}
		e.scratch.Clear()
		l.Control.Render(e.scratch)
		op := &ebiten.DrawImageOptions{}
		op.ColorScale.ScaleAlpha(float32(l.Alpha))
		e.fresh.DrawImage(e.scratch, op)
	}

	screen.DrawImage(e.trail, nil)
	screen.DrawImage(e.fresh, nil)
	if feedback {
		e.trail.DrawImage(e.fresh, nil)
	}
}
