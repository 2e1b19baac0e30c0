package main

import (
	"fmt"
	"log"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/cbegin/visynth-go"
	"github.com/cbegin/visynth-go/internal/visual"
)

const (
	windowW    = 960
	windowH    = 600
	sampleRate = 48000
)

// noteKeys maps the two-row piano layout onto physical key codes.
var noteKeys = map[ebiten.Key]string{
	ebiten.KeyA:         "KeyA",
	ebiten.KeyW:         "KeyW",
	ebiten.KeyS:         "KeyS",
	ebiten.KeyE:         "KeyE",
	ebiten.KeyD:         "KeyD",
	ebiten.KeyF:         "KeyF",
	ebiten.KeyT:         "KeyT",
	ebiten.KeyG:         "KeyG",
	ebiten.KeyY:         "KeyY",
	ebiten.KeyH:         "KeyH",
	ebiten.KeyU:         "KeyU",
	ebiten.KeyJ:         "KeyJ",
	ebiten.KeyK:         "KeyK",
	ebiten.KeyO:         "KeyO",
	ebiten.KeyL:         "KeyL",
	ebiten.KeyP:         "KeyP",
	ebiten.KeySemicolon: "Semicolon",
	ebiten.KeyQuote:     "Quote",
}

var oscKeys = map[ebiten.Key]string{
	ebiten.KeyDigit1: "sine",
	ebiten.KeyDigit2: "saw",
	ebiten.KeyDigit3: "triangle",
	ebiten.KeyDigit4: "square",
}

type game struct {
	inst *visynth.Instrument
	vis  *visual.Engine

	lastFrame  time.Time
	lastDT     float64
	wasFocused bool
	status     string
	viewW      int
	viewH      int
}

func newGame() (*game, error) {
	inst, err := visynth.NewInstrument(sampleRate)
	if err != nil {
		return nil, err
	}
	if err := inst.Start(); err != nil {
		inst.Dispose()
		return nil, err
	}
	if err := inst.EnableMIDIInput(); err != nil {
		log.Printf("midi input unavailable: %v", err)
	}

	vis := visual.NewEngine("scope")
	vis.Register("scope", func() visual.Controller { return visual.NewScope() })
	vis.Register("boids", func() visual.Controller { return visual.NewBoids() })

	return &game{
		inst:       inst,
		vis:        vis,
		lastFrame:  time.Now(),
		wasFocused: true,
		status:     "ready",
		viewW:      windowW,
		viewH:      windowH,
	}, nil
}

func (g *game) Close() { g.inst.Dispose() }

func (g *game) Update() error {
	focused := ebiten.IsFocused()
	if g.wasFocused && !focused {
		// Key-up events are lost while unfocused; force everything off.
		g.inst.AllOff()
	}
	g.wasFocused = focused

	if focused {
		g.handleKeys()
	}

	now := time.Now()
	g.lastDT = now.Sub(g.lastFrame).Seconds()
	g.lastFrame = now

	g.vis.Frame(g.packet(g.lastDT))
	return nil
}

func (g *game) handleKeys() {
	for key, code := range noteKeys {
		if inpututil.IsKeyJustPressed(key) {
			g.inst.NoteOn(code)
		}
		if inpututil.IsKeyJustReleased(key) {
			g.inst.NoteOff(code)
		}
	}
	for key, osc := range oscKeys {
		if inpututil.IsKeyJustPressed(key) {
			g.inst.Update(map[string]any{"osc.type": osc})
			g.status = "osc " + osc
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyZ) {
		g.inst.DecOctave()
		g.status = fmt.Sprintf("octave %+d", g.inst.Octave())
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyX) {
		g.inst.IncOctave()
		g.status = fmt.Sprintf("octave %+d", g.inst.Octave())
	}
	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		on := !g.boolParam("arp.on")
		g.inst.Update(map[string]any{"arp.on": on})
		g.status = fmt.Sprintf("arp %v", on)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyTab) {
		mode := "boids"
		if g.vis.CurrentMode() == "boids" {
			mode = "scope"
		}
		g.inst.Update(map[string]any{"visual.mode": mode})
		g.status = "visual " + mode
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyB) {
		on := !g.boolParam("feedback.on")
		g.inst.Update(map[string]any{"feedback.on": on})
		g.status = fmt.Sprintf("trails %v", on)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		g.inst.AllOff()
		g.status = "all notes off"
	}
}

func (g *game) boolParam(key string) bool {
	v, _ := g.inst.Params()[key].(bool)
	return v
}

func (g *game) packet(dt float64) visual.Packet {
	return visual.Packet{
		DT:            dt,
		Width:         g.viewW,
		Height:        g.viewH,
		Params:        g.inst.Params(),
		FrequencyBins: g.inst.FrequencyBins(),
		Waveform:      g.inst.Waveform(),
	}
}

func (g *game) Draw(screen *ebiten.Image) {
	g.vis.Draw(screen, g.packet(g.lastDT))
	ebitenutil.DebugPrint(screen, fmt.Sprintf(
		"visynth | octave %+d | held %d | %s | %s\n[a-'] notes  [z/x] octave  [1-4] osc  [space] arp  [tab] visual  [b] trails  [esc] panic",
		g.inst.Octave(), len(g.inst.Snapshot().Held), g.vis.CurrentMode(), g.status))
}

func (g *game) Layout(outsideW, outsideH int) (int, int) {
	if outsideW < windowW/2 {
		outsideW = windowW / 2
	}
	if outsideH < windowH/2 {
		outsideH = windowH / 2
	}
	g.viewW = outsideW
	g.viewH = outsideH
	return outsideW, outsideH
}

func main() {
	g, err := newGame()
	if err != nil {
		log.Fatal(err)
	}
	defer g.Close()

	ebiten.SetWindowSize(windowW, windowH)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowTitle("visynth")
	if err := ebiten.RunGame(g); err != nil {
		log.Fatal(err)
	}
}
