package visual

import (
	"image/color"
	"math"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
)

const (
	scopePoints    = 256
	templateLen    = 128
	maxAlignShift  = 48
	lockSmoothing  = 0.75
	lockHysteresis = 64.0 // samples; a new crossing further than this keeps the old lock
)

var (
	timeTraceColor = color.RGBA{80, 200, 255, 220}
	freqTraceColor = color.RGBA{255, 150, 80, 200}
)

// Scope draws the frequency- and time-domain traces, morphing between a
// closed ring and flat horizontal lines under the shape parameter. The time
// trace is phase-stabilized: a fractional zero-crossing lock with
// hysteresis, then circular cross-correlation against the previous frame,
// so the waveform holds still instead of jittering frame to frame.
type Scope struct {
	width, height int

	wave  []float64
	bins  []float64
	shape float64

	lockIndex float64
	hasLock   bool
	template  []float64
}

func NewScope() *Scope { return &Scope{} }

func (s *Scope) Init(width, height int) {
	s.width, s.height = width, height
}

func (s *Scope) Update(p Packet) {
	s.shape = p.Float("scope.shape", 1)

	if len(p.FrequencyBins) > 0 {
		if len(s.bins) != len(p.FrequencyBins) {
			s.bins = make([]float64, len(p.FrequencyBins))
		}
		for i, b := range p.FrequencyBins {
			s.bins[i] = float64(b) / 255
		}
	}

	if len(p.Waveform) < 4 {
		return
	}
	raw := make([]float64, len(p.Waveform))
	for i, b := range p.Waveform {
		raw[i] = (float64(b) - 128) / 128
	}

	lock, found := fractionalZeroCrossing(raw, len(raw)/2)
	if found {
		if s.hasLock && math.Abs(lock-s.lockIndex) > lockHysteresis {
			lock = s.lockIndex
		}
		if s.hasLock {
			s.lockIndex = lockSmoothing*s.lockIndex + (1-lockSmoothing)*lock
		} else {
			s.lockIndex = lock
			s.hasLock = true
		}
	}

	rotated := sampleCircular(raw, s.lockIndex, len(raw))
	// Alignment needs a full template window; shorter snapshots draw
	// zero-lock only.
	if len(rotated) >= templateLen {
		if len(s.template) == templateLen {
			shift := bestCircularShift(rotated, s.template, maxAlignShift)
			if shift != 0 {
				rotated = sampleCircular(rotated, float64(shift), len(rotated))
			}
		} else {
			s.template = make([]float64, templateLen)
		}
		copy(s.template, rotated[:templateLen])
	}
	s.wave = rotated
}

// Wave exposes the aligned time-domain samples (for tests and debugging).
func (s *Scope) Wave() []float64 { return s.wave }

// fractionalZeroCrossing finds the first rising zero-crossing within
// searchLen samples and refines it to a fractional index by linear
// interpolation between the bracketing samples.
func fractionalZeroCrossing(w []float64, searchLen int) (float64, bool) {
	if searchLen > len(w)-1 {
		searchLen = len(w) - 1
	}
	for i := 1; i < searchLen; i++ {
		if w[i-1] <= 0 && w[i] > 0 {
			denom := w[i] - w[i-1]
			if denom <= 0 {
				return float64(i), true
			}
			return float64(i-1) + (0-w[i-1])/denom, true
		}
	}
	return 0, false
}

// sampleCircular resamples w starting at fractional offset, wrapping, with
// linear interpolation between neighbors.
func sampleCircular(w []float64, offset float64, n int) []float64 {
	out := make([]float64, n)
	ln := float64(len(w))
	for i := range out {
		pos := math.Mod(offset+float64(i), ln)
		if pos < 0 {
			pos += ln
		}
		i0 := int(pos)
		i1 := (i0 + 1) % len(w)
		frac := pos - float64(i0)
		out[i] = w[i0]*(1-frac) + w[i1]*frac
	}
	return out
}

// bestCircularShift cross-correlates the template against cur over circular
// shifts in [-maxShift, maxShift] and returns the shift with the highest
// correlation. Zero wins ties so a stable signal stays put.
func bestCircularShift(cur, template []float64, maxShift int) int {
	best := 0
	bestScore := math.Inf(-1)
	for shift := -maxShift; shift <= maxShift; shift++ {
		score := 0.0
		for i := 0; i < len(template); i++ {
			j := i + shift
			for j < 0 {
				j += len(cur)
			}
			score += template[i] * cur[j%len(cur)]
		}
		if score > bestScore || (score == bestScore && abs(shift) < abs(best)) {
			bestScore = score
			best = shift
		}
	}
	return best
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func (s *Scope) Render(dst *ebiten.Image) {
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	if w < 4 || h < 4 {
		return
	}
	cx, cy := float64(w)/2, float64(h)/2
	baseR := math.Min(cx, cy)

	if len(s.wave) > 1 {
		s.drawTrace(dst, s.wave, timeTraceColor, cx, cy,
			baseR*0.55, baseR*0.25, float64(h)*0.3, float64(h)*0.2)
	}
	if len(s.bins) > 1 {
		// Only the lower half of the spectrum carries visible energy.
		s.drawTrace(dst, s.bins[:len(s.bins)/2], freqTraceColor, cx, cy,
			baseR*0.8, baseR*0.15, float64(h)*0.7, float64(h)*0.2)
	}
}

// drawTrace plots one signal, interpolating every vertex between its flat
// layout (y = lineY + v*lineAmp) and its ring layout (radius = ringR +
// v*ringAmp) by the shape parameter.
func (s *Scope) drawTrace(dst *ebiten.Image, data []float64, col color.RGBA, cx, cy, ringR, ringAmp, lineY, lineAmp float64) {
	w := dst.Bounds().Dx()
	n := scopePoints
	if n > len(data) {
		n = len(data)
	}
	var prevX, prevY float64
	for i := 0; i <= n; i++ {
		if i == n && s.shape < 0.05 {
			break // flat traces stay open; only the ring closes on itself
		}
		idx := i % n
		v := data[idx*len(data)/n]

		angle := 2*math.Pi*float64(i)/float64(n) - math.Pi/2
		r := ringR + v*ringAmp
		ringX := cx + r*math.Cos(angle)
		ringY := cy + r*math.Sin(angle)

		lineX := float64(i) / float64(n) * float64(w)
		flatY := lineY - v*lineAmp

		x := lineX*(1-s.shape) + ringX*s.shape
		y := flatY*(1-s.shape) + ringY*s.shape
		if i > 0 {
			ebitenutil.DrawLine(dst, prevX, prevY, x, y, col)
		}
		prevX, prevY = x, y
	}
}
