package visual

import (
	"image/color"
	"math"
	"math/rand"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
)

const (
	defaultBoidCount = 90
	attractorCount   = 5

	neighborRadius   = 60.0
	separationRadius = 22.0
	attractorRadius  = 140.0

	maxSpeed = 140.0 // px/s
	minSpeed = 40.0

	envAttack  = 0.35 // per-update smoothing toward a louder signal
	envRelease = 0.04
	riseEps    = 0.02
)

var (
	boidColor      = color.RGBA{140, 255, 170, 230}
	attractorColor = color.RGBA{255, 120, 160, 120}
)

type boid struct {
	x, y   float64
	vx, vy float64
}

type attractor struct {
	x, y   float64
	weight float64
}

// Boids simulates a flock on a toroidal plane with the usual separation,
// alignment and cohesion rules, biased by an amplitude envelope computed
// from the time-domain signal. A rising envelope edge intensifies
// separation and regenerates a drifting attractor swarm that pulls nearby
// agents in, so louder moments scatter the flock and then re-gather it
// somewhere new.
type Boids struct {
	width, height float64
	rng           *rand.Rand

	agents []boid

	swarm   []attractor
	swarmVX float64
	swarmVY float64

	env     float64
	prevEnv float64
}

func NewBoids() *Boids {
	return &Boids{rng: rand.New(rand.NewSource(7))}
}

func (b *Boids) Init(width, height int) {
	b.width, b.height = float64(width), float64(height)
	if b.width <= 0 || b.height <= 0 {
		return
	}
	if len(b.agents) == 0 {
		b.agents = make([]boid, defaultBoidCount)
		for i := range b.agents {
			angle := b.rng.Float64() * 2 * math.Pi
			speed := minSpeed + b.rng.Float64()*(maxSpeed-minSpeed)
			b.agents[i] = boid{
				x:  b.rng.Float64() * b.width,
				y:  b.rng.Float64() * b.height,
				vx: math.Cos(angle) * speed,
				vy: math.Sin(angle) * speed,
			}
		}
	}
}

// Envelope exposes the smoothed amplitude (for tests).
func (b *Boids) Envelope() float64 { return b.env }

// Attractors exposes the current swarm (for tests).
func (b *Boids) Attractors() []attractor { return b.swarm }

func (b *Boids) Update(p Packet) {
	if b.width <= 0 || b.height <= 0 || len(b.agents) == 0 {
		return
	}
	dt := p.DT
	if dt <= 0 || dt > 0.25 {
		dt = 1.0 / 60
	}

	rms := waveformRMS(p.Waveform)
	b.prevEnv = b.env
	if rms > b.env {
		b.env += (rms - b.env) * envAttack
	} else {
		b.env += (rms - b.env) * envRelease
	}

	rising := b.env > b.prevEnv+riseEps
	if rising {
		tightness := p.Float("boids.tightness", 0.5)
		b.regenerateSwarm(tightness)
	}
	b.driftSwarm(dt)

	sepWeight := 1.0 + b.env*4 // louder means keep more distance
	for i := range b.agents {
		a := &b.agents[i]
		var sepX, sepY, aliX, aliY, cohX, cohY float64
		var neighbors int
		for j := range b.agents {
			if j == i {
				continue
			}
			o := &b.agents[j]
			dx := torusDelta(o.x-a.x, b.width)
			dy := torusDelta(o.y-a.y, b.height)
			d2 := dx*dx + dy*dy
			if d2 > neighborRadius*neighborRadius || d2 == 0 {
				continue
			}
			neighbors++
			aliX += o.vx
			aliY += o.vy
			cohX += dx
			cohY += dy
			if d2 < separationRadius*separationRadius {
				d := math.Sqrt(d2)
				sepX -= dx / d * (separationRadius - d)
				sepY -= dy / d * (separationRadius - d)
			}
		}
		var ax, ay float64
		if neighbors > 0 {
			n := float64(neighbors)
			ax += (aliX/n - a.vx) * 0.8
			ay += (aliY/n - a.vy) * 0.8
			ax += cohX / n * 0.6
			ay += cohY / n * 0.6
		}
		ax += sepX * 3 * sepWeight
		ay += sepY * 3 * sepWeight

		for _, at := range b.swarm {
			dx := torusDelta(at.x-a.x, b.width)
			dy := torusDelta(at.y-a.y, b.height)
			d2 := dx*dx + dy*dy
			if d2 > attractorRadius*attractorRadius || d2 == 0 {
				continue
			}
			d := math.Sqrt(d2)
			pull := at.weight * (1 - d/attractorRadius) * 90
			ax += dx / d * pull
			ay += dy / d * pull
		}

		a.vx += ax * dt
		a.vy += ay * dt
		speed := math.Hypot(a.vx, a.vy)
		if speed > maxSpeed {
			a.vx = a.vx / speed * maxSpeed
			a.vy = a.vy / speed * maxSpeed
		} else if speed > 0 && speed < minSpeed {
			a.vx = a.vx / speed * minSpeed
			a.vy = a.vy / speed * minSpeed
		}
		a.x = wrap(a.x+a.vx*dt, b.width)
		a.y = wrap(a.y+a.vy*dt, b.height)
	}
}

// regenerateSwarm places a fresh cluster of weighted attractors around a
// random center. Tightness in [0,1]: 1 packs them together, 0 spreads them
// across a third of the surface.
func (b *Boids) regenerateSwarm(tightness float64) {
	if tightness < 0 {
		tightness = 0
	}
	if tightness > 1 {
		tightness = 1
	}
	spread := (1 - tightness) * b.width / 3
	cx := b.rng.Float64() * b.width
	cy := b.rng.Float64() * b.height
	b.swarm = b.swarm[:0]
	for i := 0; i < attractorCount; i++ {
		b.swarm = append(b.swarm, attractor{
			x:      wrap(cx+b.rng.NormFloat64()*spread, b.width),
			y:      wrap(cy+b.rng.NormFloat64()*spread, b.height),
			weight: 0.5 + b.rng.Float64(),
		})
	}
	angle := b.rng.Float64() * 2 * math.Pi
	drift := 20 + b.rng.Float64()*40
	b.swarmVX = math.Cos(angle) * drift
	b.swarmVY = math.Sin(angle) * drift
}

// driftSwarm moves the attractor cluster as a group.
func (b *Boids) driftSwarm(dt float64) {
	for i := range b.swarm {
		b.swarm[i].x = wrap(b.swarm[i].x+b.swarmVX*dt, b.width)
		b.swarm[i].y = wrap(b.swarm[i].y+b.swarmVY*dt, b.height)
	}
}

func (b *Boids) Render(dst *ebiten.Image) {
	for _, at := range b.swarm {
		r := 3 + at.weight*3
		ebitenutil.DrawCircle(dst, at.x, at.y, r, attractorColor)
	}
	for _, a := range b.agents {
		speed := math.Hypot(a.vx, a.vy)
		if speed == 0 {
			continue
		}
		// Draw each agent as a short streak along its heading.
		nx, ny := a.vx/speed, a.vy/speed
		ebitenutil.DrawLine(dst, a.x-nx*4, a.y-ny*4, a.x+nx*4, a.y+ny*4, boidColor)
	}
}

// waveformRMS computes the root-mean-square amplitude of a byte-encoded
// time-domain snapshot (bytes centered at 128).
func waveformRMS(w []byte) float64 {
	if len(w) == 0 {
		return 0
	}
	var sum float64
	for _, b := range w {
		s := (float64(b) - 128) / 128
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(w)))
}

// torusDelta returns the shortest signed distance on a wrapping axis.
func torusDelta(d, size float64) float64 {
	if d > size/2 {
		return d - size
	}
	if d < -size/2 {
		return d + size
	}
	return d
}

func wrap(v, size float64) float64 {
	for v < 0 {
		v += size
	}
	for v >= size {
		v -= size
	}
	return v
}
