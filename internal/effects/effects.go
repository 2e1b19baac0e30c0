// Package effects holds the master signal chain: a state-variable filter
// and a stereo feedback delay behind one stereo sample-pair interface.
package effects

// Effector transforms one stereo sample pair. Reset drops all internal
// state (filter integrators, delay tail).
type Effector interface {
	Process(l, r float32) (float32, float32)
	Reset()
}

// Chain runs effectors in sequence. The chain topology is fixed at build
// time; SignalChain rebuilds the chain when the delay buffer changes.
type Chain struct {
	effects []Effector
}

func NewChain(effects ...Effector) *Chain {
	return &Chain{effects: effects}
}

func (c *Chain) Process(l, r float32) (float32, float32) {
	for _, e := range c.effects {
		l, r = e.Process(l, r)
	}
	return l, r
}

func (c *Chain) Reset() {
	for _, e := range c.effects {
		e.Reset()
	}
}
