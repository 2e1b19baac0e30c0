package notes

import (
	"sort"
	"sync"
)

// EventKind tags hub events.
type EventKind int

const (
	NoteOn EventKind = iota
	NoteOff
)

// Event is an immutable note event. Time is an audio-clock timestamp in
// seconds, not wall clock; listeners scheduling audio use it directly.
type Event struct {
	Kind     EventKind
	MIDI     int
	Velocity float64
	Time     float64
	Source   string
}

// Held is a point-in-time view of one held pitch.
type Held struct {
	MIDI     int
	Velocity float64
	OnTime   float64
	Sources  []string
}

// Snapshot is an immutable copy of the hub's held-note state.
type Snapshot struct {
	Held   []Held // ordered ascending by MIDI
	ByMIDI map[int]Held
	Time   float64
}

type heldRecord struct {
	velocity float64
	onTime   float64
	sources  map[string]struct{}
}

// Hub is the single point of truth for which MIDI notes are currently down.
// A pitch may be held by several sources at once and goes off only when its
// source set empties. Dispatch is synchronous on the caller's goroutine and
// in registration order; listeners see the caller's timestamp, so there is
// deliberately no queue.
//
// The hub is driven from several goroutines at once (key input, MIDI
// driver callbacks, the sequencer tick). State changes happen under an
// internal lock; dispatch runs after the lock is released, so a listener
// may call back into the hub.
type Hub struct {
	mu        sync.Mutex
	held      map[int]*heldRecord
	listeners []listener
	nextID    int
}

type listener struct {
	id int
	fn func(Event)
}

func NewHub() *Hub {
	return &Hub{held: make(map[int]*heldRecord)}
}

// On registers a listener and returns its unsubscribe func.
func (h *Hub) On(fn func(Event)) (unsubscribe func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners = append(h.listeners, listener{id: id, fn: fn})
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i := range h.listeners {
			if h.listeners[i].id == id {
				h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
				return
			}
		}
	}
}

func (h *Hub) NoteOn(midi int, velocity float64, t float64, source string) {
	h.mu.Lock()
	rec := h.held[midi]
	if rec == nil {
		rec = &heldRecord{
			velocity: velocity,
			onTime:   t,
			sources:  make(map[string]struct{}, 2),
		}
		h.held[midi] = rec
	}
	rec.sources[source] = struct{}{}
	ls := h.listenersLocked()
	h.mu.Unlock()
	dispatch(ls, Event{Kind: NoteOn, MIDI: midi, Velocity: velocity, Time: t, Source: source})
}

func (h *Hub) NoteOff(midi int, t float64, source string) {
	h.mu.Lock()
	rec := h.held[midi]
	if rec == nil {
		h.mu.Unlock()
		return
	}
	delete(rec.sources, source)
	if len(rec.sources) == 0 {
		delete(h.held, midi)
	}
	ls := h.listenersLocked()
	h.mu.Unlock()
	dispatch(ls, Event{Kind: NoteOff, MIDI: midi, Time: t, Source: source})
}

// HeldCount returns the number of currently-down pitches.
func (h *Hub) HeldCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.held)
}

// Snapshot copies the held-note state. The copy never mutates afterwards, so
// readers on other timelines need no locking against the live map.
func (h *Hub) Snapshot(now float64) Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := Snapshot{
		Held:   make([]Held, 0, len(h.held)),
		ByMIDI: make(map[int]Held, len(h.held)),
		Time:   now,
	}
	for midi, rec := range h.held {
		srcs := make([]string, 0, len(rec.sources))
		for s := range rec.sources {
			srcs = append(srcs, s)
		}
		sort.Strings(srcs)
		held := Held{MIDI: midi, Velocity: rec.velocity, OnTime: rec.onTime, Sources: srcs}
		snap.Held = append(snap.Held, held)
		snap.ByMIDI[midi] = held
	}
	sort.Slice(snap.Held, func(i, j int) bool { return snap.Held[i].MIDI < snap.Held[j].MIDI })
	return snap
}

// listenersLocked copies the listener list so dispatch can run outside the
// lock; a listener may unsubscribe itself during dispatch.
func (h *Hub) listenersLocked() []listener {
	ls := make([]listener, len(h.listeners))
	copy(ls, h.listeners)
	return ls
}

func dispatch(ls []listener, ev Event) {
	for _, l := range ls {
		l.fn(ev)
	}
}
