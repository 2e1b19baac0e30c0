// Package midiin feeds hardware MIDI note input into the note hub.
package midiin

import (
	"errors"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // register MIDI driver

	"github.com/cbegin/visynth-go/internal/notes"
)

// SourceID tags hub events produced by hardware MIDI input.
const SourceID = "midi"

// Clock supplies the audio-clock timestamp attached to incoming events.
type Clock interface {
	Now() float64
}

// Source listens on one MIDI input port and forwards note messages to the
// hub. Close emits compensating note-offs for everything still down, so a
// disconnect can never leave a note stuck on.
type Source struct {
	mu     sync.Mutex
	hub    *notes.Hub
	clock  Clock
	stop   func()
	down   map[int]bool
	closed bool
	port   string
}

// Open connects to the first available MIDI input port.
func Open(hub *notes.Hub, clock Clock) (*Source, error) {
	ins := gomidi.GetInPorts()
	if len(ins) == 0 {
		return nil, errors.New("no MIDI input ports available")
	}
	return OpenPort(hub, clock, ins[0])
}

// OpenPort connects to a specific input port.
func OpenPort(hub *notes.Hub, clock Clock, in drivers.In) (*Source, error) {
	s := &Source{
		hub:   hub,
		clock: clock,
		down:  make(map[int]bool),
		port:  in.String(),
	}
	stop, err := gomidi.ListenTo(in, s.handle)
	if err != nil {
		return nil, err
	}
	s.stop = stop
	return s, nil
}

// Port returns the name of the connected input port.
func (s *Source) Port() string { return s.port }

func (s *Source) handle(msg gomidi.Message, timestampms int32) {
	var channel, note, velocity uint8
	switch {
	case msg.GetNoteStart(&channel, &note, &velocity):
		now := s.clock.Now()
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.down[int(note)] = true
		s.mu.Unlock()
		s.hub.NoteOn(int(note), float64(velocity)/127, now, SourceID)
	case msg.GetNoteEnd(&channel, &note):
		now := s.clock.Now()
		s.mu.Lock()
		if s.closed || !s.down[int(note)] {
			s.mu.Unlock()
			return
		}
		delete(s.down, int(note))
		s.mu.Unlock()
		s.hub.NoteOff(int(note), now, SourceID)
	}
}

// Close stops listening and releases every note this source turned on.
// Idempotent.
func (s *Source) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stop := s.stop
	s.stop = nil
	pending := make([]int, 0, len(s.down))
	for m := range s.down {
		pending = append(pending, m)
	}
	s.down = make(map[int]bool)
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	now := s.clock.Now()
	for _, m := range pending {
		s.hub.NoteOff(m, now, SourceID)
	}
}
