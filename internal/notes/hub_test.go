package notes

import (
	"reflect"
	"sync"
	"testing"
)

func TestHubSynchronousOrderedDispatch(t *testing.T) {
	h := NewHub()
	var order []string
	h.On(func(ev Event) { order = append(order, "first") })
	h.On(func(ev Event) { order = append(order, "second") })
	h.NoteOn(60, 0.8, 1.5, "keyboard")
	if !reflect.DeepEqual(order, []string{"first", "second"}) {
		t.Fatalf("listeners must run synchronously in registration order, got %v", order)
	}
}

func TestHubListenerSeesCallerTimestamp(t *testing.T) {
	h := NewHub()
	var got float64
	h.On(func(ev Event) { got = ev.Time })
	h.NoteOn(64, 1, 2.25, "keyboard")
	if got != 2.25 {
		t.Fatalf("listener should see the caller's audio-clock time, got %f", got)
	}
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub()
	count := 0
	unsub := h.On(func(ev Event) { count++ })
	h.NoteOn(60, 1, 0, "keyboard")
	unsub()
	h.NoteOff(60, 0, "keyboard")
	if count != 1 {
		t.Fatalf("expected one delivery before unsubscribe, got %d", count)
	}
}

func TestHubSourceRefCounting(t *testing.T) {
	h := NewHub()
	h.NoteOn(60, 0.9, 0, "keyboard")
	h.NoteOn(60, 0.9, 0.1, "arp")
	h.NoteOff(60, 0.2, "keyboard")
	if h.HeldCount() != 1 {
		t.Fatalf("pitch still held by arp, HeldCount=%d", h.HeldCount())
	}
	snap := h.Snapshot(0.3)
	if !reflect.DeepEqual(snap.ByMIDI[60].Sources, []string{"arp"}) {
		t.Fatalf("expected only arp source, got %v", snap.ByMIDI[60].Sources)
	}
	h.NoteOff(60, 0.4, "arp")
	if h.HeldCount() != 0 {
		t.Fatal("pitch should be off once its source set empties")
	}
}

func TestHubNoteOffUnknownPitchIsNoop(t *testing.T) {
	h := NewHub()
	events := 0
	h.On(func(ev Event) { events++ })
	h.NoteOff(99, 0, "keyboard")
	if h.HeldCount() != 0 {
		t.Fatal("nothing should be held")
	}
	if events != 0 {
		t.Fatal("no event should be dispatched for an unknown pitch")
	}
}

func TestSnapshotOrderedAndImmutable(t *testing.T) {
	h := NewHub()
	h.NoteOn(67, 1, 0, "keyboard")
	h.NoteOn(60, 1, 0, "keyboard")
	h.NoteOn(64, 1, 0, "keyboard")
	snap := h.Snapshot(1)

	want := []int{60, 64, 67}
	for i, held := range snap.Held {
		if held.MIDI != want[i] {
			t.Fatalf("snapshot order: got %v at %d, want %v", held.MIDI, i, want)
		}
	}

	// Mutating the hub afterwards must not affect the snapshot.
	h.NoteOff(60, 2, "keyboard")
	if len(snap.Held) != 3 || snap.ByMIDI[60].MIDI != 60 {
		t.Fatal("snapshot changed after hub mutation")
	}
}

// The hub is written from input handlers and MIDI callbacks while the
// sequencer tick snapshots it from its own goroutine.
func TestHubConcurrentWritersAndSnapshots(t *testing.T) {
	h := NewHub()
	h.On(func(Event) {})

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			h.NoteOn(60+i%12, 1, float64(i), "keyboard")
			h.NoteOff(60+i%12, float64(i), "keyboard")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			h.NoteOn(36+i%12, 0.5, float64(i), "midi")
			h.NoteOff(36+i%12, float64(i), "midi")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			snap := h.Snapshot(float64(i))
			for j := 1; j < len(snap.Held); j++ {
				if snap.Held[j].MIDI <= snap.Held[j-1].MIDI {
					t.Error("snapshot out of order")
					return
				}
			}
			_ = h.HeldCount()
		}
	}()
	wg.Wait()

	if h.HeldCount() != 0 {
		t.Fatalf("all notes released, HeldCount=%d", h.HeldCount())
	}
}
