// Package arp implements chord capture and the hub-driven arpeggiator.
package arp

import "sort"

const (
	// DefaultWindowMs is how long a capture window stays open after the
	// first note-on.
	DefaultWindowMs = 90
	// DefaultBucketMs groups near-simultaneous note-ons into one strum
	// bucket.
	DefaultBucketMs = 20
)

type capEvent struct {
	midi   int
	offset float64 // ms since window start
}

// Capture groups near-simultaneous note-on events into a deterministically
// ordered chord. Transient: begin, push, finalize, discard.
type Capture struct {
	windowMs float64
	bucketMs float64
	active   bool
	start    float64
	events   []capEvent
}

func NewCapture(windowMs, bucketMs float64) *Capture {
	if windowMs <= 0 {
		windowMs = DefaultWindowMs
	}
	if bucketMs <= 0 {
		bucketMs = DefaultBucketMs
	}
	return &Capture{windowMs: windowMs, bucketMs: bucketMs}
}

// Begin opens (or resets) the capture window at nowMs.
func (c *Capture) Begin(nowMs float64) {
	c.active = true
	c.start = nowMs
	c.events = c.events[:0]
}

// Push records a note-on. Ignored while no window is active.
func (c *Capture) Push(midi int, tMs float64) {
	if !c.active {
		return
	}
	off := tMs - c.start
	if off < 0 {
		off = 0
	}
	c.events = append(c.events, capEvent{midi: midi, offset: off})
}

func (c *Capture) Active() bool { return c.active }

// Elapsed reports whether the window has run out at nowMs.
func (c *Capture) Elapsed(nowMs float64) bool {
	return c.active && nowMs-c.start >= c.windowMs
}

func (c *Capture) Cancel() {
	c.active = false
	c.events = c.events[:0]
}

// Finalize closes the window and returns the captured chord in deterministic
// order: time buckets ascending, pitches ascending within a bucket, first
// occurrence wins for duplicates.
func (c *Capture) Finalize() []int {
	c.active = false
	if len(c.events) == 0 {
		return nil
	}
	buckets := make(map[int][]int)
	for _, ev := range c.events {
		idx := int(ev.offset / c.bucketMs)
		buckets[idx] = append(buckets[idx], ev.midi)
	}
	keys := make([]int, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	seen := make(map[int]bool, len(c.events))
	out := make([]int, 0, len(c.events))
	for _, k := range keys {
		pitches := buckets[k]
		sort.Ints(pitches)
		for _, m := range pitches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	c.events = c.events[:0]
	return out
}

// MergeEditOne edits an existing chord order without disturbing the other
// notes' relative positions. Notes no longer held are removed; each new
// addition greedily takes the nearest-pitch vacated slot (first available on
// ties) or is appended. The result holds exactly the currently-held notes.
//
// Greedy nearest-pitch matching is not a globally optimal assignment; it is
// good enough to keep voice-leading stable for single-note edits.
func MergeEditOne(prev []int, held map[int]bool, additions []int) []int {
	const vacated = -1
	next := make([]int, len(prev))
	type slot struct {
		pos   int
		pitch int
		used  bool
	}
	var removed []slot
	inResult := make(map[int]bool, len(prev))
	for i, m := range prev {
		if held[m] && !inResult[m] {
			next[i] = m
			inResult[m] = true
		} else {
			next[i] = vacated
			removed = append(removed, slot{pos: i, pitch: m})
		}
	}
	var appended []int
	for _, add := range additions {
		if !held[add] || inResult[add] {
			continue
		}
		inResult[add] = true
		best := -1
		bestDist := int(^uint(0) >> 1)
		for i := range removed {
			if removed[i].used {
				continue
			}
			d := add - removed[i].pitch
			if d < 0 {
				d = -d
			}
			if d < bestDist {
				bestDist = d
				best = i
			}
		}
		if best >= 0 {
			removed[best].used = true
			next[removed[best].pos] = add
		} else {
			appended = append(appended, add)
		}
	}
	out := make([]int, 0, len(next)+len(appended))
	for _, m := range next {
		if m != vacated {
			out = append(out, m)
		}
	}
	return append(out, appended...)
}
