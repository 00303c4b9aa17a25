package l3tracks

// arena is an index-stable slot store for tracks. Slots freed by deleted
// tracks are recycled, but identifiers are monotonic and never reused, so
// a track ID stays valid across inserts and removals for the whole
// session. Liveness is carried by the index alone. All access is under
// the tracker lock.
type arena struct {
	slots []Track
	free  []int
	index map[int64]int // track ID -> slot
}

func newArena() *arena {
	return &arena{index: make(map[int64]int)}
}

// insert places a track into a free slot, growing the arena if needed.
func (a *arena) insert(tr Track) {
	var slot int
	if n := len(a.free); n > 0 {
		slot = a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[slot] = tr
	} else {
		slot = len(a.slots)
		a.slots = append(a.slots, tr)
	}
	a.index[tr.ID] = slot
}

// get returns a pointer to the stored track, or nil if the ID is not live.
func (a *arena) get(id int64) *Track {
	slot, ok := a.index[id]
	if !ok {
		return nil
	}
	return &a.slots[slot]
}

// remove frees the track's slot. Removing an unknown ID is a no-op.
func (a *arena) remove(id int64) {
	slot, ok := a.index[id]
	if !ok {
		return
	}
	delete(a.index, id)
	a.slots[slot] = Track{}
	a.free = append(a.free, slot)
}

// size returns the number of live tracks.
func (a *arena) size() int {
	return len(a.index)
}

// ids returns the live track IDs in ascending order.
func (a *arena) ids() []int64 {
	out := make([]int64, 0, len(a.index))
	for id := range a.index {
		out = append(out, id)
	}
	// Insertion-order independence: callers iterate deterministically.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// reset drops every track and frees all slots.
func (a *arena) reset() {
	a.slots = a.slots[:0]
	a.free = a.free[:0]
	a.index = make(map[int64]int)
}
