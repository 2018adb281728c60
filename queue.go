// this file implements the per-session song queue
package main

// Queue holds every entry ever added to a session, in play order. Entries
// are never removed by playback; they transition to a terminal status and
// stay behind for history. Only an explicit remove drops an entry.
//
// Slice order is the explicit ordering: adds append (addedAt order) and
// reorders splice, so renumbering the pending entries in slice order yields
// the (reorder rank, addedAt) ranking.
type Queue struct {
	entries []*QueueEntry
}

func NewQueue() *Queue {
	return &Queue{entries: make([]*QueueEntry, 0)}
}

// Add appends a pending entry and assigns it the next position.
func (q *Queue) Add(entry *QueueEntry) error {
	if q.byID(entry.ID) != nil {
		return ErrDuplicateEntry
	}
	entry.Status = StatusPending
	q.entries = append(q.entries, entry)
	q.renumber()
	return nil
}

// Remove drops the entry entirely. wasPlaying tells the caller that the
// current song is gone and an advance is required.
func (q *Queue) Remove(id string) (wasPlaying bool, err error) {
	idx := q.indexOf(id)
	if idx < 0 {
		return false, ErrNotFound
	}
	wasPlaying = q.entries[idx].Status == StatusPlaying
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	q.renumber()
	return wasPlaying, nil
}

// Reorder moves a pending entry to newPosition among the pending entries.
// Targets past the end are clamped; negative targets are rejected.
func (q *Queue) Reorder(id string, newPosition int) error {
	if newPosition < 0 {
		return ErrInvalidPosition
	}
	entry := q.byID(id)
	if entry == nil || entry.Status != StatusPending {
		return ErrNotFound
	}

	pending := q.Pending()
	if newPosition > len(pending)-1 {
		newPosition = len(pending) - 1
	}
	if entry.Position == newPosition {
		return nil
	}

	// Reorder the pending sequence, then pour it back into the pending
	// slots of the full slice so non-pending entries keep their places.
	reordered := make([]*QueueEntry, 0, len(pending))
	for _, e := range pending {
		if e != entry {
			reordered = append(reordered, e)
		}
	}
	reordered = append(reordered[:newPosition], append([]*QueueEntry{entry}, reordered[newPosition:]...)...)

	i := 0
	for idx, e := range q.entries {
		if e.Status == StatusPending {
			q.entries[idx] = reordered[i]
			i++
		}
	}

	q.renumber()
	return nil
}

// Advance marks the current playing entry with the given terminal status
// and promotes the head of the pending entries. Returns the new current
// entry, or nil if nothing is pending.
func (q *Queue) Advance(terminal QueueEntryStatus) *QueueEntry {
	if cur := q.Current(); cur != nil {
		cur.Status = terminal
	}
	pending := q.Pending()
	if len(pending) == 0 {
		return nil
	}
	next := pending[0]
	next.Status = StatusPlaying
	q.renumber()
	return next
}

// Current returns the playing entry, or nil. At most one entry is playing.
func (q *Queue) Current() *QueueEntry {
	for _, e := range q.entries {
		if e.Status == StatusPlaying {
			return e
		}
	}
	return nil
}

// Pending returns the pending entries in play order.
func (q *Queue) Pending() []*QueueEntry {
	pending := make([]*QueueEntry, 0, len(q.entries))
	for _, e := range q.entries {
		if e.Status == StatusPending {
			pending = append(pending, e)
		}
	}
	return pending
}

// PendingBy counts pending entries added by the given user.
func (q *Queue) PendingBy(userID string) int {
	n := 0
	for _, e := range q.entries {
		if e.Status == StatusPending && e.AddedBy == userID {
			n++
		}
	}
	return n
}

// Snapshot returns a value copy of every entry in play order.
func (q *Queue) Snapshot() []QueueEntry {
	out := make([]QueueEntry, len(q.entries))
	for i, e := range q.entries {
		out[i] = *e
	}
	return out
}

func (q *Queue) Len() int { return len(q.entries) }

func (q *Queue) byID(id string) *QueueEntry {
	if idx := q.indexOf(id); idx >= 0 {
		return q.entries[idx]
	}
	return nil
}

func (q *Queue) indexOf(id string) int {
	for i, e := range q.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// renumber keeps pending positions dense from 0 in slice order. Entries in
// other states keep the position they had when they left pending.
func (q *Queue) renumber() {
	pos := 0
	for _, e := range q.entries {
		if e.Status == StatusPending {
			e.Position = pos
			pos++
		}
	}
}
