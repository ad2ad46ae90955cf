// Package history keeps the undo/redo stack of an editing session.
package history

import (
	"github.com/debemdeboas/postdeck/internal/model"
)

// History is an undo/redo stack over content snapshots. It is not safe for concurrent use;
// the owning editor session serializes access.
type History struct {
	past    []model.Snapshot // oldest..newest
	present model.Snapshot
	future  []model.Snapshot // next redo is the last element

	// limit caps len(past); 0 means unbounded. The oldest entries are evicted first.
	limit int
}

func New(initial model.Snapshot, limit int) *History {
	if limit < 0 {
		limit = 0
	}
	return &History{present: initial.Clone(), limit: limit}
}

// Record makes snapshot the present state. Recording a snapshot equal to the present is a no-op.
func (h *History) Record(snapshot model.Snapshot) bool {
	if snapshot.Equal(h.present) {
		return false
	}

	h.pushPast(h.present)
	h.present = snapshot.Clone()
	h.future = nil
	return true
}

func (h *History) Undo() (model.Snapshot, bool) {
	if len(h.past) == 0 {
		return model.Snapshot{}, false
	}

	prev := h.past[len(h.past)-1]
	h.past = h.past[:len(h.past)-1]
	h.future = append(h.future, h.present)
	h.present = prev
	return h.present.Clone(), true
}

func (h *History) Redo() (model.Snapshot, bool) {
	if len(h.future) == 0 {
		return model.Snapshot{}, false
	}

	next := h.future[len(h.future)-1]
	h.future = h.future[:len(h.future)-1]
	h.pushPast(h.present)
	h.present = next
	return h.present.Clone(), true
}

func (h *History) pushPast(s model.Snapshot) {
	h.past = append(h.past, s)
	if h.limit > 0 && len(h.past) > h.limit {
		h.past = h.past[len(h.past)-h.limit:]
	}
}

func (h *History) Present() model.Snapshot {
	return h.present.Clone()
}

func (h *History) CanUndo() bool { return len(h.past) > 0 }

func (h *History) CanRedo() bool { return len(h.future) > 0 }

// Reset discards past and future and starts over from snapshot.
func (h *History) Reset(snapshot model.Snapshot) {
	h.past = nil
	h.future = nil
	h.present = snapshot.Clone()
}

// Versions lists every undoable state followed by the present, oldest first.
func (h *History) Versions() []model.Snapshot {
	versions := make([]model.Snapshot, 0, len(h.past)+1)
	for _, s := range h.past {
		versions = append(versions, s.Clone())
	}
	return append(versions, h.present.Clone())
}

func (h *History) Limit() int { return h.limit }
