package mesh

import (
	"github.com/ef-ds/deque"
)

// ContributionWindow is a fixed-length FIFO of per-batch share-contribution
// scores. Credits accumulate in the newest slot; at the end of every batch
// the window rotates, evicting the oldest slot and opening a fresh zero one.
type ContributionWindow struct {
	q      deque.Deque
	length int
}

// NewContributionWindow creates a window of the given length, all slots zero.
// Length must be positive; shorter windows make the scoring system forget
// faster.
func NewContributionWindow(length int) *ContributionWindow {
	w := &ContributionWindow{length: length}
	for i := 0; i < length; i++ {
		w.q.PushBack(float64(0))
	}
	return w
}

// Credit adds v to the newest slot.
func (w *ContributionWindow) Credit(v float64) {
	cur, _ := w.q.PopBack()
	w.q.PushBack(cur.(float64) + v)
}

// Latest returns the newest slot, the contribution accumulated in the
// current batch.
func (w *ContributionWindow) Latest() float64 {
	v, _ := w.q.Back()
	return v.(float64)
}

// Rotate evicts the oldest slot and appends a fresh zero slot.
func (w *ContributionWindow) Rotate() {
	w.q.PopFront()
	w.q.PushBack(float64(0))
}

// Values returns the slots ordered oldest to newest.
func (w *ContributionWindow) Values() []float64 {
	values := make([]float64, 0, w.length)
	// cycle the deque through one full rotation to read it in order
	for i := 0; i < w.length; i++ {
		v, _ := w.q.PopFront()
		values = append(values, v.(float64))
		w.q.PushBack(v)
	}
	return values
}

// Len returns the window length.
func (w *ContributionWindow) Len() int {
	return w.length
}

// Neighbor is one peer's local record of its relationship with another peer.
// It is exclusively owned by the recording peer; the counterpart peer keeps
// its own Neighbor instance for the reverse relationship, and the symmetry of
// the two is an invariant maintained by the run driver, not a shared object.
type Neighbor struct {
	// EstTime is the local time at which the relationship was established.
	EstTime    int
	Preference Preference

	// Contribution records the share contributions of this neighbor over the
	// last few batches; Score is the aggregate computed from it by the
	// scoring policy.
	Contribution *ContributionWindow
	Score        float64

	// LazyRound counts consecutive batches in which this neighbor's
	// contribution stayed at or below the laziness threshold. The scoring
	// policy evicts the neighbor once it reaches the configured limit.
	LazyRound int
}

// NewNeighbor creates a neighbor record with a zeroed contribution window of
// the given length.
func NewNeighbor(estTime int, contributionLength int) *Neighbor {
	return &Neighbor{
		EstTime:      estTime,
		Contribution: NewContributionWindow(contributionLength),
	}
}
