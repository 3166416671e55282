package imaging

import "sync"

// DedupSet is the per-task registry of accepted image identities, keyed by
// content hash. It is the only mutable structure shared across concurrent
// image resolutions within a task; admission is atomic so two slides cannot
// both accept visually identical candidates as independently first. The lock
// is only ever held for the map operation, never across a network call.
type DedupSet struct {
	mu       sync.Mutex
	accepted map[string]int // content hash -> slide index that owns it
}

// NewDedupSet creates an empty dedup set.
func NewDedupSet() *DedupSet {
	return &DedupSet{accepted: make(map[string]int)}
}

// Admit records hash as accepted for slideIndex. It returns false when the
// hash is already owned by another slide, in which case the caller must
// discard the candidate and advance its fallback chain.
func (d *DedupSet) Admit(hash string, slideIndex int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, taken := d.accepted[hash]; taken {
		return false
	}
	d.accepted[hash] = slideIndex
	return true
}

// Len returns the number of accepted identities.
func (d *DedupSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.accepted)
}
