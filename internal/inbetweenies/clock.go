package inbetweenies

// VectorClock maps a replica id to the highest change sequence that replica
// has observed
type VectorClock map[string]int64

// Ordering is the result of comparing two vector clocks
type Ordering int

const (
	OrderingEqual Ordering = iota
	OrderingBefore
	OrderingAfter
	OrderingConcurrent
)

// Counter returns the counter for a replica, zero when absent
func (vc VectorClock) Counter(replicaID string) int64 {
	return vc[replicaID]
}

// Increment bumps the counter for a replica and returns the new value
func (vc VectorClock) Increment(replicaID string) int64 {
	vc[replicaID]++
	return vc[replicaID]
}

// Copy returns an independent copy of the clock
func (vc VectorClock) Copy() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// Merge returns the pointwise maximum of both clocks
func (vc VectorClock) Merge(other VectorClock) VectorClock {
	out := vc.Copy()
	for k, v := range other {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

// Compare orders vc against other: Before when every counter is <= and at
// least one is strictly less, After for the mirror case, Concurrent when
// each side has seen something the other has not.
func (vc VectorClock) Compare(other VectorClock) Ordering {
	less, greater := false, false
	for k := range vc {
		a, b := vc[k], other[k]
		if a < b {
			less = true
		} else if a > b {
			greater = true
		}
	}
	for k := range other {
		if _, ok := vc[k]; ok {
			continue
		}
		if other[k] > 0 {
			less = true
		}
	}
	switch {
	case less && greater:
		return OrderingConcurrent
	case less:
		return OrderingBefore
	case greater:
		return OrderingAfter
	default:
		return OrderingEqual
	}
}
