package ml

// IDMap is a bidirectional mapping between external identifiers and dense
// matrix indices. Indices are assigned in first-seen order.
//
// A missing id is a miss, not an error: callers treat it as "no
// recommendation available".
type IDMap[K comparable] struct {
	index map[K]int
	ids   []K
}

// NewIDMap creates an empty map.
func NewIDMap[K comparable]() *IDMap[K] {
	return &IDMap[K]{index: make(map[K]int)}
}

// NewIDMapFrom rebuilds a map from ids in index order, as stored in a snapshot.
// Duplicate ids keep their first index.
func NewIDMapFrom[K comparable](ids []K) *IDMap[K] {
	m := &IDMap[K]{index: make(map[K]int, len(ids)), ids: make([]K, 0, len(ids))}
	for _, id := range ids {
		m.Add(id)
	}
	return m
}

// Add returns the index of id, assigning the next free index if id is new.
func (m *IDMap[K]) Add(id K) int {
	if idx, ok := m.index[id]; ok {
		return idx
	}
	idx := len(m.ids)
	m.index[id] = idx
	m.ids = append(m.ids, id)
	return idx
}

// Index returns the dense index of id.
func (m *IDMap[K]) Index(id K) (int, bool) {
	if m == nil {
		return 0, false
	}
	idx, ok := m.index[id]
	return idx, ok
}

// ID returns the external id stored at idx.
func (m *IDMap[K]) ID(idx int) (K, bool) {
	var zero K
	if m == nil || idx < 0 || idx >= len(m.ids) {
		return zero, false
	}
	return m.ids[idx], true
}

// Len returns the number of mapped ids.
func (m *IDMap[K]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.ids)
}

// IDs returns a copy of the ids in index order.
func (m *IDMap[K]) IDs() []K {
	if m == nil {
		return nil
	}
	out := make([]K, len(m.ids))
	copy(out, m.ids)
	return out
}
