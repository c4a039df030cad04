package engine

import "sync"

// memoryStore is the sharded id -> *Memory map. Mutation of a Memory
// happens under its shard's write lock; readers receive copies.
type memoryStore struct {
	shards []*storeShard
}

type storeShard struct {
	mu   sync.RWMutex
	recs map[string]*Memory
}

func newMemoryStore(shardCount int) *memoryStore {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	n := 1
	for n < shardCount {
		n <<= 1
	}
	shards := make([]*storeShard, n)
	for i := range shards {
		shards[i] = &storeShard{recs: make(map[string]*Memory)}
	}
	return &memoryStore{shards: shards}
}

func (ms *memoryStore) shardFor(id string) *storeShard {
	h := uint32(2166136261)
	for i := 0; i < len(id); i++ {
		h ^= uint32(id[i])
		h *= 16777619
	}
	return ms.shards[h&uint32(len(ms.shards)-1)]
}

// insert stores m. Returns false when the ID already exists.
func (ms *memoryStore) insert(m *Memory) bool {
	s := ms.shardFor(m.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[m.ID]; ok {
		return false
	}
	s.recs[m.ID] = m
	return true
}

// get returns a copy of the record, so callers never observe concurrent
// mutation of cue slices.
func (ms *memoryStore) get(id string) (Memory, bool) {
	s := ms.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.recs[id]
	if !ok {
		return Memory{}, false
	}
	cp := *m
	cp.Cues = m.cloneCues()
	return cp, true
}

func (ms *memoryStore) contains(id string) bool {
	s := ms.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.recs[id]
	return ok
}

// remove deletes and returns the record.
func (ms *memoryStore) remove(id string) (Memory, bool) {
	s := ms.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.recs[id]
	if !ok {
		return Memory{}, false
	}
	delete(s.recs, id)
	return *m, true
}

// update applies fn to the live record under the shard lock. Returns
// false for unknown IDs.
func (ms *memoryStore) update(id string, fn func(*Memory)) bool {
	s := ms.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.recs[id]
	if !ok {
		return false
	}
	fn(m)
	return true
}

// each calls fn with a copy of every record. fn returning false stops the
// walk within the current shard and skips the rest.
func (ms *memoryStore) each(fn func(Memory) bool) {
	for _, s := range ms.shards {
		s.mu.RLock()
		for _, m := range s.recs {
			cp := *m
			cp.Cues = m.cloneCues()
			if !fn(cp) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}
