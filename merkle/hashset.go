package merkle

// HashSet is an insertion ordered set of entry hashes. The garbage collection
// layer accumulates one per commit and iterates them in the order hashes were
// first introduced.
type HashSet struct {
	order   []EntryHash
	members map[EntryHash]struct{}
}

func NewHashSet(hashes ...EntryHash) *HashSet {
	s := &HashSet{members: make(map[EntryHash]struct{}, len(hashes))}
	for _, h := range hashes {
		s.Add(h)
	}
	return s
}

func (s *HashSet) Add(h EntryHash) {
	if _, ok := s.members[h]; ok {
		return
	}
	s.members[h] = struct{}{}
	s.order = append(s.order, h)
}

func (s *HashSet) Remove(h EntryHash) {
	delete(s.members, h)
}

func (s *HashSet) Contains(h EntryHash) bool {
	_, ok := s.members[h]
	return ok
}

func (s *HashSet) Len() int {
	return len(s.members)
}

// Values returns the live members in insertion order.
func (s *HashSet) Values() []EntryHash {
	out := make([]EntryHash, 0, len(s.members))
	for _, h := range s.order {
		if _, ok := s.members[h]; ok {
			out = append(out, h)
		}
	}
	return out
}

// AddAll merges every member of other into s.
func (s *HashSet) AddAll(other *HashSet) {
	if other == nil {
		return
	}
	for _, h := range other.Values() {
		s.Add(h)
	}
}
