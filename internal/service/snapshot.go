package service

// snapshot remembers the payload last published per topic. A topic that was
// never published has no entry, so the first scan publishes everything.
// Each loop owns its own snapshot; no locking.
type snapshot struct {
	last map[string]string
}

func newSnapshot() *snapshot {
	return &snapshot{last: make(map[string]string)}
}

// changed reports whether payload differs from the last published value.
func (s *snapshot) changed(topic, payload string) bool {
	prev, ok := s.last[topic]
	return !ok || prev != payload
}

// commit records a value that was actually published.
func (s *snapshot) commit(topic, payload string) {
	s.last[topic] = payload
}
