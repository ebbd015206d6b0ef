package world

// Event is emitted by the Store whenever a chunk changes generation state or
// render tier. The LOD renderer and telemetry listeners consume these instead
// of polling chunk state.
type Event struct {
	Pos ChunkPos
	// Old and New are the generation states around the transition. A pure
	// tier change keeps both equal.
	Old, New State
	Tier     Tier
}

// Subscribe registers a listener channel with the buffer size passed and
// returns it. Events are delivered best-effort: a listener that falls behind
// has events dropped rather than stalling the store's owner goroutine.
func (s *Store) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	<-s.exec(func() {
		s.subs = append(s.subs, ch)
	})
	return ch
}

// emit publishes an event to all subscribers. Must be called on the owner
// goroutine.
func (s *Store) emit(ev Event) {
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
