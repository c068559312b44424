package manager

import (
	"io"
	"sort"

	"go.uber.org/multierr"
)

// Registry maps remote player ids to their relays. It is owned by a single event loop and
// holds no locks; every call must come from that loop.
type Registry[R io.Closer] struct {
	relays map[int]R
}

func NewRegistry[R io.Closer]() *Registry[R] {
	return &Registry[R]{relays: make(map[int]R)}
}

// GetRelay gets the relay of a remote player.
func (g *Registry[R]) GetRelay(id int) (R, bool) {
	relay, exists := g.relays[id]
	return relay, exists
}

// SetRelay stores a relay for a remote player. A relay previously stored under the same id
// is shut down first, so at most one relay per id is ever alive.
func (g *Registry[R]) SetRelay(id int, relay R) error {
	var err error
	if previous, exists := g.relays[id]; exists {
		err = previous.Close()
	}
	g.relays[id] = relay
	return err
}

// DeleteRelay gracefully shuts down a relay and then deletes it. It reports whether the id was known.
func (g *Registry[R]) DeleteRelay(id int) (bool, error) {
	relay, exists := g.relays[id]
	if !exists {
		return false, nil
	}
	delete(g.relays, id)
	return true, relay.Close()
}

// Clear shuts down and deletes every relay.
func (g *Registry[R]) Clear() error {
	var err error
	for id, relay := range g.relays {
		err = multierr.Append(err, relay.Close())
		delete(g.relays, id)
	}
	return err
}

// IDs returns the ids of all live relays in ascending order.
func (g *Registry[R]) IDs() []int {
	ids := make([]int, 0, len(g.relays))
	for id := range g.relays {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (g *Registry[R]) Len() int {
	return len(g.relays)
}
