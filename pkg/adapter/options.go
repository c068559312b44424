package adapter

import (
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/peer"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/resolver"
)

// RelayFactory builds a relay. The default factory creates pion-backed peer relays.
type RelayFactory func(config peer.Config, events chan<- peer.Event) (Relay, error)

// Option customizes an Adapter.
type Option func(*Adapter)

// WithRelayFactory replaces the relay constructor.
func WithRelayFactory(factory RelayFactory) Option {
	return func(a *Adapter) {
		a.newRelay = factory
	}
}

// WithResolver replaces the relay-service hostname resolver.
func WithResolver(r *resolver.Resolver) Option {
	return func(a *Adapter) {
		a.resolver = r
	}
}

func newPeerRelay(config peer.Config, events chan<- peer.Event) (Relay, error) {
	return peer.New(config, events)
}
