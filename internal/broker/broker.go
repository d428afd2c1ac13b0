// Package broker wraps the queue/set/pub-sub primitives BlueCollar needs
// from its backing store (spec §1: "the design assumes a broker providing
// blocking list pop/push, set membership, and publish/subscribe"). Redis is
// the reference implementation; Memory exists so worker and gateway logic
// can be exercised in tests without a live Redis instance.
package broker

import (
	"context"
	"time"
)

// Broker is the contract every BlueCollar process depends on. It never
// knows about envelopes or replies — those are layered on top in
// internal/worker and internal/gateway.
type Broker interface {
	// Push appends value to the tail of the named list (RPUSH semantics).
	Push(ctx context.Context, key string, value []byte) error

	// BlockingPop removes and returns the head of the named list, blocking
	// up to timeout. It returns (nil, nil) on timeout — not an error — so
	// callers can distinguish "nothing arrived" from a broken connection.
	BlockingPop(ctx context.Context, key string, timeout time.Duration) ([]byte, error)

	// SetAdd adds member to the named set (SADD semantics).
	SetAdd(ctx context.Context, key, member string) error

	// SetRemove removes member from the named set (SREM semantics).
	SetRemove(ctx context.Context, key, member string) error

	// SetIsMember reports whether member belongs to the named set.
	SetIsMember(ctx context.Context, key, member string) (bool, error)

	// Publish broadcasts value to subscribers of channel.
	Publish(ctx context.Context, channel string, value []byte) error

	// Subscribe returns a handle whose Messages channel delivers values
	// published to any of the given channels until the handle is closed.
	Subscribe(ctx context.Context, channels ...string) (PubSub, error)

	// Close releases any underlying connection.
	Close() error
}

// PubSub is a live subscription. A BlueCollar WebSocket client owns at most
// one of these at a time (spec §3, "at most one live pump per client").
type PubSub interface {
	// Messages delivers one Message per published value, in publish order
	// per channel.
	Messages() <-chan Message

	// Subscribe adds channels to this subscription without losing
	// messages already queued for channels it already holds.
	Subscribe(ctx context.Context, channels ...string) error

	// Unsubscribe removes channels from this subscription. Removing every
	// subscribed channel does not close the handle; call Close for that.
	Unsubscribe(ctx context.Context, channels ...string) error

	// Close ends the subscription and releases its resources.
	Close() error
}

// Message is one value delivered by a PubSub subscription.
type Message struct {
	Channel string
	Payload []byte
}

// ErrTimeout is returned by implementations that cannot express "no value
// arrived" as a nil, nil return (none currently do; kept for callers that
// want to errors.Is against broker failures uniformly).
var ErrTimeout = errTimeout{}

type errTimeout struct{}

func (errTimeout) Error() string { return "broker: blocking pop timed out" }
