package interfaces

// -----------------------------------------------------------------------------
// IBroker is the publish/subscribe transport connecting publishers to
// subscribers. Payloads are serialized bytes: each delivery hands the
// subscriber its own copy, so no subscriber can observe another's mutation.
// -----------------------------------------------------------------------------

// BrokerHandler is invoked once per delivered message, on the subscription's
// own dispatch goroutine. A slow handler delays only its own subscription.
type BrokerHandler func(channel string, payload []byte)

// -----------------------------------------------------------------------------

// ISubscription is the handle returned by Subscribe.
type ISubscription interface {

	// ID returns the unique identifier of this subscription
	ID() string

	// Channel returns the channel this subscription is attached to
	Channel() string
}

// -----------------------------------------------------------------------------

type IBroker interface {

	// Connect establishes the connection to the underlying transport
	Connect() error

	// Disconnect tears down all subscriptions and the connection
	Disconnect() error

	// -----------------------------------------------------------------------------

	// Publish delivers payload to every subscriber of channel.
	// Must not block on slow subscribers. Delivery is at-most-once per
	// subscriber; per-channel publish order is preserved by the memory
	// implementation and best-effort for the distributed one.
	Publish(channel string, payload []byte) error

	// -----------------------------------------------------------------------------

	// Subscribe registers handler for channel and returns a handle for
	// Unsubscribe. The handler runs on a dedicated dispatch context.
	Subscribe(channel string, handler BrokerHandler) (ISubscription, error)

	// -----------------------------------------------------------------------------

	// Unsubscribe detaches the given subscription
	Unsubscribe(sub ISubscription) error
}
