package live

import "context"

// Delivery is one raw message from a subscription, or a channel error. A
// channel error does not end the subscription.
type Delivery struct {
	Data []byte
	Err  error
}

// Subscription is one open per-review channel. Deliveries is closed after
// Close returns or when the transport gives up. Close is idempotent.
type Subscription interface {
	Deliveries() <-chan Delivery
	Close() error
}

// Source opens live channels. The subscription is established when
// Subscribe returns, so any event published afterwards is delivered.
type Source interface {
	Subscribe(ctx context.Context, reviewID string) (Subscription, error)
}

// Publisher assigns the next per-review sequence number to env, delivers it
// and returns the sequence it was published under.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) (int64, error)
}
