package interfaces

// Subscription is an active message-bus subscription.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the message-bus boundary: wildcard subscribe with a callback,
// and fire-and-forget publish.
type Bus interface {
	Subscribe(subject string, handler func(subject string, data []byte)) (Subscription, error)
	Publish(subject string, data []byte) error
	Drain() error
}
