// Package bus adapts the NATS connection to the message-bus boundary used
// by the engine, so tests can substitute an in-memory bus.
package bus

import (
	"context"
	"fmt"
	"time"

	"risk-manager/internal/interfaces"
	"risk-manager/internal/logger"

	"github.com/nats-io/nats.go"
)

type natsBus struct {
	nc *nats.Conn
}

// Connect dials the NATS server with reconnection enabled. Startup fails
// when the server is unreachable; after that the client reconnects on its
// own indefinitely.
func Connect(url, name string) (interfaces.Bus, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn(context.Background(), "NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info(context.Background(), "NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return &natsBus{nc: nc}, nil
}

func (b *natsBus) Subscribe(subject string, handler func(subject string, data []byte)) (interfaces.Subscription, error) {
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

func (b *natsBus) Publish(subject string, data []byte) error {
	return b.nc.Publish(subject, data)
}

func (b *natsBus) Drain() error {
	return b.nc.Drain()
}
