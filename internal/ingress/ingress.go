// Package ingress subscribes the risk engine to the message bus:
// strategy signals flow in for admission, execution fills flow in for
// position and P&L tracking.
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"risk-manager/internal/interfaces"
	"risk-manager/internal/logger"
	"risk-manager/internal/types"
)

const (
	subjectSignals = "strategy.signals.*"
	subjectFills   = "execution.fills.*"
)

type Consumer struct {
	bus    interfaces.Bus
	engine interfaces.RiskEngine

	subs []interfaces.Subscription
}

func New(bus interfaces.Bus, engine interfaces.RiskEngine) *Consumer {
	return &Consumer{
		bus:    bus,
		engine: engine,
	}
}

// Start registers both subscriptions. Handlers run on the bus client's
// delivery goroutine; the engine serializes state internally.
func (c *Consumer) Start(ctx context.Context) error {
	sigSub, err := c.bus.Subscribe(subjectSignals, func(subject string, data []byte) {
		c.handleSignal(ctx, subject, data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subjectSignals, err)
	}
	c.subs = append(c.subs, sigSub)

	fillSub, err := c.bus.Subscribe(subjectFills, func(subject string, data []byte) {
		c.handleFill(ctx, subject, data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subjectFills, err)
	}
	c.subs = append(c.subs, fillSub)

	logger.Info(ctx, "Ingress subscriptions registered",
		"signals", subjectSignals,
		"fills", subjectFills,
	)
	return nil
}

func (c *Consumer) Stop() {
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			logger.ErrorWithErr(context.Background(), "Failed to unsubscribe", err)
		}
	}
	c.subs = nil
}

// handleSignal parses one admission request. A malformed payload is
// logged and dropped; it never reaches the engine and never crashes the
// consumer.
func (c *Consumer) handleSignal(ctx context.Context, subject string, data []byte) {
	var sig types.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		logger.ErrorWithErr(ctx, "Dropping malformed signal", err,
			"subject", subject,
			"payload", truncate(data, 512),
		)
		return
	}
	if sig.StrategyID == "" {
		sig.StrategyID = lastToken(subject)
	}
	if err := validateSignal(sig); err != nil {
		logger.ErrorWithErr(ctx, "Dropping invalid signal", err,
			"subject", subject,
			"symbol", sig.Symbol,
		)
		return
	}

	c.engine.CheckSignal(ctx, sig)
}

func (c *Consumer) handleFill(ctx context.Context, subject string, data []byte) {
	var fill types.Fill
	if err := json.Unmarshal(data, &fill); err != nil {
		logger.ErrorWithErr(ctx, "Dropping malformed fill", err,
			"subject", subject,
			"payload", truncate(data, 512),
		)
		return
	}
	if fill.StrategyID == "" {
		fill.StrategyID = lastToken(subject)
	}
	if fill.Symbol == "" || fill.Quantity <= 0 {
		logger.Error(ctx, "Dropping invalid fill",
			"subject", subject,
			"symbol", fill.Symbol,
			"quantity", fill.Quantity,
		)
		return
	}

	c.engine.UpdateFromFill(ctx, fill)
}

func validateSignal(sig types.Signal) error {
	if sig.Symbol == "" {
		return fmt.Errorf("missing symbol")
	}
	if sig.Action != "BUY" && sig.Action != "SELL" {
		return fmt.Errorf("invalid action %q", sig.Action)
	}
	if sig.Quantity <= 0 {
		return fmt.Errorf("non-positive quantity %d", sig.Quantity)
	}
	if sig.Price < 0 {
		return fmt.Errorf("negative price %.4f", sig.Price)
	}
	return nil
}

func truncate(data []byte, max int) string {
	if len(data) > max {
		data = data[:max]
	}
	return string(data)
}

// lastToken extracts the strategy identifier from the subject's final
// segment, e.g. strategy.signals.momentum -> momentum.
func lastToken(subject string) string {
	idx := strings.LastIndexByte(subject, '.')
	if idx < 0 || idx == len(subject)-1 {
		return "unknown"
	}
	return subject[idx+1:]
}
