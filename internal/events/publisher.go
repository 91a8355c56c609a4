// Package events publishes bid lifecycle events for external
// consumers. The funding/analytics service subscribes to the terminal
// stream read-only; a publish failure is never fatal to dispatch.
package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/AmericanPowerAI/LeaX/internal/model"
)

// ChannelBidTerminal carries one message per BidAttempt that reaches a
// terminal status.
const ChannelBidTerminal = "EVENT_BID_TERMINAL"

// Publisher pushes events to Redis pub/sub.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher returns a configured Publisher.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// TerminalTransition publishes a terminal BidAttempt transition
// (non-fatal on failure).
func (p *Publisher) TerminalTransition(ctx context.Context, a model.BidAttempt) {
	event, _ := json.Marshal(map[string]interface{}{
		"type":       ChannelBidTerminal,
		"attemptId":  a.ID,
		"platformId": a.PlatformID,
		"externalId": a.ExternalID,
		"status":     a.Status,
		"amount":     a.Amount,
		"attempts":   a.AttemptCount,
	})
	if err := p.rdb.Publish(ctx, ChannelBidTerminal, event).Err(); err != nil {
		slog.Warn("publish EVENT_BID_TERMINAL failed", "attemptId", a.ID, "err", err)
	}
}
