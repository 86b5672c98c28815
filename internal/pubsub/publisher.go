package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tendrel/signalforge/internal/models"
)

// Publisher fans emitted signals out over Redis pub/sub. A nil client
// makes every publish a logged no-op so emission degrades gracefully
// without Redis.
type Publisher struct {
	client    *redis.Client
	logger    *zap.Logger
	published atomic.Int64
	errors    atomic.Int64
}

func NewPublisher(client *redis.Client, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, logger: logger}
}

// PublishSignal sends the signal to its per-symbol channel and the
// firehose channel.
func (p *Publisher) PublishSignal(ctx context.Context, sig models.Signal) error {
	if p.client == nil {
		p.logger.Debug("pubsub disabled, skipping signal publish", zap.String("signal_id", sig.ID))
		return nil
	}

	data, err := SignalPayload{Signal: sig}.Marshal()
	if err != nil {
		p.errors.Add(1)
		return fmt.Errorf("pubsub: marshal signal payload: %w", err)
	}

	for _, channel := range []string{SymbolChannel(sig.Symbol), ChannelAllSignals} {
		if err := p.publish(ctx, channel, sig.Symbol, data); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, channel, symbol string, data []byte) error {
	envelope := Envelope{
		Type:      MessageTypeSignal,
		Channel:   channel,
		Symbol:    symbol,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		p.errors.Add(1)
		return fmt.Errorf("pubsub: marshal envelope: %w", err)
	}

	if err := p.client.Publish(ctx, channel, raw).Err(); err != nil {
		p.errors.Add(1)
		p.logger.Error("pubsub: publish failed",
			zap.String("channel", channel),
			zap.Error(err),
		)
		return fmt.Errorf("pubsub: publish to %s: %w", channel, err)
	}

	p.published.Add(1)
	return nil
}

// Stats reports publish counters.
type Stats struct {
	Published int64 `json:"published"`
	Errors    int64 `json:"errors"`
}

func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Errors:    p.errors.Load(),
	}
}
