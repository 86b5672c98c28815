package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendrel/signalforge/internal/models"
)

func TestSymbolChannelNaming(t *testing.T) {
	assert.Equal(t, "signals:XAUUSD", SymbolChannel("XAUUSD"))
	assert.Equal(t, "signals:all", ChannelAllSignals)
}

func TestPublishSignalFansOut(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, SymbolChannel("XAUUSD"), ChannelAllSignals)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewPublisher(client, nil)
	sig := models.Signal{ID: "sig-1", Symbol: "XAUUSD", Direction: models.DirectionBuy}
	require.NoError(t, pub.PublishSignal(ctx, sig))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)
		seen[msg.Channel] = true

		var envelope Envelope
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &envelope))
		assert.Equal(t, MessageTypeSignal, envelope.Type)
		assert.Equal(t, "XAUUSD", envelope.Symbol)

		var payload SignalPayload
		require.NoError(t, json.Unmarshal(envelope.Data, &payload))
		assert.Equal(t, "sig-1", payload.Signal.ID)
	}
	assert.True(t, seen[SymbolChannel("XAUUSD")])
	assert.True(t, seen[ChannelAllSignals])

	stats := pub.Stats()
	assert.Equal(t, int64(2), stats.Published)
	assert.Zero(t, stats.Errors)
}

func TestPublishSignalNilClientIsNoop(t *testing.T) {
	pub := NewPublisher(nil, nil)

	err := pub.PublishSignal(context.Background(), models.Signal{ID: "sig-1", Symbol: "EURUSD"})

	assert.NoError(t, err)
	assert.Zero(t, pub.Stats().Published)
}
