// Package pubsub provides typed Redis pub/sub fan-out for emitted
// trading signals.
//
// Channel naming convention: signals:{qualifier}
// Examples: signals:all, signals:XAUUSD
package pubsub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tendrel/signalforge/internal/models"
)

const (
	DomainSignals = "signals"

	QualifierAll = "all"
)

// ChannelAllSignals receives every emitted signal.
const ChannelAllSignals = DomainSignals + ":" + QualifierAll

// SymbolChannel is the per-symbol channel for one instrument.
func SymbolChannel(symbol string) string {
	return fmt.Sprintf("%s:%s", DomainSignals, symbol)
}

type MessageType string

const (
	MessageTypeSignal MessageType = "signal"
)

// Envelope wraps a payload with routing metadata.
type Envelope struct {
	Type      MessageType `json:"type"`
	Channel   string      `json:"channel"`
	Symbol    string      `json:"symbol,omitempty"`
	Data      []byte      `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// SignalPayload is the wire form of an emitted signal.
type SignalPayload struct {
	Signal models.Signal `json:"signal"`
}

func (p SignalPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}
