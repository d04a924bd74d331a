// Package results batches algorithm output into packets for the outside
// world: status changes, logs, order events and final statistics.
package results

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantarc/engine/internal/orders"
)

// AlgorithmStatus tracks the run's lifecycle state.
type AlgorithmStatus string

const (
	// StatusInitializing covers setup before the first slice.
	StatusInitializing AlgorithmStatus = "initializing"
	// StatusRunning means slices are flowing.
	StatusRunning AlgorithmStatus = "running"
	// StatusCompleted is a clean end of stream.
	StatusCompleted AlgorithmStatus = "completed"
	// StatusRuntimeError is a fatal error surfaced to the runtime.
	StatusRuntimeError AlgorithmStatus = "runtimeError"
	// StatusStopped is an operator-initiated stop.
	StatusStopped AlgorithmStatus = "stopped"
)

// PacketKind discriminates the envelope payload.
type PacketKind string

const (
	// KindStatus carries an AlgorithmStatus change.
	KindStatus PacketKind = "status"
	// KindDebug carries a user debug message.
	KindDebug PacketKind = "debug"
	// KindLog carries a user log line.
	KindLog PacketKind = "log"
	// KindHandledError carries a recovered, non-fatal error.
	KindHandledError PacketKind = "handledError"
	// KindOrderEvent carries one order lifecycle event.
	KindOrderEvent PacketKind = "orderEvent"
	// KindRuntimeStatistic carries one named statistic sample.
	KindRuntimeStatistic PacketKind = "runtimeStatistic"
	// KindBacktestResult carries the final result document.
	KindBacktestResult PacketKind = "backtestResult"
)

// Packet is the envelope every emission travels in.
type Packet struct {
	ID          string          `json:"id"`
	AlgorithmID string          `json:"algorithmId"`
	Kind        PacketKind      `json:"kind"`
	UtcTime     time.Time       `json:"utcTime"`
	Payload     json.RawMessage `json:"payload"`
}

// StatusPayload is the KindStatus body.
type StatusPayload struct {
	Status  AlgorithmStatus `json:"status"`
	Message string          `json:"message,omitempty"`
}

// MessagePayload is the KindDebug, KindLog and KindHandledError body.
type MessagePayload struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// OrderEventPayload is the KindOrderEvent body.
type OrderEventPayload struct {
	OrderID           int             `json:"orderId"`
	UtcTime           time.Time       `json:"utcTime"`
	Status            string          `json:"status"`
	FillQuantity      decimal.Decimal `json:"fillQuantity"`
	FillPrice         decimal.Decimal `json:"fillPrice"`
	FillPriceCurrency string          `json:"fillPriceCurrency,omitempty"`
	Fee               decimal.Decimal `json:"fee"`
	Message           string          `json:"message,omitempty"`
}

// RuntimeStatisticPayload is the KindRuntimeStatistic body.
type RuntimeStatisticPayload struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HoldingResult is one position in the final document.
type HoldingResult struct {
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	AveragePrice decimal.Decimal `json:"averagePrice"`
	MarketPrice  decimal.Decimal `json:"marketPrice"`
	MarketValue  decimal.Decimal `json:"marketValue"`
}

// BacktestResultPayload is the KindBacktestResult body.
type BacktestResultPayload struct {
	AlgorithmID       string            `json:"algorithmId"`
	StartUtc          time.Time         `json:"startUtc"`
	EndUtc            time.Time         `json:"endUtc"`
	ProfitLoss        decimal.Decimal   `json:"profitLoss"`
	Equity            decimal.Decimal   `json:"equity"`
	Holdings          []HoldingResult   `json:"holdings"`
	OrderCount        int               `json:"orderCount"`
	Statistics        map[string]string `json:"statistics"`
	RuntimeStatistics map[string]string `json:"runtimeStatistics"`
}

func newPacket(algorithmID string, kind PacketKind, utc time.Time, payload any) (Packet, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Packet{}, err
	}
	return Packet{
		ID:          uuid.NewString(),
		AlgorithmID: algorithmID,
		Kind:        kind,
		UtcTime:     utc,
		Payload:     raw,
	}, nil
}

// OrderEventFrom projects an internal event into its packet payload.
func OrderEventFrom(e orders.Event) OrderEventPayload {
	return OrderEventPayload{
		OrderID:           e.OrderID,
		UtcTime:           e.UtcTime,
		Status:            e.Status.String(),
		FillQuantity:      e.FillQuantity,
		FillPrice:         e.FillPrice,
		FillPriceCurrency: e.FillPriceCurrency,
		Fee:               e.Fee,
		Message:           e.Message,
	}
}
