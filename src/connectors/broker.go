package connectors

import (
	"context"
	"time"
)

// Broker-native order status strings as reported by the brokerage. The
// broker is eventually consistent and pull-only; these values are only ever
// observed through point-in-time snapshots.
const (
	BrokerStatusComplete       = "COMPLETE"
	BrokerStatusRejected       = "REJECTED"
	BrokerStatusCancelled      = "CANCELLED"
	BrokerStatusOpen           = "OPEN"
	BrokerStatusTriggerPending = "TRIGGER PENDING"
)

// OrderParams describes one order submission to the broker.
type OrderParams struct {
	Symbol       string   `json:"symbol"`
	Exchange     string   `json:"exchange,omitempty"`
	Side         string   `json:"side"`
	Quantity     float64  `json:"quantity"`
	OrderKind    string   `json:"order_kind"`
	Price        *float64 `json:"price,omitempty"`
	TriggerPrice *float64 `json:"trigger_price,omitempty"`
	Product      string   `json:"product,omitempty"`
	Validity     string   `json:"validity,omitempty"`
	ClientTag    string   `json:"client_tag,omitempty"`
}

// OrderSnapshot is the broker's point-in-time view of one order.
type OrderSnapshot struct {
	OrderID           string    `json:"order_id"`
	Status            string    `json:"status"`
	FilledQuantity    float64   `json:"filled_quantity"`
	PendingQuantity   float64   `json:"pending_quantity"`
	AveragePrice      float64   `json:"average_price"`
	StatusMessage     string    `json:"status_message"`
	OrderTimestamp    time.Time `json:"order_timestamp"`
	ExchangeTimestamp time.Time `json:"exchange_timestamp"`
}

// Broker is the contract every brokerage connector satisfies. Calls carry
// their own request timeout; a failed call surfaces as an error and the
// caller decides whether the failure is terminal.
type Broker interface {
	// PlaceOrder submits an order and returns the broker order id.
	PlaceOrder(ctx context.Context, accessToken string, params OrderParams) (string, error)

	// GetLatestOrderState fetches the latest snapshot for one order.
	// Returns (nil, nil) when the broker does not know the order (yet).
	GetLatestOrderState(ctx context.Context, accessToken, orderID string) (*OrderSnapshot, error)

	// GetOrders fetches the broker's entire order list for the session.
	GetOrders(ctx context.Context, accessToken string) ([]OrderSnapshot, error)

	// CancelOrder requests cancellation of an open order.
	CancelOrder(ctx context.Context, accessToken, orderID string) error
}
