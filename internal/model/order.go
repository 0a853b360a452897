package model

import (
	"time"

	"algodesk/internal/types"

	"github.com/shopspring/decimal"
)

// OrderAck is the local acknowledgement handed back when an order ticket is
// submitted. Nothing is routed to the broker.
type OrderAck struct {
	ID         string           `json:"id"`
	Symbol     string           `json:"symbol"`
	Side       types.OrderSide  `json:"side"`
	Type       types.OrderType  `json:"type"`
	Quantity   int64            `json:"quantity"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
	Message    string           `json:"message"`
	CreatedAt  time.Time        `json:"created_at"`
}
