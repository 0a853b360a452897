package orders

import (
	"errors"
	"fmt"
	"strings"

	"algodesk/internal/types"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTicket = errors.New("invalid order ticket")

	minLimitPrice = decimal.RequireFromString("0.01")
	validate      = validator.New(validator.WithRequiredStructEnabled())
)

// Ticket is what the order form submits. Side may be empty while the user
// is still previewing.
type Ticket struct {
	Symbol     string           `json:"symbol" validate:"required"`
	Side       types.OrderSide  `json:"side,omitempty" validate:"omitempty,oneof=BUY SELL"`
	Type       types.OrderType  `json:"type" validate:"required,oneof=MARKET LIMIT"`
	Quantity   int64            `json:"quantity" validate:"gte=1"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
}

// Validate checks field rules and the LIMIT price floor. MARKET tickets
// drop any limit price.
func (t *Ticket) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTicket, describe(err))
	}
	switch t.Type {
	case types.OrderTypeLimit:
		if t.LimitPrice == nil {
			return fmt.Errorf("%w: limit price is required for LIMIT orders", ErrInvalidTicket)
		}
		if t.LimitPrice.LessThan(minLimitPrice) {
			return fmt.Errorf("%w: limit price must be at least %s", ErrInvalidTicket, minLimitPrice)
		}
	case types.OrderTypeMarket:
		t.LimitPrice = nil
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of %s", field, fe.Param()))
		case "gte":
			parts = append(parts, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		default:
			parts = append(parts, field+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}
