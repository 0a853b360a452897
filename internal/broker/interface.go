package broker

import (
	"context"

	"algodesk/internal/model"

	"github.com/shopspring/decimal"
)

// Adapter is the slice of the broker REST API the dashboard consumes.
type Adapter interface {
	LoginURL(state string) string
	ExchangeCode(ctx context.Context, code string) (model.Credential, error)
	FetchProfile(ctx context.Context, token string) (model.UserProfile, error)
	FetchLTP(ctx context.Context, token, symbol string) (decimal.Decimal, error)
	FetchPositions(ctx context.Context, token string) ([]model.Position, error)
}
