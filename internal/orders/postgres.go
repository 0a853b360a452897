package orders

import (
	"context"
	"fmt"

	"algodesk/internal/model"
	"algodesk/internal/types"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type PostgresJournal struct {
	pool *pgxpool.Pool
}

// NewPostgresJournal takes ownership of pool and creates the table if needed.
func NewPostgresJournal(ctx context.Context, pool *pgxpool.Pool) (*PostgresJournal, error) {
	_, err := pool.Exec(ctx, `create table if not exists order_acks (
		id uuid primary key,
		symbol text not null,
		side text not null,
		type text not null,
		quantity bigint not null,
		limit_price numeric,
		message text not null,
		created_at timestamptz not null
	)`)
	if err != nil {
		return nil, fmt.Errorf("create order_acks: %w", err)
	}
	return &PostgresJournal{pool: pool}, nil
}

func (j *PostgresJournal) Record(ctx context.Context, ack model.OrderAck) error {
	_, err := j.pool.Exec(ctx,
		"insert into order_acks (id, symbol, side, type, quantity, limit_price, message, created_at) values ($1,$2,$3,$4,$5,$6,$7,$8)",
		ack.ID, ack.Symbol, string(ack.Side), string(ack.Type), ack.Quantity, ack.LimitPrice, ack.Message, ack.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order ack: %w", err)
	}
	return nil
}

func (j *PostgresJournal) Recent(ctx context.Context, limit int) ([]model.OrderAck, error) {
	rows, err := j.pool.Query(ctx,
		"select id::text, symbol, side, type, quantity, limit_price, message, created_at from order_acks order by created_at desc limit $1",
		clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query order acks: %w", err)
	}
	defer rows.Close()

	out := []model.OrderAck{}
	for rows.Next() {
		var ack model.OrderAck
		var side, typ string
		var price *decimal.Decimal
		if err := rows.Scan(&ack.ID, &ack.Symbol, &side, &typ, &ack.Quantity, &price, &ack.Message, &ack.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order ack: %w", err)
		}
		ack.Side = types.OrderSide(side)
		ack.Type = types.OrderType(typ)
		ack.LimitPrice = price
		out = append(out, ack)
	}
	return out, rows.Err()
}

func (j *PostgresJournal) Close() error {
	j.pool.Close()
	return nil
}
