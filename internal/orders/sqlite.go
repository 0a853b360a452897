package orders

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"algodesk/internal/model"
	"algodesk/internal/types"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

type SQLiteJournal struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the journal database and runs migrations.
func OpenSQLite(path string) (*SQLiteJournal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	j := &SQLiteJournal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return j, nil
}

func (j *SQLiteJournal) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS order_acks (
			id          TEXT PRIMARY KEY,
			symbol      TEXT NOT NULL,
			side        TEXT NOT NULL,
			type        TEXT NOT NULL,
			quantity    INTEGER NOT NULL,
			limit_price TEXT,
			message     TEXT NOT NULL,
			created_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_acks_created ON order_acks(created_at)`,
	}
	for _, s := range stmts {
		if _, err := j.db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (j *SQLiteJournal) Record(ctx context.Context, ack model.OrderAck) error {
	var limit sql.NullString
	if ack.LimitPrice != nil {
		limit = sql.NullString{String: ack.LimitPrice.String(), Valid: true}
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO order_acks (id, symbol, side, type, quantity, limit_price, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ack.ID, ack.Symbol, string(ack.Side), string(ack.Type), ack.Quantity, limit, ack.Message, ack.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert order ack: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]model.OrderAck, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, symbol, side, type, quantity, limit_price, message, created_at
		 FROM order_acks ORDER BY created_at DESC, rowid DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query order acks: %w", err)
	}
	defer rows.Close()

	out := []model.OrderAck{}
	for rows.Next() {
		var (
			ack       model.OrderAck
			side, typ string
			price     sql.NullString
			created   int64
		)
		if err := rows.Scan(&ack.ID, &ack.Symbol, &side, &typ, &ack.Quantity, &price, &ack.Message, &created); err != nil {
			return nil, fmt.Errorf("scan order ack: %w", err)
		}
		ack.Side = types.OrderSide(side)
		ack.Type = types.OrderType(typ)
		ack.CreatedAt = time.UnixMilli(created).UTC()
		if price.Valid {
			p, err := decimal.NewFromString(price.String)
			if err != nil {
				return nil, fmt.Errorf("parse limit price: %w", err)
			}
			ack.LimitPrice = &p
		}
		out = append(out, ack)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
