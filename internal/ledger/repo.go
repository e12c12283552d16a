package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo stores ledger entries. (event_id, kind) is unique, so replaying an
// event books nothing twice.
type Repo struct{ DB *pgxpool.Pool }

// Book inserts entries in one transaction and returns how many were new.
func (r *Repo) Book(ctx context.Context, entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	var n int
	err := pgx.BeginFunc(ctx, r.DB, func(tx pgx.Tx) error {
		for _, e := range entries {
			if e.ID == "" {
				e.ID = uuid.NewString()
			}
			ct, err := tx.Exec(ctx, `
				INSERT INTO ledger_entries(id, order_id, event_id, kind, amount, created_at)
				VALUES ($1,$2,$3,$4,$5,$6)
				ON CONFLICT (event_id, kind) DO NOTHING`,
				e.ID, e.OrderID, e.EventID, string(e.Kind), e.Amount, e.CreatedAt)
			if err != nil {
				return err
			}
			n += int(ct.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Repo) ForOrder(ctx context.Context, orderID string) ([]Entry, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, event_id, kind, amount, created_at
		FROM ledger_entries WHERE order_id=$1 ORDER BY created_at, kind`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.OrderID, &e.EventID, &kind, &e.Amount, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = EntryKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}
