package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres order store. Status changes are compare-and-set on
// the stored status, so two writers racing on one order cannot both win.
type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `id, account_id, supplier_id, order_type, status, total_amount, deposit,
	reservation_money, voucher_id, discount_amount, rental_start_date, rental_end_date,
	duration_unit, duration_value, rates, duration_options, is_extend, is_payment, paid_at,
	delivery_method, cancel_message, cancelled_at, refund_amount, created_at, updated_at`

const pgUniqueViolation = "23505"

func isUnique(err error) bool {
	var pe *pgconn.PgError
	return errors.As(err, &pe) && pe.Code == pgUniqueViolation
}

func (r *Repo) GetOrder(ctx context.Context, id string) (*Order, error) {
	return r.queryOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
}

func (r *Repo) FindByExternalID(ctx context.Context, externalID string) (*Order, error) {
	return r.queryOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_id=$1`, externalID)
}

func (r *Repo) queryOrder(ctx context.Context, q string, arg string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, q, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT product_id, unit_price, quantity, discount, line_total, deposit_per_unit
		FROM order_details WHERE order_id=$1 ORDER BY product_id`, o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var d OrderDetail
		if err := rows.Scan(&d.ProductID, &d.UnitPrice, &d.Quantity, &d.Discount, &d.LineTotal, &d.DepositPerUnit); err != nil {
			return nil, err
		}
		o.Details = append(o.Details, d)
	}
	return o, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o       Order
		rates   []byte
		options []byte
	)
	err := row.Scan(&o.ID, &o.AccountID, &o.SupplierID, &o.OrderType, &o.OrderStatus, &o.TotalAmount, &o.Deposit,
		&o.ReservationMoney, &o.VoucherID, &o.DiscountAmount, &o.RentalStartDate, &o.RentalEndDate,
		&o.DurationUnit, &o.DurationValue, &rates, &options, &o.IsExtend, &o.IsPayment, &o.PaidAt,
		&o.DeliveryMethod, &o.CancelMessage, &o.CancelledAt, &o.RefundAmount, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rates, &o.Rates); err != nil {
		return nil, fmt.Errorf("order %s rates: %w", o.ID, err)
	}
	if err := json.Unmarshal(options, &o.DurationOptions); err != nil {
		return nil, fmt.Errorf("order %s duration options: %w", o.ID, err)
	}
	return &o, nil
}

// CreateOrder inserts the order and its lines in one transaction. A reused
// external id is reported as a validation error.
func (r *Repo) CreateOrder(ctx context.Context, externalID string, o *Order) error {
	rates, err := json.Marshal(nonNilRates(o.Rates))
	if err != nil {
		return err
	}
	options, err := json.Marshal(nonNilOptions(o.DurationOptions))
	if err != nil {
		return err
	}
	var ext *string
	if externalID != "" {
		ext = &externalID
	}

	err = pgx.BeginFunc(ctx, r.DB, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO orders(id, external_id, account_id, supplier_id, order_type, status, total_amount, deposit,
				reservation_money, voucher_id, discount_amount, rental_start_date, rental_end_date,
				duration_unit, duration_value, rates, duration_options, is_extend, is_payment, paid_at,
				delivery_method, cancel_message, cancelled_at, refund_amount, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)`,
			o.ID, ext, o.AccountID, o.SupplierID, o.OrderType, o.OrderStatus, o.TotalAmount, o.Deposit,
			o.ReservationMoney, o.VoucherID, o.DiscountAmount, o.RentalStartDate, o.RentalEndDate,
			o.DurationUnit, o.DurationValue, rates, options, o.IsExtend, o.IsPayment, o.PaidAt,
			o.DeliveryMethod, o.CancelMessage, o.CancelledAt, o.RefundAmount, o.CreatedAt, o.UpdatedAt,
		); err != nil {
			return err
		}
		for _, d := range o.Details {
			if _, err := tx.Exec(ctx, `
				INSERT INTO order_details(order_id, product_id, unit_price, quantity, discount, line_total, deposit_per_unit)
				VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				o.ID, d.ProductID, d.UnitPrice, d.Quantity, d.Discount, d.LineTotal, d.DepositPerUnit,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if isUnique(err) {
		return &ValidationError{Field: "externalId", Reason: "already used"}
	}
	return err
}

// UpdateOrder writes the mutable order fields if the stored status is still
// expected, and appends the status history row.
func (r *Repo) UpdateOrder(ctx context.Context, o *Order, expected Status, change StatusChange) error {
	if err := CheckChange(o.ID, expected, o.OrderStatus); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, r.DB, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
			UPDATE orders SET status=$3, is_payment=$4, paid_at=$5, delivery_method=$6, cancel_message=$7,
				cancelled_at=$8, refund_amount=$9, rental_end_date=$10, updated_at=$11
			WHERE id=$1 AND status=$2`,
			o.ID, expected, o.OrderStatus, o.IsPayment, o.PaidAt, o.DeliveryMethod, o.CancelMessage,
			o.CancelledAt, o.RefundAmount, o.RentalEndDate, o.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if ct.RowsAffected() != 1 {
			return r.missingOrConflict(ctx, tx, o.ID)
		}
		return insertHistory(ctx, tx, change)
	})
}

func (r *Repo) missingOrConflict(ctx context.Context, tx pgx.Tx, id string) error {
	var n int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE id=$1`, id).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return &StateConflictError{OrderID: id}
}

func insertHistory(ctx context.Context, tx pgx.Tx, c StatusChange) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO order_status_history(order_id, from_status, to_status, actor_id, actor_role, at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		c.OrderID, c.From, c.To, c.ActorID, c.ActorRole, c.At)
	return err
}

// History lists the status changes of an order, oldest first.
func (r *Repo) History(ctx context.Context, orderID string) ([]StatusChange, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT order_id, from_status, to_status, actor_id, actor_role, at
		FROM order_status_history WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StatusChange
	for rows.Next() {
		var c StatusChange
		if err := rows.Scan(&c.OrderID, &c.From, &c.To, &c.ActorID, &c.ActorRole, &c.At); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetProducts reads the replicated catalog. Unknown ids are absent from the map.
func (r *Repo) GetProducts(ctx context.Context, ids []string) (map[string]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, supplier_id, name, price, deposit, rates, duration_options, created_at, updated_at
		FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Product, len(ids))
	for rows.Next() {
		var (
			p       Product
			rates   []byte
			options []byte
		)
		if err := rows.Scan(&p.ID, &p.SupplierID, &p.Name, &p.Price, &p.Deposit, &rates, &options, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rates, &p.Rates); err != nil {
			return nil, fmt.Errorf("product %s rates: %w", p.ID, err)
		}
		if err := json.Unmarshal(options, &p.DurationOptions); err != nil {
			return nil, fmt.Errorf("product %s duration options: %w", p.ID, err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (r *Repo) GetReturnDetail(ctx context.Context, orderID string) (*ReturnDetail, error) {
	var rd ReturnDetail
	err := r.DB.QueryRow(ctx, `
		SELECT id, order_id, return_date, condition, penalty_applied, reconciled_at
		FROM return_details WHERE order_id=$1`, orderID).
		Scan(&rd.ID, &rd.OrderID, &rd.ReturnDate, &rd.Condition, &rd.PenaltyApplied, &rd.ReconciledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rd, nil
}

// CreateReturnDetail relies on the unique order_id to keep one per order.
func (r *Repo) CreateReturnDetail(ctx context.Context, rd *ReturnDetail) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO return_details(id, order_id, return_date, condition, penalty_applied)
		VALUES ($1,$2,$3,$4,$5)`,
		rd.ID, rd.OrderID, rd.ReturnDate, rd.Condition, rd.PenaltyApplied)
	if isUnique(err) {
		return &DuplicateReconciliationError{OrderID: rd.OrderID}
	}
	return err
}

// Reconcile stamps the return detail and moves the order in one transaction.
func (r *Repo) Reconcile(ctx context.Context, o *Order, expected Status, returnID string, at time.Time, change StatusChange) error {
	return pgx.BeginFunc(ctx, r.DB, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
			UPDATE return_details SET reconciled_at=$3
			WHERE id=$1 AND order_id=$2 AND reconciled_at IS NULL`, returnID, o.ID, at)
		if err != nil {
			return err
		}
		if ct.RowsAffected() != 1 {
			var reconciled bool
			err := tx.QueryRow(ctx, `SELECT reconciled_at IS NOT NULL FROM return_details WHERE id=$1`, returnID).Scan(&reconciled)
			switch {
			case errors.Is(err, pgx.ErrNoRows):
				return ErrReturnDetailRequired
			case err != nil:
				return err
			case reconciled:
				return &DuplicateReconciliationError{OrderID: o.ID}
			}
			return ErrReturnDetailRequired
		}

		ct, err = tx.Exec(ctx, `UPDATE orders SET status=$3, updated_at=$4 WHERE id=$1 AND status=$2`,
			o.ID, expected, o.OrderStatus, o.UpdatedAt)
		if err != nil {
			return err
		}
		if ct.RowsAffected() != 1 {
			return r.missingOrConflict(ctx, tx, o.ID)
		}
		return insertHistory(ctx, tx, change)
	})
}

func (r *Repo) GetExtension(ctx context.Context, id string) (*Extension, error) {
	var e Extension
	err := r.DB.QueryRow(ctx, `
		SELECT id, order_id, duration_unit, duration_value, prev_end_date, new_end_date, return_by,
			additional_cost, status, created_at
		FROM order_extensions WHERE id=$1`, id).
		Scan(&e.ID, &e.OrderID, &e.DurationUnit, &e.DurationValue, &e.PrevEndDate, &e.NewEndDate, &e.ReturnBy,
			&e.AdditionalCost, &e.Status, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *Repo) CreateExtension(ctx context.Context, e *Extension) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO order_extensions(id, order_id, duration_unit, duration_value, prev_end_date, new_end_date,
			return_by, additional_cost, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.OrderID, e.DurationUnit, e.DurationValue, e.PrevEndDate, e.NewEndDate,
		e.ReturnBy, e.AdditionalCost, e.Status, e.CreatedAt)
	return err
}

// DecideExtension closes a proposal. On accept (o != nil) the order's end
// date moves only if it still equals the proposal's previous end date.
func (r *Repo) DecideExtension(ctx context.Context, e *Extension, o *Order) error {
	return pgx.BeginFunc(ctx, r.DB, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `UPDATE order_extensions SET status=$2 WHERE id=$1 AND status=$3`,
			e.ID, e.Status, ExtensionProposed)
		if err != nil {
			return err
		}
		if ct.RowsAffected() != 1 {
			return &StateConflictError{OrderID: e.OrderID}
		}
		if o == nil {
			return nil
		}
		ct, err = tx.Exec(ctx, `
			UPDATE orders SET rental_end_date=$2, updated_at=$3
			WHERE id=$1 AND rental_end_date=$4`,
			o.ID, o.RentalEndDate, o.UpdatedAt, e.PrevEndDate)
		if err != nil {
			return err
		}
		if ct.RowsAffected() != 1 {
			return &StateConflictError{OrderID: o.ID}
		}
		return nil
	})
}

func nonNilRates(r Rates) Rates {
	if r == nil {
		return Rates{}
	}
	return r
}

func nonNilOptions(o DurationOptions) DurationOptions {
	if o == nil {
		return DurationOptions{}
	}
	return o
}
