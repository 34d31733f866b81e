package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/septivank/occupancy-billing-worker/internal/billing"
	"github.com/septivank/occupancy-billing-worker/internal/db"
)

// OpenBill inserts an open bill and snapshots the rates of the governed action devices.
// Call it inside WithTx so that the bill and its snapshot are created together.
func (r *Repository) OpenBill(ctx context.Context, triggerDeviceID uuid.UUID, startedAt time.Time) (*db.Bill, []db.BillRate, error) {
	insertBill := `
		INSERT INTO bills (trigger_device_id, started_at, sum)
		VALUES ($1, $2, 0)
		RETURNING id
	`

	zero := decimal.Zero
	bill := &db.Bill{
		TriggerDeviceID: triggerDeviceID,
		StartedAt:       startedAt,
		Sum:             &zero,
	}

	if err := r.q.QueryRow(ctx, insertBill, triggerDeviceID, startedAt).Scan(&bill.ID); err != nil {
		return nil, nil, fmt.Errorf("failed to insert bill: %w", err)
	}

	snapshot := `
		INSERT INTO bill_rates (bill_id, action_device_id, rate)
		SELECT $1, ad.id, ad.rate
		FROM trigger_actions ta
		JOIN action_devices ad ON ad.id = ta.action_device_id
		WHERE ta.trigger_device_id = $2
		RETURNING action_device_id, rate::text
	`

	rows, err := r.q.Query(ctx, snapshot, bill.ID, triggerDeviceID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to snapshot bill rates: %w", err)
	}

	rates, err := scanBillRates(rows, bill.ID)
	if err != nil {
		return nil, nil, err
	}

	return bill, rates, nil
}

// GetOpenBill retrieves the open bill of a trigger device and locks the row
func (r *Repository) GetOpenBill(ctx context.Context, triggerDeviceID uuid.UUID) (*db.Bill, error) {
	query := `
		SELECT id, trigger_device_id, started_at, finished_at, sum::text
		FROM bills
		WHERE trigger_device_id = $1 AND finished_at IS NULL
		FOR UPDATE
	`

	var (
		bill db.Bill
		sum  *string
	)
	err := r.q.QueryRow(ctx, query, triggerDeviceID).Scan(
		&bill.ID,
		&bill.TriggerDeviceID,
		&bill.StartedAt,
		&bill.FinishedAt,
		&sum,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("open bill of trigger device %s: %w", triggerDeviceID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query open bill: %w", err)
	}

	if sum != nil {
		value, err := parseDecimal(*sum)
		if err != nil {
			return nil, err
		}
		bill.Sum = &value
	}

	return &bill, nil
}

// ComputeBillSum aggregates the rate snapshot of a bill weighted by the elapsed hours
func (r *Repository) ComputeBillSum(ctx context.Context, billID uuid.UUID, start, end time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(
			ROUND(
				SUM(rate * GREATEST(FLOOR(EXTRACT(EPOCH FROM ($3::timestamptz - $2::timestamptz))), 0)::numeric / 3600),
				$4
			),
			0
		)::text
		FROM bill_rates
		WHERE bill_id = $1
	`

	var sum string
	if err := r.q.QueryRow(ctx, query, billID, start, end, billing.SumPrecision).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute bill sum: %w", err)
	}

	return parseDecimal(sum)
}

// CloseBill stores the sum of an open bill and ends its billing period
func (r *Repository) CloseBill(ctx context.Context, billID uuid.UUID, sum decimal.Decimal, finishedAt time.Time) error {
	query := `
		UPDATE bills
		SET sum = $1::numeric, finished_at = $2
		WHERE id = $3 AND finished_at IS NULL
	`

	tag, err := r.q.Exec(ctx, query, sum.String(), finishedAt, billID)
	if err != nil {
		return fmt.Errorf("failed to close bill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("open bill %s: %w", billID, ErrNotFound)
	}

	return nil
}

// GetBillRates retrieves the rate snapshot of the most recent bill of a trigger device
func (r *Repository) GetBillRates(ctx context.Context, triggerDeviceID uuid.UUID) ([]db.BillRate, error) {
	query := `
		SELECT br.bill_id, br.action_device_id, br.rate::text
		FROM bill_rates br
		WHERE br.bill_id = (
			SELECT id FROM bills
			WHERE trigger_device_id = $1
			ORDER BY started_at DESC
			LIMIT 1
		)
	`

	rows, err := r.q.Query(ctx, query, triggerDeviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bill rates: %w", err)
	}
	defer rows.Close()

	var rates []db.BillRate
	for rows.Next() {
		var (
			rate db.BillRate
			raw  string
		)
		if err := rows.Scan(&rate.BillID, &rate.ActionDeviceID, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan bill rate: %w", err)
		}
		if rate.Rate, err = parseDecimal(raw); err != nil {
			return nil, err
		}
		rates = append(rates, rate)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rates, nil
}

func scanBillRates(rows pgx.Rows, billID uuid.UUID) ([]db.BillRate, error) {
	defer rows.Close()

	var rates []db.BillRate
	for rows.Next() {
		rate := db.BillRate{BillID: billID}
		var raw string
		if err := rows.Scan(&rate.ActionDeviceID, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan bill rate: %w", err)
		}
		value, err := parseDecimal(raw)
		if err != nil {
			return nil, err
		}
		rate.Rate = value
		rates = append(rates, rate)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rates, nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse numeric %q: %w", raw, err)
	}
	return value, nil
}
