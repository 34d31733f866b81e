package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/septivank/occupancy-billing-worker/internal/db"
)

// Tx is an alias for pgx.Tx
type Tx = pgx.Tx

// querier is the subset shared by the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

var _ Store = (*Repository)(nil)

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, q: pool}
}

// BeginTx starts a new transaction
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// WithTx runs fn inside a transaction. Nested calls reuse the outer transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(Store) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Repository{pool: r.pool, q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetTriggerDeviceByAddress retrieves a trigger device by its normalized MAC address
func (r *Repository) GetTriggerDeviceByAddress(ctx context.Context, address string) (*db.TriggerDevice, error) {
	query := `
		SELECT id, mac_address, status, name, type
		FROM trigger_devices
		WHERE mac_address = $1
	`

	var device db.TriggerDevice
	err := r.q.QueryRow(ctx, query, address).Scan(
		&device.ID,
		&device.Address,
		&device.Status,
		&device.Name,
		&device.Type,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("trigger device %s: %w", address, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query trigger device: %w", err)
	}

	return &device, nil
}

// GetActionDevicesByIDs retrieves the action devices among ids that are in one of statuses.
// No status filter returns every device.
func (r *Repository) GetActionDevicesByIDs(ctx context.Context, ids []uuid.UUID, statuses ...db.ActionDeviceStatus) ([]db.ActionDevice, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	idArgs := make([]string, 0, len(ids))
	for _, id := range ids {
		idArgs = append(idArgs, id.String())
	}

	statusArgs := make([]string, 0, len(statuses))
	for _, s := range statuses {
		statusArgs = append(statusArgs, string(s))
	}

	query := `
		SELECT id, mac_address, status, rate::text, name, type
		FROM action_devices
		WHERE id = ANY($1::uuid[])
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		ORDER BY mac_address
	`

	rows, err := r.q.Query(ctx, query, idArgs, statusArgs)
	if err != nil {
		return nil, fmt.Errorf("failed to query action devices: %w", err)
	}
	defer rows.Close()

	var devices []db.ActionDevice
	for rows.Next() {
		var (
			device db.ActionDevice
			rate   string
		)
		if err := rows.Scan(&device.ID, &device.Address, &device.Status, &rate, &device.Name, &device.Type); err != nil {
			return nil, fmt.Errorf("failed to scan action device: %w", err)
		}
		if device.Rate, err = parseDecimal(rate); err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return devices, nil
}

// UpdateActionDeviceStatus sets the status of an action device
func (r *Repository) UpdateActionDeviceStatus(ctx context.Context, id uuid.UUID, status db.ActionDeviceStatus) error {
	query := `
		UPDATE action_devices
		SET status = $1
		WHERE id = $2
	`

	tag, err := r.q.Exec(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update action device status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("action device %s: %w", id, ErrNotFound)
	}

	return nil
}

// GetTriggersSinceOpenBill retrieves the ledger entries recorded since the open bill started
func (r *Repository) GetTriggersSinceOpenBill(ctx context.Context, triggerDeviceID uuid.UUID) ([]db.UserTrigger, error) {
	query := `
		SELECT ut.id, ut.user_id, ut.trigger_device_id, ut.trigger_type, ut.created_at
		FROM user_triggers ut
		JOIN bills b
		  ON b.trigger_device_id = ut.trigger_device_id
		 AND b.finished_at IS NULL
		WHERE ut.trigger_device_id = $1
		  AND ut.created_at >= b.started_at
		ORDER BY ut.created_at, ut.id
	`

	rows, err := r.q.Query(ctx, query, triggerDeviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user triggers: %w", err)
	}
	defer rows.Close()

	var triggers []db.UserTrigger
	for rows.Next() {
		var t db.UserTrigger
		if err := rows.Scan(&t.ID, &t.UserID, &t.TriggerDeviceID, &t.Type, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user trigger: %w", err)
		}
		triggers = append(triggers, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return triggers, nil
}

// InsertUserTrigger appends an entry to the trigger history ledger
func (r *Repository) InsertUserTrigger(ctx context.Context, trigger *db.UserTrigger) error {
	query := `
		INSERT INTO user_triggers (user_id, trigger_device_id, trigger_type, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	err := r.q.QueryRow(ctx, query,
		trigger.UserID,
		trigger.TriggerDeviceID,
		string(trigger.Type),
		trigger.CreatedAt,
	).Scan(&trigger.ID)

	if err != nil {
		return fmt.Errorf("failed to insert user trigger: %w", err)
	}

	return nil
}
