package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/septivank/occupancy-billing-worker/internal/db"
)

// ErrNotFound is returned when a queried row does not exist
var ErrNotFound = errors.New("not found")

// Store is the persistence contract of the trigger processing engine.
// It covers the device registry, the trigger history ledger and the billing ledger.
type Store interface {
	// GetTriggerDeviceByAddress returns the trigger device with the normalized address
	GetTriggerDeviceByAddress(ctx context.Context, address string) (*db.TriggerDevice, error)
	// GetActionDevicesByIDs returns the action devices among ids whose status is one of statuses
	GetActionDevicesByIDs(ctx context.Context, ids []uuid.UUID, statuses ...db.ActionDeviceStatus) ([]db.ActionDevice, error)
	UpdateActionDeviceStatus(ctx context.Context, id uuid.UUID, status db.ActionDeviceStatus) error

	// GetTriggersSinceOpenBill returns the ledger entries of the device's open billing
	// period ordered by time. It is empty when no bill is open.
	GetTriggersSinceOpenBill(ctx context.Context, triggerDeviceID uuid.UUID) ([]db.UserTrigger, error)
	InsertUserTrigger(ctx context.Context, trigger *db.UserTrigger) error

	// OpenBill creates an open bill together with the rate snapshot of every
	// action device governed by the trigger device.
	OpenBill(ctx context.Context, triggerDeviceID uuid.UUID, startedAt time.Time) (*db.Bill, []db.BillRate, error)
	// GetOpenBill returns the open bill of the device and locks it until the transaction ends
	GetOpenBill(ctx context.Context, triggerDeviceID uuid.UUID) (*db.Bill, error)
	ComputeBillSum(ctx context.Context, billID uuid.UUID, start, end time.Time) (decimal.Decimal, error)
	CloseBill(ctx context.Context, billID uuid.UUID, sum decimal.Decimal, finishedAt time.Time) error
	// GetBillRates returns the rate snapshot of the device's most recent bill
	GetBillRates(ctx context.Context, triggerDeviceID uuid.UUID) ([]db.BillRate, error)

	// WithTx runs fn against a transaction-bound Store. The transaction commits
	// when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(Store) error) error
}
