package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TriggerDeviceStatus is the connectivity state of a trigger device
type TriggerDeviceStatus string

const (
	TriggerDeviceConnected    TriggerDeviceStatus = "CONNECTED"
	TriggerDeviceDisconnected TriggerDeviceStatus = "DISCONNECTED"
)

// ActionDeviceStatus is the state of an action device
type ActionDeviceStatus string

const (
	ActionDeviceConnected    ActionDeviceStatus = "CONNECTED"
	ActionDeviceOnline       ActionDeviceStatus = "ONLINE"
	ActionDeviceDisconnected ActionDeviceStatus = "DISCONNECTED"
)

// Toggled returns the status after a toggle command. DISCONNECTED is left as is.
func (s ActionDeviceStatus) Toggled() ActionDeviceStatus {
	switch s {
	case ActionDeviceConnected:
		return ActionDeviceOnline
	case ActionDeviceOnline:
		return ActionDeviceConnected
	default:
		return s
	}
}

// TriggerType is the occupancy transition recorded for a user
type TriggerType string

const (
	TriggerEnter TriggerType = "ENTER"
	TriggerLeave TriggerType = "LEAVE"
)

// TriggerDevice represents a presence reader in the database
type TriggerDevice struct {
	ID      uuid.UUID
	Address string
	Status  TriggerDeviceStatus
	Name    string
	Type    string
}

// ActionDevice represents a device governed by trigger devices
type ActionDevice struct {
	ID      uuid.UUID
	Address string
	Status  ActionDeviceStatus
	Rate    decimal.Decimal
	Name    string
	Type    string
}

// TriggerAction links a trigger device to an action device it governs
type TriggerAction struct {
	TriggerDeviceID uuid.UUID
	ActionDeviceID  uuid.UUID
}

// UserTrigger is a single entry of the trigger history ledger
type UserTrigger struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	TriggerDeviceID uuid.UUID
	Type            TriggerType
	CreatedAt       time.Time
}

// Bill represents a billing period of a trigger device
type Bill struct {
	ID              uuid.UUID
	TriggerDeviceID uuid.UUID
	StartedAt       time.Time
	FinishedAt      *time.Time
	Sum             *decimal.Decimal
}

// IsOpen reports whether the billing period is still running
func (b *Bill) IsOpen() bool {
	return b.FinishedAt == nil
}

// BillRate is the rate snapshot taken when a bill opens.
// ActionDeviceID is nil once the action device has been deleted.
type BillRate struct {
	BillID         uuid.UUID
	ActionDeviceID *uuid.UUID
	Rate           decimal.Decimal
}
