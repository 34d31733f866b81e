package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/septivank/occupancy-billing-worker/internal/billing"
	"github.com/septivank/occupancy-billing-worker/internal/db"
)

// MemoryStore is an in-process Store for tests.
// Transactions are serialized and roll back by restoring a snapshot of the tables.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	triggerDevices map[uuid.UUID]db.TriggerDevice
	actionDevices  map[uuid.UUID]db.ActionDevice
	triggerActions []db.TriggerAction
	userTriggers   []db.UserTrigger
	bills          []db.Bill
	billRates      []db.BillRate

	// failures injects errors by operation name, e.g. "CloseBill"
	failures map[string]error
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		triggerDevices: make(map[uuid.UUID]db.TriggerDevice),
		actionDevices:  make(map[uuid.UUID]db.ActionDevice),
		failures:       make(map[string]error),
	}
}

// AddTriggerDevice registers a trigger device, assigning an ID when missing
func (m *MemoryStore) AddTriggerDevice(device db.TriggerDevice) db.TriggerDevice {
	m.mu.Lock()
	defer m.mu.Unlock()

	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	m.triggerDevices[device.ID] = device
	return device
}

// AddActionDevice registers an action device, assigning an ID when missing
func (m *MemoryStore) AddActionDevice(device db.ActionDevice) db.ActionDevice {
	m.mu.Lock()
	defer m.mu.Unlock()

	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	m.actionDevices[device.ID] = device
	return device
}

// Link makes the trigger device govern the action device
func (m *MemoryStore) Link(triggerDeviceID, actionDeviceID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.triggerActions = append(m.triggerActions, db.TriggerAction{
		TriggerDeviceID: triggerDeviceID,
		ActionDeviceID:  actionDeviceID,
	})
}

// DeleteActionDevice removes an action device; snapshots keep their rate with a nil device
func (m *MemoryStore) DeleteActionDevice(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.actionDevices, id)

	links := m.triggerActions[:0]
	for _, ta := range m.triggerActions {
		if ta.ActionDeviceID != id {
			links = append(links, ta)
		}
	}
	m.triggerActions = links

	for i := range m.billRates {
		if m.billRates[i].ActionDeviceID != nil && *m.billRates[i].ActionDeviceID == id {
			m.billRates[i].ActionDeviceID = nil
		}
	}
}

// FailOn makes the named operation return err until cleared with a nil err
func (m *MemoryStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// UserTriggers returns a copy of the whole ledger in insertion order
func (m *MemoryStore) UserTriggers() []db.UserTrigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]db.UserTrigger(nil), m.userTriggers...)
}

// Bills returns a copy of every bill in creation order
func (m *MemoryStore) Bills() []db.Bill {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]db.Bill(nil), m.bills...)
}

// ActionDevice returns the current state of an action device
func (m *MemoryStore) ActionDevice(id uuid.UUID) (db.ActionDevice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, ok := m.actionDevices[id]
	return device, ok
}

func (m *MemoryStore) failure(op string) error {
	if err, ok := m.failures[op]; ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetTriggerDeviceByAddress implements Store
func (m *MemoryStore) GetTriggerDeviceByAddress(_ context.Context, address string) (*db.TriggerDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("GetTriggerDeviceByAddress"); err != nil {
		return nil, err
	}

	for _, device := range m.triggerDevices {
		if device.Address == address {
			d := device
			return &d, nil
		}
	}
	return nil, fmt.Errorf("trigger device %s: %w", address, ErrNotFound)
}

// GetActionDevicesByIDs implements Store
func (m *MemoryStore) GetActionDevicesByIDs(_ context.Context, ids []uuid.UUID, statuses ...db.ActionDeviceStatus) ([]db.ActionDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("GetActionDevicesByIDs"); err != nil {
		return nil, err
	}

	var devices []db.ActionDevice
	seen := make(map[uuid.UUID]bool)
	for _, id := range ids {
		device, ok := m.actionDevices[id]
		if !ok || seen[id] || !hasStatus(device.Status, statuses) {
			continue
		}
		seen[id] = true
		devices = append(devices, device)
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Address < devices[j].Address })
	return devices, nil
}

func hasStatus(status db.ActionDeviceStatus, statuses []db.ActionDeviceStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// UpdateActionDeviceStatus implements Store
func (m *MemoryStore) UpdateActionDeviceStatus(_ context.Context, id uuid.UUID, status db.ActionDeviceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("UpdateActionDeviceStatus"); err != nil {
		return err
	}

	device, ok := m.actionDevices[id]
	if !ok {
		return fmt.Errorf("action device %s: %w", id, ErrNotFound)
	}
	device.Status = status
	m.actionDevices[id] = device
	return nil
}

// GetTriggersSinceOpenBill implements Store
func (m *MemoryStore) GetTriggersSinceOpenBill(_ context.Context, triggerDeviceID uuid.UUID) ([]db.UserTrigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("GetTriggersSinceOpenBill"); err != nil {
		return nil, err
	}

	bill := m.openBill(triggerDeviceID)
	if bill == nil {
		return nil, nil
	}

	var triggers []db.UserTrigger
	for _, t := range m.userTriggers {
		if t.TriggerDeviceID == triggerDeviceID && !t.CreatedAt.Before(bill.StartedAt) {
			triggers = append(triggers, t)
		}
	}

	sort.SliceStable(triggers, func(i, j int) bool { return triggers[i].CreatedAt.Before(triggers[j].CreatedAt) })
	return triggers, nil
}

// InsertUserTrigger implements Store
func (m *MemoryStore) InsertUserTrigger(_ context.Context, trigger *db.UserTrigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("InsertUserTrigger"); err != nil {
		return err
	}

	trigger.ID = uuid.New()
	m.userTriggers = append(m.userTriggers, *trigger)
	return nil
}

// OpenBill implements Store
func (m *MemoryStore) OpenBill(_ context.Context, triggerDeviceID uuid.UUID, startedAt time.Time) (*db.Bill, []db.BillRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("OpenBill"); err != nil {
		return nil, nil, err
	}

	// mirrors bills_single_open_idx
	if m.openBill(triggerDeviceID) != nil {
		return nil, nil, fmt.Errorf("failed to insert bill: trigger device %s already has an open bill", triggerDeviceID)
	}

	zero := decimal.Zero
	bill := db.Bill{
		ID:              uuid.New(),
		TriggerDeviceID: triggerDeviceID,
		StartedAt:       startedAt,
		Sum:             &zero,
	}
	m.bills = append(m.bills, bill)

	var rates []db.BillRate
	for _, ta := range m.triggerActions {
		if ta.TriggerDeviceID != triggerDeviceID {
			continue
		}
		device, ok := m.actionDevices[ta.ActionDeviceID]
		if !ok {
			continue
		}
		id := device.ID
		rates = append(rates, db.BillRate{BillID: bill.ID, ActionDeviceID: &id, Rate: device.Rate})
	}
	m.billRates = append(m.billRates, rates...)

	return &bill, append([]db.BillRate(nil), rates...), nil
}

// GetOpenBill implements Store
func (m *MemoryStore) GetOpenBill(_ context.Context, triggerDeviceID uuid.UUID) (*db.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("GetOpenBill"); err != nil {
		return nil, err
	}

	bill := m.openBill(triggerDeviceID)
	if bill == nil {
		return nil, fmt.Errorf("open bill of trigger device %s: %w", triggerDeviceID, ErrNotFound)
	}
	b := *bill
	return &b, nil
}

func (m *MemoryStore) openBill(triggerDeviceID uuid.UUID) *db.Bill {
	for i := range m.bills {
		if m.bills[i].TriggerDeviceID == triggerDeviceID && m.bills[i].IsOpen() {
			return &m.bills[i]
		}
	}
	return nil
}

// ComputeBillSum implements Store
func (m *MemoryStore) ComputeBillSum(_ context.Context, billID uuid.UUID, start, end time.Time) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("ComputeBillSum"); err != nil {
		return decimal.Zero, err
	}

	return billing.Sum(m.ratesOf(billID), start, end), nil
}

// CloseBill implements Store
func (m *MemoryStore) CloseBill(_ context.Context, billID uuid.UUID, sum decimal.Decimal, finishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("CloseBill"); err != nil {
		return err
	}

	for i := range m.bills {
		if m.bills[i].ID == billID && m.bills[i].IsOpen() {
			finished := finishedAt
			total := sum
			m.bills[i].FinishedAt = &finished
			m.bills[i].Sum = &total
			return nil
		}
	}
	return fmt.Errorf("open bill %s: %w", billID, ErrNotFound)
}

// GetBillRates implements Store
func (m *MemoryStore) GetBillRates(_ context.Context, triggerDeviceID uuid.UUID) ([]db.BillRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("GetBillRates"); err != nil {
		return nil, err
	}

	var latest *db.Bill
	for i := range m.bills {
		b := &m.bills[i]
		if b.TriggerDeviceID != triggerDeviceID {
			continue
		}
		if latest == nil || !b.StartedAt.Before(latest.StartedAt) {
			latest = b
		}
	}
	if latest == nil {
		return nil, nil
	}
	return m.ratesOf(latest.ID), nil
}

func (m *MemoryStore) ratesOf(billID uuid.UUID) []db.BillRate {
	var rates []db.BillRate
	for _, r := range m.billRates {
		if r.BillID == billID {
			rates = append(rates, r)
		}
	}
	return rates
}

type memorySnapshot struct {
	actionDevices map[uuid.UUID]db.ActionDevice
	userTriggers  []db.UserTrigger
	bills         []db.Bill
	billRates     []db.BillRate
}

// WithTx implements Store. Transactions do not nest.
func (m *MemoryStore) WithTx(_ context.Context, fn func(Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snap := memorySnapshot{
		actionDevices: make(map[uuid.UUID]db.ActionDevice, len(m.actionDevices)),
		userTriggers:  append([]db.UserTrigger(nil), m.userTriggers...),
		bills:         append([]db.Bill(nil), m.bills...),
		billRates:     append([]db.BillRate(nil), m.billRates...),
	}
	for id, d := range m.actionDevices {
		snap.actionDevices[id] = d
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.actionDevices = snap.actionDevices
		m.userTriggers = snap.userTriggers
		m.bills = snap.bills
		m.billRates = snap.billRates
		m.mu.Unlock()
		return err
	}

	return nil
}
