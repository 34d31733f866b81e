package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/septivank/occupancy-billing-worker/internal/config"
	"github.com/septivank/occupancy-billing-worker/internal/db"
	"github.com/septivank/occupancy-billing-worker/internal/identity"
	"github.com/septivank/occupancy-billing-worker/internal/logging"
	"github.com/septivank/occupancy-billing-worker/internal/mq"
	"github.com/septivank/occupancy-billing-worker/internal/occupancy"
	"github.com/septivank/occupancy-billing-worker/internal/repository"
	"github.com/septivank/occupancy-billing-worker/internal/validator"
)

// IdentityResolver maps an access token to a verified user
type IdentityResolver interface {
	Resolve(ctx context.Context, token string, requiredScopes ...string) (identity.Identity, error)
}

// ProcessorService turns raw trigger events into ledger entries, bills and device commands
type ProcessorService struct {
	store         repository.Store
	resolver      IdentityResolver
	emitter       *Emitter
	publisher     mq.BillEventPublisher
	requiredScope string
	locks         *deviceLocks
	now           func() time.Time
	logger        *zap.Logger
}

// NewProcessorService creates a new processor service
func NewProcessorService(
	store repository.Store,
	resolver IdentityResolver,
	emitter *Emitter,
	publisher mq.BillEventPublisher,
	cfg *config.Config,
	logger *zap.Logger,
) *ProcessorService {
	if publisher == nil {
		publisher = mq.NopPublisher{}
	}
	return &ProcessorService{
		store:         store,
		resolver:      resolver,
		emitter:       emitter,
		publisher:     publisher,
		requiredScope: cfg.Auth.RequiredScope,
		locks:         newDeviceLocks(),
		now:           time.Now,
		logger:        logger,
	}
}

// WithClock replaces the time source used for ledger timestamps and bill sums
func (s *ProcessorService) WithClock(now func() time.Time) *ProcessorService {
	s.now = now
	return s
}

// ProcessTrigger handles one presence event of the trigger device at address
func (s *ProcessorService) ProcessTrigger(ctx context.Context, address, token string, direction Direction) (Result, error) {
	normalized, err := validator.NormalizeAddress(address)
	if err != nil {
		return 0, err
	}

	log := logging.WithTrigger(s.logger, normalized)

	device, err := s.store.GetTriggerDeviceByAddress(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrTriggerDeviceNotFound, normalized)
		}
		log.Error("failed to get trigger device", zap.Error(err))
		return 0, fmt.Errorf("failed to get trigger device: %w", err)
	}

	if device.Status == db.TriggerDeviceDisconnected {
		log.Info("trigger device is disconnected, ignoring event")
		return ResultTriggerDeviceDisconnected, nil
	}

	user, err := s.resolver.Resolve(ctx, token, s.requiredScope)
	if err != nil {
		log.Info("identity rejected", zap.Error(err))
		return 0, err
	}

	log = log.With(zap.String("user_id", user.UserID.String()))

	unlock := s.locks.lock(device.ID)
	defer unlock()

	recorded, events, err := s.record(ctx, device, user.UserID, direction, log)
	if err != nil {
		return 0, err
	}

	// Publish bill events after successful commit
	for _, event := range events {
		if err := s.publisher.PublishBillEvent(ctx, event); err != nil {
			// Log error but don't fail the trigger
			log.Error("failed to publish bill event",
				zap.Error(err),
				zap.String("bill_id", event.BillID),
				zap.String("event", event.Event),
			)
		}
	}

	toggled, err := s.toggleActions(ctx, device, log)
	if err != nil {
		return 0, err
	}

	result := resultFor(recorded, toggled)
	log.Info("trigger processed",
		zap.String("trigger_type", string(recorded)),
		zap.Stringer("result", result),
	)

	return result, nil
}

// record decides the transition of the user and writes it to the ledgers
func (s *ProcessorService) record(
	ctx context.Context,
	device *db.TriggerDevice,
	userID uuid.UUID,
	direction Direction,
	log *zap.Logger,
) (db.TriggerType, []mq.BillEvent, error) {
	rows, err := s.store.GetTriggersSinceOpenBill(ctx, device.ID)
	if err != nil {
		log.Error("failed to get trigger history", zap.Error(err))
		return "", nil, fmt.Errorf("failed to get trigger history: %w", err)
	}

	now := s.now()
	explicit, hasExplicit := direction.TriggerType()

	if len(rows) == 0 {
		if hasExplicit && explicit != db.TriggerEnter {
			return "", nil, fmt.Errorf("%w: %s while no billing period is open", ErrDirectionConflict, direction)
		}
		event, err := s.openPeriod(ctx, device, userID, now)
		if err != nil {
			log.Error("failed to open billing period", zap.Error(err))
			return "", nil, err
		}
		log.Info("billing period opened", zap.String("bill_id", event.BillID))
		return db.TriggerEnter, []mq.BillEvent{event}, nil
	}

	tally := occupancy.NewTally(rows)
	inferred := tally.Direction(userID)
	if hasExplicit && explicit != inferred {
		count := tally.Count(userID)
		return "", nil, fmt.Errorf("%w: %s requested, user has %d ENTER and %d LEAVE", ErrDirectionConflict, direction, count.Enter, count.Leave)
	}

	trigger := &db.UserTrigger{
		UserID:          userID,
		TriggerDeviceID: device.ID,
		Type:            inferred,
		CreatedAt:       now,
	}

	if inferred == db.TriggerEnter {
		if err := s.store.InsertUserTrigger(ctx, trigger); err != nil {
			log.Error("failed to record enter", zap.Error(err))
			return "", nil, fmt.Errorf("failed to record enter: %w", err)
		}
		return db.TriggerEnter, nil, nil
	}

	last, err := tally.IsLastOccupant(userID)
	if err != nil {
		log.Error("trigger history is inconsistent", zap.Error(err), zap.Int("rows", len(rows)))
		return "", nil, err
	}

	if !last {
		if err := s.store.InsertUserTrigger(ctx, trigger); err != nil {
			log.Error("failed to record leave", zap.Error(err))
			return "", nil, fmt.Errorf("failed to record leave: %w", err)
		}
		log.Debug("occupants remain, billing period stays open", zap.Int("occupants", tally.Occupants()-1))
		return db.TriggerLeave, nil, nil
	}

	event, err := s.closePeriod(ctx, device, trigger, now)
	if err != nil {
		if errors.Is(err, ErrInvariant) {
			log.Error("ledger invariant violated", zap.Error(err), zap.Stack("stack"))
		} else {
			log.Error("failed to close billing period", zap.Error(err))
		}
		return "", nil, err
	}
	log.Info("billing period closed",
		zap.String("bill_id", event.BillID),
		zap.Stringp("sum", event.Sum),
	)

	return db.TriggerLeave, []mq.BillEvent{event}, nil
}

// openPeriod records the first ENTER of a period and opens its bill in one transaction
func (s *ProcessorService) openPeriod(ctx context.Context, device *db.TriggerDevice, userID uuid.UUID, now time.Time) (mq.BillEvent, error) {
	var bill *db.Bill

	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		enter := &db.UserTrigger{
			UserID:          userID,
			TriggerDeviceID: device.ID,
			Type:            db.TriggerEnter,
			CreatedAt:       now,
		}
		if err := tx.InsertUserTrigger(ctx, enter); err != nil {
			return fmt.Errorf("failed to record enter: %w", err)
		}

		opened, _, err := tx.OpenBill(ctx, device.ID, now)
		if err != nil {
			return fmt.Errorf("failed to open bill: %w", err)
		}
		bill = opened
		return nil
	})
	if err != nil {
		return mq.BillEvent{}, err
	}

	return mq.BillEvent{
		BillID:          bill.ID.String(),
		TriggerDeviceID: device.ID.String(),
		TriggerAddress:  device.Address,
		Event:           mq.EventBillOpened,
		StartedAt:       mq.FormatTime(bill.StartedAt),
		Occupants:       1,
	}, nil
}

// closePeriod records the LEAVE of the last occupant and closes the bill in one transaction
func (s *ProcessorService) closePeriod(ctx context.Context, device *db.TriggerDevice, leave *db.UserTrigger, now time.Time) (mq.BillEvent, error) {
	var bill *db.Bill

	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.InsertUserTrigger(ctx, leave); err != nil {
			return fmt.Errorf("failed to record leave: %w", err)
		}

		open, err := tx.GetOpenBill(ctx, device.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: no open bill for trigger device %s", ErrInvariant, device.ID)
			}
			return fmt.Errorf("failed to get open bill: %w", err)
		}

		sum, err := tx.ComputeBillSum(ctx, open.ID, open.StartedAt, now)
		if err != nil {
			return fmt.Errorf("failed to compute bill sum: %w", err)
		}

		if err := tx.CloseBill(ctx, open.ID, sum, now); err != nil {
			return fmt.Errorf("failed to close bill: %w", err)
		}

		open.FinishedAt = &now
		open.Sum = &sum
		bill = open
		return nil
	})
	if err != nil {
		return mq.BillEvent{}, err
	}

	finished := mq.FormatTime(*bill.FinishedAt)
	sum := bill.Sum.String()
	return mq.BillEvent{
		BillID:          bill.ID.String(),
		TriggerDeviceID: device.ID.String(),
		TriggerAddress:  device.Address,
		Event:           mq.EventBillClosed,
		StartedAt:       mq.FormatTime(bill.StartedAt),
		FinishedAt:      &finished,
		Sum:             &sum,
		Occupants:       0,
	}, nil
}

// toggleActions flips every reachable action device governed by the trigger
// device and emits a TOGGLE command for it. It reports false when the device
// governs no action devices.
func (s *ProcessorService) toggleActions(ctx context.Context, device *db.TriggerDevice, log *zap.Logger) (bool, error) {
	rates, err := s.store.GetBillRates(ctx, device.ID)
	if err != nil {
		log.Error("failed to get bill rates", zap.Error(err))
		return false, fmt.Errorf("failed to get bill rates: %w", err)
	}
	if len(rates) == 0 {
		return false, nil
	}

	ids := make([]uuid.UUID, 0, len(rates))
	for _, rate := range rates {
		if rate.ActionDeviceID != nil {
			ids = append(ids, *rate.ActionDeviceID)
		}
	}

	devices, err := s.store.GetActionDevicesByIDs(ctx, ids, db.ActionDeviceConnected, db.ActionDeviceOnline)
	if err != nil {
		log.Error("failed to get action devices", zap.Error(err))
		return false, fmt.Errorf("failed to get action devices: %w", err)
	}

	for _, action := range devices {
		next := action.Status.Toggled()
		if err := s.store.UpdateActionDeviceStatus(ctx, action.ID, next); err != nil {
			log.Error("failed to update action device status",
				zap.Error(err),
				zap.String("action_address", action.Address),
			)
			return false, fmt.Errorf("failed to update action device status: %w", err)
		}

		cmd := DeviceCommand{Address: action.Address, Action: ActionToggle}
		if !s.emitter.Emit(cmd) {
			log.Warn("no command subscriber, toggle not delivered",
				zap.String("action_address", action.Address),
			)
			continue
		}
		log.Debug("toggle emitted",
			zap.String("action_address", action.Address),
			zap.String("status", string(next)),
		)
	}

	return true, nil
}
