package mqtt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/septivank/occupancy-billing-worker/internal/config"
	"github.com/septivank/occupancy-billing-worker/internal/service"
)

// TriggerProcessor handles one inbound presence event
type TriggerProcessor interface {
	ProcessTrigger(ctx context.Context, address, token string, direction service.Direction) (service.Result, error)
}

// Channel connects the broker to the trigger processor: inbound events are
// processed and answered on the result topic, emitted device commands are
// queued and published to the action topics.
type Channel struct {
	broker    Broker
	processor TriggerProcessor
	emitter   *service.Emitter
	qos       byte
	retry     config.PublishRetryConfig
	logger    *zap.Logger

	queue chan service.DeviceCommand

	mu  sync.Mutex
	sub *service.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChannel creates a channel; call Start once the broker is connected
func NewChannel(
	broker Broker,
	processor TriggerProcessor,
	emitter *service.Emitter,
	cfg config.MQTTConfig,
	logger *zap.Logger,
) *Channel {
	ctx, cancel := context.WithCancel(context.Background())

	size := cfg.CommandQueueSize
	if size < 1 {
		size = 1
	}

	return &Channel{
		broker:    broker,
		processor: processor,
		emitter:   emitter,
		qos:       byte(cfg.QoS),
		retry:     cfg.Publish,
		logger:    logger,
		queue:     make(chan service.DeviceCommand, size),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the trigger topics and starts the command publisher
func (c *Channel) Start() error {
	for _, filter := range (Topics{}).TriggerFilters() {
		if err := c.broker.Subscribe(filter, c.qos, c.handleTrigger); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", filter, err)
		}
		c.logger.Info("subscribed to trigger topic", zap.String("topic", filter))
	}

	c.wg.Add(1)
	go c.run()

	return nil
}

// Stop drops the command subscription and waits for the publisher to exit.
// Queued commands are abandoned.
func (c *Channel) Stop() {
	c.HandleDisconnect(nil)
	c.cancel()
	c.wg.Wait()
}

// HandleConnect registers the channel as the command subscriber, replacing
// the subscription of any earlier connection.
func (c *Channel) HandleConnect() {
	sub := c.emitter.Subscribe(c.enqueue)

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	c.logger.Info("command subscriber registered")
}

// HandleDisconnect cancels the command subscription. Commands still being
// retried are abandoned.
func (c *Channel) HandleDisconnect(err error) {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Cancel()
		c.logger.Info("command subscriber removed", zap.Error(err))
	}
}

func (c *Channel) subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub != nil && c.sub.Active()
}

// handleTrigger processes one inbound event and publishes its result line
func (c *Channel) handleTrigger(topic string, payload []byte) error {
	address, direction, ok := ParseTriggerTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected trigger topic %q", topic)
	}

	token := strings.TrimSpace(string(payload))

	var reply []byte
	result, err := c.processor.ProcessTrigger(c.ctx, address, token, direction)
	if err != nil {
		code := service.ErrorCode(err)
		if code == service.CodeServer {
			c.logger.Error("failed to process trigger",
				zap.String("topic", topic),
				zap.Error(err),
			)
		} else {
			c.logger.Info("trigger rejected",
				zap.String("topic", topic),
				zap.String("code", code),
			)
		}
		reply = FailurePayload(code)
	} else {
		reply = SuccessPayload(result)
	}

	if err := c.broker.Publish((Topics{}).TriggerResult(address), reply, c.qos, false); err != nil {
		return fmt.Errorf("failed to publish trigger result: %w", err)
	}

	return nil
}

// enqueue must not block the processor
func (c *Channel) enqueue(cmd service.DeviceCommand) {
	select {
	case c.queue <- cmd:
	default:
		c.logger.Warn("command queue full, dropping command",
			zap.String("action_address", cmd.Address),
			zap.String("action", string(cmd.Action)),
		)
	}
}

func (c *Channel) run() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case cmd := <-c.queue:
			c.deliver(cmd)
		}
	}
}

// deliver publishes a command with bounded retries and exponential backoff.
// Retrying stops as soon as the command subscriber is gone.
func (c *Channel) deliver(cmd service.DeviceCommand) {
	topic := (Topics{}).Action(cmd.Address)
	payload := []byte(cmd.Action)
	backoff := c.retry.InitialBackoff

	log := c.logger.With(
		zap.String("topic", topic),
		zap.String("action", string(cmd.Action)),
	)

	for attempt := 1; ; attempt++ {
		if !c.subscribed() {
			log.Warn("command subscriber gone, abandoning command", zap.Int("attempt", attempt))
			return
		}

		err := c.broker.Publish(topic, payload, c.qos, true)
		if err == nil {
			log.Debug("command published", zap.Int("attempt", attempt))
			return
		}

		if attempt >= c.retry.MaxAttempts {
			log.Error("giving up on command", zap.Int("attempts", attempt), zap.Error(err))
			return
		}

		log.Warn("failed to publish command, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		if !c.wait(backoff) {
			return
		}

		backoff *= 2
		if c.retry.MaxBackoff > 0 && backoff > c.retry.MaxBackoff {
			backoff = c.retry.MaxBackoff
		}
	}
}

func (c *Channel) wait(d time.Duration) bool {
	if d <= 0 {
		return c.ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
