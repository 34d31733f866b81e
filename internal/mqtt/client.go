// Package mqtt is the device command channel: it feeds trigger events from
// the broker into the processor and publishes results and action commands.
package mqtt

import (
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/septivank/occupancy-billing-worker/internal/config"
)

// MessageHandler is the callback for received messages. Handlers run
// concurrently and a returned error is only logged.
type MessageHandler func(topic string, payload []byte) error

// Broker is the publish/subscribe surface the command channel needs
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
}

// Client wraps paho.mqtt.golang with reconnect-aware subscriptions.
// All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	logger *zap.Logger

	// subscriptions are restored after every reconnect
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

var _ Broker = (*Client)(nil)

// NewClient builds a client without connecting so callbacks can be
// registered before the first connection.
func NewClient(cfg config.MQTTConfig, logger *zap.Logger) *Client {
	c := &Client{
		logger:        logger,
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		logger.Info("reconnecting to MQTT broker")
	})

	c.client = pahomqtt.NewClient(opts)
	return c
}

// Connect establishes the connection to the broker
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// OnConnect runs asynchronously and may not have fired yet
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return nil
}

func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.logger.Info("connected to MQTT broker")
	c.restoreSubscriptions()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.logger.Warn("lost connection to MQTT broker", zap.Error(err))

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		token := c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
		if token.WaitTimeout(defaultOperationTimeout) && token.Error() != nil {
			c.logger.Error("failed to restore subscription",
				zap.String("topic", sub.topic),
				zap.Error(token.Error()),
			)
		}
	}
}

// SetOnConnect sets a callback invoked on the initial connect and on every reconnect
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// IsConnected returns the last known connection state
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// Publish sends payload to topic and waits for the broker acknowledgment
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultOperationTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultOperationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// Subscribe registers handler for topic; the subscription survives reconnects
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultOperationTimeout) {
		c.forget(topic)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultOperationTimeout)
	}
	if err := token.Error(); err != nil {
		c.forget(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// Close disconnects from the broker after pending operations quiesce
func (c *Client) Close() error {
	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// wrapHandler adds panic recovery and error logging to a MessageHandler
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("MQTT handler panic recovered",
					zap.String("topic", msg.Topic()),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("MQTT handler returned error",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
		}
	}
}
