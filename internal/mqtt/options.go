package mqtt

import (
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/septivank/occupancy-billing-worker/internal/config"
)

const (
	// defaultConnectTimeout is the maximum time to wait for initial connection
	defaultConnectTimeout = 10 * time.Second

	// defaultOperationTimeout bounds publish and subscribe acknowledgments
	defaultOperationTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time in milliseconds to wait for pending operations on disconnect
	defaultDisconnectQuiesce = 1000

	defaultKeepAlive            = 60 * time.Second
	defaultMaxReconnectInterval = 30 * time.Second

	maxQoS = 2

	// maxPayloadSize caps outbound payloads at 1MB
	maxPayloadSize = 1 << 20
)

// buildClientOptions creates paho options from the worker config.
// Handlers run concurrently so triggers of different devices do not wait on each other.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Second)
	opts.SetMaxReconnectInterval(defaultMaxReconnectInterval)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	return opts
}
