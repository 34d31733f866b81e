package mqtt_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/septivank/occupancy-billing-worker/internal/config"
	"github.com/septivank/occupancy-billing-worker/internal/db"
	"github.com/septivank/occupancy-billing-worker/internal/identity"
	"github.com/septivank/occupancy-billing-worker/internal/mqtt"
	"github.com/septivank/occupancy-billing-worker/internal/repository"
	"github.com/septivank/occupancy-billing-worker/internal/service"
	"github.com/septivank/occupancy-billing-worker/internal/validator"
)

type call struct {
	address   string
	token     string
	direction service.Direction
}

type stubProcessor struct {
	mu     sync.Mutex
	calls  []call
	result service.Result
	err    error
}

func (p *stubProcessor) ProcessTrigger(_ context.Context, address, token string, direction service.Direction) (service.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call{address, token, direction})
	return p.result, p.err
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		QoS:              1,
		CommandQueueSize: 16,
		Publish: config.PublishRetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     4 * time.Millisecond,
		},
	}
}

func newChannel(t *testing.T, processor mqtt.TriggerProcessor, cfg config.MQTTConfig) (*mqtt.Channel, *mqtt.FakeBroker, *service.Emitter) {
	t.Helper()

	broker := mqtt.NewFakeBroker()
	emitter := service.NewEmitter()
	channel := mqtt.NewChannel(broker, processor, emitter, cfg, zap.NewNop())
	if err := channel.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(channel.Stop)

	return channel, broker, emitter
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestChannel_SubscribesTriggerTopics(t *testing.T) {
	_, broker, _ := newChannel(t, &stubProcessor{}, testConfig())

	got := broker.Subscriptions()
	sort.Strings(got)
	want := []string{"triggers/+", "triggers/+/enter", "triggers/+/leave"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %s, got %s", want[i], got[i])
		}
	}
}

func TestChannel_TriggerResults(t *testing.T) {
	tests := []struct {
		name      string
		topic     string
		result    service.Result
		err       error
		direction service.Direction
		want      string
	}{
		{"success", "triggers/AA:BB:CC:DD:EE:FF", service.ResultEnterAdded, nil, service.DirectionUnspecified, "0:ENTER_ADDED"},
		{"disconnected", "triggers/AA:BB:CC:DD:EE:FF", service.ResultTriggerDeviceDisconnected, nil, service.DirectionUnspecified, "0:TRIGGER_DEVICE_DISCONNECTED"},
		{"explicit leave", "triggers/AA:BB:CC:DD:EE:FF/leave", service.ResultLeaveAddedWithoutActionsToggled, nil, service.DirectionLeave, "0:LEAVE_ADDED_WITHOUT_ACTIONS_TOGGLED"},
		{"invalid address", "triggers/AA:BB:CC:DD:EE:FF", 0, validator.ErrInvalidAddress, service.DirectionUnspecified, "1:MAC_INVALID"},
		{"expired token", "triggers/AA:BB:CC:DD:EE:FF/enter", 0, identity.ErrTokenExpired, service.DirectionEnter, "1:TOKEN_EXPIRED"},
		{"unexpected", "triggers/AA:BB:CC:DD:EE:FF", 0, errors.New("db down"), service.DirectionUnspecified, "1:SERVER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := &stubProcessor{result: tt.result, err: tt.err}
			_, broker, _ := newChannel(t, processor, testConfig())

			if err := broker.Deliver(tt.topic, []byte(" token-1\n")); err != nil {
				t.Fatalf("Deliver failed: %v", err)
			}

			if len(processor.calls) != 1 {
				t.Fatalf("expected one call, got %d", len(processor.calls))
			}
			got := processor.calls[0]
			if got.address != "AA:BB:CC:DD:EE:FF" || got.token != "token-1" || got.direction != tt.direction {
				t.Errorf("unexpected call %+v", got)
			}

			msgs := broker.PublishedTo("triggers/AA:BB:CC:DD:EE:FF/result")
			if len(msgs) != 1 {
				t.Fatalf("expected one result, got %d", len(msgs))
			}
			if string(msgs[0].Payload) != tt.want {
				t.Errorf("expected %s, got %s", tt.want, msgs[0].Payload)
			}
			if msgs[0].QoS != 1 || msgs[0].Retained {
				t.Errorf("result must be QoS 1 and not retained, got %+v", msgs[0])
			}
		})
	}
}

func TestChannel_PublishesCommands(t *testing.T) {
	channel, broker, emitter := newChannel(t, &stubProcessor{}, testConfig())

	if emitter.Emit(service.DeviceCommand{Address: "aabbccddee10", Action: service.ActionToggle}) {
		t.Fatal("emitter should have no subscriber before connect")
	}

	channel.HandleConnect()
	if !emitter.Emit(service.DeviceCommand{Address: "aabbccddee10", Action: service.ActionToggle}) {
		t.Fatal("emitter should have a subscriber after connect")
	}

	waitFor(t, func() bool { return len(broker.PublishedTo("actions/aabbccddee10")) == 1 })

	msg := broker.PublishedTo("actions/aabbccddee10")[0]
	if string(msg.Payload) != "TOGGLE" || !msg.Retained || msg.QoS != 1 {
		t.Errorf("unexpected command message %+v", msg)
	}
}

func TestChannel_ReconnectReplacesSubscription(t *testing.T) {
	channel, broker, emitter := newChannel(t, &stubProcessor{}, testConfig())

	channel.HandleConnect()
	channel.HandleConnect()
	emitter.Emit(service.DeviceCommand{Address: "aabbccddee10", Action: service.ActionToggle})

	waitFor(t, func() bool { return len(broker.Published()) >= 1 })
	time.Sleep(20 * time.Millisecond)

	if n := len(broker.PublishedTo("actions/aabbccddee10")); n != 1 {
		t.Errorf("expected exactly one publish, got %d", n)
	}
}

func TestChannel_RetriesWithBackoff(t *testing.T) {
	channel, broker, emitter := newChannel(t, &stubProcessor{}, testConfig())
	channel.HandleConnect()

	broker.FailNext(2)
	emitter.Emit(service.DeviceCommand{Address: "aabbccddee10", Action: service.ActionToggle})

	waitFor(t, func() bool { return len(broker.PublishedTo("actions/aabbccddee10")) == 1 })
	if n := broker.Attempts(); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestChannel_GivesUpAfterMaxAttempts(t *testing.T) {
	channel, broker, emitter := newChannel(t, &stubProcessor{}, testConfig())
	channel.HandleConnect()

	broker.SetPublishError(mqtt.ErrNotConnected)
	emitter.Emit(service.DeviceCommand{Address: "aabbccddee10", Action: service.ActionToggle})

	waitFor(t, func() bool { return broker.Attempts() == 3 })
	time.Sleep(30 * time.Millisecond)

	if n := broker.Attempts(); n != 3 {
		t.Errorf("expected retries to stop at 3 attempts, got %d", n)
	}
	if n := len(broker.Published()); n != 0 {
		t.Errorf("expected nothing published, got %d", n)
	}
}

func TestChannel_DisconnectAbandonsRetries(t *testing.T) {
	cfg := testConfig()
	cfg.Publish.MaxAttempts = 1000
	cfg.Publish.InitialBackoff = 5 * time.Millisecond
	cfg.Publish.MaxBackoff = 5 * time.Millisecond

	channel, broker, emitter := newChannel(t, &stubProcessor{}, cfg)
	channel.HandleConnect()

	broker.SetPublishError(mqtt.ErrNotConnected)
	emitter.Emit(service.DeviceCommand{Address: "aabbccddee10", Action: service.ActionToggle})

	waitFor(t, func() bool { return broker.Attempts() >= 2 })
	channel.HandleDisconnect(mqtt.ErrNotConnected)

	if emitter.Emit(service.DeviceCommand{Address: "aabbccddee10", Action: service.ActionToggle}) {
		t.Error("emitter should have no subscriber after disconnect")
	}

	settled := broker.Attempts()
	time.Sleep(50 * time.Millisecond)
	if n := broker.Attempts(); n > settled+1 {
		t.Errorf("retries continued after disconnect: %d -> %d", settled, n)
	}
}

func TestChannel_EndToEnd(t *testing.T) {
	store := repository.NewMemoryStore()
	trigger := store.AddTriggerDevice(db.TriggerDevice{Address: "aabbccddee01", Status: db.TriggerDeviceConnected})
	light := store.AddActionDevice(db.ActionDevice{Address: "aabbccddee10", Status: db.ActionDeviceConnected, Rate: decimal.NewFromInt(2)})
	store.Link(trigger.ID, light.ID)

	broker := mqtt.NewFakeBroker()
	emitter := service.NewEmitter()
	cfg := &config.Config{Auth: config.AuthConfig{RequiredScope: identity.ScopeEmployee}}
	processor := service.NewProcessorService(store, identity.NewResolver("secret"), emitter, nil, cfg, zap.NewNop())

	channel := mqtt.NewChannel(broker, processor, emitter, testConfig(), zap.NewNop())
	if err := channel.Start(); err != nil {
		t.Fatal(err)
	}
	defer channel.Stop()
	channel.HandleConnect()

	token, err := identity.IssueToken("secret", uuid.New(), []string{identity.ScopeEmployee}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if err := broker.Deliver("triggers/AA-BB-CC-DD-EE-01", []byte(token)); err != nil {
		t.Fatal(err)
	}
	if err := broker.Deliver("triggers/not-a-mac", []byte(token)); err != nil {
		t.Fatal(err)
	}

	results := broker.PublishedTo("triggers/AA-BB-CC-DD-EE-01/result")
	if len(results) != 1 || string(results[0].Payload) != "0:ENTER_ADDED" {
		t.Fatalf("unexpected result %+v", results)
	}
	invalid := broker.PublishedTo("triggers/not-a-mac/result")
	if len(invalid) != 1 || string(invalid[0].Payload) != "1:MAC_INVALID" {
		t.Fatalf("unexpected invalid result %+v", invalid)
	}

	waitFor(t, func() bool { return len(broker.PublishedTo("actions/aabbccddee10")) == 1 })
}
