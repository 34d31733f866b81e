package mqtt

import (
	"fmt"
	"sync"
)

// Message is a publish recorded by FakeBroker
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// FakeBroker records traffic for test assertions and delivers inbound
// messages to matching handlers.
type FakeBroker struct {
	mu sync.Mutex

	published []Message
	handlers  map[string]MessageHandler
	attempts  int

	// failNext makes the next n publishes fail
	failNext int

	// publishErr, if set, is returned by every publish
	publishErr error
}

var _ Broker = (*FakeBroker)(nil)

// NewFakeBroker creates a FakeBroker for testing
func NewFakeBroker() *FakeBroker {
	return &FakeBroker{handlers: make(map[string]MessageHandler)}
}

// FailNext makes the next n publishes return ErrPublishFailed
func (b *FakeBroker) FailNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = n
}

// SetPublishError makes every publish fail with err until reset with nil
func (b *FakeBroker) SetPublishError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// Publish implements Broker
func (b *FakeBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++
	if b.publishErr != nil {
		return b.publishErr
	}
	if b.failNext > 0 {
		b.failNext--
		return fmt.Errorf("%w: injected failure", ErrPublishFailed)
	}

	b.published = append(b.published, Message{
		Topic:    topic,
		Payload:  append([]byte(nil), payload...),
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

// Subscribe implements Broker
func (b *FakeBroker) Subscribe(topic string, _ byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

// Deliver passes an inbound message to every handler whose filter matches topic
func (b *FakeBroker) Deliver(topic string, payload []byte) error {
	b.mu.Lock()
	var matched []MessageHandler
	for filter, handler := range b.handlers {
		if matchTopic(filter, topic) {
			matched = append(matched, handler)
		}
	}
	b.mu.Unlock()

	if len(matched) == 0 {
		return fmt.Errorf("no subscription matches %s", topic)
	}

	for _, handler := range matched {
		if err := handler(topic, payload); err != nil {
			return err
		}
	}
	return nil
}

// Subscriptions returns the subscribed topic filters
func (b *FakeBroker) Subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	topics := make([]string, 0, len(b.handlers))
	for topic := range b.handlers {
		topics = append(topics, topic)
	}
	return topics
}

// Published returns every successful publish in order
func (b *FakeBroker) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.published...)
}

// PublishedTo returns the successful publishes on topic
func (b *FakeBroker) PublishedTo(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var msgs []Message
	for _, m := range b.published {
		if m.Topic == topic {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// Attempts returns the number of publish calls, failed ones included
func (b *FakeBroker) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
