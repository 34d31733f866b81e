package mqtt

import (
	"fmt"
	"strings"

	"github.com/septivank/occupancy-billing-worker/internal/service"
)

const (
	// TopicPrefixTrigger is the base of inbound trigger events and their results
	TopicPrefixTrigger = "triggers"

	// TopicPrefixAction is the base of outbound action device commands
	TopicPrefixAction = "actions"
)

const (
	suffixEnter  = "enter"
	suffixLeave  = "leave"
	suffixResult = "result"
)

// Topics provides builders for the channel's MQTT topics
type Topics struct{}

// Trigger returns the topic a trigger device reports presence events on.
//
// Example: triggers/aa:bb:cc:dd:ee:ff
func (Topics) Trigger(address string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixTrigger, address)
}

// TriggerEnter returns the topic for events that explicitly request ENTER
func (Topics) TriggerEnter(address string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixTrigger, address, suffixEnter)
}

// TriggerLeave returns the topic for events that explicitly request LEAVE
func (Topics) TriggerLeave(address string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixTrigger, address, suffixLeave)
}

// TriggerResult returns the topic the outcome of an event is published on.
//
// Example: triggers/aa:bb:cc:dd:ee:ff/result
func (Topics) TriggerResult(address string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixTrigger, address, suffixResult)
}

// Action returns the command topic of an action device.
//
// Example: actions/aabbccddeeff
func (Topics) Action(address string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixAction, address)
}

// TriggerFilters returns the subscriptions covering every inbound trigger topic
func (t Topics) TriggerFilters() []string {
	return []string{
		t.Trigger("+"),
		t.TriggerEnter("+"),
		t.TriggerLeave("+"),
	}
}

// ParseTriggerTopic extracts the raw device address and the requested
// direction from an inbound trigger topic. Result topics are rejected.
func ParseTriggerTopic(topic string) (address string, direction service.Direction, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[0] != TopicPrefixTrigger || parts[1] == "" {
		return "", service.DirectionUnspecified, false
	}

	switch len(parts) {
	case 2:
		return parts[1], service.DirectionUnspecified, true
	case 3:
		switch parts[2] {
		case suffixEnter:
			return parts[1], service.DirectionEnter, true
		case suffixLeave:
			return parts[1], service.DirectionLeave, true
		}
	}

	return "", service.DirectionUnspecified, false
}

// matchTopic reports whether topic matches a subscription filter with + and # wildcards
func matchTopic(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")

	for i, level := range f {
		if level == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}

// SuccessPayload formats the result line of a processed event
func SuccessPayload(result service.Result) []byte {
	return []byte("0:" + result.String())
}

// FailurePayload formats the result line of a rejected event
func FailurePayload(code string) []byte {
	return []byte("1:" + code)
}
