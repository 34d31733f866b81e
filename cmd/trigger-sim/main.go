// Command trigger-sim plays a badge reader: it signs a user token, publishes
// trigger events for a device address and prints the result lines.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/septivank/occupancy-billing-worker/internal/identity"
	"github.com/septivank/occupancy-billing-worker/internal/mqtt"
)

func main() {
	brokerURL := flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
	address := flag.String("address", "aa:bb:cc:dd:ee:ff", "Trigger device address")
	secret := flag.String("secret", "", "JWT secret shared with the worker")
	user := flag.String("user", "", "User ID (random when empty)")
	scope := flag.String("scope", identity.ScopeEmployee, "Scope granted to the token")
	direction := flag.String("direction", "", "Explicit direction: enter, leave or empty to infer")
	count := flag.Int("count", 1, "Number of events to send")
	interval := flag.Duration("interval", time.Second, "Delay between events")
	flag.Parse()

	if *secret == "" {
		log.Fatal("-secret is required")
	}

	userID := uuid.New()
	if *user != "" {
		parsed, err := uuid.Parse(*user)
		if err != nil {
			log.Fatalf("Invalid user ID: %v", err)
		}
		userID = parsed
	}

	token, err := identity.IssueToken(*secret, userID, []string{*scope}, time.Hour)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	topics := mqtt.Topics{}
	topic := topics.Trigger(*address)
	switch *direction {
	case "":
	case "enter":
		topic = topics.TriggerEnter(*address)
	case "leave":
		topic = topics.TriggerLeave(*address)
	default:
		log.Fatalf("Unknown direction %q", *direction)
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(*brokerURL).
		SetClientID("trigger-sim-" + uuid.NewString()[:8])
	client := pahomqtt.NewClient(opts)
	if t := client.Connect(); t.Wait() && t.Error() != nil {
		log.Fatalf("Failed to connect to MQTT broker: %v", t.Error())
	}
	defer client.Disconnect(250)

	results := make(chan string, *count)
	resultTopic := topics.TriggerResult(*address)
	if t := client.Subscribe(resultTopic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		results <- string(msg.Payload())
	}); t.Wait() && t.Error() != nil {
		log.Fatalf("Failed to subscribe to %s: %v", resultTopic, t.Error())
	}

	log.Printf("Sending %d event(s) to %s as user %s", *count, topic, userID)

	for i := 0; i < *count; i++ {
		if t := client.Publish(topic, 1, false, token); t.Wait() && t.Error() != nil {
			log.Printf("Failed to publish event %d: %v", i+1, t.Error())
			continue
		}

		select {
		case line := <-results:
			fmt.Printf("event %d: %s\n", i+1, line)
		case <-time.After(5 * time.Second):
			fmt.Printf("event %d: no result within 5s\n", i+1)
		}

		if i < *count-1 {
			time.Sleep(*interval)
		}
	}
}
