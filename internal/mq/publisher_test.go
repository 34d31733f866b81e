package mq_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/septivank/occupancy-billing-worker/internal/mq"
)

func TestBillEventRoutingKey(t *testing.T) {
	tests := []struct {
		event string
		want  string
	}{
		{mq.EventBillOpened, "billing.bill.opened"},
		{mq.EventBillClosed, "billing.bill.closed"},
	}

	for _, tt := range tests {
		if got := (mq.BillEvent{Event: tt.event}).RoutingKey(); got != tt.want {
			t.Errorf("expected %s, got %s", tt.want, got)
		}
	}
}

func TestBillEventJSON_OpenBillOmitsClosingFields(t *testing.T) {
	event := mq.BillEvent{
		BillID:          "b1",
		TriggerDeviceID: "d1",
		TriggerAddress:  "aabbccddeeff",
		Event:           mq.EventBillOpened,
		StartedAt:       mq.FormatTime(time.Date(2026, 3, 2, 8, 0, 0, 0, time.FixedZone("CET", 3600))),
		Occupants:       1,
	}

	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if _, ok := parsed["finished_at"]; ok {
		t.Error("finished_at should be omitted on an open bill")
	}
	if _, ok := parsed["sum"]; ok {
		t.Error("sum should be omitted on an open bill")
	}
	if parsed["started_at"] != "2026-03-02T07:00:00Z" {
		t.Errorf("unexpected started_at: %v", parsed["started_at"])
	}
}

func TestNopPublisher(t *testing.T) {
	var p mq.BillEventPublisher = mq.NopPublisher{}
	if err := p.PublishBillEvent(context.Background(), mq.BillEvent{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
