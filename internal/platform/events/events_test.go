package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestStreamValues(t *testing.T) {
	at := time.Unix(1700000000, 0)
	values, err := streamValues(Event{
		Type:    TypeReviewDecision,
		Key:     "d-1",
		Payload: map[string]string{"gate_result": "hold_for_review"},
	}, at)
	if err != nil {
		t.Fatalf("streamValues: %v", err)
	}
	if values["type"] != TypeReviewDecision || values["key"] != "d-1" {
		t.Errorf("unexpected values %v", values)
	}
	if values["timestamp"] != "1700000000" {
		t.Errorf("timestamp = %v", values["timestamp"])
	}

	var payload map[string]string
	if err := json.Unmarshal([]byte(values["data"].(string)), &payload); err != nil {
		t.Fatalf("data is not JSON: %v", err)
	}
	if payload["gate_result"] != "hold_for_review" {
		t.Errorf("payload = %v", payload)
	}
}

func TestStreamValues_Unencodable(t *testing.T) {
	if _, err := streamValues(Event{Type: "x", Payload: make(chan int)}, time.Now()); err == nil {
		t.Fatal("expected encode error")
	}
}

func TestRecorderAndLogPublisher(t *testing.T) {
	var r Recorder
	_ = r.Publish(context.Background(), Event{Type: TypeReviewDecision, Key: "a"})
	_ = r.Publish(context.Background(), Event{Type: TypeReviewDecision, Key: "b"})
	if got := r.Events(); len(got) != 2 || got[1].Key != "b" {
		t.Errorf("unexpected events %+v", got)
	}

	if err := NewLogPublisher(zerolog.Nop()).Publish(context.Background(), Event{Type: "x"}); err != nil {
		t.Errorf("LogPublisher returned %v", err)
	}
}
