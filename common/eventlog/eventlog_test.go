package eventlog

import (
	"context"
	"testing"
)

func TestNopSinkNeverErrors(t *testing.T) {
	var s Sink = NopSink{}
	if err := s.Append(context.Background(), DispatchEvent{PlaceID: "P1", TokenID: 1}); err != nil {
		t.Fatalf("NopSink.Append returned error: %v", err)
	}
}

type recordingSink struct{ events []DispatchEvent }

func (r *recordingSink) Append(ctx context.Context, event DispatchEvent) error {
	r.events = append(r.events, event)
	return nil
}

func TestSinkInterfaceRecordsEvent(t *testing.T) {
	var s Sink = &recordingSink{}
	ev := DispatchEvent{PlaceID: "P1", TokenID: 42, SequenceID: 100000, Outcome: "dispatched"}
	if err := s.Append(context.Background(), ev); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got := s.(*recordingSink).events
	if len(got) != 1 || got[0].TokenID != 42 {
		t.Fatalf("expected recorded event with TokenID 42, got %+v", got)
	}
}
