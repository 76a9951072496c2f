package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lyzr/tokenmesh/common/envelope"
	"github.com/lyzr/tokenmesh/common/eventlog"
	"github.com/lyzr/tokenmesh/common/handler"
	"github.com/lyzr/tokenmesh/common/logger"
	"github.com/lyzr/tokenmesh/common/routing"
	"github.com/lyzr/tokenmesh/common/transport"
)

func testLogger() *logger.Logger { return logger.New("error", "json") }

func TestDispatcherEndToEndEdgeRouting(t *testing.T) {
	table := routing.NewTable()
	table.SetPlaceRoute(routing.PlaceRoute{PlaceID: "P1", Kind: routing.KindEdge, Successor: "P2", ServiceName: "Svc1", Operation: "opA"})
	table.SetPlaceRoute(routing.PlaceRoute{PlaceID: "P2", Kind: routing.KindEdge, Successor: "", ServiceName: "Svc2", Operation: "opB"})
	table.SetEndpoint("Svc1", "opA", routing.Endpoint{ChannelID: "ip9", Host: "127.0.0.1", BasePort: 801})
	table.SetEndpoint("Svc2", "opB", routing.Endpoint{ChannelID: "ip9", Host: "127.0.0.1", BasePort: 802})

	received := make(chan map[string]string, 1)

	p1, err := New(Config{PlaceID: "P1", ServiceName: "Svc1", Operation: "opA", ChannelID: "ip9", BasePort: 801, MaxQueue: 5, Workers: 1},
		table, handler.Func(func(ctx context.Context, in handler.Input) handler.Result {
			return handler.Result{Tag: handler.Structured, Data: map[string]string{"stage": "p1"}}
		}), eventlog.NopSink{}, testLogger())
	if err != nil {
		t.Fatalf("New(P1): %v", err)
	}

	p2, err := New(Config{PlaceID: "P2", ServiceName: "Svc2", Operation: "opB", ChannelID: "ip9", BasePort: 802, MaxQueue: 5, Workers: 1},
		table, handler.Func(func(ctx context.Context, in handler.Input) handler.Result {
			received <- in.Data
			return handler.Result{Tag: handler.Structured}
		}), eventlog.NopSink{}, testLogger())
	if err != nil {
		t.Fatalf("New(P2): %v", err)
	}

	ctx := context.Background()
	p1.Start(ctx)
	defer p1.Stop()
	p2.Start(ctx)
	defer p2.Stop()

	future := time.Now().Add(time.Hour).UnixMilli()
	body := tokenBodyXML(1000000, "P1", future, map[string]string{"k": "v"})
	xmlStr, err := envelope.Build(envelope.BuildOpts{
		ServiceName: "Svc1", Operation: "opA", SequenceID: 1, RuleBaseVersion: "v001",
		JoinAttrName: envelope.NormalAttrName(), TokenJSONBody: body, NotAfter: future,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	sender, err := transport.NewSender()
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Close()

	port, err := routing.Port("ip9", 801)
	if err != nil {
		t.Fatalf("Port: %v", err)
	}
	if err := sender.Send("127.0.0.1", port, xmlStr); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case data := <-received:
		if data["stage"] != "p1" {
			t.Fatalf("P2 received data %v, want stage=p1 merged by P1's handler", data)
		}
		if data["k"] != "v" {
			t.Fatalf("P2 received data %v, missing original field k=v", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for P2 to receive the routed token")
	}
}

func TestDispatcherJoinQuorumReleasesMergedToken(t *testing.T) {
	table := routing.NewTable()
	table.SetPlaceRoute(routing.PlaceRoute{PlaceID: "P3", Kind: routing.KindJoin, JoinBranches: 2, ServiceName: "Svc3", Operation: "opC"})
	table.SetEndpoint("Svc3", "opC", routing.Endpoint{ChannelID: "ip9", Host: "127.0.0.1", BasePort: 803})

	received := make(chan map[string]string, 1)
	p3, err := New(Config{PlaceID: "P3", ServiceName: "Svc3", Operation: "opC", ChannelID: "ip9", BasePort: 803, MaxQueue: 5, Workers: 1, JoinBranches: 2},
		table, handler.Func(func(ctx context.Context, in handler.Input) handler.Result {
			received <- in.Data
			return handler.Result{Tag: handler.Structured}
		}), eventlog.NopSink{}, testLogger())
	if err != nil {
		t.Fatalf("New(P3): %v", err)
	}

	ctx := context.Background()
	p3.Start(ctx)
	defer p3.Stop()

	sender, err := transport.NewSender()
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Close()
	port, _ := routing.Port("ip9", 803)

	future := time.Now().Add(time.Hour).UnixMilli()
	joinID := int64(5000000)

	for branch, val := range map[int]string{1: "a", 2: "b"} {
		body := tokenBodyXML(joinID+int64(branch), "P3", future, map[string]string{"v": val})
		xmlStr, err := envelope.Build(envelope.BuildOpts{
			ServiceName: "Svc3", Operation: "opC", SequenceID: int64(branch), RuleBaseVersion: "v001",
			JoinID: &joinID, JoinAttrName: envelope.BranchAttrName(branch), TokenJSONBody: body, NotAfter: future,
		})
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if err := sender.Send("127.0.0.1", port, xmlStr); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	select {
	case data := <-received:
		if data["branch1.v"] != "a" || data["branch2.v"] != "b" {
			t.Fatalf("merged join data = %v, want branch-prefixed a/b", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for join quorum release")
	}
}

func TestDispatcherDropsExpiredTokenWithoutInvokingHandler(t *testing.T) {
	table := routing.NewTable()
	table.SetPlaceRoute(routing.PlaceRoute{PlaceID: "P1", Kind: routing.KindEdge, ServiceName: "Svc1", Operation: "opA"})
	table.SetEndpoint("Svc1", "opA", routing.Endpoint{ChannelID: "ip9", Host: "127.0.0.1", BasePort: 804})

	invoked := make(chan struct{}, 1)
	p1, err := New(Config{PlaceID: "P1", ServiceName: "Svc1", Operation: "opA", ChannelID: "ip9", BasePort: 804, MaxQueue: 5, Workers: 1},
		table, handler.Func(func(ctx context.Context, in handler.Input) handler.Result {
			invoked <- struct{}{}
			return handler.Result{Tag: handler.Structured}
		}), eventlog.NopSink{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	p1.Start(ctx)
	defer p1.Stop()

	sender, err := transport.NewSender()
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Close()
	port, _ := routing.Port("ip9", 804)

	past := time.Now().Add(-time.Hour).UnixMilli()
	body := tokenBodyXML(2000000, "P1", past, map[string]string{})
	xmlStr, err := envelope.Build(envelope.BuildOpts{
		ServiceName: "Svc1", Operation: "opA", SequenceID: 1, RuleBaseVersion: "v001",
		JoinAttrName: envelope.NormalAttrName(), TokenJSONBody: body, NotAfter: past,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := sender.Send("127.0.0.1", port, xmlStr); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-invoked:
		t.Fatalf("handler must not be invoked for an already-expired token")
	case <-time.After(500 * time.Millisecond):
		// expected: no invocation
	}

	if c := p1.Place().Snapshot().ExpiredToken; c != 1 {
		t.Fatalf("ExpiredToken counter = %d, want 1", c)
	}
}

func tokenBodyXML(id int64, place string, notAfter int64, data map[string]string) string {
	return fmt.Sprintf(`{"tokenId":"%d","version":"v001","notAfter":%d,"currentPlace":%q,"workflow_start_time":0,"data":%s}`,
		id, notAfter, place, dataJSON(data))
}

func dataJSON(data map[string]string) string {
	if len(data) == 0 {
		return "{}"
	}
	out := "{"
	first := true
	for k, v := range data {
		if !first {
			out += ","
		}
		first = false
		out += fmt.Sprintf("%q:%q", k, v)
	}
	return out + "}"
}
