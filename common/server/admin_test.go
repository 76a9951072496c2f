package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/tokenmesh/common/dispatch"
	"github.com/lyzr/tokenmesh/common/eventlog"
	"github.com/lyzr/tokenmesh/common/handler"
	"github.com/lyzr/tokenmesh/common/logger"
	"github.com/lyzr/tokenmesh/common/routing"
)

func newTestDispatcher(t *testing.T, table *routing.Table, placeID string, port int) *dispatch.Dispatcher {
	t.Helper()
	d, err := dispatch.New(
		dispatch.Config{PlaceID: placeID, ServiceName: "Svc", Operation: "op", ChannelID: "ip9", BasePort: port, MaxQueue: 5, Workers: 1},
		table,
		handler.Func(func(ctx context.Context, in handler.Input) handler.Result {
			return handler.Result{Tag: handler.Structured}
		}),
		eventlog.NopSink{},
		logger.New("error", "json"),
	)
	require.NoError(t, err)
	return d
}

func TestAdminHealthzReportsPlaceState(t *testing.T) {
	table := routing.NewTable()
	table.SetPlaceRoute(routing.PlaceRoute{PlaceID: "P1", Kind: routing.KindEdge, ServiceName: "Svc", Operation: "op"})
	d := newTestDispatcher(t, table, "P1", 901)
	d.Start(context.Background())
	defer d.Stop()

	e := NewAdmin(d, table, "", nil, nil, 0, logger.New("error", "json"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"status":"ok"`)
	assert.Contains(t, body, `"goroutineCount"`)
}

func TestAdminMetricsIncludesReactorLossCounters(t *testing.T) {
	table := routing.NewTable()
	table.SetPlaceRoute(routing.PlaceRoute{PlaceID: "P1", Kind: routing.KindEdge, ServiceName: "Svc", Operation: "op"})
	d := newTestDispatcher(t, table, "P1", 902)
	d.Start(context.Background())
	defer d.Stop()

	e := NewAdmin(d, table, "", nil, nil, 0, logger.New("error", "json"))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "decompressFailures")
	assert.Contains(t, body, "chunkReassemblyTimeouts")
	assert.Contains(t, body, "dispatched")
}

func TestAdminGetRoutingReturnsSnapshot(t *testing.T) {
	table := routing.NewTable()
	table.SetPlaceRoute(routing.PlaceRoute{PlaceID: "P1", Kind: routing.KindEdge, Successor: "P2", ServiceName: "Svc", Operation: "op"})
	table.SetEndpoint("Svc", "op", routing.Endpoint{ChannelID: "ip9", Host: "127.0.0.1", BasePort: 903})
	d := newTestDispatcher(t, table, "P1", 903)
	d.Start(context.Background())
	defer d.Stop()

	e := NewAdmin(d, table, "", nil, nil, 0, logger.New("error", "json"))

	req := httptest.NewRequest(http.MethodGet, "/routing", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"P1"`)
}

func TestAdminPatchRoutingAddsNewPlace(t *testing.T) {
	table := routing.NewTable()
	table.SetPlaceRoute(routing.PlaceRoute{PlaceID: "P1", Kind: routing.KindEdge, ServiceName: "Svc", Operation: "op"})
	d := newTestDispatcher(t, table, "P1", 904)
	d.Start(context.Background())
	defer d.Stop()

	e := NewAdmin(d, table, "", nil, nil, 0, logger.New("error", "json"))

	patch := `[{"op":"add","path":"/places/P2","value":{"PlaceID":"P2","Kind":"edge","ServiceName":"Svc2","Operation":"op2"}}]`
	req := httptest.NewRequest(http.MethodPatch, "/routing", strings.NewReader(patch))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	r, ok := table.PlaceRoute("P2")
	require.True(t, ok, "patched-in place P2 should exist in the live table")
	assert.Equal(t, routing.TransitionKind("edge"), r.Kind)
}
