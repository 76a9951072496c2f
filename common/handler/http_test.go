package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lyzr/tokenmesh/common/logger"
)

func testLogger() *logger.Logger { return logger.New("error", "json") }

func TestHTTPHandlerStructuredResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"k":"v"}}`))
	}))
	defer srv.Close()

	h := NewHTTPHandler(srv.URL, testLogger())
	h.HostValidator.AllowLoopback = true

	result := h.Process(context.Background(), Input{ServiceName: "Svc", Operation: "op", TokenID: 1, Data: map[string]string{}})
	if result.Tag != Structured {
		t.Fatalf("Tag = %v, want Structured", result.Tag)
	}
	if result.Data["k"] != "v" {
		t.Fatalf("Data[k] = %q, want v", result.Data["k"])
	}
}

func TestHTTPHandlerRoutedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"approved":"true"},"routing_decision":{"routing_path":"true"}}`))
	}))
	defer srv.Close()

	h := NewHTTPHandler(srv.URL, testLogger())
	h.HostValidator.AllowLoopback = true

	result := h.Process(context.Background(), Input{ServiceName: "Svc", Operation: "op", TokenID: 2})
	if result.Tag != Routed {
		t.Fatalf("Tag = %v, want Routed", result.Tag)
	}
	if result.RoutingPath != "true" {
		t.Fatalf("RoutingPath = %q, want true", result.RoutingPath)
	}
}

func TestHTTPHandlerErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`boom`))
	}))
	defer srv.Close()

	h := NewHTTPHandler(srv.URL, testLogger())
	h.HostValidator.AllowLoopback = true

	result := h.Process(context.Background(), Input{ServiceName: "Svc", Operation: "op"})
	if result.Tag != Error {
		t.Fatalf("Tag = %v, want Error", result.Tag)
	}
}

func TestHTTPHandlerBlocksPrivateHostByDefault(t *testing.T) {
	h := NewHTTPHandler("http://127.0.0.1:9", testLogger())
	result := h.Process(context.Background(), Input{ServiceName: "Svc", Operation: "op"})
	if result.Tag != Error {
		t.Fatalf("expected SSRF protection to reject loopback destination by default")
	}
}

func TestHTTPHandlerFragmentOnNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain text body"))
	}))
	defer srv.Close()

	h := NewHTTPHandler(srv.URL, testLogger())
	h.HostValidator.AllowLoopback = true

	result := h.Process(context.Background(), Input{ServiceName: "Svc", Operation: "op"})
	if result.Tag != Fragment {
		t.Fatalf("Tag = %v, want Fragment", result.Tag)
	}
	if result.Fragment != "plain text body" {
		t.Fatalf("Fragment = %q", result.Fragment)
	}
}
