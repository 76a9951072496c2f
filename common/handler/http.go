package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lyzr/tokenmesh/common/handler/security"
	"github.com/lyzr/tokenmesh/common/logger"
)

// HTTPHandler is the default Business Handler: it POSTs the token's data
// as JSON to a configured endpoint and interprets the JSON response,
// grounded on cmd/workflow-runner/worker/http_worker.go's request/response
// shape (method/url/payload config, JSON body, duration timing), adapted
// from a Redis-stream consumer into a direct synchronous call the
// dispatcher makes on its firing thread.
type HTTPHandler struct {
	Endpoint      string
	Method        string
	Client        *http.Client
	HostValidator *security.HostValidator
	log           *logger.Logger
}

// NewHTTPHandler creates an HTTP business handler targeting endpoint.
func NewHTTPHandler(endpoint string, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		Endpoint:      endpoint,
		Method:        http.MethodPost,
		Client:        &http.Client{Timeout: 30 * time.Second},
		HostValidator: security.NewHostValidator(),
		log:           log,
	}
}

// Process implements BusinessHandler. It honors ctx's cancellation and
// deadline, if any (the dispatcher passes the context its Start was given
// and sets no per-token deadline), and reads routing_decision.routing_path from the
// response via gjson, the same read-side JSON extraction idiom used by
// cmd/workflow-runner/resolver for dynamic-shaped payloads.
func (h *HTTPHandler) Process(ctx context.Context, input Input) Result {
	host, err := extractHost(h.Endpoint)
	if err != nil {
		return Result{Tag: Error, Err: fmt.Errorf("%w: %v", ErrHandlerFailure, err)}
	}
	if err := h.HostValidator.Validate(host); err != nil {
		return Result{Tag: Error, Err: fmt.Errorf("%w: %v", ErrHandlerFailure, err)}
	}

	body, err := json.Marshal(map[string]interface{}{
		"serviceName":  input.ServiceName,
		"operation":    input.Operation,
		"currentPlace": input.CurrentPlace,
		"tokenId":      input.TokenID,
		"data":         input.Data,
	})
	if err != nil {
		return Result{Tag: Error, Err: fmt.Errorf("%w: marshal input: %v", ErrHandlerFailure, err)}
	}

	req, err := http.NewRequestWithContext(ctx, h.Method, h.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{Tag: Error, Err: fmt.Errorf("%w: build request: %v", ErrHandlerFailure, err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "tokenmesh-place/1.0")

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{Tag: Error, Err: fmt.Errorf("%w: request failed: %v", ErrHandlerFailure, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Tag: Error, Err: fmt.Errorf("%w: read response: %v", ErrHandlerFailure, err)}
	}
	if resp.StatusCode >= 400 {
		return Result{Tag: Error, Err: fmt.Errorf("%w: handler endpoint returned %d: %s", ErrHandlerFailure, resp.StatusCode, respBody)}
	}

	raw := string(respBody)
	if !gjson.Valid(raw) {
		return Result{Tag: Fragment, Fragment: raw}
	}

	data := extractFlatData(raw)
	if path := gjson.Get(raw, "routing_decision.routing_path"); path.Exists() {
		return Result{Tag: Routed, Data: data, RoutingPath: path.String()}
	}
	return Result{Tag: Structured, Data: data}
}

// extractFlatData flattens the top-level fields of data.* (if present, in
// the place-wrapped response shape) or the raw object itself into a flat
// string map for merging into outbound token data.
func extractFlatData(raw string) map[string]string {
	node := gjson.Get(raw, "data")
	if !node.Exists() {
		node = gjson.Parse(raw)
	}
	out := make(map[string]string)
	node.ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = value.String()
		return true
	})
	return out
}

func extractHost(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("endpoint %q has no host", endpoint)
	}
	if _, _, err := net.SplitHostPort(u.Host); err != nil {
		return host, nil
	}
	return host, nil
}
