package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/lyzr/tokenmesh/common/token"
)

// jsonToken is the wire shape of the embedded JSON token body (§6). Data
// is *token.OrderedData rather than map[string]string so its own
// Marshal/UnmarshalJSON carry insertion order across the wire instead of
// encoding/json's alphabetical map key order.
type jsonToken struct {
	TokenID           json.Number        `json:"tokenId"`
	Version           string             `json:"version"`
	NotAfter          int64              `json:"notAfter"`
	CurrentPlace      string             `json:"currentPlace"`
	WorkflowStartTime int64              `json:"workflow_start_time"`
	Data              *token.OrderedData `json:"data"`
	ParentTokenID     *json.Number       `json:"parentTokenId,omitempty"`
	BranchNumber      *int               `json:"branchNumber,omitempty"`
	ForkCount         *int               `json:"forkCount,omitempty"`
}

// wrapperSignalFields are the keys whose presence inside a single-keyed
// top-level object signals that the body is wrapped as {"P_X": {...}}
// by an upstream place (§4.1 "JSON token parsing").
var wrapperSignalFields = []string{"tokenId", "version", "workflow_start_time", "status"}

// ParseTokenBody parses the raw JSON token body, transparently unwrapping
// an upstream place's {"P_X": {...}} wrapper when present (§4.1).
//
// Detection rule: exactly one top-level key whose value is a JSON object
// containing at least one of tokenId, version, workflow_start_time, status.
func ParseTokenBody(raw string) (*token.Token, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil, fmt.Errorf("%w: invalid token JSON: %v", ErrMalformedEnvelope, err)
	}

	body := []byte(raw)
	outerWorkflowStart := int64(0)
	hasOuterWorkflowStart := false

	if len(generic) == 1 {
		for _, v := range generic {
			var inner map[string]json.RawMessage
			if err := json.Unmarshal(v, &inner); err == nil && looksLikeWrappedToken(inner) {
				body = v
				if ws, ok := inner["workflow_start_time"]; ok {
					var t int64
					if json.Unmarshal(ws, &t) == nil {
						outerWorkflowStart = t
						hasOuterWorkflowStart = true
					}
				}
			}
		}
	}

	var jt jsonToken
	if err := json.Unmarshal(body, &jt); err != nil {
		return nil, fmt.Errorf("%w: invalid token body: %v", ErrMalformedEnvelope, err)
	}

	id, err := jt.TokenID.Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: tokenId must be integral: %v", ErrMalformedEnvelope, err)
	}

	data := jt.Data
	if data == nil {
		data = token.NewOrderedData()
	}
	t := &token.Token{
		ID:                id,
		Version:           jt.Version,
		NotAfter:          jt.NotAfter,
		CurrentPlace:      jt.CurrentPlace,
		WorkflowStartTime: jt.WorkflowStartTime,
		Data:              data,
	}
	if hasOuterWorkflowStart && t.WorkflowStartTime == 0 {
		t.WorkflowStartTime = outerWorkflowStart
	}
	return t, nil
}

// looksLikeWrappedToken reports whether inner contains at least one of the
// wrapper-signal fields, per §4.1's unwrap-detection rule.
func looksLikeWrappedToken(inner map[string]json.RawMessage) bool {
	for _, f := range wrapperSignalFields {
		if _, ok := inner[f]; ok {
			return true
		}
	}
	return false
}

// BuildTokenBody serializes t into the flat JSON token body shape (§6).
// Fork-child fields are included only when fork is non-nil.
func BuildTokenBody(t *token.Token, fork *ForkFields) (string, error) {
	jt := jsonToken{
		TokenID:           json.Number(fmt.Sprintf("%d", t.ID)),
		Version:           t.Version,
		NotAfter:          t.NotAfter,
		CurrentPlace:      t.CurrentPlace,
		WorkflowStartTime: t.WorkflowStartTime,
		Data:              t.Data,
	}
	if fork != nil {
		parent := json.Number(fmt.Sprintf("%d", fork.ParentTokenID))
		jt.ParentTokenID = &parent
		branch := fork.BranchNumber
		jt.BranchNumber = &branch
		count := fork.ForkCount
		jt.ForkCount = &count
	}
	out, err := json.Marshal(jt)
	if err != nil {
		return "", fmt.Errorf("envelope: marshal token body: %w", err)
	}
	return string(out), nil
}

// ForkFields carries the additional fields fork children include (§4.5).
type ForkFields struct {
	ParentTokenID int64
	BranchNumber  int
	ForkCount     int
}

// BuildResponse constructs the place-wrapped response JSON
// {placeId: {...flat fields..., data: {...}, routing_decision?: {...}}}
// (§4.1 "Response construction"). The wrapping key is always the
// producing place's id, never the successor's; workflow_start_time is
// hoisted to the inner object's top level.
func BuildResponse(placeID string, t *token.Token, routingDecision map[string]interface{}) (string, error) {
	inner := map[string]interface{}{
		"tokenId":             t.ID,
		"version":             t.Version,
		"notAfter":            t.NotAfter,
		"currentPlace":        t.CurrentPlace,
		"workflow_start_time": t.WorkflowStartTime,
		"data":                t.Data,
	}
	if routingDecision != nil {
		inner["routing_decision"] = routingDecision
	}
	out, err := json.Marshal(map[string]interface{}{placeID: inner})
	if err != nil {
		return "", fmt.Errorf("envelope: marshal response: %w", err)
	}
	return string(out), nil
}
