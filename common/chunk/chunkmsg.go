// Package chunk implements UDP-level fragmentation reassembly for oversize
// payloads (§4.2, §6). A payload whose decoded text contains the chunk
// envelope fields is buffered until every chunk index arrives, or discarded
// on TTL expiry.
package chunk

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxWireLength is the threshold above which outbound payloads are split
// into chunk envelopes (§6).
const MaxWireLength = 4096

// Envelope is the wire shape of a single chunk (§6).
type Envelope struct {
	ChunkIndex    int    `json:"chunkIndex"`
	TotalChunks   int    `json:"totalChunks"`
	CorrelationID string `json:"correlationId"`
	ChunkData     string `json:"chunkData"`
	ServiceType   string `json:"serviceType,omitempty"`
	OperationName string `json:"operationName,omitempty"`
}

// LooksLikeChunk reports whether raw's decoded text carries the three
// marker fields that identify a chunk envelope (§4.2 "A payload whose
// decoded text contains the tokens...").
func LooksLikeChunk(raw string) bool {
	return strings.Contains(raw, `"chunkIndex"`) &&
		strings.Contains(raw, `"totalChunks"`) &&
		strings.Contains(raw, `"correlationId"`)
}

// ParseEnvelope decodes a chunk envelope JSON payload.
func ParseEnvelope(raw string) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("chunk: malformed envelope: %w", err)
	}
	if e.TotalChunks < 1 || e.CorrelationID == "" {
		return nil, fmt.Errorf("chunk: malformed envelope: totalChunks/correlationId missing")
	}
	return &e, nil
}

// EscapeChunkData escapes text for embedding as a chunk envelope's
// chunkData field using the standard JSON escape set (§4.2).
func EscapeChunkData(s string) string {
	out, _ := json.Marshal(s)
	return string(out[1 : len(out)-1]) // strip the surrounding quotes json.Marshal adds
}

// UnescapeChunkData reverses EscapeChunkData, including \uXXXX sequences.
func UnescapeChunkData(s string) (string, error) {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return "", fmt.Errorf("chunk: invalid chunkData escaping: %w", err)
	}
	return out, nil
}

// Split breaks body into sequential chunk envelopes no larger than
// MaxWireLength each carries its share of body under correlationId.
func Split(correlationID, serviceType, operationName, body string) []Envelope {
	const dataBudget = MaxWireLength - 256 // leave headroom for envelope JSON overhead
	runes := []rune(body)
	var parts []string
	for i := 0; i < len(runes); i += dataBudget {
		end := i + dataBudget
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[i:end]))
	}
	if len(parts) == 0 {
		parts = []string{""}
	}
	envs := make([]Envelope, len(parts))
	for i, p := range parts {
		envs[i] = Envelope{
			ChunkIndex:    i,
			TotalChunks:   len(parts),
			CorrelationID: correlationID,
			ChunkData:     EscapeChunkData(p),
			ServiceType:   serviceType,
			OperationName: operationName,
		}
	}
	return envs
}
