// Package envelope implements the wire codec for §4.1 and §6: the XML
// payload envelope wrapping an embedded JSON token body. Grounded on the
// XML-as-wire-format style used elsewhere in the retrieval pack
// (cklxx-elephant.ai uses encoding/xml for its own structured documents);
// the codec never pretty-prints, matching §4.1 exactly.
package envelope

import (
	"encoding/xml"
	"errors"
	"fmt"
)

// ErrMalformedEnvelope is returned when required XML or JSON fields are
// absent (§4.1, §7).
var ErrMalformedEnvelope = errors.New("envelope: malformed payload")

// Payload is the root XML document (§6).
type Payload struct {
	XMLName xml.Name    `xml:"payload"`
	Header  Header      `xml:"header"`
	Service Service     `xml:"service"`
	Join    JoinAttr    `xml:"joinAttribute"`
	Monitor MonitorData `xml:"monitorData"`
}

// Header carries scheduler and correlator metadata.
type Header struct {
	SequenceID            int64  `xml:"sequenceId"`
	RuleBaseVersion       string `xml:"ruleBaseVersion"`
	PrioritiseSID         bool   `xml:"priortiseSID"`
	MonitorIncomingEvents bool   `xml:"monitorIncomingEvents"`
	JoinID                *int64 `xml:"joinID,omitempty"`
}

// Service identifies the destination business service/operation.
type Service struct {
	ServiceName string `xml:"serviceName"`
	Operation   string `xml:"operation"`
}

// JoinAttr wraps the embedded JSON token body (§4.1, §4.5).
type JoinAttr struct {
	AttributeName  string `xml:"attributeName"`
	AttributeValue string `xml:"attributeValue"`
	NotAfter       int64  `xml:"notAfter"`
	Status         string `xml:"status"`
}

// MonitorData carries timing/provenance metadata.
type MonitorData struct {
	ProcessStartTime        int64  `xml:"processStartTime"`
	ProcessElapsedTime      int64  `xml:"processElapsedTime"`
	EventGeneratorTimestamp int64  `xml:"eventGeneratorTimestamp"`
	SourceEventGenerator    string `xml:"sourceEventGenerator"`
}

// BuildOpts are the inputs for building a wire envelope (§4.1).
type BuildOpts struct {
	ServiceName             string
	Operation               string
	SequenceID              int64
	RuleBaseVersion         string
	PrioritiseSID           bool
	MonitorIncomingEvents   bool
	JoinID                  *int64
	JoinAttrName            string // "token" or "token_branch{N}"
	TokenJSONBody           string // already-serialized JSON token
	NotAfter                int64
	ProcessStartTime        int64
	ProcessElapsedTime      int64
	SourceEventGeneratorID  string
	EventGeneratorTimestamp int64
}

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// Build produces the UTF-8 XML string described in §6. It never
// pretty-prints; the only whitespace is the structural newlines of the
// fixed tag layout below, matching §4.1's exact-structure requirement.
func Build(opts BuildOpts) (string, error) {
	if opts.ServiceName == "" || opts.JoinAttrName == "" {
		return "", fmt.Errorf("%w: serviceName and joinAttrName are required", ErrMalformedEnvelope)
	}

	joinIDTag := ""
	if opts.JoinID != nil {
		joinIDTag = fmt.Sprintf("\n    <joinID>%d</joinID>", *opts.JoinID)
	}

	status := "active"

	var buf []byte
	buf = append(buf, xmlHeader...)
	buf = append(buf, "<payload>\n"...)
	buf = append(buf, fmt.Sprintf(
		"  <header>\n    <sequenceId>%d</sequenceId>\n    <ruleBaseVersion>%s</ruleBaseVersion>\n    <priortiseSID>%t</priortiseSID>\n    <monitorIncomingEvents>%t</monitorIncomingEvents>%s\n  </header>\n",
		opts.SequenceID, escapeXML(opts.RuleBaseVersion), opts.PrioritiseSID, opts.MonitorIncomingEvents, joinIDTag)...)
	buf = append(buf, fmt.Sprintf(
		"  <service>\n    <serviceName>%s</serviceName>\n    <operation>%s</operation>\n  </service>\n",
		escapeXML(opts.ServiceName), escapeXML(opts.Operation))...)
	buf = append(buf, fmt.Sprintf(
		"  <joinAttribute>\n    <attributeName>%s</attributeName>\n    <attributeValue>%s</attributeValue>\n    <notAfter>%d</notAfter>\n    <status>%s</status>\n  </joinAttribute>\n",
		escapeXML(opts.JoinAttrName), escapeXML(opts.TokenJSONBody), opts.NotAfter, status)...)
	buf = append(buf, fmt.Sprintf(
		"  <monitorData>\n    <processStartTime>%d</processStartTime>\n    <processElapsedTime>%d</processElapsedTime>\n    <eventGeneratorTimestamp>%d</eventGeneratorTimestamp>\n    <sourceEventGenerator>%s</sourceEventGenerator>\n  </monitorData>\n",
		opts.ProcessStartTime, opts.ProcessElapsedTime, opts.EventGeneratorTimestamp, escapeXML(opts.SourceEventGeneratorID))...)
	buf = append(buf, "</payload>"...)

	return string(buf), nil
}

// Parse extracts a Payload from raw XML text (§4.1). It fails with
// ErrMalformedEnvelope if required fields are absent.
func Parse(raw string) (*Payload, error) {
	var p Payload
	if err := xml.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if p.Service.ServiceName == "" {
		return nil, fmt.Errorf("%w: missing service.serviceName", ErrMalformedEnvelope)
	}
	if p.Join.AttributeName == "" || p.Join.AttributeValue == "" {
		return nil, fmt.Errorf("%w: missing joinAttribute", ErrMalformedEnvelope)
	}
	return &p, nil
}

// escapeXML escapes the five characters unsafe inside XML text content
// (< > & " '), matching §4.1's escaping requirement. encoding/xml's
// EscapeText is avoided here so Build retains exact control over
// whitespace/structure. Unlike EscapeText, it leaves tab, newline and
// carriage return unescaped.
func escapeXML(s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		switch r {
		case '<':
			out = append(out, "&lt;"...)
		case '>':
			out = append(out, "&gt;"...)
		case '&':
			out = append(out, "&amp;"...)
		case '"':
			out = append(out, "&#34;"...)
		case '\'':
			out = append(out, "&#39;"...)
		default:
			out = append(out, string(r)...)
		}
	}
	return string(out)
}
