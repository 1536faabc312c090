// Package agent – interpret.go decodes the model's reply: finish-reason
// policy, best-effort repair of length-truncated JSON, permissive extraction
// of an embedded object from chattier replies, and the raw-text fallback.
package agent

import (
	"encoding/json"
	"strings"
)

// OutcomeKind classifies an interpreted model reply.
type OutcomeKind int

const (
	// OutcomeFinal is a decoded answer: informational, or a command proposal.
	OutcomeFinal OutcomeKind = iota
	// OutcomeToolCalls is a batch of tool invocations; no answer is surfaced
	// to the user this cycle.
	OutcomeToolCalls
	// OutcomeRejected is a content-filtered reply; the payload is discarded.
	OutcomeRejected
)

// Outcome is the interpreted result of one model reply.
type Outcome struct {
	Kind      OutcomeKind
	Reply     Reply
	ToolCalls []ToolCall
}

// rejectionInfo replaces content-filtered payloads.
const rejectionInfo = "The model declined to answer this request (content filtered). Try rephrasing."

// Interpret decodes a model response according to its finish reason.
func Interpret(resp *Response) Outcome {
	switch resp.FinishReason {
	case "tool_calls", "tool_use":
		return Outcome{Kind: OutcomeToolCalls, ToolCalls: resp.ToolCalls}
	case "content_filter":
		return Outcome{Kind: OutcomeRejected, Reply: Reply{Info: rejectionInfo}}
	case "length":
		if repaired, ok := RepairJSON(extractJSONBlock(resp.Content)); ok {
			if reply, ok := decodeReply(repaired); ok {
				return Outcome{Kind: OutcomeFinal, Reply: reply}
			}
		}
		return Outcome{Kind: OutcomeFinal, Reply: Reply{Info: resp.Content}}
	default:
		// Some providers put tool calls under a plain stop reason.
		if len(resp.ToolCalls) > 0 {
			return Outcome{Kind: OutcomeToolCalls, ToolCalls: resp.ToolCalls}
		}
		if reply, ok := decodeReply(extractJSONBlock(resp.Content)); ok {
			return Outcome{Kind: OutcomeFinal, Reply: reply}
		}
		return Outcome{Kind: OutcomeFinal, Reply: Reply{Info: resp.Content}}
	}
}

// decodeReply parses text as a {info, cmd} object. A zero-length cmd is
// treated as absent. Returns false when the text is not such an object.
func decodeReply(text string) (Reply, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") {
		return Reply{}, false
	}

	var reply Reply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return Reply{}, false
	}
	if reply.Info == "" && reply.Cmd == "" {
		return Reply{}, false
	}
	return reply, true
}

// extractJSONBlock returns the first balanced {...} block in a chattier
// reply, so "Sure! {\"cmd\": ...} Hope that helps" still parses. Braces
// inside string literals do not count. An unterminated block is returned
// from its opening brace onward for the repair pass; input without any
// block is returned unchanged.
func extractJSONBlock(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return s
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString:
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}

// RepairJSON applies a bounded heuristic to a length-truncated object:
//
//	(a) a trailing lone backslash is doubled so it cannot escape the closer;
//	(b) if the text does not end with a closing brace, append a quote and a
//	    brace (the common mid-string truncation);
//	(c) closing braces are appended until counts balance;
//	(d) an odd number of double quotes gets a final quote appended.
//
// Already-valid objects are returned unchanged. The repair does not handle
// every truncation shape; ok is false when the result still fails to parse,
// and callers degrade to wrapping the raw text.
func RepairJSON(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || !strings.HasPrefix(s, "{") {
		return raw, false
	}
	if json.Valid([]byte(s)) {
		return s, true
	}

	if n := trailingBackslashes(s); n%2 == 1 {
		s += `\`
	}
	if !strings.HasSuffix(s, "}") {
		s += `"}`
	}
	for opens, closes := strings.Count(s, "{"), strings.Count(s, "}"); opens > closes; closes++ {
		s += "}"
	}
	if strings.Count(s, `"`)%2 == 1 {
		s += `"`
	}

	if !json.Valid([]byte(s)) {
		return raw, false
	}
	return s, true
}

// trailingBackslashes counts the run of backslashes at the end of s.
func trailingBackslashes(s string) int {
	n := 0
	for i := len(s) - 1; i >= 0 && s[i] == '\\'; i-- {
		n++
	}
	return n
}
