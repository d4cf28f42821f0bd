package provider

import "strings"

// Normalized stop reasons.
const (
	StopReasonStop          = "stop"
	StopReasonLength        = "length"
	StopReasonToolCalls     = "tool_calls"
	StopReasonContentFilter = "content_filter"
	StopReasonAbort         = "abort"
	StopReasonUnknown       = "unknown"
)

// NormalizeStopReason maps vendor finish reasons onto the shared vocabulary. Unrecognized
// reasons pass through lowercased; an empty reason is "unknown".
func NormalizeStopReason(raw string) string {
	r := strings.ToLower(strings.TrimSpace(raw))
	switch r {
	case "":
		return StopReasonUnknown
	case "end_turn", "stop", "stop_sequence":
		return StopReasonStop
	case "max_tokens", "length":
		return StopReasonLength
	case "tool_use", "tool_calls", "function_call":
		return StopReasonToolCalls
	case "content_filter", "safety", "refusal", "prohibited_content", "blocklist", "spii":
		return StopReasonContentFilter
	default:
		return r
	}
}
