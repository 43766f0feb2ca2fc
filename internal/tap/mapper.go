// Package tap maps frames emitted by instrumented hosts into canonical
// trace records.
//
// Two input shapes are recognized:
//  1. Canonical: pre-formed trace records, detected via the schema_version
//     and ids fields, deserialized directly.
//  2. Legacy: the tap wrapper format {event, ts, env, payload, plugin,
//     version}, extracted field by field with zero-valued defaults.
//
// The legacy surface is dynamic JSON by design; extraction combines key
// lookups with type coercion rather than materializing a typed DTO.
package tap

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/talon-obs/talon/internal/trace"
)

// FromFrame transforms a decoded tap frame into a trace record.
//
// Structural failure on the canonical path returns an error suitable for
// quarantine. The legacy path is infallible: it always produces a record,
// applying defaults for anything missing.
func FromFrame(frame any) (*trace.Record, error) {
	if m, ok := frame.(map[string]any); ok {
		if _, hasSchema := m["schema_version"]; hasSchema {
			if _, hasIDs := m["ids"]; hasIDs {
				return fromCanonical(frame)
			}
		}
	}
	return fromLegacy(frame), nil
}

func fromCanonical(frame any) (*trace.Record, error) {
	raw, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("trace record encode: %w", err)
	}
	var rec trace.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("trace record parse: %w", err)
	}
	if rec.Extensions == nil {
		rec.Extensions = map[string]any{}
	}
	rec.Extensions[trace.RawExtensionKey] = frame
	return &rec, nil
}

func fromLegacy(frame any) *trace.Record {
	event := getString(frame, "event")
	if event == "" {
		event = trace.EventUnknown
	}
	ts := getString(frame, "ts")
	env := getObject(frame, "env")
	rawPayload := getObject(frame, "payload")

	// Work on a copy so the original payload survives for the audit trail.
	payload := make(map[string]any, len(rawPayload)+4)
	for k, v := range rawPayload {
		payload[k] = v
	}

	var latest map[string]any
	if path := getString(payload, "transcript_path"); path != "" {
		if entry, ok := latestAssistantEntry(path); ok {
			latest = entry
			enrichFromTranscript(payload, entry)
		}
	}

	// Timestamp cascade: frame ts, then enriched payload, then empty.
	timestamp := ts
	if timestamp == "" {
		timestamp = getString(payload, "timestamp")
	}

	rec := &trace.Record{
		SchemaVersion: trace.SchemaVersion,
		Event:         normalizeEvent(event),
		Timestamp:     timestamp,
	}

	rec.Context.Plugin = getString(frame, "plugin")
	if rec.Context.Plugin == "" {
		rec.Context.Plugin = "beak"
	}
	rec.Context.PluginVersion = getString(frame, "version")
	rec.Context.Host = getString(env, "host")
	if pid, ok := lookup(env, "pid"); ok {
		rec.Context.PID = asU32Sat(pid)
	}
	rec.IDs.SessionID = getString(env, "session_id")

	if latest != nil {
		rec.IDs.ConversationID = getString(getObject(latest, "message"), "id")
	}

	rec.Configuration.Model = getString(payload, "model")
	rec.Configuration.Temperature = asF32(payload["temperature"])
	rec.Configuration.TopP = asF32(payload["top_p"])
	rec.Configuration.TopK = asU32Sat(payload["top_k"])
	rec.Configuration.MaxTokens = asU32Sat(payload["max_tokens"])

	rec.Inputs.Tool.Name = getString(payload, "tool_name")
	rec.Inputs.Tool.Version = getString(payload, "tool_version")
	if args, ok := lookup(payload, "tool_input"); ok {
		rec.Inputs.Tool.Args = args
	}

	rec.Outputs.AssistantText = getString(payload, "tool_response")
	rec.Outputs.FinishReason = getString(payload, "finish_reason")

	// Usage feeds both metrics (operational) and outputs (UI-visible).
	if usage := getObject(payload, "usage"); usage != nil {
		promptTokens := asU32Sat(usage["prompt_tokens"])
		completionTokens := asU32Sat(usage["completion_tokens"])
		totalTokens := asU32Sat(usage["total_tokens"])
		estimated := asBool(usage["token_counts_estimated"])

		rec.Metrics.PromptTokens = promptTokens
		rec.Metrics.CompletionTokens = completionTokens
		rec.Metrics.TotalTokens = totalTokens
		rec.Metrics.TokenCountsEstimated = estimated

		rec.Outputs.InputTokens = promptTokens
		rec.Outputs.OutputTokens = completionTokens
		rec.Outputs.TotalTokens = totalTokens
		rec.Outputs.TokensEstimated = estimated
	}

	if latency := getObject(payload, "latency_ms"); latency != nil {
		rec.Metrics.LatencyMs.FirstToken = asU32Sat(latency["first_token"])
		rec.Metrics.LatencyMs.Provider = asU32Sat(latency["provider"])
		rec.Metrics.LatencyMs.Total = asU32Sat(latency["total"])
	}

	// latency_estimated lives at payload level, with a fallback to the
	// nested location some producers still use.
	if v, ok := lookup(payload, "latency_estimated"); ok {
		rec.Metrics.LatencyEstimated = asBool(v)
	} else if latency := getObject(payload, "latency_ms"); latency != nil {
		rec.Metrics.LatencyEstimated = asBool(latency["latency_estimated"])
	}

	rec.Extensions = map[string]any{trace.RawExtensionKey: anyPayload(rawPayload)}
	return rec
}

// anyPayload keeps a nil payload serializing as {} rather than null.
func anyPayload(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func normalizeEvent(e string) string {
	switch e {
	case "PostToolUse", trace.EventToolPost:
		return trace.EventToolPost
	case "ModelEnd", trace.EventModelEnd:
		return trace.EventModelEnd
	case "SessionStart", trace.EventSessionStart:
		return trace.EventSessionStart
	case "SessionEnd", trace.EventSessionEnd:
		return trace.EventSessionEnd
	default:
		return trace.EventUnknown
	}
}

func lookup(v any, key string) (any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	val, ok := m[key]
	return val, ok
}

func getObject(v any, key string) map[string]any {
	val, _ := lookup(v, key)
	m, _ := val.(map[string]any)
	return m
}

func getString(v any, key string) string {
	val, _ := lookup(v, key)
	s, _ := val.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asF32(v any) float32 {
	f, _ := v.(float64)
	return float32(f)
}

// asU32Sat coerces a JSON number to uint32, saturating at MaxUint32 and
// clamping negatives and non-numbers to 0. Saturation prevents silent
// wraparound when token counts or latencies exceed 4,294,967,295.
func asU32Sat(v any) uint32 {
	f, ok := v.(float64)
	if !ok || f < 0 || math.IsNaN(f) {
		return 0
	}
	if f > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(f)
}

// asU64Sat coerces a JSON number to uint64 with the same clamping policy.
func asU64Sat(v any) uint64 {
	f, ok := v.(float64)
	if !ok || f < 0 || math.IsNaN(f) {
		return 0
	}
	if f >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(f)
}
