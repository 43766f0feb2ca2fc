package tap

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/talon-obs/talon/internal/trace"
)

func decodeFrame(t *testing.T, raw string) any {
	t.Helper()
	var frame any
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return frame
}

func TestFromFrameFastPath(t *testing.T) {
	frame := decodeFrame(t, `{
		"schema_version": "trace/v1",
		"ids": {"trace_id": "abc", "session_id": "s1", "conversation_id": ""},
		"event": "model.end",
		"timestamp": "2025-11-13T10:30:00Z",
		"metrics": {"prompt_tokens": 1000, "completion_tokens": 150, "total_tokens": 1150}
	}`)

	rec, err := FromFrame(frame)
	if err != nil {
		t.Fatalf("FromFrame failed: %v", err)
	}

	if rec.Event != "model.end" {
		t.Fatalf("expected event model.end, got %q", rec.Event)
	}
	if rec.IDs.TraceID != "abc" || rec.IDs.SessionID != "s1" {
		t.Fatalf("unexpected ids: %+v", rec.IDs)
	}
	if rec.Timestamp != "2025-11-13T10:30:00Z" {
		t.Fatalf("unexpected timestamp: %q", rec.Timestamp)
	}
	if rec.Metrics.PromptTokens != 1000 || rec.Metrics.CompletionTokens != 150 || rec.Metrics.TotalTokens != 1150 {
		t.Fatalf("unexpected metrics: %+v", rec.Metrics)
	}
	if _, ok := rec.Extensions[trace.RawExtensionKey]; !ok {
		t.Fatal("expected tap.raw in extensions")
	}
}

func TestFromFrameFastPathInvalidStructure(t *testing.T) {
	frame := decodeFrame(t, `{"schema_version": "trace/v1", "ids": "not-an-object"}`)

	_, err := FromFrame(frame)
	if err == nil {
		t.Fatal("expected error for invalid ids structure")
	}
}

func TestFromFrameLegacyMapping(t *testing.T) {
	frame := decodeFrame(t, `{
		"event": "PostToolUse",
		"ts": "2025-11-13T10:30:00Z",
		"env": {"host": "h", "pid": 7, "session_id": "s"},
		"payload": {
			"model": "m",
			"temperature": 0.7,
			"usage": {"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12}
		},
		"plugin": "p",
		"version": "1.0"
	}`)

	rec, err := FromFrame(frame)
	if err != nil {
		t.Fatalf("FromFrame failed: %v", err)
	}

	if rec.Event != trace.EventToolPost {
		t.Fatalf("expected event tool.post, got %q", rec.Event)
	}
	if rec.Context.Plugin != "p" || rec.Context.PluginVersion != "1.0" {
		t.Fatalf("unexpected context: %+v", rec.Context)
	}
	if rec.Context.Host != "h" || rec.Context.PID != 7 {
		t.Fatalf("unexpected env mapping: %+v", rec.Context)
	}
	if rec.IDs.SessionID != "s" {
		t.Fatalf("expected session_id s, got %q", rec.IDs.SessionID)
	}
	if rec.Configuration.Model != "m" {
		t.Fatalf("expected model m, got %q", rec.Configuration.Model)
	}
	if math.Abs(float64(rec.Configuration.Temperature)-0.7) > 0.001 {
		t.Fatalf("expected temperature 0.7, got %v", rec.Configuration.Temperature)
	}
	if rec.Metrics.TotalTokens != 12 {
		t.Fatalf("expected metrics total 12, got %d", rec.Metrics.TotalTokens)
	}
	if rec.Outputs.TotalTokens != 12 {
		t.Fatalf("expected outputs total 12, got %d", rec.Outputs.TotalTokens)
	}

	raw, ok := rec.Extensions[trace.RawExtensionKey].(map[string]any)
	if !ok {
		t.Fatal("expected tap.raw object in extensions")
	}
	if raw["model"] != "m" {
		t.Fatalf("tap.raw should be the original payload, got %v", raw)
	}
	if _, enriched := raw["finish_reason"]; enriched {
		t.Fatal("tap.raw must not carry enrichment mutations")
	}
}

func TestFromFrameLegacyDefaults(t *testing.T) {
	rec, err := FromFrame(decodeFrame(t, `{}`))
	if err != nil {
		t.Fatalf("FromFrame failed: %v", err)
	}

	if rec.Event != trace.EventUnknown {
		t.Fatalf("expected unknown event, got %q", rec.Event)
	}
	if rec.Context.Plugin != "beak" {
		t.Fatalf("expected default plugin beak, got %q", rec.Context.Plugin)
	}
	if rec.Timestamp != "" {
		t.Fatalf("expected empty timestamp, got %q", rec.Timestamp)
	}

	raw, ok := rec.Extensions[trace.RawExtensionKey].(map[string]any)
	if !ok || len(raw) != 0 {
		t.Fatalf("expected empty tap.raw object, got %v", rec.Extensions[trace.RawExtensionKey])
	}
}

func TestFromFrameNonObjectInput(t *testing.T) {
	rec, err := FromFrame(decodeFrame(t, `[1, 2, 3]`))
	if err != nil {
		t.Fatalf("legacy path must be infallible, got %v", err)
	}
	if rec.Event != trace.EventUnknown {
		t.Fatalf("expected unknown event, got %q", rec.Event)
	}
}

func TestNormalizeEvent(t *testing.T) {
	cases := map[string]string{
		"PostToolUse":   "tool.post",
		"tool.post":     "tool.post",
		"ModelEnd":      "model.end",
		"model.end":     "model.end",
		"SessionStart":  "session.start",
		"session.start": "session.start",
		"SessionEnd":    "session.end",
		"session.end":   "session.end",
		"SomethingElse": "unknown",
		"":              "unknown",
	}
	for in, want := range cases {
		if got := normalizeEvent(in); got != want {
			t.Fatalf("normalizeEvent(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAsU32Saturates(t *testing.T) {
	if got := asU32Sat(float64(uint64(1) << 33)); got != math.MaxUint32 {
		t.Fatalf("expected saturation to MaxUint32, got %d", got)
	}
	if got := asU32Sat(float64(-5)); got != 0 {
		t.Fatalf("expected negative to clamp to 0, got %d", got)
	}
	if got := asU32Sat("7"); got != 0 {
		t.Fatalf("expected non-number to be 0, got %d", got)
	}
	if got := asU32Sat(float64(42)); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestLegacyPIDSaturates(t *testing.T) {
	frame := decodeFrame(t, `{"env": {"pid": 99999999999}}`)
	rec, err := FromFrame(frame)
	if err != nil {
		t.Fatalf("FromFrame failed: %v", err)
	}
	if rec.Context.PID != math.MaxUint32 {
		t.Fatalf("expected saturated pid, got %d", rec.Context.PID)
	}
}

func TestTimestampCascadePrefersFrame(t *testing.T) {
	frame := decodeFrame(t, `{
		"ts": "2025-01-01T00:00:00Z",
		"payload": {"timestamp": "2025-12-31T23:59:59Z"}
	}`)
	rec, err := FromFrame(frame)
	if err != nil {
		t.Fatalf("FromFrame failed: %v", err)
	}
	if rec.Timestamp != "2025-01-01T00:00:00Z" {
		t.Fatalf("frame ts should win, got %q", rec.Timestamp)
	}
}

func TestLatencyExtraction(t *testing.T) {
	frame := decodeFrame(t, `{
		"payload": {
			"latency_ms": {"first_token": 100, "provider": 800, "total": 1000},
			"latency_estimated": true
		}
	}`)
	rec, err := FromFrame(frame)
	if err != nil {
		t.Fatalf("FromFrame failed: %v", err)
	}
	if rec.Metrics.LatencyMs.FirstToken != 100 || rec.Metrics.LatencyMs.Provider != 800 || rec.Metrics.LatencyMs.Total != 1000 {
		t.Fatalf("unexpected latency: %+v", rec.Metrics.LatencyMs)
	}
	if !rec.Metrics.LatencyEstimated {
		t.Fatal("expected latency_estimated true")
	}
}

func TestLatencyEstimatedNestedFallback(t *testing.T) {
	frame := decodeFrame(t, `{
		"payload": {"latency_ms": {"total": 5, "latency_estimated": true}}
	}`)
	rec, err := FromFrame(frame)
	if err != nil {
		t.Fatalf("FromFrame failed: %v", err)
	}
	if !rec.Metrics.LatencyEstimated {
		t.Fatal("expected nested latency_estimated to apply")
	}
}

func TestToolExtraction(t *testing.T) {
	frame := decodeFrame(t, `{
		"event": "PostToolUse",
		"payload": {
			"tool_name": "Bash",
			"tool_version": "2.0",
			"tool_input": {"command": "ls"},
			"tool_response": "ok"
		}
	}`)
	rec, err := FromFrame(frame)
	if err != nil {
		t.Fatalf("FromFrame failed: %v", err)
	}
	if rec.Inputs.Tool.Name != "Bash" || rec.Inputs.Tool.Version != "2.0" {
		t.Fatalf("unexpected tool: %+v", rec.Inputs.Tool)
	}
	args, ok := rec.Inputs.Tool.Args.(map[string]any)
	if !ok || args["command"] != "ls" {
		t.Fatalf("unexpected tool args: %v", rec.Inputs.Tool.Args)
	}
	if rec.Outputs.AssistantText != "ok" {
		t.Fatalf("expected tool_response in assistant_text, got %q", rec.Outputs.AssistantText)
	}
}
