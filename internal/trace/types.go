// Package trace defines the canonical trace record emitted to the collector.
package trace

import (
	"encoding/json"
)

// SchemaVersion is the current trace record format version.
const SchemaVersion = "trace/v1"

// Known event types. Anything else normalizes to EventUnknown.
const (
	EventToolPost     = "tool.post"
	EventModelEnd     = "model.end"
	EventSessionStart = "session.start"
	EventSessionEnd   = "session.end"
	EventUnknown      = "unknown"
)

// IDs contains the correlation identifiers for a trace record.
type IDs struct {
	// TraceID is the unique identifier for this trace.
	TraceID string `json:"trace_id"`

	// SessionID is the originating session identifier.
	SessionID string `json:"session_id"`

	// ConversationID is the provider-side conversation/message identifier.
	ConversationID string `json:"conversation_id"`
}

// Context describes the emitting plugin and host environment.
type Context struct {
	// Plugin is the emitting plugin name (defaults to "beak").
	Plugin string `json:"plugin"`

	// PluginVersion is the emitting plugin version.
	PluginVersion string `json:"plugin_version"`

	// Host is the machine hostname.
	Host string `json:"host"`

	// PID is the emitting process id.
	PID uint32 `json:"pid"`
}

// Configuration captures model and sampling parameters.
// Parameters that were not captured are left at zero to indicate missing data.
type Configuration struct {
	Model         string   `json:"model"`
	Temperature   float32  `json:"temperature"`
	TopP          float32  `json:"top_p"`
	TopK          uint32   `json:"top_k"`
	MaxTokens     uint32   `json:"max_tokens"`
	Seed          uint64   `json:"seed"`
	StopSequences []string `json:"stop_sequences"`
}

// Tool describes the invoked tool and its arguments.
type Tool struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Args    any    `json:"args"`
}

// Message is a compact role/content pair.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RetrievalItem describes one retrieved context item.
type RetrievalItem struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Score      float32 `json:"score"`
	SizeTokens uint32  `json:"size_tokens"`
}

// Inputs holds everything that went into the model/tool interaction.
type Inputs struct {
	Tool            Tool            `json:"tool"`
	MessagesCompact []Message       `json:"messages_compact"`
	RetrievalItems  []RetrievalItem `json:"retrieval_items"`
}

// ToolCall is a tool invocation reported by the model.
type ToolCall struct {
	Name   string `json:"name"`
	Args   any    `json:"args"`
	Status string `json:"status"`
}

// Outputs holds the UI-visible results of the interaction.
// Token counts are duplicated here from Metrics so the downstream UI can
// read them without reaching into the operational metrics object.
type Outputs struct {
	AssistantText   string     `json:"assistant_text"`
	FinishReason    string     `json:"finish_reason"`
	Truncated       bool       `json:"truncated"`
	ToolCalls       []ToolCall `json:"tool_calls"`
	InputTokens     uint32     `json:"input_tokens"`
	OutputTokens    uint32     `json:"output_tokens"`
	TotalTokens     uint32     `json:"total_tokens"`
	TokensEstimated bool       `json:"tokens_estimated"`
}

// Latency is the per-phase latency decomposition in milliseconds.
type Latency struct {
	FirstToken uint32 `json:"first_token"`
	Provider   uint32 `json:"provider"`
	Total      uint32 `json:"total"`
}

// Metrics holds the operational token, latency, and cost measurements.
type Metrics struct {
	PromptTokens         uint32  `json:"prompt_tokens"`
	CompletionTokens     uint32  `json:"completion_tokens"`
	TotalTokens          uint32  `json:"total_tokens"`
	TokenCountsEstimated bool    `json:"token_counts_estimated"`
	LatencyMs            Latency `json:"latency_ms"`
	LatencyEstimated     bool    `json:"latency_estimated"`
	InputCostUSD         float32 `json:"input_cost_usd"`
	OutputCostUSD        float32 `json:"output_cost_usd"`
	TotalCostUSD         float32 `json:"total_cost_usd"`
	QualityScore         float32 `json:"quality_score"`
}

// Label is a key/value pair for filtering and grouping.
type Label struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Record is the canonical, collector-facing trace record.
//
// RawExtensionKey ("tap.raw") in Extensions always carries the original,
// untransformed input so downstream systems can audit the mapping.
type Record struct {
	// SchemaVersion is the record format version: "trace/v1" for legacy-path
	// records and whenever it is empty; canonical-path records keep the
	// frame's value.
	SchemaVersion string `json:"schema_version"`

	// Event is the normalized event type.
	Event string `json:"event"`

	// Timestamp is the ISO-8601 event time; empty when unknown.
	Timestamp string `json:"timestamp"`

	IDs           IDs           `json:"ids"`
	Context       Context       `json:"context"`
	Configuration Configuration `json:"configuration"`
	Inputs        Inputs        `json:"inputs"`
	Outputs       Outputs       `json:"outputs"`
	Metrics       Metrics       `json:"metrics"`
	Labels        []Label       `json:"labels"`

	// Extensions is an open object for data outside the fixed schema.
	Extensions map[string]any `json:"extensions"`
}

// RawExtensionKey is the Extensions key carrying the original input.
const RawExtensionKey = "tap.raw"

// MarshalJSONL marshals the record to a JSONL line (no trailing newline).
func (r *Record) MarshalJSONL() ([]byte, error) {
	return json.Marshal(r)
}
