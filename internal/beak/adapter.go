// Package beak transforms trace records into the downstream UI's document
// shape.
//
// The critical transformation is surfacing token metrics at the top level
// of outputs: the UI expects input_tokens, output_tokens, and total_tokens
// there for visualization rather than inside the operational metrics
// object.
package beak

import (
	"github.com/talon-obs/talon/internal/trace"
)

// DefaultCollection is the collection documents land in.
const DefaultCollection = "claude-code"

// DefaultFlow is the flow documents belong to.
const DefaultFlow = "conversations"

// Trace is the UI-compatible document.
type Trace struct {
	// ID is the shortened trace identifier (first 8 characters).
	ID string `json:"id"`

	Timestamp string `json:"timestamp"`

	// Collection is the collection name.
	Collection string `json:"collection"`

	// Flow is the flow identifier.
	Flow string `json:"flow"`

	// Inputs includes model context, session, and messages.
	Inputs map[string]any `json:"inputs"`

	// Outputs carries the response plus token, latency, and cost metrics
	// at top level.
	Outputs map[string]any `json:"outputs"`

	// Configuration holds model and sampling parameters.
	Configuration map[string]any `json:"configuration"`

	Labels []trace.Label `json:"labels"`
	Files  []string      `json:"files"`
}

// FromRecord converts a canonical trace record into the UI document.
func FromRecord(r *trace.Record) Trace {
	id := r.IDs.TraceID
	if len(id) > 8 {
		id = id[:8]
	}

	messages := make([]map[string]any, 0, len(r.Inputs.MessagesCompact))
	for _, msg := range r.Inputs.MessagesCompact {
		messages = append(messages, map[string]any{
			"role":    msg.Role,
			"content": msg.Content,
		})
	}

	retrievalItems := make([]map[string]any, 0, len(r.Inputs.RetrievalItems))
	for _, item := range r.Inputs.RetrievalItems {
		retrievalItems = append(retrievalItems, map[string]any{
			"id":          item.ID,
			"type":        item.Type,
			"score":       item.Score,
			"size_tokens": item.SizeTokens,
		})
	}

	toolCalls := make([]map[string]any, 0, len(r.Outputs.ToolCalls))
	for _, tc := range r.Outputs.ToolCalls {
		toolCalls = append(toolCalls, map[string]any{
			"name":   tc.Name,
			"args":   tc.Args,
			"status": tc.Status,
		})
	}

	inputs := map[string]any{
		"model":           r.Configuration.Model,
		"session_id":      r.IDs.SessionID,
		"conversation_id": r.IDs.ConversationID,
		"tool_name":       r.Inputs.Tool.Name,
		"tool_version":    r.Inputs.Tool.Version,
		"tool_args":       r.Inputs.Tool.Args,
		"messages":        messages,
		"retrieval_items": retrievalItems,
	}

	outputs := map[string]any{
		"response":         r.Outputs.AssistantText,
		"finish_reason":    r.Outputs.FinishReason,
		"truncated":        r.Outputs.Truncated,
		"tool_calls":       toolCalls,
		"input_tokens":     r.Metrics.PromptTokens,
		"output_tokens":    r.Metrics.CompletionTokens,
		"total_tokens":     r.Metrics.TotalTokens,
		"tokens_estimated": r.Metrics.TokenCountsEstimated,
		"latency_ms": map[string]any{
			"first_token": r.Metrics.LatencyMs.FirstToken,
			"provider":    r.Metrics.LatencyMs.Provider,
			"total":       r.Metrics.LatencyMs.Total,
		},
		"latency_estimated": r.Metrics.LatencyEstimated,
		"input_cost_usd":    r.Metrics.InputCostUSD,
		"output_cost_usd":   r.Metrics.OutputCostUSD,
		"total_cost_usd":    r.Metrics.TotalCostUSD,
		"quality_score":     r.Metrics.QualityScore,
	}

	configuration := map[string]any{
		"model":          r.Configuration.Model,
		"temperature":    r.Configuration.Temperature,
		"top_p":          r.Configuration.TopP,
		"top_k":          r.Configuration.TopK,
		"max_tokens":     r.Configuration.MaxTokens,
		"seed":           r.Configuration.Seed,
		"stop_sequences": r.Configuration.StopSequences,
	}

	labels := make([]trace.Label, len(r.Labels))
	copy(labels, r.Labels)

	return Trace{
		ID:            id,
		Timestamp:     r.Timestamp,
		Collection:    DefaultCollection,
		Flow:          DefaultFlow,
		Inputs:        inputs,
		Outputs:       outputs,
		Configuration: configuration,
		Labels:        labels,
		Files:         []string{},
	}
}
