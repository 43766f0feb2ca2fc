package trace

import (
	"sort"
	"strings"
)

// Canonicalize normalizes a record in place prior to serialization:
// trims identifier and event strings, applies defaults for schema version
// and plugin, orders labels, and guarantees a non-nil extensions object.
func Canonicalize(r *Record) {
	if r.SchemaVersion == "" {
		r.SchemaVersion = SchemaVersion
	}

	r.Event = strings.TrimSpace(r.Event)
	if r.Event == "" {
		r.Event = EventUnknown
	}
	r.Timestamp = strings.TrimSpace(r.Timestamp)

	r.IDs.TraceID = strings.TrimSpace(r.IDs.TraceID)
	r.IDs.SessionID = strings.TrimSpace(r.IDs.SessionID)
	r.IDs.ConversationID = strings.TrimSpace(r.IDs.ConversationID)

	r.Context.Plugin = strings.TrimSpace(r.Context.Plugin)
	if r.Context.Plugin == "" {
		r.Context.Plugin = "beak"
	}
	r.Context.PluginVersion = strings.TrimSpace(r.Context.PluginVersion)
	r.Context.Host = strings.TrimSpace(r.Context.Host)

	for i := range r.Labels {
		r.Labels[i].Key = strings.TrimSpace(r.Labels[i].Key)
		r.Labels[i].Value = strings.TrimSpace(r.Labels[i].Value)
	}
	sort.SliceStable(r.Labels, func(i, j int) bool {
		if r.Labels[i].Key != r.Labels[j].Key {
			return r.Labels[i].Key < r.Labels[j].Key
		}
		return r.Labels[i].Value < r.Labels[j].Value
	})

	// Collections serialize as [] rather than null.
	if r.Configuration.StopSequences == nil {
		r.Configuration.StopSequences = []string{}
	}
	if r.Inputs.MessagesCompact == nil {
		r.Inputs.MessagesCompact = []Message{}
	}
	if r.Inputs.RetrievalItems == nil {
		r.Inputs.RetrievalItems = []RetrievalItem{}
	}
	if r.Outputs.ToolCalls == nil {
		r.Outputs.ToolCalls = []ToolCall{}
	}
	if r.Labels == nil {
		r.Labels = []Label{}
	}
	if r.Extensions == nil {
		r.Extensions = map[string]any{}
	}
}
