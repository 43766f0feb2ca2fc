package tap

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// expandPath expands a leading ~/ to the user's home directory.
// Returns the path unchanged if the home directory cannot be determined.
func expandPath(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}

// latestAssistantEntry scans a transcript JSONL file and returns the last
// entry whose type is "assistant" and whose message carries usage data.
// Lines that fail to parse are skipped without aborting the scan; a read
// error from the file ends the scan, keeping the latest match found so far.
func latestAssistantEntry(transcriptPath string) (map[string]any, bool) {
	f, err := os.Open(expandPath(transcriptPath))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var latest map[string]any
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			var entry map[string]any
			if json.Unmarshal([]byte(line), &entry) == nil &&
				getString(entry, "type") == "assistant" {
				if msg := getObject(entry, "message"); msg != nil {
					if _, ok := msg["usage"]; ok {
						latest = entry
					}
				}
			}
		}
		if err != nil {
			break
		}
	}

	if latest == nil {
		return nil, false
	}
	return latest, true
}

// enrichFromTranscript augments a working copy of the legacy payload with
// data from the latest assistant entry: model, aggregated usage,
// finish_reason, and a timestamp when the payload lacks one.
//
// The provider reports cache-creation and cache-read tokens separately;
// downstream systems expect a single vendor-neutral prompt-token count:
//
//	prompt_tokens = input_tokens + cache_creation + cache_read
//	completion_tokens = output_tokens
//	total_tokens = prompt_tokens + completion_tokens
func enrichFromTranscript(payload map[string]any, entry map[string]any) {
	msg := getObject(entry, "message")
	if msg == nil {
		return
	}

	if model, ok := msg["model"]; ok {
		payload["model"] = model
	}

	if usage := getObject(msg, "usage"); usage != nil {
		inputTokens := asU64Sat(usage["input_tokens"])
		cacheCreation := asU64Sat(usage["cache_creation_input_tokens"])
		cacheRead := asU64Sat(usage["cache_read_input_tokens"])
		outputTokens := asU64Sat(usage["output_tokens"])

		promptTokens := inputTokens + cacheCreation + cacheRead
		payload["usage"] = map[string]any{
			"prompt_tokens":          float64(promptTokens),
			"completion_tokens":      float64(outputTokens),
			"total_tokens":           float64(promptTokens + outputTokens),
			"token_counts_estimated": false,
		}
	}

	if stopReason, ok := msg["stop_reason"]; ok {
		payload["finish_reason"] = stopReason
	}

	if _, ok := payload["timestamp"]; !ok {
		if ts, ok := entry["timestamp"]; ok {
			payload["timestamp"] = ts
		}
	}
}
