package guardrail

// The three provider wire formats carry human-authored text in different
// places. One walker covers them all by visiting:
//   - a top-level "system" field (Anthropic): string or []{type:"text",text}
//   - a "messages" array (OpenAI/Anthropic): string content or text blocks
//   - "contents"/"systemInstruction" (Google): parts[].text
// The same walk is used for read-only extraction and in-place masking, so the
// body that goes upstream and the text that was checked can never diverge.

// visitTexts applies fn to every human-authored text field in the payload.
// When fn returns a different string the payload is modified in place.
// Returns true if any field was changed.
func visitTexts(payload map[string]interface{}, fn func(string) string) bool {
	modified := false

	apply := func(holder map[string]interface{}, key string) {
		if s, ok := holder[key].(string); ok {
			if out := fn(s); out != s {
				holder[key] = out
				modified = true
			}
		}
	}

	visitBlocks := func(blocks []interface{}) {
		for _, b := range blocks {
			if block, ok := b.(map[string]interface{}); ok {
				apply(block, "text")
			}
		}
	}

	// Anthropic top-level system prompt: string or block array.
	if _, ok := payload["system"].(string); ok {
		apply(payload, "system")
	} else if blocks, ok := payload["system"].([]interface{}); ok {
		visitBlocks(blocks)
	}

	// OpenAI / Anthropic messages.
	if messages, ok := payload["messages"].([]interface{}); ok {
		for _, m := range messages {
			msg, ok := m.(map[string]interface{})
			if !ok {
				continue
			}
			if _, ok := msg["content"].(string); ok {
				apply(msg, "content")
			} else if blocks, ok := msg["content"].([]interface{}); ok {
				visitBlocks(blocks)
			}
		}
	}

	// Google contents / systemInstruction, both parts-based.
	visitParts := func(value interface{}) {
		entry, ok := value.(map[string]interface{})
		if !ok {
			return
		}
		if parts, ok := entry["parts"].([]interface{}); ok {
			visitBlocks(parts)
		}
	}
	if contents, ok := payload["contents"].([]interface{}); ok {
		for _, c := range contents {
			visitParts(c)
		}
	}
	visitParts(payload["systemInstruction"])

	return modified
}

// extractTexts collects every human-authored text field without modifying
// the payload.
func extractTexts(payload map[string]interface{}) []string {
	var texts []string
	visitTexts(payload, func(s string) string {
		texts = append(texts, s)
		return s
	})
	return texts
}
