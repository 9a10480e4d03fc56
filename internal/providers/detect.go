package providers

import (
	"encoding/json"
	"strings"

	"github.com/costspent/llm-gateway/internal/db/models"
)

// Detect infers the target provider for an "auto" credential. Signals in
// priority order: model naming family, body shape, then path hints for GET
// requests with no body. Returns ok=false when no signal is decisive; the
// caller must answer 400, never pick a default.
func Detect(body []byte, path string) (string, bool) {
	var payload map[string]interface{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			payload = nil
		}
	}

	// (a) Model naming convention.
	model := ""
	if payload != nil {
		if m, ok := payload["model"].(string); ok {
			model = m
		}
	}
	if model == "" {
		model = modelFromPath(path)
	}
	if p, ok := detectByModel(model); ok {
		return p, true
	}

	// (b) Structural shape of the body.
	if payload != nil {
		if _, hasContents := payload["contents"]; hasContents {
			return models.ProviderGoogle, true
		}
		_, hasSystem := payload["system"]
		_, hasMessages := payload["messages"]
		if hasSystem && hasMessages {
			return models.ProviderAnthropic, true
		}
		if _, hasMaxTokensToSample := payload["max_tokens_to_sample"]; hasMaxTokensToSample {
			return models.ProviderAnthropic, true
		}
		// A bare messages array is the OpenAI chat shape only when nothing
		// Anthropic-specific is present and the model said nothing. Without a
		// model we cannot forward anyway, so require the field.
		if hasMessages && model != "" {
			return models.ProviderOpenAI, true
		}
	}

	// (c) Path hints, mostly for GET requests without a body.
	switch {
	case strings.Contains(path, "/chat/completions") || strings.Contains(path, "/completions"):
		return models.ProviderOpenAI, true
	case strings.Contains(path, "/messages"):
		return models.ProviderAnthropic, true
	case strings.Contains(path, ":generateContent") || strings.Contains(path, ":streamGenerateContent") || strings.Contains(path, "/v1beta/"):
		return models.ProviderGoogle, true
	}

	return "", false
}

func detectByModel(model string) (string, bool) {
	m := strings.ToLower(model)
	switch {
	case m == "":
		return "", false
	case strings.HasPrefix(m, "gpt-") || strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") ||
		strings.HasPrefix(m, "o4") || strings.HasPrefix(m, "chatgpt") || strings.HasPrefix(m, "text-embedding"):
		return models.ProviderOpenAI, true
	case strings.HasPrefix(m, "claude"):
		return models.ProviderAnthropic, true
	case strings.HasPrefix(m, "gemini") || strings.HasPrefix(m, "models/gemini"):
		return models.ProviderGoogle, true
	}
	return "", false
}
