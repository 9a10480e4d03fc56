// Package providers knows the three upstream wire formats: how to tell them
// apart, where the model name lives, and how each reports token usage.
// Everything here is a pure function over the request/response bytes; the
// forwarder and guardrails stay provider-agnostic.
package providers

import (
	"encoding/json"
	"strings"

	"github.com/costspent/llm-gateway/internal/db/models"
	openai "github.com/sashabaranov/go-openai"
)

// BaseURL returns the upstream API root for a provider.
func BaseURL(provider string) string {
	switch provider {
	case models.ProviderOpenAI:
		return "https://api.openai.com"
	case models.ProviderAnthropic:
		return "https://api.anthropic.com"
	case models.ProviderGoogle:
		return "https://generativelanguage.googleapis.com"
	}
	return ""
}

// ExtractModel pulls the requested model from the body's "model" field, or
// for Google from the path segment ".../models/<model>:<op>".
func ExtractModel(body []byte, path string) string {
	var payload struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Model != "" {
		return payload.Model
	}
	return modelFromPath(path)
}

func modelFromPath(path string) string {
	idx := strings.Index(path, "/models/")
	if idx < 0 {
		return ""
	}
	rest := path[idx+len("/models/"):]
	if colon := strings.Index(rest, ":"); colon >= 0 {
		rest = rest[:colon]
	}
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

// SetModel rewrites the model in the body (OpenAI/Anthropic) or the path
// (Google) and returns the updated pair. Bodies without a model field are
// returned unchanged.
func SetModel(body []byte, path, provider, model string) ([]byte, string) {
	if provider == models.ProviderGoogle && modelFromPath(path) != "" {
		return body, strings.Replace(path, "/models/"+modelFromPath(path), "/models/"+model, 1)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return body, path
	}
	if _, ok := payload["model"]; !ok {
		return body, path
	}
	payload["model"] = model
	updated, err := json.Marshal(payload)
	if err != nil {
		return body, path
	}
	return updated, path
}

// Usage is the provider-agnostic token accounting for one exchange.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ParseUsage extracts token counts from a provider response body. ok is false
// when the provider omitted usage metadata and the caller should estimate.
func ParseUsage(provider string, respBody []byte) (Usage, bool) {
	switch provider {
	case models.ProviderOpenAI:
		var r struct {
			Usage openai.Usage `json:"usage"`
		}
		if err := json.Unmarshal(respBody, &r); err != nil {
			return Usage{}, false
		}
		if r.Usage.PromptTokens == 0 && r.Usage.CompletionTokens == 0 {
			return Usage{}, false
		}
		return Usage{InputTokens: r.Usage.PromptTokens, OutputTokens: r.Usage.CompletionTokens}, true

	case models.ProviderAnthropic:
		var r struct {
			Usage struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(respBody, &r); err != nil {
			return Usage{}, false
		}
		if r.Usage.InputTokens == 0 && r.Usage.OutputTokens == 0 {
			return Usage{}, false
		}
		return Usage{InputTokens: r.Usage.InputTokens, OutputTokens: r.Usage.OutputTokens}, true

	case models.ProviderGoogle:
		var r struct {
			UsageMetadata struct {
				PromptTokenCount     int `json:"promptTokenCount"`
				CandidatesTokenCount int `json:"candidatesTokenCount"`
			} `json:"usageMetadata"`
		}
		if err := json.Unmarshal(respBody, &r); err != nil {
			return Usage{}, false
		}
		if r.UsageMetadata.PromptTokenCount == 0 && r.UsageMetadata.CandidatesTokenCount == 0 {
			return Usage{}, false
		}
		return Usage{InputTokens: r.UsageMetadata.PromptTokenCount, OutputTokens: r.UsageMetadata.CandidatesTokenCount}, true
	}
	return Usage{}, false
}

// EstimateTokens approximates a token count from text length when a provider
// response carries no usage metadata. Four characters per token is the usual
// rule of thumb for English text.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
