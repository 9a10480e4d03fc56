// Package routing substitutes a materially cheaper model from the same
// provider family when request-complexity heuristics say the caller will not
// notice. Substitution for a pair stops automatically once caller feedback
// shows the cheaper model is not good enough.
package routing

import (
	"encoding/json"
	"strings"
)

const (
	// MinFeedbackCount is how many feedback entries a pair needs before its
	// score can disable it.
	MinFeedbackCount = 5
	// DisableThreshold is the quality score below which a pair is disabled.
	DisableThreshold = 0.5

	// maxSimplePromptChars is the prompt length above which a request is no
	// longer considered simple enough to downgrade.
	maxSimplePromptChars = 2000
)

// downgrades maps a model to its cheaper same-family substitute. Longest
// prefix wins so dated variants route like their family.
var downgrades = map[string]string{
	"gpt-4o":                   "gpt-4o-mini",
	"gpt-4-turbo":              "gpt-4o-mini",
	"gpt-4":                    "gpt-4o-mini",
	"claude-3-opus":            "claude-3-5-haiku-latest",
	"claude-3-5-sonnet":        "claude-3-5-haiku-latest",
	"claude-3-5-sonnet-latest": "claude-3-5-haiku-latest",
	"gemini-1.5-pro":           "gemini-1.5-flash",
	"gemini-2.5-pro":           "gemini-2.0-flash",
}

// Decision is the router's answer for one request.
type Decision struct {
	Model  string
	Routed bool
}

// Scorer reports the feedback quality for a substitution pair. Implemented by
// the feedback store; the zero history score is optimistically 1.0.
type Scorer interface {
	PairScore(original, routed string) (score float64, count int)
}

// Router decides model substitutions.
type Router struct {
	scores Scorer
}

// NewRouter creates a Router consulting the given feedback scorer.
func NewRouter(scores Scorer) *Router {
	return &Router{scores: scores}
}

// Route returns the model to forward with. The original model is kept when no
// cheaper substitute exists, the request looks complex, or the pair's
// feedback score has degraded below the disable threshold.
func (r *Router) Route(requestedModel string, body []byte) Decision {
	keep := Decision{Model: requestedModel}

	candidate := cheaperAlternative(requestedModel)
	if candidate == "" || candidate == requestedModel {
		return keep
	}
	if !isSimpleRequest(body) {
		return keep
	}
	if r.scores != nil {
		score, count := r.scores.PairScore(requestedModel, candidate)
		if count >= MinFeedbackCount && score < DisableThreshold {
			return keep
		}
	}
	return Decision{Model: candidate, Routed: true}
}

func cheaperAlternative(model string) string {
	if sub, ok := downgrades[model]; ok {
		return sub
	}
	best := ""
	sub := ""
	for prefix, target := range downgrades {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
			sub = target
		}
	}
	return sub
}

// isSimpleRequest applies the complexity heuristics: no tool/function
// calling, no multimodal content, short prompt.
func isSimpleRequest(body []byte) bool {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}

	for _, field := range []string{"tools", "functions", "tool_choice", "function_call", "response_format"} {
		if _, ok := payload[field]; ok {
			return false
		}
	}

	totalChars := 0
	simple := true

	var walkContent func(v interface{})
	walkContent = func(v interface{}) {
		switch val := v.(type) {
		case string:
			totalChars += len(val)
		case []interface{}:
			for _, item := range val {
				walkContent(item)
			}
		case map[string]interface{}:
			// Any non-text block (image_url, inline_data, audio, documents)
			// marks the request as multimodal.
			if t, ok := val["type"].(string); ok && t != "text" {
				simple = false
				return
			}
			if _, ok := val["inline_data"]; ok {
				simple = false
				return
			}
			if _, ok := val["inlineData"]; ok {
				simple = false
				return
			}
			for key, child := range val {
				if key == "content" || key == "parts" || key == "text" {
					walkContent(child)
				}
			}
		}
	}

	if messages, ok := payload["messages"].([]interface{}); ok {
		walkContent(messages)
	}
	if contents, ok := payload["contents"].([]interface{}); ok {
		walkContent(contents)
	}
	if system, ok := payload["system"].(string); ok {
		totalChars += len(system)
	}

	return simple && totalChars <= maxSimplePromptChars
}
