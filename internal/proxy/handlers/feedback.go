package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/costspent/llm-gateway/internal/db"
)

type feedbackRequest struct {
	LogEntryID string `json:"log_entry_id"`
	Feedback   string `json:"feedback"` // "positive" | "negative"
}

// FeedbackHandler accepts quality feedback for a previously served request,
// keyed by its log entry ID. It updates the routing feedback scores and
// attaches the verdict to the log entry. It always returns quickly and never
// affects the outcome of the original request.
func (g *Gateway) FeedbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, errTypeInvalid, "Invalid request body")
			return
		}
		if req.LogEntryID == "" || (req.Feedback != "positive" && req.Feedback != "negative") {
			writeError(w, http.StatusBadRequest, errTypeInvalid,
				`Expected {"log_entry_id": "...", "feedback": "positive"|"negative"}`)
			return
		}

		entry, err := db.AttachFeedback(g.DB, req.LogEntryID, req.Feedback)
		if err != nil {
			if errors.Is(err, db.ErrLogNotFound) {
				writeError(w, http.StatusNotFound, errTypeInvalid, "Unknown log entry")
				return
			}
			writeError(w, http.StatusInternalServerError, errTypeInvalid, "Failed to record feedback")
			return
		}

		// Only routed requests carry a substitution pair to score.
		if entry.Routed && entry.RequestedModel != entry.UsedModel {
			if err := g.Feedback.Record(entry.RequestedModel, entry.UsedModel, req.Feedback); err != nil {
				log.Printf("⚠️ Failed to record pair feedback: %v", err)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "recorded"})
	}
}
