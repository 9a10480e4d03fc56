package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/costspent/llm-gateway/internal/db"
	"github.com/costspent/llm-gateway/internal/db/models"
)

func feedbackBody(logID, verdict string) []byte {
	return []byte(fmt.Sprintf(`{"log_entry_id":%q,"feedback":%q}`, logID, verdict))
}

func TestFeedback_RoutedEntryScoresPair(t *testing.T) {
	g, database := newTestGateway(t, http.NotFoundHandler())
	token, cred := makeCredential(t, g)

	entry := &models.ProxyLog{
		CredentialID:   cred.ID,
		OrgID:          cred.OrgID,
		Provider:       models.ProviderOpenAI,
		RequestedModel: "gpt-4o",
		UsedModel:      "gpt-4o-mini",
		Routed:         true,
	}
	if err := db.CreateProxyLog(database, entry); err != nil {
		t.Fatalf("seed log: %v", err)
	}

	w := doRequest(g, http.MethodPost, "/gateway/feedback", token, feedbackBody(entry.ID, "negative"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	stored, err := db.GetProxyLog(database, entry.ID)
	if err != nil {
		t.Fatalf("reload entry: %v", err)
	}
	if stored.Feedback != "negative" {
		t.Errorf("feedback not attached: %q", stored.Feedback)
	}

	score, count := g.Feedback.PairScore("gpt-4o", "gpt-4o-mini")
	if count != 1 || score != 0.0 {
		t.Errorf("pair score = %v/%d, want 0.0/1", score, count)
	}
}

func TestFeedback_UnroutedEntryDoesNotScorePair(t *testing.T) {
	g, database := newTestGateway(t, http.NotFoundHandler())
	token, cred := makeCredential(t, g)

	entry := &models.ProxyLog{
		CredentialID:   cred.ID,
		OrgID:          cred.OrgID,
		Provider:       models.ProviderOpenAI,
		RequestedModel: "gpt-4o",
		UsedModel:      "gpt-4o",
	}
	if err := db.CreateProxyLog(database, entry); err != nil {
		t.Fatalf("seed log: %v", err)
	}

	w := doRequest(g, http.MethodPost, "/gateway/feedback", token, feedbackBody(entry.ID, "positive"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if _, count := g.Feedback.PairScore("gpt-4o", "gpt-4o"); count != 0 {
		t.Errorf("unrouted entry must not create a pair row, count = %d", count)
	}
}

func TestFeedback_Validation(t *testing.T) {
	g, _ := newTestGateway(t, http.NotFoundHandler())
	token, _ := makeCredential(t, g)

	tests := []struct {
		name string
		body []byte
		want int
	}{
		{"unknown entry", feedbackBody("missing-id", "positive"), http.StatusNotFound},
		{"bad verdict", feedbackBody("some-id", "meh"), http.StatusBadRequest},
		{"missing id", feedbackBody("", "positive"), http.StatusBadRequest},
		{"not json", []byte("feedback=positive"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(g, http.MethodPost, "/gateway/feedback", token, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestStatsHandler(t *testing.T) {
	g, database := newTestGateway(t, http.NotFoundHandler())
	token, cred := makeCredential(t, g)

	for _, entry := range []*models.ProxyLog{
		{OrgID: cred.OrgID, CostUSD: 1.5, OriginalCostUSD: 1.5},
		{OrgID: cred.OrgID, CostUSD: 0, OriginalCostUSD: 2.0, SavedUSD: 2.0, CacheHit: true},
		{OrgID: cred.OrgID, CostUSD: 0.5, OriginalCostUSD: 1.0, SavedUSD: 0.5, Routed: true},
	} {
		if err := db.CreateProxyLog(database, entry); err != nil {
			t.Fatalf("seed log: %v", err)
		}
	}

	w := doRequest(g, http.MethodGet, "/gateway/stats", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var stats models.SpendStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalRequests != 3 || stats.CacheHits != 1 || stats.RoutedCount != 1 {
		t.Errorf("counters: %+v", stats)
	}
	if stats.TotalCostUSD != 2.0 || stats.TotalSavedUSD != 2.5 {
		t.Errorf("sums: %+v", stats)
	}
}
