package db

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/costspent/llm-gateway/internal/db/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Credential{},
		&models.ProxyLog{},
		&models.ModelPrice{},
		&models.RoutingFeedback{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestGenerateToken(t *testing.T) {
	first, err := GenerateToken()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(first, TokenPrefix) || len(first) != len(TokenPrefix)+32 {
		t.Fatalf("unexpected token format: %q", first)
	}
	second, err := GenerateToken()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if first == second {
		t.Error("consecutive tokens should differ")
	}
}

func TestResolveCredential_RoundTrip(t *testing.T) {
	db := newTestDB(t)

	token, err := CreateCredential(db, &models.Credential{
		OrgID:    "org-1",
		Provider: models.ProviderOpenAI,
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}
	if len(token) != len(TokenPrefix)+32 {
		t.Fatalf("unexpected token format: %q", token)
	}

	cred, err := ResolveCredential(db, token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cred.OrgID != "org-1" || cred.Provider != models.ProviderOpenAI {
		t.Errorf("resolved wrong credential: %+v", cred)
	}
}

func TestResolveCredential_Errors(t *testing.T) {
	db := newTestDB(t)

	if _, err := ResolveCredential(db, "sk-not-a-proxy-token"); err != ErrCredentialNotFound {
		t.Errorf("wrong prefix: expected ErrCredentialNotFound, got %v", err)
	}
	if _, err := ResolveCredential(db, "pk-00000000000000000000000000000000"); err != ErrCredentialNotFound {
		t.Errorf("unknown token: expected ErrCredentialNotFound, got %v", err)
	}
}

func TestRevokeCredential_TakesEffectOnNextResolution(t *testing.T) {
	db := newTestDB(t)

	cred := &models.Credential{OrgID: "org-1", Provider: models.ProviderAuto, IsActive: true}
	token, err := CreateCredential(db, cred)
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}

	if _, err := ResolveCredential(db, token); err != nil {
		t.Fatalf("resolve before revoke: %v", err)
	}
	if err := RevokeCredential(db, cred.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := ResolveCredential(db, token); err != ErrCredentialInactive {
		t.Errorf("expected ErrCredentialInactive after revoke, got %v", err)
	}
}

func TestMonthlySpend_SumsCurrentMonthOnly(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()

	// Two entries this month, one last month, one for another org.
	for _, entry := range []models.ProxyLog{
		{OrgID: "org-1", CostUSD: 1.25, Timestamp: now.UnixMilli()},
		{OrgID: "org-1", CostUSD: 0.75, Timestamp: now.UnixMilli()},
		{OrgID: "org-1", CostUSD: 99, Timestamp: now.AddDate(0, -1, 0).UnixMilli()},
		{OrgID: "org-2", CostUSD: 5, Timestamp: now.UnixMilli()},
	} {
		e := entry
		if err := CreateProxyLog(db, &e); err != nil {
			t.Fatalf("create log: %v", err)
		}
	}

	spent, err := MonthlySpend(context.Background(), db, "org-1", now)
	if err != nil {
		t.Fatalf("monthly spend: %v", err)
	}
	if spent != 2.0 {
		t.Errorf("expected spend 2.0, got %v", spent)
	}
}

func TestAttachFeedback(t *testing.T) {
	db := newTestDB(t)

	entry := &models.ProxyLog{OrgID: "org-1", RequestedModel: "gpt-4o", UsedModel: "gpt-4o-mini", Routed: true}
	if err := CreateProxyLog(db, entry); err != nil {
		t.Fatalf("create log: %v", err)
	}

	updated, err := AttachFeedback(db, entry.ID, "negative")
	if err != nil {
		t.Fatalf("attach feedback: %v", err)
	}
	if updated.Feedback != "negative" {
		t.Errorf("expected feedback persisted, got %q", updated.Feedback)
	}

	if _, err := AttachFeedback(db, "missing-id", "positive"); err != ErrLogNotFound {
		t.Errorf("expected ErrLogNotFound, got %v", err)
	}
}

func TestSeedModelPrices_ExistingRowsWin(t *testing.T) {
	db := newTestDB(t)

	db.Create(&models.ModelPrice{Model: "gpt-4o", Provider: "openai", InputPerMTok: 9.99, OutputPerMTok: 9.99})

	SeedModelPrices(db, []models.ModelPrice{
		{Model: "gpt-4o", Provider: "openai", InputPerMTok: 2.5, OutputPerMTok: 10},
		{Model: "gpt-4o-mini", Provider: "openai", InputPerMTok: 0.15, OutputPerMTok: 0.6},
	})

	var existing models.ModelPrice
	if err := db.Where("model = ?", "gpt-4o").First(&existing).Error; err != nil {
		t.Fatalf("fetch gpt-4o: %v", err)
	}
	if existing.InputPerMTok != 9.99 {
		t.Errorf("seed must not overwrite existing price, got %v", existing.InputPerMTok)
	}

	var count int64
	db.Model(&models.ModelPrice{}).Count(&count)
	if count != 2 {
		t.Errorf("expected 2 price rows, got %d", count)
	}
}
