package logging

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abc12345")
	if got := GetRequestID(ctx); got != "abc12345" {
		t.Errorf("expected round-trip id, got %q", got)
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("expected empty id from bare context, got %q", got)
	}
}

func TestGenerateRequestID_Format(t *testing.T) {
	id := GenerateRequestID()
	if len(id) != 8 {
		t.Errorf("expected 8 hex chars, got %q", id)
	}
	if id == GenerateRequestID() {
		t.Error("consecutive ids should differ")
	}
}

func TestEnsureRequestID(t *testing.T) {
	r := httptest.NewRequest("POST", "/openai/v1/chat/completions", nil)
	r.Header.Set(RequestIDHeader, "caller-id")
	if got := EnsureRequestID(r); got != "caller-id" {
		t.Errorf("caller-supplied id not honored: %q", got)
	}

	r.Header.Del(RequestIDHeader)
	if got := EnsureRequestID(r); len(got) != 8 {
		t.Errorf("expected generated 8-char id, got %q", got)
	}
}
