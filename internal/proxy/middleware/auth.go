package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/costspent/llm-gateway/internal/db"
	"github.com/costspent/llm-gateway/internal/db/models"
	"gorm.io/gorm"
)

type contextKey string

const credentialKey contextKey = "credential"

// CredentialAuth validates the proxy credential from the Authorization header
// (Bearer) or the x-api-key alias and stores the resolved record in the
// request context. Both a missing and a revoked credential answer 401 with
// the uniform envelope; the message does not distinguish the two.
func CredentialAuth(database *gorm.DB) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := ""
			if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				raw = strings.TrimPrefix(authHeader, "Bearer ")
			}
			if raw == "" {
				raw = r.Header.Get("x-api-key")
			}
			if raw == "" {
				unauthorized(w)
				return
			}

			cred, err := db.ResolveCredential(database, raw)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), credentialKey, cred)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CredentialFromContext returns the credential resolved by CredentialAuth.
func CredentialFromContext(ctx context.Context) (*models.Credential, bool) {
	cred, ok := ctx.Value(credentialKey).(*models.Credential)
	return cred, ok
}

// WithCredential injects a credential directly. Test hook.
func WithCredential(ctx context.Context, cred *models.Credential) context.Context {
	return context.WithValue(ctx, credentialKey, cred)
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error": {"message": "Invalid or missing credential", "type": "authentication_error"}}`))
}
