package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/costspent/llm-gateway/internal/budget"
	"github.com/costspent/llm-gateway/internal/cache"
	"github.com/costspent/llm-gateway/internal/db"
	"github.com/costspent/llm-gateway/internal/db/models"
	"github.com/costspent/llm-gateway/internal/guardrail"
	"github.com/costspent/llm-gateway/internal/keycrypt"
	"github.com/costspent/llm-gateway/internal/logging"
	"github.com/costspent/llm-gateway/internal/pricing"
	"github.com/costspent/llm-gateway/internal/providers"
	"github.com/costspent/llm-gateway/internal/proxy/middleware"
	"github.com/costspent/llm-gateway/internal/ratelimit"
	"github.com/costspent/llm-gateway/internal/routing"
	"github.com/costspent/llm-gateway/internal/upstream"
	"github.com/costspent/llm-gateway/internal/util"
	"gorm.io/gorm"
)

// SurfaceAuto is the provider-agnostic inbound surface; the detector picks
// the real provider per request.
const SurfaceAuto = "auto"

// Gateway wires the request pipeline: resolve -> [rate, budget] -> detect ->
// guardrails -> cache -> route -> forward -> log.
type Gateway struct {
	DB       *gorm.DB
	Limiter  *ratelimit.Limiter
	Budget   *budget.Guard
	Cache    cache.ResponseCache
	Router   *routing.Router
	Feedback *routing.FeedbackStore
	Pricing  *pricing.Table
	Upstream *upstream.Client
	Keys     *keycrypt.Box
}

// ProxyHandler serves one inbound surface. surface is a concrete provider or
// SurfaceAuto; the path suffix after the surface segment is forwarded verbatim.
func (g *Gateway) ProxyHandler(surface string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cred, ok := middleware.CredentialFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, errTypeAuth, "Invalid or missing credential")
			return
		}

		requestID := logging.EnsureRequestID(r)
		ctx := logging.WithRequestID(r.Context(), requestID)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, errTypeInvalid, "Failed to read request body")
			return
		}
		path := forwardPath(r, surface)

		if util.IsVerbose() {
			log.Printf("📥 [VERBOSE] [%s] %s %s body: %s", requestID, r.Method, path, util.TruncateBytes(body))
		}

		// Estimation for the budget projection uses the raw body; masking
		// happens later and only ever shortens the text.
		requestedModel := providers.ExtractModel(body, path)
		estimateUSD := 0.0
		if requestedModel != "" && len(body) > 0 {
			estTokens := providers.EstimateTokens(string(body))
			estimateUSD = g.Pricing.Cost(requestedModel, estTokens, estTokens)
		}

		// Rate limiter and budget guard run concurrently; both must pass.
		budgetCh := make(chan struct {
			res budget.Result
			err error
		}, 1)
		go func() {
			res, err := g.Budget.Check(ctx, cred.OrgID, cred.MonthlyBudgetUSD, estimateUSD)
			budgetCh <- struct {
				res budget.Result
				err error
			}{res, err}
		}()
		rateRes := g.Limiter.Check(cred.ID, cred.RateLimitPerMin)
		budgetOut := <-budgetCh

		if !rateRes.Allowed {
			retryAfter := (rateRes.ResetMs + 999) / 1000
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			if cred.RateLimitPerMin != nil {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(*cred.RateLimitPerMin))
			}
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rateRes.ResetMs, 10))
			writeError(w, http.StatusTooManyRequests, errTypeRateLimit, "Rate limit exceeded, retry later")
			return
		}
		if budgetOut.err != nil {
			// Fail closed: without the spend sum we cannot bound overspend.
			log.Printf("❌ [%s] Budget check failed, denying: %v", requestID, budgetOut.err)
			writeError(w, http.StatusPaymentRequired, errTypeBudget, "Budget verification unavailable")
			return
		}
		if !budgetOut.res.Allowed {
			msg := fmt.Sprintf("Monthly budget exceeded: $%.2f of $%.2f spent", budgetOut.res.SpentUSD, budgetOut.res.CeilingUSD)
			writeError(w, http.StatusPaymentRequired, errTypeBudget, msg)
			return
		}

		// Resolve the effective provider for this request.
		provider, errResp := g.resolveProvider(cred, surface, body, path)
		if errResp != nil {
			writeError(w, errResp.status, errResp.errType, errResp.message)
			return
		}

		// Guardrails: length and keyword checks gate, masking transforms.
		outcome := guardrail.Run(body, guardrail.Config{
			MaxInputChars: cred.MaxInputChars,
			BlockKeywords: cred.BlockKeywords,
			MaskPII:       cred.MaskPII,
		})
		if !outcome.Allowed {
			writeError(w, http.StatusBadRequest, errTypeGuardrail, outcome.Reason)
			return
		}
		body = outcome.Body
		guardrailAction := ""
		if outcome.Modified {
			guardrailAction = "masked_pii"
		}

		entry := &models.ProxyLog{
			CredentialID:    cred.ID,
			OrgID:           cred.OrgID,
			Provider:        provider,
			RequestedModel:  requestedModel,
			UsedModel:       requestedModel,
			GuardrailAction: guardrailAction,
		}

		// Cache lookup happens on the masked body so a hit returns exactly
		// what a live call would have been sent.
		var fp cache.Fingerprints
		cacheTTL := time.Duration(cred.CacheTTLSeconds) * time.Second
		if cred.CacheEnabled && r.Method == http.MethodPost {
			fp = cache.Compute(provider, requestedModel, body)
			if hit, tier, ok := g.Cache.Lookup(ctx, fp); ok {
				g.serveCacheHit(w, ctx, entry, hit, tier)
				return
			}
		}

		// Model routing, only on a cache miss.
		if cred.RoutingEnabled && requestedModel != "" {
			decision := g.Router.Route(requestedModel, body)
			if decision.Routed {
				body, path = providers.SetModel(body, path, provider, decision.Model)
				entry.UsedModel = decision.Model
				entry.Routed = true
				log.Printf("🗺️ [%s] Routed %s -> %s", requestID, requestedModel, decision.Model)
			}
		}

		apiKey, err := g.upstreamKey(cred, provider)
		if err != nil {
			log.Printf("❌ [%s] Key decryption failed: %v", requestID, err)
			writeError(w, http.StatusBadRequest, errTypeInvalid,
				fmt.Sprintf("No usable upstream key for provider %q", provider))
			return
		}

		forwardStart := time.Now()
		res, err := g.Upstream.Forward(ctx, provider, apiKey, path, r.Method, body)
		if err != nil {
			status := http.StatusBadGateway
			errType := errTypeUpstream
			message := "Upstream request failed"
			if errorsIsTimeout(err) {
				status = http.StatusRequestTimeout
				errType = errTypeUpstreamTO
				message = "Upstream request timed out"
			}
			entry.Status = status
			entry.Error = err.Error()
			entry.DurationMs = time.Since(forwardStart).Milliseconds()
			g.writeLog(entry)
			writeError(w, status, errType, message)
			return
		}

		// Token accounting: provider metadata first, estimation fallback.
		usage, ok := providers.ParseUsage(provider, res.Body)
		if !ok {
			usage = providers.Usage{
				InputTokens:  providers.EstimateTokens(string(body)),
				OutputTokens: providers.EstimateTokens(string(res.Body)),
			}
		}

		entry.InputTokens = usage.InputTokens
		entry.OutputTokens = usage.OutputTokens
		entry.DurationMs = res.Duration.Milliseconds()
		entry.Status = res.StatusCode

		if res.StatusCode >= 200 && res.StatusCode < 300 {
			entry.CostUSD = g.Pricing.Cost(entry.UsedModel, usage.InputTokens, usage.OutputTokens)
			entry.OriginalCostUSD = g.Pricing.Cost(entry.RequestedModel, usage.InputTokens, usage.OutputTokens)
			entry.SavedUSD = entry.OriginalCostUSD - entry.CostUSD
			if entry.SavedUSD < 0 {
				entry.SavedUSD = 0
			}

			if cred.CacheEnabled && r.Method == http.MethodPost {
				g.Cache.Store(ctx, fp, cache.Entry{
					Body:         res.Body,
					Model:        entry.UsedModel,
					InputTokens:  usage.InputTokens,
					OutputTokens: usage.OutputTokens,
				}, cacheTTL)
			}
		} else {
			// Failed upstream call: logged with zero cost.
			entry.Error = fmt.Sprintf("upstream status %d", res.StatusCode)
		}

		g.writeLog(entry)

		// Pass the vendor response through, status and body unmodified.
		if ct := res.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.Header().Set(logging.RequestIDHeader, requestID)
		w.Header().Set("X-Proxy-Log-ID", entry.ID)
		w.WriteHeader(res.StatusCode)
		w.Write(res.Body)
	}
}

type errResponse struct {
	status  int
	errType string
	message string
}

// resolveProvider reconciles the surface, the credential binding and the
// detector. A bound credential addressed through the wrong surface is a
// mismatch, never silently redirected.
func (g *Gateway) resolveProvider(cred *models.Credential, surface string, body []byte, path string) (string, *errResponse) {
	bound := cred.Provider != models.ProviderAuto

	if surface != SurfaceAuto {
		if bound && cred.Provider != surface {
			return "", &errResponse{http.StatusBadRequest, errTypeInvalid,
				fmt.Sprintf("Credential is bound to provider %q, request addressed to %q", cred.Provider, surface)}
		}
		return surface, nil
	}

	if bound {
		return cred.Provider, nil
	}

	provider, ok := providers.Detect(body, path)
	if !ok {
		return "", &errResponse{http.StatusBadRequest, errTypeInvalid,
			"Could not detect target provider; set a model field or use a provider-specific endpoint"}
	}
	return provider, nil
}

// serveCacheHit accounts a hit as 100% savings: cost 0, originalCost what a
// live call with the originally requested model would have cost for the
// cached token counts, savedAmount the full originalCost.
func (g *Gateway) serveCacheHit(w http.ResponseWriter, ctx context.Context, entry *models.ProxyLog, hit *cache.Entry, tier string) {
	liveCost := g.Pricing.Cost(entry.RequestedModel, hit.InputTokens, hit.OutputTokens)

	entry.UsedModel = hit.Model
	entry.InputTokens = hit.InputTokens
	entry.OutputTokens = hit.OutputTokens
	entry.CostUSD = 0
	entry.OriginalCostUSD = liveCost
	entry.SavedUSD = liveCost
	entry.CacheHit = true
	entry.Status = http.StatusOK
	g.writeLog(entry)

	log.Printf("💾 [%s] Cache hit (%s tier), saved $%.6f", logging.GetRequestID(ctx), tier, liveCost)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "HIT")
	w.Header().Set(logging.RequestIDHeader, logging.GetRequestID(ctx))
	w.Header().Set("X-Proxy-Log-ID", entry.ID)
	w.WriteHeader(http.StatusOK)
	w.Write(hit.Body)
}

// upstreamKey selects and decrypts the provider key for this request. The
// plaintext lives only in this request's scope.
func (g *Gateway) upstreamKey(cred *models.Credential, provider string) (string, error) {
	if cred.Provider != models.ProviderAuto {
		if cred.EncryptedKey == "" {
			return "", fmt.Errorf("credential has no upstream key")
		}
		return g.Keys.Open(cred.EncryptedKey)
	}

	var keys map[string]string
	if err := json.Unmarshal([]byte(cred.EncryptedKeys), &keys); err != nil {
		return "", fmt.Errorf("parse key map: %w", err)
	}
	sealed, ok := keys[provider]
	if !ok {
		return "", fmt.Errorf("no key for provider %q", provider)
	}
	return g.Keys.Open(sealed)
}

func (g *Gateway) writeLog(entry *models.ProxyLog) {
	if err := db.CreateProxyLog(g.DB, entry); err != nil {
		log.Printf("❌ Failed to persist log entry: %v", err)
	}
}

func errorsIsTimeout(err error) bool {
	return errors.Is(err, upstream.ErrTimeout)
}

// forwardPath strips the surface prefix so the suffix goes upstream verbatim.
func forwardPath(r *http.Request, surface string) string {
	prefix := "/" + surface
	path := r.URL.Path
	if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
		path = path[len(prefix):]
	}
	if path == "" {
		path = "/"
	}
	return path
}
