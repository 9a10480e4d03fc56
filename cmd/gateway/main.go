package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/costspent/llm-gateway/internal/budget"
	"github.com/costspent/llm-gateway/internal/cache"
	"github.com/costspent/llm-gateway/internal/config"
	"github.com/costspent/llm-gateway/internal/db"
	"github.com/costspent/llm-gateway/internal/db/models"
	"github.com/costspent/llm-gateway/internal/keycrypt"
	"github.com/costspent/llm-gateway/internal/pricing"
	"github.com/costspent/llm-gateway/internal/proxy/handlers"
	"github.com/costspent/llm-gateway/internal/ratelimit"
	"github.com/costspent/llm-gateway/internal/routing"
	"github.com/costspent/llm-gateway/internal/upstream"
	"github.com/costspent/llm-gateway/internal/version"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "gateway",
		Short: "Cost-optimizing LLM reverse proxy",
		Long:  "Gateway proxies OpenAI, Anthropic and Google API traffic through one credential layer with rate limits, budgets, guardrails, caching and model routing.",
	}
	root.SilenceUsage = true
	root.PersistentFlags().StringVar(&configPath, "config", "gateway.yaml", "Config YAML path")

	root.AddCommand(serveCommand(&configPath))
	root.AddCommand(credentialsCommand(&configPath))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print gateway version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gateway %s (commit %s, built %s)\n",
				version.Version, version.Commit, version.BuildTime)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Verbose {
				os.Setenv("GATEWAY_VERBOSE", "true")
			}

			database, err := db.InitDB(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("initialize database: %w", err)
			}
			db.SeedModelPrices(database, pricing.DefaultSeedPrices())

			box, err := keycrypt.New(cfg.MasterSecret)
			if err != nil {
				return fmt.Errorf("derive master key: %w", err)
			}

			limiter := ratelimit.NewLimiter()
			defer limiter.Stop()

			var respCache cache.ResponseCache
			if cfg.RedisURL != "" {
				redisCache, err := cache.NewRedisCache(cfg.RedisURL)
				if err != nil {
					return fmt.Errorf("connect redis: %w", err)
				}
				defer redisCache.Close()
				respCache = redisCache
				log.Printf("💾 Response cache: redis")
			} else {
				memCache := cache.NewMemoryCache()
				defer memCache.Stop()
				respCache = memCache
				log.Printf("💾 Response cache: in-memory")
			}

			feedback := routing.NewFeedbackStore(database)
			prices := pricing.NewTable(database)
			prices.StartRefreshLoop(time.Duration(cfg.PriceRefreshMinutes) * time.Minute)
			defer prices.Stop()

			g := &handlers.Gateway{
				DB:       database,
				Limiter:  limiter,
				Budget:   budget.NewGuard(database),
				Cache:    respCache,
				Router:   routing.NewRouter(feedback),
				Feedback: feedback,
				Pricing:  prices,
				Upstream: upstream.NewClient(time.Duration(cfg.UpstreamTimeoutSeconds) * time.Second),
				Keys:     box,
			}

			log.Printf("🚀 Gateway listening on %s", cfg.Addr())
			return http.ListenAndServe(cfg.Addr(), g.Routes())
		},
	}
}

func credentialsCommand(configPath *string) *cobra.Command {
	credCmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage proxy credentials",
	}

	var (
		addOrg           string
		addProvider      string
		addKeys          []string
		addBudget        float64
		addRateLimit     int
		addCacheTTL      int
		addRouting       bool
		addMaxInputChars int
		addBlockKeywords bool
		addMaskPII       bool
	)
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Create a credential and print its token (shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			database, err := db.InitDB(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("initialize database: %w", err)
			}
			box, err := keycrypt.New(cfg.MasterSecret)
			if err != nil {
				return fmt.Errorf("derive master key: %w", err)
			}

			cred := &models.Credential{
				OrgID:           addOrg,
				Provider:        addProvider,
				CacheEnabled:    addCacheTTL > 0,
				CacheTTLSeconds: addCacheTTL,
				RoutingEnabled:  addRouting,
				MaxInputChars:   addMaxInputChars,
				BlockKeywords:   addBlockKeywords,
				MaskPII:         addMaskPII,
				IsActive:        true,
			}
			if addBudget > 0 {
				cred.MonthlyBudgetUSD = &addBudget
			}
			if addRateLimit > 0 {
				cred.RateLimitPerMin = &addRateLimit
			}

			if err := sealKeys(box, cred, addKeys); err != nil {
				return err
			}

			token, err := db.CreateCredential(database, cred)
			if err != nil {
				return fmt.Errorf("create credential: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Credential %s created for org %q (provider %s).\n", cred.ID, cred.OrgID, cred.Provider)
			fmt.Fprintf(out, "Token (store it now, it is not recoverable): %s\n", token)
			return nil
		},
	}
	addCmd.Flags().StringVar(&addOrg, "org", "", "Organization ID the credential bills to")
	addCmd.Flags().StringVar(&addProvider, "provider", models.ProviderAuto, "Bound provider: openai, anthropic, google or auto")
	addCmd.Flags().StringArrayVar(&addKeys, "key", nil, "Upstream API key, as provider=key (repeatable; bare key allowed for a bound provider)")
	addCmd.Flags().Float64Var(&addBudget, "budget", 0, "Monthly budget ceiling in USD (0 = unlimited)")
	addCmd.Flags().IntVar(&addRateLimit, "rate-limit", 0, "Requests per minute (0 = unlimited)")
	addCmd.Flags().IntVar(&addCacheTTL, "cache-ttl", 0, "Response cache TTL in seconds (0 = cache disabled)")
	addCmd.Flags().BoolVar(&addRouting, "routing", false, "Enable cost-based model routing")
	addCmd.Flags().IntVar(&addMaxInputChars, "max-input-chars", 0, "Maximum extracted input length (0 = unlimited)")
	addCmd.Flags().BoolVar(&addBlockKeywords, "block-keywords", true, "Block prompt-injection phrases")
	addCmd.Flags().BoolVar(&addMaskPII, "mask-pii", false, "Mask PII in outbound requests")
	addCmd.MarkFlagRequired("org")
	addCmd.MarkFlagRequired("key")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			database, err := db.InitDB(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("initialize database: %w", err)
			}
			creds, err := db.ListCredentials(database)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range creds {
				state := "active"
				if !c.IsActive {
					state = "revoked"
				}
				fmt.Fprintf(out, "%s  org=%s provider=%s %s\n", c.ID, c.OrgID, c.Provider, state)
			}
			return nil
		},
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke <credential-id>",
		Short: "Revoke a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			database, err := db.InitDB(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("initialize database: %w", err)
			}
			if err := db.RevokeCredential(database, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Credential %s revoked. It stops resolving on the next request.\n", args[0])
			return nil
		},
	}

	credCmd.AddCommand(addCmd, listCmd, revokeCmd)
	return credCmd
}

// sealKeys encrypts the provided upstream keys onto the credential. A bound
// credential takes one key; an auto credential takes provider=key pairs and
// stores them as a sealed map.
func sealKeys(box *keycrypt.Box, cred *models.Credential, rawKeys []string) error {
	if len(rawKeys) == 0 {
		return fmt.Errorf("at least one --key is required")
	}

	if cred.Provider != models.ProviderAuto {
		if len(rawKeys) != 1 {
			return fmt.Errorf("a bound credential takes exactly one --key")
		}
		key := rawKeys[0]
		if i := strings.IndexByte(key, '='); i >= 0 {
			provider := key[:i]
			if provider != cred.Provider {
				return fmt.Errorf("key provider %q does not match bound provider %q", provider, cred.Provider)
			}
			key = key[i+1:]
		}
		sealed, err := box.Seal(key)
		if err != nil {
			return fmt.Errorf("seal key: %w", err)
		}
		cred.EncryptedKey = sealed
		return nil
	}

	sealedKeys := make(map[string]string, len(rawKeys))
	for _, raw := range rawKeys {
		i := strings.IndexByte(raw, '=')
		if i <= 0 {
			return fmt.Errorf("auto credentials need --key provider=key, got %q", raw)
		}
		provider, key := raw[:i], raw[i+1:]
		switch provider {
		case models.ProviderOpenAI, models.ProviderAnthropic, models.ProviderGoogle:
		default:
			return fmt.Errorf("unknown provider %q in --key", provider)
		}
		sealed, err := box.Seal(key)
		if err != nil {
			return fmt.Errorf("seal key for %s: %w", provider, err)
		}
		sealedKeys[provider] = sealed
	}
	encoded, err := json.Marshal(sealedKeys)
	if err != nil {
		return err
	}
	cred.EncryptedKeys = string(encoded)
	return nil
}
