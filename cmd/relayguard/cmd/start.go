// Package cmd provides the CLI commands for Relayguard.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/relayguard/relayguard/internal/adapter/inbound/http"
	"github.com/relayguard/relayguard/internal/adapter/outbound/memory"
	redisstore "github.com/relayguard/relayguard/internal/adapter/outbound/redis"
	"github.com/relayguard/relayguard/internal/config"
	"github.com/relayguard/relayguard/internal/domain/auth"
	"github.com/relayguard/relayguard/internal/domain/cache"
	"github.com/relayguard/relayguard/internal/domain/policy"
	"github.com/relayguard/relayguard/internal/domain/ratelimit"
	"github.com/relayguard/relayguard/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the governance proxy",
	Long: `Start the Relayguard governance proxy.

Requests hit the limiter and the response cache before reaching the
upstream. Configure the upstream URL, token table, and dispatch tables
in relayguard.yaml.

Examples:
  # Start with config file settings
  relayguard start

  # Start with a specific config file
  relayguard --config /path/to/config.yaml start

  # Quick local experiment with a dev token
  relayguard start --dev`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, a dev token)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration (without validation, so CLI flags can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override dev mode from CLI flag
	if devMode {
		cfg.DevMode = true
	}

	// Apply dev defaults (fills the token table if empty in dev mode)
	cfg.SetDevDefaults()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	// Priority: DevMode=true -> debug, otherwise use configured log_level
	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("relayguard stopped")
	return nil
}

// run wires all components together and blocks until shutdown.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.DevMode {
		logger.Warn("dev mode enabled: a well-known dev token is active, do not use in production")
	}

	tables, err := buildTables(cfg)
	if err != nil {
		return fmt.Errorf("invalid dispatch tables: %w", err)
	}

	rules, err := buildRules(cfg)
	if err != nil {
		return fmt.Errorf("invalid rules: %w", err)
	}

	sweepInterval, err := time.ParseDuration(cfg.RateLimit.SweepInterval)
	if err != nil {
		return fmt.Errorf("invalid sweep_interval: %w", err)
	}
	staleAfter, err := time.ParseDuration(cfg.RateLimit.StaleAfter)
	if err != nil {
		return fmt.Errorf("invalid stale_after: %w", err)
	}

	// Build the store backend shared by limiting and caching.
	var (
		limits        ratelimit.Store
		responseCache cache.Store
	)
	switch cfg.Store.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		defer func() { _ = client.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis unreachable at %s: %w", cfg.Store.Redis.Addr, err)
		}
		logger.Info("connected to redis", "addr", cfg.Store.Redis.Addr, "db", cfg.Store.Redis.DB)

		limits = redisstore.NewRateLimitStore(client, redisstore.WithStaleAfter(staleAfter))
		responseCache = redisstore.NewResponseCache(client)

	default:
		store := memory.NewRateLimitStore(
			memory.WithSweepInterval(sweepInterval),
			memory.WithStaleAfter(staleAfter),
			memory.WithRateLimitLogger(logger),
		)
		store.StartSweep(ctx)
		defer store.Stop()

		limits = store
		responseCache = memory.NewResponseCache()
	}

	resolver := auth.NewResolver(buildCredentials(cfg))
	logger.Debug("token table loaded", "tokens", len(cfg.Auth.Tokens))

	policyResolver, err := service.NewPolicyResolver(tables, rules, logger)
	if err != nil {
		return fmt.Errorf("failed to compile rules: %w", err)
	}
	logger.Info("policies loaded",
		"roles", len(tables.Roles),
		"overrides", len(tables.Overrides),
		"rules", len(rules),
		"cache_categories", len(tables.Categories),
	)

	var govOpts []service.GovernanceOption
	govOpts = append(govOpts, service.WithGovernanceLogger(logger))
	if !cfg.RateLimit.Enabled {
		logger.Warn("rate limiting disabled by configuration")
		govOpts = append(govOpts, service.WithLimitsDisabled())
	}
	if !cfg.Cache.Enabled {
		logger.Warn("response caching disabled by configuration")
		govOpts = append(govOpts, service.WithCacheDisabled())
	}
	governance := service.NewGovernance(limits, responseCache, policyResolver, govOpts...)

	var upstreamURL *url.URL
	if cfg.Upstream.URL != "" {
		upstreamURL, err = url.Parse(cfg.Upstream.URL)
		if err != nil {
			return fmt.Errorf("invalid upstream url: %w", err)
		}
		logger.Info("upstream configured", "url", cfg.Upstream.URL)
	} else {
		logger.Warn("no upstream configured, governed paths will answer 502")
	}

	transportOpts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithAdminRole(cfg.Server.AdminRole),
		http.WithVersion(Version),
	}
	if cfg.Upstream.Timeout != "" {
		timeout, err := time.ParseDuration(cfg.Upstream.Timeout)
		if err != nil {
			return fmt.Errorf("invalid upstream timeout: %w", err)
		}
		transportOpts = append(transportOpts, http.WithUpstreamTimeout(timeout))
	}

	transport := http.NewTransport(governance, resolver, upstreamURL, transportOpts...)

	return transport.Start(ctx)
}

// buildTables converts the config tables into the domain dispatch tables,
// parsing all duration strings.
func buildTables(cfg *config.Config) (policy.Tables, error) {
	defaultPolicy, err := parsePolicy(cfg.RateLimit.Default.Quota, cfg.RateLimit.Default.Window)
	if err != nil {
		return policy.Tables{}, fmt.Errorf("rate_limit.default: %w", err)
	}

	tables := policy.Tables{
		Default: defaultPolicy,
		Roles:   make(map[string]ratelimit.Policy, len(cfg.RateLimit.Roles)),
	}

	for role, pc := range cfg.RateLimit.Roles {
		p, err := parsePolicy(pc.Quota, pc.Window)
		if err != nil {
			return policy.Tables{}, fmt.Errorf("rate_limit.roles.%s: %w", role, err)
		}
		tables.Roles[role] = p
	}

	for _, oc := range cfg.RateLimit.Overrides {
		p, err := parsePolicy(oc.Quota, oc.Window)
		if err != nil {
			return policy.Tables{}, fmt.Errorf("rate_limit.overrides %s: %w", oc.PathPrefix, err)
		}
		tables.Overrides = append(tables.Overrides, policy.Override{
			Prefix: oc.PathPrefix,
			Policy: p,
		})
	}

	for _, cc := range cfg.Cache.Categories {
		category := policy.CacheCategory{Prefix: cc.PathPrefix, NoCache: cc.NoCache}
		if !cc.NoCache {
			ttl, err := time.ParseDuration(cc.TTL)
			if err != nil {
				return policy.Tables{}, fmt.Errorf("cache.categories %s: %w", cc.PathPrefix, err)
			}
			category.TTL = ttl
		}
		tables.Categories = append(tables.Categories, category)
	}

	for _, ic := range cfg.Cache.Invalidations {
		tables.Invalidations = append(tables.Invalidations, policy.Invalidation{
			Prefix:   ic.PathPrefix,
			Patterns: ic.Patterns,
		})
	}

	return tables, nil
}

// buildRules converts the config rules into service rules.
func buildRules(cfg *config.Config) ([]service.Rule, error) {
	rules := make([]service.Rule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		p, err := parsePolicy(rc.Quota, rc.Window)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rc.Name, err)
		}
		rules = append(rules, service.Rule{
			Name:      rc.Name,
			Condition: rc.Condition,
			Policy:    p,
		})
	}
	return rules, nil
}

// buildCredentials converts the config token table into resolver credentials.
func buildCredentials(cfg *config.Config) []auth.Credential {
	creds := make([]auth.Credential, 0, len(cfg.Auth.Tokens))
	for _, tc := range cfg.Auth.Tokens {
		creds = append(creds, auth.Credential{
			Hash: tc.Hash,
			Principal: auth.Principal{
				ID:    tc.ID,
				Roles: tc.Roles,
			},
		})
	}
	return creds
}

// parsePolicy parses a {quota, window} config pair.
func parsePolicy(quota int, window string) (ratelimit.Policy, error) {
	w, err := time.ParseDuration(window)
	if err != nil {
		return ratelimit.Policy{}, fmt.Errorf("invalid window %q: %w", window, err)
	}
	if quota < 1 {
		return ratelimit.Policy{}, fmt.Errorf("quota must be at least 1, got %d", quota)
	}
	return ratelimit.Policy{Quota: quota, Window: w}, nil
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
