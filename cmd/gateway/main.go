package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"profile-gateway/service/facts"
	"profile-gateway/service/facts/application"
	"profile-gateway/service/facts/domain"
	"profile-gateway/service/facts/infra"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func main() {
	// local development convenience, ignored when no .env file exists
	_ = godotenv.Load()

	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		store domain.Store
		rdb   *redis.Client
	)
	switch cfg.storeBackend {
	case "redis":
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		pingCancel()
		if err != nil {
			log.Fatalf("redis ping error: %v", err)
		}
		store = infra.NewRedisStore(rdb)

	case "bolt":
		bs, err := infra.OpenBoltStore(cfg.boltPath)
		if err != nil {
			log.Fatalf("bolt open error: %v", err)
		}
		defer func() { _ = bs.Close() }()
		store = bs

	case "memory":
		ms := infra.NewMemoryStore()
		ms.StartJanitor(ctx)
		store = ms

	case "none":
		// no shared state: dev fails open, prod answers 503 to everything
		// via the service's store gate
		if cfg.appEnv == "prod" {
			log.Printf("warning: STORE_BACKEND=none with APP_ENV=prod, refusing all requests until a store is configured")
		}
	}

	socialOpts := []infra.SocialOption{}
	if cfg.upstreamLocalRPS > 0 {
		socialOpts = append(socialOpts, infra.WithSocialLocalRate(cfg.upstreamLocalRPS, cfg.upstreamLocalBurst))
	}
	social := infra.NewSocialClient(cfg.upstreamURL, cfg.upstreamToken, socialOpts...)

	var scorer domain.Scorer
	if cfg.modelURL != "" {
		scorer = infra.NewModelScorer(cfg.modelURL, cfg.modelAPIKey, cfg.modelName)
	}

	var sinks []domain.StatsStore
	if cfg.statsEnabled {
		sinks = append(sinks, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.statsPrefix),
			infra.WithStatsTTL(cfg.statsTTL),
		))
	}
	if cfg.otelStatsEnabled {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stdout))
		if err != nil {
			log.Fatalf("otel exporter error: %v", err)
		}
		res, err := resource.New(context.Background(),
			resource.WithAttributes(semconv.ServiceName("profile-gateway")),
		)
		if err != nil {
			log.Fatalf("otel resource error: %v", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		)
		otel.SetMeterProvider(mp)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mp.Shutdown(shutdownCtx)
		}()

		otelStats, err := infra.NewOTelStatsStore(mp.Meter("profile-gateway"))
		if err != nil {
			log.Fatalf("otel stats error: %v", err)
		}
		sinks = append(sinks, otelStats)
	}
	var stats domain.StatsStore
	switch len(sinks) {
	case 0:
	case 1:
		stats = sinks[0]
	default:
		stats = infra.MultiStats(sinks)
	}

	svc := &application.Service{
		Social:          social,
		Scorer:          scorer,
		Stats:           stats,
		Strategy:        cfg.strategy,
		FailMode:        cfg.failMode,
		RequireStore:    cfg.appEnv == "prod",
		DefaultCooldown: cfg.cooldownDefault,
		ProfileTTL:      cfg.profileTTL,
		PostsTTL:        cfg.postsTTL,
		ScoreTTL:        cfg.scoreTTL,
	}
	if store != nil {
		svc.Cache = infra.NewStoreCache(store)
		svc.Limits = domain.LimiterSet{
			Client: infra.NewWindowLimiter(store, domain.LimitClient, cfg.limitClientMax, cfg.limitClientWindow),
			Handle: infra.NewWindowLimiter(store, domain.LimitHandle, cfg.limitHandleMax, cfg.limitHandleWindow),
			Global: infra.NewWindowLimiter(store, domain.LimitGlobal, cfg.limitGlobalMax, cfg.limitGlobalWindow),
		}
		svc.Cooldowns = infra.NewStoreCooldowns(store)
	}

	h := facts.NewHandler(svc, facts.Options{
		JWTSecret:          []byte(cfg.jwtSecret),
		KeyHeader:          cfg.keyHeader,
		TrustXForwardedFor: cfg.trustXFF,
	})
	h = facts.ConcurrencyMiddleware(facts.ConcurrencyOptions{
		Max:            cfg.concurrencyMax,
		AcquireTimeout: cfg.concurrencyTimeout,
	})(h)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("gateway listening on %s -> %s (env=%s strategy=%s store=%s)", cfg.listenAddr, cfg.upstreamURL, cfg.appEnv, cfg.strategy, cfg.storeBackend)
	log.Printf("limits: client=%d/%s handle=%d/%s global=%d/%s failClosed=%s", cfg.limitClientMax, cfg.limitClientWindow, cfg.limitHandleMax, cfg.limitHandleWindow, cfg.limitGlobalMax, cfg.limitGlobalWindow, cfg.failMode)
	log.Printf("cooldown default=%s ttl: profile=%s posts=%s score=%s", cfg.cooldownDefault, cfg.profileTTL, cfg.postsTTL, cfg.scoreTTL)
	log.Printf("stats: redis=%v otel=%v scorer=%v concurrency: max=%d acquireTimeout=%s", cfg.statsEnabled, cfg.otelStatsEnabled, scorer != nil, cfg.concurrencyMax, cfg.concurrencyTimeout)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

type config struct {
	listenAddr string
	appEnv     string

	storeBackend  string
	redisAddr     string
	redisPassword string
	redisDB       int
	boltPath      string

	upstreamURL        string
	upstreamToken      string
	upstreamLocalRPS   float64
	upstreamLocalBurst int
	strategy           application.Strategy

	modelURL    string
	modelAPIKey string
	modelName   string

	limitClientMax    int
	limitClientWindow time.Duration
	limitHandleMax    int
	limitHandleWindow time.Duration
	limitGlobalMax    int
	limitGlobalWindow time.Duration
	failMode          application.FailMode

	cooldownDefault time.Duration
	profileTTL      time.Duration
	postsTTL        time.Duration
	scoreTTL        time.Duration

	statsEnabled     bool
	statsPrefix      string
	statsTTL         time.Duration
	otelStatsEnabled bool

	jwtSecret string
	keyHeader string
	trustXFF  bool

	concurrencyMax     int
	concurrencyTimeout time.Duration
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.appEnv = getenvDefault("APP_ENV", "dev")
	if cfg.appEnv != "dev" && cfg.appEnv != "prod" {
		return config{}, fmt.Errorf("APP_ENV must be dev or prod, got %q", cfg.appEnv)
	}

	cfg.storeBackend = getenvDefault("STORE_BACKEND", "memory")
	switch cfg.storeBackend {
	case "memory", "redis", "bolt", "none":
	default:
		return config{}, fmt.Errorf("STORE_BACKEND must be memory, redis, bolt or none, got %q", cfg.storeBackend)
	}
	cfg.redisAddr = getenvDefault("REDIS_ADDR", "")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	if cfg.storeBackend == "redis" && strings.TrimSpace(cfg.redisAddr) == "" {
		return config{}, errors.New("REDIS_ADDR is required when STORE_BACKEND=redis")
	}
	cfg.boltPath = getenvDefault("BOLT_PATH", "")
	if cfg.storeBackend == "bolt" && strings.TrimSpace(cfg.boltPath) == "" {
		return config{}, errors.New("BOLT_PATH is required when STORE_BACKEND=bolt")
	}

	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	cfg.upstreamToken = os.Getenv("UPSTREAM_TOKEN")
	cfg.upstreamLocalRPS = getenvFloatDefault("UPSTREAM_LOCAL_RPS", 5)
	cfg.upstreamLocalBurst = getenvIntDefault("UPSTREAM_LOCAL_BURST", 10)

	switch s := getenvDefault("LOOKUP_STRATEGY", "direct"); s {
	case "direct":
		cfg.strategy = application.StrategyDirect
	case "search":
		cfg.strategy = application.StrategySearch
	default:
		return config{}, fmt.Errorf("LOOKUP_STRATEGY must be direct or search, got %q", s)
	}

	cfg.modelURL = os.Getenv("MODEL_URL")
	cfg.modelAPIKey = os.Getenv("MODEL_API_KEY")
	cfg.modelName = getenvDefault("MODEL_NAME", "gpt-4o-mini")

	cfg.limitClientMax = getenvIntDefault("LIMIT_CLIENT_MAX", 60)
	cfg.limitClientWindow = getenvDurationDefault("LIMIT_CLIENT_WINDOW", 10*time.Minute)
	cfg.limitHandleMax = getenvIntDefault("LIMIT_HANDLE_MAX", 10)
	cfg.limitHandleWindow = getenvDurationDefault("LIMIT_HANDLE_WINDOW", 10*time.Minute)
	cfg.limitGlobalMax = getenvIntDefault("LIMIT_GLOBAL_MAX", 300)
	cfg.limitGlobalWindow = getenvDurationDefault("LIMIT_GLOBAL_WINDOW", 10*time.Minute)
	if cfg.limitClientMax <= 0 || cfg.limitHandleMax <= 0 || cfg.limitGlobalMax <= 0 {
		return config{}, errors.New("LIMIT_*_MAX must be > 0")
	}
	if cfg.limitClientWindow <= 0 || cfg.limitHandleWindow <= 0 || cfg.limitGlobalWindow <= 0 {
		return config{}, errors.New("LIMIT_*_WINDOW must be > 0")
	}

	failDefault := "none"
	if cfg.appEnv == "prod" {
		failDefault = "all"
	}
	switch m := getenvDefault("LIMIT_FAIL_CLOSED", failDefault); m {
	case "none":
		cfg.failMode = application.FailNone
	case "global":
		cfg.failMode = application.FailGlobal
	case "all":
		cfg.failMode = application.FailAll
	default:
		return config{}, fmt.Errorf("LIMIT_FAIL_CLOSED must be none, global or all, got %q", m)
	}

	cfg.cooldownDefault = getenvDurationDefault("COOLDOWN_DEFAULT", time.Minute)
	cfg.profileTTL = getenvDurationDefault("CACHE_PROFILE_TTL", 1*time.Hour)
	cfg.postsTTL = getenvDurationDefault("CACHE_POSTS_TTL", 1*time.Hour)
	cfg.scoreTTL = getenvDurationDefault("CACHE_SCORE_TTL", 6*time.Hour)

	cfg.statsEnabled = getenvBoolDefault("STATS_ENABLED", false)
	cfg.statsPrefix = getenvDefault("STATS_PREFIX", "facts:stats")
	cfg.statsTTL = getenvDurationDefault("STATS_TTL", 24*time.Hour)
	if cfg.statsEnabled && cfg.storeBackend != "redis" {
		return config{}, errors.New("STATS_ENABLED=true requires STORE_BACKEND=redis")
	}
	cfg.otelStatsEnabled = getenvBoolDefault("OTEL_STATS_ENABLED", false)

	cfg.jwtSecret = os.Getenv("JWT_SECRET")
	cfg.keyHeader = os.Getenv("KEY_HEADER")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)

	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
