package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	authhttp "github.com/open-rails/phoneauth/adapters/http"
	"github.com/open-rails/phoneauth/core"
	"github.com/open-rails/phoneauth/metrics"
	memoryplatform "github.com/open-rails/phoneauth/platform/memory"
	"github.com/open-rails/phoneauth/platform/workos"
	"github.com/open-rails/phoneauth/ratelimit"
	"github.com/open-rails/phoneauth/riverjobs"
	"github.com/open-rails/phoneauth/session"
	memorystore "github.com/open-rails/phoneauth/storage/memory"
	pgstore "github.com/open-rails/phoneauth/storage/postgres"
	redisstore "github.com/open-rails/phoneauth/storage/redis"
)

type config struct {
	ListenAddr          string `mapstructure:"PHONEAUTH_LISTEN_ADDR"`
	Platform            string `mapstructure:"PHONEAUTH_PLATFORM"`
	APIKey              string `mapstructure:"WORKOS_API_KEY"`
	ClientID            string `mapstructure:"WORKOS_CLIENT_ID"`
	BaseURL             string `mapstructure:"WORKOS_BASE_URL"`
	RedirectURI         string `mapstructure:"WORKOS_REDIRECT_URI"`
	EmailDomain         string `mapstructure:"WORKOS_SMS_EMAIL_DOMAIN"`
	CookiePassword      string `mapstructure:"WORKOS_COOKIE_PASSWORD"`
	CookieName          string `mapstructure:"WORKOS_COOKIE_NAME"`
	RequireOrganization bool   `mapstructure:"PHONEAUTH_REQUIRE_ORGANIZATION"`
	DefaultRole         string `mapstructure:"PHONEAUTH_DEFAULT_ROLE"`
	SMSTemplate         string `mapstructure:"PHONEAUTH_SMS_TEMPLATE"`
	RedisURL            string `mapstructure:"REDIS_URL"`
	RedisPrefix         string `mapstructure:"PHONEAUTH_REDIS_PREFIX"`
	DBURL               string `mapstructure:"DATABASE_URL"`
	MigrateOnStart      bool   `mapstructure:"PHONEAUTH_MIGRATE_ON_START"`
	OrphanCron          string `mapstructure:"PHONEAUTH_ORPHAN_CRON"`
	OrphanAge           string `mapstructure:"PHONEAUTH_ORPHAN_AGE"`
	LogLevel            string `mapstructure:"LOG_LEVEL"`
	Env                 string `mapstructure:"APP_ENV"`
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fatal(err)
	}
	setupLogging(cfg)

	cmd := "serve"
	if len(os.Args) > 1 && strings.TrimSpace(os.Args[1]) != "" {
		cmd = strings.TrimSpace(os.Args[1])
	}

	switch cmd {
	case "serve":
		if err := runServe(cfg); err != nil {
			fatal(err)
		}
	case "migrate":
		if err := runMigrate(cfg); err != nil {
			fatal(err)
		}
	default:
		fatal(fmt.Errorf("unknown command %q (supported: serve, migrate)", cmd))
	}
}

// loadConfig reads .env (if present) and then the environment.
func loadConfig() (*config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()
	v.AutomaticEnv()

	v.SetDefault("PHONEAUTH_LISTEN_ADDR", ":8080")
	v.SetDefault("PHONEAUTH_PLATFORM", "workos")
	v.SetDefault("WORKOS_API_KEY", "")
	v.SetDefault("WORKOS_CLIENT_ID", "")
	v.SetDefault("WORKOS_BASE_URL", "")
	v.SetDefault("WORKOS_REDIRECT_URI", "")
	v.SetDefault("WORKOS_SMS_EMAIL_DOMAIN", "")
	v.SetDefault("WORKOS_COOKIE_PASSWORD", "")
	v.SetDefault("WORKOS_COOKIE_NAME", session.DefaultCookieName)
	v.SetDefault("PHONEAUTH_REQUIRE_ORGANIZATION", false)
	v.SetDefault("PHONEAUTH_DEFAULT_ROLE", core.DefaultMembershipRole)
	v.SetDefault("PHONEAUTH_SMS_TEMPLATE", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("PHONEAUTH_REDIS_PREFIX", "phoneauth:")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("PHONEAUTH_MIGRATE_ON_START", true)
	v.SetDefault("PHONEAUTH_ORPHAN_CRON", "*/30 * * * *")
	v.SetDefault("PHONEAUTH_ORPHAN_AGE", "1h")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "")

	var c config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	c.Platform = strings.ToLower(strings.TrimSpace(c.Platform))

	switch c.Platform {
	case "workos":
		if strings.TrimSpace(c.APIKey) == "" {
			return nil, errors.New("config: WORKOS_API_KEY is required when PHONEAUTH_PLATFORM=workos")
		}
	case "memory":
		if c.Env == "production" {
			return nil, errors.New("config: PHONEAUTH_PLATFORM=memory must not be used when APP_ENV=production")
		}
		if c.ClientID == "" {
			c.ClientID = "client_dev"
		}
	default:
		return nil, fmt.Errorf("config: PHONEAUTH_PLATFORM must be workos or memory, got %q", c.Platform)
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return nil, errors.New("config: WORKOS_CLIENT_ID is required")
	}
	if len(c.CookiePassword) < session.MinPasswordLength {
		return nil, fmt.Errorf("config: WORKOS_COOKIE_PASSWORD must be at least %d characters", session.MinPasswordLength)
	}
	if c.OrphanCron != "" {
		if _, err := riverjobs.ParseSchedule(c.OrphanCron); err != nil {
			return nil, fmt.Errorf("config: PHONEAUTH_ORPHAN_CRON: %w", err)
		}
	}
	age, err := time.ParseDuration(c.OrphanAge)
	if err != nil {
		return nil, fmt.Errorf("config: PHONEAUTH_ORPHAN_AGE: %w", err)
	}
	// The report job counts in whole minutes.
	if age < time.Minute {
		return nil, fmt.Errorf("config: PHONEAUTH_ORPHAN_AGE must be at least 1m, got %s", age)
	}
	return &c, nil
}

func (c *config) orphanAge() time.Duration {
	d, err := time.ParseDuration(c.OrphanAge)
	if err != nil || d < time.Minute {
		return time.Hour
	}
	return d
}

func setupLogging(cfg *config) {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(os.Stdout)
	lvl, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

func newPlatform(cfg *config) (core.IdentityPlatform, error) {
	if cfg.Platform == "memory" {
		p := memoryplatform.New(cfg.ClientID).WithCodeSink(func(phone, message string) {
			log.WithField("phone_number", phone).WithField("message", message).Info("dev sms delivered")
		})
		return p, nil
	}
	var opts []workos.Option
	if cfg.BaseURL != "" {
		opts = append(opts, workos.WithBaseURL(cfg.BaseURL))
	}
	return workos.New(cfg.APIKey, opts...)
}

func runServe(cfg *config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := log.StandardLogger()

	platform, err := newPlatform(cfg)
	if err != nil {
		return err
	}

	domain := core.ResolveEmailDomain(cfg.EmailDomain, cfg.RedirectURI)
	svc, err := core.NewService(core.Config{
		EmailDomain:         domain,
		ClientID:            cfg.ClientID,
		RequireOrganization: cfg.RequireOrganization,
		DefaultRole:         cfg.DefaultRole,
		SMSTemplate:         cfg.SMSTemplate,
	}, platform)
	if err != nil {
		return err
	}
	svc.WithLogger(logger)

	reg := prometheus.NewRegistry()
	m := metrics.New("phoneauth", reg)
	svc.WithStepObserver(m)

	var rd *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rd = redis.NewClient(opt)
		defer rd.Close()
		if err := rd.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
	}

	if cfg.DBURL != "" {
		if cfg.MigrateOnStart {
			if err := runMigrations(ctx, cfg.DBURL); err != nil {
				return err
			}
		}
		pg, err := pgxpool.New(ctx, cfg.DBURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		ledger := pgstore.NewLedger(pg)
		svc.WithLedger(ledger)

		rc, err := newRiverClient(cfg, pg, ledger, logger)
		if err != nil {
			return err
		}
		if err := rc.Start(ctx); err != nil {
			return fmt.Errorf("start river: %w", err)
		}
		defer func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			_ = rc.Stop(stopCtx)
		}()
	}

	var kv core.EphemeralStore
	var redisKV *redisstore.KV
	mode := core.EphemeralMemory
	if rd != nil {
		redisKV = redisstore.NewKV(rd).WithPrefix(cfg.RedisPrefix)
		kv, mode = redisKV, core.EphemeralRedis
	} else {
		mem := memorystore.NewKV()
		mem.StartJanitor(ctx, time.Minute)
		kv = mem
	}
	svc.WithEphemeralStore(kv, mode)

	sessions, err := session.NewManager(kv, session.Config{
		CookiePassword: cfg.CookiePassword,
		CookieName:     cfg.CookieName,
		Secure:         cfg.Env == "production",
	})
	if err != nil {
		return err
	}
	api, err := authhttp.NewService(svc, sessions)
	if err != nil {
		return err
	}
	api.WithLogger(logger)
	if rd != nil {
		api.WithRateLimiter(ratelimit.New(ratelimit.DefaultLimits(),
			ratelimit.WithRedis(rd),
			ratelimit.WithKeyPrefix(cfg.RedisPrefix+"rl"),
			ratelimit.WithLogger(logger),
		))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthz(cfg.Platform, redisKV))
	mux.Handle("GET /metrics", m.Handler())
	mux.Handle("/auth/", api.APIHandler())

	logger.WithFields(log.Fields{
		"addr":         cfg.ListenAddr,
		"platform":     cfg.Platform,
		"email_domain": domain,
		"cookie":       sessions.CookieName(),
	}).Info("phoneauth listening")

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           m.Middleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}

func newRiverClient(cfg *config, pg *pgxpool.Pool, ledger *pgstore.Ledger, logger *log.Logger) (*river.Client[pgx.Tx], error) {
	workers := river.NewWorkers()
	riverjobs.RegisterReportOrphansWorker(workers, ledger, nil, logger)

	rc, err := river.NewClient(riverpgxv5.New(pg), &river.Config{
		Queues:  map[string]river.QueueConfig{river.QueueDefault: {MaxWorkers: 2}},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	if cfg.OrphanCron != "" {
		args := riverjobs.ReportOrphansArgs{MinAgeMinutes: int(cfg.orphanAge() / time.Minute)}
		if err := riverjobs.AddReportOrphansPeriodicJob(rc, cfg.OrphanCron, args, false); err != nil {
			return nil, err
		}
	}
	return rc, nil
}

// healthz reports 503 while the Redis store is unreachable; attempts and sessions cannot be
// served without it.
func healthz(platform string, kv *redisstore.KV) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok", "platform": platform}
		if kv != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := kv.Ping(ctx); err != nil {
				log.WithContext(r.Context()).WithError(err).Warn("healthz: redis unreachable")
				body["status"], body["redis"] = "unavailable", "unreachable"
				writeJSON(w, http.StatusServiceUnavailable, body)
				return
			}
			body["redis"] = "ok"
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func runMigrate(cfg *config) error {
	if cfg.DBURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}
	return runMigrations(context.Background(), cfg.DBURL)
}

// runMigrations applies river's queue tables and then the attempt ledger schema.
func runMigrations(ctx context.Context, dbURL string) error {
	pg, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	migrator, err := rivermigrate.New(riverpgxv5.New(pg), nil)
	if err != nil {
		return fmt.Errorf("river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("apply river migrations: %w", err)
	}
	for _, v := range res.Versions {
		log.WithField("version", v.Version).Info("river migration applied")
	}

	if err := pgstore.NewLedger(pg).Migrate(ctx); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fatal(err error) {
	if err == nil {
		os.Exit(0)
	}
	if errors.Is(err, http.ErrServerClosed) {
		os.Exit(0)
	}
	log.WithError(err).Error("phoneauth exited")
	os.Exit(1)
}
