package authgate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/internal/logutil"
	otelexport "github.com/MrEthical07/authgate/metrics/export/otel"
	"github.com/MrEthical07/authgate/web"
)

const meterName = "github.com/MrEthical07/authgate"

// Run starts the service and blocks until ctx is cancelled or a component
// fails. With cfg.Lint it prints the configuration report to out instead.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = os.Stdout
	}
	level, err := logutil.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger, err := logutil.New(os.Stderr, logutil.Format(cfg.LogFormat), level)
	if err != nil {
		return err
	}
	return run(ctx, cfg, out, logger)
}

func run(ctx context.Context, cfg Config, out io.Writer, logger *slog.Logger) error {
	ecfg := cfg.EngineConfig()
	if err := ecfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	warnings := ecfg.Lint()
	for _, w := range warnings {
		logger.Warn("config lint", "code", w.Code, "severity", w.Severity.String(), "message", w.Message)
	}
	if cfg.StrictLint {
		if err := warnings.AsError(authgate.LintHigh); err != nil {
			return fmt.Errorf("strict lint: %w", err)
		}
	}

	rdb, closeRedis, err := openRedis(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	engine, err := authgate.New().
		WithConfig(ecfg).
		WithRedis(rdb).
		WithLogger(logger).
		WithAuditSink(authgate.NewSlogSink(logger)).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	if cfg.Lint {
		return writeReport(out, engine.SecurityReport())
	}

	if !cfg.SkipProviderCheck {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.ProviderCheckWindow)
		done := logutil.NewTimingLogger(logger, time.Now(), "provider check", "url", ecfg.Provider.URL)
		err := engine.CheckProvider(checkCtx)
		cancel()
		done()
		if err != nil {
			return logutil.LogAndWrapErr(logger, "auth provider unreachable", err, "url", ecfg.Provider.URL)
		}
	}

	if cfg.OTelMetrics {
		exp, err := otelexport.NewOTelExporter(otel.Meter(meterName), engine)
		if err != nil {
			return fmt.Errorf("otel metrics: %w", err)
		}
		defer func() { _ = exp.Close() }()
	}

	server, err := web.NewServer(ctx, engine, web.Config{
		HTTPAddr: cfg.HTTPAddr,
		Handler: web.HandlerConfig{
			TrustProxy: cfg.TrustProxy,
			Logger:     logger,
		},
	})
	if err != nil {
		return fmt.Errorf("init web server: %w", err)
	}
	defer server.Close()

	logger.Info("authgate listening", "addr", server.Addr(), "provider", ecfg.Provider.URL)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error {
		if err := server.ListenAndServe(gctx); err != nil {
			return fmt.Errorf("serve web: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func openRedis(ctx context.Context, cfg Config, logger *slog.Logger) (redis.UniversalClient, func(), error) {
	if cfg.RedisAddr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start in-process redis: %w", err)
		}
		logger.Warn("no redis address configured; using in-process redis, sessions will not survive restarts", "addr", mr.Addr())
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		return rdb, func() {
			_ = rdb.Close()
			mr.Close()
		}, nil
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, logutil.LogAndWrapErr(logger, "connect redis", err, "addr", cfg.RedisAddr)
	}
	return rdb, func() { _ = rdb.Close() }, nil
}

func writeReport(w io.Writer, r authgate.SecurityReport) error {
	_, err := fmt.Fprintf(w,
		"provider_url=%s\ntoken_verification=%s\nissuer_pinned=%t\naudience_pinned=%t\n"+
			"refresh_margin=%s\nsession_lifetime=%s\nsliding_sessions=%t\nsecure_cookies=%t\n"+
			"rate_limiting=%t\nip_throttle=%t\naudit=%t\nlint_findings=%v\n",
		r.ProviderURL, r.TokenVerification, r.IssuerPinned, r.AudiencePinned,
		r.RefreshMargin, r.SessionLifetime, r.SlidingSessions, r.SecureCookies,
		r.RateLimitingActive, r.IPThrottleActive, r.AuditActive, r.LintFindings,
	)
	return err
}
