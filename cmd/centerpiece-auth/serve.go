package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	gosundheit "github.com/AppsFlyer/go-sundheit"
	"github.com/AppsFlyer/go-sundheit/checks"
	gosundheithttp "github.com/AppsFlyer/go-sundheit/http"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mjsherwood76-dev/centerpiece-auth/internal/auditlog"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/config"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/credentials"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/cryptoutil"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/httpserver"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/jwtkernel"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/oauthfed"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/oauthfed/apple"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/oauthfed/facebook"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/oauthfed/google"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/oauthfed/microsoft"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/ratelimit"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/redirectvalidator"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/session"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/store"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/tokenkernel"
)

const gcInterval = time.Minute

type serveOptions struct {
	webAddr       string
	telemetryAddr string
	logLevel      string
	logFormat     string
}

func commandServe() *cobra.Command {
	options := serveOptions{}

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Launch the authentication service",
		Example: "centerpiece-auth serve --web-addr :8080",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true
			return runServe(options)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&options.webAddr, "web-addr", ":8080", "HTTP address the public API listens on")
	flags.StringVar(&options.telemetryAddr, "telemetry-addr", ":8081", "HTTP address /metrics and /healthz are served from")
	flags.StringVar(&options.logLevel, "log-level", "info", "log level (debug, info, error)")
	flags.StringVar(&options.logFormat, "log-format", "json", "log format (json, text)")
	return cmd
}

func runServe(options serveOptions) error {
	level, err := parseLogLevel(options.logLevel)
	if err != nil {
		return err
	}
	logger, err := newLogger(level, options.logFormat)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger.Info("loaded configuration", "environment", cfg.Environment, "authDomain", cfg.AuthDomain)

	ctx := context.Background()

	conn, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN, nil)
	if err != nil {
		return fmt.Errorf("failed to open data store: %w", err)
	}
	defer conn.Close()

	signingKey, err := cryptoutil.ParseES256PrivateKeyPEM(cfg.JWTPrivateKeyPEM, cfg.JWTKeyID)
	if err != nil {
		return fmt.Errorf("failed to parse JWT signing key: %w", err)
	}

	now := func() time.Time { return time.Now().UTC() }

	// A nil TenantLookup skips the per-tenant domain lookup path and relies
	// solely on the controlled-suffix allowlist.
	validator := redirectvalidator.New(cfg.Environment, nil)

	tokens := tokenkernel.New(conn, tokenkernel.Config{RefreshTokenTTL: cfg.RefreshTokenTTL, AuthCodeTTL: cfg.AuthCodeTTL}, now)
	jwt := jwtkernel.New(signingKey, jwtkernel.Config{Issuer: cfg.AuthDomain, AccessTokenTTL: cfg.AccessTokenTTL}, now)
	creds := credentials.New(conn, validator, tokens, nil, now)
	sessionFlows := session.New(conn, tokens, jwt, now)

	providers, err := buildProviders(ctx, cfg, logger, now)
	if err != nil {
		return fmt.Errorf("failed to configure oauth providers: %w", err)
	}
	callbackURLOf := func(provider string) string {
		return cfg.AuthDomain + "/oauth/" + provider + "/callback"
	}
	oauthFlows := oauthfed.New(conn, validator, tokens, providers, callbackURLOf, now)

	var redisClient redis.UniversalClient
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	limiter := ratelimit.New(redisClient, ratelimit.Config{}, cfg.Environment, now)

	audit := auditlog.New(logger)

	srv := httpserver.New(httpserver.Server{
		Credentials:     creds,
		OAuth:           oauthFlows,
		Session:         sessionFlows,
		JWT:             jwt,
		Validator:       validator,
		Store:           conn,
		Environment:     cfg.Environment,
		AuthDomain:      cfg.AuthDomain,
		Version:         version,
		DeployedAt:      now(),
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		RateLimiter:     limiter,
		Audit:           audit,
		Logger:          logger,
	}, now)

	prometheusRegistry := prometheus.NewRegistry()
	if err := prometheusRegistry.Register(prometheus.NewGoCollector()); err != nil {
		return fmt.Errorf("failed to register go runtime metrics: %w", err)
	}
	if err := prometheusRegistry.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{})); err != nil {
		return fmt.Errorf("failed to register process metrics: %w", err)
	}

	healthChecker := gosundheit.New()
	if err := healthChecker.RegisterCheck(&gosundheit.Config{
		Check: &checks.CustomCheck{
			CheckName: "store",
			CheckFunc: func(ctx context.Context) (interface{}, error) { return nil, conn.Ping(ctx) },
		},
		ExecutionPeriod:  15 * time.Second,
		InitiallyPassing: true,
	}); err != nil {
		return fmt.Errorf("failed to register health check: %w", err)
	}

	telemetryRouter := http.NewServeMux()
	telemetryRouter.Handle("/metrics", promhttp.HandlerFor(prometheusRegistry, promhttp.HandlerOpts{}))
	telemetryRouter.Handle("/healthz", gosundheithttp.HandleHealthJSON(healthChecker))

	var gr run.Group

	webSrv := &http.Server{Addr: options.webAddr, Handler: srv.Router()}
	if err := addServerRunner(&gr, "web", webSrv, logger); err != nil {
		return err
	}

	telemetrySrv := &http.Server{Addr: options.telemetryAddr, Handler: telemetryRouter}
	if err := addServerRunner(&gr, "telemetry", telemetrySrv, logger); err != nil {
		return err
	}

	gcCtx, cancelGC := context.WithCancel(context.Background())
	gr.Add(func() error {
		ticker := time.NewTicker(gcInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gcCtx.Done():
				return gcCtx.Err()
			case <-ticker.C:
				result, err := conn.GarbageCollect(gcCtx, now())
				if err != nil {
					logger.Error("garbage collection failed", "error", err)
					continue
				}
				if result.AuthCodes > 0 || result.FederationStates > 0 {
					logger.Info("garbage collection swept expired rows",
						"authCodes", result.AuthCodes, "federationStates", result.FederationStates)
				}
			}
		}
	}, func(error) { cancelGC() })

	gr.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))

	if err := gr.Run(); err != nil {
		if _, ok := err.(run.SignalError); !ok {
			return fmt.Errorf("run groups: %w", err)
		}
		logger.Info("shutting down", "reason", err.Error())
	}
	return nil
}

// addServerRunner registers an HTTP server with the run.Group, starting it
// on its own listener and wiring a graceful shutdown into the group's
// interrupt handler.
func addServerRunner(gr *run.Group, name string, srv *http.Server, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listening (%s) on %s: %w", name, srv.Addr, err)
	}

	gr.Add(func() error {
		logger.Info("listening", "server", name, "addr", srv.Addr)
		err := srv.Serve(listener)
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("graceful shutdown failed", "server", name, "error", err)
		}
	})
	return nil
}

func buildProviders(ctx context.Context, cfg config.Config, logger *slog.Logger, now func() time.Time) (map[string]oauthfed.Provider, error) {
	providers := map[string]oauthfed.Provider{}

	googleCfg := google.Config{ClientID: cfg.Google.ClientID, ClientSecret: cfg.Google.ClientSecret}
	if googleCfg.ClientID != "" {
		if endpoint, err := oauthfed.DiscoverEndpoint(ctx, "https://accounts.google.com"); err == nil {
			googleCfg.Endpoint = &endpoint
		} else {
			logger.Error("google discovery failed, falling back to pinned endpoint", "error", err)
		}
	}
	providers["google"] = google.New(googleCfg, now)

	providers["facebook"] = facebook.New(facebook.Config{ClientID: cfg.Facebook.ClientID, ClientSecret: cfg.Facebook.ClientSecret}, nil)

	microsoftCfg := microsoft.Config{ClientID: cfg.Microsoft.ClientID, ClientSecret: cfg.Microsoft.ClientSecret, Tenant: cfg.Microsoft.Tenant}
	if microsoftCfg.ClientID != "" {
		issuerURL := "https://login.microsoftonline.com/" + microsoftCfg.Tenant + "/v2.0"
		if endpoint, err := oauthfed.DiscoverEndpoint(ctx, issuerURL); err == nil {
			microsoftCfg.Endpoint = &endpoint
		} else {
			logger.Error("microsoft discovery failed, falling back to pinned endpoint", "error", err)
		}
	}
	providers["microsoft"] = microsoft.New(microsoftCfg, now)

	appleCfg := apple.Config{ClientID: cfg.Apple.ClientID, TeamID: cfg.Apple.TeamID, KeyID: cfg.Apple.KeyID}
	if cfg.Apple.PrivateKeyPEMB64 != "" {
		key, err := cryptoutil.ParseES256PrivateKeyPEM(cfg.Apple.PrivateKeyPEMB64, cfg.Apple.KeyID)
		if err != nil {
			return nil, fmt.Errorf("parse apple signing key: %w", err)
		}
		appleCfg.SigningKey = key
	}
	providers["apple"] = apple.New(appleCfg, now)

	return providers, nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log level is not one of the supported values (%s): %s", "debug, info, error", level)
	}
}
