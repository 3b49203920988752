package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/donaldgifford/automarket/internal/api/client"
	"github.com/donaldgifford/automarket/internal/config"
	"github.com/donaldgifford/automarket/internal/identity"
	"github.com/donaldgifford/automarket/internal/monitor"
	"github.com/donaldgifford/automarket/internal/session"
	"github.com/donaldgifford/automarket/internal/telemetry"
	"github.com/donaldgifford/automarket/internal/upload"
	"github.com/donaldgifford/automarket/internal/web"
	"github.com/donaldgifford/automarket/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cobra.Command {
	var allowRoleAssignment bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the storefront server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cmd.Flags().Changed("allow-role-assignment") {
				cfg.Debug.AllowRoleAssignment = allowRoleAssignment
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().BoolVar(&allowRoleAssignment, "allow-role-assignment", false,
		"expose the debug role assignment on the account and registration pages")
	return cmd
}

func runServe(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	shutdownTelemetry, err := telemetry.Setup(ctx, &cfg.Telemetry, Version)
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			log.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	provider, err := newProvider(cfg, log)
	if err != nil {
		return err
	}

	observer := session.NewObserver(ctx, provider, log)
	defer observer.Close()

	api := newAPIClient(cfg, provider, log)

	deps := web.Deps{
		Config:   cfg,
		Provider: provider,
		Observer: observer,
		API:      api,
		Log:      log,
	}

	if cfg.Storage.URL != "" {
		storage := upload.NewSupabaseStorage(cfg.Storage.URL, cfg.Storage.APIKey, cfg.Storage.Bucket)
		deps.Uploader = upload.NewUploader(storage, upload.WithLogger(log))
		deps.Importer = upload.NewImporter(deps.Uploader)
	} else {
		log.Info("object storage not configured, image uploads disabled")
	}

	if g := cfg.Identity.Google; g.Enabled() {
		fed, err := identity.DiscoverGoogle(ctx, g.Issuer, g.ClientID, g.ClientSecret, g.RedirectURL, provider)
		if err != nil {
			return fmt.Errorf("setting up Google sign-in: %w", err)
		}
		deps.Federated = fed
	}

	mon, err := monitor.New(api, cfg.Monitor.HealthInterval, log)
	if err != nil {
		return fmt.Errorf("creating health monitor: %w", err)
	}
	mon.Start(ctx)
	defer func() { <-mon.Stop().Done() }()
	deps.Monitor = mon

	srv, err := web.New(deps)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	e := srv.Echo()
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout

	addr := cfg.Server.Addr()
	log.Info("starting storefront",
		"addr", addr,
		"api", cfg.API.BaseURL,
		"version", Version,
		"role_assignment", cfg.Debug.AllowRoleAssignment,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	log.Info("server stopped")
	return nil
}

func newProvider(cfg *config.Config, log *slog.Logger) (*identity.FirebaseProvider, error) {
	opts := []identity.Option{
		identity.WithIdentityURL(cfg.Identity.IdentityURL),
		identity.WithTokenURL(cfg.Identity.TokenURL),
		identity.WithLogger(log),
	}
	if cfg.Identity.CredentialsFile != "" {
		opts = append(opts, identity.WithCredentialStore(identity.NewFileStore(cfg.Identity.CredentialsFile)))
	}

	p, err := identity.NewFirebaseProvider(cfg.Identity.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating identity provider: %w", err)
	}
	return p, nil
}

func newAPIClient(cfg *config.Config, tokens client.TokenSource, log *slog.Logger) *client.Client {
	opts := []client.Option{
		client.WithTokenSource(tokens),
		client.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
		client.WithUserAgent("automarket/" + Version),
		client.WithLogger(log),
	}
	if rl := cfg.API.RateLimit; rl.PerSecond > 0 {
		opts = append(opts, client.WithRateLimiter(rate.NewLimiter(rate.Limit(rl.PerSecond), rl.Burst)))
	}
	return client.New(cfg.API.BaseURL, opts...)
}
