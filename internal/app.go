package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/storefront-auth/internal/config"
	"github.com/dgellow/storefront-auth/internal/crypto"
	"github.com/dgellow/storefront-auth/internal/downstream"
	"github.com/dgellow/storefront-auth/internal/idp"
	"github.com/dgellow/storefront-auth/internal/log"
	"github.com/dgellow/storefront-auth/internal/server"
	"github.com/dgellow/storefront-auth/internal/session"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// App is the assembled customer auth service.
type App struct {
	config     config.Config
	httpServer *server.HTTPServer
}

// NewApp builds every component from cfg. ctx bounds background work such as
// key set refreshes.
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	log.LogInfoWithFields("app", "Building storefront auth service", map[string]any{
		"environment":   cfg.Environment,
		"appBaseURL":    cfg.Provider.AppBaseURL,
		"publicClient":  cfg.Provider.IsPublicClient(),
		"secureCookies": cfg.SecureCookies(),
	})
	for _, w := range config.Warnings(cfg) {
		log.LogWarnWithFields("app", "Configuration warning", map[string]any{
			"setting": w.Path,
			"message": w.Message,
		})
	}

	handler, err := buildHTTPHandler(ctx, cfg, &http.Client{})
	if err != nil {
		return nil, err
	}

	return &App{
		config:     cfg,
		httpServer: server.NewHTTPServer(handler, cfg.ListenAddr),
	}, nil
}

func buildHTTPHandler(ctx context.Context, cfg config.Config, httpClient *http.Client) (http.Handler, error) {
	signer, err := crypto.NewValueSigner([]byte(cfg.SessionSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie signer: %w", err)
	}

	keys, err := idp.NewRemoteKeys(ctx, cfg.Provider.JWKSURL, httpClient)
	if err != nil {
		return nil, err
	}
	verifier := idp.NewVerifier(keys, cfg.Provider.Issuer, cfg.Provider.ClientID)
	provider := idp.NewCustomerAccount(cfg.Provider, httpClient, cfg.UpstreamTimeout)
	sessions := session.NewCookieFactory(signer, cfg.SecureCookies(), verifier)

	tokens := downstream.NewClient(cfg.Downstream, httpClient, cfg.UpstreamTimeout)
	broker := downstream.NewBroker(tokens, cfg.Downstream.StoreName)
	storefront := downstream.NewStorefrontClient(cfg.Downstream.StorefrontAPIURL, broker, httpClient, cfg.UpstreamTimeout)

	return server.NewHandler(server.Routes{
		Auth:      server.NewAuthHandlers(provider, verifier, broker, sessions, cfg.Provider.AppBaseURL),
		Account:   server.NewAccountHandlers(broker, storefront, sessions),
		Sessions:  sessions,
		Refresher: provider,
	}), nil
}

// Run serves until SIGINT or SIGTERM, then shuts down gracefully.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.run(ctx)
}

func (a *App) run(ctx context.Context) error {
	log.LogInfoWithFields("app", "Starting storefront auth service", map[string]any{
		"addr": a.config.ListenAddr,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		reason := "shutdown requested"
		if err := context.Cause(gctx); err != nil && !errors.Is(err, context.Canceled) {
			reason = err.Error()
		}
		log.LogInfoWithFields("app", "Starting graceful shutdown", map[string]any{
			"reason":  reason,
			"timeout": shutdownTimeout.String(),
		})

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.httpServer.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.LogErrorWithFields("app", "Shut down with error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	log.LogInfoWithFields("app", "Application shutdown complete", nil)
	return nil
}
