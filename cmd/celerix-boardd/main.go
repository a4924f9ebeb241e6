package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/celerix-board/internal/api"
	"github.com/celerix-dev/celerix-board/internal/auth"
	"github.com/celerix-dev/celerix-board/internal/canvas"
	"github.com/celerix-dev/celerix-board/internal/config"
	"github.com/celerix-dev/celerix-board/internal/server"
	"github.com/celerix-dev/celerix-board/internal/storage"
	"github.com/celerix-dev/celerix-board/internal/vault"
	"github.com/celerix-dev/celerix-board/pkg/engine"
	"github.com/celerix-dev/celerix-board/pkg/schema"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err := run(); err != nil {
		slog.Error("daemon stopped", "err", err)
		os.Exit(1)
	}
}

func run() error {
	fmt.Println("Starting Celerix Board Daemon...")

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	gin.SetMode(cfg.GinMode)

	// 2. Store
	store, err := storage.Open(cfg.Store, cfg.StoreLocation(), cfg.Key())
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close store", "err", err)
		}
	}()
	slog.Info("store opened", "backend", cfg.Store, "location", cfg.StoreLocation(), "sealed", cfg.Key() != nil)

	if err := seedPrincipals(context.Background(), store, cfg.Seeds()); err != nil {
		return err
	}

	// 3. Canvas service, rooms and the socket router
	authn := auth.NewAuthenticator([]byte(cfg.JWTSecret), store)
	canvases := canvas.NewService(store, store)
	hub := server.NewHub(store)
	canvases.SetNotifier(hub)
	router := server.NewRouter(hub, authn, canvases, server.Options{
		MaxConnections:  cfg.MaxConnections,
		MaxMessageBytes: cfg.MaxMessageBytes,
		AllowedOrigins:  cfg.AllowedOrigins,
	})

	// 4. HTTP surface
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), api.CORS(cfg.AllowedOrigins))

	h := &api.Handler{Canvases: canvases, Auth: authn}
	h.Register(r)
	r.GET("/ws", router.Handle)
	r.GET("/up", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 5. TLS
	useTLS := !cfg.DisableTLS
	if useTLS && cfg.TLSCertFile == "" {
		fmt.Println("Generating self-signed certificate...")
		cert, err := vault.GenerateSelfSignedCert()
		if err != nil {
			return fmt.Errorf("generate TLS certificate: %w", err)
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}
	if !useTLS {
		fmt.Println("TLS encryption disabled (CELERIX_BOARD_DISABLE_TLS=true).")
	}

	// 6. Serve until a shutdown signal arrives
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.HTTPAddr, "tls", useTLS)
		var err error
		if useTLS {
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
	}

	// 7. Graceful shutdown
	fmt.Println("\nShutdown signal received. Finalizing canvas writes...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "err", err)
	}
	router.Close()
	hub.Wait()
	fmt.Println("Persistence complete. Exiting.")
	return nil
}

// seedPrincipals ensures every configured email has a principal.
func seedPrincipals(ctx context.Context, store engine.PrincipalStore, emails []string) error {
	for _, email := range emails {
		if _, err := store.PrincipalByEmail(ctx, email); err == nil {
			continue
		} else if !errors.Is(err, engine.ErrPrincipalNotFound) {
			return fmt.Errorf("look up principal %s: %w", email, err)
		}
		p, err := store.PutPrincipal(ctx, schema.Principal{Email: email})
		if errors.Is(err, engine.ErrPrincipalExists) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed principal %s: %w", email, err)
		}
		slog.Info("seeded principal", "principal", p.ID, "email", email)
	}
	return nil
}
