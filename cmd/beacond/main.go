// SPDX-License-Identifier: MIT

// Command beacond runs the real-time event broadcast engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumenhq/beacon/internal/admission"
	"github.com/lumenhq/beacon/internal/api"
	"github.com/lumenhq/beacon/internal/bus"
	"github.com/lumenhq/beacon/internal/config"
	"github.com/lumenhq/beacon/internal/identity"
	xlog "github.com/lumenhq/beacon/internal/log"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		os.Exit(runTokenCmd(os.Args[2:]))
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("beacond %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "beacond: %v\n", err)
		os.Exit(1)
	}

	xlog.Configure(xlog.Config{
		Level:   cfg.LogLevel,
		Service: "beacond",
		Version: version,
	})
	logger := xlog.WithComponent("daemon")

	resolver, err := buildResolver(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build identity resolver")
	}
	if cfg.InsecureIdentity {
		logger.Warn().Msg("identity resolution is running WITHOUT signature verification")
	}

	hub := bus.New(cfg.QueueCapacity)
	ctrl := admission.NewController(cfg.MaxConnectionsPerOrg)
	server := api.New(cfg, hub, ctrl, resolver)

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: stream connections are intentionally unbounded.
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("listen", cfg.Listen).Str("env", cfg.Environment).Msg("broadcast engine listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Close every live session first so Shutdown is not held open by
		// intentionally unbounded stream connections.
		hub.CloseAll()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
	logger.Info().Msg("daemon stopped")
}

func buildResolver(cfg config.Config) (identity.Resolver, error) {
	if cfg.InsecureIdentity {
		return identity.InsecureResolver{}, nil
	}
	return identity.NewTokenResolver([]byte(cfg.TokenSecret))
}

// runTokenCmd mints a signed stream credential, mainly for local testing:
//
//	beacond token -user u1 -org o1 -ttl 24h
func runTokenCmd(args []string) int {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	user := fs.String("user", "", "user ID (required)")
	org := fs.String("org", "", "organization ID")
	admin := fs.Bool("admin", false, "mark the identity as an operator")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	configPath := fs.String("config", "", "path to config file (YAML)")
	_ = fs.Parse(args)

	if *user == "" {
		fmt.Fprintln(os.Stderr, "beacond token: -user is required")
		return 2
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "beacond token: %v\n", err)
		return 1
	}
	resolver, err := identity.NewTokenResolver([]byte(cfg.TokenSecret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "beacond token: %v\n", err)
		return 1
	}
	token, err := resolver.Sign(identity.Identity{
		UserID:         *user,
		OrganizationID: *org,
		Admin:          *admin,
	}, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "beacond token: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}
