package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"consentvault/internal/app"
	"consentvault/internal/platform/config"
	"consentvault/internal/platform/httpserver"
	"consentvault/internal/platform/logger"
	policymodels "consentvault/internal/policy/models"
	policyservice "consentvault/internal/policy/service"
)

// main wires configuration, logging, and the HTTP server lifecycle. Business
// logic lives in the internal service packages and is assembled by app.New.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var seedDemo bool

	flags := pflag.NewFlagSet("consentvault", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to YAML config (default: $CONFIG_PATH or ./config.yaml)")
	flags.BoolVar(&seedDemo, "seed-demo-policy", false, "publish a demo policy when none exists")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.New(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("closing resources", "error", err)
		}
	}()

	if seedDemo {
		if err := seedDemoPolicy(ctx, a.Policies, log); err != nil {
			return err
		}
	}

	srv := httpserver.New(cfg.Server, a.Handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting consentvault", "addr", cfg.Server.Addr, "storage", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func seedDemoPolicy(ctx context.Context, policies *policyservice.Service, log *slog.Logger) error {
	if _, err := policies.Latest(ctx); err == nil {
		return nil
	} else if !errors.Is(err, policymodels.ErrNoPolicies) {
		return err
	}

	doc := []byte("Demo privacy policy.\n")
	sum := sha256.Sum256(doc)
	p, err := policies.Publish(ctx, policymodels.Policy{
		Version:         "1.0.0",
		PublishedAt:     time.Now().UTC(),
		Description:     "Demo privacy policy",
		StorageLocation: "file:///dev/null",
		ContentHash:     hex.EncodeToString(sum[:]),
	})
	if err != nil {
		return fmt.Errorf("seed demo policy: %w", err)
	}
	log.Info("seeded demo policy", "policy_id", p.ID, "version", p.Version)
	return nil
}
