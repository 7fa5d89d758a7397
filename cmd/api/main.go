package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"accord.org/internal/auth"
	"accord.org/internal/config"
	"accord.org/internal/gateway"
	"accord.org/internal/governance"
	"accord.org/internal/httpapi"
	"accord.org/internal/licensing"
	"accord.org/internal/obs"
	"accord.org/internal/policy"
	"accord.org/internal/statelog"
	"accord.org/internal/store/pg"
	"accord.org/internal/stream"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("ACCORD_BUILD_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// State log: Postgres when a DSN is configured, in-memory otherwise.
	var (
		ledgerStore statelog.Store
		probe       httpapi.ReadyProbe
		pgs         *pg.Store
	)
	if cfg.PGDSN != "" {
		pgs, err = pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		err = pgs.Migrate(ctx)
		cancel()
		if err != nil {
			log.Fatalf("migrate: %v", err)
		}
		ledgerStore = pgs
		probe = httpapi.ReadyProbe{DB: pgs.DB()}
	} else {
		ledgerStore = statelog.NewInMemory()
	}

	members := auth.NewMemberStore(ledgerStore)
	if cfg.AdminPassword != "" {
		role := string(policy.AuthorizingOfficial)
		_, err := members.Register(context.Background(), cfg.AdminUser, cfg.HomeOrg, role, cfg.AdminPassword)
		if err != nil && !errors.Is(err, auth.ErrMemberExists) {
			log.Fatalf("seed admin member: %v", err)
		}
	}

	events := stream.New()
	gw := gateway.New(
		policy.NewEvaluator(cfg.HomeOrg),
		governance.NewService(ledgerStore),
		licensing.NewService(ledgerStore),
		events,
	)
	api := httpapi.New(probe, version, gw, events, members, cfg)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	log.Printf("Starting accord-api %s on %s (home org %s)", version, srv.Addr, cfg.HomeOrg)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgs != nil {
		_ = pgs.Close()
	}
	log.Println("Stopped")
}
