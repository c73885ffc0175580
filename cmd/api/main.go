package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/martynvhouten/MedStock-Pro/internal/authz"
	"github.com/martynvhouten/MedStock-Pro/internal/backend"
	"github.com/martynvhouten/MedStock-Pro/internal/config"
	"github.com/martynvhouten/MedStock-Pro/internal/httpapi"
	"github.com/martynvhouten/MedStock-Pro/internal/identity"
	"github.com/martynvhouten/MedStock-Pro/internal/inventory"
	"github.com/martynvhouten/MedStock-Pro/internal/obs"
)

var version = "0.3.1"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseDSN == "" {
		log.Fatal("missing DSN: set MEDSTOCK_PG_DSN")
	}

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	remote := backend.New(db, backend.WithCallTimeout(cfg.BackendCallTimeout))

	store := identity.NewPGStore(db)
	idsvc, err := identity.NewService(store, remote,
		identity.WithIPLookup(identity.NewHTTPIPLookup(cfg.IPLookupURL)),
		identity.WithAccountDefaults(cfg.DefaultTimezone, cfg.DefaultLanguage),
	)
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}

	resolver, err := authz.NewResolver(remote,
		authz.WithDemoUsers(cfg.DemoUserIDs),
		authz.WithFailClosed(cfg.PermissionFailMode == config.FailClosed),
	)
	if err != nil {
		log.Fatalf("authz resolver: %v", err)
	}

	batches := inventory.NewStore(db)
	tokens := httpapi.NewTokenIssuer(cfg.TokenSecret)
	if tokens == nil {
		log.Print("MEDSTOCK_TOKEN_SECRET not set, bearer tokens disabled")
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, idsvc, resolver, batches, tokens)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.RateLimit(api.Handler(), 40, 20),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting medstock-api %s on %s", version, srv.Addr)

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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = db.Close()
	log.Println("Stopped")
}
