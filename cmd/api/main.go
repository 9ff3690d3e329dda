package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tenantscope.io/internal/config"
	"tenantscope.io/internal/entra"
	"tenantscope.io/internal/graph"
	"tenantscope.io/internal/httpapi"
	"tenantscope.io/internal/obs"
	"tenantscope.io/internal/secrets"
	"tenantscope.io/internal/store/pg"
	"tenantscope.io/internal/stream"
	"tenantscope.io/internal/tenant"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	// Local development reads .env; production sets real environment.
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	// Store: Postgres when a DSN is configured, in-memory otherwise.
	var (
		store   tenant.Store
		pgStore *pg.Store
	)
	if cfg.PostgresDSN != "" {
		var err error
		pgStore, err = pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
	} else {
		obs.LogEvent("warn", "TENANTSCOPE_PG_DSN not set, using in-memory store", nil)
		store = tenant.NewInMemory()
	}

	secretMgr, err := secrets.NewManager(cfg, store)
	if err != nil {
		log.Fatalf("secrets: %v", err)
	}

	signer, err := entra.NewStateSigner(cfg.StateSecret, entra.DefaultStateTTL)
	if err != nil {
		log.Fatalf("state signer: %v", err)
	}

	// Provisioning needs the partner service principal; without it the
	// dedicated-app endpoint reports setup guidance instead of failing late.
	var provisioner httpapi.Provisioner
	if cfg.ValidatePartner() == nil {
		writer, err := entra.NewGraphAppWriter(cfg)
		if err != nil {
			log.Fatalf("graph writer: %v", err)
		}
		provisioner, err = entra.NewProvisioner(cfg, writer)
		if err != nil {
			log.Fatalf("provisioner: %v", err)
		}
	} else {
		obs.LogEvent("warn", "partner credentials missing, app provisioning disabled", nil)
	}

	events := stream.New()

	deps := httpapi.Deps{
		Store:       store,
		Resolver:    entra.NewResolver(),
		Provisioner: provisioner,
		Collector:   graph.NewCollector(graph.NewGraphSource),
		Secrets:     secretMgr,
		Stream:      events,
		Signer:      signer,
	}
	if pgStore != nil {
		deps.Ready = httpapi.ReadyProbe{DB: pgStore.DB()}
	}

	api := httpapi.New(cfg, deps, version)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      120 * time.Second, // assessments fan out to Graph
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting tenantscope-api %s on %s", version, srv.Addr)

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
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
