package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tokibito/fruit-game/internal/cacheset"
	"github.com/tokibito/fruit-game/internal/client"
	"github.com/tokibito/fruit-game/internal/config"
	"github.com/tokibito/fruit-game/internal/lifecycle"
	"github.com/tokibito/fruit-game/internal/logging"
	"github.com/tokibito/fruit-game/internal/metrics"
	"github.com/tokibito/fruit-game/internal/middleware"
	"github.com/tokibito/fruit-game/internal/proxy"
	"github.com/tokibito/fruit-game/internal/store"
	"github.com/tokibito/fruit-game/internal/upstream"
	"github.com/tokibito/fruit-game/internal/version"
)

func main() {
	configPath := flag.String("config", "./configs/fruit-worker.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	originURL, err := url.Parse(cfg.Origin)
	if err != nil {
		log.Fatalf("parse origin %q: %v", cfg.Origin, err)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	metrics.Init()
	logger := logging.New()

	var st store.Store
	switch cfg.Store.Backend {
	case "redis":
		st = store.OpenRedis(cfg.Store.Redis.Addr, cfg.Store.Redis.DB)
	default:
		st, err = store.OpenLevelDB(cfg.Store.Path)
		if err != nil {
			log.Fatalf("open store: %v", err)
		}
	}

	transport := upstream.NewTransport()
	fetcher := upstream.NewClient(transport, cfg.FetchTimeout)

	sets := cacheset.New(fetcher)
	registry := client.NewRegistry(logger)
	gate := version.NewGate(st, fetcher, cfg.Origin+cfg.Version.Descriptor, registry, logger)
	controller := lifecycle.NewController(cfg, sets, st, gate, registry, fetcher, logger)
	pending := &lifecycle.PendingWork{}

	interceptor := proxy.NewInterceptor(originURL, sets, st, transport, pending, controller.Generation, logger)

	if err := controller.Run(bgCtx); err != nil {
		log.Fatalf("worker discarded: %v", err)
	}

	if cfg.Version.CheckEvery > 0 {
		go gate.RunPeriodic(bgCtx, cfg.Version.CheckEvery)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/worker/events", registry)
	mux.Handle("/", middleware.Chain(interceptor, middleware.RequestLog(logger)))

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
	}

	go func() {
		log.Printf("Listening on %s (generation %s)", srv.Addr, controller.Generation())
		if cfg.Server.TLS.Enabled {
			if err := srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile); err != nil && err != http.ErrServerClosed {
				log.Fatalf("server TLS error: %v", err)
			}
		} else {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("server error: %v", err)
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down gracefully...")
	bgCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Background write-throughs are pending lifecycle work; losing one is a
	// correctness gap, so drain them before the store closes — on a budget
	// of their own, not whatever the server drain left over.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	if err := pending.Wait(drainCtx); err != nil {
		log.Printf("Pending cache writes abandoned: %v", err)
	}
	if err := st.Close(); err != nil {
		log.Printf("Store close error: %v", err)
	}
}
