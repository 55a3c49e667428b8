package lifecycle_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/tokibito/fruit-game/internal/cacheset"
	"github.com/tokibito/fruit-game/internal/client"
	"github.com/tokibito/fruit-game/internal/config"
	"github.com/tokibito/fruit-game/internal/lifecycle"
	"github.com/tokibito/fruit-game/internal/logging"
	"github.com/tokibito/fruit-game/internal/store"
	"github.com/tokibito/fruit-game/internal/version"
)

type countingOrigin struct {
	mu     sync.Mutex
	served map[string]int
	broken map[string]bool // paths that always fail
	flaky  map[string]bool // paths that fail from the second request on
}

func newCountingOrigin() *countingOrigin {
	return &countingOrigin{
		served: make(map[string]int),
		broken: make(map[string]bool),
		flaky:  make(map[string]bool),
	}
}

func (o *countingOrigin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	o.served[r.URL.Path]++
	n := o.served[r.URL.Path]
	broken := o.broken[r.URL.Path]
	flaky := o.flaky[r.URL.Path] && n > 1
	o.mu.Unlock()

	if broken || flaky {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if r.URL.Path == "/version.json" {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"version":"1.0.0"}`))
		return
	}
	w.Write([]byte("content of " + r.URL.Path))
}

type testWorld struct {
	cfg        *config.Config
	controller *lifecycle.Controller
	sets       *cacheset.CacheSet
	store      store.Store
	registry   *client.Registry
}

func newTestWorld(t *testing.T, origin *httptest.Server, deployVersion string, precache []string) *testWorld {
	t.Helper()

	cfg := &config.Config{
		Origin:     origin.URL,
		Cache:      config.CacheConfig{Name: "fruit-game-cache"},
		Deployment: config.DeploymentConfig{Version: deployVersion},
		Precache:   precache,
		Version:    config.VersionConfig{Descriptor: "/version.json"},
	}

	st, err := store.OpenLevelDB(t.TempDir() + "/db")
	if err != nil {
		t.Fatalf("OpenLevelDB: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := logging.New()
	sets := cacheset.New(origin.Client())
	registry := client.NewRegistry(logger)
	gate := version.NewGate(st, origin.Client(), origin.URL+cfg.Version.Descriptor, registry, logger)

	return &testWorld{
		cfg:        cfg,
		controller: lifecycle.NewController(cfg, sets, st, gate, registry, origin.Client(), logger),
		sets:       sets,
		store:      st,
		registry:   registry,
	}
}

func TestInstallPopulatesBothTiers(t *testing.T) {
	origin := newCountingOrigin()
	srv := httptest.NewServer(origin)
	defer srv.Close()

	precache := []string{"/index.html", "/manifest.json", "/resources/apple.png"}
	w := newTestWorld(t, srv, "v1", precache)

	if err := w.controller.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := w.controller.State(); got != lifecycle.StateActive {
		t.Fatalf("State = %v, want active", got)
	}

	gen := w.sets.Open(w.cfg.GenerationName())
	for _, path := range precache {
		req := httptest.NewRequest(http.MethodGet, "http://localhost"+path, nil)
		cached, ok := gen.Match(req)
		if !ok {
			t.Fatalf("generation missing %s after install", path)
		}
		if cached.StatusCode != 200 {
			t.Errorf("generation %s: status = %d, want 200", path, cached.StatusCode)
		}

		res, err := w.store.Get(context.Background(), path)
		if err != nil {
			t.Fatalf("store missing %s after install: %v", path, err)
		}
		if res.StatusCode != 200 {
			t.Errorf("store %s: status = %d, want 200", path, res.StatusCode)
		}
	}
}

func TestInstallAbortsOnFailedPrecacheFetch(t *testing.T) {
	origin := newCountingOrigin()
	origin.broken["/resources/apple.png"] = true
	srv := httptest.NewServer(origin)
	defer srv.Close()

	w := newTestWorld(t, srv, "v1", []string{"/index.html", "/resources/apple.png"})

	if err := w.controller.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded despite failed precache fetch")
	}
	if got := w.controller.State(); got != lifecycle.StateFailed {
		t.Fatalf("State = %v, want failed", got)
	}

	// All-or-nothing: the URL that would have succeeded is absent too.
	gen := w.sets.Open(w.cfg.GenerationName())
	req := httptest.NewRequest(http.MethodGet, "http://localhost/index.html", nil)
	if _, ok := gen.Match(req); ok {
		t.Error("partial precache was committed")
	}
}

func TestInstallToleratesPerItemStoreFailures(t *testing.T) {
	origin := newCountingOrigin()
	// First fetch (precache batch) succeeds, the durable second pass fails.
	origin.flaky["/manifest.json"] = true
	srv := httptest.NewServer(origin)
	defer srv.Close()

	w := newTestWorld(t, srv, "v1", []string{"/index.html", "/manifest.json"})

	if err := w.controller.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The flaky resource is in the generation but was skipped by the store.
	gen := w.sets.Open(w.cfg.GenerationName())
	req := httptest.NewRequest(http.MethodGet, "http://localhost/manifest.json", nil)
	if _, ok := gen.Match(req); !ok {
		t.Error("generation missing resource cached during the mandatory pass")
	}
	if _, err := w.store.Get(context.Background(), "/index.html"); err != nil {
		t.Errorf("healthy resource missing from store: %v", err)
	}
}

func TestActivationRemovesStaleGenerations(t *testing.T) {
	origin := newCountingOrigin()
	srv := httptest.NewServer(origin)
	defer srv.Close()

	w := newTestWorld(t, srv, "v2", []string{"/index.html"})

	// Generations left behind by earlier deployments.
	w.sets.Open("fruit-game-cache-v0")
	w.sets.Open("fruit-game-cache-v1")

	if err := w.controller.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	names := w.sets.List()
	if len(names) != 1 || names[0] != "fruit-game-cache-v2" {
		t.Fatalf("generations after activation = %v, want [fruit-game-cache-v2]", names)
	}
}

func TestActivationClaimsClientsAndSurvivesGateFailure(t *testing.T) {
	origin := newCountingOrigin()
	origin.broken["/version.json"] = true // gate sees a failing descriptor
	srv := httptest.NewServer(origin)
	defer srv.Close()

	w := newTestWorld(t, srv, "v1", []string{"/index.html"})
	w.registry.Register()

	if err := w.controller.Run(context.Background()); err != nil {
		t.Fatalf("Run failed on gate error: %v", err)
	}
	if got := w.controller.State(); got != lifecycle.StateActive {
		t.Fatalf("State = %v, want active", got)
	}

	// The connected page is now controlled: a later broadcast reaches it.
	if got := w.registry.Broadcast(client.Notification{Type: client.TypeVersionUpdate, Message: "m"}); got != 1 {
		t.Errorf("Broadcast after activation delivered %d, want 1", got)
	}
}
