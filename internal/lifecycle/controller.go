package lifecycle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tokibito/fruit-game/internal/cacheset"
	"github.com/tokibito/fruit-game/internal/client"
	"github.com/tokibito/fruit-game/internal/config"
	"github.com/tokibito/fruit-game/internal/logging"
	"github.com/tokibito/fruit-game/internal/metrics"
	"github.com/tokibito/fruit-game/internal/store"
	"github.com/tokibito/fruit-game/internal/version"
)

type State int32

const (
	StateNew State = iota
	StateInstalling
	StateActivating
	StateActive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInstalling:
		return "installing"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Controller drives the worker through install and activate for one
// deployment. Install populates both cache tiers from the precache manifest;
// activate garbage-collects stale generations, claims connected pages and
// runs the version gate.
type Controller struct {
	cfg     *config.Config
	sets    *cacheset.CacheSet
	store   store.Store
	gate    *version.Gate
	clients *client.Registry
	fetch   cacheset.Fetcher
	logger  logging.Logger

	state atomic.Int32
}

func NewController(
	cfg *config.Config,
	sets *cacheset.CacheSet,
	st store.Store,
	gate *version.Gate,
	clients *client.Registry,
	fetch cacheset.Fetcher,
	logger logging.Logger,
) *Controller {
	return &Controller{
		cfg:     cfg,
		sets:    sets,
		store:   st,
		gate:    gate,
		clients: clients,
		fetch:   fetch,
		logger:  logger,
	}
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) Generation() string {
	return c.cfg.GenerationName()
}

// Run executes install then activate, strictly in that order. An install
// error aborts the whole deployment: the caller must discard this worker and
// leave whatever was previously serving in control.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.install(ctx); err != nil {
		c.state.Store(int32(StateFailed))
		metrics.IncInstall("failure")
		return fmt.Errorf("install: %w", err)
	}
	metrics.IncInstall("success")

	c.activate(ctx)
	c.state.Store(int32(StateActive))
	return nil
}

func (c *Controller) install(ctx context.Context) error {
	c.state.Store(int32(StateInstalling))
	generation := c.cfg.GenerationName()
	c.logger.Info("installing", "generation", generation)

	urls := make([]string, 0, len(c.cfg.Precache))
	for _, path := range c.cfg.Precache {
		urls = append(urls, c.cfg.Origin+path)
	}

	// Mandatory phase: the whole manifest lands in the current generation or
	// the install fails.
	gen := c.sets.Open(generation)
	if err := gen.AddAll(ctx, urls); err != nil {
		return fmt.Errorf("precache %s: %w", generation, err)
	}

	// Durable second pass, per-item tolerant: one bad resource must not cost
	// the rest of the batch its persistence.
	stored := 0
	for _, raw := range urls {
		if err := c.persistOne(ctx, raw); err != nil {
			c.logger.Warn("durable precache skipped", "url", raw, "error", err)
			continue
		}
		stored++
	}

	// Install is complete: this worker supersedes any previous one
	// immediately, no waiting for open pages to close.
	c.logger.Info("installed", "generation", generation, "precached", len(urls), "persisted", stored)
	return nil
}

func (c *Controller) persistOne(ctx context.Context, raw string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return err
	}
	resp, err := c.fetch.Do(req)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	return c.store.Put(ctx, &store.Resource{
		URL:        cacheset.NormalizeURL(req.URL),
		Body:       body,
		StatusCode: resp.StatusCode,
		StatusText: resp.Status,
		Header:     resp.Header,
		StoredAt:   time.Now().Unix(),
	})
}

func (c *Controller) activate(ctx context.Context) {
	c.state.Store(int32(StateActivating))
	current := c.cfg.GenerationName()

	for _, name := range c.sets.List() {
		if name == current {
			continue
		}
		c.sets.Delete(name)
		c.logger.Info("stale generation removed", "generation", name)
	}

	claimed := c.clients.ClaimAll(current)

	result := c.gate.Check(ctx)
	c.logger.Info("activated",
		"generation", current,
		"clients", claimed,
		"version", result.String(),
	)
}
