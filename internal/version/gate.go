package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tokibito/fruit-game/internal/client"
	"github.com/tokibito/fruit-game/internal/logging"
	"github.com/tokibito/fruit-game/internal/metrics"
	"github.com/tokibito/fruit-game/internal/store"
)

type Result int

const (
	NoUpdate Result = iota
	UpdateAvailable
)

func (r Result) String() string {
	if r == UpdateAvailable {
		return "update-available"
	}
	return "no-update"
}

type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

type descriptor struct {
	Version string `json:"version"`
}

// Gate compares the origin's declared deployment version against the last
// persisted one and notifies controlled pages when they differ. An
// unreachable origin is never mistaken for a version change.
type Gate struct {
	store         store.Store
	fetch         Fetcher
	descriptorURL string
	clients       *client.Registry
	logger        logging.Logger
}

func NewGate(st store.Store, fetch Fetcher, descriptorURL string, clients *client.Registry, logger logging.Logger) *Gate {
	return &Gate{
		store:         st,
		fetch:         fetch,
		descriptorURL: descriptorURL,
		clients:       clients,
		logger:        logger,
	}
}

// Check runs one version comparison. Failures never propagate: fetch or
// store trouble degrades to NoUpdate with a logged diagnostic.
func (g *Gate) Check(ctx context.Context) Result {
	declared, ok := g.fetchDeclared(ctx)
	if !ok {
		metrics.IncVersionCheck("unreachable")
		return NoUpdate
	}

	prior := ""
	rec, err := g.store.GetVersion(ctx)
	switch {
	case err == nil:
		prior = rec.Version
	case errors.Is(err, store.ErrNotFound):
	default:
		g.logger.Error("read version record", "error", err)
	}

	switch prior {
	case declared:
		metrics.IncVersionCheck("no-update")
		return NoUpdate
	case "":
		// First run is not a change.
		if err := g.store.PutVersion(ctx, declared); err != nil {
			g.logger.Error("persist version record", "error", err)
		}
		g.logger.Info("version recorded", "version", declared)
		metrics.IncVersionCheck("first-run")
		return NoUpdate
	default:
		if err := g.store.PutVersion(ctx, declared); err != nil {
			g.logger.Error("persist version record", "error", err)
		}
		notified := g.clients.Broadcast(client.Notification{
			Type:    client.TypeVersionUpdate,
			Message: fmt.Sprintf("A new version (%s) is available. Reload to update.", declared),
		})
		g.logger.Info("version update detected",
			"previous", prior,
			"current", declared,
			"notified", notified,
		)
		metrics.IncVersionCheck("update")
		return UpdateAvailable
	}
}

// RunPeriodic re-checks the descriptor on a fixed interval until the context
// ends, so long-running workers notice redeployments between restarts.
func (g *Gate) RunPeriodic(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			g.Check(ctx)
		}
	}
}

func (g *Gate) fetchDeclared(ctx context.Context) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.descriptorURL, nil)
	if err != nil {
		g.logger.Error("build version request", "error", err)
		return "", false
	}

	resp, err := g.fetch.Do(req)
	if err != nil {
		g.logger.Info("version descriptor unreachable, assuming no update", "error", err)
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.logger.Warn("version descriptor fetch failed", "status", resp.Status)
		return "", false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		g.logger.Warn("read version descriptor", "error", err)
		return "", false
	}

	var d descriptor
	if err := json.Unmarshal(body, &d); err != nil {
		g.logger.Warn("parse version descriptor", "error", err)
		return "", false
	}
	if d.Version == "" {
		g.logger.Warn("version descriptor missing version field")
		return "", false
	}
	return d.Version, true
}
