package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tokibito/fruit-game/internal/cacheset"
	"github.com/tokibito/fruit-game/internal/lifecycle"
	"github.com/tokibito/fruit-game/internal/logging"
	"github.com/tokibito/fruit-game/internal/metrics"
	"github.com/tokibito/fruit-game/internal/store"
)

// OfflineBody is the fixed placeholder returned for uncached requests while
// the origin is unreachable.
const OfflineBody = "Offline: the requested resource is not cached.\n"

type Transport interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// Interceptor serves every game resource request through the read chain:
// current cache generation, then the durable store, then the origin. Origin
// responses are written back into both tiers without delaying the caller.
type Interceptor struct {
	origin     *url.URL
	sets       *cacheset.CacheSet
	store      store.Store
	transport  Transport
	pending    *lifecycle.PendingWork
	generation func() string
	logger     logging.Logger
}

func NewInterceptor(
	origin *url.URL,
	sets *cacheset.CacheSet,
	st store.Store,
	transport Transport,
	pending *lifecycle.PendingWork,
	generation func() string,
	logger logging.Logger,
) *Interceptor {
	return &Interceptor{
		origin:     origin,
		sets:       sets,
		store:      st,
		transport:  transport,
		pending:    pending,
		generation: generation,
		logger:     logger,
	}
}

func (i *Interceptor) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	start := time.Now()
	ctx := req.Context()
	normalized := cacheset.NormalizeURL(req.URL)

	cacheableMethod := req.Method == http.MethodGet || req.Method == http.MethodHead

	if cacheableMethod {
		gen := i.sets.Open(i.generation())
		if cached, ok := gen.Match(req); ok {
			metrics.IncCacheHit("generation")
			i.writeCached(rw, cached)
			metrics.ObserveRequest("generation", req.Method, strconv.Itoa(cached.StatusCode), time.Since(start))
			return
		}

		res, err := i.store.Get(ctx, normalized)
		if err == nil {
			metrics.IncCacheHit("store")
			i.writeCached(rw, &cacheset.CachedResponse{
				StatusCode: res.StatusCode,
				StatusText: res.StatusText,
				Header:     res.Header,
				Body:       res.Body,
			})
			metrics.ObserveRequest("store", req.Method, strconv.Itoa(res.StatusCode), time.Since(start))
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			i.logger.Error("store lookup failed, treating as miss", "url", normalized, "error", err)
		}
	}

	metrics.IncCacheMiss()

	outReq, err := i.originRequest(ctx, req, normalized)
	if err != nil {
		i.logger.Error("build origin request", "url", normalized, "error", err)
		i.writeOffline(rw, req, start)
		return
	}

	resp, err := i.transport.RoundTrip(outReq)
	if err != nil {
		i.logger.Info("origin unreachable", "url", normalized, "error", err)
		i.writeOffline(rw, req, start)
		return
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		i.logger.Info("origin response truncated", "url", normalized, "error", err)
		i.writeOffline(rw, req, start)
		return
	}

	cached := &cacheset.CachedResponse{
		StatusCode: resp.StatusCode,
		StatusText: resp.Status,
		Header:     resp.Header,
		Body:       body,
	}
	i.writeCached(rw, cached)
	metrics.ObserveRequest("network", req.Method, strconv.Itoa(resp.StatusCode), time.Since(start))

	if !cacheableMethod || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return
	}

	// Write-through happens after the response is on the wire and is tracked
	// as pending work so shutdown does not lose it. The request context is
	// gone by then, so the writes run under their own.
	method := req.Method
	i.pending.Go(func() {
		i.writeThrough(method, normalized, cached)
	})
}

func (i *Interceptor) writeThrough(method, normalized string, cached *cacheset.CachedResponse) {
	gen := i.sets.Open(i.generation())
	genReq, err := http.NewRequest(method, normalized, nil)
	if err == nil {
		gen.Put(genReq, cached)
	}

	// The store is keyed by URL alone, so only GET bodies are persisted; a
	// HEAD response must not clobber the stored resource.
	if method != http.MethodGet {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = i.store.Put(ctx, &store.Resource{
		URL:        normalized,
		Body:       cached.Body,
		StatusCode: cached.StatusCode,
		StatusText: cached.StatusText,
		Header:     cached.Header,
		StoredAt:   time.Now().Unix(),
	})
	if err != nil {
		i.logger.Error("write-through to store failed", "url", normalized, "error", err)
	}
}

func (i *Interceptor) originRequest(ctx context.Context, req *http.Request, normalized string) (*http.Request, error) {
	target := *i.origin
	target.Path = req.URL.Path
	target.RawQuery = req.URL.RawQuery

	outReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), req.Body)
	if err != nil {
		return nil, fmt.Errorf("origin request %q: %w", normalized, err)
	}
	outReq.ContentLength = req.ContentLength
	for k, vs := range req.Header {
		for _, v := range vs {
			outReq.Header.Add(k, v)
		}
	}
	outReq.Header.Set("Accept-Encoding", "identity")
	return outReq, nil
}

func (i *Interceptor) writeCached(rw http.ResponseWriter, cached *cacheset.CachedResponse) {
	for k, vs := range cached.Header {
		if k == "Content-Length" {
			continue
		}
		for _, v := range vs {
			rw.Header().Add(k, v)
		}
	}
	rw.WriteHeader(cached.StatusCode)
	_, _ = rw.Write(cached.Body)
}

func (i *Interceptor) writeOffline(rw http.ResponseWriter, req *http.Request, start time.Time) {
	metrics.IncOfflineFallback()
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(http.StatusServiceUnavailable)
	_, _ = rw.Write([]byte(OfflineBody))
	metrics.ObserveRequest("offline", req.Method, strconv.Itoa(http.StatusServiceUnavailable), time.Since(start))
}
