package cacheset

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
)

// CachedResponse is one stored request/response pair. Bodies are copied on
// Put and on Match so every consumer gets an independently consumable copy.
type CachedResponse struct {
	StatusCode int
	StatusText string
	Header     http.Header
	Body       []byte
}

func (r *CachedResponse) clone() *CachedResponse {
	body := make([]byte, len(r.Body))
	copy(body, r.Body)
	return &CachedResponse{
		StatusCode: r.StatusCode,
		StatusText: r.StatusText,
		Header:     cloneHeader(r.Header),
		Body:       body,
	}
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}

// NormalizeURL reduces a request URL to its origin path plus query, the form
// used as the lookup key across both cache tiers.
func NormalizeURL(u *url.URL) string {
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		return path + "?" + u.RawQuery
	}
	return path
}

func entryKey(method, normalized string) string {
	return method + " " + normalized
}

// Fetcher issues origin requests during bulk population.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// CacheSet holds named, wholesale-replaceable generations of cached
// responses. Each generation belongs to one deployment.
type CacheSet struct {
	mu    sync.RWMutex
	gens  map[string]map[string]*CachedResponse
	fetch Fetcher
}

func New(fetch Fetcher) *CacheSet {
	return &CacheSet{
		gens:  make(map[string]map[string]*CachedResponse),
		fetch: fetch,
	}
}

// Open returns a handle to the named generation, creating it if absent.
func (s *CacheSet) Open(name string) *Generation {
	s.mu.Lock()
	if _, ok := s.gens[name]; !ok {
		s.gens[name] = make(map[string]*CachedResponse)
	}
	s.mu.Unlock()
	return &Generation{name: name, set: s}
}

// Delete removes a whole generation atomically.
func (s *CacheSet) Delete(name string) {
	s.mu.Lock()
	delete(s.gens, name)
	s.mu.Unlock()
}

// List enumerates all generation names currently held.
func (s *CacheSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.gens))
	for name := range s.gens {
		out = append(out, name)
	}
	return out
}

// Generation is a handle to one named generation inside a CacheSet.
type Generation struct {
	name string
	set  *CacheSet
}

func (g *Generation) Name() string {
	return g.name
}

// AddAll fetches every URL and stores the responses under this generation.
// The batch is all-or-nothing: any fetch error or non-2xx status aborts with
// nothing stored.
func (g *Generation) AddAll(ctx context.Context, urls []string) error {
	staged := make(map[string]*CachedResponse, len(urls))

	for _, raw := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
		if err != nil {
			return fmt.Errorf("build request %q: %w", raw, err)
		}

		resp, err := g.set.fetch.Do(req)
		if err != nil {
			return fmt.Errorf("fetch %q: %w", raw, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("read %q: %w", raw, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("fetch %q: unexpected status %s", raw, resp.Status)
		}

		staged[entryKey(http.MethodGet, NormalizeURL(req.URL))] = &CachedResponse{
			StatusCode: resp.StatusCode,
			StatusText: resp.Status,
			Header:     cloneHeader(resp.Header),
			Body:       body,
		}
	}

	g.set.mu.Lock()
	gen, ok := g.set.gens[g.name]
	if !ok {
		gen = make(map[string]*CachedResponse)
		g.set.gens[g.name] = gen
	}
	for k, v := range staged {
		gen[k] = v
	}
	g.set.mu.Unlock()
	return nil
}

// Match returns a stored response for an equivalent request, or false.
func (g *Generation) Match(req *http.Request) (*CachedResponse, bool) {
	key := entryKey(req.Method, NormalizeURL(req.URL))

	g.set.mu.RLock()
	gen, ok := g.set.gens[g.name]
	if !ok {
		g.set.mu.RUnlock()
		return nil, false
	}
	entry, ok := gen[key]
	g.set.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return entry.clone(), true
}

// Put stores a single entry, overwriting any prior entry for the same
// request. The response is copied so the caller's buffer stays independent.
func (g *Generation) Put(req *http.Request, resp *CachedResponse) {
	key := entryKey(req.Method, NormalizeURL(req.URL))
	entry := resp.clone()

	g.set.mu.Lock()
	gen, ok := g.set.gens[g.name]
	if !ok {
		gen = make(map[string]*CachedResponse)
		g.set.gens[g.name] = gen
	}
	gen[key] = entry
	g.set.mu.Unlock()
}
