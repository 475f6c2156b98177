package clerk

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kabsmeiou/Pamahres/internal/cache"
	"github.com/kabsmeiou/Pamahres/pkg/logger"
	"github.com/kabsmeiou/Pamahres/pkg/metrics"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"
)

// JWKSCacheKey is the cache entry holding the raw key set. It is stored without expiry.
const JWKSCacheKey = "jwks_data"

const maxJWKSBody = 1 << 20

// JWKSURL returns the well-known key set location for a Clerk frontend API.
func JWKSURL(frontendAPIURL string) string {
	return strings.TrimRight(frontendAPIURL, "/") + "/.well-known/jwks.json"
}

// JWKS fetches the provider key set and keeps the raw response in the shared cache.
type JWKS struct {
	url          string
	http         *http.Client
	cache        cache.Cache
	group        singleflight.Group
	fetchTimeout time.Duration

	// minimum spacing between forced refreshes triggered by unknown key IDs
	refreshEvery time.Duration
	mu           sync.Mutex
	lastRefresh  time.Time
}

func NewJWKS(jwksURL string, c cache.Cache, httpClient *http.Client) *JWKS {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKS{url: jwksURL, http: httpClient, cache: c, fetchTimeout: 15 * time.Second, refreshEvery: time.Minute}
}

// Get returns the cached key set, fetching and caching it on a miss.
func (j *JWKS) Get(ctx context.Context) (jwk.Set, error) {
	b, ok, err := j.cache.Get(ctx, JWKSCacheKey)
	if err != nil {
		logger.Warnf("jwks cache read failed, fetching from provider: %v", err)
	}
	if ok {
		set, perr := jwk.Parse(b)
		if perr == nil {
			metrics.CacheLookups.WithLabelValues("jwks", "hit").Inc()
			return set, nil
		}
		logger.Warnf("discarding unparseable cached jwks: %v", perr)
		if err := j.cache.Delete(ctx, JWKSCacheKey); err != nil {
			logger.Warnf("failed to evict cached jwks: %v", err)
		}
	}
	metrics.CacheLookups.WithLabelValues("jwks", "miss").Inc()
	return j.load(ctx)
}

// Refresh refetches the key set regardless of the cache. Calls closer together
// than the refresh interval return the cached set instead.
func (j *JWKS) Refresh(ctx context.Context) (jwk.Set, error) {
	j.mu.Lock()
	recent := time.Since(j.lastRefresh) < j.refreshEvery
	if !recent {
		j.lastRefresh = time.Now()
	}
	j.mu.Unlock()
	if recent {
		return j.Get(ctx)
	}
	logger.Infof("refreshing jwks from %s", j.url)
	return j.load(ctx)
}

// load fetches once for all concurrent callers. The shared fetch is detached
// from the caller that started it; each caller still stops waiting when its
// own ctx ends.
func (j *JWKS) load(ctx context.Context) (jwk.Set, error) {
	ch := j.group.DoChan(JWKSCacheKey, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.fetchTimeout)
		defer cancel()
		return j.fetch(fctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(jwk.Set), nil
	}
}

func (j *JWKS) fetch(ctx context.Context) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}
	resp, err := j.http.Do(req)
	if err != nil {
		metrics.ClerkRequests.WithLabelValues("jwks", "error").Inc()
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	metrics.ClerkRequests.WithLabelValues("jwks", strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBody))
	if err != nil {
		return nil, fmt.Errorf("read jwks: %w", err)
	}
	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse jwks: %w", err)
	}

	if err := j.cache.Set(ctx, JWKSCacheKey, body, 0); err != nil {
		logger.Warnf("failed to cache jwks: %v", err)
	}
	logger.Debugf("fetched jwks from %s (%d keys)", j.url, set.Len())
	return set, nil
}
