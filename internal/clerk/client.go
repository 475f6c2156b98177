package clerk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kabsmeiou/Pamahres/internal/cache"
	"github.com/kabsmeiou/Pamahres/pkg/logger"
	"github.com/kabsmeiou/Pamahres/pkg/metrics"
	"golang.org/x/time/rate"
)

const (
	DefaultAPIURL      = "https://api.clerk.com/v1"
	DefaultUserInfoTTL = 24 * time.Hour
)

// UserInfo is the subset of a Clerk user used to provision a local account.
type UserInfo struct {
	EmailAddress string     `json:"email_address"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	LastLogin    *time.Time `json:"last_login"`
}

// UserInfoCacheKey is the cache entry for a user's parsed profile.
func UserInfoCacheKey(userID string) string {
	return "user_info_" + userID
}

// apiUser mirrors the fields read from GET /users/{id}.
type apiUser struct {
	EmailAddresses []struct {
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
	FirstName    *string `json:"first_name"`
	LastName     *string `json:"last_name"`
	LastSignInAt *int64  `json:"last_sign_in_at"`
}

func (u apiUser) info() UserInfo {
	var info UserInfo
	if len(u.EmailAddresses) > 0 {
		info.EmailAddress = u.EmailAddresses[0].EmailAddress
	}
	if u.FirstName != nil {
		info.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		info.LastName = *u.LastName
	}
	if u.LastSignInAt != nil {
		t := time.UnixMilli(*u.LastSignInAt).UTC()
		info.LastLogin = &t
	}
	return info
}

// Client calls the Clerk backend API with the server secret key.
type Client struct {
	apiURL    string
	secretKey string
	http      *http.Client
	cache     cache.Cache
	ttl       time.Duration
	limiter   *rate.Limiter
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption { return func(c *Client) { c.http = h } }

func WithUserInfoTTL(ttl time.Duration) ClientOption { return func(c *Client) { c.ttl = ttl } }

// WithRateLimit caps outbound backend API calls. rps <= 0 disables the limit.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func NewClient(apiURL, secretKey string, c cache.Cache, opts ...ClientOption) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	cl := &Client{
		apiURL:    strings.TrimRight(apiURL, "/"),
		secretKey: secretKey,
		http:      &http.Client{Timeout: 10 * time.Second},
		cache:     c,
		ttl:       DefaultUserInfoTTL,
		limiter:   rate.NewLimiter(rate.Limit(10), 10),
	}
	for _, o := range opts {
		o(cl)
	}
	return cl
}

// FetchUserInfo resolves a Clerk user ID to profile attributes. A false flag
// means the provider could not be reached or refused the request; the returned
// record is then zero-valued.
func (c *Client) FetchUserInfo(ctx context.Context, userID string) (UserInfo, bool) {
	key := UserInfoCacheKey(userID)
	b, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		logger.Warnf("user info cache read failed for %s: %v", userID, err)
	}
	if ok {
		var info UserInfo
		if err := json.Unmarshal(b, &info); err == nil {
			metrics.CacheLookups.WithLabelValues("user_info", "hit").Inc()
			return info, true
		}
		logger.Warnf("discarding unparseable cached user info for %s", userID)
	}
	metrics.CacheLookups.WithLabelValues("user_info", "miss").Inc()

	info, err := c.getUser(ctx, userID)
	if err != nil {
		logger.Warnf("clerk user lookup failed for %s: %v", userID, err)
		return UserInfo{}, false
	}

	if enc, err := json.Marshal(info); err == nil {
		if err := c.cache.Set(ctx, key, enc, c.ttl); err != nil {
			logger.Warnf("failed to cache user info for %s: %v", userID, err)
		}
	}
	return info, true
}

func (c *Client) getUser(ctx context.Context, userID string) (UserInfo, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return UserInfo{}, fmt.Errorf("rate limiter: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/users/"+url.PathEscape(userID), nil)
	if err != nil {
		return UserInfo{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ClerkRequests.WithLabelValues("users", "error").Inc()
		return UserInfo{}, err
	}
	defer resp.Body.Close()
	metrics.ClerkRequests.WithLabelValues("users", strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		return UserInfo{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var u apiUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return UserInfo{}, fmt.Errorf("decode user: %w", err)
	}
	return u.info(), nil
}
