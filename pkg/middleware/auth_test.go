package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kabsmeiou/Pamahres/internal/auth"
	"github.com/kabsmeiou/Pamahres/internal/cache"
	"github.com/kabsmeiou/Pamahres/internal/clerk"
	"github.com/kabsmeiou/Pamahres/internal/clerk/clerktest"
	"github.com/kabsmeiou/Pamahres/internal/models"
	"github.com/kabsmeiou/Pamahres/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeProvisioner struct {
	mu    sync.Mutex
	users map[string]*models.User
	err   error
}

func (f *fakeProvisioner) ResolveOrCreate(ctx context.Context, subject string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.users == nil {
		f.users = map[string]*models.User{}
	}
	u, ok := f.users[subject]
	if !ok {
		u = &models.User{ID: "id-" + subject, Username: subject}
		f.users[subject] = u
	}
	return u, nil
}

type fixture struct {
	key   *clerktest.Key
	srv   *clerktest.Server
	cache *cache.Memory
	users *fakeProvisioner
	authn *Authenticator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	key := clerktest.NewKey(t, "ins_1")
	srv := clerktest.NewServer(t, clerktest.JWKS(t, key))
	c := cache.NewMemory()
	jwks := clerk.NewJWKS(clerk.JWKSURL(srv.URL), c, srv.Client())
	users := &fakeProvisioner{}
	return &fixture{
		key:   key,
		srv:   srv,
		cache: c,
		users: users,
		authn: NewAuthenticator(auth.NewVerifier(jwks), users),
	}
}

func (f *fixture) router() *gin.Engine {
	g := gin.New()
	g.GET("/", Authenticate(f.authn), func(c *gin.Context) {
		if u := CurrentUser(c); u != nil {
			c.JSON(http.StatusOK, gin.H{"username": u.Username})
			return
		}
		c.JSON(http.StatusOK, gin.H{"username": nil})
	})
	g.GET("/private", Authenticate(f.authn), RequireUser(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"username": CurrentUser(c).Username})
	})
	return g
}

func do(g *gin.Engine, path, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rw := httptest.NewRecorder()
	g.ServeHTTP(rw, req)
	return rw
}

func body(t *testing.T, rw *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &m))
	return m
}

func TestAuthenticate_NoHeaderIsAnonymous(t *testing.T) {
	f := newFixture(t)
	u, err := f.authn.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.Nil(t, u)
	require.Equal(t, int32(0), f.srv.JWKSHits.Load())

	rw := do(f.router(), "/", "")
	require.Equal(t, http.StatusOK, rw.Code)
	require.Nil(t, body(t, rw)["username"])
}

func TestAuthenticate_BearerWithoutToken(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer")
	rejected := testutil.ToFloat64(metrics.AuthAttempts.WithLabelValues("rejected"))
	_, err := f.authn.Authenticate(req)
	require.ErrorIs(t, err, auth.ErrBearerMissing)
	require.Equal(t, rejected+1, testutil.ToFloat64(metrics.AuthAttempts.WithLabelValues("rejected")))

	rw := do(f.router(), "/", "Bearer")
	require.Equal(t, http.StatusUnauthorized, rw.Code)
	require.Equal(t, "Bearer token not provided", body(t, rw)["detail"])
}

func TestAuthenticate_ValidToken(t *testing.T) {
	f := newFixture(t)
	tok := f.key.Sign(t, clerktest.Claims("user_123", time.Hour), true)

	rw := do(f.router(), "/", "Bearer "+tok)
	require.Equal(t, http.StatusOK, rw.Code)
	require.Equal(t, "user_123", body(t, rw)["username"])

	// the scheme word itself is not checked
	rw = do(f.router(), "/", "Token "+tok)
	require.Equal(t, http.StatusOK, rw.Code)
	require.Equal(t, "user_123", body(t, rw)["username"])
}

func TestAuthenticate_NoSubjectIsAnonymous(t *testing.T) {
	f := newFixture(t)
	tok := f.key.Sign(t, clerktest.Claims("", time.Hour), true)

	u, err := f.authn.Authenticate(requestWith(tok))
	require.NoError(t, err)
	require.Nil(t, u)
	require.Empty(t, f.users.users)
}

func TestAuthenticate_ExpiredToken(t *testing.T) {
	f := newFixture(t)
	tok := f.key.Sign(t, clerktest.Claims("user_123", -time.Hour), true)

	rw := do(f.router(), "/", "Bearer "+tok)
	require.Equal(t, http.StatusUnauthorized, rw.Code)
	require.Equal(t, "Token has expired", body(t, rw)["detail"])
	require.Empty(t, f.users.users)
}

func TestAuthenticate_GarbageToken(t *testing.T) {
	f := newFixture(t)
	rw := do(f.router(), "/", "Bearer not-a-jwt")
	require.Equal(t, http.StatusUnauthorized, rw.Code)
	require.Equal(t, "Token decode error", body(t, rw)["detail"])
}

func TestAuthenticate_KeyFetchFailure(t *testing.T) {
	f := newFixture(t)
	f.srv.JWKSCode.Store(http.StatusInternalServerError)
	tok := f.key.Sign(t, clerktest.Claims("user_123", time.Hour), true)

	_, err := f.authn.Authenticate(requestWith(tok))
	require.ErrorIs(t, err, auth.ErrKeyFetch)

	rw := do(f.router(), "/", "Bearer "+tok)
	require.Equal(t, http.StatusUnauthorized, rw.Code)
	require.Equal(t, "Failed to fetch JWKS", body(t, rw)["detail"])
}

func TestAuthenticate_UsesCachedKeySet(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.Set(context.Background(), clerk.JWKSCacheKey, clerktest.JWKS(t, f.key), 0))
	tok := f.key.Sign(t, clerktest.Claims("user_123", time.Hour), true)

	for i := 0; i < 3; i++ {
		u, err := f.authn.Authenticate(requestWith(tok))
		require.NoError(t, err)
		require.Equal(t, "user_123", u.Username)
	}
	require.Equal(t, int32(0), f.srv.JWKSHits.Load())
}

func TestAuthenticate_StoreErrorIs500(t *testing.T) {
	f := newFixture(t)
	f.users.err = errors.New("db down")
	tok := f.key.Sign(t, clerktest.Claims("user_123", time.Hour), true)

	_, err := f.authn.Authenticate(requestWith(tok))
	require.Error(t, err)
	require.False(t, auth.IsAuthFailure(err))

	rw := do(f.router(), "/", "Bearer "+tok)
	require.Equal(t, http.StatusInternalServerError, rw.Code)
}

func TestRequireUser(t *testing.T) {
	f := newFixture(t)
	g := f.router()

	rw := do(g, "/private", "")
	require.Equal(t, http.StatusUnauthorized, rw.Code)

	tok := f.key.Sign(t, clerktest.Claims("user_9", time.Hour), true)
	rw = do(g, "/private", "Bearer "+tok)
	require.Equal(t, http.StatusOK, rw.Code)
	require.Equal(t, "user_9", body(t, rw)["username"])
}

func requestWith(tok string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	return req
}
