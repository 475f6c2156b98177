// Package clerktest provides signing keys and a fake Clerk server for tests.
package clerktest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Key is an RSA signing key with its JWKS key ID.
type Key struct {
	KID     string
	Private *rsa.PrivateKey
}

func NewKey(t testing.TB, kid string) *Key {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return &Key{KID: kid, Private: pk}
}

// Sign issues an RS256 token. The kid header is omitted when withKID is false.
func (k *Key) Sign(t testing.TB, claims jwt.MapClaims, withKID bool) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if withKID {
		tok.Header["kid"] = k.KID
	}
	s, err := tok.SignedString(k.Private)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

// Claims returns a claim set for sub that expires after ttl (negative for expired).
func Claims(sub string, ttl time.Duration) jwt.MapClaims {
	now := time.Now()
	c := jwt.MapClaims{
		"iat": now.Add(-time.Minute).Unix(),
		"nbf": now.Add(-time.Minute).Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if sub != "" {
		c["sub"] = sub
	}
	return c
}

// JWKS renders the public halves of keys, in order, as a JWKS document.
func JWKS(t testing.TB, keys ...*Key) []byte {
	t.Helper()
	set := jwk.NewSet()
	for _, k := range keys {
		pub, err := jwk.FromRaw(&k.Private.PublicKey)
		if err != nil {
			t.Fatalf("jwk from key: %v", err)
		}
		_ = pub.Set(jwk.KeyIDKey, k.KID)
		_ = pub.Set(jwk.KeyUsageKey, "sig")
		if err := set.AddKey(pub); err != nil {
			t.Fatalf("add key: %v", err)
		}
	}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return b
}

// Server fakes the Clerk frontend and backend APIs.
type Server struct {
	*httptest.Server

	JWKSHits  atomic.Int32
	UserHits  atomic.Int32
	JWKSCode  atomic.Int32
	JWKSDelay atomic.Int64 // nanoseconds
	LastAuth  atomic.Value // string

	mu    sync.Mutex
	jwks  []byte
	users map[string]UserResponse
}

// UserResponse is the body served for GET /v1/users/{id}. Zero Status means 200.
type UserResponse struct {
	Status int
	Body   string
}

func NewServer(t testing.TB, jwks []byte) *Server {
	t.Helper()
	s := &Server{jwks: jwks, users: map[string]UserResponse{}}
	s.JWKSCode.Store(http.StatusOK)
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		s.JWKSHits.Add(1)
		if d := time.Duration(s.JWKSDelay.Load()); d > 0 {
			time.Sleep(d)
		}
		code := int(s.JWKSCode.Load())
		if code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		s.mu.Lock()
		body := s.jwks
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
	mux.HandleFunc("/v1/users/", func(w http.ResponseWriter, r *http.Request) {
		s.UserHits.Add(1)
		s.LastAuth.Store(r.Header.Get("Authorization"))
		id := strings.TrimPrefix(r.URL.Path, "/v1/users/")
		s.mu.Lock()
		resp, ok := s.users[id]
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[{"code":"resource_not_found"}]}`))
			return
		}
		if resp.Status != 0 && resp.Status != http.StatusOK {
			w.WriteHeader(resp.Status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(resp.Body))
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// SetJWKS replaces the served key set.
func (s *Server) SetJWKS(b []byte) {
	s.mu.Lock()
	s.jwks = b
	s.mu.Unlock()
}

func (s *Server) SetUser(id string, resp UserResponse) {
	s.mu.Lock()
	s.users[id] = resp
	s.mu.Unlock()
}

// APIURL is the backend API base, matching Clerk's /v1 prefix.
func (s *Server) APIURL() string { return s.URL + "/v1" }
