package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// KeySource provides the provider's current signing key set.
type KeySource interface {
	Get(ctx context.Context) (jwk.Set, error)
}

// Refresher is implemented by key sources that can bypass their cache.
// The verifier uses it once per request when a token names an unknown key ID.
type Refresher interface {
	Refresh(ctx context.Context) (jwk.Set, error)
}

// Key selection strategies.
const (
	// SelectByKID matches the token's "kid" header, using the first key only
	// when the token carries no key ID.
	SelectByKID = "kid"
	// SelectFirst always verifies against the first key of the set.
	SelectFirst = "first"
)

var errUnknownKID = errors.New("no key matches token kid")

// Claims are the verified token claims. Subject is empty when the token has no "sub".
type Claims struct {
	Subject         string
	SessionID       string
	AuthorizedParty string
	Raw             jwt.MapClaims
}

// Verifier validates RS256 bearer tokens against the provider key set.
type Verifier struct {
	keys              KeySource
	selection         string
	issuer            string
	authorizedParties []string
	leeway            time.Duration
	now               func() time.Time
}

type Option func(*Verifier)

func WithKeySelection(s string) Option {
	return func(v *Verifier) {
		if s == SelectFirst || s == SelectByKID {
			v.selection = s
		}
	}
}

func WithIssuer(iss string) Option { return func(v *Verifier) { v.issuer = iss } }

// WithAuthorizedParties rejects tokens whose "azp" claim is present and not listed.
func WithAuthorizedParties(parties ...string) Option {
	return func(v *Verifier) { v.authorizedParties = parties }
}

func WithLeeway(d time.Duration) Option { return func(v *Verifier) { v.leeway = d } }

func WithTimeFunc(f func() time.Time) Option { return func(v *Verifier) { v.now = f } }

func NewVerifier(keys KeySource, opts ...Option) *Verifier {
	v := &Verifier{keys: keys, selection: SelectByKID, now: time.Now}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify checks the token signature and standard claims and returns the claims.
// Errors are *AuthError values; key set failures also match ErrKeyFetch.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	set, err := v.keys.Get(ctx)
	if err != nil {
		return nil, keyFetchFailed(err)
	}

	claims, err := v.parse(raw, set)
	if errors.Is(err, errUnknownKID) {
		if r, ok := v.keys.(Refresher); ok {
			fresh, rerr := r.Refresh(ctx)
			if rerr != nil {
				return nil, keyFetchFailed(rerr)
			}
			claims, err = v.parse(raw, fresh)
		}
	}
	if err != nil {
		return nil, v.classify(raw, err)
	}

	azp, _ := claims["azp"].(string)
	if azp != "" && len(v.authorizedParties) > 0 && !slices.Contains(v.authorizedParties, azp) {
		return nil, rejected(ReasonInvalid, fmt.Errorf("unauthorized party %q", azp))
	}

	sub, _ := claims.GetSubject()
	sid, _ := claims["sid"].(string)
	return &Claims{Subject: sub, SessionID: sid, AuthorizedParty: azp, Raw: claims}, nil
}

func (v *Verifier) parse(raw string, set jwk.Set) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := jwt.MapClaims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return v.selectKey(set, t)
	})
	return claims, err
}

func (v *Verifier) selectKey(set jwk.Set, t *jwt.Token) (interface{}, error) {
	var (
		key jwk.Key
		ok  bool
	)
	kid, _ := t.Header["kid"].(string)
	if v.selection == SelectByKID && kid != "" {
		if key, ok = set.LookupKeyID(kid); !ok {
			return nil, fmt.Errorf("%w: %q", errUnknownKID, kid)
		}
	} else if key, ok = set.Key(0); !ok {
		return nil, errors.New("key set is empty")
	}

	var rawKey interface{}
	if err := key.Raw(&rawKey); err != nil {
		return nil, fmt.Errorf("decode jwk %q: %w", key.KeyID(), err)
	}
	pub, ok := rawKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("jwk %q is %T, want RSA public key", key.KeyID(), rawKey)
	}
	return pub, nil
}

// classify maps parser errors to rejection reasons. Expiry is reported even
// when the signature does not verify.
func (v *Verifier) classify(raw string, err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return rejected(ReasonDecode, err)
	case errors.Is(err, jwt.ErrTokenExpired), v.expiredUnverified(raw):
		return rejected(ReasonExpired, err)
	default:
		return rejected(ReasonInvalid, err)
	}
}

func (v *Verifier) expiredUnverified(raw string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return v.now().After(exp.Add(v.leeway))
}
