// Package oidc resolves the provider's signing key location through OpenID
// Connect discovery.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
)

// DiscoverJWKSURL reads {issuer}/.well-known/openid-configuration and returns
// its jwks_uri. The document's issuer must match issuer exactly.
func DiscoverJWKSURL(ctx context.Context, issuer string, httpClient *http.Client) (string, error) {
	if httpClient != nil {
		ctx = oidc.ClientContext(ctx, httpClient)
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return "", fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&doc); err != nil {
		return "", fmt.Errorf("read discovery document: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", errors.New("discovery document has no jwks_uri")
	}
	return doc.JWKSURI, nil
}
