package manifest

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
)

// VerifierConfig holds JWS verification settings for plugin manifests.
type VerifierConfig struct {
	Require         bool
	TrustedJWKSURLs []string
	CacheTTL        time.Duration
}

// Verifier verifies JWS-signed manifests against trusted JWKS
// endpoints, using the jwx auto-refresh cache for key management.
type Verifier struct {
	cfg   VerifierConfig
	cache *jwk.Cache
}

// NewVerifier creates a manifest verifier. Call StartCache before
// verifying signed manifests.
func NewVerifier(cfg VerifierConfig) *Verifier {
	return &Verifier{cfg: cfg}
}

// StartCache initializes the JWKS auto-refresh cache and registers all
// trusted URLs. With no trusted URLs configured this is a no-op.
func (v *Verifier) StartCache(ctx context.Context) error {
	if len(v.cfg.TrustedJWKSURLs) == 0 {
		return nil
	}
	c := jwk.NewCache(ctx)
	for _, url := range v.cfg.TrustedJWKSURLs {
		if err := c.Register(url, jwk.WithMinRefreshInterval(v.cfg.CacheTTL)); err != nil {
			return fmt.Errorf("registering JWKS URL %s: %w", url, err)
		}
	}
	v.cache = c
	return nil
}

// Verify accepts either a JWS compact serialization or plain manifest
// bytes. Signed payloads are verified against the trusted JWKS; plain
// payloads pass only when signatures are not required. The returned
// bytes are the manifest to parse.
func (v *Verifier) Verify(ctx context.Context, data []byte) ([]byte, error) {
	if _, err := jws.Parse(data); err != nil {
		if v.cfg.Require {
			return nil, fmt.Errorf("manifest signature required but payload is not JWS-signed")
		}
		return data, nil
	}

	if v.cache == nil {
		return nil, fmt.Errorf("no trusted JWKS configured for manifest verification")
	}
	for _, url := range v.cfg.TrustedJWKSURLs {
		keyset, err := v.cache.Get(ctx, url)
		if err != nil {
			continue
		}
		payload, err := jws.Verify(data, jws.WithKeySet(keyset))
		if err == nil {
			return payload, nil
		}
	}
	return nil, fmt.Errorf("manifest signature verification failed against all trusted JWKS")
}

// IsConfigured reports whether trusted JWKS URLs are configured.
func (v *Verifier) IsConfigured() bool {
	return len(v.cfg.TrustedJWKSURLs) > 0
}
