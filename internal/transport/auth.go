package transport

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/proposehq/formbff/internal/config"
	"github.com/proposehq/formbff/model"
)

// JWKSClient caches the identity provider's signing keys. Workspace IdPs
// rotate keys rarely, so when a refresh fails the stale set keeps serving
// rather than failing every request until the provider recovers.
type JWKSClient struct {
	url             string
	ttl             time.Duration
	refreshCooldown time.Duration
	httpClient      *http.Client

	mu        sync.RWMutex
	byKID     map[string]crypto.PublicKey
	fetchedAt time.Time
}

// NewJWKSClient creates a client that fetches the key set from url and
// caches it for ttl.
func NewJWKSClient(url string, ttl time.Duration) *JWKSClient {
	return &JWKSClient{
		url:             url,
		ttl:             ttl,
		refreshCooldown: 5 * time.Minute,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		byKID:           make(map[string]crypto.PublicKey),
	}
}

// GetKey resolves a token's key ID to a verification key, refreshing the
// set when the cache has expired or the kid is unknown.
func (c *JWKSClient) GetKey(kid string) (crypto.PublicKey, error) {
	if key, fresh := c.cached(kid); fresh {
		return key, nil
	}

	if err := c.refresh(); err != nil {
		if key, _ := c.cached(kid); key != nil {
			slog.Warn("jwks: refresh failed, serving cached key", "error", err)
			return key, nil
		}
		return nil, fmt.Errorf("jwks: fetch failed: %w", err)
	}

	key, _ := c.cached(kid)
	if key == nil {
		return nil, fmt.Errorf("jwks: unknown signing key %q", kid)
	}
	return key, nil
}

// cached returns the key under kid, if any, and whether the whole set is
// still within its TTL.
func (c *JWKSClient) cached(kid string) (crypto.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.byKID[kid]
	if !ok {
		return nil, false
	}
	return key, time.Since(c.fetchedAt) <= c.ttl
}

func (c *JWKSClient) refresh() error {
	c.mu.RLock()
	recentlyFetched := time.Since(c.fetchedAt) < c.refreshCooldown && len(c.byKID) > 0
	c.mu.RUnlock()
	if recentlyFetched {
		// An unknown kid cannot hammer the provider.
		return nil
	}

	resp, err := c.httpClient.Get(c.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	var doc struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("jwks: parse error: %w", err)
	}

	byKID := make(map[string]crypto.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.KID == "" {
			continue
		}
		key, err := k.publicKey()
		if err != nil {
			slog.Warn("jwks: skipping key", "kid", k.KID, "error", err)
			continue
		}
		byKID[k.KID] = key
	}

	c.mu.Lock()
	c.byKID = byKID
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	return nil
}

// jsonWebKey is the subset of RFC 7517 that workspace identity providers
// emit: RSA and the NIST EC curves.
type jsonWebKey struct {
	KID string `json:"kid"`
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	N   string `json:"n"`
	E   string `json:"e"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (k jsonWebKey) publicKey() (crypto.PublicKey, error) {
	switch k.Kty {
	case "RSA":
		return k.rsaKey()
	case "EC":
		return k.ecKey()
	}
	return nil, fmt.Errorf("unsupported key type %q", k.Kty)
}

func (k jsonWebKey) rsaKey() (*rsa.PublicKey, error) {
	if k.N == "" || k.E == "" {
		return nil, errors.New("missing n or e")
	}
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode n: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode e: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}, nil
}

func (k jsonWebKey) ecKey() (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch k.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve %q", k.Crv)
	}
	if k.X == "" || k.Y == "" {
		return nil, errors.New("missing x or y")
	}
	x, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("decode x: %w", err)
	}
	y, err := base64.RawURLEncoding.DecodeString(k.Y)
	if err != nil {
		return nil, fmt.Errorf("decode y: %w", err)
	}
	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}, nil
}

// JWTAuthenticator verifies the bearer token on every request and stores
// its claims for BuildRequestContext to translate into a RequestContext.
func JWTAuthenticator(cfg config.IdentityConfig, jwks *JWKSClient) func(http.Handler) http.Handler {
	keyFor := func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header has no kid")
		}
		return jwks.GetKey(kid)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				WriteError(w, model.NewUnauthorizedError("Missing or malformed authorization header"))
				return
			}

			token, err := jwt.Parse(raw, keyFor,
				jwt.WithValidMethods(cfg.Algorithms),
				jwt.WithIssuer(cfg.Issuer),
				jwt.WithAudience(cfg.Audience),
				jwt.WithLeeway(30*time.Second),
				jwt.WithExpirationRequired(),
			)
			if err != nil {
				WriteError(w, model.NewUnauthorizedError(rejectReason(err)))
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || !token.Valid {
				WriteError(w, model.NewUnauthorizedError("Invalid token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), map[string]any(claims))))
		})
	}
}

// rejectReason maps a verification error to the message returned to the
// caller. Matches on the jwt sentinel errors, not message text.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "Invalid token issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "Invalid token audience"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "Token missing required claim"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "Invalid or disallowed token signature"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "Unknown signing key"
	default:
		return "Invalid token"
	}
}
