package firebaseauth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
	issuerPrefix   = "https://securetoken.google.com/"
)

var (
	ErrMissingToken = errors.New("firebaseauth: missing bearer token")
	ErrInvalidToken = errors.New("firebaseauth: invalid token")

	errRefreshThrottled = errors.New("jwks refresh throttled")
)

// Verifier checks Firebase ID tokens and returns the subject uid.
type Verifier struct {
	projectID string
	jwks      *jwksCache
	now       func() time.Time
}

type Option func(*Verifier)

func WithJWKSURL(url string) Option {
	return func(v *Verifier) {
		v.jwks.url = strings.TrimSpace(url)
	}
}

func NewVerifier(httpClient *http.Client, projectID string, opts ...Option) (*Verifier, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("firebaseauth: project id is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	v := &Verifier{
		projectID: projectID,
		jwks:      newJWKSCache(httpClient, DefaultJWKSURL),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: malformed authorization header", ErrInvalidToken)
	}
	return strings.TrimSpace(token), nil
}

// Verify validates signature, issuer, audience and time claims and returns
// the token subject.
func (v *Verifier) Verify(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(issuerPrefix+v.projectID),
		jwt.WithAudience(v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(time.Minute),
		jwt.WithTimeFunc(v.now),
	)
	claims := &jwt.RegisteredClaims{}
	tok, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("missing kid")
		}
		return v.jwks.getKey(ctx, kid)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if tok == nil || !tok.Valid {
		return "", ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// ----- JWKS cache -----

// jwksCache holds the signing keys. minRefresh is the least spacing
// between fetch attempts.
type jwksCache struct {
	httpClient *http.Client
	url        string

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	lastAttempt time.Time
	ttl         time.Duration
	minRefresh  time.Duration
	now         func() time.Time
	group       singleflight.Group
}

func newJWKSCache(httpClient *http.Client, url string) *jwksCache {
	return &jwksCache{
		httpClient: httpClient,
		url:        url,
		keys:       map[string]*rsa.PublicKey{},
		ttl:        6 * time.Hour,
		minRefresh: time.Minute,
		now:        time.Now,
	}
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (j *jwksCache) getKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	j.mu.RLock()
	key := j.keys[kid]
	stale := j.now().Sub(j.fetchedAt) > j.ttl
	j.mu.RUnlock()
	if key != nil && !stale {
		return key, nil
	}

	if err := j.refreshLimited(ctx); err != nil && !errors.Is(err, errRefreshThrottled) {
		if key != nil {
			return key, nil
		}
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if fresh := j.keys[kid]; fresh != nil {
		return fresh, nil
	}
	if key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("kid not found in jwks: %s", kid)
}

// refreshLimited coalesces concurrent refreshes into one fetch and allows at
// most one attempt per minRefresh window, failed attempts included.
func (j *jwksCache) refreshLimited(ctx context.Context) error {
	_, err, _ := j.group.Do("jwks", func() (any, error) {
		j.mu.Lock()
		now := j.now()
		if !j.lastAttempt.IsZero() && now.Sub(j.lastAttempt) < j.minRefresh {
			j.mu.Unlock()
			return nil, errRefreshThrottled
		}
		j.lastAttempt = now
		j.mu.Unlock()
		return nil, j.refresh(ctx)
	})
	return err
}

func (j *jwksCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return fmt.Errorf("jwks request: %w", err)
	}
	res, err := j.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("jwks fetch: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("jwks fetch failed: %s", res.Status)
	}

	var set jwkSet
	if err := json.NewDecoder(res.Body).Decode(&set); err != nil {
		return fmt.Errorf("jwks decode: %w", err)
	}
	next := map[string]*rsa.PublicKey{}
	for _, k := range set.Keys {
		if k.Kty != "RSA" || strings.TrimSpace(k.Kid) == "" {
			continue
		}
		if pub, err := rsaFromModExp(k.N, k.E); err == nil {
			next[k.Kid] = pub
		}
	}
	if len(next) == 0 {
		return errors.New("jwks contained no usable keys")
	}

	j.mu.Lock()
	j.keys = next
	j.fetchedAt = j.now()
	j.mu.Unlock()
	return nil
}

func rsaFromModExp(nB64, eB64 string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range eb {
		e = e<<8 + int(b)
	}
	if e == 0 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}
