package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// GoogleJWKSURL serves the keys Google signs ID tokens with.
	GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

	defaultJWKSTimeout        = 5 * time.Second
	defaultMinRefreshInterval = time.Minute
)

// GoogleIssuers are the issuer values Google puts in ID tokens.
var GoogleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

var errUnknownKeyID = errors.New("unknown signing key")

// GoogleConfig configures a GoogleVerifier.
type GoogleConfig struct {
	// ClientID is the OAuth client the tokens must be issued for (aud claim).
	ClientID string

	// JWKSURL overrides GoogleJWKSURL.
	JWKSURL string

	// Issuers overrides GoogleIssuers.
	Issuers []string

	// Timeout bounds a JWKS fetch. Default: 5s
	Timeout time.Duration

	// MinRefreshInterval rate-limits JWKS refreshes triggered by unknown key
	// ids. Zero uses the default of one minute; negative disables the limit.
	MinRefreshInterval time.Duration

	Logger *slog.Logger
}

// GoogleVerifier verifies Google ID tokens against Google's published keys.
// The key set is fetched with resty, parsed by keyfunc and refreshed when a
// token names a key id not in the cached set.
type GoogleVerifier struct {
	clientID        string
	issuers         []string
	jwksURL         string
	client          *resty.Client
	refreshInterval time.Duration
	logger          *slog.Logger

	mu          sync.RWMutex
	keys        keyfunc.Keyfunc
	generation  uint64
	lastRefresh time.Time
	refreshMu   sync.Mutex
}

// NewGoogleVerifier creates a verifier. No request is made until the first
// token is verified.
func NewGoogleVerifier(cfg GoogleConfig) *GoogleVerifier {
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = GoogleJWKSURL
	}
	if len(cfg.Issuers) == 0 {
		cfg.Issuers = GoogleIssuers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultJWKSTimeout
	}
	if cfg.MinRefreshInterval == 0 {
		cfg.MinRefreshInterval = defaultMinRefreshInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(100 * time.Millisecond)

	return &GoogleVerifier{
		clientID:        cfg.ClientID,
		issuers:         cfg.Issuers,
		jwksURL:         cfg.JWKSURL,
		client:          client,
		refreshInterval: cfg.MinRefreshInterval,
		logger:          cfg.Logger,
	}
}

type googleClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// Verify implements TokenVerifier.
func (v *GoogleVerifier) Verify(ctx context.Context, token string) (Claims, error) {
	if v.clientID == "" {
		return Claims{}, errors.New("google client id not configured")
	}

	var claims googleClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid == "" {
			return nil, errors.New("missing key id")
		}
		return v.key(ctx, t)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return Claims{}, errors.New("token not valid")
	}
	if !slices.Contains(v.issuers, claims.Issuer) {
		return Claims{}, fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	if claims.Email == "" {
		return Claims{}, errors.New("token has no email")
	}
	if !claims.EmailVerified {
		return Claims{}, errors.New("email not verified")
	}

	return Claims{Subject: claims.Subject, Email: claims.Email, Name: claims.Name}, nil
}

// key returns the verification key for t, refreshing the key set once if
// the token names a key id it does not hold.
func (v *GoogleVerifier) key(ctx context.Context, t *jwt.Token) (any, error) {
	kf, gen := v.current()
	if kf != nil {
		k, err := kf.KeyfuncCtx(ctx)(t)
		if err == nil || !errors.Is(err, jwkset.ErrKeyNotFound) {
			return k, err
		}
	}

	v.refreshMu.Lock()
	defer v.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	if next, g := v.current(); g != gen {
		return next.KeyfuncCtx(ctx)(t)
	}

	v.mu.RLock()
	last := v.lastRefresh
	v.mu.RUnlock()
	if !last.IsZero() && v.refreshInterval > 0 && time.Since(last) < v.refreshInterval {
		return nil, errUnknownKeyID
	}

	if err := v.refresh(ctx); err != nil {
		return nil, err
	}
	next, _ := v.current()
	return next.KeyfuncCtx(ctx)(t)
}

// current returns the cached key set and its refresh generation.
func (v *GoogleVerifier) current() (keyfunc.Keyfunc, uint64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.keys, v.generation
}

func (v *GoogleVerifier) refresh(ctx context.Context) error {
	resp, err := v.client.R().SetContext(ctx).Get(v.jwksURL)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode())
	}

	kf, err := keyfunc.NewJWKSetJSON(json.RawMessage(resp.Body()))
	if err != nil {
		return fmt.Errorf("parse jwks: %w", err)
	}

	v.mu.Lock()
	v.keys = kf
	v.generation++
	v.lastRefresh = time.Now()
	v.mu.Unlock()

	if all, err := kf.Storage().KeyReadAll(ctx); err == nil {
		v.logger.Debug("refreshed google signing keys", "count", len(all))
	}
	return nil
}
