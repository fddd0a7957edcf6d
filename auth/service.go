// Package auth establishes caller identity from API keys and Google ID tokens,
// and manages the lifecycle of API keys.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/homeapi/internal/keys"
	"github.com/jacentio/homeapi/store"
)

const (
	defaultKeyIndex      = "user_email-index"
	defaultTouchParallel = 10
	touchTimeout         = 2 * time.Second
)

// Store is the part of the storage layer the service needs.
type Store interface {
	GetItem(ctx context.Context, kind keys.Kind, id string) (store.Entity, error)
	GetAPIKey(ctx context.Context, hash string) (*store.APIKey, error)
	PutItem(ctx context.Context, e store.Entity) error
	DeleteItem(ctx context.Context, kind keys.Kind, id string) error
	QueryByIndex(ctx context.Context, indexName, value string, token store.Token, pageSize int32) (store.Page, error)
	TouchAPIKey(ctx context.Context, hash string, at time.Time) error
}

// Claims are the verified facts an OAuth token asserts about its holder.
type Claims struct {
	Subject string
	Email   string
	Name    string
}

// TokenVerifier verifies externally issued OAuth tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// Options configures a Service.
type Options struct {
	Store    Store
	Verifier TokenVerifier
	Logger   *slog.Logger

	// KeyIndex is the secondary index keyed on API key owner.
	// Default: "user_email-index"
	KeyIndex string

	// MaxPendingTouches bounds concurrent last-used updates. Updates beyond
	// the bound are dropped.
	// Default: 10
	MaxPendingTouches int

	// RequireRegisteredUsers rejects callers without a USER item for their
	// email, whichever credential they present.
	// Default: false
	RequireRegisteredUsers bool

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

// Service issues and verifies credentials.
type Service struct {
	store    Store
	verifier TokenVerifier
	logger   *slog.Logger
	keyIndex string
	gate     bool
	now      func() time.Time
	material func() string

	touchSem chan struct{}
	wg       sync.WaitGroup
}

// New creates a Service.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.KeyIndex == "" {
		opts.KeyIndex = defaultKeyIndex
	}
	if opts.MaxPendingTouches < 1 {
		opts.MaxPendingTouches = defaultTouchParallel
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:    opts.Store,
		verifier: opts.Verifier,
		logger:   opts.Logger,
		keyIndex: opts.KeyIndex,
		gate:     opts.RequireRegisteredUsers,
		now:      opts.Now,
		material: newKeyMaterial,
		touchSem: make(chan struct{}, opts.MaxPendingTouches),
	}
}

// Authenticate resolves a bearer credential to an identity. API keys are
// recognised by their prefix; anything else is treated as an OAuth token.
func (s *Service) Authenticate(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrUnauthenticated
	}
	var id *Identity
	var err error
	if strings.HasPrefix(credential, KeyPrefix) {
		id, err = s.VerifyAPIKey(ctx, credential)
	} else {
		id, err = s.VerifyOAuthToken(ctx, credential)
	}
	if err != nil {
		return nil, err
	}
	if err := s.checkRegistered(ctx, id.Email); err != nil {
		return nil, err
	}
	return id, nil
}

// checkRegistered enforces RequireRegisteredUsers.
func (s *Service) checkRegistered(ctx context.Context, email string) error {
	if !s.gate {
		return nil
	}
	u, err := s.store.GetItem(ctx, keys.KindUser, email)
	if err != nil {
		if errors.Is(err, keys.ErrMalformedKey) {
			return ErrUnregisteredUser
		}
		return fmt.Errorf("check user: %w", err)
	}
	if u == nil {
		s.logger.Debug("caller is not a registered user", "email", email)
		return ErrUnregisteredUser
	}
	return nil
}

// VerifyOAuthToken verifies an OAuth token with the configured verifier.
func (s *Service) VerifyOAuthToken(ctx context.Context, token string) (*Identity, error) {
	if s.verifier == nil {
		return nil, ErrInvalidCredential
	}
	claims, err := s.verifier.Verify(ctx, token)
	if err != nil {
		s.logger.Debug("oauth token rejected", "error", err)
		return nil, ErrInvalidCredential
	}
	if claims.Email == "" {
		return nil, ErrInvalidCredential
	}
	return &Identity{Email: claims.Email, Provenance: ProvenanceOAuth}, nil
}

// Wait blocks until pending last-used updates have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func newKeyMaterial() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
