package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jacentio/homeapi/internal/keys"
	"github.com/jacentio/homeapi/store"
)

const (
	// KeyPrefix starts every API key.
	KeyPrefix = "ha_"

	// KeyLength is the length of an API key including its prefix.
	KeyLength = len(KeyPrefix) + 32

	maxKeyNameLength = 255
)

// IssueAPIKey creates an API key for owner. The plaintext key is returned
// once and never stored.
func (s *Service) IssueAPIKey(ctx context.Context, owner, name string, expiresAt *time.Time) (*store.APIKey, string, error) {
	name = strings.TrimSpace(name)
	if owner == "" {
		return nil, "", fmt.Errorf("%w: owner is required", ErrInvalidArgument)
	}
	if name == "" || utf8.RuneCountInString(name) > maxKeyNameLength {
		return nil, "", fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidArgument, maxKeyNameLength)
	}
	now := s.now().UTC()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, "", fmt.Errorf("%w: expiry must be in the future", ErrInvalidArgument)
	}

	material := s.material()
	k := &store.APIKey{
		Hash:       keys.HashAPIKey(material),
		OwnerEmail: owner,
		Name:       name,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
	}
	if err := s.store.PutItem(ctx, k); err != nil {
		return nil, "", fmt.Errorf("issue api key: %w", err)
	}

	s.logger.Info("api key issued", "owner", owner, "name", name)
	return k, KeyPrefix + material, nil
}

// VerifyAPIKey resolves a presented API key to its owner. On success the key's
// last-used time is updated in the background.
func (s *Service) VerifyAPIKey(ctx context.Context, presented string) (*Identity, error) {
	material, ok := strings.CutPrefix(presented, KeyPrefix)
	if !ok || len(presented) != KeyLength || !isLowerHex(material) {
		return nil, ErrMalformedCredential
	}
	hash := keys.HashAPIKey(material)

	k, err := s.store.GetAPIKey(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("verify api key: %w", err)
	}
	if k == nil {
		return nil, ErrUnknownCredential
	}
	now := s.now()
	if k.Expired(now) {
		return nil, ErrExpiredCredential
	}

	s.touch(ctx, hash, now)
	return &Identity{Email: k.OwnerEmail, Provenance: ProvenanceAPIKey, KeyHash: hash}, nil
}

// touch records key usage without blocking the caller. Failures are logged and
// dropped, as are updates beyond MaxPendingTouches.
func (s *Service) touch(ctx context.Context, hash string, at time.Time) {
	select {
	case s.touchSem <- struct{}{}:
	default:
		s.logger.Debug("skipping api key touch under load")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.touchSem }()

		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), touchTimeout)
		defer cancel()
		if err := s.store.TouchAPIKey(bgCtx, hash, at); err != nil {
			s.logger.Warn("failed to update api key last used", "error", err)
		}
	}()
}

// ListAPIKeys returns one page of the keys owned by owner.
func (s *Service) ListAPIKeys(ctx context.Context, owner string, token store.Token, pageSize int32) (store.Page, error) {
	if owner == "" {
		return store.Page{}, ErrUnauthenticated
	}
	page, err := s.store.QueryByIndex(ctx, s.keyIndex, owner, token, pageSize)
	if err != nil {
		return store.Page{}, fmt.Errorf("list api keys: %w", err)
	}

	out := store.Page{Next: page.Next}
	for i, e := range page.Items {
		k, ok := e.(*store.APIKey)
		if !ok || k.OwnerEmail != owner {
			continue
		}
		out.Items = append(out.Items, k)
		out.Cursors = append(out.Cursors, page.Cursors[i])
	}
	return out, nil
}

// APIKey returns the key with the given hash if requester owns it.
func (s *Service) APIKey(ctx context.Context, hash, requester string) (*store.APIKey, error) {
	k, err := s.store.GetAPIKey(ctx, hash)
	if err != nil {
		if errors.Is(err, keys.ErrMalformedKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	if k == nil {
		return nil, ErrNotFound
	}
	if k.OwnerEmail != requester {
		return nil, ErrForbidden
	}
	return k, nil
}

// DeleteAPIKey removes a key owned by requester.
func (s *Service) DeleteAPIKey(ctx context.Context, hash, requester string) error {
	if _, err := s.APIKey(ctx, hash, requester); err != nil {
		return err
	}
	if err := s.store.DeleteItem(ctx, keys.KindAPIKey, hash); err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	s.logger.Info("api key deleted", "owner", requester)
	return nil
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
