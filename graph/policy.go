package graph

import (
	"fmt"
	"strings"

	"github.com/jacentio/homeapi/auth"
)

// WritePolicy decides which identities may create, update and delete
// devices and places.
type WritePolicy interface {
	CanWrite(id *auth.Identity) bool
}

// AnyIdentity lets every authenticated identity write.
type AnyIdentity struct{}

func (AnyIdentity) CanWrite(id *auth.Identity) bool { return id != nil }

// Allowlist lets only the listed emails write. Emails compare case-insensitively.
type Allowlist map[string]struct{}

// NewAllowlist builds an Allowlist from emails, ignoring blanks.
func NewAllowlist(emails ...string) Allowlist {
	a := make(Allowlist, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			a[e] = struct{}{}
		}
	}
	return a
}

func (a Allowlist) CanWrite(id *auth.Identity) bool {
	if id == nil {
		return false
	}
	_, ok := a[strings.ToLower(id.Email)]
	return ok
}

// Write policy names accepted by PolicyFromConfig.
const (
	PolicyAuthenticated = "authenticated"
	PolicyAllowlist     = "allowlist"
)

// PolicyFromConfig returns the policy named by mode.
func PolicyFromConfig(mode string, writers []string) (WritePolicy, error) {
	switch mode {
	case "", PolicyAuthenticated:
		return AnyIdentity{}, nil
	case PolicyAllowlist:
		a := NewAllowlist(writers...)
		if len(a) == 0 {
			return nil, fmt.Errorf("write policy %q requires at least one writer", mode)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown write policy %q", mode)
	}
}
