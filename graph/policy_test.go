package graph

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/jacentio/homeapi/auth"
)

func TestPolicyFromConfig(t *testing.T) {
	alice := &auth.Identity{Email: "a@example.com", Provenance: auth.ProvenanceOAuth}
	bob := &auth.Identity{Email: "b@example.com", Provenance: auth.ProvenanceAPIKey}

	tests := []struct {
		name      string
		mode      string
		writers   []string
		wantErr   bool
		wantAlice bool
		wantBob   bool
	}{
		{"default", "", nil, false, true, true},
		{"authenticated", PolicyAuthenticated, []string{"ignored@example.com"}, false, true, true},
		{"allowlist", PolicyAllowlist, []string{" A@Example.com ", ""}, false, true, false},
		{"empty allowlist", PolicyAllowlist, []string{" "}, true, false, false},
		{"unknown mode", "owner", nil, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := PolicyFromConfig(tt.mode, tt.writers)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := p.CanWrite(alice); got != tt.wantAlice {
				t.Errorf("expected alice=%v, got %v", tt.wantAlice, got)
			}
			if got := p.CanWrite(bob); got != tt.wantBob {
				t.Errorf("expected bob=%v, got %v", tt.wantBob, got)
			}
			if p.CanWrite(nil) {
				t.Error("expected anonymous callers to be denied")
			}
		})
	}
}

func TestError_Extensions(t *testing.T) {
	e := &Error{Code: CodeUnauthenticated, Reason: "EXPIRED_CREDENTIAL", Message: "credential has expired"}
	ext := e.Extensions()
	if ext["code"] != CodeUnauthenticated || ext["reason"] != "EXPIRED_CREDENTIAL" {
		t.Errorf("unexpected extensions %v", ext)
	}

	ext = badInput("bad").Extensions()
	if _, ok := ext["reason"]; ok {
		t.Errorf("expected no reason, got %v", ext)
	}
}

func TestToError_UnregisteredUser(t *testing.T) {
	err := toError(context.Background(), slog.Default(), "devices", fmt.Errorf("authenticate: %w", auth.ErrUnregisteredUser))

	ge, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if ge.Code != CodeUnauthenticated || ge.Reason != "UNREGISTERED_USER" {
		t.Errorf("expected UNAUTHENTICATED/UNREGISTERED_USER, got %s/%s", ge.Code, ge.Reason)
	}
}
