package graph

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jacentio/homeapi/auth"
	"github.com/jacentio/homeapi/internal/cursor"
	"github.com/jacentio/homeapi/internal/keys"
	"github.com/jacentio/homeapi/store"
)

// Error codes reported in the "code" extension of GraphQL errors.
const (
	CodeBadUserInput    = "BAD_USER_INPUT"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeInternal        = "INTERNAL"
)

// errNotFound is returned by mutations that target an entity which does not exist.
var errNotFound = errors.New("homeapi: entity not found")

// Error is a client-facing resolver error. Its message never carries store
// or credential details.
type Error struct {
	Code    string
	Reason  string
	Message string
	err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.err }

// Extensions is read by the GraphQL engine to populate the error's extensions.
func (e *Error) Extensions() map[string]interface{} {
	ext := map[string]interface{}{"code": e.Code}
	if e.Reason != "" {
		ext["reason"] = e.Reason
	}
	return ext
}

func badInput(msg string) *Error {
	return &Error{Code: CodeBadUserInput, Message: msg}
}

var credentialReasons = []struct {
	err    error
	reason string
	msg    string
}{
	{auth.ErrUnauthenticated, "", "authentication required"},
	{auth.ErrInvalidCredential, "INVALID_CREDENTIAL", "invalid credential"},
	{auth.ErrExpiredCredential, "EXPIRED_CREDENTIAL", "credential has expired"},
	{auth.ErrUnknownCredential, "UNKNOWN_CREDENTIAL", "invalid credential"},
	{auth.ErrMalformedCredential, "MALFORMED_CREDENTIAL", "invalid credential"},
	{auth.ErrUnregisteredUser, "UNREGISTERED_USER", "user is not registered"},
}

// toError converts a domain error into the error a resolver returns.
func toError(ctx context.Context, logger *slog.Logger, op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}

	for _, c := range credentialReasons {
		if errors.Is(err, c.err) {
			logger.DebugContext(ctx, "request not authenticated", "op", op, "reason", c.reason)
			return &Error{Code: CodeUnauthenticated, Reason: c.reason, Message: c.msg, err: err}
		}
	}

	switch {
	case errors.Is(err, keys.ErrInvalidIdentifier), errors.Is(err, keys.ErrMalformedKey):
		return &Error{Code: CodeBadUserInput, Message: "invalid id", err: err}
	case errors.Is(err, cursor.ErrInvalidCursor), errors.Is(err, store.ErrInvalidToken):
		return &Error{Code: CodeBadUserInput, Message: "invalid cursor", err: err}
	case errors.Is(err, auth.ErrInvalidArgument):
		return &Error{Code: CodeBadUserInput, Message: userMessage(err), err: err}
	case errors.Is(err, auth.ErrForbidden):
		return &Error{Code: CodeForbidden, Message: "forbidden", err: err}
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, errNotFound):
		return &Error{Code: CodeNotFound, Message: "not found", err: err}
	case errors.Is(err, store.ErrDuplicateKey):
		return &Error{Code: CodeConflict, Message: "conflicting write, retry the request", err: err}
	}

	logger.ErrorContext(ctx, "resolver failed", "op", op, "error", err)
	return &Error{Code: CodeInternal, Message: "internal server error", err: err}
}

// userMessage strips the package prefix from validation errors, which only
// describe the caller's own input.
func userMessage(err error) string {
	msg, _ := strings.CutPrefix(err.Error(), "homeapi: ")
	return msg
}
