package auth

import "errors"

var (
	// ErrUnauthenticated is returned when an operation needs an identity and
	// the request carried no credential.
	ErrUnauthenticated = errors.New("homeapi: unauthenticated")

	// ErrForbidden is returned when the caller does not own the target.
	ErrForbidden = errors.New("homeapi: forbidden")

	// ErrInvalidCredential is returned when an OAuth token fails verification.
	ErrInvalidCredential = errors.New("homeapi: invalid credential")

	// ErrExpiredCredential is returned for an API key past its expiry.
	ErrExpiredCredential = errors.New("homeapi: expired credential")

	// ErrUnknownCredential is returned for a well-formed API key that was never issued or was deleted.
	ErrUnknownCredential = errors.New("homeapi: unknown credential")

	// ErrMalformedCredential is returned for an API key without the expected prefix or shape.
	ErrMalformedCredential = errors.New("homeapi: malformed credential")

	// ErrUnregisteredUser is returned for a verified caller with no USER item
	// when registration is required.
	ErrUnregisteredUser = errors.New("homeapi: unregistered user")

	// ErrNotFound is returned when the API key to act on does not exist.
	ErrNotFound = errors.New("homeapi: not found")

	// ErrInvalidArgument is returned for rejected input such as an empty key name.
	ErrInvalidArgument = errors.New("homeapi: invalid argument")
)
