package store

import "errors"

var (
	// ErrStorage is returned when the table cannot be reached or keeps failing
	// after retries. Callers should treat it as an internal error.
	ErrStorage = errors.New("homeapi: storage error")

	// ErrCorruptRecord is returned when a stored item cannot be decoded into an entity.
	ErrCorruptRecord = errors.New("homeapi: corrupt record")

	// ErrDuplicateKey is returned when creating an API key whose hash already exists.
	ErrDuplicateKey = errors.New("homeapi: duplicate key")

	// ErrInvalidToken is returned when a continuation token does not belong to the query.
	ErrInvalidToken = errors.New("homeapi: invalid continuation token")

	// ErrUnknownIndex is returned when querying an index the store is not configured for.
	ErrUnknownIndex = errors.New("homeapi: unknown index")
)
