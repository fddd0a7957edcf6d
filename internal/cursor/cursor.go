// Package cursor turns store continuation tokens into opaque strings safe for
// transport in API responses. It does not look inside the token.
package cursor

import (
	"encoding/base64"
	"errors"
)

// ErrInvalidCursor is returned when a cursor string is not validly encoded.
var ErrInvalidCursor = errors.New("homeapi: invalid cursor")

var encoding = base64.RawURLEncoding

// Encode wraps a token. A nil or empty token encodes to the empty cursor.
func Encode(token []byte) string {
	return encoding.EncodeToString(token)
}

// Decode unwraps a cursor produced by Encode. The empty cursor decodes to a nil
// token, meaning "start from the first page".
func Decode(c string) ([]byte, error) {
	if c == "" {
		return nil, nil
	}
	token, err := encoding.DecodeString(c)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return token, nil
}
