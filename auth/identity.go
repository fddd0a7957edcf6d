package auth

import "strings"

// Provenance records how an identity was established.
type Provenance string

const (
	ProvenanceOAuth  Provenance = "oauth"
	ProvenanceAPIKey Provenance = "api_key"
)

// Identity is the authenticated caller of a request. It is never persisted.
type Identity struct {
	Email      string
	Provenance Provenance

	// KeyHash is the hash of the API key used, empty for OAuth identities.
	KeyHash string
}

// BearerToken extracts the token from an Authorization header value.
// It returns "" if the header does not use the Bearer scheme.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
