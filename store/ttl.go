package store

import "time"

// AttrTTL is the attribute DynamoDB TTL is enabled on.
const AttrTTL = "ttl"

// expiryTTL returns the epoch second after which DynamoDB may remove an
// API key, or 0 for keys that never expire.
func expiryTTL(expiresAt *time.Time, retention time.Duration) int64 {
	if expiresAt == nil {
		return 0
	}
	return expiresAt.Add(retention).Unix()
}
