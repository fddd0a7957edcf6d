package store

import "time"

const (
	defaultTableName       = "homeapi"
	defaultAPIKeyIndex     = "user_email-index"
	defaultAPIKeyIndexAttr = "user_email"
	defaultMaxRetries      = 3
	defaultRetryBaseDelay  = 50 * time.Millisecond
	defaultKeyRetention    = 30 * 24 * time.Hour
)

// Config holds configuration for the Store.
type Config struct {
	// TableName is the single table holding every entity.
	// Default: "homeapi"
	TableName string

	// APIKeyIndex is the secondary index keyed on the owner email of API keys.
	// Default: "user_email-index"
	APIKeyIndex string

	// APIKeyIndexAttr is the partition key attribute of APIKeyIndex.
	// Default: "user_email"
	APIKeyIndexAttr string

	// MaxRetries bounds retries of throttled or failed requests.
	// Default: 3
	MaxRetries int

	// RetryBaseDelay is the first backoff interval; each retry doubles it.
	// Default: 50ms
	RetryBaseDelay time.Duration

	// ExpiredKeyRetention is how long an expired API key stays in the table
	// before DynamoDB TTL removes it. Until then, presenting it reports
	// an expired credential rather than an unknown one.
	// Default: 30 days
	ExpiredKeyRetention time.Duration
}

// DefaultConfig returns the defaults used by the deployed table.
func DefaultConfig() Config {
	return Config{
		TableName:           defaultTableName,
		APIKeyIndex:         defaultAPIKeyIndex,
		APIKeyIndexAttr:     defaultAPIKeyIndexAttr,
		MaxRetries:          defaultMaxRetries,
		RetryBaseDelay:      defaultRetryBaseDelay,
		ExpiredKeyRetention: defaultKeyRetention,
	}
}

// validate fills unset values with defaults.
func (c *Config) validate() {
	if c.TableName == "" {
		c.TableName = defaultTableName
	}
	if c.APIKeyIndex == "" {
		c.APIKeyIndex = defaultAPIKeyIndex
	}
	if c.APIKeyIndexAttr == "" {
		c.APIKeyIndexAttr = defaultAPIKeyIndexAttr
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.MaxRetries > 10 {
		c.MaxRetries = 10
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = defaultRetryBaseDelay
	}
	if c.ExpiredKeyRetention <= 0 {
		c.ExpiredKeyRetention = defaultKeyRetention
	}
}
