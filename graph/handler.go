// Package graph serves the GraphQL API over the store and the auth service.
//
// A Handler is built once per process and is safe for concurrent use. Each
// call to Execute authenticates its credential at most once, and only when a
// resolver needs an identity.
package graph

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	gqlerrors "github.com/graph-gophers/graphql-go/errors"

	"github.com/jacentio/homeapi/auth"
	"github.com/jacentio/homeapi/internal/keys"
	"github.com/jacentio/homeapi/store"
)

//go:embed schema.graphql
var schemaSource string

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxQueryDepth   = 12
	fallbackPlace   = "unknown"
	maxParallelism  = 10
)

// Store is the part of the storage layer resolvers use for devices, places
// and readings.
type Store interface {
	GetItem(ctx context.Context, kind keys.Kind, id string) (store.Entity, error)
	PutItem(ctx context.Context, e store.Entity) error
	UpdateItem(ctx context.Context, e store.Entity) (store.Entity, error)
	DeleteItem(ctx context.Context, kind keys.Kind, id string) error
	Query(ctx context.Context, pk string, opts store.QueryOptions) (store.Page, error)
}

var _ Store = (*store.Store)(nil)

// Authenticator resolves credentials and manages API keys.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*auth.Identity, error)
	IssueAPIKey(ctx context.Context, owner, name string, expiresAt *time.Time) (*store.APIKey, string, error)
	ListAPIKeys(ctx context.Context, owner string, token store.Token, pageSize int32) (store.Page, error)
	APIKey(ctx context.Context, hash, requester string) (*store.APIKey, error)
	DeleteAPIKey(ctx context.Context, hash, requester string) error
}

var _ Authenticator = (*auth.Service)(nil)

// Options configures a Handler.
type Options struct {
	Store  Store
	Auth   Authenticator
	Logger *slog.Logger

	// WritePolicy governs device, place and reading mutations.
	// Default: AnyIdentity
	WritePolicy WritePolicy

	// FallbackPlace is the place id devices may use without a Place item.
	// Default: "unknown"
	FallbackPlace string

	// DefaultPageSize is used when a connection field omits "first".
	// Default: 20
	DefaultPageSize int32

	// MaxPageSize caps "first". Default: 100
	MaxPageSize int32

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

// Request is one GraphQL operation.
type Request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`

	// Credential is the bearer token presented with the request, if any.
	Credential string `json:"-"`
}

// Response is the GraphQL response document.
type Response = graphql.Response

// Handler executes GraphQL requests.
type Handler struct {
	schema   *graphql.Schema
	resolver *Resolver
	logger   *slog.Logger
}

// NewHandler parses the schema and binds it to its resolvers.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Store == nil || opts.Auth == nil {
		return nil, fmt.Errorf("graph: store and auth are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WritePolicy == nil {
		opts.WritePolicy = AnyIdentity{}
	}
	if opts.DefaultPageSize < 1 {
		opts.DefaultPageSize = defaultPageSize
	}
	if opts.MaxPageSize < 1 {
		opts.MaxPageSize = maxPageSize
	}
	if opts.DefaultPageSize > opts.MaxPageSize {
		opts.DefaultPageSize = opts.MaxPageSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FallbackPlace == "" {
		opts.FallbackPlace = fallbackPlace
	}

	r := &Resolver{
		store:       opts.Store,
		auth:        opts.Auth,
		logger:      opts.Logger,
		policy:      opts.WritePolicy,
		defaultSize: opts.DefaultPageSize,
		maxSize:     opts.MaxPageSize,
		fallback:    opts.FallbackPlace,
		now:         opts.Now,
	}
	schema, err := graphql.ParseSchema(schemaSource, r,
		graphql.MaxDepth(maxQueryDepth),
		graphql.MaxParallelism(maxParallelism),
		graphql.Logger(panicLogger{opts.Logger}),
		graphql.PanicHandler(panicHandler{}),
	)
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return &Handler{schema: schema, resolver: r, logger: opts.Logger}, nil
}

// Execute runs one request. Errors are reported inside the response.
func (h *Handler) Execute(ctx context.Context, req Request) *Response {
	ctx = withCaller(ctx, &caller{auth: h.resolver.auth, credential: req.Credential})
	resp := h.schema.Exec(ctx, req.Query, req.OperationName, req.Variables)
	if len(resp.Errors) > 0 {
		h.logger.DebugContext(ctx, "graphql request had errors",
			"operation", req.OperationName,
			"errors", len(resp.Errors),
		)
	}
	return resp
}

// caller lazily authenticates the request credential.
type caller struct {
	auth       Authenticator
	credential string

	once     sync.Once
	identity *auth.Identity
	err      error
}

func (c *caller) resolve(ctx context.Context) (*auth.Identity, error) {
	c.once.Do(func() {
		c.identity, c.err = c.auth.Authenticate(ctx, c.credential)
	})
	return c.identity, c.err
}

type callerKey struct{}

func withCaller(ctx context.Context, c *caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// identityFrom returns the authenticated identity of the request in ctx.
func identityFrom(ctx context.Context) (*auth.Identity, error) {
	c, ok := ctx.Value(callerKey{}).(*caller)
	if !ok {
		return nil, auth.ErrUnauthenticated
	}
	return c.resolve(ctx)
}

type panicLogger struct{ logger *slog.Logger }

func (l panicLogger) LogPanic(ctx context.Context, value interface{}) {
	l.logger.ErrorContext(ctx, "resolver panic", "panic", value, "stack", string(debug.Stack()))
}

type panicHandler struct{}

func (panicHandler) MakePanicError(ctx context.Context, value interface{}) *gqlerrors.QueryError {
	return &gqlerrors.QueryError{
		Message:    "internal server error",
		Extensions: map[string]interface{}{"code": CodeInternal},
	}
}
