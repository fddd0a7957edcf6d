// Package app wires configuration into the components every homeapi binary
// shares: the DynamoDB client, the store, the credential service and the
// GraphQL handler.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/homeapi/auth"
	"github.com/jacentio/homeapi/graph"
	"github.com/jacentio/homeapi/internal/config"
	"github.com/jacentio/homeapi/internal/logging"
	"github.com/jacentio/homeapi/internal/remo"
	"github.com/jacentio/homeapi/server"
	"github.com/jacentio/homeapi/store"
	"github.com/jacentio/homeapi/stream"
)

// App holds the components built from one configuration.
type App struct {
	Config  *config.Config
	Logger  *logging.Logger
	Store   *store.Store
	Auth    *auth.Service
	GraphQL *graph.Handler
}

// ConfigEnv names the environment variable holding the config file path.
const ConfigEnv = "HOMEAPI_CONFIG"

// Load reads the configuration named by ConfigEnv, builds the configured
// logger and connects to DynamoDB.
func Load(ctx context.Context, version string) (*App, error) {
	path := os.Getenv(ConfigEnv)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.Logging, version)
	logger.Info("configuration loaded",
		"path", path,
		"table", cfg.Table.Name,
		"level", cfg.Logging.Level,
	)
	return New(ctx, cfg, logger)
}

// New connects to DynamoDB and builds the application.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	client, err := NewDynamoDBClient(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	verifier := auth.NewGoogleVerifier(auth.GoogleConfig{
		ClientID:           cfg.Auth.GoogleClientID,
		JWKSURL:            cfg.Auth.JWKSURL,
		Issuers:            cfg.Auth.Issuers,
		MinRefreshInterval: time.Duration(cfg.Auth.JWKSRefreshSeconds) * time.Second,
		Logger:             logger.With("component", "google").Logger,
	})
	if cfg.Auth.GoogleClientID == "" {
		logger.Warn("google client id not configured, oauth tokens will be rejected")
	}
	return Build(cfg, client, verifier, logger)
}

// Build assembles the application around an existing DynamoDB client and
// token verifier.
func Build(cfg *config.Config, client store.DynamoDBAPI, verifier auth.TokenVerifier, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Default()
	}

	st := store.New(client, store.Config{
		TableName:           cfg.Table.Name,
		APIKeyIndex:         cfg.Table.APIKeyIndex,
		APIKeyIndexAttr:     cfg.Table.APIKeyIndexAttr,
		MaxRetries:          cfg.Table.MaxRetries,
		RetryBaseDelay:      time.Duration(cfg.Table.RetryBaseDelayMS) * time.Millisecond,
		ExpiredKeyRetention: time.Duration(cfg.Table.ExpiredKeyRetentionDays) * 24 * time.Hour,
	})

	svc := auth.New(auth.Options{
		Store:    st,
		Verifier: verifier,
		Logger:   logger.With("component", "auth").Logger,
		KeyIndex: cfg.Table.APIKeyIndex,

		RequireRegisteredUsers: cfg.Auth.RequireRegisteredUsers,
	})

	policy, err := graph.PolicyFromConfig(cfg.Auth.WritePolicy, cfg.Auth.Writers)
	if err != nil {
		return nil, fmt.Errorf("write policy: %w", err)
	}

	handler, err := graph.NewHandler(graph.Options{
		Store:           st,
		Auth:            svc,
		Logger:          logger.With("component", "graph").Logger,
		WritePolicy:     policy,
		DefaultPageSize: int32(cfg.API.DefaultPageSize),
		MaxPageSize:     int32(cfg.API.MaxPageSize),
		FallbackPlace:   cfg.Remo.DefaultPlace,
	})
	if err != nil {
		return nil, fmt.Errorf("graphql handler: %w", err)
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		Store:   st,
		Auth:    svc,
		GraphQL: handler,
	}, nil
}

// Server returns the transport for the GraphQL handler.
func (a *App) Server(version string) (*server.Server, error) {
	return server.New(server.Deps{
		Config:  a.Config.API,
		Logger:  a.Logger.With("component", "server").Logger,
		GraphQL: a.GraphQL,
		Version: version,
	})
}

// PlaceCascade returns the stream handler that rehomes devices of removed places.
func (a *App) PlaceCascade() *stream.Handler {
	return stream.NewHandler(a.Store, a.Config.Remo.DefaultPlace, a.Logger.With("component", "stream").Logger)
}

// RemoImporter returns the Nature Remo importer.
func (a *App) RemoImporter() (*remo.Importer, error) {
	client, err := remo.NewClient(remo.Config{
		Token:   a.Config.Remo.Token,
		BaseURL: a.Config.Remo.BaseURL,
		Timeout: time.Duration(a.Config.Remo.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return remo.NewImporter(client, a.Store, a.Config.Remo.DefaultPlace, a.Logger.With("component", "remo").Logger), nil
}

// Close waits for background credential bookkeeping to finish.
func (a *App) Close() {
	a.Auth.Wait()
}

// NewDynamoDBClient loads the default AWS configuration, applying the region
// and endpoint overrides. The SDK makes a single attempt per call; the store
// owns retries.
func NewDynamoDBClient(ctx context.Context, cfg config.AWSConfig) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		o.RetryMaxAttempts = 1
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}
