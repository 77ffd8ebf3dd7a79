// Package bootstrap initializes shared infrastructure and assembles the bot.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jmoiron/sqlx"

	coreconfig "github.com/youpin-city/mafueng-bot/core/config"
	coredatabase "github.com/youpin-city/mafueng-bot/core/database"
	"github.com/youpin-city/mafueng-bot/core/logger"
	"github.com/youpin-city/mafueng-bot/core/session"
)

// Options control the bootstrap pipeline. Nil hooks use the real implementations.
type Options struct {
	Config *coreconfig.Config

	LoggerInit func(*coreconfig.Config) error
	Connect    func(coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(coredatabase.Config) error
	Dynamo     func(ctx context.Context, cfg coreconfig.DynamoDBConfig) (*dynamodb.Client, error)
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	// DB is set for the postgres backend only.
	DB     *sqlx.DB
	Store  session.Store
	Purger session.Purger
}

// Close releases the database pool, if any.
func (r *Result) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Run initializes the logger and opens the configured session store,
// migrating the schema first when the store is postgres.
func Run(ctx context.Context, opts Options) (*Result, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	storeOpts := session.Options{Prefix: cfg.Session.KeyPrefix, MaxAge: cfg.Session.MaxAge}
	res := &Result{}

	switch cfg.Storage.Backend {
	case coreconfig.StoragePostgres:
		connect := opts.Connect
		if connect == nil {
			connect = coredatabase.Connect
		}
		db, err := connect(cfg.Storage.Postgres)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
		}
		migrate := opts.Migrate
		if migrate == nil {
			migrate = coredatabase.RunMigrations
		}
		if err := migrate(cfg.Storage.Postgres); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
		}
		pg := session.NewPostgresStore(db, storeOpts)
		res.DB, res.Store, res.Purger = db, pg, pg

	case coreconfig.StorageDynamoDB:
		newClient := opts.Dynamo
		if newClient == nil {
			newClient = NewDynamoClient
		}
		client, err := newClient(ctx, cfg.Storage.DynamoDB)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: dynamodb client: %w", err)
		}
		res.Store = session.NewDynamoStore(client, cfg.Storage.DynamoDB.Table, storeOpts)

	default:
		mem := session.NewMemoryStore(storeOpts)
		res.Store, res.Purger = mem, mem
	}

	logger.Info(ctx, "session", "store.ready",
		slog.String("status", "ok"),
		slog.String("backend", cfg.Storage.Backend),
		slog.Duration("max_age", cfg.Session.MaxAge),
	)
	return res, nil
}

// NewDynamoClient loads the default AWS credential chain. Region and endpoint
// override the environment when set; the endpoint is meant for DynamoDB Local.
func NewDynamoClient(ctx context.Context, cfg coreconfig.DynamoDBConfig) (*dynamodb.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}
