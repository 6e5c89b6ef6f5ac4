// Package bootstrap assembles the components shared by the service binaries
// from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/email-confirmation-service/internal/application/callback"
	"github.com/email-confirmation-service/internal/application/confirmation"
	"github.com/email-confirmation-service/internal/application/emaildispatch"
	"github.com/email-confirmation-service/internal/config"
	"github.com/email-confirmation-service/internal/deadletter"
	"github.com/email-confirmation-service/internal/domain"
	"github.com/email-confirmation-service/internal/health"
	"github.com/email-confirmation-service/internal/infrastructure/awsconf"
	"github.com/email-confirmation-service/internal/infrastructure/dynamo"
	"github.com/email-confirmation-service/internal/infrastructure/mailer"
	"github.com/email-confirmation-service/internal/infrastructure/memstore"
	s3infra "github.com/email-confirmation-service/internal/infrastructure/s3"
	"github.com/email-confirmation-service/internal/infrastructure/sns"
	"github.com/email-confirmation-service/internal/signature"
	"github.com/email-confirmation-service/internal/stream"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
)

// Store is the record store as seen by the binaries.
type Store interface {
	confirmation.Store
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]domain.ConfirmationRequest, error)
}

// Runtime holds the wired components for one process.
type Runtime struct {
	Config *config.Config
	Logger *slog.Logger
	Clock  clock.Clock
	Engine *signature.Engine
	Store  Store

	// Set for STORE_BACKEND=dynamo.
	AWS    aws.Config
	Dynamo *dynamodb.Client
	Repo   *dynamo.ConfirmationRepo

	// Set for STORE_BACKEND=memory.
	Memory *memstore.Store
}

// New loads AWS configuration (for the dynamo backend), bootstraps tables
// and builds the signature engine and record store.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger, Clock: clock.WallClock}

	engine, err := signature.NewEngine([]byte(cfg.SigningSecret), rt.Clock)
	if err != nil {
		return nil, fmt.Errorf("signature engine: %w", err)
	}
	rt.Engine = engine

	switch cfg.StoreBackend {
	case "memory":
		rt.Memory = memstore.New(rt.Clock)
		rt.Store = rt.Memory
	default:
		rt.AWS, err = awsconf.Load(ctx, cfg)
		if err != nil {
			return nil, err
		}
		rt.Dynamo = dynamo.NewClient(rt.AWS, cfg)
		dynamo.Bootstrap(ctx, rt.Dynamo, cfg.DynamoTables)
		rt.Repo = dynamo.NewConfirmationRepo(rt.Dynamo, cfg.DynamoTables.Confirmations, rt.Clock)
		rt.Store = rt.Repo
	}
	return rt, nil
}

// Checker returns a readiness checker over the record store.
func (rt *Runtime) Checker(reg prometheus.Registerer) *health.Checker {
	deps := map[string]health.Pinger{}
	if rt.Repo != nil {
		deps["dynamodb"] = rt.Repo
	} else {
		deps["memstore"] = health.PingFunc(func(context.Context) error { return nil })
	}
	return health.NewChecker(deps, rt.Logger, reg)
}

// DeadLetter returns the configured sinks. The log sink is always present.
func (rt *Runtime) DeadLetter() deadletter.Sink {
	sinks := deadletter.Multi{deadletter.NewLogSink(rt.Logger.With("component", "deadletter"))}
	if rt.Dynamo == nil {
		return sinks
	}
	if rt.Config.DeadLetterTopicARN != "" {
		sinks = append(sinks, deadletter.NewTopicSink(sns.NewPublisher(rt.AWS, rt.Config)))
	}
	if rt.Config.DeadLetterBucket != "" {
		store := s3infra.NewStore(s3infra.NewClient(rt.AWS, rt.Config), rt.Config.DeadLetterBucket)
		sinks = append(sinks, deadletter.NewArchiveSink(store))
	}
	return sinks
}

// Dispatcher wires email dispatch and the callback trigger behind the stream dispatcher.
func (rt *Runtime) Dispatcher() (*stream.Dispatcher, error) {
	cfg := rt.Config
	m, err := mailer.NewFromConfig(cfg.Mailer, rt.Logger.With("component", "mailer"))
	if err != nil {
		return nil, err
	}
	email := emaildispatch.New(emaildispatch.Deps{
		Store:       rt.Store,
		Signer:      rt.Engine,
		Mailer:      m,
		LinkBaseURL: cfg.LinkBaseURL,
		Clock:       rt.Clock,
		Logger:      rt.Logger,
	})
	cb := callback.New(callback.Deps{
		Store:    rt.Store,
		Signer:   rt.Engine,
		TokenTTL: cfg.CallbackTokenTTL,
		Timeout:  cfg.CallbackTimeout,
		Logger:   rt.Logger,
	})
	return stream.NewDispatcher(email, cb, rt.DeadLetter(), stream.Options{
		MaxAttempts: cfg.Stream.MaxAttempts,
		Delay:       cfg.Stream.RetryDelay,
		MaxDelay:    cfg.Stream.MaxRetryDelay,
		Clock:       rt.Clock,
	}, rt.Logger), nil
}

// StreamReader follows the confirmations table stream into d.
func (rt *Runtime) StreamReader(ctx context.Context, d *stream.Dispatcher) (*dynamo.StreamReader, error) {
	if rt.Dynamo == nil {
		return nil, fmt.Errorf("stream reader requires the dynamo store backend")
	}
	arn, err := dynamo.LatestStreamARN(ctx, rt.Dynamo, rt.Config.DynamoTables.Confirmations)
	if err != nil {
		return nil, err
	}
	checkpoints := dynamo.NewCheckpointRepo(rt.Dynamo, rt.Config.DynamoTables.Checkpoints)
	streams := dynamo.NewStreamsClient(rt.AWS, rt.Config)
	return dynamo.NewStreamReader(streams, checkpoints, arn, rt.Config.Stream, d.Settle, rt.Logger), nil
}

// Follower drains the in-process store feed into d.
func (rt *Runtime) Follower(d *stream.Dispatcher) (*stream.Follower, error) {
	if rt.Memory == nil {
		return nil, fmt.Errorf("in-process follower requires the memory store backend")
	}
	return stream.NewFollower(rt.Memory, d, rt.Config.Stream.BatchSize, rt.Config.Stream.PollInterval, rt.Clock, rt.Logger), nil
}
