package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-queryflow/pkg/cache"
	"github.com/illmade-knight/go-queryflow/pkg/config"
	"github.com/illmade-knight/go-queryflow/pkg/microservice"
	"github.com/illmade-knight/go-queryflow/pkg/observability"
	"github.com/illmade-knight/go-queryflow/pkg/query"
	"github.com/illmade-knight/go-queryflow/pkg/source"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// app holds the wired components shared by the serve and fetch commands.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	store     *query.Store
	metrics   *observability.Collector
	snapshots cache.Cache[string, json.RawMessage]

	dog  *query.Controller[source.DogImage]
	joke *query.Controller[source.Joke]
	user *query.Controller[source.UserProfile]

	closers []io.Closer
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "queryflow").Logger()
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewCollector("queryflow"),
	}
	a.store = query.NewStore(logger, query.WithRecorder(a.metrics))

	snapshots, err := a.openSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	a.snapshots = snapshots

	opts := []query.ControllerOption{query.WithFetchTimeout(cfg.FetchTimeout)}
	if a.snapshots != nil {
		opts = append(opts, query.WithSnapshotCache(a.snapshots, cfg.Snapshot.WriteTimeout))
	}

	client := source.NewClient(cfg.SourceConfig(), logger)
	if a.dog, err = query.NewController(ctx, a.store, query.KeyDog, client.Dog, logger, opts...); err != nil {
		return nil, a.closeWith(err)
	}
	if a.joke, err = query.NewController(ctx, a.store, query.KeyJoke, client.Joke, logger, opts...); err != nil {
		return nil, a.closeWith(err)
	}
	if a.user, err = query.NewController(ctx, a.store, query.KeyUser, client.User, logger, opts...); err != nil {
		return nil, a.closeWith(err)
	}
	return a, nil
}

func (a *app) openSnapshots(ctx context.Context) (cache.Cache[string, json.RawMessage], error) {
	sc := a.cfg.Snapshot
	switch sc.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendMemory:
		return cache.NewInMemoryCache[string, json.RawMessage](), nil
	case config.BackendRedis:
		rc, err := cache.NewRedisCache[string, json.RawMessage](ctx, &cache.RedisConfig{
			Addr:      sc.Redis.Addr,
			Password:  sc.Redis.Password,
			DB:        sc.Redis.DB,
			CacheTTL:  sc.Redis.TTL,
			KeyPrefix: "queryflow:",
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rc)
		return rc, nil
	case config.BackendFirestore:
		var opts []option.ClientOption
		if a.cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(a.cfg.CredentialsFile))
		}
		client, err := firestore.NewClient(ctx, a.cfg.ProjectID, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		a.closers = append(a.closers, client)
		fc, err := cache.NewFirestoreCache[string, json.RawMessage](&cache.FirestoreConfig{
			ProjectID:      a.cfg.ProjectID,
			CollectionName: sc.Firestore.Collection,
		}, client, a.logger)
		if err != nil {
			return nil, a.closeWith(err)
		}
		return fc, nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", sc.Backend)
	}
}

func (a *app) queries() []query.Query {
	return []query.Query{a.dog, a.joke, a.user}
}

func (a *app) newService() *microservice.QueryService {
	return microservice.NewQueryService(a.cfg.HTTPPort, a.store, a.queries(), a.metrics.Handler(), a.logger)
}

// fetch triggers key, waits for it to settle and writes the state as JSON.
// A fetch that ends in Error is reported as an error after printing.
func (a *app) fetch(ctx context.Context, key query.Key, out io.Writer) error {
	var err error
	switch key {
	case query.KeyDog:
		err = triggerAndAwait(ctx, a.dog)
	case query.KeyJoke:
		err = triggerAndAwait(ctx, a.joke)
	case query.KeyUser:
		err = triggerAndAwait(ctx, a.user)
	default:
		return fmt.Errorf("unknown query %q, want one of dog, joke, user", key)
	}
	if err != nil {
		return err
	}

	entry := a.store.GetEntry(key)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(microservice.NewStateView(key, entry)); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if entry.Status == query.Error {
		return entry.Err
	}
	return nil
}

func triggerAndAwait[T any](ctx context.Context, c *query.Controller[T]) error {
	c.Trigger(ctx)
	if _, err := c.Await(ctx); err != nil {
		return fmt.Errorf("waiting for %s: %w", c.Key(), err)
	}
	c.Wait()
	return nil
}

// wait blocks until all in-flight fetches and snapshot writes are done.
func (a *app) wait() {
	a.dog.Wait()
	a.joke.Wait()
	a.user.Wait()
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) closeWith(err error) error {
	if cerr := a.Close(); cerr != nil {
		a.logger.Error().Err(cerr).Msg("Error closing resources after failed start-up.")
	}
	return err
}

func parseKey(s string) query.Key {
	return query.Key(strings.ToLower(strings.TrimSpace(s)))
}
