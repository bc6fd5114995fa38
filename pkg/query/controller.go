package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-queryflow/pkg/cache"
	"github.com/rs/zerolog"
)

// Producer performs the remote call for one key.
type Producer[T any] func(ctx context.Context) (T, error)

// Query is the untyped view of a Controller used by transports that only
// need to start fetches.
type Query interface {
	Key() Key
	Trigger(ctx context.Context) bool
}

// State is the typed read-only view of a key's entry.
type State[T any] struct {
	Key       Key
	Status    Status
	Data      T
	HasData   bool
	Err       error
	Version   uint64
	UpdatedAt time.Time
}

type controllerOptions struct {
	snapshots    cache.Cache[string, json.RawMessage]
	writeTimeout time.Duration
	fetchTimeout time.Duration
}

// ControllerOption configures a Controller.
type ControllerOption func(*controllerOptions)

// WithSnapshotCache persists every applied success to c and seeds the store
// from it when the controller is created.
func WithSnapshotCache(c cache.Cache[string, json.RawMessage], writeTimeout time.Duration) ControllerOption {
	return func(o *controllerOptions) {
		o.snapshots = c
		o.writeTimeout = writeTimeout
	}
}

// WithFetchTimeout bounds each producer invocation. Zero means no bound.
func WithFetchTimeout(d time.Duration) ControllerOption {
	return func(o *controllerOptions) {
		o.fetchTimeout = d
	}
}

// Controller binds a Producer to a key and drives the Store's state machine.
type Controller[T any] struct {
	key      Key
	store    *Store
	producer Producer[T]
	logger   zerolog.Logger
	opts     controllerOptions

	inflight sync.WaitGroup
}

// NewController creates a Controller for key. If a snapshot cache is
// configured, the last persisted payload is loaded into the store before
// returning; a miss or a read failure is logged and otherwise ignored.
func NewController[T any](
	ctx context.Context,
	store *Store,
	key Key,
	producer Producer[T],
	logger zerolog.Logger,
	opts ...ControllerOption,
) (*Controller[T], error) {
	if store == nil || producer == nil {
		return nil, fmt.Errorf("store and producer cannot be nil")
	}
	if key == "" {
		return nil, fmt.Errorf("query key cannot be empty")
	}

	c := &Controller[T]{
		key:      key,
		store:    store,
		producer: producer,
		logger:   logger.With().Str("component", "QueryController").Str("key", string(key)).Logger(),
	}
	for _, opt := range opts {
		opt(&c.opts)
	}
	if c.opts.writeTimeout <= 0 {
		c.opts.writeTimeout = 5 * time.Second
	}

	c.hydrate(ctx)
	return c, nil
}

// Key returns the key this controller drives.
func (c *Controller[T]) Key() Key {
	return c.key
}

// Trigger starts a fetch unless one is already in flight for the key, and
// reports whether it did. The producer runs on its own goroutine, detached
// from ctx cancellation, and its outcome is written to the store.
func (c *Controller[T]) Trigger(ctx context.Context) bool {
	version, started := c.store.BeginFetch(c.key)
	if !started {
		return false
	}

	fetchID := uuid.NewString()
	c.logger.Info().Str("fetch_id", fetchID).Uint64("version", version).Msg("Fetch triggered.")

	fetchCtx := context.WithoutCancel(ctx)
	c.inflight.Add(1)
	go c.run(fetchCtx, version, fetchID)
	return true
}

// CurrentState returns the typed state of the key.
func (c *Controller[T]) CurrentState() State[T] {
	e := c.store.GetEntry(c.key)
	st := State[T]{
		Key:       c.key,
		Status:    e.Status,
		Err:       e.Err,
		Version:   e.Version,
		UpdatedAt: e.UpdatedAt,
	}
	if e.HasData {
		if data, ok := e.Data.(T); ok {
			st.Data = data
			st.HasData = true
		}
	}
	return st
}

// Await blocks until the key is not Loading and returns its state. If ctx
// ends first, the state at that moment is returned with ctx's error.
func (c *Controller[T]) Await(ctx context.Context) (State[T], error) {
	changed := make(chan struct{}, 1)
	unsubscribe := c.store.Subscribe(c.key, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		st := c.CurrentState()
		if st.Status != Loading {
			return st, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return c.CurrentState(), ctx.Err()
		}
	}
}

// Wait blocks until every fetch started by this controller has settled and
// its snapshot write, if any, has finished.
func (c *Controller[T]) Wait() {
	c.inflight.Wait()
}

func (c *Controller[T]) run(ctx context.Context, version uint64, fetchID string) {
	defer c.inflight.Done()

	if c.opts.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.fetchTimeout)
		defer cancel()
	}

	logger := c.logger.With().Str("fetch_id", fetchID).Uint64("version", version).Logger()

	data, err := c.invoke(ctx)
	if err != nil {
		perr := &ProducerError{Key: c.key, Err: err}
		if c.store.ResolveError(c.key, version, perr) {
			logger.Warn().Err(err).Msg("Fetch failed.")
		}
		return
	}

	if !c.store.ResolveSuccess(c.key, version, data) {
		logger.Debug().Msg("Fetch result superseded, not persisted.")
		return
	}
	logger.Info().Msg("Fetch succeeded.")
	c.persist(ctx, data)
}

// invoke calls the producer, turning a panic into an error.
func (c *Controller[T]) invoke(ctx context.Context) (data T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrProducerPanic, r)
		}
	}()
	return c.producer(ctx)
}

func snapshotKey(key Key) string {
	return "snapshot:" + string(key)
}

func (c *Controller[T]) persist(ctx context.Context, data T) {
	if c.opts.snapshots == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to marshal snapshot.")
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.writeTimeout)
	defer cancel()
	if err := c.opts.snapshots.WriteToCache(writeCtx, snapshotKey(c.key), raw); err != nil {
		c.logger.Error().Err(err).Msg("Failed to write snapshot.")
	}
}

func (c *Controller[T]) hydrate(ctx context.Context) {
	if c.opts.snapshots == nil {
		return
	}
	raw, err := c.opts.snapshots.FetchFromCache(ctx, snapshotKey(c.key))
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Debug().Msg("No snapshot to hydrate from.")
		} else {
			c.logger.Warn().Err(err).Msg("Failed to read snapshot.")
		}
		return
	}

	var data T
	if err := json.Unmarshal(raw, &data); err != nil {
		c.logger.Warn().Err(err).Msg("Discarding unreadable snapshot.")
		return
	}
	if c.store.Seed(c.key, data) {
		c.logger.Info().Msg("Hydrated from snapshot.")
	}
}
