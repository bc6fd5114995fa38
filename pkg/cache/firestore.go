package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore client.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// snapshotDoc is the stored document shape. The value is kept as a JSON string
// so arbitrary payload types round-trip without Firestore struct tags.
type snapshotDoc struct {
	Value     string    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// FirestoreCache stores one document per key in a collection.
// It suits low volume deployments where running Redis is not worth it.
type FirestoreCache[K comparable, V any] struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreCache creates a new generic FirestoreCache.
func NewFirestoreCache[K comparable, V any](
	cfg *FirestoreConfig,
	client *firestore.Client,
	logger zerolog.Logger,
) (*FirestoreCache[K, V], error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("firestore collection name cannot be empty")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreCache initialized.")

	return &FirestoreCache[K, V]{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreCache").Logger(),
	}, nil
}

// FetchFromCache retrieves a single document by its key.
func (s *FirestoreCache[K, V]) FetchFromCache(ctx context.Context, key K) (V, error) {
	var zero V
	stringKey := fmt.Sprintf("%v", key)
	docSnap, err := s.client.Collection(s.collectionName).Doc(stringKey).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			s.logger.Debug().Str("key", stringKey).Msg("Document not found in Firestore.")
			return zero, fmt.Errorf("document %s not found: %w", stringKey, ErrCacheMiss)
		}
		s.logger.Error().Err(err).Str("key", stringKey).Msg("Failed to get document from Firestore.")
		return zero, fmt.Errorf("firestore get for %s: %w", stringKey, err)
	}

	var doc snapshotDoc
	if err := docSnap.DataTo(&doc); err != nil {
		s.logger.Error().Err(err).Str("key", stringKey).Msg("Failed to map Firestore document data.")
		return zero, fmt.Errorf("firestore DataTo for %s: %w", stringKey, err)
	}

	var value V
	if err := json.Unmarshal([]byte(doc.Value), &value); err != nil {
		return zero, fmt.Errorf("failed to unmarshal data for %s: %w", stringKey, err)
	}

	s.logger.Debug().Str("key", stringKey).Msg("Successfully fetched data from Firestore.")
	return value, nil
}

// WriteToCache writes the document to Firestore, replacing any previous one.
func (s *FirestoreCache[K, V]) WriteToCache(ctx context.Context, key K, value V) error {
	stringKey := fmt.Sprintf("%v", key)
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	doc := snapshotDoc{Value: string(jsonData), UpdatedAt: time.Now().UTC()}
	if _, err := s.client.Collection(s.collectionName).Doc(stringKey).Set(ctx, doc); err != nil {
		s.logger.Error().Err(err).Str("key", stringKey).Msg("Failed to write document to Firestore.")
		return fmt.Errorf("firestore set for %s: %w", stringKey, err)
	}
	s.logger.Debug().Str("key", stringKey).Msg("Successfully wrote data to Firestore.")
	return nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreCache[K, V]) Close() error {
	s.logger.Info().Msg("FirestoreCache does not close the injected Firestore client.")
	return nil
}
