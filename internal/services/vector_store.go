package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/carmatch/pkg/models"
)

// VectorStore caches feature vectors by owner id. Memory is authoritative
// for the running process; Redis, when configured, is a write-through copy
// that lets other replicas and restarts skip re-vectorizing.
type VectorStore struct {
	mu       sync.RWMutex
	users    map[string]models.FeatureVector
	vehicles map[string]models.FeatureVector

	redis   *redis.Client
	prefix  string
	ttl     time.Duration
	logger  *logrus.Logger
	metrics *Metrics
}

// NewVectorStore creates a store; client may be nil for memory-only use.
func NewVectorStore(client *redis.Client, prefix string, ttl time.Duration, logger *logrus.Logger, metrics *Metrics) *VectorStore {
	if prefix == "" {
		prefix = "carmatch:vector"
	}
	return &VectorStore{
		users:    make(map[string]models.FeatureVector),
		vehicles: make(map[string]models.FeatureVector),
		redis:    client,
		prefix:   prefix,
		ttl:      ttl,
		logger:   logger,
		metrics:  metrics,
	}
}

func (s *VectorStore) key(kind models.OwnerKind, id string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, kind, id)
}

func (s *VectorStore) table(kind models.OwnerKind) map[string]models.FeatureVector {
	if kind == models.OwnerUser {
		return s.users
	}
	return s.vehicles
}

// Get returns the cached vector, reading Redis on a memory miss.
func (s *VectorStore) Get(ctx context.Context, kind models.OwnerKind, id string) (models.FeatureVector, bool) {
	s.mu.RLock()
	fv, ok := s.table(kind)[id]
	s.mu.RUnlock()
	if ok {
		return fv, true
	}

	if s.redis == nil {
		return models.FeatureVector{}, false
	}

	data, err := s.redis.Get(ctx, s.key(kind, id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"owner_id":   id,
				"owner_kind": kind,
			}).Warn("Failed to read cached vector")
		}
		return models.FeatureVector{}, false
	}

	if err := json.Unmarshal(data, &fv); err != nil || len(fv.Values) != models.FeatureVectorLength {
		s.logger.WithFields(logrus.Fields{
			"owner_id":   id,
			"owner_kind": kind,
		}).Warn("Discarding unreadable cached vector")
		return models.FeatureVector{}, false
	}

	s.mu.Lock()
	s.table(kind)[id] = fv
	s.mu.Unlock()
	s.updateGauges()

	return fv, true
}

// Put stores vectors in memory and writes them through to Redis. Redis
// failures are logged and do not fail the call.
func (s *VectorStore) Put(ctx context.Context, vectors ...models.FeatureVector) {
	if len(vectors) == 0 {
		return
	}

	s.mu.Lock()
	for _, fv := range vectors {
		s.table(fv.OwnerKind)[fv.OwnerID] = fv
	}
	s.mu.Unlock()
	s.updateGauges()

	if s.redis == nil {
		return
	}

	pipe := s.redis.Pipeline()
	for _, fv := range vectors {
		data, err := json.Marshal(fv)
		if err != nil {
			s.logger.WithError(err).WithField("owner_id", fv.OwnerID).Warn("Failed to encode vector")
			continue
		}
		pipe.Set(ctx, s.key(fv.OwnerKind, fv.OwnerID), data, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WithError(err).WithField("count", len(vectors)).Warn("Failed to cache vectors in Redis")
	}
}

// Delete drops a vector from memory and Redis.
func (s *VectorStore) Delete(ctx context.Context, kind models.OwnerKind, id string) {
	s.mu.Lock()
	delete(s.table(kind), id)
	s.mu.Unlock()
	s.updateGauges()

	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, s.key(kind, id)).Err(); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"owner_id":   id,
			"owner_kind": kind,
		}).Warn("Failed to delete cached vector")
	}
}

// Count returns the number of vectors held in memory for kind.
func (s *VectorStore) Count(kind models.OwnerKind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.table(kind))
}

func (s *VectorStore) updateGauges() {
	s.mu.RLock()
	users, vehicles := len(s.users), len(s.vehicles)
	s.mu.RUnlock()

	s.metrics.setCachedVectors(string(models.OwnerUser), users)
	s.metrics.setCachedVectors(string(models.OwnerVehicle), vehicles)
}
