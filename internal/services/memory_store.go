package services

import (
	"context"
	"sync"

	"github.com/temcen/carmatch/pkg/models"
)

// MemoryCatalogStore is an in-process CatalogStore. It keeps insertion order.
type MemoryCatalogStore struct {
	mu       sync.RWMutex
	order    []string
	vehicles map[string]models.VehicleRecord
}

func NewMemoryCatalogStore(vehicles ...models.VehicleRecord) *MemoryCatalogStore {
	s := &MemoryCatalogStore{vehicles: make(map[string]models.VehicleRecord)}
	for _, v := range vehicles {
		s.Upsert(v)
	}
	return s
}

func (s *MemoryCatalogStore) Upsert(vehicle models.VehicleRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vehicles[vehicle.ID]; !ok {
		s.order = append(s.order, vehicle.ID)
	}
	s.vehicles[vehicle.ID] = vehicle.Clone()
}

func (s *MemoryCatalogStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vehicles[id]; !ok {
		return
	}
	delete(s.vehicles, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *MemoryCatalogStore) ListVehicles(_ context.Context, filter models.VehicleFilter) ([]models.VehicleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vehicles := make([]models.VehicleRecord, 0, len(s.order))
	for _, id := range s.order {
		v := s.vehicles[id]
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		vehicles = append(vehicles, v.Clone())
		if filter.Limit > 0 && len(vehicles) == filter.Limit {
			break
		}
	}
	return vehicles, nil
}

func (s *MemoryCatalogStore) GetVehicle(_ context.Context, id string) (*models.VehicleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[id]
	if !ok {
		return nil, nil
	}
	v = v.Clone()
	return &v, nil
}

// MemoryUserStore is an in-process UserStore. It keeps insertion order.
type MemoryUserStore struct {
	mu    sync.RWMutex
	order []string
	users map[string]models.UserProfile
}

func NewMemoryUserStore(users ...models.UserProfile) *MemoryUserStore {
	s := &MemoryUserStore{users: make(map[string]models.UserProfile)}
	for _, u := range users {
		s.Upsert(u)
	}
	return s
}

func (s *MemoryUserStore) Upsert(profile models.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[profile.ID]; !ok {
		s.order = append(s.order, profile.ID)
	}
	s.users[profile.ID] = profile
}

func (s *MemoryUserStore) GetUser(_ context.Context, id string) (*models.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *MemoryUserStore) ListUsers(_ context.Context) ([]models.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.UserProfile, 0, len(s.order))
	for _, id := range s.order {
		users = append(users, s.users[id])
	}
	return users, nil
}
