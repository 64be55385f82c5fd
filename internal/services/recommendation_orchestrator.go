package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/carmatch/internal/config"
	"github.com/temcen/carmatch/pkg/models"
)

const publishTimeout = 2 * time.Second

// RecommendationOrchestrator coordinates vectorizing, filtering, scoring,
// ranking and explaining for a request.
type RecommendationOrchestrator struct {
	catalogStore CatalogStore
	userStore    UserStore
	vectorizer   *Vectorizer
	scorer       *SimilarityScorer
	filter       *CandidateFilter
	explainer    ExplanationServiceInterface
	vectors      *VectorStore
	publisher    EventPublisher
	config       config.RecommendationConfig
	logger       *logrus.Logger
	metrics      *Metrics
	now          func() time.Time

	// initMu serializes warm-up; mu guards the fields below it.
	initMu       sync.Mutex
	mu           sync.RWMutex
	initialized  bool
	catalog      []models.VehicleRecord
	catalogIndex map[string]int
	users        map[string]models.UserProfile
	userOrder    []string
}

// NewRecommendationOrchestrator creates a new recommendation orchestrator
func NewRecommendationOrchestrator(
	catalogStore CatalogStore,
	userStore UserStore,
	vectorizer *Vectorizer,
	scorer *SimilarityScorer,
	filter *CandidateFilter,
	explainer ExplanationServiceInterface,
	vectors *VectorStore,
	cfg config.RecommendationConfig,
	logger *logrus.Logger,
	metrics *Metrics,
) *RecommendationOrchestrator {
	return &RecommendationOrchestrator{
		catalogStore: catalogStore,
		userStore:    userStore,
		vectorizer:   vectorizer,
		scorer:       scorer,
		filter:       filter,
		explainer:    explainer,
		vectors:      vectors,
		config:       cfg,
		logger:       logger,
		metrics:      metrics,
		now:          time.Now,
		catalogIndex: make(map[string]int),
		users:        make(map[string]models.UserProfile),
	}
}

// SetEventPublisher enables best-effort publication of served results.
func (o *RecommendationOrchestrator) SetEventPublisher(publisher EventPublisher) {
	o.publisher = publisher
}

// WithClock overrides the clock used for GeneratedAt.
func (o *RecommendationOrchestrator) WithClock(now func() time.Time) *RecommendationOrchestrator {
	o.now = now
	return o
}

// Initialize vectorizes the catalog and known users. Once the engine is
// initialized further calls are no-ops.
func (o *RecommendationOrchestrator) Initialize(ctx context.Context, catalog []models.VehicleRecord, knownUsers []models.UserProfile) error {
	o.initMu.Lock()
	defer o.initMu.Unlock()
	return o.initializeLocked(ctx, catalog, knownUsers)
}

// Warm loads in-stock inventory and known users from the stores and
// initializes the engine with them.
func (o *RecommendationOrchestrator) Warm(ctx context.Context) error {
	o.initMu.Lock()
	defer o.initMu.Unlock()

	if o.isInitialized() {
		return nil
	}

	catalog, err := o.catalogStore.ListVehicles(ctx, models.VehicleFilter{
		Status: models.VehicleStatusInStock,
		Limit:  o.config.CatalogLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	users, err := o.userStore.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}

	return o.initializeLocked(ctx, catalog, users)
}

func (o *RecommendationOrchestrator) initializeLocked(ctx context.Context, catalog []models.VehicleRecord, knownUsers []models.UserProfile) error {
	if o.isInitialized() {
		return nil
	}

	start := time.Now()

	records := make([]models.VehicleRecord, 0, len(catalog))
	index := make(map[string]int, len(catalog))
	fresh := make([]models.FeatureVector, 0, len(catalog)+len(knownUsers))

	for i := range catalog {
		if _, dup := index[catalog[i].ID]; dup {
			continue
		}
		vehicle := catalog[i].Clone()
		index[vehicle.ID] = len(records)
		records = append(records, vehicle)

		if fv, ok := o.cachedVector(ctx, models.OwnerVehicle, vehicle.ID, DescribeVehicle(&vehicle)); !ok {
			fresh = append(fresh, fv)
		}
	}

	users := make(map[string]models.UserProfile, len(knownUsers))
	order := make([]string, 0, len(knownUsers))
	for _, user := range knownUsers {
		if _, dup := users[user.ID]; dup {
			continue
		}
		profile := user.WithDefaults()
		users[profile.ID] = profile
		order = append(order, profile.ID)

		if fv, ok := o.cachedVector(ctx, models.OwnerUser, profile.ID, DescribeUser(&profile)); !ok {
			fresh = append(fresh, fv)
		}
	}

	o.vectors.Put(ctx, fresh...)

	o.mu.Lock()
	o.catalog = records
	o.catalogIndex = index
	o.users = users
	o.userOrder = order
	o.initialized = true
	o.mu.Unlock()

	o.logger.WithFields(logrus.Fields{
		"vehicles":    len(records),
		"users":       len(order),
		"vectorized":  len(fresh),
		"duration_ms": time.Since(start).Milliseconds(),
		"method":      o.config.Strategy,
	}).Info("Recommendation engine initialized")

	return nil
}

// cachedVector returns the stored vector when it was built from text,
// otherwise a freshly computed vector that the caller must store.
func (o *RecommendationOrchestrator) cachedVector(ctx context.Context, kind models.OwnerKind, id, text string) (models.FeatureVector, bool) {
	if fv, ok := o.vectors.Get(ctx, kind, id); ok && fv.SourceText == text {
		return fv, true
	}
	fv := o.vectorizer.Vectorize(id, kind, text)
	if fv.Degraded {
		o.metrics.recordDegradedVector(string(kind))
	}
	return fv, false
}

func (o *RecommendationOrchestrator) vectorFor(ctx context.Context, kind models.OwnerKind, id, text string) models.FeatureVector {
	fv, cached := o.cachedVector(ctx, kind, id, text)
	if !cached {
		o.vectors.Put(ctx, fv)
	}
	return fv
}

func (o *RecommendationOrchestrator) isInitialized() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.initialized
}

func (o *RecommendationOrchestrator) ensureInitialized(ctx context.Context) error {
	if o.isInitialized() {
		return nil
	}
	return o.Warm(ctx)
}

// GetRecommendations ranks the catalog for a stored user.
func (o *RecommendationOrchestrator) GetRecommendations(ctx context.Context, userID string, limit int) (*models.RecommendationResult, error) {
	start := time.Now()

	result, err := func() (*models.RecommendationResult, error) {
		if err := o.ensureInitialized(ctx); err != nil {
			return nil, err
		}
		profile, err := o.resolveUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		return o.recommend(ctx, profile, limit, true), nil
	}()

	o.metrics.recordRequest("user", outcome(err), time.Since(start))
	return result, err
}

// GetRecommendationsByName ranks the catalog for the first known user whose
// name contains name, case-insensitively.
func (o *RecommendationOrchestrator) GetRecommendationsByName(ctx context.Context, name string, limit int) (*models.RecommendationResult, error) {
	start := time.Now()

	result, err := func() (*models.RecommendationResult, error) {
		if err := o.ensureInitialized(ctx); err != nil {
			return nil, err
		}
		profile, err := o.findUserByName(ctx, name)
		if err != nil {
			return nil, err
		}
		return o.recommend(ctx, profile, limit, true), nil
	}()

	o.metrics.recordRequest("by_name", outcome(err), time.Since(start))
	return result, err
}

// GetRecommendationsForProfile ranks the catalog for an ad-hoc profile. Its
// vector is not cached.
func (o *RecommendationOrchestrator) GetRecommendationsForProfile(ctx context.Context, criteria models.CustomCriteria, limit int) (*models.RecommendationResult, error) {
	start := time.Now()

	result, err := func() (*models.RecommendationResult, error) {
		if err := o.ensureInitialized(ctx); err != nil {
			return nil, err
		}
		return o.recommend(ctx, criteria.Profile().WithDefaults(), limit, false), nil
	}()

	o.metrics.recordRequest("custom", outcome(err), time.Since(start))
	return result, err
}

// GetAllUserRecommendations ranks the catalog for every known user.
func (o *RecommendationOrchestrator) GetAllUserRecommendations(ctx context.Context, limit int) ([]*models.RecommendationResult, error) {
	start := time.Now()

	results, err := func() ([]*models.RecommendationResult, error) {
		if err := o.ensureInitialized(ctx); err != nil {
			return nil, err
		}

		o.mu.RLock()
		profiles := make([]models.UserProfile, 0, len(o.userOrder))
		for _, id := range o.userOrder {
			profiles = append(profiles, o.users[id])
		}
		o.mu.RUnlock()

		results := make([]*models.RecommendationResult, 0, len(profiles))
		for _, profile := range profiles {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			results = append(results, o.recommend(ctx, profile, limit, true))
		}
		return results, nil
	}()

	o.metrics.recordRequest("all_users", outcome(err), time.Since(start))
	return results, err
}

// GetSimilarityBreakdown exposes the sub-scores for one user and vehicle.
func (o *RecommendationOrchestrator) GetSimilarityBreakdown(ctx context.Context, userID, vehicleID string) (*models.SimilarityBreakdown, error) {
	start := time.Now()

	breakdown, err := func() (*models.SimilarityBreakdown, error) {
		if err := o.ensureInitialized(ctx); err != nil {
			return nil, err
		}
		profile, err := o.resolveUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		vehicle, err := o.resolveVehicle(ctx, vehicleID)
		if err != nil {
			return nil, err
		}

		userVec := o.vectorFor(ctx, models.OwnerUser, profile.ID, DescribeUser(&profile))
		vehicleVec := o.vectorFor(ctx, models.OwnerVehicle, vehicle.ID, DescribeVehicle(&vehicle))

		return &models.SimilarityBreakdown{
			UserID:          profile.ID,
			VehicleID:       vehicle.ID,
			Car:             vehicle.DisplayName(),
			Scores:          o.scorer.Score(userVec.Values, &profile, vehicleVec.Values, &vehicle),
			Weights:         o.scorer.Weights(),
			UserDegraded:    userVec.Degraded,
			VehicleDegraded: vehicleVec.Degraded,
		}, nil
	}()

	o.metrics.recordRequest("breakdown", outcome(err), time.Since(start))
	return breakdown, err
}

// Status reports cache sizes and whether the engine has been initialized.
func (o *RecommendationOrchestrator) Status() models.EngineStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return models.EngineStatus{
		Initialized:    o.initialized,
		UserVectors:    o.vectors.Count(models.OwnerUser),
		VehicleVectors: o.vectors.Count(models.OwnerVehicle),
		TotalCars:      len(o.catalog),
		Method:         o.config.Strategy,
	}
}

// recommend runs filter, score, threshold, rank and explain for one profile.
// The profile must already carry defaults.
func (o *RecommendationOrchestrator) recommend(ctx context.Context, profile models.UserProfile, limit int, cacheUserVector bool) *models.RecommendationResult {
	limit = o.normalizeLimit(limit)

	text := DescribeUser(&profile)
	var userVec models.FeatureVector
	if cacheUserVector {
		userVec = o.vectorFor(ctx, models.OwnerUser, profile.ID, text)
	} else {
		userVec = o.vectorizer.Vectorize(profile.ID, models.OwnerUser, text)
		if userVec.Degraded {
			o.metrics.recordDegradedVector(string(models.OwnerUser))
		}
	}

	o.mu.RLock()
	catalog := o.catalog
	index := o.catalogIndex
	o.mu.RUnlock()

	candidates := o.filter.SelectCandidates(catalog, &profile)

	scored := make([]models.ScoredCandidate, 0, len(candidates))
	for i := range candidates {
		vehicle := &candidates[i]
		vehicleVec := o.vectorFor(ctx, models.OwnerVehicle, vehicle.ID, DescribeVehicle(vehicle))

		scored = append(scored, models.ScoredCandidate{
			Vehicle:      *vehicle,
			Scores:       o.scorer.Score(userVec.Values, &profile, vehicleVec.Values, vehicle),
			Degraded:     userVec.Degraded || vehicleVec.Degraded,
			CatalogIndex: index[vehicle.ID],
		})
	}

	survivors := o.filter.ApplyThreshold(scored, o.filter.Threshold())
	ranked := o.filter.Rank(survivors, limit)

	explainCtx := ctx
	if o.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		explainCtx, cancel = context.WithTimeout(ctx, o.config.RequestTimeout)
		defer cancel()
	}

	result := &models.RecommendationResult{
		RequestID:         uuid.New(),
		User:              models.UserRef{ID: profile.ID, Name: profile.Name()},
		Recommendations:   o.explainer.ExplainAll(explainCtx, &profile, ranked),
		TotalCarsAnalyzed: len(catalog),
		FilteredCars:      len(survivors),
		Method:            o.config.Strategy,
		GeneratedAt:       o.now(),
	}

	o.logger.WithFields(logrus.Fields{
		"request_id":      result.RequestID,
		"user_id":         profile.ID,
		"total_cars":      result.TotalCarsAnalyzed,
		"filtered_cars":   result.FilteredCars,
		"recommendations": len(result.Recommendations),
		"method":          result.Method,
	}).Info("Recommendations generated")

	o.publish(ctx, result)
	return result
}

func (o *RecommendationOrchestrator) publish(ctx context.Context, result *models.RecommendationResult) {
	if o.publisher == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := o.publisher.PublishRecommendations(pubCtx, result); err != nil {
		o.logger.WithError(err).WithField("request_id", result.RequestID).Warn("Failed to publish recommendation event")
	}
}

func (o *RecommendationOrchestrator) normalizeLimit(limit int) int {
	if limit <= 0 {
		limit = o.config.DefaultLimit
	}
	if limit <= 0 {
		limit = DefaultRecommendationLimit
	}
	if o.config.MaxLimit > 0 && limit > o.config.MaxLimit {
		limit = o.config.MaxLimit
	}
	return limit
}

func (o *RecommendationOrchestrator) resolveUser(ctx context.Context, userID string) (models.UserProfile, error) {
	if strings.TrimSpace(userID) == "" {
		return models.UserProfile{}, userNotFound(userID)
	}

	o.mu.RLock()
	profile, ok := o.users[userID]
	o.mu.RUnlock()
	if ok {
		return profile, nil
	}

	stored, err := o.userStore.GetUser(ctx, userID)
	if err != nil {
		return models.UserProfile{}, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if stored == nil {
		return models.UserProfile{}, userNotFound(userID)
	}

	profile = stored.WithDefaults()
	o.rememberUser(profile)
	return profile, nil
}

func (o *RecommendationOrchestrator) rememberUser(profile models.UserProfile) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.users[profile.ID]; !ok {
		o.userOrder = append(o.userOrder, profile.ID)
	}
	o.users[profile.ID] = profile
}

func (o *RecommendationOrchestrator) findUserByName(ctx context.Context, name string) (models.UserProfile, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return models.UserProfile{}, userNotFound(name)
	}

	if profile, ok := o.matchKnownUser(needle); ok {
		return profile, nil
	}

	// Profiles created after warm-up are only visible in the store.
	users, err := o.userStore.ListUsers(ctx)
	if err != nil {
		return models.UserProfile{}, fmt.Errorf("failed to list users: %w", err)
	}
	for _, user := range users {
		if strings.Contains(strings.ToLower(user.Name()), needle) {
			profile := user.WithDefaults()
			o.rememberUser(profile)
			return profile, nil
		}
	}

	return models.UserProfile{}, userNotFound(name)
}

func (o *RecommendationOrchestrator) matchKnownUser(needle string) (models.UserProfile, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, id := range o.userOrder {
		profile := o.users[id]
		if strings.Contains(strings.ToLower(profile.Name()), needle) {
			return profile, true
		}
	}
	return models.UserProfile{}, false
}

func (o *RecommendationOrchestrator) resolveVehicle(ctx context.Context, vehicleID string) (models.VehicleRecord, error) {
	o.mu.RLock()
	i, ok := o.catalogIndex[vehicleID]
	var vehicle models.VehicleRecord
	if ok {
		vehicle = o.catalog[i].Clone()
	}
	o.mu.RUnlock()
	if ok {
		return vehicle, nil
	}

	stored, err := o.catalogStore.GetVehicle(ctx, vehicleID)
	if err != nil {
		return models.VehicleRecord{}, fmt.Errorf("failed to load vehicle %s: %w", vehicleID, err)
	}
	if stored == nil {
		return models.VehicleRecord{}, vehicleNotFound(vehicleID)
	}
	return *stored, nil
}

// RefreshVehicle upserts a vehicle into the live catalog and re-vectorizes
// it. Vehicles that are no longer in stock are removed instead.
func (o *RecommendationOrchestrator) RefreshVehicle(ctx context.Context, vehicle models.VehicleRecord) error {
	if vehicle.ID == "" {
		return fmt.Errorf("vehicle id is required")
	}
	if vehicle.Status != "" && vehicle.Status != models.VehicleStatusInStock {
		return o.RemoveVehicle(ctx, vehicle.ID)
	}

	vehicle = vehicle.Clone()
	fv := o.vectorizer.Vectorize(vehicle.ID, models.OwnerVehicle, DescribeVehicle(&vehicle))
	if fv.Degraded {
		o.metrics.recordDegradedVector(string(models.OwnerVehicle))
	}
	o.vectors.Put(ctx, fv)

	o.mu.Lock()
	// Copy on write so in-flight requests keep their snapshot.
	catalog := make([]models.VehicleRecord, len(o.catalog), len(o.catalog)+1)
	copy(catalog, o.catalog)
	index := make(map[string]int, len(o.catalogIndex)+1)
	for id, i := range o.catalogIndex {
		index[id] = i
	}
	if i, ok := index[vehicle.ID]; ok {
		catalog[i] = vehicle
	} else {
		index[vehicle.ID] = len(catalog)
		catalog = append(catalog, vehicle)
	}
	o.catalog, o.catalogIndex = catalog, index
	o.mu.Unlock()

	o.logger.WithField("vehicle_id", vehicle.ID).Debug("Vehicle refreshed")
	return nil
}

// RemoveVehicle drops a vehicle from the live catalog and the vector cache.
func (o *RecommendationOrchestrator) RemoveVehicle(ctx context.Context, vehicleID string) error {
	o.mu.Lock()
	if _, ok := o.catalogIndex[vehicleID]; ok {
		catalog := make([]models.VehicleRecord, 0, len(o.catalog))
		index := make(map[string]int, len(o.catalog))
		for _, v := range o.catalog {
			if v.ID == vehicleID {
				continue
			}
			index[v.ID] = len(catalog)
			catalog = append(catalog, v)
		}
		o.catalog, o.catalogIndex = catalog, index
	}
	o.mu.Unlock()

	o.vectors.Delete(ctx, models.OwnerVehicle, vehicleID)
	o.logger.WithField("vehicle_id", vehicleID).Debug("Vehicle removed")
	return nil
}

// InvalidateUser forgets a user's cached profile and vector so the next
// request reloads both.
func (o *RecommendationOrchestrator) InvalidateUser(ctx context.Context, userID string) error {
	o.mu.Lock()
	if _, ok := o.users[userID]; ok {
		delete(o.users, userID)
		for i, id := range o.userOrder {
			if id == userID {
				o.userOrder = append(o.userOrder[:i:i], o.userOrder[i+1:]...)
				break
			}
		}
	}
	o.mu.Unlock()

	o.vectors.Delete(ctx, models.OwnerUser, userID)
	o.logger.WithField("user_id", userID).Debug("User invalidated")
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case isNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}
