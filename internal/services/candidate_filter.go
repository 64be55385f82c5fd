package services

import (
	"math"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/temcen/carmatch/internal/config"
	"github.com/temcen/carmatch/pkg/models"
)

// DefaultRecommendationLimit applies when a caller passes a non-positive limit.
const DefaultRecommendationLimit = 5

// CandidateFilter narrows the catalog before scoring and ranks scored candidates.
type CandidateFilter struct {
	config config.FilterConfig
	logger *logrus.Logger
}

func NewCandidateFilter(cfg config.FilterConfig, logger *logrus.Logger) *CandidateFilter {
	return &CandidateFilter{
		config: cfg,
		logger: logger,
	}
}

// SelectCandidates returns the vehicles that pass the structured filters, in
// catalog order. The catalog is not modified.
func (f *CandidateFilter) SelectCandidates(catalog []models.VehicleRecord, profile *models.UserProfile) []models.VehicleRecord {
	if len(catalog) == 0 {
		return []models.VehicleRecord{}
	}

	allowed := f.allowedBodyStyles(profile)
	low, high, banded := f.priceBand(profile)

	selected := make([]models.VehicleRecord, 0, len(catalog))
	for i := range catalog {
		vehicle := &catalog[i]

		if allowed != nil {
			if _, ok := allowed[normalizeTerm(vehicle.BodyStyle)]; !ok {
				continue
			}
		}

		if banded {
			price := vehicle.ListPrice()
			if price < low || price > high {
				continue
			}
		}

		selected = append(selected, vehicle.Clone())
	}

	f.logger.WithFields(logrus.Fields{
		"user_id":   profile.ID,
		"catalog":   len(catalog),
		"selected":  len(selected),
		"body":      allowed != nil,
		"msrp_band": banded,
	}).Debug("Candidates selected")

	return selected
}

func (f *CandidateFilter) allowedBodyStyles(profile *models.UserProfile) map[string]struct{} {
	if !f.config.BodyStyleMatch || len(profile.Preferences.BodyStyles) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(profile.Preferences.BodyStyles))
	for _, style := range profile.Preferences.BodyStyles {
		if style = normalizeTerm(style); style != "" {
			allowed[style] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return nil
	}
	return allowed
}

func (f *CandidateFilter) priceBand(profile *models.UserProfile) (low, high float64, ok bool) {
	if f.config.MSRPTolerance <= 0 || !profile.Budget.IsSet() {
		return 0, 0, false
	}
	mid := profile.Budget.Midpoint()
	return mid * (1 - f.config.MSRPTolerance), mid * (1 + f.config.MSRPTolerance), true
}

// ApplyThreshold drops candidates whose composite is below floor, and
// degraded candidates when configured to.
func (f *CandidateFilter) ApplyThreshold(scored []models.ScoredCandidate, floor float64) []models.ScoredCandidate {
	kept := make([]models.ScoredCandidate, 0, len(scored))
	for _, candidate := range scored {
		if candidate.Scores.Composite < floor {
			continue
		}
		if f.config.ExcludeDegraded && candidate.Degraded {
			continue
		}
		kept = append(kept, candidate)
	}
	return kept
}

// Threshold returns the configured minimum composite score.
func (f *CandidateFilter) Threshold() float64 {
	return math.Max(0, f.config.MinSimilarityScore)
}

// Rank orders candidates by composite score, highest first. Ties keep catalog
// order. The result holds at most limit entries with 1-based positions.
func (f *CandidateFilter) Rank(scored []models.ScoredCandidate, limit int) []models.ScoredCandidate {
	if limit <= 0 {
		limit = DefaultRecommendationLimit
	}

	ranked := make([]models.ScoredCandidate, len(scored))
	copy(ranked, scored)

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Scores.Composite != ranked[j].Scores.Composite {
			return ranked[i].Scores.Composite > ranked[j].Scores.Composite
		}
		return ranked[i].CatalogIndex < ranked[j].CatalogIndex
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	for i := range ranked {
		ranked[i].Position = i + 1
	}
	return ranked
}

func normalizeTerm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
