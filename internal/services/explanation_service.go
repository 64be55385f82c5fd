package services

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/temcen/carmatch/internal/config"
	"github.com/temcen/carmatch/pkg/models"
)

const (
	minReasons        = 3
	defaultMaxReasons = 5
)

// Explanation is the natural-language justification for one candidate.
type Explanation struct {
	Text    string   `json:"explanation"`
	Reasons []string `json:"reasons"`
	Source  string   `json:"source"`
}

// ExplanationService generates explanations for ranked candidates
type ExplanationService struct {
	generator TextGenerator
	config    config.ExplanationConfig
	logger    *logrus.Logger
	metrics   *Metrics
}

// NewExplanationService creates a new explanation service. A nil generator
// makes every explanation deterministic.
func NewExplanationService(generator TextGenerator, cfg config.ExplanationConfig, logger *logrus.Logger, metrics *Metrics) *ExplanationService {
	if cfg.MaxReasons < minReasons {
		cfg.MaxReasons = defaultMaxReasons
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &ExplanationService{
		generator: generator,
		config:    cfg,
		logger:    logger,
		metrics:   metrics,
	}
}

// ExplainAll explains candidates with bounded concurrency. The output keeps
// the input order; candidates that cannot be explained before ctx ends get
// the deterministic explanation.
func (es *ExplanationService) ExplainAll(ctx context.Context, profile *models.UserProfile, candidates []models.ScoredCandidate) []models.Recommendation {
	recommendations := make([]models.Recommendation, len(candidates))
	if len(candidates) == 0 {
		return recommendations
	}

	sem := semaphore.NewWeighted(int64(es.config.Concurrency))
	var wg sync.WaitGroup

	for i := range candidates {
		if err := sem.Acquire(ctx, 1); err != nil {
			recommendations[i] = NewRecommendation(candidates[i], es.fallback(profile, candidates[i]))
			continue
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			recommendations[i] = NewRecommendation(candidates[i], es.Explain(ctx, profile, candidates[i]))
		}(i)
	}

	wg.Wait()
	return recommendations
}

// Explain never fails: generator errors, timeouts and cancellation all
// produce the deterministic explanation.
func (es *ExplanationService) Explain(ctx context.Context, profile *models.UserProfile, candidate models.ScoredCandidate) Explanation {
	if es.generator == nil || !es.config.Enabled {
		return es.fallback(profile, candidate)
	}
	if ctx.Err() != nil {
		return es.fallback(profile, candidate)
	}

	text, err := es.generate(ctx, buildExplanationPrompt(profile, candidate))
	if err != nil {
		es.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":    profile.ID,
			"vehicle_id": candidate.Vehicle.ID,
		}).Warn("Text generation failed, using fallback explanation")
		return es.fallback(profile, candidate)
	}

	explanation := es.parse(text, profile, candidate)
	es.metrics.recordExplanation(explanation.Source)
	return explanation
}

// generate bounds the call by the per-call timeout even when the generator
// ignores its context.
func (es *ExplanationService) generate(ctx context.Context, prompt string) (string, error) {
	if es.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, es.config.Timeout)
		defer cancel()
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := es.generator.Generate(ctx, prompt)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (es *ExplanationService) fallback(profile *models.UserProfile, candidate models.ScoredCandidate) Explanation {
	es.metrics.recordExplanation(models.ExplanationFallback)
	return Explanation{
		Text:    fallbackText(profile, candidate),
		Reasons: es.topUp(scoreReasons(profile, candidate), profile, candidate),
		Source:  models.ExplanationFallback,
	}
}

var bulletPattern = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*(.+)$`)

// parse extracts the EXPLANATION line and REASONS bullets. Output that
// ignores the format is salvaged: free text becomes the explanation and
// missing reasons are derived from the scores.
func (es *ExplanationService) parse(text string, profile *models.UserProfile, candidate models.ScoredCandidate) Explanation {
	var (
		explanationLines []string
		looseLines       []string
		reasons          []string
		inReasons        bool
		inExplanation    bool
	)

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if rest, ok := cutPrefixFold(trimmed, "EXPLANATION:"); ok {
			inExplanation, inReasons = true, false
			if rest != "" {
				explanationLines = append(explanationLines, rest)
			}
			continue
		}
		if rest, ok := cutPrefixFold(trimmed, "REASONS:"); ok {
			inExplanation, inReasons = false, true
			if rest != "" {
				reasons = append(reasons, rest)
			}
			continue
		}

		if m := bulletPattern.FindStringSubmatch(trimmed); m != nil && (inReasons || !inExplanation) {
			if reason := strings.TrimSpace(m[1]); reason != "" {
				reasons = append(reasons, reason)
			}
			continue
		}

		switch {
		case inExplanation:
			explanationLines = append(explanationLines, trimmed)
		case inReasons:
			reasons = append(reasons, trimmed)
		default:
			looseLines = append(looseLines, trimmed)
		}
	}

	if len(explanationLines) == 0 {
		explanationLines = looseLines
	}

	explanation := Explanation{
		Text:    strings.Join(explanationLines, " "),
		Reasons: es.topUp(reasons, profile, candidate),
		Source:  models.ExplanationGenerated,
	}
	if explanation.Text == "" {
		explanation.Text = fallbackText(profile, candidate)
	}
	return explanation
}

// topUp dedupes reasons and ensures at least minReasons and at most
// MaxReasons, adding score-derived reasons before generic ones.
func (es *ExplanationService) topUp(reasons []string, profile *models.UserProfile, candidate models.ScoredCandidate) []string {
	seen := make(map[string]struct{}, len(reasons))
	out := make([]string, 0, es.config.MaxReasons)
	add := func(reason string) {
		reason = strings.TrimSpace(reason)
		key := strings.ToLower(reason)
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, reason)
	}

	for _, reason := range reasons {
		add(reason)
	}
	if len(out) < minReasons {
		for _, reason := range scoreReasons(profile, candidate) {
			if len(out) >= minReasons {
				break
			}
			add(reason)
		}
	}
	for _, reason := range genericReasons {
		if len(out) >= minReasons {
			break
		}
		add(reason)
	}

	if len(out) > es.config.MaxReasons {
		out = out[:es.config.MaxReasons]
	}
	return out
}

var genericReasons = []string{
	"Reliable performance and driving dynamics",
	"Great value for your investment",
	"Offers the features you need",
}

// scoreReasons derives reasons from sub-scores and structured fields, most
// specific first.
func scoreReasons(profile *models.UserProfile, candidate models.ScoredCandidate) []string {
	p := message.NewPrinter(language.English)
	vehicle := candidate.Vehicle
	scores := candidate.Scores
	var reasons []string

	// Only a price inside the window scores exactly 1.
	switch {
	case scores.BudgetFit >= 1 && profile.Budget.IsSet():
		reasons = append(reasons, fmt.Sprintf("Fits within your %s - %s budget range",
			formatCurrency(p, profile.Budget.Min), formatCurrency(p, profile.Budget.Max)))
	case scores.BudgetFit >= 1:
		reasons = append(reasons, "Priced within your budget")
	case scores.BudgetFit >= 0.8:
		reasons = append(reasons, "Good value relative to your budget")
	case scores.BudgetFit >= 0.6:
		reasons = append(reasons, "Good value close to your budget")
	case vehicle.Price() > 0:
		reasons = append(reasons, fmt.Sprintf("Premium option priced at %s", formatCurrency(p, vehicle.Price())))
	}

	if matchesAny(vehicle.BodyStyle, profile.Preferences.BodyStyles) {
		reasons = append(reasons, fmt.Sprintf("Matches your preferred %s body style", vehicle.BodyStyle))
	}
	if matchesAny(vehicle.FuelType, profile.Preferences.FuelTypes) {
		reasons = append(reasons, fmt.Sprintf("Features your preferred %s powertrain", vehicle.FuelType))
	}
	if matchesAny(vehicle.Drivetrain, profile.Preferences.Drivetrains) {
		reasons = append(reasons, fmt.Sprintf("Comes with the %s drivetrain you asked for", vehicle.Drivetrain))
	}

	if profile.HouseholdSize > 2 && isSpacious(vehicle.BodyStyle) {
		reasons = append(reasons, fmt.Sprintf("Spacious %s design for your household of %d", vehicle.BodyStyle, profile.HouseholdSize))
	}

	if where := describeLocation(vehicle.Location); where != "" {
		switch scores.LocationFit {
		case LocationSameCity:
			reasons = append(reasons, "Available nearby in "+where)
		case LocationSameState:
			reasons = append(reasons, "Located in-state in "+where+" for easy pickup")
		}
	}

	if vehicle.MPGCity > 0 && vehicle.MPGHighway > 0 {
		reasons = append(reasons, fmt.Sprintf("Fuel economy of %d/%d MPG city/highway", vehicle.MPGCity, vehicle.MPGHighway))
	}

	if len(vehicle.Features) > 0 {
		n := int(math.Min(2, float64(len(vehicle.Features))))
		reasons = append(reasons, "Includes "+strings.Join(vehicle.Features[:n], " and "))
	}

	switch strings.ToLower(strings.TrimSpace(vehicle.Drivetrain)) {
	case "awd", "4wd":
		reasons = append(reasons, "All-wheel drive for confidence in all weather conditions")
	}
	if strings.EqualFold(strings.TrimSpace(vehicle.FuelType), "hybrid") {
		reasons = append(reasons, "Hybrid powertrain for superior fuel efficiency")
	}

	if scores.Semantic >= 0.7 {
		reasons = append(reasons, fmt.Sprintf("Strong match for your stated preferences (%.0f%% similarity)", scores.Semantic*100))
	}

	return reasons
}

func fallbackText(profile *models.UserProfile, candidate models.ScoredCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The %s is a strong match for you, %s.", candidate.Vehicle.DisplayName(), profile.Name())
	b.WriteString(" It balances your budget with the features and performance you need")
	if city := strings.TrimSpace(profile.Location.City); city != "" {
		fmt.Fprintf(&b, " for your lifestyle in %s", city)
	}
	b.WriteString(".")
	return b.String()
}

func buildExplanationPrompt(profile *models.UserProfile, candidate models.ScoredCandidate) string {
	scores := candidate.Scores
	var b strings.Builder

	b.WriteString("Explain why this vehicle is a good match for the shopper.\n\n")
	b.WriteString("Shopper profile:\n")
	b.WriteString(DescribeUser(profile))
	b.WriteString("\n\nVehicle:\n")
	b.WriteString(DescribeVehicle(&candidate.Vehicle))
	fmt.Fprintf(&b, "\n\nMatch scores (0-1): overall %.2f, preference similarity %.2f, budget fit %.2f, location fit %.2f\n\n",
		scores.Composite, scores.Semantic, scores.BudgetFit, scores.LocationFit)
	b.WriteString("Respond in exactly this format:\n")
	b.WriteString("EXPLANATION: <two sentences addressed to the shopper>\n")
	b.WriteString("REASONS:\n- <reason>\n- <reason>\n- <reason>\n")

	return b.String()
}

// NewRecommendation flattens a ranked candidate and its explanation.
func NewRecommendation(candidate models.ScoredCandidate, explanation Explanation) models.Recommendation {
	return models.Recommendation{
		Position:          candidate.Position,
		Car:               candidate.Vehicle.DisplayName(),
		Vehicle:           candidate.Vehicle,
		SimilarityScore:   candidate.Scores.Composite,
		SemanticScore:     candidate.Scores.Semantic,
		BudgetFit:         candidate.Scores.BudgetFit,
		LocationFit:       candidate.Scores.LocationFit,
		Breakdown:         candidate.Scores.Breakdown,
		Degraded:          candidate.Degraded,
		Explanation:       explanation.Text,
		Reasons:           explanation.Reasons,
		ExplanationSource: explanation.Source,
	}
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}

func matchesAny(value string, options []string) bool {
	value = normalizeTerm(value)
	if value == "" {
		return false
	}
	for _, option := range options {
		if normalizeTerm(option) == value {
			return true
		}
	}
	return false
}

func isSpacious(bodyStyle string) bool {
	switch normalizeTerm(bodyStyle) {
	case "suv", "crossover", "minivan", "van", "wagon":
		return true
	default:
		return false
	}
}
