package services

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/unicode/norm"

	"github.com/temcen/carmatch/pkg/models"
)

// termGroup is one vector dimension: every listed term found in the text
// contributes weight, repeated occurrences add occurrenceBonus each.
type termGroup struct {
	weight   float64
	patterns []*regexp.Regexp
}

const occurrenceBonus = 0.1

func group(weight float64, terms ...string) termGroup {
	g := termGroup{weight: weight, patterns: make([]*regexp.Regexp, 0, len(terms))}
	for _, term := range terms {
		g.patterns = append(g.patterns, regexp.MustCompile(`\b`+regexp.QuoteMeta(term)+`\b`))
	}
	return g
}

// Order is part of the vector schema. Appending a group shifts the scalar
// dimensions and invalidates every cached vector.
var termGroups = []termGroup{
	// Body styles
	group(1.0, "sedan", "sedans"),
	group(1.0, "suv", "suvs"),
	group(1.0, "coupe", "coupes"),
	group(1.0, "hatchback", "hatchbacks"),
	group(1.0, "truck", "trucks", "pickup"),

	// Drivetrains
	group(1.0, "awd", "all-wheel drive"),
	group(1.0, "fwd", "front-wheel drive"),
	group(1.0, "rwd", "rear-wheel drive"),
	group(1.0, "4wd", "four-wheel drive"),

	// Fuel types
	group(1.0, "hybrid", "hybrids"),
	group(1.0, "electric", "ev", "battery"),
	group(1.0, "gasoline", "gas", "petrol"),

	// Lifestyle
	group(0.8, "family", "families", "children", "kids"),
	group(0.8, "commute", "commuting", "daily", "work"),
	group(0.8, "performance", "sport", "sporty", "fast"),
	group(0.8, "efficiency", "efficient", "mpg", "fuel economy"),
	group(0.8, "luxury", "premium", "high-end"),
	group(0.8, "budget", "affordable", "economical", "cheap"),

	// Demographics
	group(0.6, "young", "professional", "millennial"),
	group(0.6, "mature", "established", "adult"),
	group(0.6, "single", "individual"),
	group(0.6, "couple", "married", "partner"),

	// Financial
	group(0.7, "affluent", "high income", "wealthy", "rich"),
	group(0.7, "middle", "moderate", "average"),
	group(0.7, "budget-conscious", "economical", "frugal"),

	// Technical
	group(0.9, "safety", "safe", "crash", "protection"),
	group(0.9, "technology", "tech", "digital", "smart"),
	group(0.9, "comfort", "comfortable", "luxury", "premium"),
	group(0.9, "reliability", "reliable", "dependable", "quality"),
}

// Scalar dimensions appended after the term groups.
const scalarDimensions = 3

var numberPattern = regexp.MustCompile(`\d+`)

var errMalformedText = errors.New("malformed description text")

func init() {
	if len(termGroups)+scalarDimensions != models.FeatureVectorLength {
		panic(fmt.Sprintf("feature schema has %d dimensions, want %d",
			len(termGroups)+scalarDimensions, models.FeatureVectorLength))
	}
}

// Vectorizer converts profiles and vehicles into fixed-length feature vectors.
type Vectorizer struct {
	logger *logrus.Logger
	now    func() time.Time
}

func NewVectorizer(logger *logrus.Logger) *Vectorizer {
	return &Vectorizer{
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the clock used for GeneratedAt.
func (v *Vectorizer) WithClock(now func() time.Time) *Vectorizer {
	v.now = now
	return v
}

func (v *Vectorizer) VectorizeUser(profile *models.UserProfile) models.FeatureVector {
	return v.Vectorize(profile.ID, models.OwnerUser, DescribeUser(profile))
}

func (v *Vectorizer) VectorizeVehicle(vehicle *models.VehicleRecord) models.FeatureVector {
	return v.Vectorize(vehicle.ID, models.OwnerVehicle, DescribeVehicle(vehicle))
}

// Vectorize never fails: when feature extraction rejects the text the
// result is a hash vector flagged as degraded.
func (v *Vectorizer) Vectorize(ownerID string, kind models.OwnerKind, text string) models.FeatureVector {
	fv := models.FeatureVector{
		OwnerID:     ownerID,
		OwnerKind:   kind,
		SourceText:  text,
		GeneratedAt: v.now(),
	}

	values, err := safeExtract(text)
	if err != nil {
		v.logger.WithError(err).WithFields(logrus.Fields{
			"owner_id":   ownerID,
			"owner_kind": kind,
		}).Warn("Feature extraction failed, using hash vector")
		fv.Values = HashVector(text)
		fv.Degraded = true
		return fv
	}

	fv.Values = values
	return fv
}

func safeExtract(text string) (values []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			values = nil
			err = fmt.Errorf("feature extraction panicked: %v", r)
		}
	}()
	return ExtractFeatures(text)
}

// ExtractFeatures computes the term-group scores and text scalars for text.
func ExtractFeatures(text string) ([]float64, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: invalid UTF-8", errMalformedText)
	}

	normalized := cases.Lower(language.English).String(norm.NFKC.String(text))

	values := make([]float64, 0, models.FeatureVectorLength)
	for _, g := range termGroups {
		values = append(values, g.score(normalized))
	}

	values = append(values,
		math.Min(float64(utf8.RuneCountInString(text))/500, 1),
		math.Min(float64(strings.Count(text, "$"))/10, 1),
		math.Min(float64(len(numberPattern.FindAllStringIndex(text, -1)))/20, 1),
	)

	for i, value := range values {
		if math.IsNaN(value) || value < 0 || value > 1 {
			return nil, fmt.Errorf("%w: dimension %d out of range (%v)", errMalformedText, i, value)
		}
	}

	return values, nil
}

func (g termGroup) score(text string) float64 {
	score := 0.0
	for _, pattern := range g.patterns {
		occurrences := len(pattern.FindAllStringIndex(text, -1))
		if occurrences == 0 {
			continue
		}
		score += g.weight + float64(occurrences-1)*occurrenceBonus
	}
	return math.Min(score, 1.0)
}

// HashVector is the degraded representation: the bits of the FNV-1a hash of
// text, one per dimension.
func HashVector(text string) []float64 {
	h := fnv.New32a()
	h.Write([]byte(text))
	sum := h.Sum32()

	values := make([]float64, models.FeatureVectorLength)
	for i := range values {
		if sum>>uint(i%32)&1 == 1 {
			values[i] = 1
		}
	}
	return values
}

// DescribeUser renders the canonical profile description. Unknown fields are
// left out rather than invented.
func DescribeUser(profile *models.UserProfile) string {
	p := message.NewPrinter(language.English)
	parts := make([]string, 0, 8)

	header := "User: " + profile.Name()
	if profile.Age > 0 {
		header += ", Age: " + strconv.Itoa(profile.Age)
	}
	if profile.HouseholdSize > 0 {
		header += ", Family Size: " + strconv.Itoa(profile.HouseholdSize)
	}
	parts = append(parts, header)

	if loc := describeLocation(profile.Location); loc != "" {
		parts = append(parts, "Location: "+loc)
	}

	prefs := profile.Preferences
	var prefParts []string
	if len(prefs.BodyStyles) > 0 {
		prefParts = append(prefParts, "Body Style: "+strings.Join(prefs.BodyStyles, ", "))
	}
	if len(prefs.Drivetrains) > 0 {
		prefParts = append(prefParts, "Drivetrain: "+strings.Join(prefs.Drivetrains, ", "))
	}
	if len(prefs.FuelTypes) > 0 {
		prefParts = append(prefParts, "Fuel Type: "+strings.Join(prefs.FuelTypes, ", "))
	}
	if len(prefParts) > 0 {
		parts = append(parts, "Preferences: "+strings.Join(prefParts, ", "))
	}
	if len(prefs.FeatureWishlist) > 0 {
		parts = append(parts, "Wishlist: "+strings.Join(prefs.FeatureWishlist, ", "))
	}

	if profile.Budget.IsSet() {
		parts = append(parts, "Budget: "+formatCurrency(p, profile.Budget.Min)+" - "+formatCurrency(p, profile.Budget.Max))
	}

	var financial []string
	if profile.Financial.AnnualIncome > 0 {
		financial = append(financial, "Income: "+formatCurrency(p, profile.Financial.AnnualIncome))
	}
	if profile.Financial.CreditScore > 0 {
		financial = append(financial, fmt.Sprintf("Credit Score: %d (%s credit)",
			profile.Financial.CreditScore, creditTier(profile.Financial.CreditScore)))
	}
	if len(financial) > 0 {
		parts = append(parts, "Financial: "+strings.Join(financial, ", "))
	}

	if lifestyle := lifestyleContext(profile); len(lifestyle) > 0 {
		parts = append(parts, "Lifestyle: "+strings.Join(lifestyle, ", "))
	}

	return strings.Join(parts, ". ")
}

// DescribeVehicle renders the canonical vehicle description.
func DescribeVehicle(vehicle *models.VehicleRecord) string {
	p := message.NewPrinter(language.English)
	parts := make([]string, 0, 11)

	parts = append(parts, vehicle.DisplayName())
	if vehicle.BodyStyle != "" {
		parts = append(parts, "Body Style: "+vehicle.BodyStyle)
	}
	if vehicle.Engine != "" {
		parts = append(parts, "Engine: "+vehicle.Engine)
	}
	if vehicle.Horsepower > 0 {
		parts = append(parts, fmt.Sprintf("Horsepower: %dhp", vehicle.Horsepower))
	}
	if vehicle.MPGCity > 0 && vehicle.MPGHighway > 0 {
		parts = append(parts, fmt.Sprintf("Fuel Economy: %d/%d MPG city/highway", vehicle.MPGCity, vehicle.MPGHighway))
	}
	if vehicle.Drivetrain != "" {
		parts = append(parts, "Drivetrain: "+vehicle.Drivetrain)
	}
	if vehicle.Transmission != "" {
		parts = append(parts, "Transmission: "+vehicle.Transmission)
	}
	if vehicle.FuelType != "" {
		parts = append(parts, "Fuel Type: "+vehicle.FuelType)
	}
	if len(vehicle.Features) > 0 {
		parts = append(parts, "Key Features: "+strings.Join(vehicle.Features, ", "))
	}
	if price := vehicle.ListPrice(); price > 0 {
		parts = append(parts, "MSRP: "+formatCurrency(p, price))
	}
	if usage := usageContext(vehicle); len(usage) > 0 {
		parts = append(parts, "Best For: "+strings.Join(usage, ", "))
	}

	return strings.Join(parts, ". ")
}

func describeLocation(loc models.Location) string {
	city, state := strings.TrimSpace(loc.City), strings.TrimSpace(loc.State)
	switch {
	case city != "" && state != "":
		return city + ", " + state
	case city != "":
		return city
	default:
		return state
	}
}

func formatCurrency(p *message.Printer, amount float64) string {
	return p.Sprintf("$%d", int64(math.Round(amount)))
}

func creditTier(score int) string {
	switch {
	case score >= 750:
		return "excellent"
	case score >= 700:
		return "good"
	case score >= 650:
		return "fair"
	default:
		return "limited"
	}
}

func lifestyleContext(profile *models.UserProfile) []string {
	var contexts []string

	switch {
	case profile.HouseholdSize == 1:
		contexts = append(contexts, "single person")
	case profile.HouseholdSize == 2:
		contexts = append(contexts, "couple")
	case profile.HouseholdSize >= 3:
		contexts = append(contexts, "family with children")
	}

	switch {
	case profile.Age <= 0:
	case profile.Age < 30:
		contexts = append(contexts, "young professional")
	case profile.Age < 50:
		contexts = append(contexts, "established professional")
	default:
		contexts = append(contexts, "mature adult")
	}

	switch income := profile.Financial.AnnualIncome; {
	case income <= 0:
	case income < 50000:
		contexts = append(contexts, "budget-conscious")
	case income < 100000:
		contexts = append(contexts, "middle-income")
	default:
		contexts = append(contexts, "affluent")
	}

	switch miles := profile.AvgCommuteMiles; {
	case miles <= 0:
	case miles >= 30:
		contexts = append(contexts, "long daily commute")
	default:
		contexts = append(contexts, "short commute")
	}

	return contexts
}

func usageContext(vehicle *models.VehicleRecord) []string {
	var contexts []string

	switch strings.ToLower(strings.TrimSpace(vehicle.BodyStyle)) {
	case "sedan":
		contexts = append(contexts, "daily commuting", "comfortable driving")
	case "suv":
		contexts = append(contexts, "family transportation", "outdoor activities", "cargo space")
	case "coupe":
		contexts = append(contexts, "sporty driving", "performance", "style")
	case "hatchback":
		contexts = append(contexts, "city driving", "fuel efficiency", "practicality")
	case "truck", "pickup":
		contexts = append(contexts, "towing", "work", "cargo space")
	}

	switch strings.ToLower(strings.TrimSpace(vehicle.FuelType)) {
	case "hybrid":
		contexts = append(contexts, "fuel efficiency", "eco-friendly")
	case "electric":
		contexts = append(contexts, "zero emissions", "low operating costs")
	case "gasoline":
		contexts = append(contexts, "performance", "long-range driving")
	}

	switch strings.ToLower(strings.TrimSpace(vehicle.Drivetrain)) {
	case "awd", "4wd":
		contexts = append(contexts, "all-weather driving", "off-road capability")
	case "fwd":
		contexts = append(contexts, "fuel efficiency", "cost-effective")
	case "rwd":
		contexts = append(contexts, "performance", "sporty handling")
	}

	return contexts
}
