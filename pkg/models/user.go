package models

import "strings"

type Location struct {
	City  string `json:"city" db:"city"`
	State string `json:"state" db:"state"`
}

// IsZero reports whether neither city nor state is known.
func (l Location) IsZero() bool {
	return strings.TrimSpace(l.City) == "" && strings.TrimSpace(l.State) == ""
}

type Budget struct {
	Min float64 `json:"min" db:"budget_min" validate:"gte=0"`
	Max float64 `json:"max" db:"budget_max" validate:"gte=0,gtefield=Min"`
}

// IsSet reports whether the budget carries a usable upper bound.
func (b Budget) IsSet() bool {
	return b.Max > 0 && b.Max >= b.Min
}

// Midpoint returns the centre of the budget window.
func (b Budget) Midpoint() float64 {
	return (b.Min + b.Max) / 2
}

type Preferences struct {
	BodyStyles      []string `json:"body_styles,omitempty" db:"body_styles"`
	Drivetrains     []string `json:"drivetrains,omitempty" db:"drivetrains"`
	FuelTypes       []string `json:"fuel_types,omitempty" db:"fuel_types"`
	FeatureWishlist []string `json:"feature_wishlist,omitempty" db:"feature_wishlist"`
}

type Financial struct {
	AnnualIncome float64 `json:"annual_income" db:"annual_income" validate:"gte=0"`
	CreditScore  int     `json:"credit_score" db:"credit_score" validate:"omitempty,min=300,max=850"`
}

type UserProfile struct {
	ID              string      `json:"id" db:"id"`
	FirstName       string      `json:"first_name" db:"first_name"`
	LastName        string      `json:"last_name" db:"last_name"`
	Age             int         `json:"age,omitempty" db:"age"`
	HouseholdSize   int         `json:"household_size,omitempty" db:"household_size"`
	AvgCommuteMiles float64     `json:"avg_commute_miles,omitempty" db:"avg_commute_miles"`
	Location        Location    `json:"location"`
	Preferences     Preferences `json:"preferences"`
	Budget          Budget      `json:"budget"`
	Financial       Financial   `json:"financial"`
}

// Default budget window used when a profile carries neither a budget nor an income.
const (
	DefaultBudgetMin = 0
	DefaultBudgetMax = 100000
)

// Name returns the display name, falling back to "User".
func (u *UserProfile) Name() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		return "User"
	}
	return name
}

// WithDefaults returns a copy of the profile with a usable budget. A missing
// budget is derived from income (30% to 80% of annual income) and otherwise
// falls back to the default window. The receiver is not modified.
func (u UserProfile) WithDefaults() UserProfile {
	if u.Budget.IsSet() {
		return u
	}
	if u.Financial.AnnualIncome > 0 {
		u.Budget = Budget{
			Min: float64(int(u.Financial.AnnualIncome*0.3 + 0.5)),
			Max: float64(int(u.Financial.AnnualIncome*0.8 + 0.5)),
		}
		return u
	}
	u.Budget = Budget{Min: DefaultBudgetMin, Max: DefaultBudgetMax}
	return u
}

// CustomCriteria describes an ad-hoc shopper that is not stored anywhere.
type CustomCriteria struct {
	Age             int         `json:"age,omitempty" validate:"omitempty,min=16,max=120"`
	HouseholdSize   int         `json:"household_size,omitempty" validate:"omitempty,min=1,max=20"`
	AvgCommuteMiles float64     `json:"avg_commute_miles,omitempty" validate:"gte=0"`
	Location        Location    `json:"location"`
	Preferences     Preferences `json:"preferences"`
	Budget          Budget      `json:"budget"`
	Financial       Financial   `json:"financial"`
}

// CustomProfileName is the display name used for ad-hoc searches.
const CustomProfileName = "Custom Search"

// Profile converts the criteria into an anonymous profile.
func (c CustomCriteria) Profile() UserProfile {
	return UserProfile{
		FirstName:       "Custom",
		LastName:        "Search",
		Age:             c.Age,
		HouseholdSize:   c.HouseholdSize,
		AvgCommuteMiles: c.AvgCommuteMiles,
		Location:        c.Location,
		Preferences:     c.Preferences,
		Budget:          c.Budget,
		Financial:       c.Financial,
	}
}
