package models

import (
	"strconv"
	"strings"
)

const VehicleStatusInStock = "In Stock"

type VehicleRecord struct {
	ID           string   `json:"id" db:"id"`
	VIN          string   `json:"vin,omitempty" db:"vin"`
	Year         int      `json:"year" db:"year"`
	Make         string   `json:"make" db:"make"`
	Model        string   `json:"model" db:"model"`
	Trim         string   `json:"trim,omitempty" db:"trim"`
	BodyStyle    string   `json:"body_style,omitempty" db:"body_style"`
	Drivetrain   string   `json:"drivetrain,omitempty" db:"drivetrain"`
	Transmission string   `json:"transmission,omitempty" db:"transmission"`
	FuelType     string   `json:"fuel_type,omitempty" db:"fuel_type"`
	Engine       string   `json:"engine,omitempty" db:"engine"`
	Horsepower   int      `json:"horsepower,omitempty" db:"horsepower"`
	MPGCity      int      `json:"mpg_city,omitempty" db:"mpg_city"`
	MPGHighway   int      `json:"mpg_highway,omitempty" db:"mpg_highway"`
	Features     []string `json:"features,omitempty" db:"features"`
	MSRP         float64  `json:"msrp" db:"msrp"`
	DealerPrice  float64  `json:"dealer_price,omitempty" db:"dealer_price"`
	Location     Location `json:"location"`
	Status       string   `json:"status,omitempty" db:"status"`
}

// Price is the price a shopper pays: the dealer price when known, otherwise MSRP.
func (v *VehicleRecord) Price() float64 {
	if v.DealerPrice > 0 {
		return v.DealerPrice
	}
	return v.MSRP
}

// ListPrice is the sticker price used for MSRP tolerance bands.
func (v *VehicleRecord) ListPrice() float64 {
	if v.MSRP > 0 {
		return v.MSRP
	}
	return v.DealerPrice
}

func (v *VehicleRecord) DisplayName() string {
	parts := make([]string, 0, 4)
	if v.Year > 0 {
		parts = append(parts, strconv.Itoa(v.Year))
	}
	for _, p := range []string{v.Make, v.Model, v.Trim} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "Vehicle"
	}
	return strings.Join(parts, " ")
}

// Clone returns a deep copy so callers can hold records without sharing slices.
func (v VehicleRecord) Clone() VehicleRecord {
	if v.Features != nil {
		v.Features = append([]string(nil), v.Features...)
	}
	return v
}

type VehicleFilter struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}
