package entity

import (
	"fmt"
	"math"
	"time"
)

// Price is a spot price of one unit of an asset, quoted in the pair's
// second currency (USD per ETH for "ETH-USD").
type Price struct {
	Pair      string    `json:"pair"`
	Value     float64   `json:"value"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// NewPrice creates a new Price entity with validation.
func NewPrice(pair string, value float64, fetchedAt time.Time) (*Price, error) {
	p := &Price{
		Pair:      pair,
		Value:     value,
		FetchedAt: fetchedAt,
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Price) validate() error {
	if p.Pair == "" {
		return fmt.Errorf("pair must not be empty")
	}
	if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
		return fmt.Errorf("value must be finite, got %f", p.Value)
	}
	if p.Value <= 0 {
		return fmt.Errorf("value must be positive, got %f", p.Value)
	}
	if p.FetchedAt.IsZero() {
		return fmt.Errorf("fetchedAt must not be zero")
	}
	return nil
}
