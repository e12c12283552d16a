// Package pricing computes duration-based rental prices.
package pricing

import (
	"fmt"

	"github.com/ariefcatur/camrent-orders/internal/orders"
)

// Price returns value × rates[unit], or 0 when the unit has no configured
// range, value is not positive, or value falls outside [min, max].
func Price(unit orders.DurationUnit, value int, rates orders.Rates, options orders.DurationOptions) orders.Money {
	p, err := Quote(unit, value, rates, options)
	if err != nil {
		return 0
	}
	return p
}

// Quote applies the same rule as Price but reports why a price is unavailable.
func Quote(unit orders.DurationUnit, value int, rates orders.Rates, options orders.DurationOptions) (orders.Money, error) {
	r, ok := options[unit]
	if !ok {
		return 0, &orders.ValidationError{Field: "durationUnit", Reason: fmt.Sprintf("%s not offered", unit)}
	}
	if value <= 0 {
		return 0, &orders.ValidationError{Field: "durationValue", Reason: "must be positive"}
	}
	if value < r.Min || value > r.Max {
		return 0, &orders.ValidationError{
			Field:  "durationValue",
			Reason: fmt.Sprintf("%d %s outside [%d, %d]", value, unit, r.Min, r.Max),
		}
	}
	rate, ok := rates[unit]
	if !ok || rate <= 0 {
		return 0, &orders.ValidationError{Field: "rates", Reason: fmt.Sprintf("no rate for %s", unit)}
	}
	return orders.Money(value) * rate, nil
}
