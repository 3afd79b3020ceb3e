package pricing

import (
	"fmt"

	"go.uber.org/fx"

	"sendloop-engine/pkg/errutil"
)

var Module = fx.Module("pricing.service",
	fx.Provide(NewCalculator),
)

// Calculator rates a message category against a rate table. It is pure:
// the same inputs always produce the same breakdown.
type Calculator struct {
	table RateTable
}

func NewCalculator() *Calculator {
	return NewCalculatorWithTable(DefaultRateTable)
}

func NewCalculatorWithTable(table RateTable) *Calculator {
	return &Calculator{table: table}
}

func (c *Calculator) TableVersion() string {
	return c.table.Version
}

// Calculate returns the per-message price breakdown for a category.
func (c *Calculator) Calculate(category Category, international bool) (Breakdown, error) {
	rate, ok := c.table.Rates[category]
	if !ok {
		return Breakdown{}, errutil.ValidationFailed(
			fmt.Sprintf("unknown message category %q", category),
			errutil.WithDetails(errutil.Detail{Field: "category", Message: "must be one of marketing, utility, authentication"}),
		)
	}

	base := rate.Domestic
	if international {
		base = rate.International
	}

	gst := base * c.table.GstBps / 10000

	return Breakdown{
		BasePrice:   base,
		GstPrice:    gst,
		MarkupPrice: rate.Markup,
		TotalPrice:  base + gst + rate.Markup,
	}, nil
}
