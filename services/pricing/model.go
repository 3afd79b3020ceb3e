package pricing

// Category classifies an outbound message for rating purposes. Mirrors the
// template categories exposed to customers.
type Category string

const (
	CategoryMarketing      Category = "marketing"
	CategoryUtility        Category = "utility"
	CategoryAuthentication Category = "authentication"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryMarketing, CategoryUtility, CategoryAuthentication:
		return true
	default:
		return false
	}
}

// Breakdown is the per-message price split in minor units.
type Breakdown struct {
	BasePrice   int64 `json:"base_price"`
	GstPrice    int64 `json:"gst_price"`
	MarkupPrice int64 `json:"markup_price"`
	TotalPrice  int64 `json:"total_price"`
}

// Rate is one row of the rate table: domestic and international per-message
// base prices plus the markup applied on top. GST is derived from the base.
type Rate struct {
	Domestic      int64
	International int64
	Markup        int64
}

// RateTable is a versioned snapshot of per-category rates. Tables are
// immutable once published; price changes ship a new version.
type RateTable struct {
	Version string
	GstBps  int64 // GST in basis points of the base price
	Rates   map[Category]Rate
}

// DefaultRateTable is the rate card in effect. Amounts are minor units.
var DefaultRateTable = RateTable{
	Version: "2025-07",
	GstBps:  1800,
	Rates: map[Category]Rate{
		CategoryMarketing:      {Domestic: 78, International: 640, Markup: 8},
		CategoryUtility:        {Domestic: 32, International: 410, Markup: 4},
		CategoryAuthentication: {Domestic: 30, International: 390, Markup: 4},
	},
}
