package pricing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"sendloop-engine/pkg/errutil"
)

func TestCalculateDomestic(t *testing.T) {
	calc := NewCalculator()

	b, err := calc.Calculate(CategoryMarketing, false)
	require.NoError(t, err)
	require.Equal(t, int64(78), b.BasePrice)
	require.Equal(t, int64(14), b.GstPrice) // 18% of 78, truncated
	require.Equal(t, int64(8), b.MarkupPrice)
	require.Equal(t, b.BasePrice+b.GstPrice+b.MarkupPrice, b.TotalPrice)
}

func TestCalculateInternational(t *testing.T) {
	calc := NewCalculator()

	b, err := calc.Calculate(CategoryAuthentication, true)
	require.NoError(t, err)
	require.Equal(t, int64(390), b.BasePrice)
	require.Equal(t, b.BasePrice+b.GstPrice+b.MarkupPrice, b.TotalPrice)
}

func TestCalculateAllCategoriesConsistent(t *testing.T) {
	calc := NewCalculator()

	for _, category := range []Category{CategoryMarketing, CategoryUtility, CategoryAuthentication} {
		b, err := calc.Calculate(category, false)
		require.NoError(t, err)
		require.Positive(t, b.TotalPrice)
		require.Equal(t, b.BasePrice+b.GstPrice+b.MarkupPrice, b.TotalPrice)
	}
}

func TestCalculateDeterministic(t *testing.T) {
	calc := NewCalculator()

	first, err := calc.Calculate(CategoryUtility, true)
	require.NoError(t, err)
	second, err := calc.Calculate(CategoryUtility, true)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestCalculateUnknownCategory(t *testing.T) {
	calc := NewCalculator()

	_, err := calc.Calculate(Category("promotional"), false)
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusValidationFailed, be.Status())
}
