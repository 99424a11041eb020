// Package pricing computes sale totals from a cart. Unit prices are
// tax-inclusive; VAT is backed out of the gross, EWT additionally withholds a
// slice of the collectible amount. All arithmetic lands in int64 centavos,
// rounding half away from zero.
package pricing

import (
	"fmt"
	"math"

	"ferreteria/pos/internal/domain"
)

const (
	DefaultVATRate         = 0.12
	DefaultWithholdingRate = 0.01
)

type Totals struct {
	SubtotalCents    int64
	TaxCents         int64
	WithholdingCents int64
	DiscountCents    int64
	TotalCents       int64
	NetDueCents      int64
}

// Compute is ComputeWithRates at the statutory default rates.
func Compute(lines []domain.CartLine, taxMode string) (Totals, error) {
	return ComputeWithRates(lines, taxMode, DefaultVATRate, DefaultWithholdingRate)
}

func ComputeWithRates(lines []domain.CartLine, taxMode string, vatRate, withholdingRate float64) (Totals, error) {
	if len(lines) == 0 {
		return Totals{}, fmt.Errorf("no cart lines")
	}
	if vatRate < 0 || withholdingRate < 0 {
		return Totals{}, fmt.Errorf("negative tax rate")
	}

	var totals Totals
	for i, line := range lines {
		if line.Qty < 1 {
			return Totals{}, fmt.Errorf("line %d: qty must be positive", i)
		}
		if line.UnitPriceCents < 0 {
			return Totals{}, fmt.Errorf("line %d: negative unit price", i)
		}
		if line.DiscountPercent < 0 || line.DiscountPercent > 100 {
			return Totals{}, fmt.Errorf("line %d: discount percent out of range", i)
		}
		linePre := line.UnitPriceCents * int64(line.Qty)
		lineGross := roundCents(float64(linePre) * (1 - line.DiscountPercent/100))
		totals.TotalCents += lineGross
		totals.DiscountCents += linePre - lineGross
	}

	switch taxMode {
	case domain.TaxModeVAT:
		totals.SubtotalCents = roundCents(float64(totals.TotalCents) / (1 + vatRate))
		totals.TaxCents = totals.TotalCents - totals.SubtotalCents
		totals.NetDueCents = totals.TotalCents
	case domain.TaxModeEWT:
		totals.SubtotalCents = roundCents(float64(totals.TotalCents) / (1 + vatRate))
		totals.TaxCents = totals.TotalCents - totals.SubtotalCents
		totals.WithholdingCents = roundCents(float64(totals.SubtotalCents) * withholdingRate)
		totals.NetDueCents = totals.TotalCents - totals.WithholdingCents
	case domain.TaxModeNonVAT:
		totals.SubtotalCents = totals.TotalCents
		totals.NetDueCents = totals.TotalCents
	default:
		return Totals{}, fmt.Errorf("unknown tax mode: %s", taxMode)
	}
	return totals, nil
}

// roundCents rounds half away from zero. math.Round implements exactly that.
func roundCents(v float64) int64 {
	return int64(math.Round(v))
}
