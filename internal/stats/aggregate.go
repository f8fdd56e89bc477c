package stats

import (
	"github.com/variantlabs/experiment-controller/internal/models"
)

// Aggregate reduces raw events into per-variant counts. Callers pass only
// the events belonging to one experiment; events for variants the experiment
// does not declare, and events of unknown types, are ignored. Every declared
// variant gets an entry, so downstream comparisons never see a missing key.
func Aggregate(variants []models.Variant, events []models.Event) map[string]models.VariantStats {
	out := make(map[string]models.VariantStats, len(variants))
	for _, v := range variants {
		out[v.ID] = models.VariantStats{VariantID: v.ID}
	}

	for _, ev := range events {
		vs, ok := out[ev.VariantID]
		if !ok {
			continue
		}
		switch ev.EventType {
		case models.EventImpression:
			vs.Impressions++
		case models.EventConversion:
			vs.Conversions++
		default:
			continue
		}
		out[ev.VariantID] = vs
	}

	for id, vs := range out {
		// Rate is defined as 0 for zero impressions, never NaN.
		if vs.Impressions > 0 {
			vs.ConversionRate = float64(vs.Conversions) / float64(vs.Impressions)
		}
		out[id] = vs
	}
	return out
}

// TotalImpressions sums impressions across all variants.
func TotalImpressions(statsByVariant map[string]models.VariantStats) int {
	total := 0
	for _, vs := range statsByVariant {
		total += vs.Impressions
	}
	return total
}

// MeanConversionRate averages the per-variant conversion rates. Returns 0
// for an empty map.
func MeanConversionRate(statsByVariant map[string]models.VariantStats) float64 {
	if len(statsByVariant) == 0 {
		return 0
	}
	sum := 0.0
	for _, vs := range statsByVariant {
		sum += vs.ConversionRate
	}
	return sum / float64(len(statsByVariant))
}
