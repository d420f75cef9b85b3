// Package stub provides deterministic in-process capability implementations.
// They replace the real AI and market-data backends in development and tests:
// every output is a pure function of the input, so repeated appraisals of
// the same item produce identical results.
package stub

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"snapvalue/internal/apperrors"
	"snapvalue/internal/capability"
)

var basePrices = map[string]float64{
	"electronics":  450,
	"jewelry":      500,
	"collectibles": 300,
	"art":          1200,
	"furniture":    400,
}

func seed(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

type Validator struct{}

func (Validator) Validate(_ context.Context, image capability.ImageSource) (*capability.ValidationOutcome, error) {
	loc := image.Location()
	if loc == "" {
		return nil, apperrors.NewProcessingError("image_validation", "empty image source")
	}
	if strings.HasSuffix(loc, ".txt") || strings.HasSuffix(loc, ".exe") {
		return nil, apperrors.NewProcessingError("image_validation", fmt.Sprintf("unsupported format: %s", loc))
	}
	return &capability.ValidationOutcome{
		Valid:      true,
		Format:     "JPEG",
		SizeBytes:  int64(seed(loc)%4096) * 1024,
		Dimensions: map[string]int{"width": 1920, "height": 1080},
	}, nil
}

type Analyzer struct{}

func (Analyzer) Analyze(_ context.Context, image capability.ImageSource) (*capability.Features, error) {
	s := seed(image.Location())
	categories := []string{"electronics", "jewelry", "collectibles", "art", "furniture"}
	category := categories[s%uint32(len(categories))]
	return &capability.Features{
		Labels:          []string{category, "consumer item", "good condition"},
		ObjectsDetected: int(s%3) + 1,
		Category:        category,
		Confidence:      0.80 + float64(s%15)/100,
		Embedding:       []float64{float64(s%100) / 100, float64(s%37) / 37, float64(s%11) / 11},
	}, nil
}

type Comparator struct{}

func (Comparator) Compare(_ context.Context, features *capability.Features) (*capability.Comparables, error) {
	base, ok := basePrices[features.Category]
	if !ok {
		base = basePrices["electronics"]
	}
	items := make([]capability.ComparableItem, 0, 3)
	for i := 0; i < 3; i++ {
		offset := float64(i-1) * 0.12
		items = append(items, capability.ComparableItem{
			Title:      fmt.Sprintf("%s listing %d", features.Category, i+1),
			Price:      base * (1 + offset),
			Currency:   "USD",
			Similarity: 0.95 - float64(i)*0.07,
			Source:     "stub-market",
		})
	}
	return &capability.Comparables{
		Items:          items,
		CloseMatches:   len(items),
		TrendDirection: "stable",
		AveragePrice:   base,
	}, nil
}

type Aggregator struct{}

func (Aggregator) Aggregate(_ context.Context, features *capability.Features, comparables *capability.Comparables) (*capability.ValuationResult, error) {
	if comparables == nil || len(comparables.Items) == 0 {
		return nil, apperrors.NewProcessingError("aggregation", "no comparable items to aggregate")
	}
	value := comparables.AveragePrice
	return &capability.ValuationResult{
		EstimatedValue: value,
		Currency:       "USD",
		PriceRange: capability.PriceRange{
			Min:      value * 0.7,
			Max:      value * 1.3,
			Currency: "USD",
		},
		Confidence:  features.Confidence * 0.95,
		Comparables: comparables.Items,
		Recommendations: []string{
			"Market conditions are stable for this category",
		},
	}, nil
}

// NewSet returns a full deterministic capability set.
func NewSet() capability.Set {
	return capability.Set{
		Validator:  Validator{},
		Analyzer:   Analyzer{},
		Comparator: Comparator{},
		Aggregator: Aggregator{},
	}
}
