// Package capability defines the external collaborator interfaces consumed
// by the step executor. The pipeline depends only on these signatures, never
// on a concrete AI or market-data backend.
package capability

import "context"

// ImageSource identifies the item being appraised. Exactly one of Ref or URL
// is set, enforced at intake.
type ImageSource struct {
	Ref string `json:"ref,omitempty"`
	URL string `json:"url,omitempty"`
}

func (s ImageSource) Location() string {
	if s.Ref != "" {
		return s.Ref
	}
	return s.URL
}

type ValidationOutcome struct {
	Valid      bool           `json:"valid"`
	Format     string         `json:"format,omitempty"`
	SizeBytes  int64          `json:"size_bytes,omitempty"`
	Dimensions map[string]int `json:"dimensions,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

type Features struct {
	Labels          []string  `json:"labels"`
	ObjectsDetected int       `json:"objects_detected"`
	Category        string    `json:"category,omitempty"`
	Confidence      float64   `json:"confidence"`
	Embedding       []float64 `json:"embedding,omitempty"`
}

type ComparableItem struct {
	Title      string  `json:"title"`
	Price      float64 `json:"price"`
	Currency   string  `json:"currency"`
	Similarity float64 `json:"similarity"`
	Source     string  `json:"source,omitempty"`
}

type Comparables struct {
	Items          []ComparableItem `json:"items"`
	CloseMatches   int              `json:"close_matches"`
	TrendDirection string           `json:"trend_direction"`
	AveragePrice   float64          `json:"average_price"`
}

type PriceRange struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Currency string  `json:"currency"`
}

type ValuationResult struct {
	EstimatedValue  float64          `json:"estimated_value"`
	Currency        string           `json:"currency"`
	PriceRange      PriceRange       `json:"price_range"`
	Confidence      float64          `json:"confidence_score"`
	Comparables     []ComparableItem `json:"comparables"`
	Recommendations []string         `json:"recommendations,omitempty"`
}

type ImageValidator interface {
	Validate(ctx context.Context, image ImageSource) (*ValidationOutcome, error)
}

type FeatureAnalyzer interface {
	Analyze(ctx context.Context, image ImageSource) (*Features, error)
}

type MarketComparator interface {
	Compare(ctx context.Context, features *Features) (*Comparables, error)
}

type Aggregator interface {
	Aggregate(ctx context.Context, features *Features, comparables *Comparables) (*ValuationResult, error)
}

// Set bundles the four pipeline capabilities.
type Set struct {
	Validator  ImageValidator
	Analyzer   FeatureAnalyzer
	Comparator MarketComparator
	Aggregator Aggregator
}
