package model

import "fmt"

// ResolverConfig holds the tunable scoring parameters for entity
// resolution. Defaults are documented on DefaultResolverConfig; the
// watermarks partition the score space into auto-match, pending
// confirmation and create-new.
type ResolverConfig struct {
	// Watermarks on the composite score in [0,1].
	HighWatermark float64 `json:"high_watermark"`
	LowWatermark  float64 `json:"low_watermark"`

	// Weights of the composite score. Their sum plus RecencyBonus
	// should not exceed 1.
	ExactWeight      float64 `json:"exact_weight"`
	AliasWeight      float64 `json:"alias_weight"`
	SimilarityWeight float64 `json:"similarity_weight"`

	// RecencyBonus is added for entities referenced earlier in the
	// active session.
	RecencyBonus float64 `json:"recency_bonus"`
}

// DefaultResolverConfig returns the documented default scoring parameters:
// exact-name matches score 0.85 before bonuses, so an exact match alone
// clears the high watermark.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		HighWatermark:    0.85,
		LowWatermark:     0.50,
		ExactWeight:      0.55,
		AliasWeight:      0.10,
		SimilarityWeight: 0.30,
		RecencyBonus:     0.05,
	}
}

// Validate checks watermark ordering and weight bounds.
func (c ResolverConfig) Validate() error {
	if c.LowWatermark < 0 || c.HighWatermark > 1 || c.LowWatermark >= c.HighWatermark {
		return fmt.Errorf("watermarks must satisfy 0 <= low < high <= 1, got low=%v high=%v", c.LowWatermark, c.HighWatermark)
	}
	sum := c.ExactWeight + c.AliasWeight + c.SimilarityWeight + c.RecencyBonus
	if sum <= 0 || sum > 1 {
		return fmt.Errorf("score weights must sum to (0, 1], got %v", sum)
	}
	return nil
}

// RankingConfig holds the tunable excerpt ranking and traversal
// parameters of the synthesis engine.
type RankingConfig struct {
	// Blend weights for excerpt scoring.
	KeywordWeight   float64 `json:"keyword_weight"`
	RecencyWeight   float64 `json:"recency_weight"`
	ProximityWeight float64 `json:"proximity_weight"`
	// SemanticWeight only applies when an embedder is configured.
	SemanticWeight float64 `json:"semantic_weight"`

	// RecencyHalfLifeHours controls the exponential recency decay.
	RecencyHalfLifeHours float64 `json:"recency_half_life_hours"`

	// MaxDepth caps link-graph traversal to bound worst-case cost on
	// densely linked corpora.
	MaxDepth int `json:"max_depth"`

	// MaxExcerptBytes bounds a single excerpt snippet.
	MaxExcerptBytes int `json:"max_excerpt_bytes"`
}

// DefaultRankingConfig returns the documented default ranking parameters.
func DefaultRankingConfig() RankingConfig {
	return RankingConfig{
		KeywordWeight:        0.5,
		RecencyWeight:        0.2,
		ProximityWeight:      0.3,
		SemanticWeight:       0.4,
		RecencyHalfLifeHours: 7 * 24,
		MaxDepth:             3,
		MaxExcerptBytes:      512,
	}
}

// Validate checks ranking parameter bounds.
func (c RankingConfig) Validate() error {
	if c.KeywordWeight < 0 || c.RecencyWeight < 0 || c.ProximityWeight < 0 || c.SemanticWeight < 0 {
		return fmt.Errorf("ranking weights must be non-negative")
	}
	if c.KeywordWeight+c.RecencyWeight+c.ProximityWeight == 0 {
		return fmt.Errorf("at least one ranking weight must be positive")
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("max depth must be at least 1, got %d", c.MaxDepth)
	}
	if c.MaxExcerptBytes < 1 {
		return fmt.Errorf("max excerpt bytes must be positive, got %d", c.MaxExcerptBytes)
	}
	if c.RecencyHalfLifeHours <= 0 {
		return fmt.Errorf("recency half life must be positive, got %v", c.RecencyHalfLifeHours)
	}
	return nil
}
