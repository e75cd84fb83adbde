package services

import (
	"context"

	"github.com/google/uuid"
)

// MatchOptions are the calibrated selection knobs, all in percent space.
type MatchOptions struct {
	ThresholdPercent  float64
	TopMargin         float64
	RelaxDrop         float64
	RelaxMinThreshold float64
	MaxResults        int
}

type RankedPhoto struct {
	PhotoID      uuid.UUID
	ScorePercent float64
	ScoreRatio   float64
	Rank         int
}

type MatchResult struct {
	Ranked               []RankedPhoto
	UsedThresholdPercent float64
	Relaxed              bool
}

type MatchService interface {
	// RankPhotos scores every indexed face of the event against the
	// selfie embedding, keeps each photo's best calibrated percent and
	// applies strict-then-relaxed threshold selection with a top-margin
	// floor.
	RankPhotos(ctx context.Context, eventID uuid.UUID, selfie []float32, opts MatchOptions) (*MatchResult, error)

	// StoreResults rewrites the query's ranked photos wholesale.
	StoreResults(ctx context.Context, queryID uuid.UUID, ranked []RankedPhoto) error
}
