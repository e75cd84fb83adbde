package serviceimpl

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"grabpic/domain/models"
	"grabpic/domain/repositories"
	"grabpic/domain/services"
	"grabpic/pkg/logger"
)

// Cosine similarity is mapped to a guest-facing percent over the window
// [0.15, 0.52]: cosine 0.15 reads as 0%, cosine 0.52 as 100%.
const (
	cosineMapFloor = 0.15
	cosineMapSpan  = 0.37
)

type MatchServiceImpl struct {
	faceRepo  repositories.FaceRepository
	guestRepo repositories.GuestQueryRepository
}

func NewMatchService(faceRepo repositories.FaceRepository, guestRepo repositories.GuestQueryRepository) services.MatchService {
	return &MatchServiceImpl{
		faceRepo:  faceRepo,
		guestRepo: guestRepo,
	}
}

func (s *MatchServiceImpl) RankPhotos(ctx context.Context, eventID uuid.UUID, selfie []float32, opts services.MatchOptions) (*services.MatchResult, error) {
	result := &services.MatchResult{
		UsedThresholdPercent: opts.ThresholdPercent,
	}

	rows, err := s.faceRepo.ListEmbeddingsByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load event embeddings: %w", err)
	}
	if len(rows) == 0 {
		return result, nil
	}

	embeddings := make([][]float32, len(rows))
	for i := range rows {
		embeddings[i] = rows[i].Embedding
	}
	scores := batchCosineSimilarities(selfie, embeddings)

	// Best calibrated percent per photo, keeping first-seen order for
	// deterministic ties.
	bestByPhoto := map[uuid.UUID]float64{}
	var photoOrder []uuid.UUID
	for i, row := range rows {
		percent := cosineToPercent(float64(scores[i]))
		prev, seen := bestByPhoto[row.PhotoID]
		if !seen {
			photoOrder = append(photoOrder, row.PhotoID)
			bestByPhoto[row.PhotoID] = percent
			continue
		}
		if percent > prev {
			bestByPhoto[row.PhotoID] = percent
		}
	}

	candidates := make([]photoCandidate, 0, len(photoOrder))
	for i, photoID := range photoOrder {
		candidates = append(candidates, photoCandidate{PhotoID: photoID, Percent: bestByPhoto[photoID], order: i})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Percent != candidates[j].Percent {
			return candidates[i].Percent > candidates[j].Percent
		}
		return candidates[i].order < candidates[j].order
	})

	selected := selectWithThreshold(candidates, opts.ThresholdPercent, opts.TopMargin)
	if len(selected) == 0 && len(candidates) > 0 {
		// Adaptive relaxation: drop the threshold by the configured step
		// (never below the floor) and widen the margin.
		result.Relaxed = true
		result.UsedThresholdPercent = math.Max(opts.RelaxMinThreshold, opts.ThresholdPercent-math.Max(0, opts.RelaxDrop))
		selected = selectWithThreshold(candidates, result.UsedThresholdPercent, math.Max(10.0, opts.TopMargin))
	}

	maxResults := opts.MaxResults
	if maxResults < 1 {
		maxResults = 1
	}
	if len(selected) > maxResults {
		selected = selected[:maxResults]
	}

	result.Ranked = make([]services.RankedPhoto, 0, len(selected))
	for i, cand := range selected {
		result.Ranked = append(result.Ranked, services.RankedPhoto{
			PhotoID:      cand.PhotoID,
			ScorePercent: cand.Percent,
			ScoreRatio:   cand.Percent / 100.0,
			Rank:         i + 1,
		})
	}

	logger.Match("rank_photos", "Ranked event photos against selfie", map[string]interface{}{
		"event_id":       eventID.String(),
		"faces":          len(rows),
		"matches":        len(result.Ranked),
		"threshold_used": result.UsedThresholdPercent,
		"relaxed":        result.Relaxed,
	})
	return result, nil
}

func (s *MatchServiceImpl) StoreResults(ctx context.Context, queryID uuid.UUID, ranked []services.RankedPhoto) error {
	results := make([]*models.GuestResult, 0, len(ranked))
	for _, item := range ranked {
		results = append(results, &models.GuestResult{
			QueryID: queryID,
			PhotoID: item.PhotoID,
			Score:   item.ScoreRatio,
			Rank:    item.Rank,
		})
	}
	if err := s.guestRepo.ReplaceResults(ctx, queryID, results); err != nil {
		return fmt.Errorf("failed to store guest results: %w", err)
	}
	return nil
}

type photoCandidate struct {
	PhotoID uuid.UUID
	Percent float64
	order   int
}

// selectWithThreshold keeps candidates at or above threshold, then floors
// the kept set at max(threshold, best - topMargin) so a strong leader
// suppresses marginal tail matches. Candidates must be sorted descending.
func selectWithThreshold(candidates []photoCandidate, threshold, topMargin float64) []photoCandidate {
	var selected []photoCandidate
	for _, cand := range candidates {
		if cand.Percent >= threshold {
			selected = append(selected, cand)
		}
	}
	if len(selected) == 0 {
		return nil
	}
	if topMargin <= 0 {
		return selected
	}
	floor := math.Max(threshold, selected[0].Percent-topMargin)
	kept := selected[:0]
	for _, cand := range selected {
		if cand.Percent >= floor {
			kept = append(kept, cand)
		}
	}
	return kept
}

func cosineToPercent(cosine float64) float64 {
	score := (cosine - cosineMapFloor) / cosineMapSpan * 100.0
	return math.Max(0.0, math.Min(100.0, score))
}

func percentToCosineThreshold(percent float64) float64 {
	clamped := math.Max(1.0, math.Min(100.0, percent))
	return cosineMapFloor + clamped/100.0*cosineMapSpan
}

// batchCosineSimilarities scores the query against every row. Zero-norm
// rows (and a zero-norm query) score 0 rather than NaN.
func batchCosineSimilarities(query []float32, embeddings [][]float32) []float64 {
	scores := make([]float64, len(embeddings))
	var qNorm float64
	for _, v := range query {
		qNorm += float64(v) * float64(v)
	}
	if qNorm <= 0 {
		return scores
	}
	qNorm = math.Sqrt(qNorm)
	for i, row := range embeddings {
		if len(row) != len(query) {
			continue
		}
		var dot, rNorm float64
		for j := range row {
			dot += float64(row[j]) * float64(query[j])
			rNorm += float64(row[j]) * float64(row[j])
		}
		if rNorm <= 0 {
			continue
		}
		scores[i] = dot / (math.Sqrt(rNorm) * qNorm)
	}
	return scores
}
