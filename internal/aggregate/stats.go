// Package aggregate recomputes class and student statistics from processed
// essays. Aggregates are always rebuilt from scratch, so reprocessing the
// same completion event any number of times lands on the same numbers.
package aggregate

import (
	"encoding/json"
	"math"

	"essaypipe/internal/models"
)

// resultView decodes a stored analysis result with metric presence intact:
// each average runs over the essays that actually report that metric, so a
// result missing a field never drags the mean toward zero.
type resultView struct {
	Metrics struct {
		WordCount       *float64 `json:"word_count"`
		UniqueWords     *float64 `json:"unique_words"`
		TypeTokenRatio  *float64 `json:"type_token_ratio"`
		AvgWordFreqRank *float64 `json:"avg_word_freq_rank"`
	} `json:"metrics"`
	Feedback []models.FeedbackItem `json:"feedback"`
}

// ComputeClassStats folds the analysis results of one assignment's processed
// essays into assignment-level aggregates. Essays without a stored result are
// ignored.
func ComputeClassStats(essays []models.Essay) models.ClassStats {
	var (
		ttrSum, ttrCount           float64
		freqRankSum, freqRankCount float64
		correct, incorrect         int
		counted                    int
	)

	for i := range essays {
		result, ok := decodeResult(&essays[i])
		if !ok {
			continue
		}
		counted++

		if result.Metrics.TypeTokenRatio != nil {
			ttrSum += *result.Metrics.TypeTokenRatio
			ttrCount++
		}
		if result.Metrics.AvgWordFreqRank != nil {
			freqRankSum += *result.Metrics.AvgWordFreqRank
			freqRankCount++
		}

		for _, item := range result.Feedback {
			if item.Correct {
				correct++
			} else {
				incorrect++
			}
		}
	}

	stats := models.ClassStats{EssayCount: counted}
	if ttrCount > 0 {
		stats.AvgTTR = roundTo(ttrSum/ttrCount, 3)
	}
	if freqRankCount > 0 {
		stats.AvgFreqRank = roundTo(freqRankSum/freqRankCount, 1)
	}
	if total := correct + incorrect; total > 0 {
		stats.Correctness = models.CorrectnessRatio{
			Correct:   float64(correct) / float64(total),
			Incorrect: float64(incorrect) / float64(total),
		}
	}

	return stats
}

// ComputeStudentStats folds one student's processed essays into rolling
// averages plus a trend. Essays must arrive ordered oldest first; the trend
// compares the mean type-token ratio of the last three essays against the
// three before them, with a 5% band counting as stable.
func ComputeStudentStats(essays []models.Essay) models.StudentStats {
	var (
		ttrValues                      []float64
		wordCountSum, wordCountN       float64
		uniqueWordsSum, uniqueWordsN   float64
		freqRankSum, freqRankN         float64
		counted                        int
		lastEssayDate                  *models.Essay
	)

	for i := range essays {
		essay := &essays[i]
		result, ok := decodeResult(essay)
		if !ok {
			continue
		}
		counted++

		if result.Metrics.TypeTokenRatio != nil {
			ttrValues = append(ttrValues, *result.Metrics.TypeTokenRatio)
		}
		if result.Metrics.WordCount != nil {
			wordCountSum += *result.Metrics.WordCount
			wordCountN++
		}
		if result.Metrics.UniqueWords != nil {
			uniqueWordsSum += *result.Metrics.UniqueWords
			uniqueWordsN++
		}
		if result.Metrics.AvgWordFreqRank != nil {
			freqRankSum += *result.Metrics.AvgWordFreqRank
			freqRankN++
		}

		if lastEssayDate == nil || essay.CreatedAt.After(lastEssayDate.CreatedAt) {
			lastEssayDate = essay
		}
	}

	stats := models.StudentStats{
		TotalEssays: counted,
		Trend:       trendOf(ttrValues),
	}
	if n := float64(len(ttrValues)); n > 0 {
		stats.AvgTTR = roundTo(sum(ttrValues)/n, 3)
	}
	if wordCountN > 0 {
		stats.AvgWordCount = roundTo(wordCountSum/wordCountN, 1)
	}
	if uniqueWordsN > 0 {
		stats.AvgUniqueWords = roundTo(uniqueWordsSum/uniqueWordsN, 1)
	}
	if freqRankN > 0 {
		stats.AvgFreqRank = roundTo(freqRankSum/freqRankN, 1)
	}
	if lastEssayDate != nil {
		date := lastEssayDate.CreatedAt
		stats.LastEssayDate = &date
	}

	return stats
}

// trendOf needs at least six data points; fewer reads as stable.
func trendOf(ttrValues []float64) models.Trend {
	if len(ttrValues) < 6 {
		return models.TrendStable
	}

	n := len(ttrValues)
	recent := sum(ttrValues[n-3:]) / 3
	previous := sum(ttrValues[n-6:n-3]) / 3

	switch {
	case recent > previous*1.05:
		return models.TrendImproving
	case recent < previous*0.95:
		return models.TrendDeclining
	default:
		return models.TrendStable
	}
}

func decodeResult(essay *models.Essay) (*resultView, bool) {
	if len(essay.Result) == 0 {
		return nil, false
	}
	var result resultView
	if err := json.Unmarshal(essay.Result, &result); err != nil {
		return nil, false
	}
	return &result, true
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

func roundTo(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
