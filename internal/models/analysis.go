package models

// AnalysisResult is the structured judgment returned by the external
// language-analysis service. Stored verbatim on the essay record once
// processing succeeds.
type AnalysisResult struct {
	Metrics               EssayMetrics   `json:"metrics"`
	Feedback              []FeedbackItem `json:"feedback"`
	VocabularyUsed        []string       `json:"vocabulary_used,omitempty"`
	RecommendedVocabulary []string       `json:"recommended_vocabulary,omitempty"`
	CorrectnessReview     string         `json:"correctness_review,omitempty"`
}

type EssayMetrics struct {
	WordCount       int     `json:"word_count"`
	UniqueWords     int     `json:"unique_words"`
	TypeTokenRatio  float64 `json:"type_token_ratio"`
	NounRatio       float64 `json:"noun_ratio"`
	VerbRatio       float64 `json:"verb_ratio"`
	AdjRatio        float64 `json:"adj_ratio"`
	AdvRatio        float64 `json:"adv_ratio"`
	AvgWordFreqRank float64 `json:"avg_word_freq_rank"`
}

// FeedbackItem is one per-word usage judgment.
type FeedbackItem struct {
	Word    string `json:"word"`
	Correct bool   `json:"correct"`
	Comment string `json:"comment,omitempty"`
}
