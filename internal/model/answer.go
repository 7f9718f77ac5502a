package model

import "time"

// AnswerSource identifies one retrieved chunk that grounded a response.
type AnswerSource struct {
	ChunkID     string  `json:"chunk_id"`
	DocumentID  string  `json:"document_id"`
	ChunkIndex  int     `json:"chunk_index"`
	SourceTitle string  `json:"source_title"`
	Score       float32 `json:"score"`
}

// Answer is the result of one orchestrated request/response cycle.
type Answer struct {
	Text           string         `json:"text"`
	Sources        []AnswerSource `json:"sources"`
	Confidence     float32        `json:"confidence"`
	Cached         bool           `json:"cached"`
	Degraded       bool           `json:"degraded,omitempty"`
	ProcessingTime time.Duration  `json:"processing_time_ms"`
}

// CachedAnswer is the payload stored in the response cache. DocumentIDs is the
// reverse-index tag set used for invalidate-by-document.
type CachedAnswer struct {
	Text        string         `json:"text"`
	Sources     []AnswerSource `json:"sources"`
	Confidence  float32        `json:"confidence"`
	DocumentIDs []string       `json:"document_ids"`
}
