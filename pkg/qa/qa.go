package qa

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/common"
)

const (
	// MinSimilarity filters candidates, only strictly greater values are kept.
	MinSimilarity = 0.3
	// HitSimilarity is the similarity at which the top candidate becomes a
	// direct answer.
	HitSimilarity = 0.6
	// MaxCandidates caps the number of candidates per lookup.
	MaxCandidates = 3
	// EvidenceScore is the fixed confidence of every Q/A evidence record, hit
	// or folded. It is not the measured similarity.
	EvidenceScore = 0.5
)

// Candidate is a stored question with its similarity to the query.
type Candidate struct {
	ID         int64
	Question   string
	Answer     string
	Similarity float64
}

// Repository finds stored questions similar to the query, ordered by
// descending similarity.
type Repository interface {
	FindQACandidates(ctx context.Context, query string, minSimilarity float64, limit int) ([]Candidate, error)
}

// Result is the outcome of one lookup.
type Result struct {
	Candidates []Candidate
	IsHit      bool
	Hit        *Candidate
	Evidence   []common.EvidenceRecord
}

// Store is the exact-match answer store.
type Store struct {
	repo Repository
}

// NewStore creates a Store on top of the given repository.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo}
}

// Lookup searches the curated Q/A pairs. The top candidate is a hit iff its
// similarity is at least HitSimilarity and it has an answer; otherwise a top
// candidate with an answer is returned as ordinary evidence. Both carry
// EvidenceScore.
func (s *Store) Lookup(ctx context.Context, query string) (Result, error) {
	candidates, err := s.repo.FindQACandidates(ctx, query, MinSimilarity, MaxCandidates)
	if err != nil {
		return Result{}, fmt.Errorf("find qa candidates: %w", err)
	}

	res := Result{Candidates: candidates}
	if len(candidates) == 0 {
		return res, nil
	}

	top := candidates[0]
	if IsHit(top) {
		res.IsHit = true
		res.Hit = &top
		res.Evidence = []common.EvidenceRecord{{
			Content:      top.Answer,
			SourceType:   common.SourceQA,
			DocumentName: top.Question,
			Score:        EvidenceScore,
		}}
		return res, nil
	}

	if strings.TrimSpace(top.Answer) != "" {
		res.Evidence = []common.EvidenceRecord{{
			Content:      fmt.Sprintf("Q: %s\nA: %s", top.Question, top.Answer),
			SourceType:   common.SourceQA,
			DocumentName: top.Question,
			Score:        EvidenceScore,
		}}
	}

	return res, nil
}

// IsHit reports whether a candidate qualifies as a direct answer.
func IsHit(c Candidate) bool {
	return c.Similarity >= HitSimilarity && strings.TrimSpace(c.Answer) != ""
}
