package pgx

import (
	"context"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/qa"

	pgxv5 "github.com/jackc/pgx/v5"
)

// FindQACandidates ranks the curated questions by trigram similarity to the
// query. Requires the pg_trgm extension.
func (s *GraphDBStorage) FindQACandidates(
	ctx context.Context,
	query string,
	minSimilarity float64,
	limit int,
) ([]qa.Candidate, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, question, answer, similarity(question, $1)::float8 AS sim
		FROM qa_pairs
		WHERE active AND similarity(question, $1) > $2
		ORDER BY sim DESC, id
		LIMIT $3
	`, query, minSimilarity, limit)
	if err != nil {
		return nil, err
	}

	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (qa.Candidate, error) {
		var c qa.Candidate
		err := row.Scan(&c.ID, &c.Question, &c.Answer, &c.Similarity)
		return c, err
	})
}
