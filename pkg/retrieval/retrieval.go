package retrieval

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/common"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const (
	// TopK is the number of segments requested per collection.
	TopK = 5
	// ScoreThreshold drops segments below this relevance.
	ScoreThreshold = 0.1
	// MaxResults caps the merged result over all collections.
	MaxResults = 8
	// DefaultParallel is the fan-out limit when none is configured.
	DefaultParallel = 4
)

// Segment is one search hit returned by the document retrieval service.
type Segment struct {
	Content      string
	DocumentName string
	DocumentID   string
	DatasetID    string
	SegmentID    string
	Score        float64
	Position     int
}

// SearchOptions are passed to every collection search.
type SearchOptions struct {
	TopK           int
	ScoreThreshold float64
}

// Searcher queries one document collection.
type Searcher interface {
	Search(ctx context.Context, collectionID string, query string, opts SearchOptions) ([]Segment, error)
	CollectionName(ctx context.Context, collectionID string) (string, error)
}

// CollectionError is the failure of a single collection.
type CollectionError struct {
	CollectionID string
	Err          error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collection %s: %v", e.CollectionID, e.Err)
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

// Result is the merged evidence of one retrieval.
//
// Records has at most MaxResults entries and is sorted by descending score.
// Skipped is set when no collection was configured, which differs from a run
// that found nothing.
type Result struct {
	Records     []common.EvidenceRecord
	Citations   []common.Citation
	ContextText string
	TopScore    float64
	Skipped     bool
	Searched    int
	Failed      []CollectionError
}

// Retriever fans a query out over several collections.
//
// A Retriever should be created using NewRetriever.
type Retriever struct {
	searcher Searcher
	parallel int
}

// NewRetriever creates a Retriever issuing at most parallel searches at once.
func NewRetriever(searcher Searcher, parallel int) *Retriever {
	if parallel <= 0 {
		parallel = DefaultParallel
	}
	return &Retriever{searcher: searcher, parallel: parallel}
}

// Retrieve searches every collection and merges the results.
//
// Collection failures are isolated: a failing collection contributes no
// records and is listed in Result.Failed. An error is returned only when
// every collection failed.
func (r *Retriever) Retrieve(ctx context.Context, query string, collectionIDs []string) (Result, error) {
	ids := dedupe(collectionIDs)
	if len(ids) == 0 {
		return Result{Skipped: true}, nil
	}

	perCollection := make([][]common.EvidenceRecord, len(ids))
	failures := make([]error, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for i, id := range ids {
		g.Go(func() error {
			records, err := r.searchCollection(gctx, id, query)
			if err != nil {
				logger.Warn("[Retrieval] Collection search failed", "collection", id, "err", err)
				failures[i] = err
				return nil
			}
			perCollection[i] = records
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Searched: len(ids)}
	var merged []common.EvidenceRecord
	for i, records := range perCollection {
		if failures[i] != nil {
			res.Failed = append(res.Failed, CollectionError{CollectionID: ids[i], Err: failures[i]})
			continue
		}
		merged = append(merged, records...)
	}

	res.Records = Merge(merged, MaxResults)
	res.ContextText = BuildContext(res.Records)
	res.Citations = make([]common.Citation, 0, len(res.Records))
	for _, rec := range res.Records {
		res.Citations = append(res.Citations, rec.ToCitation())
	}
	if len(res.Records) > 0 {
		res.TopScore = res.Records[0].Score
	}

	if len(res.Failed) == len(ids) {
		errs := make([]error, 0, len(res.Failed))
		for i := range res.Failed {
			errs = append(errs, &res.Failed[i])
		}
		return res, errors.Join(errs...)
	}

	return res, nil
}

func (r *Retriever) searchCollection(ctx context.Context, collectionID, query string) ([]common.EvidenceRecord, error) {
	segments, err := r.searcher.Search(ctx, collectionID, query, SearchOptions{
		TopK:           TopK,
		ScoreThreshold: ScoreThreshold,
	})
	if err != nil {
		return nil, err
	}

	name, err := r.searcher.CollectionName(ctx, collectionID)
	if err != nil {
		logger.Debug("[Retrieval] Could not resolve collection name", "collection", collectionID, "err", err)
		name = collectionID
	}

	records := make([]common.EvidenceRecord, 0, len(segments))
	for _, s := range segments {
		records = append(records, common.EvidenceRecord{
			Content:        s.Content,
			SourceType:     common.SourceKB,
			DocumentName:   s.DocumentName,
			Score:          s.Score,
			SegmentID:      s.SegmentID,
			Position:       s.Position,
			CollectionID:   collectionID,
			CollectionName: name,
		})
	}
	return records, nil
}

// Merge stable sorts records by descending score and keeps the first limit.
// Records with equal scores keep their input order.
func Merge(records []common.EvidenceRecord, limit int) []common.EvidenceRecord {
	out := slices.Clone(records)
	slices.SortStableFunc(out, func(a, b common.EvidenceRecord) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// BuildContext renders records as a numbered reference block, one entry per
// record starting at [1].
func BuildContext(records []common.EvidenceRecord) string {
	var b strings.Builder
	for i, rec := range records {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] source: %s (collection: %s, score: %.2f)\n%s",
			i+1, rec.DocumentName, rec.CollectionName, rec.Score, rec.Content)
	}
	return b.String()
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
