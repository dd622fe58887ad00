// Package dify implements retrieval.Searcher against the knowledge base API of
// the document retrieval service.
package dify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/retrieval"
)

// Client talks to the dataset endpoints of the retrieval service.
//
// A Client should be created using NewClient.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	namesLock sync.RWMutex
	names     map[string]string
}

// NewClientParams configures NewClient.
type NewClientParams struct {
	BaseURL string
	ApiKey  string
	Timeout time.Duration
}

// NewClient creates a new retrieval service client.
func NewClient(params NewClientParams) *Client {
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(params.BaseURL, "/"),
		apiKey:     params.ApiKey,
		httpClient: &http.Client{Timeout: timeout},
		names:      make(map[string]string),
	}
}

type retrieveRequest struct {
	Query          string         `json:"query"`
	RetrievalModel retrievalModel `json:"retrieval_model"`
}

type retrievalModel struct {
	SearchMethod          string  `json:"search_method"`
	RerankingEnable       bool    `json:"reranking_enable"`
	TopK                  int     `json:"top_k"`
	ScoreThresholdEnabled bool    `json:"score_threshold_enabled"`
	ScoreThreshold        float64 `json:"score_threshold"`
}

type retrieveResponse struct {
	Records []struct {
		Segment struct {
			ID         string `json:"id"`
			Position   int    `json:"position"`
			DocumentID string `json:"document_id"`
			Content    string `json:"content"`
			Document   struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"document"`
		} `json:"segment"`
		Score float64 `json:"score"`
	} `json:"records"`
}

type datasetResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Search runs a semantic search in one dataset.
func (c *Client) Search(
	ctx context.Context,
	collectionID string,
	query string,
	opts retrieval.SearchOptions,
) ([]retrieval.Segment, error) {
	body := retrieveRequest{
		Query: query,
		RetrievalModel: retrievalModel{
			SearchMethod:          "semantic_search",
			TopK:                  opts.TopK,
			ScoreThresholdEnabled: opts.ScoreThreshold > 0,
			ScoreThreshold:        opts.ScoreThreshold,
		},
	}

	var resp retrieveResponse
	path := "/datasets/" + url.PathEscape(collectionID) + "/retrieve"
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}

	segments := make([]retrieval.Segment, 0, len(resp.Records))
	for _, r := range resp.Records {
		docID := r.Segment.DocumentID
		if docID == "" {
			docID = r.Segment.Document.ID
		}
		segments = append(segments, retrieval.Segment{
			Content:      r.Segment.Content,
			DocumentName: r.Segment.Document.Name,
			DocumentID:   docID,
			DatasetID:    collectionID,
			SegmentID:    r.Segment.ID,
			Score:        r.Score,
			Position:     r.Segment.Position,
		})
	}
	return segments, nil
}

// CollectionName returns the display name of a dataset. Names are cached for
// the lifetime of the client.
func (c *Client) CollectionName(ctx context.Context, collectionID string) (string, error) {
	c.namesLock.RLock()
	name, ok := c.names[collectionID]
	c.namesLock.RUnlock()
	if ok {
		return name, nil
	}

	var resp datasetResponse
	if err := c.do(ctx, http.MethodGet, "/datasets/"+url.PathEscape(collectionID), nil, &resp); err != nil {
		return "", err
	}
	name = resp.Name
	if name == "" {
		name = collectionID
	}

	c.namesLock.Lock()
	c.names[collectionID] = name
	c.namesLock.Unlock()

	return name, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
