// Package remote implements ai.Generator against a hosted chat application
// that streams its answer as server-sent events.
package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/ai"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/logger"
)

// Client streams answers from the generation service.
//
// A Client should be created using NewClient.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClientParams configures NewClient.
type NewClientParams struct {
	BaseURL string
	ApiKey  string
	// ConnectTimeout bounds the time until response headers arrive. The
	// stream itself is bounded by the request context only.
	ConnectTimeout time.Duration
}

// NewClient creates a new remote generation client.
func NewClient(params NewClientParams) *Client {
	timeout := params.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(params.BaseURL, "/"),
		apiKey:  params.ApiKey,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: timeout,
			},
		},
	}
}

type chatRequest struct {
	Inputs         chatInputs `json:"inputs"`
	Query          string     `json:"query"`
	ResponseMode   string     `json:"response_mode"`
	ConversationID string     `json:"conversation_id,omitempty"`
	User           string     `json:"user"`
}

type chatInputs struct {
	KBContext           string `json:"kb_context"`
	GraphContext        string `json:"graph_context"`
	KBTopScore          string `json:"kb_top_score"`
	TargetCollectionIDs string `json:"target_collection_ids"`
}

// streamEvent is the union of all payloads the service sends.
type streamEvent struct {
	Event          string `json:"event"`
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Answer         string `json:"answer"`
	Message        string `json:"message"`
	Metadata       struct {
		RetrieverResources []map[string]any `json:"retriever_resources"`
	} `json:"metadata"`
}

// Generate implements ai.Generator.
func (c *Client) Generate(ctx context.Context, req ai.GenerateRequest) (<-chan ai.Event, error) {
	user := req.UserID
	if user == "" {
		user = "anonymous"
	}
	body, err := json.Marshal(chatRequest{
		Inputs: chatInputs{
			KBContext:           req.KBContext,
			GraphContext:        req.GraphContext,
			KBTopScore:          strconv.FormatFloat(req.KBTopScore, 'f', 4, 64),
			TargetCollectionIDs: strings.Join(req.CollectionIDs, ","),
		},
		Query:          req.Query,
		ResponseMode:   "streaming",
		ConversationID: req.ConversationID,
		User:           user,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat-messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("generation service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	out := make(chan ai.Event, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		if err := relay(ctx, resp.Body, out); err != nil && ctx.Err() == nil {
			logger.Warn("[Remote] Stream aborted", "err", err)
			ai.Send(ctx, out, ai.Event{Type: ai.EventError, Message: err.Error()})
		}
	}()

	return out, nil
}

// relay parses the SSE body and forwards translated events until message_end
// or error. A stream that ends without either is reported as an error.
func relay(ctx context.Context, body io.Reader, out chan<- ai.Event) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	started := false
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("decode stream event: %w", err)
		}

		if !started && ev.MessageID != "" {
			started = true
			if !ai.Send(ctx, out, ai.Event{
				Type:           ai.EventMessageStart,
				MessageID:      ev.MessageID,
				ConversationID: ev.ConversationID,
			}) {
				return ctx.Err()
			}
		}

		var next ai.Event
		switch ev.Event {
		case "message", "agent_message", "text_chunk":
			if ev.Answer == "" {
				continue
			}
			next = ai.Event{Type: ai.EventTextChunk, Text: ev.Answer}
		case "message_replace":
			next = ai.Event{Type: ai.EventMessageReplace, Text: ev.Answer}
		case "message_end":
			return sendOrErr(ctx, out, ai.Event{
				Type:           ai.EventMessageEnd,
				MessageID:      ev.MessageID,
				ConversationID: ev.ConversationID,
				Citations:      ev.Metadata.RetrieverResources,
			})
		case "error":
			return sendOrErr(ctx, out, ai.Event{Type: ai.EventError, Message: ev.Message})
		default:
			continue
		}

		if !ai.Send(ctx, out, next) {
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

func sendOrErr(ctx context.Context, out chan<- ai.Event, ev ai.Event) error {
	if !ai.Send(ctx, out, ev) {
		return ctx.Err()
	}
	return nil
}
