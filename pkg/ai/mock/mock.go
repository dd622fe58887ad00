// Package mock provides an offline ai.Generator that answers from the fused
// context without calling any model.
package mock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/ai"
)

// Generator echoes a deterministic answer built from the request. It is used
// for local development and demos.
type Generator struct {
	// ChunkSize is the number of runes per text_chunk. Defaults to 16.
	ChunkSize int
	// Delay is slept between chunks.
	Delay time.Duration
}

// Generate implements ai.Generator.
func (g *Generator) Generate(ctx context.Context, req ai.GenerateRequest) (<-chan ai.Event, error) {
	size := g.ChunkSize
	if size <= 0 {
		size = 16
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = ai.NewID()
	}
	messageID := ai.NewID()
	answer := Answer(req)

	out := make(chan ai.Event, 4)
	go func() {
		defer close(out)

		if !ai.Send(ctx, out, ai.Event{Type: ai.EventMessageStart, MessageID: messageID, ConversationID: conversationID}) {
			return
		}

		runes := []rune(answer)
		for start := 0; start < len(runes); start += size {
			end := min(start+size, len(runes))
			if !ai.Send(ctx, out, ai.Event{Type: ai.EventTextChunk, Text: string(runes[start:end])}) {
				return
			}
			if g.Delay > 0 {
				select {
				case <-time.After(g.Delay):
				case <-ctx.Done():
					return
				}
			}
		}

		ai.Send(ctx, out, ai.Event{Type: ai.EventMessageEnd, MessageID: messageID, ConversationID: conversationID})
	}()

	return out, nil
}

// Answer renders the text the mock generator streams for req.
func Answer(req ai.GenerateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", req.Query)

	kb := strings.TrimSpace(req.KBContext)
	graph := strings.TrimSpace(req.GraphContext)
	if kb == "" && graph == "" {
		b.WriteString("No reference material was found for this question.")
		return b.String()
	}
	if kb != "" {
		fmt.Fprintf(&b, "Reference material (top score %.2f):\n%s\n", req.KBTopScore, kb)
	}
	if graph != "" {
		fmt.Fprintf(&b, "\nRelated facts:\n%s\n", graph)
	}
	return b.String()
}
