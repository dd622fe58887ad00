package mock

import (
	"context"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/ai"
)

func TestGenerator_StreamsWholeAnswer(t *testing.T) {
	req := ai.GenerateRequest{Query: "公文格式", KBContext: "[1] source: GB/T 9704", ConversationID: "conv-1"}
	ch, err := (&Generator{ChunkSize: 5}).Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var (
		types []ai.EventType
		text  strings.Builder
	)
	for ev := range ch {
		types = append(types, ev.Type)
		if ev.Type == ai.EventTextChunk {
			text.WriteString(ev.Text)
		}
		if ev.Type == ai.EventMessageStart && ev.ConversationID != "conv-1" {
			t.Fatalf("conversation handle not passed through: %q", ev.ConversationID)
		}
	}

	if types[0] != ai.EventMessageStart || types[len(types)-1] != ai.EventMessageEnd {
		t.Fatalf("unexpected event order: %v", types)
	}
	if text.String() != Answer(req) {
		t.Fatalf("streamed %q, want %q", text.String(), Answer(req))
	}
}

func TestGenerator_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch, err := (&Generator{}).Generate(ctx, ai.GenerateRequest{Query: "x"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	for range ch {
	}
}
