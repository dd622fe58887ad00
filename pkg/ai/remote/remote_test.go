package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/ai"
)

func collect(t *testing.T, ch <-chan ai.Event) []ai.Event {
	t.Helper()
	var events []ai.Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestGenerate_TranslatesStream(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat-messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"event\":\"message\",\"message_id\":\"m1\",\"conversation_id\":\"c1\",\"answer\":\"公文\"}\n\n")
		fmt.Fprint(w, "event: ping\n\n")
		fmt.Fprint(w, "data: {\"event\":\"message\",\"message_id\":\"m1\",\"conversation_id\":\"c1\",\"answer\":\"种类\"}\n\n")
		fmt.Fprint(w, "data: {\"event\":\"message_replace\",\"message_id\":\"m1\",\"conversation_id\":\"c1\",\"answer\":\"公文共十五种\"}\n\n")
		fmt.Fprint(w, "data: {\"event\":\"message_end\",\"message_id\":\"m1\",\"conversation_id\":\"c1\",\"metadata\":{\"retriever_resources\":[{\"position\":1}]}}\n\n")
	}))
	defer srv.Close()

	client := NewClient(NewClientParams{BaseURL: srv.URL + "/", ApiKey: "secret"})
	ch, err := client.Generate(context.Background(), ai.GenerateRequest{
		Query:         "公文种类",
		UserID:        "42",
		CollectionIDs: []string{"a", "b"},
		KBContext:     "[1] ...",
		KBTopScore:    0.81,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	events := collect(t, ch)

	wantTypes := []ai.EventType{
		ai.EventMessageStart,
		ai.EventTextChunk,
		ai.EventTextChunk,
		ai.EventMessageReplace,
		ai.EventMessageEnd,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(wantTypes), events)
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Fatalf("event %d type = %s, want %s", i, events[i].Type, want)
		}
	}
	if events[0].MessageID != "m1" || events[0].ConversationID != "c1" {
		t.Fatalf("unexpected message_start: %+v", events[0])
	}
	if events[3].Text != "公文共十五种" {
		t.Fatalf("unexpected replace text %q", events[3].Text)
	}
	if len(events[4].Citations) != 1 {
		t.Fatalf("expected backend citations on message_end, got %+v", events[4].Citations)
	}

	if got.User != "42" || got.ResponseMode != "streaming" || got.Inputs.TargetCollectionIDs != "a,b" {
		t.Fatalf("unexpected request body: %+v", got)
	}
}

func TestGenerate_ErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"event\":\"message\",\"message_id\":\"m1\",\"conversation_id\":\"c1\",\"answer\":\"部分\"}\n\n")
		fmt.Fprint(w, "data: {\"event\":\"error\",\"message\":\"model overloaded\"}\n\n")
	}))
	defer srv.Close()

	ch, err := NewClient(NewClientParams{BaseURL: srv.URL}).Generate(context.Background(), ai.GenerateRequest{Query: "x"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	events := collect(t, ch)
	last := events[len(events)-1]
	if last.Type != ai.EventError || last.Message != "model overloaded" {
		t.Fatalf("expected error event, got %+v", last)
	}
}

func TestGenerate_TruncatedStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"event\":\"message\",\"message_id\":\"m1\",\"answer\":\"部分\"}\n\n")
	}))
	defer srv.Close()

	ch, err := NewClient(NewClientParams{BaseURL: srv.URL}).Generate(context.Background(), ai.GenerateRequest{Query: "x"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	events := collect(t, ch)
	if last := events[len(events)-1]; last.Type != ai.EventError {
		t.Fatalf("truncated stream must end with error, got %+v", last)
	}
}

func TestGenerate_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewClient(NewClientParams{BaseURL: srv.URL}).Generate(context.Background(), ai.GenerateRequest{Query: "x"}); err == nil {
		t.Fatal("expected error for non 200 response")
	}
}
