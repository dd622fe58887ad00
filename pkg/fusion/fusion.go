package fusion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/ai"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/qa"
)

// FailureNotice is streamed as the whole answer when the backend fails before
// producing text and no standard answer is available.
const FailureNotice = "The answer service is temporarily unavailable. Please try again later."

var (
	// ErrBackend marks a generation backend failure.
	ErrBackend = errors.New("generation backend failed")
	// ErrTimeout is the backend failure cause when the generation budget ran
	// out.
	ErrTimeout = errors.New("generation timed out")
)

type generateOptions struct {
	timeout time.Duration
}

// Option configures Generate.
type Option func(*generateOptions)

// WithTimeout bounds the backend call. When it expires the run degrades like
// any other backend failure instead of aborting.
func WithTimeout(d time.Duration) Option {
	return func(o *generateOptions) {
		o.timeout = d
	}
}

// Inputs are the outputs of the retrieval stages.
type Inputs struct {
	Query          string
	UserID         string
	ConversationID string
	CollectionIDs  []string

	QA           qa.Result
	KBContext    string
	KBTopScore   float64
	GraphContext string
}

// BuildRequest assembles the generation request. A Q/A hit is prepended to the
// knowledge base context as a labelled standard answer block; folded Q/A
// evidence is appended as an ordinary reference.
func BuildRequest(in Inputs) ai.GenerateRequest {
	var parts []string
	if in.QA.IsHit && in.QA.Hit != nil {
		parts = append(parts, fmt.Sprintf("Standard answer (question: %s):\n%s", in.QA.Hit.Question, in.QA.Hit.Answer))
	}
	if kb := strings.TrimSpace(in.KBContext); kb != "" {
		parts = append(parts, kb)
	}
	if !in.QA.IsHit {
		for _, ev := range in.QA.Evidence {
			parts = append(parts, "Related question:\n"+ev.Content)
		}
	}

	return ai.GenerateRequest{
		Query:          in.Query,
		UserID:         in.UserID,
		ConversationID: in.ConversationID,
		CollectionIDs:  in.CollectionIDs,
		KBContext:      strings.Join(parts, "\n\n"),
		GraphContext:   in.GraphContext,
		KBTopScore:     in.KBTopScore,
	}
}

// Outcome is the final state of one generation.
type Outcome struct {
	MessageID      string
	ConversationID string
	Text           string
	Chunks         int
	// Fallback is set when the answer was replaced by the standard answer or
	// the failure notice.
	Fallback bool
	// Err is the backend failure, if any. It wraps ErrBackend.
	Err error
}

// Handler receives the events relayed to the caller. Returning an error stops
// the generation; the error is returned by Generate.
type Handler func(ev ai.Event) error

// Generate runs the backend and relays its events to handle.
//
// message_replace overwrites the tracked text and citations attached to
// message_end are dropped. If the backend fails before any text was produced,
// the stored answer of a Q/A hit, or FailureNotice, is emitted as the whole
// response. If it fails later, an error event is relayed and the partial text
// is kept. The returned error is non-nil only if handle failed or ctx ended.
func Generate(
	ctx context.Context,
	gen ai.Generator,
	req ai.GenerateRequest,
	hit *qa.Candidate,
	handle Handler,
	opts ...Option,
) (Outcome, error) {
	var o generateOptions
	for _, opt := range opts {
		opt(&o)
	}

	// The backend is released on return even if it keeps streaming after
	// message_end.
	var (
		genCtx context.Context
		cancel context.CancelFunc
	)
	if o.timeout > 0 {
		genCtx, cancel = context.WithTimeout(ctx, o.timeout)
	} else {
		genCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	out := Outcome{ConversationID: req.ConversationID}
	var text strings.Builder

	started := false
	start := func(messageID, conversationID string) error {
		if started {
			return nil
		}
		started = true
		if messageID == "" {
			messageID = ai.NewID()
		}
		if conversationID == "" {
			conversationID = out.ConversationID
		}
		if conversationID == "" {
			conversationID = ai.NewID()
		}
		out.MessageID = messageID
		out.ConversationID = conversationID
		return handle(ai.Event{Type: ai.EventMessageStart, MessageID: messageID, ConversationID: conversationID})
	}

	fail := func(cause error) (Outcome, error) {
		out.Err = fmt.Errorf("%w: %w", ErrBackend, cause)
		if err := start("", ""); err != nil {
			return out, err
		}
		if text.Len() > 0 {
			out.Text = text.String()
			return out, handle(ai.Event{Type: ai.EventError, Message: cause.Error()})
		}

		fallback := FailureNotice
		if hit != nil && strings.TrimSpace(hit.Answer) != "" {
			fallback = hit.Answer
		}
		out.Fallback = true
		out.Text = fallback
		out.Chunks = 1
		return out, handle(ai.Event{Type: ai.EventTextChunk, Text: fallback})
	}

	events, err := gen.Generate(genCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if genCtx.Err() != nil {
			return fail(ErrTimeout)
		}
		return fail(err)
	}

	for {
		var (
			ev ai.Event
			ok bool
		)
		select {
		case ev, ok = <-events:
		case <-genCtx.Done():
			if ctx.Err() != nil {
				out.Text = text.String()
				return out, ctx.Err()
			}
			return fail(ErrTimeout)
		}
		if !ok {
			if ctx.Err() != nil {
				out.Text = text.String()
				return out, ctx.Err()
			}
			if genCtx.Err() != nil {
				return fail(ErrTimeout)
			}
			return fail(errors.New("stream closed before message_end"))
		}

		switch ev.Type {
		case ai.EventMessageStart:
			if err := start(ev.MessageID, ev.ConversationID); err != nil {
				return out, err
			}
		case ai.EventTextChunk:
			if ev.Text == "" {
				continue
			}
			if err := start("", ""); err != nil {
				return out, err
			}
			text.WriteString(ev.Text)
			out.Chunks++
			if err := handle(ai.Event{Type: ai.EventTextChunk, Text: ev.Text}); err != nil {
				return out, err
			}
		case ai.EventMessageReplace:
			if err := start("", ""); err != nil {
				return out, err
			}
			text.Reset()
			text.WriteString(ev.Text)
			if err := handle(ai.Event{Type: ai.EventMessageReplace, Text: ev.Text}); err != nil {
				return out, err
			}
		case ai.EventMessageEnd:
			if err := start(ev.MessageID, ev.ConversationID); err != nil {
				return out, err
			}
			if ev.ConversationID != "" {
				out.ConversationID = ev.ConversationID
			}
			out.Text = text.String()
			if out.Text == "" {
				return fail(errors.New("backend returned an empty answer"))
			}
			return out, nil
		case ai.EventError:
			msg := ev.Message
			if msg == "" {
				msg = "unknown backend error"
			}
			return fail(errors.New(msg))
		}
	}
}
